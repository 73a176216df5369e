package dbi

import (
	"fmt"
	"strings"

	"github.com/dbihost/dbihost/pkg/registry"
)

// listDelimiter separates a name from its size within one LIST record;
// listTerminator ends each record. Defined once here so the server and any
// future client share the exact same framing.
const (
	listDelimiter  = '|'
	listTerminator = '\n'
)

// EncodeListBody builds the LIST response body from a registry snapshot:
// one "<name>|<size>\n" record per entry, in the order given.
func EncodeListBody(entries []registry.Entry) []byte {
	var sb strings.Builder
	for _, e := range entries {
		sb.WriteString(e.Name)
		sb.WriteByte(listDelimiter)
		fmt.Fprintf(&sb, "%d", e.Size)
		sb.WriteByte(listTerminator)
	}
	return []byte(sb.String())
}
