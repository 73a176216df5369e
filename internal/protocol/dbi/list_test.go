package dbi

import (
	"testing"

	"github.com/dbihost/dbihost/pkg/registry"
	"github.com/stretchr/testify/assert"
)

func TestEncodeListBody_FormatsRecords(t *testing.T) {
	entries := []registry.Entry{
		{Name: "a.nsp", Size: 100},
		{Name: "b.nsp", Size: 200},
	}

	body := EncodeListBody(entries)
	assert.Equal(t, "a.nsp|100\nb.nsp|200\n", string(body))
}

func TestEncodeListBody_Empty(t *testing.T) {
	body := EncodeListBody(nil)
	assert.Empty(t, body)
}
