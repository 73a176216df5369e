// Package dbi implements the wire codec for the DBI title-install protocol:
// a 16-byte command header, a variable-length file-range request body, and
// the LIST response body format.
package dbi

import (
	"encoding/binary"
	"fmt"
)

// Command types carried in a header's cmd_type field.
const (
	CmdTypeRequest  uint32 = 0
	CmdTypeResponse uint32 = 1
	CmdTypeAck      uint32 = 2
)

// Command IDs carried in a header's cmd_id field.
const (
	CmdExit      uint32 = 0
	CmdListOld   uint32 = 1
	CmdFileRange uint32 = 2
	CmdList      uint32 = 3
)

// Magic is the fixed 4-byte literal that begins every command header.
var Magic = [4]byte{'D', 'B', 'I', '0'}

// HeaderSize is the fixed, on-wire size of a CommandHeader.
const HeaderSize = 16

// FramingError reports a malformed command header or request body.
type FramingError struct {
	Reason string
}

func (e *FramingError) Error() string {
	return fmt.Sprintf("dbi: framing error: %s", e.Reason)
}

// CommandHeader is the 16-byte little-endian record that begins every
// transaction: 4-byte magic, cmd_type, cmd_id, data_size.
type CommandHeader struct {
	CmdType  uint32
	CmdID    uint32
	DataSize uint32
}

// Encode serializes h into a 16-byte buffer.
func (h CommandHeader) Encode() []byte {
	buf := make([]byte, HeaderSize)
	copy(buf[0:4], Magic[:])
	binary.LittleEndian.PutUint32(buf[4:8], h.CmdType)
	binary.LittleEndian.PutUint32(buf[8:12], h.CmdID)
	binary.LittleEndian.PutUint32(buf[12:16], h.DataSize)
	return buf
}

// DecodeHeader parses a CommandHeader from buf. buf must be at least
// HeaderSize bytes and begin with the literal magic; any other shape is a
// FramingError.
func DecodeHeader(buf []byte) (CommandHeader, error) {
	if len(buf) < HeaderSize {
		return CommandHeader{}, &FramingError{Reason: fmt.Sprintf("header is %d bytes, want at least %d", len(buf), HeaderSize)}
	}
	if buf[0] != Magic[0] || buf[1] != Magic[1] || buf[2] != Magic[2] || buf[3] != Magic[3] {
		return CommandHeader{}, &FramingError{Reason: fmt.Sprintf("bad magic %q", buf[0:4])}
	}
	return CommandHeader{
		CmdType:  binary.LittleEndian.Uint32(buf[4:8]),
		CmdID:    binary.LittleEndian.Uint32(buf[8:12]),
		DataSize: binary.LittleEndian.Uint32(buf[12:16]),
	}, nil
}

// implausibleOffsetThreshold gates the range_offset reinterpretation quirk:
// reference clients occasionally send an offset whose high bytes are
// garbage rather than zero. Reproduced exactly from the original behavior.
const implausibleOffsetThreshold = 100 * 1024 * 1024 * 1024

// FileRangeRequest is the variable-length body of a FILE_RANGE command.
type FileRangeRequest struct {
	RangeSize   uint32
	RangeOffset uint64
	Name        string
}

// DecodeFileRangeRequest parses buf as a file-range request body: a 16-byte
// prefix (range_size, range_offset, nsp_name_len) followed by nsp_name_len
// bytes of UTF-8 filename.
//
// If the parsed range_offset exceeds implausibleOffsetThreshold, its low 4
// bytes are reinterpreted as a u32 and used instead of the full u64 value.
func DecodeFileRangeRequest(buf []byte) (FileRangeRequest, error) {
	if len(buf) < HeaderSize {
		return FileRangeRequest{}, &FramingError{Reason: fmt.Sprintf("file-range body is %d bytes, want at least %d", len(buf), HeaderSize)}
	}

	rangeSize := binary.LittleEndian.Uint32(buf[0:4])
	rangeOffset := binary.LittleEndian.Uint64(buf[4:12])
	if rangeOffset > implausibleOffsetThreshold {
		rangeOffset = uint64(binary.LittleEndian.Uint32(buf[4:8]))
	}
	nameLen := binary.LittleEndian.Uint32(buf[12:16])

	if len(buf) < HeaderSize+int(nameLen) {
		return FileRangeRequest{}, &FramingError{Reason: fmt.Sprintf("filename length %d exceeds available data (%d bytes)", nameLen, len(buf)-HeaderSize)}
	}

	return FileRangeRequest{
		RangeSize:   rangeSize,
		RangeOffset: rangeOffset,
		Name:        string(buf[HeaderSize : HeaderSize+int(nameLen)]),
	}, nil
}
