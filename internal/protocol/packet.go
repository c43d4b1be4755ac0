package protocol

import (
	"bytes"
	"fmt"
)

// Magic identifies which of the three wire protocols a Packet belongs to.
type Magic int

const (
	MagicUnknown Magic = iota
	MagicReq
	MagicRes
	MagicText
)

func (m Magic) String() string {
	switch m {
	case MagicReq:
		return "REQ"
	case MagicRes:
		return "RES"
	case MagicText:
		return "TEXT"
	default:
		return "UNKNOWN"
	}
}

var (
	reqHeader = [4]byte{0, 'R', 'E', 'Q'}
	resHeader = [4]byte{0, 'R', 'E', 'S'}
)

// Packet is a decoded Gearman frame: a magic, a type, and a payload. The
// payload is a sequence of NUL-separated fields, the last of which consumes
// the remainder of the buffer without a terminating NUL.
type Packet struct {
	Magic Magic
	Type  Type
	Data  []byte
}

// NewReq builds a client/worker-originated request packet.
func NewReq(t Type, fields ...[]byte) Packet {
	return Packet{Magic: MagicReq, Type: t, Data: joinFields(fields)}
}

// NewRes builds a broker-originated response packet.
func NewRes(t Type, fields ...[]byte) Packet {
	return Packet{Magic: MagicRes, Type: t, Data: joinFields(fields)}
}

func joinFields(fields [][]byte) []byte {
	if len(fields) == 0 {
		return nil
	}
	return bytes.Join(fields, []byte{0})
}

// Field returns the byte range of the i-th field (0-indexed) in the
// packet's payload, given the declared argument count for its type. This
// is the stateless slicer design note in spec.md §9 calls for: no mutable
// iterator state, just an index into a fixed layout.
//
// Fields 0..nargs-1 are NUL-delimited; field nargs (the last one) is
// everything remaining after the nargs-th NUL. Requesting an index beyond
// nargs is a parse error.
func Field(data []byte, nargs, i int) (start, end int, err error) {
	if nargs < 0 {
		return 0, 0, fmt.Errorf("protocol: type carries no argument fields")
	}
	if i < 0 || i > nargs {
		return 0, 0, fmt.Errorf("protocol: field index %d out of range (nargs=%d)", i, nargs)
	}

	pos := 0
	for field := 0; field < i; field++ {
		idx := bytes.IndexByte(data[pos:], 0)
		if idx < 0 {
			return 0, 0, fmt.Errorf("protocol: payload has fewer than %d NUL-separated fields", nargs+1)
		}
		pos += idx + 1
	}

	if i == nargs {
		return pos, len(data), nil
	}

	idx := bytes.IndexByte(data[pos:], 0)
	if idx < 0 {
		return 0, 0, fmt.Errorf("protocol: payload has fewer than %d NUL-separated fields", nargs+1)
	}
	return pos, pos + idx, nil
}

// Fields splits data into exactly nargs+1 fields per the ptype's declared
// layout (nargs < 0 yields no fields at all).
func Fields(data []byte, nargs int) ([][]byte, error) {
	if nargs < 0 {
		return nil, nil
	}
	out := make([][]byte, 0, nargs+1)
	for i := 0; i <= nargs; i++ {
		start, end, err := Field(data, nargs, i)
		if err != nil {
			return nil, err
		}
		out = append(out, data[start:end])
	}
	return out, nil
}

func (p Packet) String() string {
	return fmt.Sprintf("Packet{magic:%s type:%s size:%d}", p.Magic, p.Type.Name(), len(p.Data))
}
