package protocol

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"unicode/utf8"
)

// maxPacketSize bounds a single frame's payload so that a corrupt or
// hostile peer cannot force an unbounded allocation.
const maxPacketSize = 64 << 20 // 64MiB

// Reader decodes a stream of Gearman frames. Once it observes a
// non-binary-magic header it locks into admin text mode for the rest of
// the connection's lifetime, matching spec.md §4.1.
type Reader struct {
	br    *bufio.Reader
	admin bool
}

// NewReader wraps r for frame decoding.
func NewReader(r io.Reader) *Reader {
	return &Reader{br: bufio.NewReader(r)}
}

// ReadFrame reads and returns the next frame, binary or admin text. It
// returns an error that should be treated as fatal to the connection
// (spec.md §7 ProtocolDecode) on malformed input.
func (r *Reader) ReadFrame() (Packet, error) {
	if r.admin {
		return r.readAdminLine()
	}

	head, err := r.br.Peek(4)
	if err != nil {
		return Packet{}, err
	}

	switch {
	case head[0] == reqHeader[0] && head[1] == reqHeader[1] && head[2] == reqHeader[2] && head[3] == reqHeader[3]:
		return r.readBinary(MagicReq)
	case head[0] == resHeader[0] && head[1] == resHeader[1] && head[2] == resHeader[2] && head[3] == resHeader[3]:
		return r.readBinary(MagicRes)
	default:
		r.admin = true
		return r.readAdminLine()
	}
}

func (r *Reader) readBinary(magic Magic) (Packet, error) {
	var header [12]byte
	if _, err := io.ReadFull(r.br, header[:]); err != nil {
		return Packet{}, fmt.Errorf("protocol: reading frame header: %w", err)
	}

	ptype := Type(binary.BigEndian.Uint32(header[4:8]))
	psize := binary.BigEndian.Uint32(header[8:12])
	if psize > maxPacketSize {
		return Packet{}, fmt.Errorf("protocol: payload size %d exceeds limit", psize)
	}

	nargs, known := ptype.NArgs()
	data := make([]byte, psize)
	if psize > 0 {
		if _, err := io.ReadFull(r.br, data); err != nil {
			return Packet{}, fmt.Errorf("protocol: reading frame body: %w", err)
		}
	}

	if known && nargs >= 0 {
		// A payload shorter than its declared argument fields is a decode
		// error per spec.md §4.1; Fields performs the same field walk the
		// dispatcher would, so inconsistent packets are rejected up front.
		if _, err := Fields(data, nargs); err != nil {
			return Packet{}, fmt.Errorf("protocol: %s: %w", ptype.Name(), err)
		}
	}

	return Packet{Magic: magic, Type: ptype, Data: data}, nil
}

func (r *Reader) readAdminLine() (Packet, error) {
	line, err := r.br.ReadString('\n')
	if err != nil {
		return Packet{}, fmt.Errorf("protocol: reading admin line: %w", err)
	}
	line = trimLineEnding(line)

	if !utf8.ValidString(line) {
		return Packet{}, fmt.Errorf("protocol: admin line is not valid UTF-8")
	}

	return Packet{Magic: MagicText, Data: []byte(line)}, nil
}

func trimLineEnding(s string) string {
	if n := len(s); n > 0 && s[n-1] == '\n' {
		s = s[:n-1]
	}
	if n := len(s); n > 0 && s[n-1] == '\r' {
		s = s[:n-1]
	}
	return s
}

// IsAdmin reports whether this reader has locked into admin text mode.
func (r *Reader) IsAdmin() bool {
	return r.admin
}

// WriteFrame encodes and writes a single frame. Admin (MagicText) frames
// are written as a bare line terminated by LF; binary frames use the
// 12-byte header plus payload.
func WriteFrame(w io.Writer, p Packet) error {
	if p.Magic == MagicText {
		_, err := w.Write(append(p.Data, '\n'))
		return err
	}

	var header [4]byte
	switch p.Magic {
	case MagicReq:
		header = reqHeader
	case MagicRes:
		header = resHeader
	default:
		return fmt.Errorf("protocol: cannot encode packet with unknown magic")
	}

	buf := make([]byte, 12+len(p.Data))
	copy(buf[0:4], header[:])
	binary.BigEndian.PutUint32(buf[4:8], uint32(p.Type))
	binary.BigEndian.PutUint32(buf[8:12], uint32(len(p.Data)))
	copy(buf[12:], p.Data)

	_, err := w.Write(buf)
	return err
}
