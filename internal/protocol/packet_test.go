package protocol

import (
	"bytes"
	"testing"
)

func TestFieldSlicer(t *testing.T) {
	data := []byte("reverse\x00u1\x00the rest of the payload")
	nargs := 2 // SUBMIT_JOB: fname, unique, trailing payload

	fields, err := Fields(data, nargs)
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if len(fields) != 3 {
		t.Fatalf("expected 3 fields, got %d", len(fields))
	}
	if string(fields[0]) != "reverse" {
		t.Errorf("field 0 = %q, want reverse", fields[0])
	}
	if string(fields[1]) != "u1" {
		t.Errorf("field 1 = %q, want u1", fields[1])
	}
	if string(fields[2]) != "the rest of the payload" {
		t.Errorf("field 2 = %q, want the rest of the payload", fields[2])
	}
}

func TestFieldSlicerNoArgs(t *testing.T) {
	fields, err := Fields(nil, -1)
	if err != nil {
		t.Fatalf("Fields: %v", err)
	}
	if fields != nil {
		t.Errorf("expected nil fields for nargs<0, got %v", fields)
	}
}

func TestFieldSlicerPastDeclaredCount(t *testing.T) {
	data := []byte("a\x00b")
	if _, _, err := Field(data, 0, 1); err == nil {
		t.Fatal("expected error requesting field past nargs")
	}
}

func TestFieldSlicerTooFewFields(t *testing.T) {
	data := []byte("onlyonefield")
	if _, err := Fields(data, 2); err == nil {
		t.Fatal("expected error: payload shorter than declared field count")
	}
}

func TestFrameRoundTrip(t *testing.T) {
	cases := []Packet{
		NewReq(SUBMIT_JOB, []byte("reverse"), []byte("u1"), []byte("abc")),
		NewRes(JOB_CREATED, []byte("H:host:1")),
		NewReq(GRAB_JOB),
		NewRes(NO_JOB),
		NewReq(CAN_DO, []byte("reverse")),
		NewRes(WORK_COMPLETE, []byte("H:host:1"), []byte("cba")),
	}

	for _, p := range cases {
		var buf bytes.Buffer
		if err := WriteFrame(&buf, p); err != nil {
			t.Fatalf("WriteFrame(%v): %v", p, err)
		}

		r := NewReader(&buf)
		got, err := r.ReadFrame()
		if err != nil {
			t.Fatalf("ReadFrame(%v): %v", p, err)
		}
		if got.Magic != p.Magic || got.Type != p.Type || !bytes.Equal(got.Data, p.Data) {
			t.Errorf("round trip mismatch: got %+v, want %+v", got, p)
		}
	}
}

func TestReaderDetectsAdminText(t *testing.T) {
	buf := bytes.NewBufferString("version\n")
	r := NewReader(buf)

	p, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("ReadFrame: %v", err)
	}
	if p.Magic != MagicText {
		t.Fatalf("expected MagicText, got %v", p.Magic)
	}
	if string(p.Data) != "version" {
		t.Errorf("got %q, want version", p.Data)
	}
	if !r.IsAdmin() {
		t.Error("reader should be locked into admin mode")
	}
}

func TestReaderStaysInAdminMode(t *testing.T) {
	// Once the first line has put the reader into admin mode, the next
	// line is read as text too, without checking it for binary magic.
	buf := bytes.NewBufferString("status\nmaxqueue foo 10\n")
	r := NewReader(buf)

	first, err := r.ReadFrame()
	if err != nil || first.Data == nil {
		t.Fatalf("first ReadFrame: %v", err)
	}

	second, err := r.ReadFrame()
	if err != nil {
		t.Fatalf("second ReadFrame: %v", err)
	}
	if second.Magic != MagicText || string(second.Data) != "maxqueue foo 10" {
		t.Errorf("got %+v", second)
	}
}

func TestDecodeRejectsShortPayload(t *testing.T) {
	var buf bytes.Buffer
	// SUBMIT_JOB declares nargs=2 (3 fields) but the payload has none.
	raw := Packet{Magic: MagicReq, Type: SUBMIT_JOB, Data: []byte("nofieldshere")}
	if err := WriteFrame(&buf, raw); err != nil {
		t.Fatal(err)
	}

	r := NewReader(&buf)
	if _, err := r.ReadFrame(); err == nil {
		t.Fatal("expected decode error for payload missing declared fields")
	}
}

func TestParseAdminLine(t *testing.T) {
	cmd := ParseAdminLine("maxqueue reverse 100")
	if cmd.Name != "maxqueue" || len(cmd.Args) != 2 || cmd.Args[0] != "reverse" || cmd.Args[1] != "100" {
		t.Errorf("got %+v", cmd)
	}
}
