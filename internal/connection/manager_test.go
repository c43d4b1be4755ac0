package connection

import (
	"net"
	"testing"
	"time"

	"github.com/smukkama/gearmand/internal/protocol"
)

type mockAddr struct{}

func (m *mockAddr) Network() string { return "tcp" }
func (m *mockAddr) String() string  { return "127.0.0.1:0" }

type mockConn struct{}

func (m *mockConn) Read(b []byte) (n int, err error)   { return 0, nil }
func (m *mockConn) Write(b []byte) (n int, err error)  { return len(b), nil }
func (m *mockConn) Close() error                       { return nil }
func (m *mockConn) LocalAddr() net.Addr                { return &mockAddr{} }
func (m *mockConn) RemoteAddr() net.Addr               { return &mockAddr{} }
func (m *mockConn) SetDeadline(t time.Time) error      { return nil }
func (m *mockConn) SetReadDeadline(t time.Time) error  { return nil }
func (m *mockConn) SetWriteDeadline(t time.Time) error { return nil }

func TestNextIDMonotonic(t *testing.T) {
	m := New(8)
	ids := make(map[int]bool)
	for i := 0; i < 100; i++ {
		id := m.NextID()
		if ids[id] {
			t.Fatalf("duplicate conn id %d", id)
		}
		ids[id] = true
	}
}

func TestRegisterAndGet(t *testing.T) {
	m := New(8)
	id := m.NextID()
	c := m.Register(id, &mockConn{})

	got, ok := m.Get(id)
	if !ok || got != c {
		t.Fatalf("Get(%d) = (%v, %v), want (%v, true)", id, got, ok, c)
	}
	if m.Count() != 1 {
		t.Errorf("Count() = %d, want 1", m.Count())
	}
}

func TestUnregister(t *testing.T) {
	m := New(8)
	id := m.NextID()
	m.Register(id, &mockConn{})
	m.Unregister(id)

	if _, ok := m.Get(id); ok {
		t.Error("expected connection to be gone after Unregister")
	}
	if m.Count() != 0 {
		t.Errorf("Count() = %d, want 0", m.Count())
	}
}

func TestDeliverUnknownConnection(t *testing.T) {
	m := New(8)
	err := m.Deliver(999, protocol.NewRes(protocol.NOOP), false)
	if err != ErrUnknownConnection {
		t.Errorf("err = %v, want ErrUnknownConnection", err)
	}
}

func TestDeliverDelivers(t *testing.T) {
	m := New(8)
	id := m.NextID()
	m.Register(id, &mockConn{})

	p := protocol.NewRes(protocol.NOOP)
	if err := m.Deliver(id, p, false); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	c, _ := m.Get(id)
	select {
	case got := <-c.Egress:
		if got.Type != protocol.NOOP {
			t.Errorf("got %v", got)
		}
	default:
		t.Fatal("expected a frame on egress")
	}
}

func TestDeliverNonCriticalOldestDrop(t *testing.T) {
	m := New(2)
	id := m.NextID()
	m.Register(id, &mockConn{})

	first := protocol.NewRes(protocol.WORK_STATUS, []byte("H1"), []byte("1"))
	second := protocol.NewRes(protocol.WORK_STATUS, []byte("H1"), []byte("2"))
	third := protocol.NewRes(protocol.WORK_STATUS, []byte("H1"), []byte("3"))

	if err := m.Deliver(id, first, false); err != nil {
		t.Fatal(err)
	}
	if err := m.Deliver(id, second, false); err != nil {
		t.Fatal(err)
	}
	// Egress (capacity 2) is now full; third should evict first (oldest).
	if err := m.Deliver(id, third, false); err != nil {
		t.Fatalf("expected oldest-drop to succeed, got %v", err)
	}

	c, _ := m.Get(id)
	var got []protocol.Packet
	for i := 0; i < 2; i++ {
		got = append(got, <-c.Egress)
	}
	if string(got[0].Data) != "H1\x002" || string(got[1].Data) != "H1\x003" {
		t.Errorf("expected oldest frame dropped, got %v", got)
	}
}

func TestDeliverCriticalClosesOnSaturation(t *testing.T) {
	m := New(1)
	id := m.NextID()
	c := m.Register(id, &mockConn{})

	if err := m.Deliver(id, protocol.NewRes(protocol.JOB_CREATED, []byte("H1")), true); err != nil {
		t.Fatal(err)
	}
	// Egress full; a second critical frame must close the connection
	// rather than silently drop or evict, per spec.md §5.
	err := m.Deliver(id, protocol.NewRes(protocol.WORK_COMPLETE, []byte("H1"), []byte("x")), true)
	if err != ErrEgressSaturated {
		t.Errorf("err = %v, want ErrEgressSaturated", err)
	}

	select {
	case <-c.Done():
	default:
		t.Error("expected connection to be closed after saturated critical delivery")
	}
}
