// Package connection manages the conn_id -> egress mapping and the
// bounded, backpressured delivery of outbound frames to each connection,
// per spec.md §3 Connection and §4.6 Connection Runtime.
package connection

import (
	"errors"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smukkama/gearmand/internal/protocol"
)

// ErrUnknownConnection is returned when delivery targets a conn_id that
// has already disconnected or never existed.
var ErrUnknownConnection = errors.New("connection: unknown connection id")

// ErrEgressSaturated is returned when a terminal frame could not be
// delivered because the target's egress is full; the caller must close
// that connection, per spec.md §5 backpressure.
var ErrEgressSaturated = errors.New("connection: egress saturated")

// Conn is the broker's bookkeeping for one TCP connection: its egress
// channel and identifying metadata. The socket itself is owned by the
// server package's reader/writer goroutines, not by Conn.
type Conn struct {
	ID          int
	RemoteAddr  string
	ConnectedAt time.Time
	Egress      chan protocol.Packet

	net       net.Conn
	closeOnce sync.Once
	closed    chan struct{}
}

// Close closes the underlying socket exactly once; safe to call from
// multiple goroutines (the writer noticing a closed egress, the server
// noticing a saturated terminal frame, a forced disconnect).
func (c *Conn) Close() {
	c.closeOnce.Do(func() {
		close(c.closed)
		if c.net != nil {
			c.net.Close()
		}
	})
}

// Done returns a channel closed when this connection is torn down.
func (c *Conn) Done() <-chan struct{} {
	return c.closed
}

// Manager tracks every live connection, keyed by conn_id. Its mutex is
// independent of the broker's state mutex, per spec.md §5: connection
// lookups must never block on, or be blocked by, a dispatcher critical
// section.
type Manager struct {
	mu        sync.RWMutex
	conns     map[int]*Conn
	nextID    int64
	egressCap int
}

// New returns an empty Manager whose connections get an egress channel
// of the given capacity (spec.md default: 1024).
func New(egressCapacity int) *Manager {
	if egressCapacity <= 0 {
		egressCapacity = 1024
	}
	return &Manager{
		conns:     make(map[int]*Conn),
		egressCap: egressCapacity,
	}
}

// NextID atomically allocates the next monotonically increasing conn_id.
func (m *Manager) NextID() int {
	return int(atomic.AddInt64(&m.nextID, 1))
}

// Register creates and tracks a Conn for an accepted socket.
func (m *Manager) Register(id int, netConn net.Conn) *Conn {
	c := &Conn{
		ID:          id,
		ConnectedAt: time.Now(),
		Egress:      make(chan protocol.Packet, m.egressCap),
		net:         netConn,
		closed:      make(chan struct{}),
	}
	if netConn != nil {
		c.RemoteAddr = netConn.RemoteAddr().String()
	}

	m.mu.Lock()
	m.conns[id] = c
	m.mu.Unlock()
	return c
}

// Unregister removes a connection's bookkeeping. It does not close the
// socket; callers close the Conn themselves as part of teardown.
func (m *Manager) Unregister(id int) {
	m.mu.Lock()
	delete(m.conns, id)
	m.mu.Unlock()
}

// Get looks up a connection by id.
func (m *Manager) Get(id int) (*Conn, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conns[id]
	return c, ok
}

// Count returns the number of currently tracked connections.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.conns)
}

// Deliver enqueues p onto targetConnID's egress. For non-critical frames
// (WORK_DATA/WARNING/STATUS/NOOP and the like) a full egress drops the
// oldest queued frame to make room, per spec.md §5 backpressure. For
// critical frames (JOB_CREATED, WORK_COMPLETE/FAIL/EXCEPTION) a full
// egress instead closes the connection and returns ErrEgressSaturated —
// terminal frames must never be silently dropped.
func (m *Manager) Deliver(targetConnID int, p protocol.Packet, critical bool) error {
	c, ok := m.Get(targetConnID)
	if !ok {
		return ErrUnknownConnection
	}

	select {
	case c.Egress <- p:
		return nil
	default:
	}

	if critical {
		c.Close()
		return ErrEgressSaturated
	}

	// Oldest-drop: make room by discarding the head of the queue, then
	// retry once. If another goroutine races us and the queue is full
	// again, give up rather than spin.
	select {
	case <-c.Egress:
	default:
	}
	select {
	case c.Egress <- p:
		return nil
	default:
		return ErrEgressSaturated
	}
}
