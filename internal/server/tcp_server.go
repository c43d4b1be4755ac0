// Package server runs the Gearman TCP listener: one accept loop plus a
// pair of reader/writer goroutines per connection, wired to a
// broker.Broker for dispatch, per spec.md §4.6.
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"github.com/smukkama/gearmand/internal/broker"
	"github.com/smukkama/gearmand/internal/connection"
	"github.com/smukkama/gearmand/internal/protocol"
	"github.com/smukkama/gearmand/pkg/config"
)

// TCPServer is the Gearman broker's TCP listener.
type TCPServer struct {
	config      *config.ServerConfig
	connManager *connection.Manager
	broker      *broker.Broker
	listener    net.Listener
	wg          sync.WaitGroup
	stopCh      chan struct{}
	ctx         context.Context
	cancel      context.CancelFunc
}

// NewTCPServer creates a new TCP server.
func NewTCPServer(cfg *config.ServerConfig, connManager *connection.Manager, b *broker.Broker) *TCPServer {
	ctx, cancel := context.WithCancel(context.Background())
	return &TCPServer{
		config:      cfg,
		connManager: connManager,
		broker:      b,
		stopCh:      make(chan struct{}),
		ctx:         ctx,
		cancel:      cancel,
	}
}

// Start starts the TCP server's accept loop.
func (s *TCPServer) Start() error {
	addr := fmt.Sprintf(":%d", s.config.Port)
	listener, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to start TCP server: %w", err)
	}

	s.listener = listener
	fmt.Printf("gearmand listening on %s\n", addr)

	s.wg.Add(1)
	go s.acceptConnections()

	return nil
}

// Stop stops the TCP server gracefully, failing every in-flight job back
// to its waiters before the process exits.
func (s *TCPServer) Stop() {
	close(s.stopCh)
	s.cancel()

	if s.listener != nil {
		s.listener.Close()
	}

	s.wg.Wait()
	s.broker.Shutdown()
	fmt.Println("gearmand stopped")
}

func (s *TCPServer) acceptConnections() {
	defer s.wg.Done()

	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			default:
				fmt.Printf("Failed to accept connection: %v\n", err)
				continue
			}
		}

		if s.connManager.Count() >= s.config.MaxConnections {
			fmt.Println("Maximum connections reached, rejecting connection")
			conn.Close()
			continue
		}

		s.wg.Add(1)
		go s.handleConnection(conn)
	}
}

// handleConnection owns a connection's whole lifetime: it registers the
// Conn, runs a writer goroutine draining Egress, then reads frames
// in-line (so per-connection ordering is never interleaved with another
// connection's frames) until the socket closes or ReadFrame errors.
func (s *TCPServer) handleConnection(conn net.Conn) {
	defer s.wg.Done()

	connID := s.connManager.NextID()
	c := s.connManager.Register(connID, conn)
	fmt.Printf("new connection: %d from %s\n", connID, c.RemoteAddr)

	var writerWg sync.WaitGroup
	writerWg.Add(1)
	go s.writeLoop(conn, c, &writerWg)

	reader := protocol.NewReader(conn)
	for {
		p, err := reader.ReadFrame()
		if err != nil {
			fmt.Printf("connection %d closed: %v\n", connID, err)
			break
		}

		if p.Magic == protocol.MagicText {
			reply, shutdown := s.broker.HandleAdmin(string(p.Data))
			if err := protocol.WriteFrame(conn, protocol.Packet{Magic: protocol.MagicText, Data: []byte(reply[:len(reply)-1])}); err != nil {
				break
			}
			if shutdown {
				go s.Stop()
				break
			}
		} else {
			s.broker.Handle(connID, p)
		}
	}

	s.connManager.Unregister(connID)
	s.broker.Disconnect(connID)
	c.Close()
	writerWg.Wait()
}

// writeLoop drains a connection's egress channel to its socket until the
// connection is torn down — the cooperative counterpart to
// handleConnection's read loop, per spec.md §4.6's two-task model.
func (s *TCPServer) writeLoop(conn net.Conn, c *connection.Conn, wg *sync.WaitGroup) {
	defer wg.Done()
	for {
		select {
		case p, ok := <-c.Egress:
			if !ok {
				return
			}
			if err := protocol.WriteFrame(conn, p); err != nil {
				c.Close()
				return
			}
		case <-c.Done():
			return
		}
	}
}
