package broker

import (
	"fmt"
	"strings"

	"github.com/smukkama/gearmand/internal/protocol"
)

// HandleAdmin answers one line of the text admin protocol, per spec.md §6.
// The returned string already includes trailing newline(s); shutdown is
// true only for the `shutdown` command, telling the server to begin
// draining after writing the reply.
func (b *Broker) HandleAdmin(line string) (reply string, shutdown bool) {
	cmd := protocol.ParseAdminLine(line)

	switch cmd.Name {
	case protocol.AdminVersion:
		return Version + "\n", false

	case protocol.AdminStatus:
		return b.adminStatus(), false

	case protocol.AdminWorkers:
		return b.adminWorkers(), false

	case protocol.AdminMaxQueue:
		if len(cmd.Args) == 0 {
			return "ERR UNKNOWN_COMMAND Unknown+server+command\n", false
		}
		return "OK\n", false

	case protocol.AdminShutdown:
		return "OK\n", true

	default:
		return "ERR UNKNOWN_COMMAND Unknown+server+command\n", false
	}
}

func (b *Broker) adminStatus() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	for _, fname := range b.queues.Functions() {
		queued := b.queues.Depth(fname)
		running := b.queues.RunningCount(fname)
		workers := b.workers.FunctionWorkerCount(fname)
		fmt.Fprintf(&sb, "%s\t%d\t%d\t%d\n", fname, queued+running, running, workers)
	}
	sb.WriteString(".\n")
	return sb.String()
}

// FunctionStats is one function's snapshot row for the internal/metrics
// Redis publisher, holding the same figures the admin `status` command
// prints.
type FunctionStats struct {
	Function        string `json:"function"`
	Total           int    `json:"total"`
	Running         int    `json:"running"`
	AvailableWorker int    `json:"available_workers"`
}

// Snapshot returns a point-in-time view of every function's queue depth
// and worker count, for the periodic stats publisher.
func (b *Broker) Snapshot() []FunctionStats {
	b.mu.Lock()
	defer b.mu.Unlock()

	fns := b.queues.Functions()
	out := make([]FunctionStats, 0, len(fns))
	for _, fname := range fns {
		queued := b.queues.Depth(fname)
		running := b.queues.RunningCount(fname)
		out = append(out, FunctionStats{
			Function:        fname,
			Total:           queued + running,
			Running:         running,
			AvailableWorker: b.workers.FunctionWorkerCount(fname),
		})
	}
	return out
}

func (b *Broker) adminWorkers() string {
	b.mu.Lock()
	defer b.mu.Unlock()

	var sb strings.Builder
	for _, w := range b.workers.All() {
		ip := "-"
		if c, ok := b.conns.Get(w.ConnID); ok {
			ip = c.RemoteAddr
		}
		fmt.Fprintf(&sb, "%d %s %s :", w.ConnID, ip, w.ClientID)
		for _, fname := range w.Functions() {
			fmt.Fprintf(&sb, " %s", fname)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(".\n")
	return sb.String()
}
