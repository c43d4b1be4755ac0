// Package job defines the broker's Job model: identity, payload, status
// and the state machine spec.md §3 describes.
package job

import (
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Priority is one of the three documented levels.
type Priority int

const (
	Low Priority = iota
	Normal
	High
)

// Priorities lists the three levels highest-first, the order §4.3's
// get_job scan uses.
var Priorities = [3]Priority{High, Normal, Low}

func (p Priority) String() string {
	switch p {
	case High:
		return "HIGH"
	case Normal:
		return "NORMAL"
	case Low:
		return "LOW"
	default:
		return "UNKNOWN"
	}
}

// State is one of the four states a Job may occupy, per spec.md §3.
type State int

const (
	Queued State = iota
	Running
	CompletePendingFlush
	Gone
)

// TerminalKind distinguishes the three ways a job can finish.
type TerminalKind int

const (
	Complete TerminalKind = iota
	Fail
	Exception
)

func (k TerminalKind) String() string {
	switch k {
	case Complete:
		return "WORK_COMPLETE"
	case Fail:
		return "WORK_FAIL"
	case Exception:
		return "WORK_EXCEPTION"
	default:
		return "UNKNOWN"
	}
}

// Status is a job's (numerator, denominator) progress pair.
type Status struct {
	Numerator   int
	Denominator int
}

// Job is a single unit of work tracked by the broker.
type Job struct {
	mu sync.Mutex

	Handle       string
	Unique       string
	FunctionName string
	Payload      []byte
	Priority     Priority
	Background   bool
	WhenToRun    *time.Time
	Reducer      string

	status State
	prog   Status

	AssignedConnID int
	hasAssigned    bool

	Waiters map[int]struct{}

	CreatedAt time.Time
}

// New creates a queued, unassigned Job. The handle is broker-assigned and
// opaque, per spec.md §3.
func New(fname, unique string, payload []byte, prio Priority, background bool) *Job {
	return &Job{
		Handle:       allocateHandle(),
		Unique:       unique,
		FunctionName: fname,
		Payload:      payload,
		Priority:     prio,
		Background:   background,
		status:       Queued,
		Waiters:      make(map[int]struct{}),
		CreatedAt:    time.Now(),
	}
}

func allocateHandle() string {
	return fmt.Sprintf("H:gearmand:%s", uuid.New().String())
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.status
}

// MarkRunning transitions the job to RUNNING, recording its worker.
func (j *Job) MarkRunning(connID int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = Running
	j.AssignedConnID = connID
	j.hasAssigned = true
}

// MarkQueued transitions the job back to QUEUED, clearing any assignment —
// used by requeue-on-disconnect.
func (j *Job) MarkQueued() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = Queued
	j.hasAssigned = false
}

// MarkGone transitions the job to its terminal GONE state.
func (j *Job) MarkGone() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.status = Gone
	j.hasAssigned = false
}

// Assignee returns the connection id currently holding this job, if any.
func (j *Job) Assignee() (int, bool) {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.AssignedConnID, j.hasAssigned
}

// SetStatus records a WORK_STATUS progress update.
func (j *Job) SetStatus(numerator, denominator int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.prog = Status{Numerator: numerator, Denominator: denominator}
}

// GetStatus returns the job's last reported progress.
func (j *Job) GetStatus() Status {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.prog
}

// AddWaiter registers conn as a foreground waiter for this job's terminal
// notification. Background jobs never gain waiters.
func (j *Job) AddWaiter(connID int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.Background {
		return
	}
	j.Waiters[connID] = struct{}{}
}

// WaiterList returns a snapshot of the connection ids awaiting this job's
// completion.
func (j *Job) WaiterList() []int {
	j.mu.Lock()
	defer j.mu.Unlock()
	out := make([]int, 0, len(j.Waiters))
	for id := range j.Waiters {
		out = append(out, id)
	}
	return out
}

// RemoveWaiter drops a connection from the waiter set, e.g. on its
// disconnect.
func (j *Job) RemoveWaiter(connID int) {
	j.mu.Lock()
	defer j.mu.Unlock()
	delete(j.Waiters, connID)
}
