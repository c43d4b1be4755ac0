// Package queueset implements the broker's per-function priority queues,
// the (function, unique) uniqueness index, and the deferred-job tracking
// described in spec.md §4.3. A scheduled job (SUBMIT_JOB_SCHED/_EPOCH)
// sits in byHandle only, with WhenToRun set, until internal/broker's timer
// callback calls PromoteScheduled — the min-heap ordering those
// callbacks fire in lives in internal/timer, not here.
//
// None of the types here synchronize their own access: spec.md §5 calls
// for a single broker mutex guarding Queue Set and Worker Registry
// together, so QueueSet is a plain data structure the broker package locks
// around. Tests in this package call it directly from a single goroutine.
package queueset

import (
	"container/list"

	"github.com/smukkama/gearmand/internal/job"
)

type uniqueKey struct {
	fname  string
	unique string
}

// fnQueues holds the three priority FIFOs for one function name.
type fnQueues struct {
	byPriority [3]*list.List // indexed by job.Priority (Low=0, Normal=1, High=2)
}

func newFnQueues() *fnQueues {
	fq := &fnQueues{}
	for i := range fq.byPriority {
		fq.byPriority[i] = list.New()
	}
	return fq
}

// QueueSet is the broker's job storage: queued jobs organized by function
// and priority, an index for in-flight handles, and a uniqueness index
// for dedup. Jobs awaiting a future WhenToRun live in byHandle alone,
// promoted into their priority queue by PromoteScheduled.
type QueueSet struct {
	byFunction map[string]*fnQueues
	byHandle   map[string]*job.Job
	byUnique   map[uniqueKey]*job.Job
}

// New returns an empty QueueSet.
func New() *QueueSet {
	return &QueueSet{
		byFunction: make(map[string]*fnQueues),
		byHandle:   make(map[string]*job.Job),
		byUnique:   make(map[uniqueKey]*job.Job),
	}
}

func (q *QueueSet) queuesFor(fname string) *fnQueues {
	fq, ok := q.byFunction[fname]
	if !ok {
		fq = newFnQueues()
		q.byFunction[fname] = fq
	}
	return fq
}

// AddJob inserts j, or — if a non-terminal job already exists for
// (function_name, unique) — returns the existing job instead, per spec.md
// §4.3 add_job. added is false when an existing job was returned.
func (q *QueueSet) AddJob(j *job.Job) (result *job.Job, added bool) {
	if j.Unique != "" {
		key := uniqueKey{fname: j.FunctionName, unique: j.Unique}
		if existing, ok := q.byUnique[key]; ok {
			return existing, false
		}
		q.byUnique[key] = j
	}

	if j.WhenToRun != nil {
		// Held out of its priority queue until PromoteScheduled fires, per
		// spec.md §4.3's deferred index — no further bookkeeping needed
		// here, since the job is already reachable via byHandle.
		q.byHandle[j.Handle] = j
		return j, true
	}

	fq := q.queuesFor(j.FunctionName)
	fq.byPriority[j.Priority].PushBack(j)
	q.byHandle[j.Handle] = j
	return j, true
}

// PromoteScheduled moves a deferred job into its function's priority
// queue once WhenToRun has arrived, per spec.md §4.3 schedule_tick.
// Called from internal/broker's timer.TimerManager callback, keyed by job
// handle rather than swept on a polling interval. Returns false if handle
// is unknown or was already promoted/completed, which the callback may
// legitimately race against a disconnect or shutdown.
func (q *QueueSet) PromoteScheduled(handle string) (*job.Job, bool) {
	j, ok := q.byHandle[handle]
	if !ok || j.WhenToRun == nil {
		return nil, false
	}
	j.WhenToRun = nil
	fq := q.queuesFor(j.FunctionName)
	fq.byPriority[j.Priority].PushBack(j)
	return j, true
}

// GetJob scans functions in the caller-provided order (a worker's declared
// ability order) and, within each function, HIGH then NORMAL then LOW,
// returning and dequeuing the first match. It returns nil if nothing is
// eligible. The caller (broker) is responsible for marking the returned
// job RUNNING against the assignee's connection id.
func (q *QueueSet) GetJob(functions []string) *job.Job {
	for _, fname := range functions {
		fq, ok := q.byFunction[fname]
		if !ok {
			continue
		}
		for _, prio := range job.Priorities {
			l := fq.byPriority[prio]
			if l.Len() == 0 {
				continue
			}
			front := l.Front()
			l.Remove(front)
			return front.Value.(*job.Job)
		}
	}
	return nil
}

// ByHandle looks up a job (queued, running, or otherwise tracked) by its
// broker-assigned handle.
func (q *QueueSet) ByHandle(handle string) (*job.Job, bool) {
	j, ok := q.byHandle[handle]
	return j, ok
}

// FindByUnique scans tracked jobs for one matching unique, regardless of
// function name — used by GET_STATUS_UNIQUE, which carries only the unique
// key. Tracked-job counts are small enough that a linear scan is fine.
func (q *QueueSet) FindByUnique(unique string) (*job.Job, bool) {
	for _, j := range q.byHandle {
		if j.Unique == unique {
			return j, true
		}
	}
	return nil, false
}

// Complete removes a terminal job from the uniqueness index and the
// handle index, per spec.md §4.3 complete. Call once, when the job
// reaches WORK_COMPLETE/FAIL/EXCEPTION.
func (q *QueueSet) Complete(handle string) {
	j, ok := q.byHandle[handle]
	if !ok {
		return
	}
	if j.Unique != "" {
		delete(q.byUnique, uniqueKey{fname: j.FunctionName, unique: j.Unique})
	}
	delete(q.byHandle, handle)
	j.MarkGone()
}

// Requeue places a RUNNING, non-background job back at the front of its
// original priority queue — spec.md §4.3 requeue, used when the assigned
// worker disconnects before completing it.
func (q *QueueSet) Requeue(j *job.Job) {
	if j.Background {
		return
	}
	j.MarkQueued()
	fq := q.queuesFor(j.FunctionName)
	fq.byPriority[j.Priority].PushFront(j)
}

// Remove drops a job entirely (used when a background RUNNING job's
// worker disconnects: it is not requeued, nor does it need a waiter
// notification).
func (q *QueueSet) Remove(handle string) {
	q.Complete(handle)
}

// Depth returns the number of queued (not running) jobs for a function,
// summed across priorities — used by the admin `status` command.
func (q *QueueSet) Depth(fname string) int {
	fq, ok := q.byFunction[fname]
	if !ok {
		return 0
	}
	total := 0
	for _, l := range fq.byPriority {
		total += l.Len()
	}
	return total
}

// Functions returns every function name that has ever had a job queued,
// for admin `status` enumeration.
func (q *QueueSet) Functions() []string {
	out := make([]string, 0, len(q.byFunction))
	for name := range q.byFunction {
		out = append(out, name)
	}
	return out
}

// RunningCount returns how many currently-tracked jobs for fname are
// RUNNING (assigned to a worker).
func (q *QueueSet) RunningCount(fname string) int {
	count := 0
	for _, j := range q.byHandle {
		if j.FunctionName == fname && j.State() == job.Running {
			count++
		}
	}
	return count
}

// JobsAssignedTo returns every RUNNING job currently assigned to connID —
// used on disconnect to decide what to requeue or drop.
func (q *QueueSet) JobsAssignedTo(connID int) []*job.Job {
	var out []*job.Job
	for _, j := range q.byHandle {
		if id, ok := j.Assignee(); ok && id == connID && j.State() == job.Running {
			out = append(out, j)
		}
	}
	return out
}

// AllRunning returns every job currently RUNNING, across all functions —
// used on broker shutdown to fail in-flight work back to its waiters.
func (q *QueueSet) AllRunning() []*job.Job {
	var out []*job.Job
	for _, j := range q.byHandle {
		if j.State() == job.Running {
			out = append(out, j)
		}
	}
	return out
}
