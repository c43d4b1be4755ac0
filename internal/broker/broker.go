// Package broker implements the Gearman dispatcher: the single-writer
// state machine that matches jobs to workers and routes every request
// type named in spec.md §4.5 and §6.
package broker

import (
	"fmt"
	"strconv"
	"sync"
	"time"

	cron "github.com/robfig/cron/v3"

	"github.com/smukkama/gearmand/internal/connection"
	"github.com/smukkama/gearmand/internal/job"
	"github.com/smukkama/gearmand/internal/protocol"
	"github.com/smukkama/gearmand/internal/queueset"
	"github.com/smukkama/gearmand/internal/timer"
	"github.com/smukkama/gearmand/internal/worker"
)

// Version is reported by the admin `version` command.
const Version = "1.0.0-gearmand"

// critical frames must never be silently dropped by a saturated egress —
// spec.md §5 names exactly these.
var criticalTypes = map[protocol.Type]bool{
	protocol.JOB_CREATED:    true,
	protocol.WORK_COMPLETE:  true,
	protocol.WORK_FAIL:      true,
	protocol.WORK_EXCEPTION: true,
}

// Event describes a job lifecycle transition worth publishing to the
// optional Kafka side channel (internal/events), per SPEC_FULL.md §4.7.
type Event struct {
	Handle    string
	Function  string
	Priority  string
	Kind      string
	Timestamp time.Time
}

// EventPublisher receives lifecycle events. Implementations must not
// block the caller; internal/events.Publisher wraps an async kafka-go
// writer so Publish returns immediately.
type EventPublisher interface {
	Publish(Event)
}

// noopEvents is used when the broker is constructed without a publisher.
type noopEvents struct{}

func (noopEvents) Publish(Event) {}

// delivery is an outbound frame addressed to a connection id, collected
// while the broker mutex is held and sent only after it is released, per
// spec.md §5.
type delivery struct {
	connID   int
	packet   protocol.Packet
	critical bool
}

// Broker is the broker's single-writer dispatcher: one mutex guarding the
// Queue Set and Worker Registry together, exactly as spec.md §5 requires.
type Broker struct {
	mu      sync.Mutex
	queues  *queueset.QueueSet
	workers *worker.Registry
	conns   *connection.Manager
	reducer queueset.ReducerPartitioner
	events  EventPublisher
	timers  *timer.TimerManager
}

// New builds a Broker. events may be nil, in which case lifecycle events
// are discarded. timers drives scheduled-job promotion (SUBMIT_JOB_SCHED /
// SUBMIT_JOB_EPOCH) and must already be Start()ed.
func New(conns *connection.Manager, events EventPublisher, timers *timer.TimerManager) *Broker {
	if events == nil {
		events = noopEvents{}
	}
	return &Broker{
		queues:  queueset.New(),
		workers: worker.New(),
		conns:   conns,
		reducer: queueset.SingleWorkerPartitioner{},
		events:  events,
		timers:  timers,
	}
}

// Handle processes one decoded frame from connID and delivers whatever
// outbound frames it produces. It never blocks on a slow consumer: frame
// delivery goes through connection.Manager's bounded, backpressured
// egress, exactly as spec.md §4.6 describes.
func (b *Broker) Handle(connID int, p protocol.Packet) {
	b.mu.Lock()
	out, evts := b.dispatch(connID, p)
	b.mu.Unlock()

	b.deliverAll(out)
	for _, e := range evts {
		b.events.Publish(e)
	}
}

func (b *Broker) deliverAll(out []delivery) {
	for _, d := range out {
		if err := b.conns.Deliver(d.connID, d.packet, d.critical); err != nil {
			fmt.Printf("broker: delivery of %s to conn %d failed: %v\n", d.packet.Type.Name(), d.connID, err)
		}
	}
}

func reply(connID int, t protocol.Type, fields ...[]byte) delivery {
	return delivery{connID: connID, packet: protocol.NewRes(t, fields...), critical: criticalTypes[t]}
}

// dispatch performs the single atomic step spec.md §4.5 describes: one
// request frame in, zero or more outbound frame descriptors out. Must be
// called with b.mu held.
func (b *Broker) dispatch(connID int, p protocol.Packet) ([]delivery, []Event) {
	var out []delivery
	var evts []Event

	nargs, known := p.Type.NArgs()
	var fields [][]byte
	if known && nargs >= 0 {
		fields, _ = protocol.Fields(p.Data, nargs)
	}

	switch p.Type {
	case protocol.CAN_DO:
		b.workers.CanDo(connID, string(fields[0]), nil)

	case protocol.CAN_DO_TIMEOUT:
		timeout := parseTimeoutSeconds(fields[1])
		b.workers.CanDo(connID, string(fields[0]), timeout)

	case protocol.CANT_DO:
		b.workers.CantDo(connID, string(fields[0]))

	case protocol.RESET_ABILITIES:
		b.workers.ResetAbilities(connID)

	case protocol.SET_CLIENT_ID:
		b.workers.SetClientID(connID, string(fields[0]))

	case protocol.ECHO_REQ:
		// ECHO_RES carries two fields (nargs=1): an empty leading field and
		// the echoed payload as the trailing one.
		out = append(out, reply(connID, protocol.ECHO_RES, []byte{}, p.Data))

	case protocol.SUBMIT_JOB:
		out, evts = b.submit(connID, fields, job.Normal, false)
	case protocol.SUBMIT_JOB_BG:
		out, evts = b.submit(connID, fields, job.Normal, true)
	case protocol.SUBMIT_JOB_HIGH:
		out, evts = b.submit(connID, fields, job.High, false)
	case protocol.SUBMIT_JOB_HIGH_BG:
		out, evts = b.submit(connID, fields, job.High, true)
	case protocol.SUBMIT_JOB_LOW:
		out, evts = b.submit(connID, fields, job.Low, false)
	case protocol.SUBMIT_JOB_LOW_BG:
		out, evts = b.submit(connID, fields, job.Low, true)

	case protocol.SUBMIT_JOB_SCHED:
		out, evts = b.submitScheduled(connID, fields)
	case protocol.SUBMIT_JOB_EPOCH:
		out, evts = b.submitEpoch(connID, fields)

	case protocol.SUBMIT_REDUCE_JOB:
		out, evts = b.submitReduce(connID, fields, false)
	case protocol.SUBMIT_REDUCE_JOB_BACKGROUND:
		out, evts = b.submitReduce(connID, fields, true)

	case protocol.GRAB_JOB:
		out = b.grab(connID, plain)
	case protocol.GRAB_JOB_UNIQ:
		out = b.grab(connID, uniq)
	case protocol.GRAB_JOB_ALL:
		out = b.grab(connID, all)

	case protocol.PRE_SLEEP:
		b.workers.Sleep(connID)

	case protocol.WORK_DATA:
		out = b.forward(fields[0], protocol.WORK_DATA, fields[0], fields[1])
	case protocol.WORK_WARNING:
		out = b.forward(fields[0], protocol.WORK_WARNING, fields[0], fields[1])
	case protocol.WORK_STATUS:
		out = b.workStatus(fields)

	case protocol.WORK_COMPLETE:
		out, evts = b.terminal(fields[0], job.Complete, fields[1])
	case protocol.WORK_FAIL:
		out, evts = b.terminal(fields[0], job.Fail, nil)
	case protocol.WORK_EXCEPTION:
		out, evts = b.terminal(fields[0], job.Exception, fields[1])

	case protocol.GET_STATUS:
		out = append(out, b.getStatus(connID, string(fields[0])))
	case protocol.GET_STATUS_UNIQUE:
		out = append(out, b.getStatusUnique(connID, string(fields[0])))

	case protocol.ALL_YOURS:
		b.allYours(connID)

	case protocol.OPTION_REQ:
		out = append(out, b.optionReq(connID, fields[0]))

	default:
		msg := fmt.Sprintf("unknown packet type %d", p.Type)
		out = append(out, reply(connID, protocol.ERROR, []byte("UNKNOWN_PTYPE"), []byte(msg)))
	}

	return out, evts
}

func parseTimeoutSeconds(field []byte) *time.Duration {
	secs, err := strconv.Atoi(string(field))
	if err != nil {
		return nil
	}
	d := time.Duration(secs) * time.Second
	return &d
}

// submit handles every immediate (non-scheduled) SUBMIT_JOB* variant.
func (b *Broker) submit(connID int, fields [][]byte, prio job.Priority, background bool) ([]delivery, []Event) {
	fname, unique, payload := string(fields[0]), string(fields[1]), fields[2]
	return b.createAndDispatch(connID, job.New(fname, unique, payload, prio, background))
}

func (b *Broker) submitReduce(connID int, fields [][]byte, background bool) ([]delivery, []Event) {
	fname, unique, reducer, payload := string(fields[0]), string(fields[1]), string(fields[2]), fields[3]
	j := job.New(fname, unique, payload, job.Normal, background)
	j.Reducer = reducer
	return b.createAndDispatch(connID, j)
}

func (b *Broker) submitScheduled(connID int, fields [][]byte) ([]delivery, []Event) {
	fname, unique := string(fields[0]), string(fields[1])
	cronSpec := fmt.Sprintf("%s %s %s %s %s", fields[2], fields[3], fields[4], fields[5], fields[6])
	payload := fields[7]

	j := job.New(fname, unique, payload, job.Normal, false)
	when := time.Now()
	if sched, err := cron.ParseStandard(cronSpec); err == nil {
		when = sched.Next(when)
	}
	j.WhenToRun = &when

	return b.submitDeferred(connID, j)
}

func (b *Broker) submitEpoch(connID int, fields [][]byte) ([]delivery, []Event) {
	fname, unique := string(fields[0]), string(fields[1])
	epochSecs, _ := strconv.ParseInt(string(fields[2]), 10, 64)
	payload := fields[3]

	j := job.New(fname, unique, payload, job.Normal, false)
	when := time.Unix(epochSecs, 0)
	j.WhenToRun = &when

	return b.submitDeferred(connID, j)
}

// submitDeferred handles SUBMIT_JOB_SCHED / SUBMIT_JOB_EPOCH: add_job,
// the same JOB_CREATED reply and waiter registration createAndDispatch
// gives an immediate job, and a timer-driven promotion in place of an
// immediate wake.
func (b *Broker) submitDeferred(connID int, j *job.Job) ([]delivery, []Event) {
	result, added := b.queues.AddJob(j)

	if !result.Background {
		result.AddWaiter(connID)
	}

	out := []delivery{reply(connID, protocol.JOB_CREATED, []byte(result.Handle))}
	var evts []Event
	if added {
		evts = append(evts, b.event(result, "JOB_CREATED"))
		b.schedulePromotion(result)
	}
	return out, evts
}

// createAndDispatch runs add_job, replies JOB_CREATED to the submitter,
// registers the submitter as a waiter when foreground, and wakes any
// sleeping worker able to run the function — spec.md §4.5 SUBMIT_JOB.
func (b *Broker) createAndDispatch(connID int, j *job.Job) ([]delivery, []Event) {
	result, added := b.queues.AddJob(j)

	if !result.Background {
		result.AddWaiter(connID)
	}

	out := []delivery{reply(connID, protocol.JOB_CREATED, []byte(result.Handle))}
	var evts []Event
	if added {
		evts = append(evts, b.event(result, "JOB_CREATED"))
		if j.WhenToRun == nil {
			out = append(out, b.wake(j.FunctionName)...)
		}
	}
	return out, evts
}

type grabKind int

const (
	plain grabKind = iota
	uniq
	all
)

// grab handles GRAB_JOB / GRAB_JOB_UNIQ / GRAB_JOB_ALL.
func (b *Broker) grab(connID int, kind grabKind) []delivery {
	w, ok := b.workers.Get(connID)
	var functions []string
	if ok {
		functions = w.Functions()
	}

	j := b.queues.GetJob(functions)
	if j == nil {
		return []delivery{reply(connID, protocol.NO_JOB)}
	}

	j.MarkRunning(connID)

	switch kind {
	case uniq:
		return []delivery{reply(connID, protocol.JOB_ASSIGN_UNIQ, []byte(j.Handle), []byte(j.FunctionName), []byte(j.Unique), j.Payload)}
	case all:
		payload := b.reducer.Partition(j)
		return []delivery{reply(connID, protocol.JOB_ASSIGN_ALL, []byte(j.Handle), []byte(j.FunctionName), []byte(j.Unique), []byte(j.Reducer), payload)}
	default:
		return []delivery{reply(connID, protocol.JOB_ASSIGN, []byte(j.Handle), []byte(j.FunctionName), j.Payload)}
	}
}

// wake wakes every sleeping worker able to run fname, scheduling exactly
// one NOOP per woken connection — spec.md §4.4 wake / invariant 4.
func (b *Broker) wake(fname string) []delivery {
	var out []delivery
	for _, connID := range b.workers.Wake(fname) {
		out = append(out, reply(connID, protocol.NOOP))
	}
	return out
}

// forward relays a progress frame to every waiter of a job, silently
// dropping it if the handle is unknown or the job is background —
// spec.md §4.5 WORK_DATA/WARNING/STATUS.
func (b *Broker) forward(handle []byte, t protocol.Type, fwdFields ...[]byte) []delivery {
	j, ok := b.queues.ByHandle(string(handle))
	if !ok || j.Background {
		return nil
	}
	var out []delivery
	for _, connID := range j.WaiterList() {
		out = append(out, reply(connID, t, fwdFields...))
	}
	return out
}

func (b *Broker) workStatus(fields [][]byte) []delivery {
	handle := fields[0]
	j, ok := b.queues.ByHandle(string(handle))
	if !ok || j.Background {
		return nil
	}
	num, _ := strconv.Atoi(string(fields[1]))
	den, _ := strconv.Atoi(string(fields[2]))
	j.SetStatus(num, den)

	var out []delivery
	for _, connID := range j.WaiterList() {
		out = append(out, reply(connID, protocol.WORK_STATUS, handle, fields[1], fields[2]))
	}
	return out
}

// terminal handles WORK_COMPLETE/FAIL/EXCEPTION: forward to every waiter,
// then remove the job from the uniqueness and handle indexes.
func (b *Broker) terminal(handle []byte, kind job.TerminalKind, payload []byte) ([]delivery, []Event) {
	j, ok := b.queues.ByHandle(string(handle))
	if !ok {
		return nil, nil
	}

	var out []delivery
	if !j.Background {
		t := terminalType(kind)
		for _, connID := range j.WaiterList() {
			if payload != nil {
				out = append(out, reply(connID, t, handle, payload))
			} else {
				out = append(out, reply(connID, t, handle))
			}
		}
	}

	b.queues.Complete(string(handle))
	return out, []Event{b.event(j, kind.String())}
}

func terminalType(kind job.TerminalKind) protocol.Type {
	switch kind {
	case job.Fail:
		return protocol.WORK_FAIL
	case job.Exception:
		return protocol.WORK_EXCEPTION
	default:
		return protocol.WORK_COMPLETE
	}
}

// getStatus answers GET_STATUS from queued/running state; an unknown
// handle reports "not known" with zeros, per spec.md §4.5.
func (b *Broker) getStatus(connID int, handle string) delivery {
	j, ok := b.queues.ByHandle(handle)
	if !ok {
		return reply(connID, protocol.STATUS_RES, []byte(handle), []byte("0"), []byte("0"), []byte("0"), []byte("0"))
	}
	running := j.State() == job.Running
	st := j.GetStatus()
	return reply(connID, protocol.STATUS_RES,
		[]byte(handle), boolField(true), boolField(running),
		[]byte(strconv.Itoa(st.Numerator)), []byte(strconv.Itoa(st.Denominator)))
}

func (b *Broker) getStatusUnique(connID int, unique string) delivery {
	j, ok := b.queues.FindByUnique(unique)
	if !ok {
		return reply(connID, protocol.STATUS_RES_UNIQUE, []byte(""), []byte(unique), []byte("0"), []byte("0"), []byte("0"), []byte("0"))
	}
	running := j.State() == job.Running
	st := j.GetStatus()
	return reply(connID, protocol.STATUS_RES_UNIQUE,
		[]byte(j.Handle), []byte(j.Unique), boolField(true), boolField(running),
		[]byte(strconv.Itoa(st.Numerator)), []byte(strconv.Itoa(st.Denominator)))
}

func boolField(b bool) []byte {
	if b {
		return []byte("1")
	}
	return []byte("0")
}

// allYours marks this connection exclusive for every function it can run
// where it is currently the only sleeper — advisory only, per spec.md
// §4.5. The packet carries no payload (nargs=-1), so it applies to the
// worker's whole ability set rather than a single function.
func (b *Broker) allYours(connID int) {
	w, ok := b.workers.Get(connID)
	if !ok {
		return
	}
	for _, fname := range w.Functions() {
		sleepers := 0
		for _, other := range b.workers.All() {
			if other.Sleeping && other.CanDo(fname) {
				sleepers++
			}
		}
		if w.Sleeping && sleepers == 1 {
			b.workers.MarkExclusive(connID, fname)
		}
	}
}

// recognizedOptions lists OPTION_REQ values this broker understands.
var recognizedOptions = map[string]bool{
	"exceptions": true,
}

func (b *Broker) optionReq(connID int, option []byte) delivery {
	name := string(option)
	if recognizedOptions[name] {
		return reply(connID, protocol.OPTION_RES, option)
	}
	return reply(connID, protocol.ERROR, []byte("UNKNOWN_OPTION"), []byte("unrecognized option "+name))
}

func (b *Broker) event(j *job.Job, kind string) Event {
	return Event{
		Handle:    j.Handle,
		Function:  j.FunctionName,
		Priority:  j.Priority.String(),
		Kind:      kind,
		Timestamp: time.Now(),
	}
}

// schedulePromotion arranges for a deferred job to move into its priority
// queue at WhenToRun, via the timer manager keyed by job handle — spec.md
// §4.3 schedule_tick, driven per job rather than swept on a poll interval.
func (b *Broker) schedulePromotion(j *job.Job) {
	handle := j.Handle
	b.timers.Schedule(handle, *j.WhenToRun, func() {
		b.promoteScheduled(handle)
	})
}

// promoteScheduled is the timer callback body: move the job into its
// priority queue and wake any sleeping worker able to run it, then deliver
// outside the lock like every other broker operation.
func (b *Broker) promoteScheduled(handle string) {
	b.mu.Lock()
	j, ok := b.queues.PromoteScheduled(handle)
	var out []delivery
	if ok {
		out = b.wake(j.FunctionName)
	}
	b.mu.Unlock()

	b.deliverAll(out)
}

// Disconnect tears down a connection's broker-side state: its RUNNING,
// non-background jobs are requeued at the front of their priority queues
// (waking any worker that can now take them); its background RUNNING jobs
// are dropped outright (no waiters, nothing to report); its worker record
// is purged entirely. Per spec.md §4.6.
func (b *Broker) Disconnect(connID int) {
	b.mu.Lock()
	var out []delivery
	for _, j := range b.queues.JobsAssignedTo(connID) {
		if j.Background {
			b.queues.Remove(j.Handle)
			continue
		}
		b.queues.Requeue(j)
		out = append(out, b.wake(j.FunctionName)...)
	}
	b.workers.Remove(connID)
	b.mu.Unlock()

	b.deliverAll(out)
}

// Shutdown fails every in-flight RUNNING job back to its waiters with
// WORK_FAIL, per spec.md §5 cancellation. It does not stop accepting new
// work itself; the server package is responsible for the accept loop.
func (b *Broker) Shutdown() {
	b.mu.Lock()
	var out []delivery
	for _, j := range b.queues.AllRunning() {
		for _, connID := range j.WaiterList() {
			out = append(out, reply(connID, protocol.WORK_FAIL, []byte(j.Handle)))
		}
	}
	b.mu.Unlock()

	b.deliverAll(out)
}
