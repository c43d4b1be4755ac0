package queueset

import (
	"testing"
	"time"

	"github.com/smukkama/gearmand/internal/job"
)

func TestAddJobDedup(t *testing.T) {
	qs := New()

	j1 := job.New("reverse", "u1", []byte("p1"), job.Normal, false)
	result1, added1 := qs.AddJob(j1)
	if !added1 || result1 != j1 {
		t.Fatalf("first add: added=%v result=%v", added1, result1)
	}

	j2 := job.New("reverse", "u1", []byte("p2"), job.Normal, false)
	result2, added2 := qs.AddJob(j2)
	if added2 {
		t.Fatal("expected coalesce, got added=true")
	}
	if result2 != j1 {
		t.Fatal("expected the original job back on dedup")
	}

	// The payload delivered on grab must be the first submission's.
	got := qs.GetJob([]string{"reverse"})
	if got != j1 || string(got.Payload) != "p1" {
		t.Fatalf("got payload %q, want p1", got.Payload)
	}
}

func TestFIFOWithinPriority(t *testing.T) {
	qs := New()
	a, _ := qs.AddJob(job.New("f", "", []byte("a"), job.Normal, false))
	b, _ := qs.AddJob(job.New("f", "", []byte("b"), job.Normal, false))
	c, _ := qs.AddJob(job.New("f", "", []byte("c"), job.Normal, false))

	if got := qs.GetJob([]string{"f"}); got != a {
		t.Errorf("1st = %v, want a", got.Payload)
	}
	if got := qs.GetJob([]string{"f"}); got != b {
		t.Errorf("2nd = %v, want b", got.Payload)
	}
	if got := qs.GetJob([]string{"f"}); got != c {
		t.Errorf("3rd = %v, want c", got.Payload)
	}
}

func TestPriorityDominance(t *testing.T) {
	qs := New()
	low, _ := qs.AddJob(job.New("f", "", []byte("low"), job.Low, false))
	normal, _ := qs.AddJob(job.New("f", "", []byte("normal"), job.Normal, false))
	high, _ := qs.AddJob(job.New("f", "", []byte("high"), job.High, false))

	if got := qs.GetJob([]string{"f"}); got != high {
		t.Errorf("1st = %v, want high", got.Payload)
	}
	if got := qs.GetJob([]string{"f"}); got != normal {
		t.Errorf("2nd = %v, want normal", got.Payload)
	}
	if got := qs.GetJob([]string{"f"}); got != low {
		t.Errorf("3rd = %v, want low", got.Payload)
	}
}

func TestGetJobFunctionOrderAndEmpty(t *testing.T) {
	qs := New()
	if got := qs.GetJob([]string{"nope"}); got != nil {
		t.Errorf("expected nil from empty queue set, got %v", got)
	}

	fj, _ := qs.AddJob(job.New("second", "", []byte("x"), job.Normal, false))
	got := qs.GetJob([]string{"first", "second"})
	if got != fj {
		t.Errorf("expected job from second function when first is empty")
	}
}

func TestRequeuePlacesAtFront(t *testing.T) {
	qs := New()
	a, _ := qs.AddJob(job.New("f", "", []byte("a"), job.Normal, false))
	b, _ := qs.AddJob(job.New("f", "", []byte("b"), job.Normal, false))

	grabbed := qs.GetJob([]string{"f"})
	if grabbed != a {
		t.Fatalf("expected to grab a first")
	}
	grabbed.MarkRunning(5)

	qs.Requeue(grabbed)

	// a should now be ahead of b again.
	if got := qs.GetJob([]string{"f"}); got != a {
		t.Errorf("expected requeued job a back at front, got %v", got.Payload)
	}
	if got := qs.GetJob([]string{"f"}); got != b {
		t.Errorf("expected b second, got %v", got.Payload)
	}
}

func TestBackgroundJobNotRequeued(t *testing.T) {
	qs := New()
	bg, _ := qs.AddJob(job.New("f", "", []byte("bg"), job.Normal, true))
	qs.GetJob([]string{"f"})
	qs.Requeue(bg) // Requeue is a no-op for background jobs; broker should not call it,
	// but verify it is harmless regardless.
	if depth := qs.Depth("f"); depth != 0 {
		t.Errorf("background job should not be requeued, depth=%d", depth)
	}
}

func TestCompleteClearsUniqueIndex(t *testing.T) {
	qs := New()
	j, _ := qs.AddJob(job.New("f", "u1", []byte("x"), job.Normal, false))
	qs.GetJob([]string{"f"})
	qs.Complete(j.Handle)

	// A resubmission of the same (fname, unique) after completion must
	// create a fresh job, not coalesce with the completed one.
	j2, added := qs.AddJob(job.New("f", "u1", []byte("y"), job.Normal, false))
	if !added || j2 == j {
		t.Error("expected a brand new job after the original completed")
	}
}

func TestScheduledJobWithheldUntilPromoted(t *testing.T) {
	qs := New()
	when := time.Now().Add(time.Hour)

	j := job.New("f", "", []byte("later"), job.Normal, false)
	j.WhenToRun = &when
	_, added := qs.AddJob(j)
	if !added {
		t.Fatal("expected a fresh job")
	}

	if qs.Depth("f") != 0 {
		t.Fatalf("scheduled job must not be queued before promotion")
	}
	if _, ok := qs.ByHandle(j.Handle); !ok {
		t.Fatalf("scheduled job must still be reachable by handle")
	}

	promoted, ok := qs.PromoteScheduled(j.Handle)
	if !ok || promoted != j {
		t.Fatalf("expected PromoteScheduled to return the scheduled job")
	}
	if promoted.WhenToRun != nil {
		t.Errorf("expected WhenToRun cleared after promotion")
	}
	if qs.Depth("f") != 1 {
		t.Errorf("expected job queued after promotion, depth=%d", qs.Depth("f"))
	}
	if got := qs.GetJob([]string{"f"}); got != j {
		t.Errorf("expected promoted job to be gettable, got %v", got)
	}
}

func TestPromoteScheduledIdempotent(t *testing.T) {
	qs := New()
	when := time.Now().Add(time.Hour)

	j := job.New("f", "", []byte("later"), job.Normal, false)
	j.WhenToRun = &when
	qs.AddJob(j)

	if _, ok := qs.PromoteScheduled(j.Handle); !ok {
		t.Fatal("expected first promotion to succeed")
	}
	if _, ok := qs.PromoteScheduled(j.Handle); ok {
		t.Error("expected second promotion of the same handle to be a no-op")
	}
	if qs.Depth("f") != 1 {
		t.Errorf("double promotion must not duplicate the job in its queue, depth=%d", qs.Depth("f"))
	}
}

func TestPromoteScheduledUnknownHandle(t *testing.T) {
	qs := New()
	if _, ok := qs.PromoteScheduled("no-such-handle"); ok {
		t.Error("expected promotion of an unknown handle to report false")
	}
}

func TestPromoteScheduledRacesDisconnect(t *testing.T) {
	qs := New()
	j, _ := qs.AddJob(job.New("f", "", []byte("x"), job.Normal, false))

	qs.GetJob([]string{"f"})
	j.MarkRunning(5)
	qs.Complete(j.Handle)

	// A job that was never scheduled (WhenToRun nil) or has already gone
	// terminal before its timer callback fires must not be promoted.
	if _, ok := qs.PromoteScheduled(j.Handle); ok {
		t.Error("expected promotion of a completed, non-scheduled job to report false")
	}
}
