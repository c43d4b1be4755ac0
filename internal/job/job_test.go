package job

import "testing"

func TestNewJobIsQueued(t *testing.T) {
	j := New("reverse", "u1", []byte("abc"), Normal, false)
	if j.State() != Queued {
		t.Errorf("new job state = %v, want Queued", j.State())
	}
	if j.Handle == "" {
		t.Error("expected non-empty handle")
	}
}

func TestHandlesAreUnique(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		j := New("f", "", nil, Normal, false)
		if seen[j.Handle] {
			t.Fatalf("duplicate handle: %s", j.Handle)
		}
		seen[j.Handle] = true
	}
}

func TestRunningLifecycle(t *testing.T) {
	j := New("f", "u", nil, Normal, false)
	j.MarkRunning(7)

	if j.State() != Running {
		t.Errorf("state = %v, want Running", j.State())
	}
	connID, ok := j.Assignee()
	if !ok || connID != 7 {
		t.Errorf("assignee = (%d,%v), want (7,true)", connID, ok)
	}

	j.MarkQueued()
	if j.State() != Queued {
		t.Errorf("state after requeue = %v, want Queued", j.State())
	}
	if _, ok := j.Assignee(); ok {
		t.Error("expected no assignee after requeue")
	}
}

func TestBackgroundJobHasNoWaiters(t *testing.T) {
	j := New("f", "u", nil, Normal, true)
	j.AddWaiter(1)
	if len(j.WaiterList()) != 0 {
		t.Errorf("background job should never gain waiters, got %v", j.WaiterList())
	}
}

func TestForegroundWaiters(t *testing.T) {
	j := New("f", "u", nil, Normal, false)
	j.AddWaiter(1)
	j.AddWaiter(2)
	j.AddWaiter(1) // idempotent

	waiters := j.WaiterList()
	if len(waiters) != 2 {
		t.Errorf("expected 2 waiters, got %v", waiters)
	}

	j.RemoveWaiter(1)
	if len(j.WaiterList()) != 1 {
		t.Errorf("expected 1 waiter after removal, got %v", j.WaiterList())
	}
}
