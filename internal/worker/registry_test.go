package worker

import "testing"

func TestCanDoIdempotent(t *testing.T) {
	r := New()
	r.CanDo(1, "reverse", nil)
	r.CanDo(1, "reverse", nil)
	r.CanDo(1, "uppercase", nil)

	w, ok := r.Get(1)
	if !ok {
		t.Fatal("expected worker record")
	}
	if got := w.Functions(); len(got) != 2 {
		t.Errorf("expected 2 distinct abilities, got %v", got)
	}
}

func TestFunctionDeclarationOrderPreserved(t *testing.T) {
	r := New()
	r.CanDo(1, "c", nil)
	r.CanDo(1, "a", nil)
	r.CanDo(1, "b", nil)

	w, _ := r.Get(1)
	got := w.Functions()
	want := []string{"c", "a", "b"}
	for i, name := range want {
		if got[i] != name {
			t.Errorf("order[%d] = %s, want %s", i, got[i], name)
		}
	}
}

func TestCantDoRemovesAbility(t *testing.T) {
	r := New()
	r.CanDo(1, "reverse", nil)
	r.CantDo(1, "reverse")

	w, _ := r.Get(1)
	if w.CanDo("reverse") {
		t.Error("expected reverse ability removed")
	}
	if len(w.Functions()) != 0 {
		t.Error("expected empty function order after removal")
	}
}

func TestSleepAndWake(t *testing.T) {
	r := New()
	r.CanDo(1, "reverse", nil)
	r.CanDo(2, "other", nil)
	r.Sleep(1)
	r.Sleep(2)

	woken := r.Wake("reverse")
	if len(woken) != 1 || woken[0] != 1 {
		t.Errorf("expected only conn 1 woken, got %v", woken)
	}

	w1, _ := r.Get(1)
	if w1.Sleeping {
		t.Error("conn 1 should no longer be sleeping")
	}
	w2, _ := r.Get(2)
	if !w2.Sleeping {
		t.Error("conn 2 (unrelated function) should still be sleeping")
	}
}

func TestWakeOnlyWakesOnce(t *testing.T) {
	r := New()
	r.CanDo(1, "reverse", nil)
	r.Sleep(1)

	first := r.Wake("reverse")
	second := r.Wake("reverse")

	if len(first) != 1 {
		t.Fatalf("expected first wake to return 1 connection, got %v", first)
	}
	if len(second) != 0 {
		t.Errorf("expected second wake to be a no-op, got %v", second)
	}
}

func TestRemovePurgesWorker(t *testing.T) {
	r := New()
	r.CanDo(1, "reverse", nil)
	r.Remove(1)

	if _, ok := r.Get(1); ok {
		t.Error("expected worker record removed")
	}
}

func TestFunctionWorkerCount(t *testing.T) {
	r := New()
	r.CanDo(1, "reverse", nil)
	r.CanDo(2, "reverse", nil)
	r.CanDo(3, "other", nil)

	if got := r.FunctionWorkerCount("reverse"); got != 2 {
		t.Errorf("count = %d, want 2", got)
	}
}
