package delay

import (
	"errors"
	"testing"
)

func TestQueue_FiresOnExactTick(t *testing.T) {
	var q Queue
	fired := 0
	if err := q.Schedule(3, func() error { fired++; return nil }); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	for i := 1; i <= 2; i++ {
		if err := q.AdvanceOneTick(); err != nil {
			t.Fatalf("advance %d: %v", i, err)
		}
		if fired != 0 {
			t.Fatalf("fired after %d ticks, want after 3", i)
		}
	}
	if err := q.AdvanceOneTick(); err != nil {
		t.Fatalf("advance 3: %v", err)
	}
	if fired != 1 {
		t.Fatalf("fired=%d after third tick, want 1", fired)
	}
	for i := 0; i < 3; i++ {
		_ = q.AdvanceOneTick()
	}
	if fired != 1 {
		t.Fatalf("fired=%d, callback must run exactly once", fired)
	}
}

func TestQueue_FIFOWithinTick(t *testing.T) {
	var q Queue
	var order []string
	_ = q.Schedule(2, func() error { order = append(order, "a"); return nil })
	_ = q.Schedule(1, func() error { order = append(order, "early"); return nil })
	_ = q.Schedule(2, func() error { order = append(order, "b"); return nil })

	_ = q.AdvanceOneTick()
	_ = q.AdvanceOneTick()

	want := []string{"early", "a", "b"}
	if len(order) != len(want) {
		t.Fatalf("order=%v want %v", order, want)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("order=%v want %v", order, want)
		}
	}
}

func TestQueue_ZeroDelayRunsSynchronously(t *testing.T) {
	var q Queue
	ran := false
	if err := q.Schedule(0, func() error { ran = true; return nil }); err != nil {
		t.Fatalf("schedule: %v", err)
	}
	if !ran {
		t.Fatalf("zero delay callback did not run synchronously")
	}
	if q.Len() != 0 {
		t.Fatalf("zero delay must not allocate slots: len=%d", q.Len())
	}

	boom := errors.New("boom")
	if err := q.Schedule(0, func() error { return boom }); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
}

func TestQueue_NegativeDelayRejected(t *testing.T) {
	var q Queue
	if err := q.Schedule(-1, func() error { return nil }); err == nil {
		t.Fatalf("expected error for negative delay")
	}
}

func TestQueue_DropFrontOnlyWhenEmpty(t *testing.T) {
	var q Queue
	fired := false
	_ = q.Schedule(2, func() error { fired = true; return nil })
	if !q.FrontEmpty() {
		t.Fatalf("front slot should be empty")
	}
	if !q.DropFront() {
		t.Fatalf("expected empty front slot to be dropped")
	}
	if q.FrontEmpty() {
		t.Fatalf("callback should now be due next tick")
	}
	if q.DropFront() {
		t.Fatalf("must not drop a slot holding callbacks")
	}
	_ = q.AdvanceOneTick()
	if !fired {
		t.Fatalf("callback should fire one tick early after DropFront")
	}
}

func TestQueue_ErrorAbortsRemainingCallbacks(t *testing.T) {
	var q Queue
	boom := errors.New("boom")
	ranSecond := false
	_ = q.Schedule(1, func() error { return boom })
	_ = q.Schedule(1, func() error { ranSecond = true; return nil })
	if err := q.AdvanceOneTick(); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if ranSecond {
		t.Fatalf("callbacks after a failure must not run")
	}
}

func TestQueue_CallbackSchedulesIntoShiftedQueue(t *testing.T) {
	var q Queue
	fired := 0
	_ = q.Schedule(1, func() error {
		return q.Schedule(1, func() error { fired++; return nil })
	})
	_ = q.AdvanceOneTick()
	if fired != 0 {
		t.Fatalf("nested callback fired in the same tick")
	}
	_ = q.AdvanceOneTick()
	if fired != 1 {
		t.Fatalf("nested callback fired=%d want 1", fired)
	}
	if q.Pending() != 0 {
		t.Fatalf("pending=%d want 0", q.Pending())
	}
}
