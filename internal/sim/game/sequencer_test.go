package game

import (
	"errors"
	"testing"

	logtest "github.com/sirupsen/logrus/hooks/test"

	"arena.ai/internal/protocol"
)

func chat(text string) protocol.Message { return &protocol.ChatMsg{Text: text} }

func texts(msgs []protocol.Message) []string {
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		out = append(out, m.(*protocol.ChatMsg).Text)
	}
	return out
}

func sameStrings(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestSequencer_ReentrantSubmitAppendsToDrain(t *testing.T) {
	var seq *Sequencer
	var applied []protocol.Message
	seq = NewSequencer(func(m protocol.Message) error {
		applied = append(applied, m)
		switch m.(*protocol.ChatMsg).Text {
		case "1":
			if err := seq.Submit(chat("2")); err != nil {
				return err
			}
			if err := seq.Submit(chat("3")); err != nil {
				return err
			}
		case "2":
			if err := seq.Submit(chat("4")); err != nil {
				return err
			}
		}
		return nil
	}, quietLogger())

	if err := seq.Submit(chat("1")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := []string{"1", "2", "3", "4"}
	if got := texts(applied); !sameStrings(got, want) {
		t.Fatalf("apply order=%v want %v", got, want)
	}
	if seq.Pending() != 0 {
		t.Fatalf("pending=%d after drain", seq.Pending())
	}
}

func TestSequencer_WaitersRunAfterDrainInOrder(t *testing.T) {
	logger, hook := logtest.NewNullLogger()
	var seq *Sequencer
	var events []string
	seq = NewSequencer(func(m protocol.Message) error {
		text := m.(*protocol.ChatMsg).Text
		events = append(events, "apply "+text)
		if text == "first" {
			seq.WhenEmpty(func() { events = append(events, "waiter a") })
			seq.WhenEmpty(func() { panic("boom") })
			seq.WhenEmpty(func() { events = append(events, "waiter b") })
			_ = seq.Submit(chat("second"))
		}
		return nil
	}, logger)

	if err := seq.Submit(chat("first")); err != nil {
		t.Fatalf("submit: %v", err)
	}
	want := []string{"apply first", "apply second", "waiter a", "waiter b"}
	if !sameStrings(events, want) {
		t.Fatalf("events=%v want %v", events, want)
	}
	if len(hook.Entries) != 1 || hook.LastEntry().Message != "error in queued callback" {
		t.Fatalf("expected one logged waiter panic, got %v", hook.Entries)
	}
}

func TestSequencer_WhenEmptyRunsImmediatelyWhenIdle(t *testing.T) {
	seq := NewSequencer(func(protocol.Message) error { return nil }, quietLogger())
	ran := false
	seq.WhenEmpty(func() { ran = true })
	if !ran {
		t.Fatalf("waiter on idle sequencer should run at once")
	}
	select {
	case <-seq.WaitForEmpty():
	default:
		t.Fatalf("WaitForEmpty on idle sequencer should be closed")
	}
}

func TestSequencer_ApplyFailureHaltsSequencer(t *testing.T) {
	boom := errors.New("boom")
	var seq *Sequencer
	var applied []string
	seq = NewSequencer(func(m protocol.Message) error {
		text := m.(*protocol.ChatMsg).Text
		applied = append(applied, text)
		switch text {
		case "1":
			_ = seq.Submit(chat("2"))
			_ = seq.Submit(chat("3"))
		case "2":
			return boom
		}
		return nil
	}, quietLogger())

	waiterRan := false
	seq.waiters = append(seq.waiters, waiter{run: func() { waiterRan = true }})

	err := seq.Submit(chat("1"))
	if !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	if !sameStrings(applied, []string{"1", "2"}) {
		t.Fatalf("applied=%v, command after the failure must stay unapplied", applied)
	}
	if waiterRan {
		t.Fatalf("waiters must not be released by a failed drain")
	}

	err = seq.Submit(chat("4"))
	if !errors.Is(err, ErrSequencerFailed) || !errors.Is(err, boom) {
		t.Fatalf("err=%v want ErrSequencerFailed wrapping boom", err)
	}
	if !errors.Is(seq.Err(), boom) {
		t.Fatalf("Err()=%v", seq.Err())
	}
	if len(applied) != 2 {
		t.Fatalf("failed sequencer applied %v", applied)
	}
}

func TestSequencer_FailureReleasesEmptyQueueWaits(t *testing.T) {
	boom := errors.New("boom")
	var seq *Sequencer
	var early <-chan struct{}
	bound := false
	seq = NewSequencer(func(m protocol.Message) error {
		switch m.(*protocol.ChatMsg).Text {
		case "1":
			early = seq.WaitForEmpty()
			seq.WhenEmpty(func() { bound = true })
			_ = seq.Submit(chat("2"))
		case "2":
			return boom
		}
		return nil
	}, quietLogger())

	if err := seq.Submit(chat("1")); !errors.Is(err, boom) {
		t.Fatalf("err=%v want boom", err)
	}
	select {
	case <-early:
	default:
		t.Fatalf("wait registered before the failure still open")
	}
	if bound {
		t.Fatalf("queue-empty callback ran after a failed drain")
	}

	select {
	case <-seq.WaitForEmpty():
	default:
		t.Fatalf("wait on a failed sequencer never closes")
	}
	late := false
	seq.WhenEmpty(func() { late = true })
	if late {
		t.Fatalf("callback ran on a failed sequencer")
	}
	if !errors.Is(seq.Err(), boom) {
		t.Fatalf("Err()=%v", seq.Err())
	}
}
