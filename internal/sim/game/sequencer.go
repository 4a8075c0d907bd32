package game

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
)

// ErrSequencerFailed is returned by every Submit after a command failed to
// apply.
var ErrSequencerFailed = errors.New("command sequencer failed")

// ApplyFunc applies one command to the world and publishes it.
type ApplyFunc func(msg protocol.Message) error

// Sequencer applies server commands strictly in submission order. A command
// submitted while another is being applied (re-entrantly, from inside the
// apply) is appended to the running drain instead of starting a nested one.
type Sequencer struct {
	apply ApplyFunc
	log   logrus.FieldLogger

	pending  []protocol.Message
	draining bool
	failed   error

	waiters []waiter
}

// waiter runs once the queue empties. abort, when set, runs instead if the
// sequencer fails first.
type waiter struct {
	run   func()
	abort func()
}

// NewSequencer returns an idle sequencer that applies commands with apply.
func NewSequencer(apply ApplyFunc, logger logrus.FieldLogger) *Sequencer {
	return &Sequencer{apply: apply, log: logger}
}

// Submit queues msg. If no drain is running it drains the queue, including
// anything submitted during the drain, before returning. An apply error
// stops the drain, leaves the remaining commands unapplied and fails the
// sequencer for good.
func (s *Sequencer) Submit(msg protocol.Message) error {
	if s.failed != nil {
		return fmt.Errorf("%w: %w", ErrSequencerFailed, s.failed)
	}
	s.pending = append(s.pending, msg)
	if s.draining {
		return nil
	}

	s.draining = true
	for len(s.pending) > 0 {
		cmd := s.pending[0]
		if err := s.apply(cmd); err != nil {
			s.failed = fmt.Errorf("apply %s: %w", cmd.Kind(), err)
			s.draining = false
			s.log.WithError(err).WithFields(logrus.Fields{
				"kind":      cmd.Kind(),
				"unapplied": len(s.pending) - 1,
			}).Error("server command failed; sequencer halted")
			s.abortWaiters()
			return s.failed
		}
		s.pending[0] = nil
		s.pending = s.pending[1:]
	}
	s.pending = nil
	s.draining = false

	s.releaseWaiters()
	return nil
}

// WhenEmpty runs fn once no command is queued or being applied: immediately
// if the sequencer is idle, otherwise right after the current drain. fn never
// runs once the sequencer has failed.
func (s *Sequencer) WhenEmpty(fn func()) {
	s.whenEmpty(waiter{run: fn})
}

// WaitForEmpty returns a channel closed once the command queue is empty, or
// once the sequencer fails; check Err after it closes.
func (s *Sequencer) WaitForEmpty() <-chan struct{} {
	done := make(chan struct{})
	release := func() { close(done) }
	s.whenEmpty(waiter{run: release, abort: release})
	return done
}

func (s *Sequencer) whenEmpty(w waiter) {
	switch {
	case s.failed != nil:
		if w.abort != nil {
			w.abort()
		}
	case s.idle():
		s.runWaiter(w.run)
	default:
		s.waiters = append(s.waiters, w)
	}
}

// Err returns the error that halted the sequencer, if any.
func (s *Sequencer) Err() error { return s.failed }

// Pending is the number of commands queued but not yet fully applied.
func (s *Sequencer) Pending() int { return len(s.pending) }

func (s *Sequencer) idle() bool {
	return !s.draining && len(s.pending) == 0
}

func (s *Sequencer) releaseWaiters() {
	for s.idle() && s.failed == nil && len(s.waiters) > 0 {
		w := s.waiters[0]
		s.waiters[0] = waiter{}
		s.waiters = s.waiters[1:]
		s.runWaiter(w.run)
	}
}

func (s *Sequencer) abortWaiters() {
	waiters := s.waiters
	s.waiters = nil
	for _, w := range waiters {
		if w.abort != nil {
			w.abort()
		}
	}
	if len(waiters) > 0 {
		s.log.WithField("waiters", len(waiters)).Warn("queue-empty callbacks dropped")
	}
}

func (s *Sequencer) runWaiter(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			s.log.WithField("panic", r).Error("error in queued callback")
		}
	}()
	fn()
}
