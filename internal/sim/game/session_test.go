package game

import (
	"testing"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
)

func TestSession_PerAgentCompensation(t *testing.T) {
	g, w, _ := newTestGame(t)
	_, sa, _ := joinedAgent(t, g, w, "a")
	_, sb, _ := joinedAgent(t, g, w, "b")
	w.tick = 100
	sa.currentDelay = 2
	sb.currentDelay = 5

	if err := sa.HandleRequest(&protocol.PlayerInputMsg{Tick: 100, DX: 1}); err != nil {
		t.Fatalf("a request: %v", err)
	}
	if err := sb.HandleRequest(&protocol.PlayerInputMsg{Tick: 100, DX: -1}); err != nil {
		t.Fatalf("b request: %v", err)
	}
	if got := w.kinds(protocol.KindPlayerMove); len(got) != 0 {
		t.Fatalf("moves applied before their tick: %v", got)
	}

	step(t, g, 5)

	var landed []int
	var dx []int
	for _, a := range w.consumed {
		if m, ok := a.msg.(*protocol.PlayerMoveMsg); ok {
			landed = append(landed, a.tick)
			dx = append(dx, m.DX)
		}
	}
	if len(landed) != 2 || landed[0] != 102 || landed[1] != 105 {
		t.Fatalf("moves landed on %v, want [102 105]", landed)
	}
	if dx[0] != 1 || dx[1] != -1 {
		t.Fatalf("moves out of agent order: dx=%v", dx)
	}
}

func TestSession_LatencySpikeForcesSingleResync(t *testing.T) {
	g, w, _ := newTestGame(t)
	a, s, p := joinedAgent(t, g, w, "spiky")
	w.tick = 1000
	s.currentDelay = 2

	if err := s.HandleRequest(&protocol.PlayerInputMsg{Tick: 999}); err != nil {
		t.Fatalf("request: %v", err)
	}
	if err := s.HandleRequest(&protocol.PlayerInputMsg{Tick: 950}); err != nil {
		t.Fatalf("spike request: %v", err)
	}

	want := 50 + protocol.LagBuffer
	if s.CurrentDelay() != want {
		t.Fatalf("currentDelay=%d want %d", s.CurrentDelay(), want)
	}
	if s.RecentDelay() != want {
		t.Fatalf("recentDelay=%d want %d", s.RecentDelay(), want)
	}
	if len(p.resyncs) != 1 {
		t.Fatalf("resyncs=%v want exactly one", p.resyncs)
	}
	if d := a.delays(); len(d) != 1 || d[0] != want {
		t.Fatalf("delay notices=%v want [%d]", d, want)
	}
	// The spiking request itself is superseded by the resync.
	if s.PendingCallbacks() != 1 {
		t.Fatalf("pending=%d want only the pre-spike request", s.PendingCallbacks())
	}

	// Same lag again sits inside the new window: scheduled, no resync.
	if err := s.HandleRequest(&protocol.PlayerInputMsg{Tick: 950}); err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(p.resyncs) != 1 {
		t.Fatalf("second request inside window resynced again: %v", p.resyncs)
	}
	if s.PendingCallbacks() != 2 {
		t.Fatalf("pending=%d want 2", s.PendingCallbacks())
	}
}

func TestSession_SmallLagIsNotPadded(t *testing.T) {
	g, w, _ := newTestGame(t)
	_, s, _ := joinedAgent(t, g, w, "near")
	w.tick = 10
	s.currentDelay = 1

	if err := s.HandleRequest(&protocol.PlayerInputMsg{Tick: 10 - protocol.LagThreshold}); err != nil {
		t.Fatalf("request: %v", err)
	}
	if s.CurrentDelay() != protocol.LagThreshold {
		t.Fatalf("currentDelay=%d want %d", s.CurrentDelay(), protocol.LagThreshold)
	}
}

func TestSession_TickWraparound(t *testing.T) {
	g, w, _ := newTestGame(t)
	_, s, p := joinedAgent(t, g, w, "wrap")
	w.tick = 1
	s.currentDelay = 5

	if err := s.HandleRequest(&protocol.PlayerInputMsg{Tick: protocol.TickLimit - 2}); err != nil {
		t.Fatalf("request: %v", err)
	}
	if len(p.resyncs) != 0 || s.CurrentDelay() != 5 {
		t.Fatalf("3 ticks across the wrap treated as a spike: delay=%d resyncs=%v", s.CurrentDelay(), p.resyncs)
	}
	step(t, g, 2)
	if got := w.landed(protocol.KindPlayerMove); len(got) != 1 || got[0] != 3 {
		t.Fatalf("move landed on %v, want [3]", got)
	}
}

func TestSession_ResyncAckOnSpikeIsRealigned(t *testing.T) {
	g, w, _ := newTestGame(t)
	a, s, p := joinedAgent(t, g, w, "acker")
	w.tick = 200
	s.currentDelay = 2
	p.resyncing = true
	p.ackOK = true

	if err := s.HandleRequest(&protocol.ResyncAcknowledgedMsg{Tick: 190}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if len(p.resyncs) != 0 {
		t.Fatalf("an acknowledgement must not force a resync: %v", p.resyncs)
	}
	if s.CurrentDelay() != 13 {
		t.Fatalf("currentDelay=%d want 13", s.CurrentDelay())
	}
	if d := a.delays(); len(d) != 1 || d[0] != 13 {
		t.Fatalf("delay notices=%v", d)
	}
	step(t, g, protocol.LagBuffer)
	if got := w.landed(protocol.KindResyncComplete); len(got) != 1 || got[0] != 203 {
		t.Fatalf("resync completed on %v, want [203]", got)
	}
	if p.Resyncing() {
		t.Fatalf("player still resyncing")
	}
}

func TestSession_StaleResyncAckResends(t *testing.T) {
	g, w, _ := newTestGame(t)
	_, s, p := joinedAgent(t, g, w, "stale")
	s.currentDelay = 0
	p.resyncing = true
	p.ackOK = false

	if err := s.HandleRequest(&protocol.ResyncAcknowledgedMsg{Tick: w.tick}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	if len(p.resyncs) != 1 {
		t.Fatalf("mismatching ack should resend the resync: %v", p.resyncs)
	}
	if got := w.kinds(protocol.KindResyncComplete); len(got) != 0 {
		t.Fatalf("resync completed on a mismatching ack")
	}
}

func TestSession_UntimestampedRequestsSkipTheQueue(t *testing.T) {
	g, w, _ := newTestGame(t)
	_, s, _ := joinedAgent(t, g, w, "talker")
	if s.CurrentDelay() != protocol.InitialAssumedLatency {
		t.Fatalf("initial delay=%d", s.CurrentDelay())
	}
	if err := s.HandleRequest(&protocol.ChatRequestMsg{Text: "hi"}); err != nil {
		t.Fatalf("chat: %v", err)
	}
	if got := w.kinds(protocol.KindChat); len(got) != 1 {
		t.Fatalf("chat not applied synchronously: %v", w.kinds())
	}
	if s.PendingCallbacks() != 0 {
		t.Fatalf("pending=%d", s.PendingCallbacks())
	}
}

func TestSession_DelayFallsOneTickAtATime(t *testing.T) {
	g, w, _ := newTestGame(t)
	a, s, p := joinedAgent(t, g, w, "calm")
	s.currentDelay = 10
	s.idealDelay = 2
	s.recentDelay = -1
	p.static = true

	step(t, g, 1)
	if s.CurrentDelay() != 9 {
		t.Fatalf("after one tick currentDelay=%d want 9", s.CurrentDelay())
	}
	step(t, g, 3)
	if s.CurrentDelay() != 6 {
		t.Fatalf("after four ticks currentDelay=%d want 6", s.CurrentDelay())
	}
	if d := a.delays(); len(d) != 4 || d[3] != 6 {
		t.Fatalf("delay notices=%v", d)
	}

	p.static = false
	step(t, g, 3)
	if s.CurrentDelay() != 6 {
		t.Fatalf("delay shrank while player was moving: %d", s.CurrentDelay())
	}

	p.static = true
	step(t, g, 10)
	if s.CurrentDelay() != 2 {
		t.Fatalf("delay=%d, must settle at the ideal delay 2", s.CurrentDelay())
	}
}

func TestSession_CatchUpNeverReordersPendingRequest(t *testing.T) {
	g, w, _ := newTestGame(t)
	_, s, p := joinedAgent(t, g, w, "busy")
	w.tick = 50
	s.currentDelay = 3
	s.idealDelay = 0
	p.static = true

	// Lands in the front slot: catch-up must wait for it.
	if err := s.HandleRequest(&protocol.PlayerInputMsg{Tick: 48}); err != nil {
		t.Fatalf("request: %v", err)
	}
	step(t, g, 1)
	if s.CurrentDelay() != 3 {
		t.Fatalf("caught up over a due request: delay=%d", s.CurrentDelay())
	}
	if got := w.landed(protocol.KindPlayerMove); len(got) != 1 || got[0] != 51 {
		t.Fatalf("move landed on %v, want [51]", got)
	}
	step(t, g, 1)
	if s.CurrentDelay() != 2 {
		t.Fatalf("delay=%d want 2 once the front slot is free", s.CurrentDelay())
	}
	step(t, g, 5)
	if s.CurrentDelay() != 2 {
		t.Fatalf("delay=%d fell below the recent measurement", s.CurrentDelay())
	}
}

func TestSession_NoLatencyDataStillFiresQueue(t *testing.T) {
	g, w, _ := newTestGame(t)
	a, s, p := joinedAgent(t, g, w, "quiet")
	w.tick = 10
	s.currentDelay = 3
	p.static = true
	if err := s.HandleRequest(&protocol.PlayerInputMsg{Tick: 10}); err != nil {
		t.Fatalf("request: %v", err)
	}
	s.UpdateDelays()
	s.UpdateDelays()
	if s.IdealDelay() != -1 || s.RecentDelay() != -1 {
		t.Fatalf("ideal=%d recent=%d", s.IdealDelay(), s.RecentDelay())
	}
	step(t, g, 3)
	if s.CurrentDelay() != 3 {
		t.Fatalf("delay changed without latency data: %d", s.CurrentDelay())
	}
	if got := w.landed(protocol.KindPlayerMove); len(got) != 1 || got[0] != 13 {
		t.Fatalf("move landed on %v, want [13]", got)
	}
	if len(a.delays()) != 0 {
		t.Fatalf("unexpected delay notices %v", a.delays())
	}
}

func TestSession_UpdateDelaysSlidesWindow(t *testing.T) {
	g, w, _ := newTestGame(t)
	_, s, _ := joinedAgent(t, g, w, "window")
	w.tick = 100
	if err := s.HandleRequest(&protocol.PlayerInputMsg{Tick: 96}); err != nil {
		t.Fatalf("request: %v", err)
	}
	if s.RecentDelay() != 4+protocol.LagBuffer {
		t.Fatalf("recent=%d", s.RecentDelay())
	}
	g.UpdateDelays()
	if s.IdealDelay() != 4+protocol.LagBuffer || s.RecentDelay() != -1 {
		t.Fatalf("ideal=%d recent=%d", s.IdealDelay(), s.RecentDelay())
	}
}

func TestSession_MissedDeathNoticeForcesResync(t *testing.T) {
	g, w, hook := newTestGame(t)
	_, s, p := joinedAgent(t, g, w, "ghost")
	s.currentDelay = 2

	if err := g.SendServerCommand(&protocol.KillPlayerMsg{PlayerID: p.id}); err != nil {
		t.Fatalf("kill: %v", err)
	}
	step(t, g, 3)
	if len(p.resyncs) != 0 {
		t.Fatalf("death check fired early")
	}
	step(t, g, 1)
	if len(p.resyncs) != 1 {
		t.Fatalf("resyncs=%v want one after currentDelay+1 ticks", p.resyncs)
	}
	warned := false
	for _, e := range hook.AllEntries() {
		if e.Level == logrus.WarnLevel && e.Message == "player did not notice death" {
			warned = true
		}
	}
	if !warned {
		t.Fatalf("missing warning for unnoticed death")
	}
	step(t, g, 10)
	if len(p.resyncs) != 1 {
		t.Fatalf("death check fired more than once: %v", p.resyncs)
	}
}

func TestSession_DeathAcknowledgedCancelsCheck(t *testing.T) {
	g, w, _ := newTestGame(t)
	a, s, p := joinedAgent(t, g, w, "mortal")
	s.currentDelay = 2

	if err := g.SendServerCommand(&protocol.KillPlayerMsg{PlayerID: p.id}); err != nil {
		t.Fatalf("kill: %v", err)
	}
	step(t, g, 1)
	if err := g.AgentRequest(a, &protocol.DeathAcknowledgedMsg{Tick: w.tick}); err != nil {
		t.Fatalf("ack: %v", err)
	}
	step(t, g, 10)
	if !p.AllDead() {
		t.Fatalf("death acknowledgement not applied")
	}
	if len(p.resyncs) != 0 {
		t.Fatalf("acknowledged death still resynced: %v", p.resyncs)
	}
}

func TestSession_DetachCancelsDeathCheckAndRequests(t *testing.T) {
	g, w, _ := newTestGame(t)
	a, s, p := joinedAgent(t, g, w, "leaver")
	s.currentDelay = 2
	w.tick = 20

	if err := g.SendServerCommand(&protocol.KillPlayerMsg{PlayerID: p.id}); err != nil {
		t.Fatalf("kill: %v", err)
	}
	if err := s.HandleRequest(&protocol.PlayerInputMsg{Tick: 20}); err != nil {
		t.Fatalf("request: %v", err)
	}
	step(t, g, 1)
	if err := g.DetachAgent(a); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if s.PendingCallbacks() != 0 {
		t.Fatalf("pending=%d after detach", s.PendingCallbacks())
	}
	step(t, g, 10)
	if len(p.resyncs) != 0 {
		t.Fatalf("death check ran for a detached agent")
	}
	if got := w.kinds(protocol.KindPlayerMove); len(got) != 0 {
		t.Fatalf("request of a detached agent was applied")
	}
}
