package game

import (
	"encoding/json"
	"errors"
	"io"
	"testing"

	"github.com/sirupsen/logrus"
	logtest "github.com/sirupsen/logrus/hooks/test"

	"arena.ai/internal/protocol"
)

type fakePlayer struct {
	id        protocol.PlayerID
	nick      string
	team      protocol.Team
	dead      bool
	allDead   bool
	static    bool
	resyncing bool
	ackOK     bool

	resyncs []string
	agent   Agent
}

func (p *fakePlayer) ID() protocol.PlayerID         { return p.id }
func (p *fakePlayer) Nick() string                  { return p.nick }
func (p *fakePlayer) Team() protocol.Team           { return p.team }
func (p *fakePlayer) Dead() bool                    { return p.dead }
func (p *fakePlayer) AllDead() bool                 { return p.allDead }
func (p *fakePlayer) WillNotChangeOnNextTick() bool { return p.static }
func (p *fakePlayer) Resyncing() bool               { return p.resyncing }
func (p *fakePlayer) BindAgent(a Agent)             { p.agent = a }

func (p *fakePlayer) MatchesAck(*protocol.ResyncAcknowledgedMsg) bool { return p.ackOK }

func (p *fakePlayer) SendResync(reason string, isError bool) error {
	p.resyncs = append(p.resyncs, reason)
	p.resyncing = true
	return nil
}

// applied records a consumed command with the world tick it landed on.
type applied struct {
	msg  protocol.Message
	tick int
}

type fakeWorld struct {
	tick     int
	players  map[protocol.PlayerID]*fakePlayer
	order    []protocol.PlayerID
	units    []Collectible
	listener Listener
	consumed []applied

	// onConsume runs after the built-in handling of every command.
	onConsume func(msg protocol.Message) error
	restored  json.RawMessage
}

func newFakeWorld() *fakeWorld {
	return &fakeWorld{players: make(map[protocol.PlayerID]*fakePlayer)}
}

func (w *fakeWorld) LastTickID() int { return w.tick }

func (w *fakeWorld) Consume(msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.TickMsg:
		w.tick = m.Tick
	case *protocol.AddPlayerMsg:
		w.players[m.PlayerID] = &fakePlayer{id: m.PlayerID, nick: m.Nick, team: m.Team}
		w.order = append(w.order, m.PlayerID)
	case *protocol.RemovePlayerMsg:
		p, ok := w.players[m.PlayerID]
		if !ok {
			return errors.New("no such player")
		}
		if w.listener != nil {
			w.listener.PlayerRemoved(p)
		}
		delete(w.players, m.PlayerID)
		for i, id := range w.order {
			if id == m.PlayerID {
				w.order = append(w.order[:i], w.order[i+1:]...)
				break
			}
		}
	case *protocol.KillPlayerMsg:
		p := w.players[m.PlayerID]
		p.dead = true
		if w.listener != nil {
			w.listener.PlayerDied(p)
		}
	case *protocol.PlayerAllDeadMsg:
		p := w.players[m.PlayerID]
		p.allDead = true
		if w.listener != nil {
			w.listener.PlayerAllDead(p)
		}
	case *protocol.ResyncCompleteMsg:
		w.players[m.PlayerID].resyncing = false
	}
	w.consumed = append(w.consumed, applied{msg: msg, tick: w.tick})
	if w.onConsume != nil {
		return w.onConsume(msg)
	}
	return nil
}

func (w *fakeWorld) GetPlayer(id protocol.PlayerID) Player {
	p, ok := w.players[id]
	if !ok {
		return nil
	}
	return p
}

func (w *fakeWorld) Players() []Player {
	out := make([]Player, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.players[id])
	}
	return out
}

func (w *fakeWorld) CollectableUnits() []Collectible { return w.units }
func (w *fakeWorld) SetListener(l Listener)          { w.listener = l }

func (w *fakeWorld) Restore(dump json.RawMessage) error {
	w.restored = dump
	var st struct {
		Tick int `json:"tick"`
	}
	if err := json.Unmarshal(dump, &st); err != nil {
		return err
	}
	w.tick = st.Tick
	return nil
}

// kinds lists the consumed command kinds, optionally filtered.
func (w *fakeWorld) kinds(only ...protocol.Kind) []protocol.Kind {
	var out []protocol.Kind
	for _, a := range w.consumed {
		k := a.msg.Kind()
		if len(only) == 0 {
			out = append(out, k)
			continue
		}
		for _, o := range only {
			if k == o {
				out = append(out, k)
			}
		}
	}
	return out
}

// landed returns the ticks on which commands of kind k were applied.
func (w *fakeWorld) landed(k protocol.Kind) []int {
	var out []int
	for _, a := range w.consumed {
		if a.msg.Kind() == k {
			out = append(out, a.tick)
		}
	}
	return out
}

type fakeAgent struct {
	name     string
	msgs     []protocol.Message
	players  []Player
	detached int
}

func (a *fakeAgent) MessageToAgent(msg protocol.Message) { a.msgs = append(a.msgs, msg) }
func (a *fakeAgent) SetPlayer(p Player)                  { a.players = append(a.players, p) }
func (a *fakeAgent) Detached()                           { a.detached++ }

func (a *fakeAgent) delays() []int {
	var out []int
	for _, m := range a.msgs {
		if d, ok := m.(*protocol.DelayUpdatedMsg); ok {
			out = append(out, d.Delay)
		}
	}
	return out
}

func (a *fakeAgent) joinFailures() []string {
	var out []string
	for _, m := range a.msgs {
		if f, ok := m.(*protocol.JoinFailedMsg); ok {
			out = append(out, f.Code)
		}
	}
	return out
}

func (a *fakeAgent) currentPlayer() Player {
	if len(a.players) == 0 {
		return nil
	}
	return a.players[len(a.players)-1]
}

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestGame(t *testing.T) (*LocalGame, *fakeWorld, *logtest.Hook) {
	t.Helper()
	logger, hook := logtest.NewNullLogger()
	logger.SetLevel(logrus.DebugLevel)
	w := newFakeWorld()
	g := NewLocalGame(w, Config{
		MaxPerTeam: 4,
		GameInfo:   protocol.GameInfoMsg{Title: "test arena"},
		Logger:     logger,
	})
	return g, w, hook
}

// joinedAgent attaches a new agent and gives it a fresh player.
func joinedAgent(t *testing.T, g *LocalGame, w *fakeWorld, name string) (*fakeAgent, *AgentSession, *fakePlayer) {
	t.Helper()
	a := &fakeAgent{name: name}
	s := g.AddAgent(a)
	if err := g.AgentRequest(a, &protocol.JoinRequestMsg{Nick: name}); err != nil {
		t.Fatalf("join %s: %v", name, err)
	}
	p, ok := a.currentPlayer().(*fakePlayer)
	if !ok || p == nil {
		t.Fatalf("join %s: no player bound (msgs=%v)", name, a.msgs)
	}
	return a, s, p
}

func step(t *testing.T, g *LocalGame, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := g.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
}

type fakeUnit struct {
	hits    map[protocol.PlayerID]bool
	checked map[protocol.PlayerID]int
	taken   []protocol.PlayerID
	cleared []int
}

func newFakeUnit() *fakeUnit {
	return &fakeUnit{hits: map[protocol.PlayerID]bool{}, checked: map[protocol.PlayerID]int{}}
}

func (u *fakeUnit) CheckCollision(p Player, delay int) bool {
	u.checked[p.ID()] = delay
	return u.hits[p.ID()]
}

func (u *fakeUnit) CollidedWithPlayer(p Player) error {
	u.taken = append(u.taken, p.ID())
	return nil
}

func (u *fakeUnit) ClearOldHistory(maxAge int) { u.cleared = append(u.cleared, maxAge) }
