package agent

import (
	"io"
	"testing"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/game"
	"arena.ai/internal/sim/world"
)

func quiet() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestBot_WandersDiesAndRespawns(t *testing.T) {
	w := world.New(world.Config{Width: 8, Height: 8, RespawnTicks: 5}, quiet())
	g := game.NewLocalGame(w, game.Config{MaxPerTeam: 2, Logger: quiet()})

	counts := map[protocol.Kind]int{}
	g.OnServerCommand(func(m protocol.Message) { counts[m.Kind()]++ })

	b := NewBot(g, "wanderer", protocol.TeamB, 3, quiet())
	g.OnServerCommand(b.OnServerCommand)
	g.AddAgent(b)
	if err := b.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	if b.Player() == nil || b.Player().Team() != protocol.TeamB {
		t.Fatalf("bot has no team B player: %v", b.Player())
	}

	for i := 0; i < 600; i++ {
		if err := g.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if counts[protocol.KindPlayerMove] == 0 {
		t.Fatalf("bot never moved: %v", counts)
	}
	if counts[protocol.KindKillPlayer] == 0 || counts[protocol.KindPlayerAllDead] == 0 || counts[protocol.KindRespawn] == 0 {
		t.Fatalf("expected the bot to die, acknowledge and respawn: %v", counts)
	}
	// Acknowledged deaths never need a forced resync.
	if counts[protocol.KindPlayerUpdate] != 0 {
		t.Fatalf("bot was resynced %d times", counts[protocol.KindPlayerUpdate])
	}
}

func TestBot_AnswersResync(t *testing.T) {
	w := world.New(world.Config{}, quiet())
	g := game.NewLocalGame(w, game.Config{Logger: quiet()})
	b := NewBot(g, "acker", "", 1, quiet())
	g.OnServerCommand(b.OnServerCommand)
	g.AddAgent(b)
	if err := b.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	p := b.Player()
	if p == nil {
		t.Fatalf("no player")
	}
	if err := g.SendResync(p.ID(), "test"); err != nil {
		t.Fatalf("resync: %v", err)
	}
	if !p.Resyncing() {
		t.Fatalf("player not resyncing")
	}
	for i := 0; i < 2*protocol.InitialAssumedLatency && p.Resyncing(); i++ {
		if err := g.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if p.Resyncing() {
		t.Fatalf("bot never completed the resync")
	}
}

func TestBot_ResyncWhileMovingCompletes(t *testing.T) {
	w := world.New(world.Config{Width: 200, Height: 200, MaxSpeed: 1}, quiet())
	g := game.NewLocalGame(w, game.Config{Logger: quiet()})
	counts := map[protocol.Kind]int{}
	g.OnServerCommand(func(m protocol.Message) { counts[m.Kind()]++ })
	b := NewBot(g, "mover", protocol.TeamA, 1, quiet())
	g.OnServerCommand(b.OnServerCommand)
	g.AddAgent(b)
	if err := b.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	// Hold the heading set below.
	b.mu.Lock()
	b.untilTurn = 1 << 20
	b.mu.Unlock()

	p := w.Player(b.Player().ID())
	dy := 1
	if _, y := p.Pos(); y > 100 {
		dy = -1
	}
	if err := g.SendServerCommand(&protocol.PlayerMoveMsg{PlayerID: p.ID(), DX: 1, DY: dy}); err != nil {
		t.Fatalf("move: %v", err)
	}
	for i := 0; i < 3; i++ {
		if err := g.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if err := g.SendResync(p.ID(), "test"); err != nil {
		t.Fatalf("resync: %v", err)
	}
	for i := 0; i < 2*protocol.InitialAssumedLatency+2 && p.Resyncing(); i++ {
		if err := g.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
	if p.Resyncing() || p.Dead() {
		t.Fatalf("resync of a moving bot did not settle: resyncing=%v dead=%v", p.Resyncing(), p.Dead())
	}
	if counts[protocol.KindPlayerUpdate] != 1 {
		t.Fatalf("resync sent %d times", counts[protocol.KindPlayerUpdate])
	}
	x0, _ := p.Pos()
	if err := g.Step(); err != nil {
		t.Fatalf("step: %v", err)
	}
	if x, _ := p.Pos(); x != x0+1 {
		t.Fatalf("bot did not move on after the resync: x=%d want %d", x, x0+1)
	}
}

func TestBot_AcknowledgesDeathLearntFromResync(t *testing.T) {
	w := world.New(world.Config{Width: 8, Height: 8, RespawnTicks: 5}, quiet())
	g := game.NewLocalGame(w, game.Config{Logger: quiet()})
	counts := map[protocol.Kind]int{}
	g.OnServerCommand(func(m protocol.Message) { counts[m.Kind()]++ })
	b := NewBot(g, "deaf", protocol.TeamB, 3, quiet())
	// The bot never sees its own KillPlayer.
	g.OnServerCommand(func(m protocol.Message) {
		if m.Kind() != protocol.KindKillPlayer {
			b.OnServerCommand(m)
		}
	})
	g.AddAgent(b)
	if err := b.Join(); err != nil {
		t.Fatalf("join: %v", err)
	}
	for i := 0; i < 600; i++ {
		if err := g.Step(); err != nil {
			t.Fatalf("step %d: %v", i, err)
		}
	}
	if counts[protocol.KindKillPlayer] == 0 || counts[protocol.KindPlayerUpdate] == 0 {
		t.Fatalf("expected a death noticed only through a resync: %v", counts)
	}
	if counts[protocol.KindPlayerAllDead] == 0 || counts[protocol.KindRespawn] == 0 {
		t.Fatalf("death was never acknowledged: %v", counts)
	}
	if b.Player() == nil {
		t.Fatalf("bot lost its player")
	}
}

func TestBot_StopsAfterDetach(t *testing.T) {
	w := world.New(world.Config{}, quiet())
	g := game.NewLocalGame(w, game.Config{Logger: quiet()})
	b := NewBot(g, "leaver", "", 1, quiet())
	g.OnServerCommand(b.OnServerCommand)
	g.AddAgent(b)
	_ = b.Join()
	if err := g.DetachAgent(b); err != nil {
		t.Fatalf("detach: %v", err)
	}
	if b.Player() != nil || len(w.Players()) != 0 {
		t.Fatalf("detached bot still has a player")
	}
	for i := 0; i < 5; i++ {
		if err := g.Step(); err != nil {
			t.Fatalf("step: %v", err)
		}
	}
}
