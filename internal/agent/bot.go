// Package agent holds a headless bot that plays through the same agent
// interface as a human client. Its decisions are deliberately trivial: it
// wanders, acknowledges its deaths and answers resyncs.
package agent

import (
	"math/rand"
	"sync"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/game"
)

// Game is what a bot needs from a local or remote game.
type Game interface {
	AgentRequest(a game.Agent, msg protocol.Message) error
	World() game.World
}

type Bot struct {
	nick string
	team protocol.Team
	game Game
	log  logrus.FieldLogger

	// turnEvery is how many ticks the bot keeps a heading.
	turnEvery int

	mu        sync.Mutex
	rng       *rand.Rand
	player    game.Player
	detached  bool
	delay     int
	untilTurn int
}

func NewBot(g Game, nick string, team protocol.Team, seed int64, logger logrus.FieldLogger) *Bot {
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &Bot{
		nick:      nick,
		team:      team,
		game:      g,
		log:       logger.WithFields(logrus.Fields{"component": "bot", "bot": nick}),
		turnEvery: 45,
		rng:       rand.New(rand.NewSource(seed)),
		delay:     protocol.InitialAssumedLatency,
	}
}

// Join asks the game for a player.
func (b *Bot) Join() error {
	return b.game.AgentRequest(b, &protocol.JoinRequestMsg{Nick: b.nick, Team: b.team})
}

func (b *Bot) Player() game.Player {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.player
}

// Delay is the compensation window the game last announced.
func (b *Bot) Delay() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.delay
}

func (b *Bot) Detached() {
	b.mu.Lock()
	b.detached = true
	b.player = nil
	b.mu.Unlock()
	b.log.Debug("detached")
}

func (b *Bot) SetPlayer(p game.Player) {
	b.mu.Lock()
	b.player = p
	b.untilTurn = 0
	b.mu.Unlock()
}

func (b *Bot) MessageToAgent(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.ResyncPlayerMsg:
		tick := b.game.World().LastTickID()
		b.send(&protocol.ResyncAcknowledgedMsg{
			Tick: tick,
			X:    m.X,
			Y:    m.Y,
			DX:   m.DX,
			DY:   m.DY,
		})
		// The resync may be the first we hear of our death.
		if m.Dead && !m.AllDead {
			b.send(&protocol.DeathAcknowledgedMsg{Tick: tick})
		}
	case *protocol.DelayUpdatedMsg:
		b.mu.Lock()
		b.delay = m.Delay
		b.mu.Unlock()
	case *protocol.JoinFailedMsg:
		b.log.WithField("reason", m.Reason).Warn("join failed")
	case *protocol.ChatFromServerMsg:
		b.log.WithField("error", m.Error).Debug(m.Text)
	}
}

// OnServerCommand follows the command stream; register it with the game's
// OnServerCommand.
func (b *Bot) OnServerCommand(msg protocol.Message) {
	switch m := msg.(type) {
	case *protocol.TickMsg:
		if in := b.steer(m.Tick); in != nil {
			b.send(in)
		}
	case *protocol.KillPlayerMsg:
		if b.controls(m.PlayerID) {
			b.send(&protocol.DeathAcknowledgedMsg{Tick: b.game.World().LastTickID()})
		}
	}
}

func (b *Bot) steer(tick int) *protocol.PlayerInputMsg {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.detached || b.player == nil || b.player.Dead() {
		return nil
	}
	if b.untilTurn > 0 {
		b.untilTurn--
		return nil
	}
	b.untilTurn = b.turnEvery
	return &protocol.PlayerInputMsg{Tick: tick, DX: b.rng.Intn(3) - 1, DY: b.rng.Intn(3) - 1}
}

func (b *Bot) controls(id protocol.PlayerID) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return !b.detached && b.player != nil && b.player.ID() == id
}

// send must be called without mu: a request may be dispatched at once and
// call back into the bot.
func (b *Bot) send(msg protocol.Message) {
	b.mu.Lock()
	gone := b.detached
	b.mu.Unlock()
	if gone {
		return
	}
	if err := b.game.AgentRequest(b, msg); err != nil {
		b.log.WithError(err).WithField("kind", msg.Kind()).Warn("request failed")
	}
}
