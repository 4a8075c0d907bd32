package world

import (
	"errors"

	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/game"
)

var ErrNotServer = errors.New("only the server world can resync players")

// Player is one arena player. A player dies when it runs into the arena
// border, becomes all-dead once its client acknowledges the death, and
// respawns RespawnTicks later.
type Player struct {
	w *World

	id   protocol.PlayerID
	nick string
	team protocol.Team

	x, y   int
	dx, dy int
	coins  int

	dead      bool
	allDead   bool
	respawnIn int

	resyncing  bool
	lastResync *protocol.PlayerUpdateMsg
	// resyncAge counts ticks spent resyncing. It is local to the server
	// and not replicated.
	resyncAge int

	agent game.Agent
}

func (p *Player) ID() protocol.PlayerID { return p.id }
func (p *Player) Nick() string          { return p.nick }
func (p *Player) Team() protocol.Team   { return p.team }
func (p *Player) Dead() bool            { return p.dead }
func (p *Player) AllDead() bool         { return p.allDead }
func (p *Player) Resyncing() bool       { return p.resyncing }
func (p *Player) Coins() int            { return p.coins }
func (p *Player) Pos() (int, int)       { return p.x, p.y }
func (p *Player) Velocity() (int, int)  { return p.dx, p.dy }
func (p *Player) Agent() game.Agent     { return p.agent }

func (p *Player) BindAgent(a game.Agent) { p.agent = a }

// WillNotChangeOnNextTick reports that the next Tick leaves the player as
// it is: alive and standing still, or all-dead with the respawn not yet due.
// A resyncing player does not move.
// A dead player waiting for its client's acknowledgement may change at any
// time.
func (p *Player) WillNotChangeOnNextTick() bool {
	switch {
	case p.allDead:
		return p.respawnIn > 1
	case p.dead:
		return false
	default:
		return p.resyncing || (p.dx == 0 && p.dy == 0)
	}
}

func (p *Player) MatchesAck(ack *protocol.ResyncAcknowledgedMsg) bool {
	return ack.X == p.x && ack.Y == p.y && ack.DX == p.dx && ack.DY == p.dy
}

func (p *Player) update(resync bool) protocol.PlayerUpdateMsg {
	return protocol.PlayerUpdateMsg{
		PlayerID: p.id,
		X:        p.x,
		Y:        p.y,
		DX:       p.dx,
		DY:       p.dy,
		Dead:     p.dead,
		AllDead:  p.allDead,
		Coins:    p.coins,
		Resync:   resync,
	}
}

// SendResync broadcasts the player's true state and tells its client to
// drop whatever it predicted. A resync of an unchanged state that is still
// awaiting acknowledgement is not sent again.
func (p *Player) SendResync(reason string, isError bool) error {
	c := p.w.commander
	if c == nil {
		return ErrNotServer
	}
	if p.resyncing && p.lastResync != nil && *p.lastResync == p.update(true) {
		return nil
	}

	// Consuming the update marks the player as resyncing when it has an
	// agent to acknowledge it.
	msg := p.update(p.agent != nil)
	if err := c.SendServerCommand(&msg); err != nil {
		return err
	}
	if p.agent != nil {
		resync := p.update(true)
		p.lastResync = &resync
		p.agent.MessageToAgent(&protocol.ResyncPlayerMsg{PlayerUpdateMsg: resync})
		if reason != "" {
			p.agent.MessageToAgent(&protocol.ChatFromServerMsg{Error: isError, Text: reason})
		}
	}
	return nil
}

func (p *Player) kill() {
	p.dead = true
	p.dx, p.dy = 0, 0
}

func (p *Player) respawn(x, y int) {
	p.dead, p.allDead = false, false
	p.respawnIn = 0
	p.x, p.y = x, y
	p.dx, p.dy = 0, 0
}
