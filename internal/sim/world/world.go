// Package world is a small deterministic arena: players drift around a
// bounded field, die on its border and collect drifting coins. It is the
// reference World for the session core and the mirror used by remote
// clients and replays.
package world

import (
	"errors"
	"fmt"

	"github.com/sirupsen/logrus"

	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/game"
)

var (
	ErrUnexpectedCommand = errors.New("unexpected command")
	ErrBadCommand        = errors.New("invalid command")
)

// World is single-threaded: it must only be touched by the goroutine that
// drives its game.
type World struct {
	cfg  Config
	tick int

	players map[protocol.PlayerID]*Player
	order   []protocol.PlayerID
	coins   []*Coin

	listener  game.Listener
	commander game.Commander
	log       logrus.FieldLogger
}

func New(cfg Config, logger logrus.FieldLogger) *World {
	cfg.applyDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	w := &World{
		cfg:     cfg,
		players: make(map[protocol.PlayerID]*Player),
		log:     logger.WithField("component", "world"),
	}
	for i := 1; i <= cfg.Coins; i++ {
		c := &Coin{w: w, id: i}
		c.relocate(0)
		w.coins = append(w.coins, c)
	}
	return w
}

func (w *World) Config() Config  { return w.cfg }
func (w *World) LastTickID() int { return w.tick }

// BindCommander makes this the authoritative world: it raises deaths,
// respawns and pickups itself through c. Without a commander the world is a
// mirror and only follows the commands it is given.
func (w *World) BindCommander(c game.Commander) { w.commander = c }
func (w *World) SetListener(l game.Listener)    { w.listener = l }

func (w *World) GetPlayer(id protocol.PlayerID) game.Player {
	if p, ok := w.players[id]; ok {
		return p
	}
	return nil
}

// Player is GetPlayer with the concrete type.
func (w *World) Player(id protocol.PlayerID) *Player { return w.players[id] }

func (w *World) Players() []game.Player {
	out := make([]game.Player, 0, len(w.order))
	for _, id := range w.order {
		out = append(out, w.players[id])
	}
	return out
}

func (w *World) CollectableUnits() []game.Collectible {
	out := make([]game.Collectible, 0, len(w.coins))
	for _, c := range w.coins {
		out = append(out, c)
	}
	return out
}

func (w *World) Coins() []*Coin { return w.coins }

// Consume applies one server command. Commands that refer to players which
// are gone, or that no longer apply to the player's state, are ignored.
func (w *World) Consume(msg protocol.Message) error {
	switch m := msg.(type) {
	case *protocol.TickMsg:
		return w.advance(m.Tick)
	case *protocol.AddPlayerMsg:
		return w.addPlayer(m)
	case *protocol.RemovePlayerMsg:
		w.removePlayer(m.PlayerID)
	case *protocol.PlayerMoveMsg:
		if p := w.players[m.PlayerID]; p != nil && !p.dead {
			p.dx = clampAbs(m.DX, w.cfg.MaxSpeed)
			p.dy = clampAbs(m.DY, w.cfg.MaxSpeed)
		}
	case *protocol.KillPlayerMsg:
		p := w.players[m.PlayerID]
		if p == nil || p.dead {
			return nil
		}
		p.kill()
		if w.listener != nil {
			w.listener.PlayerDied(p)
		}
	case *protocol.PlayerAllDeadMsg:
		p := w.players[m.PlayerID]
		if p == nil || !p.dead || p.allDead {
			return nil
		}
		p.allDead = true
		p.respawnIn = w.cfg.RespawnTicks
		if w.listener != nil {
			w.listener.PlayerAllDead(p)
		}
	case *protocol.RespawnMsg:
		if p := w.players[m.PlayerID]; p != nil && p.allDead {
			p.respawn(m.X, m.Y)
		}
	case *protocol.PlayerUpdateMsg:
		p := w.players[m.PlayerID]
		if p == nil {
			return nil
		}
		p.x, p.y, p.dx, p.dy = m.X, m.Y, m.DX, m.DY
		p.dead, p.allDead = m.Dead, m.AllDead
		p.coins = m.Coins
		if m.Resync {
			p.resyncing = true
			p.resyncAge = 0
		}
	case *protocol.ResyncCompleteMsg:
		if p := w.players[m.PlayerID]; p != nil {
			p.resyncing = false
			p.lastResync = nil
			p.resyncAge = 0
		}
	case *protocol.CoinCollectedMsg:
		c := w.coin(m.CoinID)
		if c == nil {
			return fmt.Errorf("coin %d: %w", m.CoinID, ErrBadCommand)
		}
		if p := w.players[m.PlayerID]; p != nil {
			p.coins++
		}
		c.collected++
		c.relocate(w.tick)
	case *protocol.ChatMsg:
		w.log.WithFields(logrus.Fields{"player_id": m.PlayerID, "text": m.Text}).Debug("chat")
	default:
		return fmt.Errorf("%w: %s", ErrUnexpectedCommand, msg.Kind())
	}
	return nil
}

func (w *World) advance(tick int) error {
	w.tick = tick
	var tardy []*Player
	for _, id := range w.order {
		p := w.players[id]
		if p.resyncing {
			p.resyncAge++
			if p.resyncAge > w.cfg.MaxResyncTicks {
				tardy = append(tardy, p)
			}
		}
		switch {
		case p.allDead:
			if p.respawnIn > 0 {
				p.respawnIn--
			}
			if p.respawnIn == 0 && w.commander != nil {
				x, y := w.spawnPoint(p.team, p.id)
				if err := w.commander.SendServerCommand(&protocol.RespawnMsg{PlayerID: p.id, X: x, Y: y}); err != nil {
					return err
				}
			}
		case p.dead:
		case p.resyncing:
			// Frozen until the client confirms the state it was sent.
		default:
			nx, ny := p.x+p.dx, p.y+p.dy
			p.x = min(max(nx, 0), w.cfg.Width-1)
			p.y = min(max(ny, 0), w.cfg.Height-1)
			if p.x != nx || p.y != ny {
				p.dx, p.dy = 0, 0
				if w.commander != nil {
					if err := w.commander.SendServerCommand(&protocol.KillPlayerMsg{PlayerID: p.id}); err != nil {
						return err
					}
				}
			}
		}
	}
	for _, c := range w.coins {
		c.step()
	}
	if w.commander != nil {
		for _, p := range tardy {
			if err := w.bootTardy(p); err != nil {
				return err
			}
		}
	}
	return nil
}

func (w *World) bootTardy(p *Player) error {
	w.log.WithFields(logrus.Fields{"player_id": p.id, "ticks": p.resyncAge}).Warn("player took too long to resync")
	if p.agent != nil {
		p.agent.MessageToAgent(&protocol.ChatFromServerMsg{
			Error: true,
			Text:  "You have been removed from the game because your connection is too slow!",
		})
	}
	return w.commander.SendServerCommand(&protocol.RemovePlayerMsg{PlayerID: p.id})
}

func (w *World) addPlayer(m *protocol.AddPlayerMsg) error {
	if m.PlayerID <= 0 {
		return fmt.Errorf("add player %d: %w", m.PlayerID, ErrBadCommand)
	}
	if _, dup := w.players[m.PlayerID]; dup {
		return fmt.Errorf("add player %d: already present: %w", m.PlayerID, ErrBadCommand)
	}
	if m.Team != protocol.TeamA && m.Team != protocol.TeamB {
		return fmt.Errorf("add player %d: team %q: %w", m.PlayerID, m.Team, ErrBadCommand)
	}
	p := &Player{w: w, id: m.PlayerID, nick: m.Nick, team: m.Team}
	p.x, p.y = w.spawnPoint(m.Team, m.PlayerID)
	w.players[p.id] = p
	w.order = append(w.order, p.id)
	return nil
}

func (w *World) removePlayer(id protocol.PlayerID) {
	p, ok := w.players[id]
	if !ok {
		w.log.WithField("player_id", id).Debug("remove of unknown player ignored")
		return
	}
	if w.listener != nil {
		w.listener.PlayerRemoved(p)
	}
	p.agent = nil
	delete(w.players, id)
	for i, o := range w.order {
		if o == id {
			w.order = append(w.order[:i], w.order[i+1:]...)
			break
		}
	}
}

// spawnPoint picks a position in the team's quarter of the arena.
func (w *World) spawnPoint(team protocol.Team, id protocol.PlayerID) (int, int) {
	h := hash3(w.cfg.Seed, int(id), w.tick, 0x7370776e)
	quarter := max(w.cfg.Width/4, 1)
	x := 1 + int(h%uint64(quarter))
	if team == protocol.TeamB {
		x = w.cfg.Width - 1 - x
	}
	y := 1 + int((h>>24)%uint64(max(w.cfg.Height-2, 1)))
	return min(max(x, 0), w.cfg.Width-1), min(y, w.cfg.Height-1)
}

func (w *World) coin(id int) *Coin {
	for _, c := range w.coins {
		if c.id == id {
			return c
		}
	}
	return nil
}

func clampAbs(v, limit int) int {
	return min(max(v, -limit), limit)
}
