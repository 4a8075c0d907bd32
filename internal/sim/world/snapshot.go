package world

import (
	"encoding/json"
	"fmt"

	"arena.ai/internal/protocol"
)

// Snapshot is the replicated state of a world. Agent bindings and coin
// history are local to a replica and not part of it.
type Snapshot struct {
	Config  Config        `json:"config"`
	Tick    int           `json:"tick"`
	Players []PlayerState `json:"players"`
	Coins   []CoinState   `json:"coins"`
}

type PlayerState struct {
	ID        protocol.PlayerID `json:"id"`
	Nick      string            `json:"nick"`
	Team      protocol.Team     `json:"team"`
	X         int               `json:"x"`
	Y         int               `json:"y"`
	DX        int               `json:"dx"`
	DY        int               `json:"dy"`
	Coins     int               `json:"coins"`
	Dead      bool              `json:"dead,omitempty"`
	AllDead   bool              `json:"all_dead,omitempty"`
	RespawnIn int               `json:"respawn_in,omitempty"`
	Resyncing bool              `json:"resyncing,omitempty"`
}

type CoinState struct {
	ID        int `json:"id"`
	X         int `json:"x"`
	Y         int `json:"y"`
	DX        int `json:"dx"`
	DY        int `json:"dy"`
	Collected int `json:"collected"`
}

func (w *World) Snapshot() Snapshot {
	s := Snapshot{Config: w.cfg, Tick: w.tick}
	for _, id := range w.order {
		p := w.players[id]
		s.Players = append(s.Players, PlayerState{
			ID:        p.id,
			Nick:      p.nick,
			Team:      p.team,
			X:         p.x,
			Y:         p.y,
			DX:        p.dx,
			DY:        p.dy,
			Coins:     p.coins,
			Dead:      p.dead,
			AllDead:   p.allDead,
			RespawnIn: p.respawnIn,
			Resyncing: p.resyncing,
		})
	}
	for _, c := range w.coins {
		s.Coins = append(s.Coins, CoinState{ID: c.id, X: c.x, Y: c.y, DX: c.dx, DY: c.dy, Collected: c.collected})
	}
	return s
}

// Dump is the JSON form of Snapshot, sent to mirrors and written at the head
// of replays.
func (w *World) Dump() (json.RawMessage, error) {
	b, err := json.Marshal(w.Snapshot())
	if err != nil {
		return nil, fmt.Errorf("dump world: %w", err)
	}
	return b, nil
}

// Restore replaces the world's state with a dump. The listener and the
// commander are kept; every player loses its agent.
func (w *World) Restore(dump json.RawMessage) error {
	var s Snapshot
	if err := json.Unmarshal(dump, &s); err != nil {
		return fmt.Errorf("restore world: %w", err)
	}
	s.Config.applyDefaults()

	w.cfg = s.Config
	w.tick = s.Tick
	w.players = make(map[protocol.PlayerID]*Player, len(s.Players))
	w.order = w.order[:0]
	for _, ps := range s.Players {
		if _, dup := w.players[ps.ID]; dup {
			return fmt.Errorf("restore world: duplicate player %d", ps.ID)
		}
		w.players[ps.ID] = &Player{
			w:         w,
			id:        ps.ID,
			nick:      ps.Nick,
			team:      ps.Team,
			x:         ps.X,
			y:         ps.Y,
			dx:        ps.DX,
			dy:        ps.DY,
			coins:     ps.Coins,
			dead:      ps.Dead,
			allDead:   ps.AllDead,
			respawnIn: ps.RespawnIn,
			resyncing: ps.Resyncing,
		}
		w.order = append(w.order, ps.ID)
	}
	w.coins = w.coins[:0]
	for _, cs := range s.Coins {
		c := &Coin{w: w, id: cs.ID, x: cs.X, y: cs.Y, dx: cs.DX, dy: cs.DY, collected: cs.Collected}
		c.remember()
		w.coins = append(w.coins, c)
	}
	return nil
}
