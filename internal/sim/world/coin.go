package world

import (
	"fmt"

	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/game"
)

type point struct{ x, y int }

// Coin drifts across the arena, bouncing off the border. It remembers where
// it has been so a pickup can be judged from a lagging client's view.
type Coin struct {
	w *World

	id        int
	x, y      int
	dx, dy    int
	collected int

	// history[k] is the position k ticks ago; history[0] is the current one.
	history []point
}

func (c *Coin) ID() int         { return c.id }
func (c *Coin) Pos() (int, int) { return c.x, c.y }
func (c *Coin) HistoryLen() int { return len(c.history) }

// CheckCollision tests p against where the coin was delay ticks ago, or the
// oldest position still retained.
func (c *Coin) CheckCollision(p game.Player, delay int) bool {
	pl, ok := p.(*Player)
	if !ok || pl.dead || len(c.history) == 0 {
		return false
	}
	at := c.history[min(max(delay, 0), len(c.history)-1)]
	r := c.w.cfg.CoinRadius
	return abs(pl.x-at.x) <= r && abs(pl.y-at.y) <= r
}

func (c *Coin) CollidedWithPlayer(p game.Player) error {
	if c.w.commander == nil {
		return ErrNotServer
	}
	return c.w.commander.SendServerCommand(&protocol.CoinCollectedMsg{CoinID: c.id, PlayerID: p.ID()})
}

func (c *Coin) ClearOldHistory(maxAge int) {
	if maxAge < 0 {
		maxAge = 0
	}
	if len(c.history) > maxAge+1 {
		c.history = c.history[:maxAge+1]
	}
}

func (c *Coin) step() {
	nx, ny := c.x+c.dx, c.y+c.dy
	if nx < 0 || nx >= c.w.cfg.Width {
		c.dx = -c.dx
		nx = c.x + c.dx
	}
	if ny < 0 || ny >= c.w.cfg.Height {
		c.dy = -c.dy
		ny = c.y + c.dy
	}
	c.x = min(max(nx, 0), c.w.cfg.Width-1)
	c.y = min(max(ny, 0), c.w.cfg.Height-1)
	c.remember()
}

func (c *Coin) remember() {
	c.history = append(c.history, point{})
	copy(c.history[1:], c.history)
	c.history[0] = point{c.x, c.y}
	if len(c.history) > c.w.cfg.MaxHistory {
		c.history = c.history[:c.w.cfg.MaxHistory]
	}
}

// relocate moves the coin to a position derived from the seed, the coin,
// its pickup count and the tick, so every replica relocates it identically.
func (c *Coin) relocate(tick int) {
	h := hash3(c.w.cfg.Seed, c.id, tick, c.collected)
	c.x = int(h % uint64(c.w.cfg.Width))
	c.y = int((h >> 20) % uint64(c.w.cfg.Height))
	c.dx = int((h>>40)%3) - 1
	c.dy = int((h>>44)%3) - 1
	c.history = c.history[:0]
	c.remember()
}

func (c *Coin) String() string { return fmt.Sprintf("coin#%d(%d,%d)", c.id, c.x, c.y) }

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
