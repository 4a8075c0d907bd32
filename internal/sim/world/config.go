package world

import (
	"time"

	"arena.ai/internal/protocol"
)

// A player whose client has not acknowledged a resync after this long is
// removed from the game.
const maxResyncTime = 30 * time.Second

type Config struct {
	Width  int   `json:"width"`
	Height int   `json:"height"`
	Seed   int64 `json:"seed"`

	Coins        int `json:"coins"`
	CoinRadius   int `json:"coin_radius"`
	MaxSpeed     int `json:"max_speed"`
	RespawnTicks int `json:"respawn_ticks"`
	// MaxResyncTicks is how long a resync may stay unacknowledged.
	MaxResyncTicks int `json:"max_resync_ticks"`

	// MaxHistory bounds retained coin positions when nothing trims them
	// (mirrors and replays have no per-agent delays).
	MaxHistory int `json:"max_history"`
}

func (c *Config) applyDefaults() {
	if c.Width <= 0 {
		c.Width = 64
	}
	if c.Height <= 0 {
		c.Height = 48
	}
	if c.Coins < 0 {
		c.Coins = 0
	}
	if c.CoinRadius <= 0 {
		c.CoinRadius = 1
	}
	if c.MaxSpeed <= 0 {
		c.MaxSpeed = 2
	}
	if c.RespawnTicks <= 0 {
		c.RespawnTicks = 90
	}
	if c.MaxResyncTicks <= 0 {
		c.MaxResyncTicks = int(maxResyncTime / protocol.TickPeriod)
	}
	if c.MaxHistory <= 0 {
		c.MaxHistory = 256
	}
}
