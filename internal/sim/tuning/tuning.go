// Package tuning loads the server's gameplay and session knobs from YAML.
package tuning

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"arena.ai/internal/protocol"
	"arena.ai/internal/sim/game"
	"arena.ai/internal/sim/world"
)

type Tuning struct {
	ProtocolVersion string `yaml:"protocol_version"`

	MaxPerTeam    int `yaml:"max_per_team"`
	MaxTotal      int `yaml:"max_total"`
	DelayWindowMs int `yaml:"delay_window_ms"`

	Arena    Arena    `yaml:"arena"`
	GameInfo GameInfo `yaml:"game_info"`
	Replay   Replay   `yaml:"replay"`
	Index    Index    `yaml:"index"`
}

type Arena struct {
	Width        int   `yaml:"width"`
	Height       int   `yaml:"height"`
	Seed         int64 `yaml:"seed"`
	Coins        int   `yaml:"coins"`
	CoinRadius   int   `yaml:"coin_radius"`
	MaxSpeed     int   `yaml:"max_speed"`
	RespawnTicks int   `yaml:"respawn_ticks"`
	MaxHistory   int   `yaml:"max_history"`

	MaxResyncTicks int `yaml:"max_resync_ticks"`
}

type GameInfo struct {
	Title string `yaml:"title"`
	Info  string `yaml:"info"`
}

type Replay struct {
	Enabled bool   `yaml:"enabled"`
	Dir     string `yaml:"dir"`
}

// Index selects the session index backend: "sqlite" (Path) or "http"
// (Endpoint, Token).
type Index struct {
	Enabled  bool   `yaml:"enabled"`
	Backend  string `yaml:"backend"`
	Path     string `yaml:"path"`
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

func Defaults() Tuning {
	return Tuning{
		ProtocolVersion: protocol.Version,
		MaxPerTeam:      8,
		MaxTotal:        16,
		DelayWindowMs:   int(game.DefaultDelayWindow / time.Millisecond),
		Arena: Arena{
			Width:        64,
			Height:       48,
			Coins:        6,
			CoinRadius:   1,
			MaxSpeed:     2,
			RespawnTicks: 90,
			MaxHistory:   256,
		},
		GameInfo: GameInfo{Title: "arena"},
		Replay:   Replay{Dir: "data/replays"},
		Index:    Index{Backend: "sqlite", Path: "data/index.sqlite"},
	}
}

// Load reads path over Defaults, so a file only needs the keys it changes.
func Load(path string) (Tuning, error) {
	t := Defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return t, err
	}
	if err := yaml.Unmarshal(raw, &t); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	if err := t.Validate(); err != nil {
		return t, fmt.Errorf("tuning.yaml: %w", err)
	}
	return t, nil
}

func (t Tuning) Validate() error {
	var errs []error
	if t.ProtocolVersion != "" && t.ProtocolVersion != protocol.Version {
		errs = append(errs, fmt.Errorf("protocol_version %q, server speaks %q", t.ProtocolVersion, protocol.Version))
	}
	if t.MaxPerTeam < 0 || t.MaxTotal < 0 {
		errs = append(errs, errors.New("player limits must not be negative"))
	}
	if t.DelayWindowMs < 0 {
		errs = append(errs, errors.New("delay_window_ms must not be negative"))
	}
	a := t.Arena
	if a.Width < 0 || a.Height < 0 || a.Coins < 0 {
		errs = append(errs, errors.New("arena size and coin count must not be negative"))
	}
	if a.Width > 0 && a.Width < 4 || a.Height > 0 && a.Height < 4 {
		errs = append(errs, fmt.Errorf("arena %dx%d too small", a.Width, a.Height))
	}
	if t.Replay.Enabled && t.Replay.Dir == "" {
		errs = append(errs, errors.New("replay.dir required when replay is enabled"))
	}
	if t.Index.Enabled {
		switch t.Index.Backend {
		case "", "sqlite":
			if t.Index.Path == "" {
				errs = append(errs, errors.New("index.path required for the sqlite index"))
			}
		case "http":
			if t.Index.Endpoint == "" {
				errs = append(errs, errors.New("index.endpoint required for the http index"))
			}
		default:
			errs = append(errs, fmt.Errorf("index.backend %q unsupported", t.Index.Backend))
		}
	}
	return errors.Join(errs...)
}

func (t Tuning) WorldConfig() world.Config {
	a := t.Arena
	return world.Config{
		Width:        a.Width,
		Height:       a.Height,
		Seed:         a.Seed,
		Coins:        a.Coins,
		CoinRadius:   a.CoinRadius,
		MaxSpeed:     a.MaxSpeed,
		RespawnTicks: a.RespawnTicks,
		MaxHistory:   a.MaxHistory,

		MaxResyncTicks: a.MaxResyncTicks,
	}
}

// GameConfig fills the session limits; the caller adds the recorder, index
// and logger it built.
func (t Tuning) GameConfig() game.Config {
	return game.Config{
		MaxPerTeam:  t.MaxPerTeam,
		MaxTotal:    t.MaxTotal,
		DelayWindow: time.Duration(t.DelayWindowMs) * time.Millisecond,
		GameInfo:    protocol.GameInfoMsg{Title: t.GameInfo.Title, Info: t.GameInfo.Info},
	}
}
