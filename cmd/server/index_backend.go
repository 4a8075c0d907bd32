package main

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/sirupsen/logrus"

	"arena.ai/internal/persistence/indexdb"
	"arena.ai/internal/sim/game"
	"arena.ai/internal/sim/tuning"
)

type sessionIndex interface {
	game.SessionIndex
	Stats() indexdb.Stats
	Close() error
}

// openSessionIndex builds the configured backend, or nil when indexing is
// off. ARENA_INDEX_BACKEND and ARENA_INDEX_TOKEN override the tuning file.
func openSessionIndex(cfg tuning.Index, gameID string, logger logrus.FieldLogger) (sessionIndex, error) {
	backend := strings.ToLower(strings.TrimSpace(cfg.Backend))
	if v := strings.TrimSpace(os.Getenv("ARENA_INDEX_BACKEND")); v != "" {
		backend = strings.ToLower(v)
		cfg.Enabled = true
	}
	if !cfg.Enabled {
		return nil, nil
	}
	if gameID == "" {
		gameID = ulid.Make().String()
	}

	switch backend {
	case "none", "off", "disabled":
		return nil, nil
	case "", "sqlite":
		idx, err := indexdb.OpenSQLite(cfg.Path, logger)
		if err != nil {
			return nil, err
		}
		return idx, nil
	case "http":
		token := cfg.Token
		if v := strings.TrimSpace(os.Getenv("ARENA_INDEX_TOKEN")); v != "" {
			token = v
		}
		idx, err := indexdb.OpenRemote(indexdb.RemoteConfig{
			Endpoint:      cfg.Endpoint,
			Token:         token,
			GameID:        gameID,
			BatchSize:     envInt("ARENA_INDEX_BATCH_SIZE", 128),
			FlushInterval: time.Duration(envInt("ARENA_INDEX_FLUSH_MS", 500)) * time.Millisecond,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		return idx, nil
	default:
		return nil, fmt.Errorf("unsupported index backend: %s", backend)
	}
}

func envInt(key string, def int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
