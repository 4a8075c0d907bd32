// Package indexdb keeps a queryable read model of agent sessions: when
// agents attached and detached, how their compensation delay moved and
// which resyncs the server forced. Writes never block the game loop; when a
// backend falls behind, events are dropped and counted.
package indexdb

import (
	"time"

	"arena.ai/internal/protocol"
)

type EventKind string

const (
	EventAttached EventKind = "attached"
	EventDetached EventKind = "detached"
	EventDelay    EventKind = "delay"
	EventResync   EventKind = "resync"
)

type Event struct {
	Kind      EventKind         `json:"kind"`
	SessionID string            `json:"session_id"`
	Tick      int               `json:"tick,omitempty"`
	Delay     int               `json:"delay,omitempty"`
	PlayerID  protocol.PlayerID `json:"player_id,omitempty"`
	Reason    string            `json:"reason,omitempty"`
	At        time.Time         `json:"at"`
}

type Stats struct {
	QueueDepth    int
	QueueCapacity int
	DropTotal     uint64
}
