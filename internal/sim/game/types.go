// Package game is the authoritative session core: it measures each agent's
// latency, delays that agent's timestamped requests so every agent sees
// simultaneous events land on the same tick, and applies server commands to
// the world in one strict order.
package game

import "arena.ai/internal/protocol"

// Agent is anything that controls a player: a UI, an in-process bot or the
// server-side proxy of a remote agent. An agent controls at most one player.
type Agent interface {
	// MessageToAgent delivers a notice addressed to this agent only.
	MessageToAgent(msg protocol.Message)
	// SetPlayer tells the agent which player it now controls (nil = none).
	SetPlayer(p Player)
	// Detached is called once the game has dropped the agent.
	Detached()
}

// Player is the world's view of one player, as far as the session core
// needs it.
type Player interface {
	ID() protocol.PlayerID
	Nick() string
	Team() protocol.Team
	Dead() bool
	AllDead() bool
	// WillNotChangeOnNextTick reports that the player is in a state the
	// next tick cannot alter, so shrinking its agent's delay is invisible.
	WillNotChangeOnNextTick() bool
	// Resyncing reports an outstanding resync the client has not yet
	// acknowledged.
	Resyncing() bool
	// MatchesAck reports whether a client's resync acknowledgement echoes
	// the player's current state.
	MatchesAck(ack *protocol.ResyncAcknowledgedMsg) bool
	// SendResync makes the owning client discard its predicted state.
	SendResync(reason string, isError bool) error
	// BindAgent links the player to its controlling agent (nil unlinks).
	BindAgent(a Agent)
}

// Collectible is a world unit (a coin) whose pickup is resolved against
// where each agent saw it, not where it is now.
type Collectible interface {
	// CheckCollision tests p against the unit's position delay ticks ago.
	CheckCollision(p Player, delay int) bool
	CollidedWithPlayer(p Player) error
	// ClearOldHistory drops retained positions older than maxAge ticks.
	ClearOldHistory(maxAge int)
}

// World is the authoritative simulation. Only the Sequencer calls Consume.
type World interface {
	LastTickID() int
	Consume(msg protocol.Message) error
	GetPlayer(id protocol.PlayerID) Player
	Players() []Player
	CollectableUnits() []Collectible
	SetListener(l Listener)
}

// Listener receives player lifecycle events raised while the world
// consumes commands.
type Listener interface {
	PlayerRemoved(p Player)
	PlayerDied(p Player)
	PlayerAllDead(p Player)
}

// Commander submits server commands. Worlds that raise commands of their
// own (pickups, resyncs) are handed one by NewLocalGame.
type Commander interface {
	SendServerCommand(msg protocol.Message) error
}

// Recorder receives every applied server command, in apply order.
type Recorder interface {
	Consume(msg protocol.Message) error
}

// SessionIndex is an optional read model of agent sessions. Calls must not
// block the tick loop.
type SessionIndex interface {
	AgentAttached(sessionID string)
	AgentDetached(sessionID string)
	DelayChanged(sessionID string, tick, delay int)
	ResyncForced(sessionID string, playerID protocol.PlayerID, reason string)
}
