package protocol

// Kind discriminates game messages on the wire and in replays.
type Kind string

// PlayerID identifies a player in the world. 0 means "no player".
type PlayerID int

// Team is "A" or "B". An empty team in a join request asks the server to
// pick the smaller team.
type Team string

const (
	TeamA Team = "A"
	TeamB Team = "B"
)

// Message is an immutable game message: an agent request, a server command
// applied to the world, or a notice addressed to a single agent.
type Message interface {
	Kind() Kind
}

// Timestamped is implemented by agent requests that name the tick at which
// the sending agent saw the action happen. Only these requests are subject
// to delay compensation.
type Timestamped interface {
	Message
	TickID() int
}

const (
	// Server commands (applied to the world in sequencer order).
	KindTick           Kind = "tick"
	KindAddPlayer      Kind = "add_player"
	KindRemovePlayer   Kind = "remove_player"
	KindPlayerMove     Kind = "player_move"
	KindKillPlayer     Kind = "kill_player"
	KindPlayerAllDead  Kind = "player_all_dead"
	KindRespawn        Kind = "respawn"
	KindPlayerUpdate   Kind = "player_update"
	KindResyncComplete Kind = "resync_complete"
	KindCoinCollected  Kind = "coin_collected"
	KindChat           Kind = "chat"

	// Agent requests.
	KindJoinRequest        Kind = "join_request"
	KindLeaveRequest       Kind = "leave_request"
	KindPlayerInput        Kind = "player_input"
	KindResyncAcknowledged Kind = "resync_acknowledged"
	KindDeathAcknowledged  Kind = "death_acknowledged"
	KindChatRequest        Kind = "chat_request"

	// Notices to a single agent.
	KindResyncPlayer   Kind = "resync_player"
	KindChatFromServer Kind = "chat_from_server"
	KindDelayUpdated   Kind = "delay_updated"
	KindConnectionLost Kind = "connection_lost"
	KindGameInfo       Kind = "game_info"
	KindJoinFailed     Kind = "join_failed"
)

// ---- Server commands ----

type TickMsg struct {
	Tick int `json:"tick"`
}

type AddPlayerMsg struct {
	PlayerID PlayerID `json:"player_id"`
	Nick     string   `json:"nick"`
	Team     Team     `json:"team"`
}

type RemovePlayerMsg struct {
	PlayerID PlayerID `json:"player_id"`
}

type PlayerMoveMsg struct {
	PlayerID PlayerID `json:"player_id"`
	DX       int      `json:"dx"`
	DY       int      `json:"dy"`
}

// KillPlayerMsg kills a player. The client still sees its ghost until it
// acknowledges the death, which makes the player all-dead.
type KillPlayerMsg struct {
	PlayerID PlayerID `json:"player_id"`
}

type PlayerAllDeadMsg struct {
	PlayerID PlayerID `json:"player_id"`
}

type RespawnMsg struct {
	PlayerID PlayerID `json:"player_id"`
	X        int      `json:"x"`
	Y        int      `json:"y"`
}

// PlayerUpdateMsg overwrites a player's state with the server's truth. When
// Resync is set the owning client is expected to acknowledge it.
type PlayerUpdateMsg struct {
	PlayerID PlayerID `json:"player_id"`
	X        int      `json:"x"`
	Y        int      `json:"y"`
	DX       int      `json:"dx"`
	DY       int      `json:"dy"`
	Dead     bool     `json:"dead,omitempty"`
	AllDead  bool     `json:"all_dead,omitempty"`
	Coins    int      `json:"coins"`
	Resync   bool     `json:"resync,omitempty"`
}

type ResyncCompleteMsg struct {
	PlayerID PlayerID `json:"player_id"`
}

type CoinCollectedMsg struct {
	CoinID   int      `json:"coin_id"`
	PlayerID PlayerID `json:"player_id"`
}

type ChatMsg struct {
	PlayerID PlayerID `json:"player_id"`
	Text     string   `json:"text"`
}

func (*TickMsg) Kind() Kind           { return KindTick }
func (*AddPlayerMsg) Kind() Kind      { return KindAddPlayer }
func (*RemovePlayerMsg) Kind() Kind   { return KindRemovePlayer }
func (*PlayerMoveMsg) Kind() Kind     { return KindPlayerMove }
func (*KillPlayerMsg) Kind() Kind     { return KindKillPlayer }
func (*PlayerAllDeadMsg) Kind() Kind  { return KindPlayerAllDead }
func (*RespawnMsg) Kind() Kind        { return KindRespawn }
func (*PlayerUpdateMsg) Kind() Kind   { return KindPlayerUpdate }
func (*ResyncCompleteMsg) Kind() Kind { return KindResyncComplete }
func (*CoinCollectedMsg) Kind() Kind  { return KindCoinCollected }
func (*ChatMsg) Kind() Kind           { return KindChat }

// ---- Agent requests ----

type JoinRequestMsg struct {
	Nick string `json:"nick"`
	Team Team   `json:"team,omitempty"`
}

type LeaveRequestMsg struct{}

type PlayerInputMsg struct {
	Tick int `json:"tick"`
	DX   int `json:"dx"`
	DY   int `json:"dy"`
}

// ResyncAcknowledgedMsg is sent by a client once it has applied a
// ResyncPlayerMsg; it echoes the state it now holds.
type ResyncAcknowledgedMsg struct {
	Tick int `json:"tick"`
	X    int `json:"x"`
	Y    int `json:"y"`
	DX   int `json:"dx"`
	DY   int `json:"dy"`
}

// DeathAcknowledgedMsg tells the server the client has seen its player die.
type DeathAcknowledgedMsg struct {
	Tick int `json:"tick"`
}

type ChatRequestMsg struct {
	Text string `json:"text"`
}

func (*JoinRequestMsg) Kind() Kind        { return KindJoinRequest }
func (*LeaveRequestMsg) Kind() Kind       { return KindLeaveRequest }
func (*PlayerInputMsg) Kind() Kind        { return KindPlayerInput }
func (*ResyncAcknowledgedMsg) Kind() Kind { return KindResyncAcknowledged }
func (*DeathAcknowledgedMsg) Kind() Kind  { return KindDeathAcknowledged }
func (*ChatRequestMsg) Kind() Kind        { return KindChatRequest }

func (m *PlayerInputMsg) TickID() int        { return m.Tick }
func (m *ResyncAcknowledgedMsg) TickID() int { return m.Tick }
func (m *DeathAcknowledgedMsg) TickID() int  { return m.Tick }

// ---- Notices to one agent ----

type ResyncPlayerMsg struct {
	PlayerUpdateMsg
}

type ChatFromServerMsg struct {
	Error bool   `json:"error,omitempty"`
	Text  string `json:"text"`
}

// DelayUpdatedMsg announces the agent's new compensation window in ticks.
type DelayUpdatedMsg struct {
	Delay int `json:"delay"`
}

type ConnectionLostMsg struct{}

type GameInfoMsg struct {
	Title string `json:"title"`
	Info  string `json:"info,omitempty"`
}

type JoinFailedMsg struct {
	Code   string `json:"code"`
	Reason string `json:"reason,omitempty"`
}

func (*ResyncPlayerMsg) Kind() Kind   { return KindResyncPlayer }
func (*ChatFromServerMsg) Kind() Kind { return KindChatFromServer }
func (*DelayUpdatedMsg) Kind() Kind   { return KindDelayUpdated }
func (*ConnectionLostMsg) Kind() Kind { return KindConnectionLost }
func (*GameInfoMsg) Kind() Kind       { return KindGameInfo }
func (*JoinFailedMsg) Kind() Kind     { return KindJoinFailed }
