package protocol

import "encoding/json"

// HELLO (hub -> server)
type HelloMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	NodeName        string `json:"node_name,omitempty"`
	MaxQueue        int    `json:"max_queue,omitempty"`
}

// WELCOME (server -> hub). World is the authoritative world dump the hub
// mirror restores before applying the COMMAND stream that follows.
type WelcomeMsg struct {
	Type            string          `json:"type"`
	ProtocolVersion string          `json:"protocol_version"`
	NodeID          string          `json:"node_id"`
	Timing          Timing          `json:"timing"`
	World           json.RawMessage `json:"world"`
}

// Timing publishes the compensation constants so remote clients can size
// their own prediction windows.
type Timing struct {
	TickPeriodMs          float64 `json:"tick_period_ms"`
	TickLimit             int     `json:"tick_limit"`
	LagThreshold          int     `json:"lag_threshold"`
	LagBuffer             int     `json:"lag_buffer"`
	InitialAssumedLatency int     `json:"initial_assumed_latency"`
}

func CurrentTiming() Timing {
	return Timing{
		TickPeriodMs:          float64(TickPeriod.Microseconds()) / 1000,
		TickLimit:             TickLimit,
		LagThreshold:          LagThreshold,
		LagBuffer:             LagBuffer,
		InitialAssumedLatency: InitialAssumedLatency,
	}
}

type ConnectAgentMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	AuthTag         int    `json:"auth_tag,omitempty"`
}

type AgentConnectedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	ReqID           string `json:"req_id"`
	AgentID         string `json:"agent_id"`
}

type DisconnectAgentMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
}

type AgentDisconnectedMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	AgentID         string `json:"agent_id"`
}

// REQUEST (hub -> server): an agent request to be delay-compensated.
type RequestMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	AgentID         string   `json:"agent_id"`
	Msg             Envelope `json:"msg"`
}

// COMMAND (server -> hub): an applied server command, in apply order.
type CommandMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	Msg             Envelope `json:"msg"`
}

// TO_AGENT (server -> hub): a message addressed to one agent only.
type ToAgentMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	AgentID         string   `json:"agent_id"`
	Msg             Envelope `json:"msg"`
}

// PLAYER (server -> hub): the agent now controls PlayerID (0 = none).
type PlayerMsg struct {
	Type            string   `json:"type"`
	ProtocolVersion string   `json:"protocol_version"`
	AgentID         string   `json:"agent_id"`
	PlayerID        PlayerID `json:"player_id"`
}

type ErrorMsg struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version"`
	Code            string `json:"code"`
	Message         string `json:"message,omitempty"`
	AgentID         string `json:"agent_id,omitempty"`
}
