package protocol

import "encoding/json"

const Version = "1.0"

// Frame types exchanged between a hub node and the game server.
const (
	TypeHello             = "HELLO"
	TypeWelcome           = "WELCOME"
	TypeConnectAgent      = "CONNECT_AGENT"
	TypeAgentConnected    = "AGENT_CONNECTED"
	TypeDisconnectAgent   = "DISCONNECT_AGENT"
	TypeAgentDisconnected = "AGENT_DISCONNECTED"
	TypeRequest           = "REQUEST"
	TypeCommand           = "COMMAND"
	TypeToAgent           = "TO_AGENT"
	TypePlayer            = "PLAYER"
	TypeError             = "ERROR"
)

// BaseMessage lets us route unknown JSON frames by type.
type BaseMessage struct {
	Type            string `json:"type"`
	ProtocolVersion string `json:"protocol_version,omitempty"`
}

func DecodeBase(b []byte) (BaseMessage, error) {
	var m BaseMessage
	err := json.Unmarshal(b, &m)
	return m, err
}
