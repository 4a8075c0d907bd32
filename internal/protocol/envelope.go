package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

var ErrUnknownKind = errors.New("unknown message kind")

// Envelope is the wire and replay form of a Message.
type Envelope struct {
	Kind Kind            `json:"kind"`
	Body json.RawMessage `json:"body,omitempty"`
}

var registry = map[Kind]func() Message{
	KindTick:           func() Message { return &TickMsg{} },
	KindAddPlayer:      func() Message { return &AddPlayerMsg{} },
	KindRemovePlayer:   func() Message { return &RemovePlayerMsg{} },
	KindPlayerMove:     func() Message { return &PlayerMoveMsg{} },
	KindKillPlayer:     func() Message { return &KillPlayerMsg{} },
	KindPlayerAllDead:  func() Message { return &PlayerAllDeadMsg{} },
	KindRespawn:        func() Message { return &RespawnMsg{} },
	KindPlayerUpdate:   func() Message { return &PlayerUpdateMsg{} },
	KindResyncComplete: func() Message { return &ResyncCompleteMsg{} },
	KindCoinCollected:  func() Message { return &CoinCollectedMsg{} },
	KindChat:           func() Message { return &ChatMsg{} },

	KindJoinRequest:        func() Message { return &JoinRequestMsg{} },
	KindLeaveRequest:       func() Message { return &LeaveRequestMsg{} },
	KindPlayerInput:        func() Message { return &PlayerInputMsg{} },
	KindResyncAcknowledged: func() Message { return &ResyncAcknowledgedMsg{} },
	KindDeathAcknowledged:  func() Message { return &DeathAcknowledgedMsg{} },
	KindChatRequest:        func() Message { return &ChatRequestMsg{} },

	KindResyncPlayer:   func() Message { return &ResyncPlayerMsg{} },
	KindChatFromServer: func() Message { return &ChatFromServerMsg{} },
	KindDelayUpdated:   func() Message { return &DelayUpdatedMsg{} },
	KindConnectionLost: func() Message { return &ConnectionLostMsg{} },
	KindGameInfo:       func() Message { return &GameInfoMsg{} },
	KindJoinFailed:     func() Message { return &JoinFailedMsg{} },
}

func Encode(m Message) (Envelope, error) {
	body, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("encode %s: %w", m.Kind(), err)
	}
	return Envelope{Kind: m.Kind(), Body: body}, nil
}

func Decode(e Envelope) (Message, error) {
	newMsg, ok := registry[e.Kind]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownKind, e.Kind)
	}
	m := newMsg()
	if len(e.Body) > 0 {
		if err := json.Unmarshal(e.Body, m); err != nil {
			return nil, fmt.Errorf("decode %s: %w", e.Kind, err)
		}
	}
	return m, nil
}

// IsRequest reports whether k may be sent by an agent.
func IsRequest(k Kind) bool {
	switch k {
	case KindJoinRequest, KindLeaveRequest, KindPlayerInput,
		KindResyncAcknowledged, KindDeathAcknowledged, KindChatRequest:
		return true
	}
	return false
}
