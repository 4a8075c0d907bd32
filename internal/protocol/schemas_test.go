package protocol_test

import (
	"testing"

	"arena.ai/internal/protocol"
)

func TestValidateInbound_AcceptsHubFrames(t *testing.T) {
	frames := []string{
		`{"type":"HELLO","protocol_version":"1.0","node_name":"bot-node","max_queue":64}`,
		`{"type":"CONNECT_AGENT","protocol_version":"1.0","req_id":"r1"}`,
		`{"type":"DISCONNECT_AGENT","protocol_version":"1.0","agent_id":"A1"}`,
		`{"type":"REQUEST","protocol_version":"1.0","agent_id":"A1","msg":{"kind":"player_input","body":{"tick":7,"dx":1,"dy":0}}}`,
	}
	for _, f := range frames {
		if err := protocol.ValidateInbound([]byte(f)); err != nil {
			t.Fatalf("validate %s: %v", f, err)
		}
	}
}

func TestValidateInbound_RejectsMalformedFrames(t *testing.T) {
	frames := []string{
		`{"type":"COMMAND","protocol_version":"1.0"}`,
		`{"type":"REQUEST","protocol_version":"1.0","agent_id":"A1"}`,
		`{"type":"REQUEST","protocol_version":"1.0","agent_id":"A1","msg":{"body":{}}}`,
		`{"type":"CONNECT_AGENT","protocol_version":"1.0"}`,
		`{"type":"HELLO"}`,
		`not json`,
	}
	for _, f := range frames {
		if err := protocol.ValidateInbound([]byte(f)); err == nil {
			t.Fatalf("expected %s to be rejected", f)
		}
	}
}
