package protocol

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const inboundSchemaURL = "https://arena.ai/schemas/inbound.schema.json"

// inboundSchema covers every frame a hub node may send to the server.
const inboundSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "protocol_version"],
  "properties": {
    "type": {"enum": ["HELLO", "CONNECT_AGENT", "DISCONNECT_AGENT", "REQUEST"]},
    "protocol_version": {"type": "string", "minLength": 1},
    "node_name": {"type": "string", "maxLength": 64},
    "max_queue": {"type": "integer", "minimum": 0, "maximum": 4096},
    "req_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "agent_id": {"type": "string", "minLength": 1, "maxLength": 64},
    "auth_tag": {"type": "integer"},
    "msg": {
      "type": "object",
      "required": ["kind"],
      "properties": {
        "kind": {"type": "string", "minLength": 1},
        "body": {"type": "object"}
      }
    }
  },
  "allOf": [
    {"if": {"properties": {"type": {"const": "CONNECT_AGENT"}}}, "then": {"required": ["req_id"]}},
    {"if": {"properties": {"type": {"const": "DISCONNECT_AGENT"}}}, "then": {"required": ["agent_id"]}},
    {"if": {"properties": {"type": {"const": "REQUEST"}}}, "then": {"required": ["agent_id", "msg"]}}
  ]
}`

var inboundSchema = jsonschema.MustCompileString(inboundSchemaURL, inboundSchemaJSON)

// ValidateInbound checks a raw hub->server frame against the inbound schema.
func ValidateInbound(b []byte) error {
	var v any
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	return inboundSchema.Validate(v)
}
