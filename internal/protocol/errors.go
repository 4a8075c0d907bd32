package protocol

const (
	// Protocol/transport validation.
	ErrProtoBadRequest = "E_PROTO_BAD_REQUEST"
	ErrProtoVersion    = "E_PROTO_VERSION"

	// Agent routing.
	ErrUnknownAgent = "E_UNKNOWN_AGENT"
	ErrGameStopped  = "E_GAME_STOPPED"

	// Join/rule layer.
	ErrGameFull      = "E_GAME_FULL"
	ErrTeamFull      = "E_TEAM_FULL"
	ErrAlreadyJoined = "E_ALREADY_JOINED"
	ErrInternal      = "E_INTERNAL"
)

var knownCodes = map[string]struct{}{
	ErrProtoBadRequest: {},
	ErrProtoVersion:    {},
	ErrUnknownAgent:    {},
	ErrGameStopped:     {},
	ErrGameFull:        {},
	ErrTeamFull:        {},
	ErrAlreadyJoined:   {},
	ErrInternal:        {},
}

func IsKnownCode(code string) bool {
	if code == "" {
		return true
	}
	_, ok := knownCodes[code]
	return ok
}
