package bus

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Topics carried on the bus. Control-plane revocation and business
// broadcast fan-out are kept on separate channels on purpose.
const (
	TopicTokenRevoked           = "token-revoked"
	TopicPermissionsInvalidated = "permissions-invalidated"
)

// ErrUnknownEventType is returned when an envelope carries a tag
// outside the closed event set.
var ErrUnknownEventType = errors.New("unknown event type")

// Event is one of the closed set of payloads carried on the bus.
// Arbitrary shapes are rejected at decode time.
type Event interface {
	eventType() string
}

// TokenRevoked announces that a token is no longer valid. Every
// process's realtime gateway checks its own binding table and
// disconnects the matching connection if it owns one.
type TokenRevoked struct {
	Token string `json:"token"`
}

func (TokenRevoked) eventType() string { return "token_revoked" }

// PermissionsInvalidated announces that a user's cached permission set
// was dropped after a role or menu mutation.
type PermissionsInvalidated struct {
	UserID string `json:"user_id"`
}

func (PermissionsInvalidated) eventType() string { return "permissions_invalidated" }

// Broadcast carries a business event destined for every realtime
// connection in a namespace.
type Broadcast struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

func (Broadcast) eventType() string { return "broadcast" }

type envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func encodeEvent(ev Event) ([]byte, error) {
	payload, err := json.Marshal(ev)
	if err != nil {
		return nil, err
	}
	return json.Marshal(envelope{Type: ev.eventType(), Payload: payload})
}

func decodeEvent(data []byte) (Event, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, err
	}

	var ev Event
	switch env.Type {
	case TokenRevoked{}.eventType():
		ev = &TokenRevoked{}
	case PermissionsInvalidated{}.eventType():
		ev = &PermissionsInvalidated{}
	case Broadcast{}.eventType():
		ev = &Broadcast{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEventType, env.Type)
	}

	if err := json.Unmarshal(env.Payload, ev); err != nil {
		return nil, err
	}
	return ev, nil
}
