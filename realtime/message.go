package realtime

import "encoding/json"

// Reserved message types emitted by the gateway itself. Business events
// use their own type strings.
const (
	// MessageAuthFailed is sent best-effort right before closing a
	// connection that failed handshake authentication.
	MessageAuthFailed = "auth-failed"
)

// Envelope is the wire format for every server-to-client message.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

func encodeJSON(payload any) (json.RawMessage, error) {
	if payload == nil {
		return nil, nil
	}
	return json.Marshal(payload)
}

func encodeEnvelope(typ string, payload any) ([]byte, error) {
	var raw json.RawMessage
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		raw = data
	}
	return json.Marshal(Envelope{Type: typ, Payload: raw})
}
