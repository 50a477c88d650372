// Package protocol defines the wire envelope and the event payloads exchanged
// with connected clients.
package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
)

// ErrMalformed is returned when an inbound event is missing required fields
// or cannot be decoded.
var ErrMalformed = errors.New("malformed event")

// Envelope is the frame every event travels in.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// Encode marshals payload into an Envelope of the given type.
//
// Postcondition: Returns the encoded frame or a marshal error.
func Encode(eventType string, payload any) ([]byte, error) {
	env := Envelope{Type: eventType}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encoding %s payload: %w", eventType, err)
		}
		env.Payload = raw
	}
	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding %s envelope: %w", eventType, err)
	}
	return data, nil
}

// Decode parses a frame into an Envelope.
//
// Postcondition: Returns an error wrapping ErrMalformed when data is not a
// JSON object with a non-empty type.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("%w: missing type", ErrMalformed)
	}
	return env, nil
}

// DecodePayload unmarshals the envelope payload into v.
// An absent payload decodes as an empty object.
func (e Envelope) DecodePayload(v any) error {
	raw := e.Payload
	if len(raw) == 0 || string(raw) == "null" {
		raw = json.RawMessage("{}")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrMalformed, e.Type, err)
	}
	return nil
}
