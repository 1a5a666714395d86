package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Protocol constants
const (
	// RegistrationPayload is the exact datagram a client sends to join the relay
	RegistrationPayload = "init"

	// EnvelopeTimeLayout formats the envelope timestamp as HH:MM:SS
	EnvelopeTimeLayout = "15:04:05"

	// Preview lengths used when logging payloads
	ReceivePreviewSize = 20
	SendPreviewSize    = 40
)

// ErrMalformedEnvelope is returned when a control message cannot be decoded
var ErrMalformedEnvelope = errors.New("malformed envelope")

var registration = []byte(RegistrationPayload)

// Envelope is the JSON wrapper for control-channel text messages.
// Audio datagrams are never wrapped.
type Envelope struct {
	Time    string `json:"time"`
	Message string `json:"message"`
}

// IsRegistration reports whether a datagram is the registration payload.
// The match is exact and case-sensitive; trailing bytes disqualify it.
func IsRegistration(payload []byte) bool {
	return bytes.Equal(payload, registration)
}

// EncodeEnvelope wraps a message with the wall-clock time of now
func EncodeEnvelope(message string, now time.Time) ([]byte, error) {
	env := Envelope{
		Time:    now.Format(EnvelopeTimeLayout),
		Message: message,
	}

	data, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("failed to encode envelope: %w", err)
	}

	return data, nil
}

// DecodeEnvelope parses a control message. The message field is required.
func DecodeEnvelope(data []byte) (*Envelope, error) {
	var raw struct {
		Time    string  `json:"time"`
		Message *string `json:"message"`
	}

	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedEnvelope, err)
	}

	if raw.Message == nil {
		return nil, fmt.Errorf("%w: missing message field", ErrMalformedEnvelope)
	}

	return &Envelope{Time: raw.Time, Message: *raw.Message}, nil
}

// Truncate returns at most n leading bytes of p for log previews
func Truncate(p []byte, n int) []byte {
	if len(p) <= n {
		return p
	}
	return p[:n]
}
