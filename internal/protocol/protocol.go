// Package protocol defines the realtime wire format: JSON text frames of
// the form {"event": name, "data": payload}.
package protocol

import (
	"encoding/json"
	"fmt"

	"pairchat/internal/domain"
)

// Inbound events.
const (
	EventSendMessage = "send-message"
	EventTyping      = "typing"
)

// Outbound events.
const (
	EventReceiveMessage    = "receive-message"
	EventUserTyping        = "user-typing"
	EventUserStatusChanged = "user-status-changed"
	EventError             = "error"
)

// Error codes carried by EventError.
const (
	CodeBadRequest     = "bad-request"
	CodeValidation     = "validation"
	CodeDeliveryFailed = "delivery-failed"
)

type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

type SendMessage struct {
	ReceiverID string `json:"receiverId"`
	Text       string `json:"text"`
}

type Typing struct {
	ReceiverID string `json:"receiverId"`
}

type UserTyping struct {
	UserID string `json:"userId"`
}

type StatusChanged struct {
	UserID string        `json:"userId"`
	Status domain.Status `json:"status"`
}

type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Encode marshals an outbound frame.
func Encode(event string, data any) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal %s payload: %w", event, err)
	}
	return json.Marshal(Envelope{Event: event, Data: raw})
}

// Decode parses an inbound frame's envelope. The payload is left raw.
func Decode(frame []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(frame, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed frame: %w", err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("malformed frame: missing event")
	}
	return env, nil
}

// DecodeData parses an envelope's payload into v.
func DecodeData(env Envelope, v any) error {
	if len(env.Data) == 0 {
		return fmt.Errorf("%s: missing data", env.Event)
	}
	if err := json.Unmarshal(env.Data, v); err != nil {
		return fmt.Errorf("%s: malformed data: %w", env.Event, err)
	}
	return nil
}
