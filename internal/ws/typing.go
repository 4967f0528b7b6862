package ws

import (
	"log/slog"

	"pairchat/internal/domain"
	"pairchat/internal/protocol"
)

// TypingRelay forwards ephemeral typing indicators. Nothing is stored and
// nothing is acknowledged.
type TypingRelay struct {
	hub *Hub
	log *slog.Logger
}

func NewTypingRelay(hub *Hub, log *slog.Logger) *TypingRelay {
	return &TypingRelay{hub: hub, log: log}
}

// Notify tells every live connection of receiverID that c's user is typing.
// It returns the number of connections reached.
func (t *TypingRelay) Notify(c *Client, receiverID string) int {
	if !domain.ValidUserID(receiverID) {
		t.log.Debug("dropping typing indicator", "user_id", c.UserID, "receiver_id", receiverID)
		return 0
	}

	frame, err := protocol.Encode(protocol.EventUserTyping, protocol.UserTyping{UserID: c.UserID})
	if err != nil {
		t.log.Error("failed to encode typing indicator", "err", err)
		return 0
	}
	return t.hub.Unicast(receiverID, frame)
}
