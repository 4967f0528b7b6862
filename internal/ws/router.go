package ws

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"pairchat/internal/domain"
	"pairchat/internal/protocol"
)

// MessageStore is the part of the persistence gateway the router writes to.
type MessageStore interface {
	SaveMessage(ctx context.Context, m *domain.Message) (*domain.Message, error)
}

// Router persists direct messages and fans the stored record out to every
// live connection of the receiver and the sender.
type Router struct {
	hub   *Hub
	store MessageStore
	log   *slog.Logger
}

func NewRouter(hub *Hub, store MessageStore, log *slog.Logger) *Router {
	return &Router{hub: hub, store: store, log: log}
}

// Send stores text from senderID to receiverID, then delivers the stored
// record. senderID must come from a verified identity: the socket path
// passes the connection's user, the REST path the bearer's. Nothing is
// delivered unless the store accepted the message, and a caller going away
// does not cancel a save already underway.
func (r *Router) Send(ctx context.Context, senderID, receiverID, text string) (*domain.Message, error) {
	if err := domain.ValidateMessage(receiverID, text); err != nil {
		return nil, err
	}

	msg := &domain.Message{
		SenderID:   senderID,
		ReceiverID: receiverID,
		Text:       text,
	}
	saved, err := r.store.SaveMessage(context.WithoutCancel(ctx), msg)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}

	frame, err := protocol.Encode(protocol.EventReceiveMessage, saved)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", domain.ErrDeliveryFailed, err)
	}

	delivered := r.hub.Unicast(saved.ReceiverID, frame)
	if saved.SenderID != saved.ReceiverID {
		delivered += r.hub.Unicast(saved.SenderID, frame)
	}

	r.log.Debug("message routed",
		"message_id", saved.ID,
		"sender_id", saved.SenderID,
		"receiver_id", saved.ReceiverID,
		"connections", delivered,
	)
	return saved, nil
}

// sendFailure maps a Send error to the code and text reported back to the
// originating connection. Store errors stay in the log.
func sendFailure(err error) (code, message string) {
	if errors.Is(err, domain.ErrValidation) {
		return protocol.CodeValidation, err.Error()
	}
	return protocol.CodeDeliveryFailed, "message could not be delivered"
}
