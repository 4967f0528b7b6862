// Package push notifies users about messages that arrived while they had no
// live connection.
package push

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"pairchat/internal/broker"
	"pairchat/internal/domain"
)

const queueName = "pairchat.push"

// Presence reports whether a user currently holds a live connection.
type Presence interface {
	IsOnline(userID string) bool
}

// Notifier delivers an out-of-band notification, e.g. a mobile push.
type Notifier interface {
	Notify(ctx context.Context, userID string, msg *domain.Message) error
}

// LogNotifier records notifications in the log instead of sending them.
type LogNotifier struct {
	Log *slog.Logger
}

func (n LogNotifier) Notify(_ context.Context, userID string, msg *domain.Message) error {
	n.Log.Info("[PUSH] notifying offline user",
		"user_id", userID,
		"sender_id", msg.SenderID,
		"message_id", msg.ID,
	)
	return nil
}

type Worker struct {
	sub      broker.Subscriber
	presence Presence
	notifier Notifier
	log      *slog.Logger
}

func NewWorker(sub broker.Subscriber, presence Presence, notifier Notifier, log *slog.Logger) *Worker {
	return &Worker{sub: sub, presence: presence, notifier: notifier, log: log}
}

// Start consumes message.created events until ctx is cancelled or the
// subscription ends.
func (w *Worker) Start(ctx context.Context) error {
	deliveries, err := w.sub.Subscribe(ctx, queueName, domain.EventTypeMessageCreated)
	if err != nil {
		return fmt.Errorf("failed to start push consumer: %w", err)
	}

	w.log.Info("push worker started", "queue", queueName)
	for d := range deliveries {
		w.handle(ctx, d)
	}
	w.log.Info("push worker stopped")
	return nil
}

// handle reports whether a notification was sent.
func (w *Worker) handle(ctx context.Context, d broker.Delivery) bool {
	var msg domain.Message
	if err := json.Unmarshal(d.Body, &msg); err != nil {
		w.log.Warn("failed to unmarshal message payload", "routing_key", d.RoutingKey, "err", err)
		return false
	}

	// The sender wrote it, and an online receiver already got it live.
	if msg.ReceiverID == "" || msg.ReceiverID == msg.SenderID || w.presence.IsOnline(msg.ReceiverID) {
		return false
	}

	if err := w.notifier.Notify(ctx, msg.ReceiverID, &msg); err != nil {
		w.log.Warn("failed to send push", "user_id", msg.ReceiverID, "message_id", msg.ID, "err", err)
		return false
	}
	return true
}
