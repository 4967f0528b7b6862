package presence

import (
	"context"
	"log/slog"
	"time"

	"pairchat/internal/domain"
	"pairchat/internal/protocol"
)

const persistTimeout = 5 * time.Second

// Repository is the slice of the persistence gateway presence needs.
type Repository interface {
	UpdateUserStatus(ctx context.Context, userID string, status domain.Status) (*domain.User, error)
}

// Broadcaster fans a frame out to every live connection not owned by userID.
type Broadcaster interface {
	BroadcastExcept(userID string, frame []byte) int
}

// Tracker turns registry membership changes into persisted status and
// user-status-changed broadcasts. It holds no state of its own: the caller
// decides when a transition happened.
type Tracker struct {
	repo Repository
	log  *slog.Logger
}

func NewTracker(repo Repository, log *slog.Logger) *Tracker {
	return &Tracker{repo: repo, log: log}
}

// Transition persists the new status and announces it. A persistence
// failure is logged and never blocks the broadcast.
func (t *Tracker) Transition(ctx context.Context, userID string, status domain.Status, b Broadcaster) {
	t.Persist(ctx, userID, status)

	frame, err := protocol.Encode(protocol.EventUserStatusChanged, protocol.StatusChanged{
		UserID: userID,
		Status: status,
	})
	if err != nil {
		t.log.Error("failed to encode status change", "user_id", userID, "err", err)
		return
	}
	n := b.BroadcastExcept(userID, frame)
	t.log.Info("presence changed", "user_id", userID, "status", status, "notified", n)
}

// Persist records the status without announcing it.
func (t *Tracker) Persist(ctx context.Context, userID string, status domain.Status) {
	ctx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()

	if _, err := t.repo.UpdateUserStatus(ctx, userID, status); err != nil {
		t.log.Warn("failed to persist presence", "user_id", userID, "status", status, "err", err)
	}
}
