package ws

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"pairchat/internal/domain"
	"pairchat/internal/logging"
	"pairchat/internal/presence"
	"pairchat/internal/protocol"
)

// statusRepo records every persisted presence change per user.
type statusRepo struct {
	mu      sync.Mutex
	updates map[string][]domain.Status
}

func newStatusRepo() *statusRepo {
	return &statusRepo{updates: make(map[string][]domain.Status)}
}

func (r *statusRepo) UpdateUserStatus(_ context.Context, userID string, status domain.Status) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates[userID] = append(r.updates[userID], status)
	return &domain.User{UserID: userID, Status: status}, nil
}

func (r *statusRepo) history(userID string) []domain.Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]domain.Status(nil), r.updates[userID]...)
}

func (r *statusRepo) last(userID string) domain.Status {
	h := r.history(userID)
	if len(h) == 0 {
		return ""
	}
	return h[len(h)-1]
}

func newTestHub(t *testing.T, repo presence.Repository) *Hub {
	t.Helper()
	hub := NewHub(presence.NewTracker(repo, logging.Discard()), logging.Discard())
	go hub.Run()
	t.Cleanup(func() {
		_ = hub.Shutdown(time.Second)
	})
	return hub
}

// joinClient registers an unpumped client; its frames are read from SendChan.
func joinClient(t *testing.T, hub *Hub, userID string) *Client {
	t.Helper()
	c := NewClient(hub, nil, userID, nil)
	if err := hub.Join(c); err != nil {
		t.Fatalf("Join(%s) error = %v", userID, err)
	}
	return c
}

func recvEnvelope(t *testing.T, c *Client) protocol.Envelope {
	t.Helper()
	select {
	case frame, ok := <-c.SendChan():
		if !ok {
			t.Fatalf("send channel of %s closed", c.UserID)
		}
		env, err := protocol.Decode(frame)
		if err != nil {
			t.Fatalf("bad frame %s: %v", frame, err)
		}
		return env
	case <-time.After(time.Second):
		t.Fatalf("no frame for %s", c.UserID)
	}
	return protocol.Envelope{}
}

func expectNoFrame(t *testing.T, c *Client) {
	t.Helper()
	select {
	case frame := <-c.SendChan():
		t.Fatalf("unexpected frame for %s: %s", c.UserID, frame)
	default:
	}
}

func drain(c *Client) {
	for {
		select {
		case _, ok := <-c.SendChan():
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func decodeInto(t *testing.T, env protocol.Envelope, v any) {
	t.Helper()
	if err := json.Unmarshal(env.Data, v); err != nil {
		t.Fatalf("decode %s payload: %v", env.Event, err)
	}
}
