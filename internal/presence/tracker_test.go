package presence

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"

	"pairchat/internal/domain"
	"pairchat/internal/logging"
	"pairchat/internal/protocol"
)

type fakeRepo struct {
	mu      sync.Mutex
	err     error
	updates []domain.Status
}

func (r *fakeRepo) UpdateUserStatus(_ context.Context, userID string, status domain.Status) (*domain.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return nil, r.err
	}
	r.updates = append(r.updates, status)
	return &domain.User{UserID: userID, Status: status}, nil
}

type recordingBroadcaster struct {
	except []string
	frames [][]byte
}

func (b *recordingBroadcaster) BroadcastExcept(userID string, frame []byte) int {
	b.except = append(b.except, userID)
	b.frames = append(b.frames, frame)
	return 3
}

func TestTransitionPersistsAndBroadcasts(t *testing.T) {
	repo := &fakeRepo{}
	b := &recordingBroadcaster{}
	tr := NewTracker(repo, logging.Discard())

	tr.Transition(context.Background(), "10000001", domain.StatusOnline, b)

	if len(repo.updates) != 1 || repo.updates[0] != domain.StatusOnline {
		t.Fatalf("updates = %v, want [online]", repo.updates)
	}
	if len(b.frames) != 1 || b.except[0] != "10000001" {
		t.Fatalf("broadcasts = %d except %v", len(b.frames), b.except)
	}

	env, err := protocol.Decode(b.frames[0])
	if err != nil {
		t.Fatal(err)
	}
	if env.Event != protocol.EventUserStatusChanged {
		t.Errorf("event = %q", env.Event)
	}
	var sc protocol.StatusChanged
	if err := json.Unmarshal(env.Data, &sc); err != nil {
		t.Fatal(err)
	}
	if sc.UserID != "10000001" || sc.Status != domain.StatusOnline {
		t.Errorf("payload = %+v", sc)
	}
}

func TestTransitionBroadcastsDespitePersistenceFailure(t *testing.T) {
	repo := &fakeRepo{err: errors.New("store down")}
	b := &recordingBroadcaster{}
	tr := NewTracker(repo, logging.Discard())

	tr.Transition(context.Background(), "10000001", domain.StatusOffline, b)

	if len(b.frames) != 1 {
		t.Fatalf("broadcasts = %d, want 1", len(b.frames))
	}
}

func TestPersistDoesNotBroadcast(t *testing.T) {
	repo := &fakeRepo{}
	tr := NewTracker(repo, logging.Discard())

	tr.Persist(context.Background(), "10000001", domain.StatusOffline)

	if len(repo.updates) != 1 || repo.updates[0] != domain.StatusOffline {
		t.Fatalf("updates = %v, want [offline]", repo.updates)
	}
}
