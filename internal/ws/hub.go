// Package ws is the realtime gateway: the connection registry (Hub), the
// per-connection read/write pumps, message routing, typing relay and the
// authenticated WebSocket handshake.
package ws

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"pairchat/internal/domain"
	"pairchat/internal/presence"

	"github.com/google/uuid"
)

var ErrHubClosed = errors.New("hub is shut down")

// Presence receives the registry's first-join and last-leave transitions.
type Presence interface {
	Transition(ctx context.Context, userID string, status domain.Status, b presence.Broadcaster)
	Persist(ctx context.Context, userID string, status domain.Status)
}

type membership struct {
	client *Client
	pump   bool
	done   chan struct{}
}

// Hub maps user IDs to their live connections. Membership changes are
// serialized through Run so presence transitions for a user are persisted
// in the order they happen; fan-out reads take a shared lock. Connection
// pumps are only started from Run, so Shutdown can wait for them once Run
// has returned.
type Hub struct {
	// UserID -> ConnectionID -> Client
	clients map[string]map[uuid.UUID]*Client

	register   chan membership
	unregister chan membership

	presence Presence
	log      *slog.Logger

	mu     sync.RWMutex
	pumps  sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

func NewHub(p Presence, log *slog.Logger) *Hub {
	ctx, cancel := context.WithCancel(context.Background())
	return &Hub{
		clients:    make(map[string]map[uuid.UUID]*Client),
		register:   make(chan membership),
		unregister: make(chan membership),
		presence:   p,
		log:        log,
		ctx:        ctx,
		cancel:     cancel,
		done:       make(chan struct{}),
	}
}

func (h *Hub) Run() {
	defer close(h.done)

	for {
		select {
		case <-h.ctx.Done():
			h.shutdownClients()
			return

		case m := <-h.register:
			if h.add(m.client) {
				h.presence.Transition(context.Background(), m.client.UserID, domain.StatusOnline, h)
			}
			if m.pump {
				h.startPumps(m.client)
			}
			close(m.done)

		case m := <-h.unregister:
			if h.remove(m.client) {
				h.presence.Transition(context.Background(), m.client.UserID, domain.StatusOffline, h)
			}
			close(m.done)
		}
	}
}

// add reports whether c is the user's first connection.
func (h *Hub) add(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[c.UserID]
	if !ok {
		userClients = make(map[uuid.UUID]*Client)
		h.clients[c.UserID] = userClients
	}
	userClients[c.ID] = c

	h.log.Info("connection joined", "user_id", c.UserID, "conn_id", c.ID, "user_connections", len(userClients))
	return !ok
}

// remove reports whether c was the user's last connection. The client's
// send channel is closed while the write lock is held, so no fan-out can
// race with it.
func (h *Hub) remove(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	userClients, ok := h.clients[c.UserID]
	if !ok {
		return false
	}
	if _, ok := userClients[c.ID]; !ok {
		return false
	}
	delete(userClients, c.ID)
	close(c.send)

	h.log.Info("connection left", "user_id", c.UserID, "conn_id", c.ID, "user_connections", len(userClients))
	if len(userClients) == 0 {
		delete(h.clients, c.UserID)
		return true
	}
	return false
}

func (h *Hub) submit(ch chan membership, m membership) error {
	m.done = make(chan struct{})
	select {
	case ch <- m:
	case <-h.done:
		return ErrHubClosed
	}
	// Run closes m.done before it can close h.done, so a request it took
	// is always reported as done.
	select {
	case <-m.done:
		return nil
	case <-h.done:
		select {
		case <-m.done:
			return nil
		default:
			return ErrHubClosed
		}
	}
}

// Join registers c under its user. It returns once the registry and, for a
// first connection, the presence transition are done.
func (h *Hub) Join(c *Client) error {
	return h.submit(h.register, membership{client: c})
}

// attach joins c and starts its pumps in the same step.
func (h *Hub) attach(c *Client) error {
	return h.submit(h.register, membership{client: c, pump: true})
}

// Leave removes c. Leaving twice is a no-op.
func (h *Hub) Leave(c *Client) {
	_ = h.submit(h.unregister, membership{client: c})
}

// ConnectionsFor returns a snapshot of userID's live connections.
func (h *Hub) ConnectionsFor(userID string) []*Client {
	h.mu.RLock()
	defer h.mu.RUnlock()

	out := make([]*Client, 0, len(h.clients[userID]))
	for _, c := range h.clients[userID] {
		out = append(out, c)
	}
	return out
}

func (h *Hub) IsOnline(userID string) bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients[userID]) > 0
}

// Stats returns the number of connected users and live connections.
func (h *Hub) Stats() (users, connections int) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for _, userClients := range h.clients {
		connections += len(userClients)
	}
	return len(h.clients), connections
}

// Unicast queues frame on every live connection of userID and returns how
// many connections accepted it.
func (h *Hub) Unicast(userID string, frame []byte) int {
	h.mu.RLock()
	n, slow := h.deliver(h.clients[userID], frame)
	h.mu.RUnlock()

	h.evict(slow)
	return n
}

// BroadcastExcept queues frame on every live connection whose user is not
// userID. It walks the whole registry, which is fine for one process.
func (h *Hub) BroadcastExcept(userID string, frame []byte) int {
	h.mu.RLock()
	var n int
	var slow []*Client
	for uid, userClients := range h.clients {
		if uid == userID {
			continue
		}
		sent, s := h.deliver(userClients, frame)
		n += sent
		slow = append(slow, s...)
	}
	h.mu.RUnlock()

	h.evict(slow)
	return n
}

// reply queues frame on a single connection if it is still registered.
func (h *Hub) reply(c *Client, frame []byte) bool {
	h.mu.RLock()
	registered := h.clients[c.UserID][c.ID] == c
	var slow []*Client
	n := 0
	if registered {
		n, slow = h.deliver(map[uuid.UUID]*Client{c.ID: c}, frame)
	}
	h.mu.RUnlock()

	h.evict(slow)
	return n == 1
}

// deliver must be called with h.mu held for reading.
func (h *Hub) deliver(clients map[uuid.UUID]*Client, frame []byte) (int, []*Client) {
	var n int
	var slow []*Client
	for _, c := range clients {
		select {
		case c.send <- frame:
			n++
		default:
			slow = append(slow, c)
		}
	}
	return n, slow
}

// evict drops connections whose send buffer is full.
func (h *Hub) evict(slow []*Client) {
	for _, c := range slow {
		if c.evicting.CompareAndSwap(false, true) {
			h.log.Warn("dropping slow connection", "user_id", c.UserID, "conn_id", c.ID)
			go h.Leave(c)
		}
	}
}

// startPumps must only be called from Run.
func (h *Hub) startPumps(c *Client) {
	h.pumps.Add(2)
	go func() {
		defer h.pumps.Done()
		c.writePump()
	}()
	go func() {
		defer h.pumps.Done()
		c.readPump(h.ctx)
	}()
}

// shutdownClients empties the registry and records every held user as
// offline. Everyone is leaving at once, so nothing is broadcast.
func (h *Hub) shutdownClients() {
	h.mu.Lock()
	users := make([]string, 0, len(h.clients))
	var closed int
	for userID, userClients := range h.clients {
		users = append(users, userID)
		for _, c := range userClients {
			close(c.send)
			closed++
		}
	}
	h.clients = make(map[string]map[uuid.UUID]*Client)
	h.mu.Unlock()

	for _, userID := range users {
		h.presence.Persist(context.Background(), userID, domain.StatusOffline)
	}
	h.log.Info("closed client connections", "connections", closed, "users", len(users))
}

// Shutdown stops Run and waits for connection pumps to exit. No pump can
// be started after Run has returned.
func (h *Hub) Shutdown(timeout time.Duration) error {
	h.cancel()
	<-h.done

	finished := make(chan struct{})
	go func() {
		h.pumps.Wait()
		close(finished)
	}()

	select {
	case <-finished:
		h.log.Info("hub shutdown completed")
		return nil
	case <-time.After(timeout):
		h.log.Warn("hub shutdown timed out; some connections may still be closing")
		return context.DeadlineExceeded
	}
}
