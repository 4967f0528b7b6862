package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Status string

const (
	StatusOnline  Status = "online"
	StatusOffline Status = "offline"
)

// User is a registered account. UserID is the externally shareable
// identifier contacts are added by; it is distinct from any backend key.
type User struct {
	UserID       string    `json:"userId"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	PasswordHash string    `json:"password"`
	Avatar       string    `json:"avatar"`
	Status       Status    `json:"status"`
	LastSeen     time.Time `json:"lastSeen"`
}

// Profile is the public view of a user returned to clients.
type Profile struct {
	UserID   string `json:"userId"`
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Avatar   string `json:"avatar"`
}

func (u *User) Profile() Profile {
	return Profile{
		UserID:   u.UserID,
		Username: u.Username,
		Email:    u.Email,
		Avatar:   u.Avatar,
	}
}

// Contact is a directed edge: OwnerID added ContactID.
type Contact struct {
	ID          uuid.UUID `json:"id"`
	OwnerID     string    `json:"userId"`
	ContactID   string    `json:"contactId"`
	DisplayName string    `json:"contactName,omitempty"`
	CreatedAt   time.Time `json:"createdAt"`
}

// ContactDetail is a contact edge joined with the target user's record.
type ContactDetail struct {
	ID            uuid.UUID `json:"id"`
	OwnerID       string    `json:"userId"`
	ContactID     string    `json:"contactId"`
	ContactName   string    `json:"contactName"`
	ContactEmail  string    `json:"contactEmail"`
	ContactAvatar string    `json:"contactAvatar"`
	Status        Status    `json:"status"`
	LastSeen      time.Time `json:"lastSeen"`
	CreatedAt     time.Time `json:"createdAt"`
}

// NewContactDetail joins an edge with the user it points at.
func NewContactDetail(c *Contact, u *User) ContactDetail {
	name := c.DisplayName
	if name == "" {
		name = u.Username
	}
	return ContactDetail{
		ID:            c.ID,
		OwnerID:       c.OwnerID,
		ContactID:     u.UserID,
		ContactName:   name,
		ContactEmail:  u.Email,
		ContactAvatar: u.Avatar,
		Status:        u.Status,
		LastSeen:      u.LastSeen,
		CreatedAt:     c.CreatedAt,
	}
}

type Message struct {
	ID         uuid.UUID `json:"id"`
	SenderID   string    `json:"senderId"`
	ReceiverID string    `json:"receiverId"`
	Text       string    `json:"text"`
	CreatedAt  time.Time `json:"createdAt"`
}

// Involves reports whether m belongs to the conversation between a and b,
// in either direction.
func (m *Message) Involves(a, b string) bool {
	return (m.SenderID == a && m.ReceiverID == b) ||
		(m.SenderID == b && m.ReceiverID == a)
}

type OutboxEvent struct {
	ID          uuid.UUID       `json:"id"`
	EventType   string          `json:"event_type"`
	Payload     json.RawMessage `json:"payload"`
	Status      string          `json:"status"`
	CreatedAt   time.Time       `json:"created_at"`
	ProcessedAt *time.Time      `json:"processed_at,omitempty"`
}

const (
	EventTypeMessageCreated = "message.created"
)
