package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"pairchat/internal/chat"
	"pairchat/internal/domain"
)

// MessageSender persists a message and fans it out to live connections.
// It is the same router the realtime channel uses.
type MessageSender interface {
	Send(ctx context.Context, senderID, receiverID, text string) (*domain.Message, error)
}

// Stats reports live realtime usage for the health endpoint.
type Stats interface {
	Stats() (users, connections int)
}

type Handler struct {
	svc      *chat.Service
	messages MessageSender
	stats    Stats
	log      *slog.Logger
}

func NewHandler(svc *chat.Service, messages MessageSender, stats Stats, log *slog.Logger) *Handler {
	return &Handler{svc: svc, messages: messages, stats: stats, log: log}
}

func (h *Handler) Register(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Username string `json:"username"`
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err, "")
		return
	}

	sess, err := h.svc.Register(r.Context(), req.Username, req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err, "Server error during registration")
		return
	}
	writeJSON(w, http.StatusCreated, sess)
}

func (h *Handler) Login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err, "")
		return
	}

	sess, err := h.svc.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, h.log, err, "Server error during login")
		return
	}
	writeJSON(w, http.StatusOK, sess)
}

func (h *Handler) Contacts(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	contacts, err := h.svc.Contacts(r.Context(), id.UserID)
	if err != nil {
		writeError(w, h.log, err, "Failed to load contacts")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"contacts": contacts})
}

func (h *Handler) AddContact(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req struct {
		ContactIdentifier string `json:"contactIdentifier"`
		ContactName       string `json:"contactName"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err, "")
		return
	}

	contact, err := h.svc.AddContact(r.Context(), id.UserID, req.ContactIdentifier, req.ContactName)
	if err != nil {
		writeError(w, h.log, err, "Failed to add contact")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"contact": contact})
}

func (h *Handler) Messages(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	messages, err := h.svc.History(r.Context(), id.UserID, r.PathValue("contactId"))
	if err != nil {
		writeError(w, h.log, err, "Failed to load messages")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"messages": messages})
}

// SendMessage is the REST counterpart of the send-message event. The sender
// is the bearer, never a body field.
func (h *Handler) SendMessage(w http.ResponseWriter, r *http.Request) {
	id, _ := identityFrom(r.Context())

	var req struct {
		ReceiverID string `json:"receiverId"`
		Text       string `json:"text"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.log, err, "")
		return
	}

	msg, err := h.messages.Send(r.Context(), id.UserID, req.ReceiverID, req.Text)
	if err != nil {
		writeError(w, h.log, err, "Failed to send message")
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"message": msg})
}

func (h *Handler) SearchUser(w http.ResponseWriter, r *http.Request) {
	user, err := h.svc.SearchUser(r.Context(), r.PathValue("userId"))
	if err != nil {
		writeError(w, h.log, err, "Search failed")
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"user": user})
}

func (h *Handler) Health(w http.ResponseWriter, _ *http.Request) {
	users, conns := h.stats.Stats()
	writeJSON(w, http.StatusOK, map[string]any{
		"status":      "ok",
		"users":       users,
		"connections": conns,
	})
}
