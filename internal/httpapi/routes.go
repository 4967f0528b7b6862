package httpapi

import (
	"log/slog"
	"net/http"

	"pairchat/internal/auth"
)

// SetupRoutes builds the application mux. realtime serves GET /ws.
func SetupRoutes(h *Handler, verifier auth.Verifier, realtime http.Handler, log *slog.Logger) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/register", h.Register)
	mux.HandleFunc("POST /api/login", h.Login)
	mux.HandleFunc("GET /api/contacts", requireAuth(verifier, h.Contacts))
	mux.HandleFunc("POST /api/contacts", requireAuth(verifier, h.AddContact))
	mux.HandleFunc("GET /api/messages/{contactId}", requireAuth(verifier, h.Messages))
	mux.HandleFunc("POST /api/messages", requireAuth(verifier, h.SendMessage))
	mux.HandleFunc("GET /api/search-user/{userId}", requireAuth(verifier, h.SearchUser))

	mux.HandleFunc("GET /healthz", h.Health)
	mux.Handle("GET /ws", realtime)

	return logRequests(log, enableCORS(mux))
}
