package ws

import (
	"encoding/json"
	"log/slog"
	"net/http"

	"pairchat/internal/auth"

	"github.com/gorilla/websocket"
)

type GatewayOptions struct {
	AllowedOrigins []string
	MaxMessageSize int64
}

// Gateway authenticates and upgrades realtime connections. The credential
// is checked once, before the upgrade; a refused request never reaches the
// registry.
type Gateway struct {
	hub       *Hub
	verifier  auth.Verifier
	handler   EventHandler
	upgrader  websocket.Upgrader
	readLimit int64
	log       *slog.Logger
}

func NewGateway(hub *Hub, verifier auth.Verifier, handler EventHandler, opts GatewayOptions, log *slog.Logger) *Gateway {
	policy := newOriginPolicy(opts.AllowedOrigins, log)
	readLimit := opts.MaxMessageSize
	if readLimit <= 0 {
		readLimit = defaultReadLimit
	}
	return &Gateway{
		hub:      hub,
		verifier: verifier,
		handler:  handler,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     policy.check,
		},
		readLimit: readLimit,
		log:       log,
	}
}

// credential reads ?token= first, then an Authorization bearer header.
func credential(r *http.Request) (string, error) {
	if token := r.URL.Query().Get("token"); token != "" {
		return token, nil
	}
	return auth.BearerToken(r)
}

func (g *Gateway) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token, err := credential(r)
	if err != nil {
		g.refuse(w, r, err)
		return
	}
	identity, err := g.verifier.Verify(token)
	if err != nil {
		g.refuse(w, r, err)
		return
	}

	conn, err := g.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already written the HTTP error.
		g.log.Warn("websocket upgrade failed", "user_id", identity.UserID, "err", err)
		return
	}

	client := NewClient(g.hub, conn, identity.UserID, g.handler)
	client.readLimit = g.readLimit
	if err := g.hub.attach(client); err != nil {
		g.log.Warn("refusing connection", "user_id", identity.UserID, "err", err)
		_ = conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
		_ = conn.Close()
		return
	}
}

func (g *Gateway) refuse(w http.ResponseWriter, r *http.Request, err error) {
	g.log.Warn("realtime handshake refused", "remote_addr", r.RemoteAddr, "err", err)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusUnauthorized)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": "Authentication error"})
}
