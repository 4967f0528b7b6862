package ws

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"sync/atomic"
	"time"

	"pairchat/internal/protocol"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
)

const (
	sendBuffer       = 256
	defaultReadLimit = 4096

	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// EventHandler handles one decoded inbound frame from c.
type EventHandler interface {
	HandleEvent(ctx context.Context, c *Client, env protocol.Envelope)
}

// Client is one live connection. A user may hold several.
type Client struct {
	ID            uuid.UUID
	UserID        string
	EstablishedAt time.Time

	hub       *Hub
	conn      *websocket.Conn
	send      chan []byte
	handler   EventHandler
	log       *slog.Logger
	readLimit int64
	evicting  atomic.Bool
}

// NewClient wraps conn for userID. conn may be nil for a client that is
// only registered and never pumped.
func NewClient(hub *Hub, conn *websocket.Conn, userID string, handler EventHandler) *Client {
	id := uuid.New()
	return &Client{
		ID:            id,
		UserID:        userID,
		EstablishedAt: time.Now().UTC(),
		hub:           hub,
		conn:          conn,
		send:          make(chan []byte, sendBuffer),
		handler:       handler,
		readLimit:     defaultReadLimit,
		log:           hub.log.With("user_id", userID, "conn_id", id),
	}
}

// SendChan exposes the outbound queue for reading.
func (c *Client) SendChan() <-chan []byte {
	return c.send
}

// Reply queues a frame on this connection only.
func (c *Client) Reply(frame []byte) bool {
	return c.hub.reply(c, frame)
}

// ReplyError queues an error event on this connection only.
func (c *Client) ReplyError(code, message string) {
	frame, err := protocol.Encode(protocol.EventError, protocol.Error{Code: code, Message: message})
	if err != nil {
		c.log.Error("failed to encode error event", "err", err)
		return
	}
	c.Reply(frame)
}

func (c *Client) setupRead(maxMessageSize int64) {
	c.conn.SetReadLimit(maxMessageSize)
	if err := c.conn.SetReadDeadline(time.Now().Add(pongWait)); err != nil {
		c.log.Debug("failed to set read deadline", "err", err)
	}
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
}

// readPump handles frames strictly in arrival order, so one connection's
// sends are persisted and delivered in the order they were written.
func (c *Client) readPump(ctx context.Context) {
	defer func() {
		c.hub.Leave(c)
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("error closing connection", "err", err)
		}
	}()

	c.setupRead(c.readLimit)

	for {
		_, frame, err := c.conn.ReadMessage()
		if err != nil {
			c.logReadError(err)
			return
		}

		env, err := protocol.Decode(frame)
		if err != nil {
			c.log.Debug("discarding malformed frame", "err", err)
			c.ReplyError(protocol.CodeBadRequest, err.Error())
			continue
		}
		c.handler.HandleEvent(ctx, c, env)
	}
}

func (c *Client) logReadError(err error) {
	switch {
	case errors.Is(err, websocket.ErrReadLimit):
		c.log.Warn("frame exceeded maximum size", "limit", c.readLimit)
	case websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway),
		errors.Is(err, io.EOF), isExpectedCloseError(err):
		c.log.Debug("client disconnected", "err", err)
	default:
		c.log.Info("websocket read error", "err", err)
	}
}

// writePump is the only writer on conn. It exits when the hub closes send.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		if err := c.conn.Close(); err != nil && !isExpectedCloseError(err) {
			c.log.Debug("error closing connection", "err", err)
		}
	}()

	for {
		select {
		case frame, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.log.Debug("write failed", "err", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.log.Debug("ping failed", "err", err)
				return
			}
		}
	}
}

func isExpectedCloseError(err error) bool {
	return errors.Is(err, net.ErrClosed) || errors.Is(err, websocket.ErrCloseSent)
}
