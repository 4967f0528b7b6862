package ws

import (
	"context"
	"fmt"
	"log/slog"

	"pairchat/internal/protocol"
)

// Dispatcher routes inbound events to the message router and typing relay.
type Dispatcher struct {
	router *Router
	typing *TypingRelay
	log    *slog.Logger
}

func NewDispatcher(router *Router, typing *TypingRelay, log *slog.Logger) *Dispatcher {
	return &Dispatcher{router: router, typing: typing, log: log}
}

func (d *Dispatcher) HandleEvent(ctx context.Context, c *Client, env protocol.Envelope) {
	switch env.Event {
	case protocol.EventSendMessage:
		var p protocol.SendMessage
		if err := protocol.DecodeData(env, &p); err != nil {
			c.ReplyError(protocol.CodeBadRequest, err.Error())
			return
		}
		if _, err := d.router.Send(ctx, c.UserID, p.ReceiverID, p.Text); err != nil {
			code, message := sendFailure(err)
			d.log.Warn("send failed", "user_id", c.UserID, "conn_id", c.ID, "receiver_id", p.ReceiverID, "code", code, "err", err)
			c.ReplyError(code, message)
		}

	case protocol.EventTyping:
		var p protocol.Typing
		if err := protocol.DecodeData(env, &p); err != nil {
			d.log.Debug("dropping malformed typing event", "user_id", c.UserID, "err", err)
			return
		}
		d.typing.Notify(c, p.ReceiverID)

	default:
		c.ReplyError(protocol.CodeBadRequest, fmt.Sprintf("unknown event %q", env.Event))
	}
}
