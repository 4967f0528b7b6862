package ws

import (
	"context"
	"testing"

	"pairchat/internal/logging"
	"pairchat/internal/protocol"
)

func newTestDispatcher(t *testing.T, hub *Hub) *Dispatcher {
	t.Helper()
	log := logging.Discard()
	return NewDispatcher(NewRouter(hub, newFileStore(t), log), NewTypingRelay(hub, log), log)
}

func TestTypingReachesReceiverOnly(t *testing.T) {
	hub := newTestHub(t, newStatusRepo())
	relay := NewTypingRelay(hub, logging.Discard())

	aliceTab1 := joinClient(t, hub, "10000001")
	aliceTab2 := joinClient(t, hub, "10000001")
	bobTab1 := joinClient(t, hub, "10000002")
	bobTab2 := joinClient(t, hub, "10000002")
	carol := joinClient(t, hub, "10000003")
	for _, c := range []*Client{aliceTab1, aliceTab2, bobTab1, bobTab2, carol} {
		drain(c)
	}

	if n := relay.Notify(aliceTab1, "10000002"); n != 2 {
		t.Fatalf("Notify reached %d connections, want 2", n)
	}
	for _, c := range []*Client{bobTab1, bobTab2} {
		env := recvEnvelope(t, c)
		if env.Event != protocol.EventUserTyping {
			t.Fatalf("event = %q", env.Event)
		}
		var p protocol.UserTyping
		decodeInto(t, env, &p)
		if p.UserID != "10000001" {
			t.Fatalf("typing user = %q", p.UserID)
		}
	}
	for _, c := range []*Client{aliceTab1, aliceTab2, carol} {
		expectNoFrame(t, c)
	}
}

func TestTypingDropsSilently(t *testing.T) {
	hub := newTestHub(t, newStatusRepo())
	relay := NewTypingRelay(hub, logging.Discard())
	alice := joinClient(t, hub, "10000001")

	if n := relay.Notify(alice, "10000002"); n != 0 {
		t.Fatalf("typing to offline user reached %d connections", n)
	}
	if n := relay.Notify(alice, "not-a-user"); n != 0 {
		t.Fatalf("typing to invalid id reached %d connections", n)
	}
	expectNoFrame(t, alice)
}

func TestDispatchSendMessage(t *testing.T) {
	hub := newTestHub(t, newStatusRepo())
	d := newTestDispatcher(t, hub)

	alice := joinClient(t, hub, "10000001")
	bob := joinClient(t, hub, "10000002")
	drain(alice)

	d.HandleEvent(context.Background(), alice, protocol.Envelope{
		Event: protocol.EventSendMessage,
		Data:  []byte(`{"receiverId":"10000002","text":"hello"}`),
	})

	for _, c := range []*Client{alice, bob} {
		if env := recvEnvelope(t, c); env.Event != protocol.EventReceiveMessage {
			t.Fatalf("%s got %q", c.UserID, env.Event)
		}
	}
}

func TestDispatchErrors(t *testing.T) {
	hub := newTestHub(t, newStatusRepo())
	d := newTestDispatcher(t, hub)
	alice := joinClient(t, hub, "10000001")

	tests := []struct {
		name string
		env  protocol.Envelope
		code string
	}{
		{"unknown event", protocol.Envelope{Event: "join-room", Data: []byte(`{}`)}, protocol.CodeBadRequest},
		{"missing payload", protocol.Envelope{Event: protocol.EventSendMessage}, protocol.CodeBadRequest},
		{"malformed payload", protocol.Envelope{Event: protocol.EventSendMessage, Data: []byte(`[1,2]`)}, protocol.CodeBadRequest},
		{"empty text", protocol.Envelope{Event: protocol.EventSendMessage, Data: []byte(`{"receiverId":"10000002","text":" "}`)}, protocol.CodeValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d.HandleEvent(context.Background(), alice, tt.env)

			env := recvEnvelope(t, alice)
			if env.Event != protocol.EventError {
				t.Fatalf("event = %q, want error", env.Event)
			}
			var perr protocol.Error
			decodeInto(t, env, &perr)
			if perr.Code != tt.code {
				t.Fatalf("code = %q, want %q", perr.Code, tt.code)
			}
		})
	}
}

func TestDispatchMalformedTypingIsIgnored(t *testing.T) {
	hub := newTestHub(t, newStatusRepo())
	d := newTestDispatcher(t, hub)
	alice := joinClient(t, hub, "10000001")

	d.HandleEvent(context.Background(), alice, protocol.Envelope{Event: protocol.EventTyping, Data: []byte(`"x"`)})
	expectNoFrame(t, alice)
}
