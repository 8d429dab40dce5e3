package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/elevate/internal/infrastructure/config"
	"github.com/nerrad567/elevate/internal/infrastructure/logging"
	"github.com/nerrad567/elevate/internal/session"
)

func newTestClient(hub *Hub, identity string, channels ...string) *WSClient {
	c := &WSClient{
		hub:           hub,
		send:          make(chan []byte, wsSendBufferSize),
		subscriptions: make(map[string]struct{}),
		identity:      identity,
	}
	for _, ch := range channels {
		c.subscriptions[ch] = struct{}{}
	}
	hub.Register(c)
	return c
}

func TestHub_NotifyTargetsIdentity(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	alice := newTestClient(hub, "alice", ChannelSession)
	aliceUnsubscribed := newTestClient(hub, "alice")
	bob := newTestClient(hub, "bob", ChannelSession)

	ev := session.Event{
		Type:     session.EventTransferRequested,
		Identity: "alice",
		DeviceID: deviceB,
		At:       time.UnixMilli(1000),
		EndTime:  time.UnixMilli(61000),
	}
	if err := hub.Notify(context.Background(), ev); err != nil {
		t.Fatalf("Notify() error = %v", err)
	}

	select {
	case data := <-alice.send:
		var msg struct {
			Type      string        `json:"type"`
			EventType string        `json:"event_type"`
			Payload   session.Event `json:"payload"`
		}
		if err := json.Unmarshal(data, &msg); err != nil {
			t.Fatalf("decoding message: %v", err)
		}
		if msg.Type != WSTypeEvent || msg.EventType != ChannelSession {
			t.Errorf("message = %+v", msg)
		}
		if msg.Payload.Type != session.EventTransferRequested || msg.Payload.DeviceID != deviceB {
			t.Errorf("payload = %+v", msg.Payload)
		}
	default:
		t.Fatal("subscribed client received nothing")
	}

	if len(aliceUnsubscribed.send) != 0 {
		t.Error("unsubscribed client received an event")
	}
	if len(bob.send) != 0 {
		t.Error("other identity received an event")
	}

	hub.Unregister(bob)
	if got := hub.ClientCount(); got != 2 {
		t.Errorf("ClientCount() = %d, want 2", got)
	}
}

func TestWebSocket_RejectsMissingTicket(t *testing.T) {
	env := newTestEnv(t)

	w := request(t, env.router, http.MethodGet, "/api/v1/ws", "", nil)
	expectStatus(t, w, http.StatusUnauthorized)

	w = request(t, env.router, http.MethodGet, "/api/v1/ws?ticket=deadbeef", "", nil)
	expectStatus(t, w, http.StatusUnauthorized)
}

func TestTicketStore_CleanExpired(t *testing.T) {
	store := newTicketStore()
	now := time.Now()
	store.tickets["old"] = ticketEntry{identity: "alice", expiresAt: now.Add(-time.Second)}
	store.tickets["new"] = ticketEntry{identity: "alice", expiresAt: now.Add(time.Minute)}

	store.cleanExpired(now)

	if _, ok := store.tickets["old"]; ok {
		t.Error("expired ticket kept")
	}
	if _, ok := store.tickets["new"]; !ok {
		t.Error("live ticket removed")
	}
}

func TestWebSocket_PushesSessionEvents(t *testing.T) {
	env := newTestEnv(t)
	ts := httptest.NewServer(env.router)
	t.Cleanup(ts.Close)

	token := env.login(t, "alice")
	w := request(t, env.router, http.MethodPost, "/api/v1/auth/ws-ticket", token, nil)
	expectStatus(t, w, http.StatusOK)
	var ticket struct {
		Ticket string `json:"ticket"`
	}
	decode(t, w, &ticket)

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/v1/ws?ticket=" + ticket.Ticket
	conn, resp, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	resp.Body.Close()
	t.Cleanup(func() { conn.Close() })
	conn.SetReadDeadline(time.Now().Add(5 * time.Second)) //nolint:errcheck // test deadline

	// The ticket is single use.
	if _, _, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Error("second dial with the same ticket succeeded")
	}

	sub := WSMessage{Type: WSTypeSubscribe, ID: "1", Payload: WSSubscribePayload{Channels: []string{ChannelSession}}}
	if err := conn.WriteJSON(sub); err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	var ack WSMessage
	if err := conn.ReadJSON(&ack); err != nil {
		t.Fatalf("reading subscribe ack: %v", err)
	}
	if ack.Type != WSTypeResponse || ack.ID != "1" {
		t.Fatalf("ack = %+v", ack)
	}

	w = request(t, env.router, http.MethodPost, "/api/v1/session/start", token,
		session.StartRequest{Credential: testCredential, DeviceID: deviceA})
	expectStatus(t, w, http.StatusOK)

	var msg struct {
		Type      string        `json:"type"`
		EventType string        `json:"event_type"`
		Payload   session.Event `json:"payload"`
	}
	if err := conn.ReadJSON(&msg); err != nil {
		t.Fatalf("reading event: %v", err)
	}
	if msg.Type != WSTypeEvent || msg.Payload.Type != session.EventStarted || msg.Payload.DeviceID != deviceA {
		t.Errorf("event = %+v", msg)
	}
}

func TestWebSocket_RejectsUnknownChannel(t *testing.T) {
	hub := NewHub(config.WebSocketConfig{}, logging.Discard())
	c := newTestClient(hub, "alice")

	c.handleMessage([]byte(`{"type":"subscribe","id":"7","payload":{"channels":["devices"]}}`))

	var msg WSMessage
	if err := json.Unmarshal(<-c.send, &msg); err != nil {
		t.Fatalf("decoding reply: %v", err)
	}
	if msg.Type != WSTypeError || msg.ID != "7" {
		t.Errorf("reply = %+v", msg)
	}
	if c.isSubscribed("devices") {
		t.Error("unknown channel subscribed")
	}
}
