package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/elevate/internal/infrastructure/logging"
	"github.com/nerrad567/elevate/internal/infrastructure/mqtt"
)

// Push reconnect backoff.
const (
	pushMinBackoff = time.Second
	pushMaxBackoff = 30 * time.Second
	pushReadLimit  = 64 << 10
	pushPongWait   = 60 * time.Second
)

// sessionChannel is the hub channel carrying session events.
const sessionChannel = "session"

// pushMessage is the subset of the hub's message envelope the agent reads.
type pushMessage struct {
	Type      string          `json:"type"`
	EventType string          `json:"event_type,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// TicketSource issues WebSocket tickets. HTTPClient implements it.
type TicketSource interface {
	WSTicket(ctx context.Context) (string, error)
	PushURL(ticket string) (string, error)
}

// WatchPush holds a WebSocket open to the server and signals wake for
// every session event addressed to this identity. It reconnects with
// exponential backoff and returns when ctx is cancelled.
//
// Push is a latency optimisation only. The agent's periodic check stays
// authoritative, so a lost connection costs at most one check interval.
func WatchPush(ctx context.Context, src TicketSource, wake chan<- struct{}, logger *logging.Logger) error {
	if logger == nil {
		logger = logging.Discard()
	}
	logger = logger.Component("push")

	backoff := pushMinBackoff
	for {
		connected, err := watchOnce(ctx, src, wake)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if connected {
			backoff = pushMinBackoff
		}
		logger.Warn("push connection lost", "error", err, "retry_in", backoff)

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, pushMaxBackoff)
	}
}

// watchOnce runs a single connection. connected reports whether the
// subscription was established before the connection ended.
func watchOnce(ctx context.Context, src TicketSource, wake chan<- struct{}) (connected bool, err error) {
	ticket, err := src.WSTicket(ctx)
	if err != nil {
		return false, fmt.Errorf("obtaining ticket: %w", err)
	}
	url, err := src.PushURL(ticket)
	if err != nil {
		return false, err
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, url, http.Header{})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return false, fmt.Errorf("dialling: %w", err)
	}
	defer conn.Close()

	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	sub := map[string]any{
		"type":    "subscribe",
		"payload": map[string]any{"channels": []string{sessionChannel}},
	}
	if err := conn.WriteJSON(sub); err != nil {
		return false, fmt.Errorf("subscribing: %w", err)
	}
	// Anything missed while disconnected is picked up by a check.
	signal(wake)

	conn.SetReadLimit(pushReadLimit)
	conn.SetReadDeadline(time.Now().Add(pushPongWait)) //nolint:errcheck // deadline on a fresh conn cannot fail
	conn.SetPingHandler(func(data string) error {
		conn.SetReadDeadline(time.Now().Add(pushPongWait)) //nolint:errcheck // best effort
		return conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
	})

	for {
		var msg pushMessage
		if err := conn.ReadJSON(&msg); err != nil {
			return true, err
		}
		conn.SetReadDeadline(time.Now().Add(pushPongWait)) //nolint:errcheck // best effort
		if msg.Type == "event" && msg.EventType == sessionChannel {
			signal(wake)
		}
	}
}

// Subscriber is the MQTT subscription surface used by WatchMQTT.
type Subscriber interface {
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error
	Unsubscribe(topic string) error
}

// WatchMQTT signals wake for every session event the broker delivers for
// identity. Call the returned function to unsubscribe.
func WatchMQTT(sub Subscriber, identity string, wake chan<- struct{}) (func() error, error) {
	topic := mqtt.Topics{}.SessionEvents(identity)
	err := sub.Subscribe(topic, 1, func(_ string, _ []byte) error {
		signal(wake)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing to %s: %w", topic, err)
	}
	return func() error { return sub.Unsubscribe(topic) }, nil
}

// signal delivers a non-blocking wake; one pending wake is enough.
func signal(wake chan<- struct{}) {
	select {
	case wake <- struct{}{}:
	default:
	}
}
