package session

import (
	"context"
	"fmt"

	"github.com/nerrad567/elevate/internal/infrastructure/influxdb"
	"github.com/nerrad567/elevate/internal/infrastructure/mqtt"
)

// JSONPublisher is the part of the MQTT client MQTTNotifier needs.
type JSONPublisher interface {
	PublishJSON(topic string, v any, retained bool) error
}

// MQTTNotifier publishes events to elevate/session/{identity}/events.
//
// Agents subscribed to their own identity's topic use these messages as a
// prompt to Check immediately instead of waiting for the next poll.
type MQTTNotifier struct {
	pub JSONPublisher
}

// NewMQTTNotifier creates a notifier over a connected MQTT client.
func NewMQTTNotifier(pub JSONPublisher) *MQTTNotifier {
	return &MQTTNotifier{pub: pub}
}

// Notify publishes ev (not retained).
func (n *MQTTNotifier) Notify(_ context.Context, ev Event) error {
	topic := mqtt.Topics{}.SessionEvents(ev.Identity)
	if err := n.pub.PublishJSON(topic, ev, false); err != nil {
		return fmt.Errorf("publishing %s event: %w", ev.Type, err)
	}
	return nil
}

// SessionEventWriter is the part of the InfluxDB client PointNotifier needs.
type SessionEventWriter interface {
	WriteSessionEvent(ev influxdb.SessionEvent)
}

// PointNotifier records events as session_events points in InfluxDB.
type PointNotifier struct {
	w SessionEventWriter
}

// NewPointNotifier creates a notifier over an InfluxDB client.
func NewPointNotifier(w SessionEventWriter) *PointNotifier {
	return &PointNotifier{w: w}
}

// Notify queues a point. Writes are batched; failures surface through the
// client's error callback, not here.
func (n *PointNotifier) Notify(_ context.Context, ev Event) error {
	n.w.WriteSessionEvent(influxdb.SessionEvent{
		Identity:  ev.Identity,
		Type:      string(ev.Type),
		DeviceID:  ev.DeviceID,
		Remaining: ev.Remaining(),
		At:        ev.At,
	})
	return nil
}
