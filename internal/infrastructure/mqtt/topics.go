package mqtt

import (
	"fmt"
	"strings"
)

// Topic prefixes. Everything Elevate publishes lives under "elevate/".
const (
	TopicPrefix        = "elevate"
	TopicPrefixSession = "elevate/session"
	TopicPrefixSystem  = "elevate/system"
)

// Topics provides builders for Elevate MQTT topics.
//
//	topic := mqtt.Topics{}.SessionEvents("alice")
//	// Returns: "elevate/session/alice/events"
type Topics struct{}

// SessionEvents is where lifecycle events for one identity are published.
//
// Example: elevate/session/alice/events
func (Topics) SessionEvents(identity string) string {
	return fmt.Sprintf("%s/%s/events", TopicPrefixSession, escapeLevel(identity))
}

// AllSessionEvents matches every identity's session events.
func (Topics) AllSessionEvents() string {
	return TopicPrefixSession + "/+/events"
}

// SystemStatus carries the retained online/offline status of the server.
func (Topics) SystemStatus() string {
	return TopicPrefixSystem + "/status"
}

// IdentityFromSessionTopic extracts the identity segment from a
// SessionEvents topic. ok is false for any other topic.
func IdentityFromSessionTopic(topic string) (identity string, ok bool) {
	rest, found := strings.CutPrefix(topic, TopicPrefixSession+"/")
	if !found {
		return "", false
	}
	identity, found = strings.CutSuffix(rest, "/events")
	if !found || identity == "" || strings.Contains(identity, "/") {
		return "", false
	}
	return identity, true
}

// escapeLevel replaces characters that would break a single topic level.
// Identities are usernames, so this only guards against odd input.
func escapeLevel(s string) string {
	return strings.NewReplacer("/", "_", "+", "_", "#", "_").Replace(s)
}
