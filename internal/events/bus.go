// Package events carries typed outbound notifications (configuration
// generated, validated, previewed, deploy requested, deployed) from the
// request handlers to observers such as the MQTT publisher. The bus is
// nil-safe: calling Publish on a nil *Bus is a no-op, so components do
// not need guard checks.
package events

import (
	"sync"
	"time"
)

// Event type names, as seen by Home Assistant and MQTT consumers.
const (
	TypeConfigGenerated = "ai_config_assistant_config_generated"
	TypeConfigValidated = "ai_config_assistant_config_validated"
	TypeConfigPreviewed = "ai_config_assistant_config_previewed"
	TypeDeployed        = "ai_config_assistant_deployed"

	// deployPrefix is followed by the artifact type, e.g.
	// ai_config_assistant_deploy_automation.
	deployPrefix = "ai_config_assistant_deploy_"
)

// DeployRequestedType returns the event type announcing a deploy of
// configType.
func DeployRequestedType(configType string) string {
	return deployPrefix + configType
}

// ConfigGenerated is the payload of TypeConfigGenerated.
type ConfigGenerated struct {
	RequestID    string   `json:"request_id"`
	ConfigType   string   `json:"config_type"`
	Success      bool     `json:"success"`
	EntitiesUsed []string `json:"entities_used"`
	Warnings     int      `json:"warnings"`
}

// ConfigValidated is the payload of TypeConfigValidated.
type ConfigValidated struct {
	RequestID  string `json:"request_id"`
	ConfigType string `json:"config_type"`
	Valid      bool   `json:"valid"`
	Errors     int    `json:"errors"`
	Warnings   int    `json:"warnings"`
}

// ConfigPreviewed is the payload of TypeConfigPreviewed.
type ConfigPreviewed struct {
	RequestID          string   `json:"request_id"`
	ConfigType         string   `json:"config_type"`
	EntitiesReferenced []string `json:"entities_referenced"`
}

// DeployRequested is the payload of the deploy_<type> events.
type DeployRequested struct {
	RequestID  string `json:"request_id"`
	ConfigType string `json:"config_type"`
	ID         string `json:"id"`
	Alias      string `json:"alias"`
}

// Deployed is the payload of TypeDeployed.
type Deployed struct {
	RequestID  string `json:"request_id"`
	ConfigType string `json:"config_type"`
	ID         string `json:"id"`
	Alias      string `json:"alias"`
	Error      string `json:"error,omitempty"`
}

// Event is one notification. Data holds one of the payload types above.
type Event struct {
	Timestamp time.Time `json:"ts"`
	Type      string    `json:"event_type"`
	Data      any       `json:"data,omitempty"`
}

// NewEvent stamps a fresh event.
func NewEvent(eventType string, data any) Event {
	return Event{Timestamp: time.Now(), Type: eventType, Data: data}
}

// Bus is a non-blocking broadcast event bus. Subscribers receive events
// on buffered channels; slow subscribers miss events rather than
// blocking publishers.
type Bus struct {
	mu   sync.RWMutex
	subs map[chan Event]struct{}
	// recvToSend maps the receive-only channel handed to the caller back
	// to the bidirectional channel stored in subs.
	recvToSend map[<-chan Event]chan Event
}

// New creates a new event bus ready for use.
func New() *Bus {
	return &Bus{
		subs:       make(map[chan Event]struct{}),
		recvToSend: make(map[<-chan Event]chan Event),
	}
}

// Publish sends an event to all subscribers. If a subscriber's channel
// is full the event is dropped for that subscriber. Safe to call on a
// nil receiver.
func (b *Bus) Publish(e Event) {
	if b == nil {
		return
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	for ch := range b.subs {
		select {
		case ch <- e:
		default:
		}
	}
}

// Subscribe returns a channel that receives published events. The
// caller must eventually call Unsubscribe.
func (b *Bus) Subscribe(bufSize int) <-chan Event {
	ch := make(chan Event, bufSize)
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs[ch] = struct{}{}
	b.recvToSend[ch] = ch
	return ch
}

// Unsubscribe removes a subscription and closes the channel. Unknown
// channels are ignored.
func (b *Bus) Unsubscribe(ch <-chan Event) {
	b.mu.Lock()
	defer b.mu.Unlock()
	sendCh, ok := b.recvToSend[ch]
	if !ok {
		return
	}
	delete(b.subs, sendCh)
	delete(b.recvToSend, ch)
	close(sendCh)
}

// SubscriberCount returns the number of active subscribers.
func (b *Bus) SubscriberCount() int {
	if b == nil {
		return 0
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs)
}
