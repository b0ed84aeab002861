package homeassistant

import (
	"context"
	"encoding/json"
	"log/slog"
)

// StateHandler receives the entity ID and new state of each change.
type StateHandler func(entityID string, newState State)

// DecodeStateChange extracts the new state from a state_changed event.
// ok is false for other event types, undecodable payloads and entity
// removals (no new state).
func DecodeStateChange(ev Event) (entityID string, newState State, ok bool) {
	if ev.Type != EventStateChanged {
		return "", State{}, false
	}
	var data StateChangedData
	if err := json.Unmarshal(ev.Data, &data); err != nil || data.NewState == nil {
		return "", State{}, false
	}
	return data.EntityID, *data.NewState, true
}

// WatchStates feeds every state change on events to handler until ctx
// ends or the channel closes, and reports how many were dispatched.
func WatchStates(ctx context.Context, events <-chan Event, handler StateHandler, logger *slog.Logger) int {
	if logger == nil {
		logger = slog.Default()
	}
	logger.Debug("state watcher started")

	n := 0
	defer func() { logger.Debug("state watcher stopped", "dispatched", n) }()

	for {
		select {
		case <-ctx.Done():
			return n
		case ev, open := <-events:
			if !open {
				return n
			}
			if id, st, ok := DecodeStateChange(ev); ok {
				handler(id, st)
				n++
			}
		}
	}
}
