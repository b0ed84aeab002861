package connwatch

import (
	"context"
	"log/slog"
)

// Service names used in status output.
const (
	ServiceHomeAssistant = "homeassistant"
	ServiceProvider      = "provider"
)

// Pinger is anything with a cheap reachability check.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HomeAssistant bundles what the Home Assistant watcher needs.
// Reconnect re-establishes the event stream (subscriptions included)
// and Rebuild refreshes the entity catalog; either may be nil.
type HomeAssistant struct {
	API       Pinger
	Reconnect func(ctx context.Context) error
	Rebuild   func(ctx context.Context) error
}

// WatchHomeAssistant watches the REST API. Every time it becomes
// reachable the event stream is reconnected and the catalog rebuilt so
// entities added during the outage appear.
func (m *Manager) WatchHomeAssistant(ctx context.Context, ha HomeAssistant) *Watcher {
	logger := m.logger.With("service", ServiceHomeAssistant)
	return m.Watch(ctx, WatcherConfig{
		Name:    ServiceHomeAssistant,
		Probe:   ha.API.Ping,
		Backoff: DefaultBackoffConfig(),
		OnReady: func() { recoverHomeAssistant(ctx, ha, logger) },
		OnDown: func(err error) {
			logger.Warn("home assistant unreachable, catalog will go stale", "error", err)
		},
		Logger: logger,
	})
}

func recoverHomeAssistant(ctx context.Context, ha HomeAssistant, logger *slog.Logger) {
	if ha.Reconnect != nil {
		if err := ha.Reconnect(ctx); err != nil {
			logger.Error("event stream reconnect failed", "error", err)
		}
	}
	if ha.Rebuild != nil {
		if err := ha.Rebuild(ctx); err != nil {
			logger.Error("catalog rebuild failed", "error", err)
			return
		}
		logger.Info("catalog rebuilt after reconnect")
	}
}

// WatchProvider watches the configured completion provider. Providers
// are polled less eagerly than Home Assistant since each probe may be
// billed.
func (m *Manager) WatchProvider(ctx context.Context, p Pinger) *Watcher {
	backoff := DefaultBackoffConfig()
	backoff.MaxRetries = 3
	backoff.PollInterval *= 5

	return m.Watch(ctx, WatcherConfig{
		Name:    ServiceProvider,
		Probe:   p.Ping,
		Backoff: backoff,
		Logger:  m.logger.With("service", ServiceProvider),
	})
}
