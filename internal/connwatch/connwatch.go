// Package connwatch tracks whether the assistant's upstreams (Home
// Assistant and the completion provider) are reachable, and runs
// recovery hooks when one comes back.
//
// httpkit retries sub-second dial errors inside a single request.
// connwatch covers the longer outages: a Home Assistant restart, a
// provider that is down for minutes.
//
// A Watcher probes one service in a single loop. A healthy service is
// probed every PollInterval. After a failed probe, at startup or after a
// drop, probes back off exponentially (2s, 4s, 8s, ... capped at 60s)
// until MaxRetries consecutive failures, then fall back to PollInterval.
package connwatch

import (
	"context"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// ProbeFunc checks whether a service is reachable. Return nil if healthy.
type ProbeFunc func(ctx context.Context) error

// BackoffConfig controls startup retries and background polling.
type BackoffConfig struct {
	InitialDelay time.Duration // first retry delay (default 2s)
	MaxDelay     time.Duration // backoff ceiling (default 60s)
	Multiplier   float64       // growth per retry (default 2.0)
	MaxRetries   int           // consecutive failures before polling (default 10)
	PollInterval time.Duration // steady-state check interval (default 60s)
	ProbeTimeout time.Duration // per-probe limit (default 10s)
}

// DefaultBackoffConfig returns 2s, 4s, 8s, 16s, 32s, 60s (capped), with
// 10 fast retries before settling into 60-second polling.
func DefaultBackoffConfig() BackoffConfig {
	return BackoffConfig{
		InitialDelay: 2 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
		MaxRetries:   10,
		PollInterval: 60 * time.Second,
		ProbeTimeout: 10 * time.Second,
	}
}

// withDefaults fills zero-value fields from DefaultBackoffConfig.
func (b BackoffConfig) withDefaults() BackoffConfig {
	d := DefaultBackoffConfig()
	if b.InitialDelay <= 0 {
		b.InitialDelay = d.InitialDelay
	}
	if b.MaxDelay <= 0 {
		b.MaxDelay = d.MaxDelay
	}
	if b.Multiplier <= 0 {
		b.Multiplier = d.Multiplier
	}
	if b.MaxRetries <= 0 {
		b.MaxRetries = d.MaxRetries
	}
	if b.PollInterval <= 0 {
		b.PollInterval = d.PollInterval
	}
	if b.ProbeTimeout <= 0 {
		b.ProbeTimeout = d.ProbeTimeout
	}
	return b
}

// next grows delay by the multiplier, capped at MaxDelay.
func (b BackoffConfig) next(delay time.Duration) time.Duration {
	delay = time.Duration(float64(delay) * b.Multiplier)
	if delay > b.MaxDelay {
		delay = b.MaxDelay
	}
	return delay
}

// WatcherConfig configures a single service watcher.
type WatcherConfig struct {
	// Name identifies the service in logs and status output.
	Name string

	// Probe checks service health. Must be safe for concurrent use.
	Probe ProbeFunc

	Backoff BackoffConfig

	// OnReady runs in its own goroutine each time the service goes
	// from not-ready to ready, including the first success.
	OnReady func()

	// OnDown runs in its own goroutine when a ready service stops
	// answering.
	OnDown func(err error)

	Logger *slog.Logger
}

// ServiceStatus is the health of one watched service as reported by
// the /health endpoint.
type ServiceStatus struct {
	Name      string    `json:"name"`
	Ready     bool      `json:"ready"`
	LastCheck time.Time `json:"last_check"`
	LastError string    `json:"last_error,omitempty"`
}

// Watcher monitors a single service's health.
type Watcher struct {
	config WatcherConfig
	ready  atomic.Bool
	cancel context.CancelFunc
	done   chan struct{}

	mu        sync.Mutex
	lastErr   error
	lastCheck time.Time
}

// IsReady reports whether the watched service is currently reachable.
func (w *Watcher) IsReady() bool {
	return w.ready.Load()
}

// LastError returns the most recent probe error, or nil if healthy.
func (w *Watcher) LastError() error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.lastErr
}

// Status returns the current health status.
func (w *Watcher) Status() ServiceStatus {
	w.mu.Lock()
	defer w.mu.Unlock()

	s := ServiceStatus{
		Name:      w.config.Name,
		Ready:     w.ready.Load(),
		LastCheck: w.lastCheck,
	}
	if w.lastErr != nil {
		s.LastError = w.lastErr.Error()
	}
	return s
}

// Wait blocks until the watcher goroutine exits.
func (w *Watcher) Wait() {
	<-w.done
}

// Stop cancels the watcher and waits for its goroutine to exit.
func (w *Watcher) Stop() {
	w.cancel()
	<-w.done
}

func (w *Watcher) run(ctx context.Context) {
	defer close(w.done)

	b := w.config.Backoff
	logger := w.config.Logger.With("service", w.config.Name)
	delay := b.InitialDelay
	failures := 0

	for {
		err := w.check(ctx)
		if ctx.Err() != nil {
			return
		}
		w.transition(err)

		wait := b.PollInterval
		switch {
		case err == nil:
			failures = 0
			delay = b.InitialDelay
		case failures+1 < b.MaxRetries:
			failures++
			logger.Debug("probe failed, retrying", "failures", failures, "next_delay", delay.String(), "error", err)
			wait = delay
			delay = b.next(delay)
		case failures+1 == b.MaxRetries:
			failures++
			logger.Info("service still unreachable, falling back to polling",
				"failures", failures,
				"poll_interval", b.PollInterval.String(),
				"error", err,
			)
		default:
			logger.Debug("service still unreachable", "error", err)
		}

		if !sleepCtx(ctx, wait) {
			return
		}
	}
}

// transition fires OnReady or OnDown when a probe outcome flips the
// ready flag.
func (w *Watcher) transition(err error) {
	healthy := err == nil
	if w.ready.Swap(healthy) == healthy {
		return
	}

	if healthy {
		w.config.Logger.Info("service ready", "service", w.config.Name)
		if cb := w.config.OnReady; cb != nil {
			go cb()
		}
		return
	}

	w.config.Logger.Warn("service became unreachable", "service", w.config.Name, "error", err)
	if cb := w.config.OnDown; cb != nil {
		go cb(err)
	}
}

// check runs the probe under ProbeTimeout and records the outcome.
func (w *Watcher) check(ctx context.Context) error {
	probeCtx, cancel := context.WithTimeout(ctx, w.config.Backoff.ProbeTimeout)
	defer cancel()

	err := w.config.Probe(probeCtx)

	w.mu.Lock()
	w.lastErr = err
	w.lastCheck = time.Now()
	w.mu.Unlock()
	return err
}

// sleepCtx sleeps for d or until ctx is cancelled. Returns false if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

// Manager coordinates multiple service watchers.
type Manager struct {
	mu       sync.RWMutex
	watchers map[string]*Watcher
	logger   *slog.Logger
}

// NewManager creates a connection watch manager.
func NewManager(logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		watchers: make(map[string]*Watcher),
		logger:   logger,
	}
}

// Watch registers and starts a watcher that runs until ctx is
// cancelled or Stop is called. It panics if Name is empty or Probe is
// nil. Zero-value backoff fields take their defaults.
func (m *Manager) Watch(ctx context.Context, cfg WatcherConfig) *Watcher {
	if cfg.Name == "" {
		panic("connwatch: WatcherConfig.Name must not be empty")
	}
	if cfg.Probe == nil {
		panic("connwatch: WatcherConfig.Probe must not be nil")
	}
	if cfg.Logger == nil {
		cfg.Logger = m.logger
	}
	cfg.Backoff = cfg.Backoff.withDefaults()

	watchCtx, cancel := context.WithCancel(ctx)
	w := &Watcher{
		config: cfg,
		cancel: cancel,
		done:   make(chan struct{}),
	}

	go w.run(watchCtx)

	m.mu.Lock()
	m.watchers[cfg.Name] = w
	m.mu.Unlock()

	return w
}

// Status returns the health status of all watched services.
func (m *Manager) Status() map[string]ServiceStatus {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]ServiceStatus, len(m.watchers))
	for name, w := range m.watchers {
		status[name] = w.Status()
	}
	return status
}

// Ready reports whether every watched service is reachable.
func (m *Manager) Ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, w := range m.watchers {
		if !w.IsReady() {
			return false
		}
	}
	return true
}

// Stop shuts down all watchers and waits for their goroutines to exit.
func (m *Manager) Stop() {
	m.mu.RLock()
	watchers := make([]*Watcher, 0, len(m.watchers))
	for _, w := range m.watchers {
		watchers = append(watchers, w)
	}
	m.mu.RUnlock()

	for _, w := range watchers {
		w.Stop()
	}
}
