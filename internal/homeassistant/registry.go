package homeassistant

import "log/slog"

// Registry joins the REST and WebSocket clients into the single
// collaborator the entity catalog reads from: states and services come
// over REST, the area, device and entity registries over WebSocket.
type Registry struct {
	*Client
	*WSClient
}

// NewRegistry creates REST and WebSocket clients for the same instance.
// The WebSocket side is not connected until Connect is called.
func NewRegistry(baseURL, token string, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	return &Registry{
		Client:   NewClient(baseURL, token, logger),
		WSClient: NewWSClient(baseURL, token, logger.With("component", "ha-ws")),
	}
}
