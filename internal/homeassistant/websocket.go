package homeassistant

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

// EventStateChanged is the Home Assistant event type carrying entity
// state transitions.
const EventStateChanged = "state_changed"

// requestTimeout bounds one command/result exchange.
const requestTimeout = 30 * time.Second

var (
	errNotConnected = errors.New("websocket not connected")

	// ErrAuthInvalid means Home Assistant rejected the access token.
	ErrAuthInvalid = errors.New("home assistant rejected the access token")
)

// WSClient speaks the Home Assistant WebSocket API: registry listings
// and event subscriptions. Events arrive on the channel returned by
// Events; subscriptions survive Reconnect.
type WSClient struct {
	baseURL string
	token   string
	logger  *slog.Logger
	events  chan Event
	nextID  atomic.Int64

	mu      sync.Mutex // guards everything below and serializes writes
	conn    *websocket.Conn
	waiters map[int64]chan wsMessage
	subs    map[string]bool
}

// Event represents a Home Assistant event received via WebSocket.
type Event struct {
	Type      string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedData represents the data payload for state_changed events.
type StateChangedData struct {
	EntityID string `json:"entity_id"`
	OldState *State `json:"old_state"`
	NewState *State `json:"new_state"`
}

// Area is an entry in the area registry.
type Area struct {
	AreaID  string   `json:"area_id"`
	Name    string   `json:"name"`
	Aliases []string `json:"aliases"`
}

// EntityRegistryEntry is an entry in the entity registry.
type EntityRegistryEntry struct {
	EntityID     string `json:"entity_id"`
	Name         string `json:"name"`
	OriginalName string `json:"original_name"`
	AreaID       string `json:"area_id"`
	DeviceID     string `json:"device_id"`
	Platform     string `json:"platform"`
	DisabledBy   string `json:"disabled_by"`
}

// DeviceRegistryEntry is an entry in the device registry.
type DeviceRegistryEntry struct {
	ID           string `json:"id"`
	Name         string `json:"name"`
	NameByUser   string `json:"name_by_user"`
	AreaID       string `json:"area_id"`
	Manufacturer string `json:"manufacturer"`
	Model        string `json:"model"`
}

// DisplayName prefers the user-assigned name over the integration's.
func (d DeviceRegistryEntry) DisplayName() string {
	if d.NameByUser != "" {
		return d.NameByUser
	}
	return d.Name
}

// CommandError is a failed result returned for a WebSocket command.
type CommandError struct {
	Command string `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %s (%s)", e.Command, e.Message, e.Code)
}

// wsMessage is any frame read from the server.
type wsMessage struct {
	ID      int64           `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success bool            `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Event   *Event          `json:"event,omitempty"`
	Error   *CommandError   `json:"error,omitempty"`
}

// wsCommand is a frame sent to the server after authentication.
type wsCommand struct {
	ID        int64  `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

type wsAuth struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token"`
}

// NewWSClient returns an unconnected client; call Connect before use.
func NewWSClient(baseURL, token string, logger *slog.Logger) *WSClient {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSClient{
		baseURL: baseURL,
		token:   token,
		logger:  logger,
		events:  make(chan Event, 256),
		waiters: make(map[int64]chan wsMessage),
		subs:    make(map[string]bool),
	}
}

// websocketURL maps the REST base URL onto the WebSocket endpoint.
func websocketURL(baseURL string) (string, error) {
	u, err := url.Parse(baseURL)
	if err != nil {
		return "", fmt.Errorf("parse base URL: %w", err)
	}
	switch u.Scheme {
	case "https":
		u.Scheme = "wss"
	case "http":
		u.Scheme = "ws"
	}
	u.Path = "/api/websocket"
	return u.String(), nil
}

// Connect dials, authenticates, starts reading and replays any
// subscriptions made on an earlier connection.
func (c *WSClient) Connect(ctx context.Context) error {
	wsURL, err := websocketURL(c.baseURL)
	if err != nil {
		return err
	}
	c.logger.Info("connecting to Home Assistant WebSocket", "url", wsURL)

	// Registry listings on large installs run to megabytes.
	dialer := websocket.Dialer{
		ReadBufferSize:   1 << 20,
		WriteBufferSize:  64 << 10,
		HandshakeTimeout: 15 * time.Second,
	}
	conn, _, err := dialer.DialContext(ctx, wsURL, nil)
	if err != nil {
		return fmt.Errorf("dial websocket: %w", err)
	}
	conn.SetReadLimit(100 << 20)

	if err := c.handshake(conn); err != nil {
		conn.Close()
		return err
	}

	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
	c.logger.Info("WebSocket authenticated")

	go c.readLoop(conn)
	c.resubscribe(ctx)
	return nil
}

// handshake runs the auth_required / auth / auth_ok exchange.
func (c *WSClient) handshake(conn *websocket.Conn) error {
	var greeting wsMessage
	if err := conn.ReadJSON(&greeting); err != nil {
		return fmt.Errorf("read greeting: %w", err)
	}
	if greeting.Type != "auth_required" {
		return fmt.Errorf("unexpected greeting %q", greeting.Type)
	}

	if err := conn.WriteJSON(wsAuth{Type: "auth", AccessToken: c.token}); err != nil {
		return fmt.Errorf("send token: %w", err)
	}

	var verdict wsMessage
	if err := conn.ReadJSON(&verdict); err != nil {
		return fmt.Errorf("read auth verdict: %w", err)
	}
	switch verdict.Type {
	case "auth_ok":
		return nil
	case "auth_invalid":
		return ErrAuthInvalid
	}
	return fmt.Errorf("unexpected auth verdict %q", verdict.Type)
}

// Close drops the connection. Subscriptions are remembered for the next
// Connect.
func (c *WSClient) Close() error {
	c.mu.Lock()
	conn := c.conn
	c.conn = nil
	c.mu.Unlock()

	if conn == nil {
		return nil
	}
	return conn.Close()
}

// Reconnect replaces the connection. connwatch calls it when Home
// Assistant comes back.
func (c *WSClient) Reconnect(ctx context.Context) error {
	c.logger.Info("reconnecting WebSocket")
	_ = c.Close()
	return c.Connect(ctx)
}

// Events returns the channel subscribed events are delivered on.
func (c *WSClient) Events() <-chan Event {
	return c.events
}

// Subscribe asks Home Assistant for events of eventType. Subscribing to
// the same type twice is a no-op.
func (c *WSClient) Subscribe(ctx context.Context, eventType string) error {
	c.mu.Lock()
	active := c.subs[eventType]
	c.mu.Unlock()
	if active {
		return nil
	}

	if err := c.subscribe(ctx, eventType); err != nil {
		return err
	}

	c.mu.Lock()
	c.subs[eventType] = true
	c.mu.Unlock()
	c.logger.Info("subscribed to events", "event_type", eventType)
	return nil
}

func (c *WSClient) subscribe(ctx context.Context, eventType string) error {
	if _, err := c.command(ctx, wsCommand{Type: "subscribe_events", EventType: eventType}); err != nil {
		return fmt.Errorf("subscribe to %s: %w", eventType, err)
	}
	return nil
}

func (c *WSClient) resubscribe(ctx context.Context) {
	c.mu.Lock()
	types := make([]string, 0, len(c.subs))
	for t := range c.subs {
		types = append(types, t)
	}
	c.mu.Unlock()
	sort.Strings(types)

	for _, t := range types {
		if err := c.subscribe(ctx, t); err != nil {
			c.logger.Error("failed to restore subscription", "event_type", t, "error", err)
		}
	}
}

// GetAreaRegistry lists the area registry.
func (c *WSClient) GetAreaRegistry(ctx context.Context) ([]Area, error) {
	var areas []Area
	if err := c.list(ctx, "config/area_registry/list", &areas); err != nil {
		return nil, err
	}
	return areas, nil
}

// GetEntityRegistry lists the entity registry.
func (c *WSClient) GetEntityRegistry(ctx context.Context) ([]EntityRegistryEntry, error) {
	var entries []EntityRegistryEntry
	if err := c.list(ctx, "config/entity_registry/list", &entries); err != nil {
		return nil, err
	}
	return entries, nil
}

// GetDeviceRegistry lists the device registry.
func (c *WSClient) GetDeviceRegistry(ctx context.Context) ([]DeviceRegistryEntry, error) {
	var devices []DeviceRegistryEntry
	if err := c.list(ctx, "config/device_registry/list", &devices); err != nil {
		return nil, err
	}
	return devices, nil
}

func (c *WSClient) list(ctx context.Context, cmdType string, out any) error {
	result, err := c.command(ctx, wsCommand{Type: cmdType})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("decode %s: %w", cmdType, err)
	}
	return nil
}

// command sends cmd with a fresh id and waits for its result frame.
func (c *WSClient) command(ctx context.Context, cmd wsCommand) (json.RawMessage, error) {
	cmd.ID = c.nextID.Add(1)
	reply := make(chan wsMessage, 1)

	c.mu.Lock()
	if c.conn == nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("%s: %w", cmd.Type, errNotConnected)
	}
	c.waiters[cmd.ID] = reply
	err := c.conn.WriteJSON(cmd)
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		delete(c.waiters, cmd.ID)
		c.mu.Unlock()
	}()
	if err != nil {
		return nil, fmt.Errorf("send %s: %w", cmd.Type, err)
	}

	ctx, cancel := context.WithTimeout(ctx, requestTimeout)
	defer cancel()

	select {
	case msg := <-reply:
		if msg.Success {
			return msg.Result, nil
		}
		cerr := msg.Error
		if cerr == nil {
			cerr = &CommandError{Code: "unknown_error", Message: "command failed"}
		}
		cerr.Command = cmd.Type
		return nil, cerr
	case <-ctx.Done():
		return nil, fmt.Errorf("%s: %w", cmd.Type, ctx.Err())
	}
}

// readLoop runs until conn fails. Reconnecting is connwatch's job.
func (c *WSClient) readLoop(conn *websocket.Conn) {
	for {
		var msg wsMessage
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				c.logger.Info("WebSocket closed")
			} else {
				c.logger.Warn("WebSocket read failed, connection lost", "error", err)
			}
			return
		}
		c.dispatch(msg)
	}
}

func (c *WSClient) dispatch(msg wsMessage) {
	switch msg.Type {
	case "result":
		c.mu.Lock()
		reply, ok := c.waiters[msg.ID]
		c.mu.Unlock()
		if ok {
			select {
			case reply <- msg:
			default:
			}
		}
	case "event":
		if msg.Event == nil {
			return
		}
		select {
		case c.events <- *msg.Event:
		default:
			c.logger.Warn("event buffer full, dropping event", "event_type", msg.Event.Type)
		}
	case "pong":
	default:
		c.logger.Debug("ignoring WebSocket message", "type", msg.Type)
	}
}
