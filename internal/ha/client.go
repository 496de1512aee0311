// Package ha speaks the Home Assistant WebSocket API: authentication,
// service calls, custom bus events, and state-change subscriptions, with
// automatic reconnection. The Bridge in this package projects alarms onto
// helper entities; the Client underneath is generic plumbing.
package ha

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// HAClient is the surface the bridge and tests program against.
type HAClient interface {
	Connect() error
	Disconnect() error
	IsConnected() bool
	GetState(entityID string) (*State, error)
	GetAllStates() ([]*State, error)
	CallService(domain, service string, data map[string]interface{}) error
	FireEvent(eventType string, eventData map[string]interface{}) error
	SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error)
	SetInputBoolean(name string, value bool) error
	SetInputNumber(name string, value float64) error
	SetInputText(name string, value string) error
}

// subscriberEntry holds a handler with its unique subscription id.
type subscriberEntry struct {
	subID   int
	handler StateChangeHandler
}

// Client implements HAClient over a single WebSocket connection.
type Client struct {
	url    string
	token  string
	logger *zap.Logger

	conn      *websocket.Conn
	connected bool
	connMu    sync.RWMutex
	writeMu   sync.Mutex // websocket allows one concurrent writer

	msgID   int
	msgIDMu sync.Mutex

	pending   map[int]chan Message
	pendingMu sync.Mutex

	subscribers map[string][]subscriberEntry
	subsMu      sync.RWMutex
	nextSubID   int
	nextSubIDMu sync.Mutex

	ctx       context.Context
	cancel    context.CancelFunc
	reconnect bool
}

// NewClient creates a client for the given WebSocket URL and access token.
func NewClient(url, token string, logger *zap.Logger) *Client {
	ctx, cancel := context.WithCancel(context.Background())
	return &Client{
		url:         url,
		token:       token,
		logger:      logger,
		pending:     make(map[int]chan Message),
		subscribers: make(map[string][]subscriberEntry),
		ctx:         ctx,
		cancel:      cancel,
		reconnect:   true,
	}
}

// Connect dials, authenticates, and starts the receive loop.
func (c *Client) Connect() error {
	c.connMu.Lock()

	if c.connected {
		c.connMu.Unlock()
		return fmt.Errorf("already connected")
	}

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.connMu.Unlock()
		return fmt.Errorf("failed to connect to WebSocket: %w", err)
	}

	// Handshake: auth_required, auth, then auth_ok or auth_invalid.
	var authRequired Message
	if err := conn.ReadJSON(&authRequired); err != nil {
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to read auth_required: %w", err)
	}
	if authRequired.Type != "auth_required" {
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("expected auth_required, got %s", authRequired.Type)
	}

	if err := conn.WriteJSON(AuthMessage{Type: "auth", AccessToken: c.token}); err != nil {
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to send auth: %w", err)
	}

	var authResponse Message
	if err := conn.ReadJSON(&authResponse); err != nil {
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("failed to read auth response: %w", err)
	}
	switch authResponse.Type {
	case "auth_ok":
	case "auth_invalid":
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("authentication failed: invalid token")
	default:
		conn.Close()
		c.connMu.Unlock()
		return fmt.Errorf("expected auth_ok, got %s", authResponse.Type)
	}

	c.conn = conn
	c.resetContextLocked()
	c.connected = true
	c.reconnect = true
	ctx := c.ctx
	c.logger.Info("Connected to Home Assistant")

	// The receive loop is bound to this connection; a reconnect starts a
	// fresh loop on the new one.
	go c.receiveMessages(ctx, conn)

	// Release before subscribing, which round-trips through sendMessage.
	c.connMu.Unlock()

	if err := c.subscribeToStateChanges(); err != nil {
		c.logger.Warn("Failed to subscribe to state changes", zap.Error(err))
	}

	return nil
}

// Disconnect closes the connection and stops reconnecting.
func (c *Client) Disconnect() error {
	c.connMu.Lock()
	defer c.connMu.Unlock()

	if !c.connected {
		return nil
	}

	c.reconnect = false
	c.cancel()
	c.connected = false

	if c.conn != nil {
		c.writeMu.Lock()
		c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()

		c.conn.Close()
		c.conn = nil
	}

	c.clearSubscribers()
	c.logger.Info("Disconnected from Home Assistant")
	return nil
}

// IsConnected reports whether the client currently has an authenticated
// connection.
func (c *Client) IsConnected() bool {
	c.connMu.RLock()
	defer c.connMu.RUnlock()
	return c.connected
}

func (c *Client) resetContextLocked() {
	if c.cancel != nil {
		c.cancel()
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
}

func (c *Client) clearSubscribers() {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	c.subscribers = make(map[string][]subscriberEntry)
}

func (c *Client) nextMsgID() int {
	c.msgIDMu.Lock()
	defer c.msgIDMu.Unlock()
	c.msgID++
	return c.msgID
}

// sendMessage writes a request frame and waits for its response frame.
func (c *Client) sendMessage(msg interface{}) (*Message, error) {
	c.connMu.RLock()
	conn := c.conn
	connected := c.connected
	ctx := c.ctx
	c.connMu.RUnlock()

	if !connected || conn == nil {
		return nil, fmt.Errorf("not connected")
	}

	var msgID int
	switch m := msg.(type) {
	case *CallServiceRequest:
		msgID = m.ID
	case *GetStatesRequest:
		msgID = m.ID
	case *SubscribeEventsRequest:
		msgID = m.ID
	case *FireEventRequest:
		msgID = m.ID
	default:
		return nil, fmt.Errorf("unsupported message type")
	}

	respChan := make(chan Message, 1)
	c.pendingMu.Lock()
	c.pending[msgID] = respChan
	c.pendingMu.Unlock()

	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, msgID)
		c.pendingMu.Unlock()
	}()

	c.writeMu.Lock()
	err := conn.WriteJSON(msg)
	c.writeMu.Unlock()

	if err != nil {
		return nil, fmt.Errorf("failed to send message: %w", err)
	}

	select {
	case resp := <-respChan:
		if resp.Success != nil && !*resp.Success {
			if resp.Error != nil {
				return nil, fmt.Errorf("HA error: %s - %s", resp.Error.Code, resp.Error.Message)
			}
			return nil, fmt.Errorf("request failed")
		}
		return &resp, nil
	case <-time.After(10 * time.Second):
		return nil, fmt.Errorf("timeout waiting for response")
	case <-ctx.Done():
		return nil, fmt.Errorf("client disconnected")
	}
}

// receiveMessages routes incoming frames until the connection dies.
func (c *Client) receiveMessages(ctx context.Context, conn *websocket.Conn) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		var msg Message
		if err := conn.ReadJSON(&msg); err != nil {
			select {
			case <-ctx.Done():
				// Closed on purpose.
			default:
				c.logger.Error("Failed to read message", zap.Error(err))
				c.handleDisconnect()
			}
			return
		}

		if msg.Type == "event" {
			c.handleEvent(&msg)
			continue
		}

		if msg.ID > 0 {
			c.pendingMu.Lock()
			if ch, ok := c.pending[msg.ID]; ok {
				select {
				case ch <- msg:
				default:
					c.logger.Warn("Response channel full", zap.Int("msg_id", msg.ID))
				}
			}
			c.pendingMu.Unlock()
		}
	}
}

// handleEvent fans a state_changed event out to entity subscribers.
func (c *Client) handleEvent(msg *Message) {
	if msg.Event == nil || msg.Event.EventType != "state_changed" {
		return
	}

	var eventData StateChangedEvent
	if err := json.Unmarshal(msg.Event.Data, &eventData); err != nil {
		c.logger.Error("Failed to unmarshal state_changed event", zap.Error(err))
		return
	}

	c.subsMu.RLock()
	entries := append([]subscriberEntry(nil), c.subscribers[eventData.EntityID]...)
	c.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(eventData.EntityID, eventData.OldState, eventData.NewState)
	}
}

func (c *Client) handleDisconnect() {
	c.connMu.Lock()
	c.connected = false
	reconnect := c.reconnect
	c.connMu.Unlock()

	c.logger.Warn("Connection lost")

	if !reconnect {
		return
	}
	go c.attemptReconnect()
}

// attemptReconnect retries Connect with exponential backoff.
func (c *Client) attemptReconnect() {
	backoff := time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-time.After(backoff):
		}

		c.logger.Info("Attempting to reconnect...")

		if err := c.Connect(); err != nil {
			c.logger.Error("Reconnection failed", zap.Error(err))
			backoff *= 2
			if backoff > maxBackoff {
				backoff = maxBackoff
			}
			continue
		}

		c.logger.Info("Reconnected successfully")
		return
	}
}

// subscribeToStateChanges asks the server for all state_changed events.
// Filtering down to watched entities happens client side in handleEvent.
func (c *Client) subscribeToStateChanges() error {
	req := &SubscribeEventsRequest{
		ID:        c.nextMsgID(),
		Type:      "subscribe_events",
		EventType: "state_changed",
	}
	_, err := c.sendMessage(req)
	return err
}

// GetState retrieves one entity's state.
func (c *Client) GetState(entityID string) (*State, error) {
	states, err := c.GetAllStates()
	if err != nil {
		return nil, err
	}
	for _, state := range states {
		if state.EntityID == entityID {
			return state, nil
		}
	}
	return nil, fmt.Errorf("entity %s not found", entityID)
}

// GetAllStates retrieves every entity state.
func (c *Client) GetAllStates() ([]*State, error) {
	req := &GetStatesRequest{
		ID:   c.nextMsgID(),
		Type: "get_states",
	}

	resp, err := c.sendMessage(req)
	if err != nil {
		return nil, err
	}

	var states []*State
	if err := json.Unmarshal(resp.Result, &states); err != nil {
		return nil, fmt.Errorf("failed to unmarshal states: %w", err)
	}
	return states, nil
}

// CallService invokes a Home Assistant service.
func (c *Client) CallService(domain, service string, data map[string]interface{}) error {
	req := &CallServiceRequest{
		ID:          c.nextMsgID(),
		Type:        "call_service",
		Domain:      domain,
		Service:     service,
		ServiceData: data,
	}
	_, err := c.sendMessage(req)
	return err
}

// FireEvent publishes a custom event on the Home Assistant bus.
func (c *Client) FireEvent(eventType string, eventData map[string]interface{}) error {
	req := &FireEventRequest{
		ID:        c.nextMsgID(),
		Type:      "fire_event",
		EventType: eventType,
		EventData: eventData,
	}
	_, err := c.sendMessage(req)
	return err
}

// SubscribeStateChanges registers a handler for one entity's changes.
func (c *Client) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	c.nextSubIDMu.Lock()
	subID := c.nextSubID
	c.nextSubID++
	c.nextSubIDMu.Unlock()

	c.subsMu.Lock()
	c.subscribers[entityID] = append(c.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	c.subsMu.Unlock()

	return &subscription{
		entityID: entityID,
		subID:    subID,
		client:   c,
	}, nil
}

// unsubscribe removes one subscription by entity id and subscription id.
func (c *Client) unsubscribe(entityID string, subID int) error {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()

	subscribers, ok := c.subscribers[entityID]
	if !ok {
		return nil
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			c.subscribers[entityID] = append(subscribers[:i], subscribers[i+1:]...)
			if len(c.subscribers[entityID]) == 0 {
				delete(c.subscribers, entityID)
			}
			break
		}
	}
	return nil
}

// SetInputBoolean turns an input_boolean helper on or off.
func (c *Client) SetInputBoolean(name string, value bool) error {
	service := "turn_off"
	if value {
		service = "turn_on"
	}
	return c.CallService("input_boolean", service, map[string]interface{}{
		"entity_id": fmt.Sprintf("input_boolean.%s", name),
	})
}

// SetInputNumber sets an input_number helper.
func (c *Client) SetInputNumber(name string, value float64) error {
	return c.CallService("input_number", "set_value", map[string]interface{}{
		"entity_id": fmt.Sprintf("input_number.%s", name),
		"value":     value,
	})
}

// SetInputText sets an input_text helper.
func (c *Client) SetInputText(name string, value string) error {
	return c.CallService("input_text", "set_value", map[string]interface{}{
		"entity_id": fmt.Sprintf("input_text.%s", name),
		"value":     value,
	})
}
