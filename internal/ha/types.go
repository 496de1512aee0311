package ha

import (
	"encoding/json"
	"time"
)

// Message is the base WebSocket frame exchanged with Home Assistant.
type Message struct {
	ID      int             `json:"id,omitempty"`
	Type    string          `json:"type"`
	Success *bool           `json:"success,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
	Event   *Event          `json:"event,omitempty"`
}

// Error is an error payload inside a result frame.
type Error struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AuthMessage carries the access token during the handshake.
type AuthMessage struct {
	Type        string `json:"type"`
	AccessToken string `json:"access_token,omitempty"`
}

// AuthOkMessage acknowledges a successful handshake.
type AuthOkMessage struct {
	Type      string `json:"type"`
	HAVersion string `json:"ha_version"`
}

// Event is the envelope of an event frame.
type Event struct {
	EventType string          `json:"event_type"`
	Data      json.RawMessage `json:"data"`
	Origin    string          `json:"origin"`
	TimeFired time.Time       `json:"time_fired"`
}

// StateChangedEvent is the payload of a state_changed event.
type StateChangedEvent struct {
	EntityID string `json:"entity_id"`
	NewState *State `json:"new_state"`
	OldState *State `json:"old_state"`
}

// State is one entity's state.
type State struct {
	EntityID    string                 `json:"entity_id"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastChanged time.Time              `json:"last_changed"`
	LastUpdated time.Time              `json:"last_updated"`
	Context     *Context               `json:"context,omitempty"`
}

// Context identifies what caused a state change.
type Context struct {
	ID       string `json:"id"`
	ParentID string `json:"parent_id,omitempty"`
	UserID   string `json:"user_id,omitempty"`
}

// CallServiceRequest invokes a service.
type CallServiceRequest struct {
	ID          int                    `json:"id"`
	Type        string                 `json:"type"`
	Domain      string                 `json:"domain"`
	Service     string                 `json:"service"`
	ServiceData map[string]interface{} `json:"service_data,omitempty"`
	Target      *ServiceTarget         `json:"target,omitempty"`
}

// ServiceTarget narrows a service call to specific entities.
type ServiceTarget struct {
	EntityID []string `json:"entity_id,omitempty"`
}

// GetStatesRequest fetches all entity states.
type GetStatesRequest struct {
	ID   int    `json:"id"`
	Type string `json:"type"`
}

// SubscribeEventsRequest subscribes to a bus event type.
type SubscribeEventsRequest struct {
	ID        int    `json:"id"`
	Type      string `json:"type"`
	EventType string `json:"event_type,omitempty"`
}

// FireEventRequest publishes a custom event on the bus.
type FireEventRequest struct {
	ID        int                    `json:"id"`
	Type      string                 `json:"type"`
	EventType string                 `json:"event_type"`
	EventData map[string]interface{} `json:"event_data,omitempty"`
}

// StateChangeHandler is called when a watched entity changes state.
type StateChangeHandler func(entityID string, oldState, newState *State)

// Subscription is an active state-change subscription.
type Subscription interface {
	Unsubscribe() error
}

type subscription struct {
	entityID string
	subID    int
	client   *Client
}

func (s *subscription) Unsubscribe() error {
	return s.client.unsubscribe(s.entityID, s.subID)
}
