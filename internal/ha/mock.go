package ha

import (
	"fmt"
	"sync"
	"time"
)

// MockClient implements HAClient in memory. It mimics the echo behavior of
// the real server: a service call updates the entity and then notifies
// subscribers, so bridge code sees its own writes come back just like in
// production. Notifications always run with no locks held.
type MockClient struct {
	states   map[string]*State
	statesMu sync.RWMutex

	subscribers map[string][]subscriberEntry
	subsMu      sync.RWMutex
	nextSubID   int
	nextSubIDMu sync.Mutex

	connected bool
	connMu    sync.RWMutex

	serviceCalls []ServiceCall
	firedEvents  []FiredEvent
	callsMu      sync.Mutex
}

// ServiceCall records one CallService invocation.
type ServiceCall struct {
	Domain  string
	Service string
	Data    map[string]interface{}
	Time    time.Time
}

// FiredEvent records one FireEvent invocation.
type FiredEvent struct {
	Type string
	Data map[string]interface{}
	Time time.Time
}

type mockSubscription struct {
	entityID string
	subID    int
	mock     *MockClient
}

func (s *mockSubscription) Unsubscribe() error {
	return s.mock.unsubscribe(s.entityID, s.subID)
}

func NewMockClient() *MockClient {
	return &MockClient{
		states:      make(map[string]*State),
		subscribers: make(map[string][]subscriberEntry),
	}
}

func (m *MockClient) Connect() error {
	m.connMu.Lock()
	defer m.connMu.Unlock()

	if m.connected {
		return fmt.Errorf("already connected")
	}
	m.connected = true
	return nil
}

func (m *MockClient) Disconnect() error {
	m.connMu.Lock()
	m.connected = false
	m.connMu.Unlock()

	m.clearSubscribers()
	return nil
}

func (m *MockClient) IsConnected() bool {
	m.connMu.RLock()
	defer m.connMu.RUnlock()
	return m.connected
}

func (m *MockClient) clearSubscribers() {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()
	m.subscribers = make(map[string][]subscriberEntry)
}

// GetState retrieves a mock entity state.
func (m *MockClient) GetState(entityID string) (*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	state, ok := m.states[entityID]
	if !ok {
		return nil, fmt.Errorf("entity %s not found", entityID)
	}
	return state, nil
}

// GetAllStates retrieves every mock entity state.
func (m *MockClient) GetAllStates() ([]*State, error) {
	m.statesMu.RLock()
	defer m.statesMu.RUnlock()

	states := make([]*State, 0, len(m.states))
	for _, state := range m.states {
		states = append(states, state)
	}
	return states, nil
}

// CallService records the call and applies it to the addressed entity,
// echoing the resulting state change to subscribers.
func (m *MockClient) CallService(domain, service string, data map[string]interface{}) error {
	m.callsMu.Lock()
	m.serviceCalls = append(m.serviceCalls, ServiceCall{
		Domain:  domain,
		Service: service,
		Data:    data,
		Time:    time.Now(),
	})
	m.callsMu.Unlock()

	if entityID, ok := data["entity_id"].(string); ok {
		m.applyServiceCall(entityID, domain, service, data)
	}
	return nil
}

// FireEvent records a bus event. The mock has no event subscribers; tests
// inspect the recording.
func (m *MockClient) FireEvent(eventType string, eventData map[string]interface{}) error {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.firedEvents = append(m.firedEvents, FiredEvent{
		Type: eventType,
		Data: eventData,
		Time: time.Now(),
	})
	return nil
}

func (m *MockClient) SubscribeStateChanges(entityID string, handler StateChangeHandler) (Subscription, error) {
	m.nextSubIDMu.Lock()
	subID := m.nextSubID
	m.nextSubID++
	m.nextSubIDMu.Unlock()

	m.subsMu.Lock()
	m.subscribers[entityID] = append(m.subscribers[entityID], subscriberEntry{
		subID:   subID,
		handler: handler,
	})
	m.subsMu.Unlock()

	return &mockSubscription{
		entityID: entityID,
		subID:    subID,
		mock:     m,
	}, nil
}

func (m *MockClient) unsubscribe(entityID string, subID int) error {
	m.subsMu.Lock()
	defer m.subsMu.Unlock()

	subscribers, ok := m.subscribers[entityID]
	if !ok {
		return nil
	}

	for i, entry := range subscribers {
		if entry.subID == subID {
			m.subscribers[entityID] = append(subscribers[:i], subscribers[i+1:]...)
			if len(m.subscribers[entityID]) == 0 {
				delete(m.subscribers, entityID)
			}
			break
		}
	}
	return nil
}

func (m *MockClient) SetInputBoolean(name string, value bool) error {
	service := "turn_off"
	if value {
		service = "turn_on"
	}
	return m.CallService("input_boolean", service, map[string]interface{}{
		"entity_id": fmt.Sprintf("input_boolean.%s", name),
	})
}

func (m *MockClient) SetInputNumber(name string, value float64) error {
	return m.CallService("input_number", "set_value", map[string]interface{}{
		"entity_id": fmt.Sprintf("input_number.%s", name),
		"value":     value,
	})
}

func (m *MockClient) SetInputText(name string, value string) error {
	return m.CallService("input_text", "set_value", map[string]interface{}{
		"entity_id": fmt.Sprintf("input_text.%s", name),
		"value":     value,
	})
}

// SetState installs an entity state directly and notifies subscribers, as
// if something else in Home Assistant changed it.
func (m *MockClient) SetState(entityID string, stateValue string, attributes map[string]interface{}) {
	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       stateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}

	m.statesMu.Lock()
	oldState := m.states[entityID]
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// SimulateStateChange changes an entity's state value, keeping its
// attributes, and notifies subscribers.
func (m *MockClient) SimulateStateChange(entityID string, newStateValue string) {
	now := time.Now()
	newState := &State{
		EntityID:    entityID,
		State:       newStateValue,
		Attributes:  make(map[string]interface{}),
		LastChanged: now,
		LastUpdated: now,
	}

	m.statesMu.Lock()
	oldState := m.states[entityID]
	if oldState != nil {
		newState.Attributes = oldState.Attributes
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

// PressButton simulates a press of an input_button helper. Home Assistant
// models a press as the entity's state changing to the press timestamp.
func (m *MockClient) PressButton(name string) {
	entityID := fmt.Sprintf("input_button.%s", name)
	m.SimulateStateChange(entityID, time.Now().Format(time.RFC3339Nano))
}

// GetServiceCalls returns a copy of the recorded service calls.
func (m *MockClient) GetServiceCalls() []ServiceCall {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	calls := make([]ServiceCall, len(m.serviceCalls))
	copy(calls, m.serviceCalls)
	return calls
}

// ClearServiceCalls drops the service call history.
func (m *MockClient) ClearServiceCalls() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.serviceCalls = nil
}

// GetFiredEvents returns a copy of the recorded bus events.
func (m *MockClient) GetFiredEvents() []FiredEvent {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()

	events := make([]FiredEvent, len(m.firedEvents))
	copy(events, m.firedEvents)
	return events
}

// ClearFiredEvents drops the bus event history.
func (m *MockClient) ClearFiredEvents() {
	m.callsMu.Lock()
	defer m.callsMu.Unlock()
	m.firedEvents = nil
}

// applyServiceCall mirrors what the helper domains do with a service call.
func (m *MockClient) applyServiceCall(entityID, domain, service string, data map[string]interface{}) {
	now := time.Now()

	m.statesMu.Lock()
	oldState := m.states[entityID]

	var newStateValue string
	attributes := make(map[string]interface{})
	if oldState != nil {
		newStateValue = oldState.State
		attributes = oldState.Attributes
	}

	switch domain {
	case "input_boolean":
		switch service {
		case "turn_on":
			newStateValue = "on"
		case "turn_off":
			newStateValue = "off"
		}
	case "input_number":
		if value, ok := data["value"].(float64); ok {
			newStateValue = fmt.Sprintf("%.2f", value)
		}
	case "input_text":
		if value, ok := data["value"].(string); ok {
			newStateValue = value
		}
	}

	newState := &State{
		EntityID:    entityID,
		State:       newStateValue,
		Attributes:  attributes,
		LastChanged: now,
		LastUpdated: now,
	}
	m.states[entityID] = newState
	m.statesMu.Unlock()

	m.notifySubscribers(entityID, oldState, newState)
}

func (m *MockClient) notifySubscribers(entityID string, oldState, newState *State) {
	m.subsMu.RLock()
	entries := append([]subscriberEntry(nil), m.subscribers[entityID]...)
	m.subsMu.RUnlock()

	for _, entry := range entries {
		entry.handler(entityID, oldState, newState)
	}
}
