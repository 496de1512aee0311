package alarm

import (
	"sync"

	"go.uber.org/zap"

	"github.com/DGTLMagician/hass-alarmclock/internal/clock"
)

// Registry owns the set of alarms and fans their events out to
// subscribers. Lookups are read-mostly; register and unregister take the
// write lock.
type Registry struct {
	clk    clock.Clock
	solar  SolarSchedule
	logger *zap.Logger

	mu     sync.RWMutex
	alarms map[string]*Alarm
	order  []string

	subMu   sync.Mutex
	subs    []subscriber
	nextSub int
}

type subscriber struct {
	id      int
	handler EventHandler
}

// Subscription is an active registry subscription.
type Subscription struct {
	r  *Registry
	id int
}

// Unsubscribe detaches the handler. Safe to call more than once.
func (s *Subscription) Unsubscribe() {
	s.r.subMu.Lock()
	defer s.r.subMu.Unlock()
	for i, sub := range s.r.subs {
		if sub.id == s.id {
			s.r.subs = append(s.r.subs[:i], s.r.subs[i+1:]...)
			return
		}
	}
}

// NewRegistry builds an empty registry. solar may be nil when the
// deployment has no coordinates; registering a solar alarm then fails.
func NewRegistry(clk clock.Clock, solar SolarSchedule, logger *zap.Logger) *Registry {
	return &Registry{
		clk:    clk,
		solar:  solar,
		logger: logger.Named("alarm"),
		alarms: make(map[string]*Alarm),
	}
}

// Register creates the machine for cfg and adds it under its id.
func (r *Registry) Register(cfg Config) (*Alarm, error) {
	if cfg.ID == "" {
		return nil, Errorf(ErrInvalidState, "alarm id must not be empty")
	}
	if !cfg.SolarEvent.Valid() {
		return nil, Errorf(ErrInvalidState, "alarm %q has unknown solar event %q", cfg.ID, cfg.SolarEvent)
	}
	if cfg.SolarEvent != SolarNone && r.solar == nil {
		return nil, Errorf(ErrInvalidState,
			"alarm %q requires location coordinates for %s scheduling", cfg.ID, cfg.SolarEvent)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.alarms[cfg.ID]; exists {
		return nil, Errorf(ErrDuplicateIdentifier, "alarm %q is already registered", cfg.ID)
	}

	a := newAlarm(cfg, r.clk, r.solar,
		r.logger.With(zap.String("alarm_id", cfg.ID)), r.dispatch)
	r.alarms[cfg.ID] = a
	r.order = append(r.order, cfg.ID)

	r.logger.Info("Alarm registered",
		zap.String("alarm_id", cfg.ID),
		zap.String("name", a.Name()))
	return a, nil
}

// Unregister closes the machine (cancelling any outstanding timer) and
// removes it. The cancel happens before removal so no dangling fire
// callback outlives the entry.
func (r *Registry) Unregister(id string) error {
	r.mu.RLock()
	a, ok := r.alarms[id]
	r.mu.RUnlock()
	if !ok {
		return Errorf(ErrNotFound, "no alarm %q", id)
	}

	a.close()

	r.mu.Lock()
	if _, ok := r.alarms[id]; !ok {
		r.mu.Unlock()
		return Errorf(ErrNotFound, "no alarm %q", id)
	}
	delete(r.alarms, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i], r.order[i+1:]...)
			break
		}
	}
	r.mu.Unlock()

	r.logger.Info("Alarm unregistered", zap.String("alarm_id", id))
	return nil
}

// Get looks an alarm up by id.
func (r *Registry) Get(id string) (*Alarm, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.alarms[id]
	if !ok {
		return nil, Errorf(ErrNotFound, "no alarm %q", id)
	}
	return a, nil
}

// List returns the alarms in registration order.
func (r *Registry) List() []*Alarm {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Alarm, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.alarms[id])
	}
	return out
}

// Clock exposes the registry's time source so read surfaces can derive
// values like seconds-until-fire against the same clock the alarms use.
func (r *Registry) Clock() clock.Clock {
	return r.clk
}

// Subscribe attaches h to every alarm's event stream. Handlers run
// synchronously on the emitting goroutine in per-alarm order and must not
// issue commands back to the emitting alarm. A slow handler delays that
// alarm's next command, nothing else.
func (r *Registry) Subscribe(h EventHandler) *Subscription {
	r.subMu.Lock()
	defer r.subMu.Unlock()
	r.nextSub++
	r.subs = append(r.subs, subscriber{id: r.nextSub, handler: h})
	return &Subscription{r: r, id: r.nextSub}
}

// Close shuts every machine down and empties the registry.
func (r *Registry) Close() {
	r.mu.RLock()
	alarms := make([]*Alarm, 0, len(r.order))
	for _, id := range r.order {
		alarms = append(alarms, r.alarms[id])
	}
	r.mu.RUnlock()

	for _, a := range alarms {
		a.close()
	}

	r.mu.Lock()
	r.alarms = make(map[string]*Alarm)
	r.order = nil
	r.mu.Unlock()
}

func (r *Registry) dispatch(ev Event) {
	r.subMu.Lock()
	handlers := make([]EventHandler, len(r.subs))
	for i, sub := range r.subs {
		handlers[i] = sub.handler
	}
	r.subMu.Unlock()

	for _, h := range handlers {
		h(ev)
	}
}
