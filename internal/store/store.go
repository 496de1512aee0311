// Package store persists alarm state to a JSON file so a restarted daemon
// can re-arm every alarm from its saved time, enabled flag, and snooze
// duration alone.
package store

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"go.uber.org/zap"

	"github.com/DGTLMagician/hass-alarmclock/internal/alarm"
)

// ErrNotFound is returned when the state file does not exist yet.
var ErrNotFound = errors.New("state file not found")

const filePermissions = 0o600

// FileStore reads and writes the state file. The file maps alarm ids to
// their stored state and is small enough to rewrite whole on every change.
type FileStore struct {
	path string
	mu   sync.Mutex
}

func NewFileStore(path string) *FileStore {
	return &FileStore{path: filepath.Clean(path)}
}

// Load reads every alarm's stored state from disk.
func (s *FileStore) Load() (map[string]alarm.StoredState, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	contents, err := os.ReadFile(s.path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("read state file: %w", err)
	}

	states := make(map[string]alarm.StoredState)
	if err := json.Unmarshal(contents, &states); err != nil {
		return nil, fmt.Errorf("decode state file: %w", err)
	}
	return states, nil
}

// Save writes every alarm's stored state to disk.
func (s *FileStore) Save(states map[string]alarm.StoredState) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	data, err := json.MarshalIndent(states, "", "  ")
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	if err := os.WriteFile(s.path, data, filePermissions); err != nil {
		return fmt.Errorf("write state file: %w", err)
	}
	return nil
}

// CollectStates gathers the persistable state of every registered alarm.
func CollectStates(reg *alarm.Registry) map[string]alarm.StoredState {
	alarms := reg.List()
	states := make(map[string]alarm.StoredState, len(alarms))
	for _, a := range alarms {
		states[a.ID()] = a.Snapshot().Stored()
	}
	return states
}

// Recorder keeps the state file in step with the registry: every state
// change rewrites the file. Writes happen on the emitting goroutine, which
// is fine for a file this size.
type Recorder struct {
	store  *FileStore
	reg    *alarm.Registry
	logger *zap.Logger

	mu  sync.Mutex
	sub *alarm.Subscription
}

func NewRecorder(store *FileStore, reg *alarm.Registry, logger *zap.Logger) *Recorder {
	return &Recorder{store: store, reg: reg, logger: logger}
}

// Restore loads the state file and re-arms every registered alarm from it.
// A missing file is a first run, not an error; an entry that fails to
// restore is logged and skipped so one bad record cannot block startup.
func (r *Recorder) Restore() error {
	states, err := r.store.Load()
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			r.logger.Info("No saved alarm state, starting fresh")
			return nil
		}
		return err
	}

	restored := 0
	for _, a := range r.reg.List() {
		st, ok := states[a.ID()]
		if !ok {
			continue
		}
		if err := a.Restore(st); err != nil {
			r.logger.Warn("Failed to restore alarm",
				zap.String("alarm_id", a.ID()),
				zap.Error(err))
			continue
		}
		restored++
	}

	r.logger.Info("Alarm state restored", zap.Int("alarms", restored))
	return nil
}

// Start subscribes to registry events and begins persisting state changes.
func (r *Recorder) Start() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub != nil {
		return
	}
	r.sub = r.reg.Subscribe(r.handle)
}

// Stop detaches the recorder from the registry.
func (r *Recorder) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.sub == nil {
		return
	}
	r.sub.Unsubscribe()
	r.sub = nil
}

func (r *Recorder) handle(ev alarm.Event) {
	// Trigger notifications change nothing the file records.
	if ev.Type != alarm.EventStateChanged {
		return
	}
	if err := r.store.Save(CollectStates(r.reg)); err != nil {
		r.logger.Error("Failed to persist alarm state", zap.Error(err))
	}
}
