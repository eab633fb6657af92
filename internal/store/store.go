// Package store owns the in-memory snapshot of persisted state and is the
// single source of truth within one process. Every read hands out a deep
// copy; every committing write normalizes the next state, persists it
// synchronously, notifies in-process listeners, and signals sibling
// instances over the broadcast channel. Siblings react by re-reading
// ground truth from storage, never by trusting the payload.
package store

import (
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/pulselog/pulselog/internal/broadcast"
	"github.com/pulselog/pulselog/internal/kv"
	"github.com/pulselog/pulselog/internal/schema"
	"go.uber.org/zap"
)

// Default storage keys. They must stay stable across restarts.
const (
	DefaultStateKey = "pulselog-db"
	DefaultNotesKey = "pulselog-notes"
)

var errMissingStorage = errors.New("store: storage dependency is required")

// Config carries the dependencies for a Store.
type Config struct {
	Storage  kv.Store
	Channel  broadcast.Channel // optional; nil disables cross-instance sync
	Clock    func() time.Time
	Logger   *zap.Logger
	StateKey string
	NotesKey string
}

// Store is the persistent store.
type Store struct {
	storage  kv.Store
	channel  broadcast.Channel
	clock    func() time.Time
	logger   *zap.Logger
	stateKey string
	notesKey string

	mu        sync.RWMutex
	state     schema.PersistedState
	notesText string

	listenersMu  sync.Mutex
	listeners    map[int64]func(broadcast.ChangePayload)
	nextListener int64

	unsubscribe func()
}

// New loads the persisted state (migrating legacy shapes as needed) and
// wires the store onto the broadcast channel.
func New(cfg Config) (*Store, error) {
	if cfg.Storage == nil {
		return nil, errMissingStorage
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stateKey := cfg.StateKey
	if stateKey == "" {
		stateKey = DefaultStateKey
	}
	notesKey := cfg.NotesKey
	if notesKey == "" {
		notesKey = DefaultNotesKey
	}

	s := &Store{
		storage:   cfg.Storage,
		channel:   cfg.Channel,
		clock:     clock,
		logger:    logger,
		stateKey:  stateKey,
		notesKey:  notesKey,
		listeners: make(map[int64]func(broadcast.ChangePayload)),
	}
	s.state = s.loadState()
	s.notesText = s.loadNotes()

	if s.channel != nil {
		s.unsubscribe = s.channel.Subscribe(s.handleSync)
	}
	return s, nil
}

// Close detaches the store from the broadcast channel. The storage handle
// stays open; it belongs to the caller.
func (s *Store) Close() {
	if s.unsubscribe != nil {
		s.unsubscribe()
		s.unsubscribe = nil
	}
}

// State returns a deep copy of the current state. Callers must never
// mutate the result; mutation goes through the documented setters.
func (s *Store) State() schema.PersistedState {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.state.Clone()
}

// Options control a SetState commit.
type Options struct {
	// Broadcast controls whether sibling instances are signalled. In-process
	// listeners are always notified.
	Broadcast bool
}

// SetState replaces the whole state. The next state runs through
// normalization before committing, so invariants hold regardless of input.
func (s *Store) SetState(next schema.PersistedState, opts Options) schema.PersistedState {
	s.mu.Lock()
	committed := s.commitLocked(next)
	s.mu.Unlock()
	s.emit(broadcast.ChangePayload{Target: broadcast.TargetState, Action: broadcast.ActionSet}, opts.Broadcast)
	return committed.Clone()
}

// OnChange registers a listener for committed changes and returns its
// unsubscribe function. Listeners run synchronously in commit order and
// are isolated from one another.
func (s *Store) OnChange(listener func(broadcast.ChangePayload)) func() {
	if listener == nil {
		return func() {}
	}
	s.listenersMu.Lock()
	s.nextListener++
	id := s.nextListener
	s.listeners[id] = listener
	s.listenersMu.Unlock()
	return func() {
		s.listenersMu.Lock()
		delete(s.listeners, id)
		s.listenersMu.Unlock()
	}
}

// Reload re-reads ground truth from storage, replacing the in-memory
// snapshot, and notifies listeners.
func (s *Store) Reload() {
	s.reload(broadcast.ChangePayload{Target: broadcast.TargetState, Action: broadcast.ActionSet})
}

func (s *Store) reload(payload broadcast.ChangePayload) {
	loaded := s.loadState()
	notes := s.loadNotes()
	s.mu.Lock()
	s.state = loaded
	s.notesText = notes
	s.mu.Unlock()
	s.notify(payload)
}

func (s *Store) handleSync(message broadcast.Message) {
	if message.Type != broadcast.MessageTypeSync {
		return
	}
	s.reload(message.Payload)
}

// commitLocked normalizes and installs the next state and writes it to
// durable storage. Callers hold s.mu. Storage failures are logged, not
// surfaced: the in-memory state stays authoritative for the session.
func (s *Store) commitLocked(next schema.PersistedState) schema.PersistedState {
	next.Logs = dedupeLogs(next.Logs)
	normalized := schema.NormalizeState(next, s.clock())
	s.state = normalized

	encoded, err := json.Marshal(normalized)
	if err != nil {
		s.logger.Error("state marshal failed", zap.Error(err))
		return normalized
	}
	if err := s.storage.Set(s.stateKey, encoded); err != nil {
		s.logger.Warn("state persist failed, keeping in-memory state", zap.Error(err))
	}
	return normalized
}

// dedupeLogs keeps the first occurrence of every id. Duplicate ids can
// only arrive through SetState with externally assembled logs.
func dedupeLogs(logs []schema.LogEntry) []schema.LogEntry {
	seen := make(map[string]struct{}, len(logs))
	deduped := logs[:0:0]
	for _, entry := range logs {
		if entry.ID != "" {
			if _, dup := seen[entry.ID]; dup {
				continue
			}
			seen[entry.ID] = struct{}{}
		}
		deduped = append(deduped, entry)
	}
	return deduped
}

func (s *Store) emit(payload broadcast.ChangePayload, publish bool) {
	if publish && s.channel != nil {
		if err := s.channel.Publish(payload); err != nil {
			s.logger.Warn("broadcast publish failed", zap.Error(err))
		}
	}
	s.notify(payload)
}

func (s *Store) notify(payload broadcast.ChangePayload) {
	s.listenersMu.Lock()
	listeners := make([]func(broadcast.ChangePayload), 0, len(s.listeners))
	for _, listener := range s.listeners {
		listeners = append(listeners, listener)
	}
	s.listenersMu.Unlock()

	for _, listener := range listeners {
		func() {
			defer func() {
				if recovered := recover(); recovered != nil {
					s.logger.Error("change listener panicked", zap.Any("panic", recovered))
				}
			}()
			listener(payload)
		}()
	}
}

func (s *Store) loadState() schema.PersistedState {
	raw, ok, err := s.storage.Get(s.stateKey)
	if err != nil {
		s.logger.Warn("state read failed, using defaults", zap.Error(err))
		return schema.DefaultState()
	}
	if !ok {
		return schema.DefaultState()
	}
	return schema.Load(raw, s.clock(), s.logger)
}

func (s *Store) loadNotes() string {
	raw, ok, err := s.storage.Get(s.notesKey)
	if err != nil {
		s.logger.Warn("notes read failed", zap.Error(err))
		return ""
	}
	if !ok {
		return ""
	}
	return string(raw)
}
