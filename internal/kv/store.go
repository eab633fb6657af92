// Package kv provides the durable key-value document storage behind the
// persistent store. Each logical document (state, offline queue, notes)
// lives under its own stable key.
package kv

import "sync"

// Store is the durable storage contract. Implementations must keep keys
// stable across process restarts where the medium allows it.
type Store interface {
	// Get returns the stored document and whether the key was present.
	Get(key string) ([]byte, bool, error)
	// Set writes the document, replacing any previous value.
	Set(key string, value []byte) error
	// Delete removes the key; deleting an absent key is not an error.
	Delete(key string) error
}

// Memory is an in-process Store used by tests and by sibling-instance
// convergence scenarios that share one storage handle.
type Memory struct {
	mu        sync.RWMutex
	documents map[string][]byte
}

// NewMemory constructs an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{documents: make(map[string][]byte)}
}

// Get implements Store.
func (m *Memory) Get(key string) ([]byte, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	value, ok := m.documents[key]
	if !ok {
		return nil, false, nil
	}
	copied := make([]byte, len(value))
	copy(copied, value)
	return copied, true, nil
}

// Set implements Store.
func (m *Memory) Set(key string, value []byte) error {
	copied := make([]byte, len(value))
	copy(copied, value)
	m.mu.Lock()
	m.documents[key] = copied
	m.mu.Unlock()
	return nil
}

// Delete implements Store.
func (m *Memory) Delete(key string) error {
	m.mu.Lock()
	delete(m.documents, key)
	m.mu.Unlock()
	return nil
}
