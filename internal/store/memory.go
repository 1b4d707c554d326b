package store

import (
	"context"
	"sync"
)

// MemorySessionStore is an in-memory SessionStore for tests and local runs.
type MemorySessionStore struct {
	mu       sync.RWMutex
	sessions map[string]Session
}

// NewMemorySessionStore creates an empty in-memory session store.
func NewMemorySessionStore() *MemorySessionStore {
	return &MemorySessionStore{sessions: make(map[string]Session)}
}

// Create stores a copy of the session.
func (s *MemorySessionStore) Create(_ context.Context, session *Session) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sessions[session.ID] = *session
	return nil
}

// Get returns a copy of the session, or ErrNotFound.
func (s *MemorySessionStore) Get(_ context.Context, id string) (*Session, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	session, ok := s.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	return &session, nil
}

// MemoryAssistantStore is an in-memory AssistantStore for tests and local runs.
type MemoryAssistantStore struct {
	mu      sync.RWMutex
	records map[string]AssistantRecord
}

// NewMemoryAssistantStore creates an empty in-memory assistant record store.
func NewMemoryAssistantStore() *MemoryAssistantStore {
	return &MemoryAssistantStore{records: make(map[string]AssistantRecord)}
}

// GetByUser returns a copy of the user's record, or ErrNotFound.
func (s *MemoryAssistantStore) GetByUser(_ context.Context, userID string) (*AssistantRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return &record, nil
}

// Put creates or replaces the user's record.
func (s *MemoryAssistantStore) Put(_ context.Context, record *AssistantRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.UserID] = *record
	return nil
}
