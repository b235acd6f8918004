package turnstore

import (
	"context"
	"sync"
)

// MemoryStore provides an in-memory implementation of the Store interface.
// It is suitable for tests and single-process embedded use; nothing survives
// a restart.
type MemoryStore struct {
	mu    sync.RWMutex
	turns map[string][]Turn
}

// NewMemoryStore creates a new in-memory turn store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		turns: make(map[string][]Turn),
	}
}

// Append appends a turn to the conversation's log.
func (s *MemoryStore) Append(_ context.Context, conversationID string, turn Turn) error {
	if conversationID == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.turns[conversationID] = append(s.turns[conversationID], turn)
	return nil
}

// List returns a copy of the conversation's turns in append order.
func (s *MemoryStore) List(_ context.Context, conversationID string) ([]Turn, error) {
	if conversationID == "" {
		return nil, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[conversationID]
	if !ok {
		return nil, ErrNotFound
	}

	// Copy so callers can't mutate the stored log.
	out := make([]Turn, len(turns))
	copy(out, turns)
	return out, nil
}

// Count returns the number of turns in the conversation.
func (s *MemoryStore) Count(_ context.Context, conversationID string) (int, error) {
	if conversationID == "" {
		return 0, ErrInvalidID
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	turns, ok := s.turns[conversationID]
	if !ok {
		return 0, ErrNotFound
	}
	return len(turns), nil
}

// Delete removes the conversation and all its turns.
func (s *MemoryStore) Delete(_ context.Context, conversationID string) error {
	if conversationID == "" {
		return ErrInvalidID
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.turns[conversationID]; !ok {
		return ErrNotFound
	}
	delete(s.turns, conversationID)
	return nil
}
