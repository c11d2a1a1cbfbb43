package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// InMemoryStore is a simple in-process store for local/dev use and tests.
// A single mutex serializes all writes, which trivially satisfies the
// per-username ordering requirement.
type InMemoryStore struct {
	mu      sync.RWMutex
	records map[string]*Record
}

func NewInMemoryStore() *InMemoryStore {
	return &InMemoryStore{records: make(map[string]*Record)}
}

func (s *InMemoryStore) Get(_ context.Context, username string) (Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[username]
	if !ok {
		return emptyRecord(username, time.Now().UTC()), nil
	}
	return cloneRecord(rec), nil
}

func (s *InMemoryStore) AppendTurn(_ context.Context, username string, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[username]
	if !ok {
		fresh := emptyRecord(username, now)
		rec = &fresh
		s.records[username] = rec
	}
	applyTurn(rec, turn, now)
	return nil
}

func (s *InMemoryStore) Clear(_ context.Context, username string) error {
	now := time.Now().UTC()

	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[username]
	if !ok {
		return nil
	}
	rec.History = nil
	rec.Entities = make(map[string]EntityRef)
	rec.QuestionPatterns = make(map[string]int)
	rec.UpdatedAt = now
	return nil
}

func (s *InMemoryStore) ListUsers(_ context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	users := make([]string, 0, len(s.records))
	for username := range s.records {
		users = append(users, username)
	}
	sort.Strings(users)
	return users, nil
}

func (s *InMemoryStore) Close() error { return nil }

func cloneRecord(rec *Record) Record {
	out := *rec
	if rec.History != nil {
		out.History = make([]Turn, len(rec.History))
		copy(out.History, rec.History)
	}
	out.Entities = make(map[string]EntityRef, len(rec.Entities))
	for k, v := range rec.Entities {
		out.Entities[k] = v
	}
	out.QuestionPatterns = make(map[string]int, len(rec.QuestionPatterns))
	for k, v := range rec.QuestionPatterns {
		out.QuestionPatterns[k] = v
	}
	return out
}
