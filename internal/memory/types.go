package memory

import (
	"context"
	"errors"
	"time"
)

// Entity categories recognized by the resolver.
const (
	CategoryPerson = "person"
	CategoryTable  = "table"
	CategoryValue  = "value"
)

// ErrUnavailable marks a memory store that cannot be reached. Callers may
// retry; read paths should degrade to an empty record instead of failing.
var ErrUnavailable = errors.New("memory store unavailable")

// Turn is one completed question/answer cycle. Immutable once appended.
type Turn struct {
	ID               string    `json:"id"`
	RawQuestion      string    `json:"raw_question"`
	ResolvedQuestion string    `json:"resolved_question"`
	GeneratedQuery   string    `json:"generated_query,omitempty"`
	ResultSummary    string    `json:"result_summary,omitempty"`
	Answer           string    `json:"answer,omitempty"`
	Timestamp        time.Time `json:"timestamp"`
}

// EntityRef records a previously mentioned named value. The alias key in
// Record.Entities is the lowercased form; Canonical keeps the original casing.
type EntityRef struct {
	Canonical    string    `json:"canonical"`
	Category     string    `json:"category"`
	LastSeenTurn int       `json:"last_seen_turn"`
	LastSeenAt   time.Time `json:"last_seen_at"`
}

// Record is the per-username conversational memory. At most one exists per
// username; all writes are upserts.
type Record struct {
	Username         string               `json:"username"`
	History          []Turn               `json:"conversation_history"`
	Entities         map[string]EntityRef `json:"entity_memory"`
	QuestionPatterns map[string]int       `json:"question_patterns"`
	CreatedAt        time.Time            `json:"created_at"`
	UpdatedAt        time.Time            `json:"updated_at"`
}

// RecentTurns returns the most recent n turns in chronological order.
func (r Record) RecentTurns(n int) []Turn {
	if n <= 0 {
		return nil
	}
	if n >= len(r.History) {
		return r.History
	}
	return r.History[len(r.History)-n:]
}

// Store persists per-user conversational memory. Get never fails for an
// unknown username; it returns an empty record instead.
type Store interface {
	Get(ctx context.Context, username string) (Record, error)
	AppendTurn(ctx context.Context, username string, turn Turn) error
	Clear(ctx context.Context, username string) error
	ListUsers(ctx context.Context) ([]string, error)
	Close() error
}

func emptyRecord(username string, now time.Time) Record {
	return Record{
		Username:         username,
		Entities:         make(map[string]EntityRef),
		QuestionPatterns: make(map[string]int),
		CreatedAt:        now,
		UpdatedAt:        now,
	}
}
