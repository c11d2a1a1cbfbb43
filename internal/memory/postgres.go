package memory

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresStore persists conversational memory in PostgreSQL, one row per
// username with the three memory collections as JSONB documents.
type PostgresStore struct {
	pool *pgxpool.Pool
}

func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresStore{pool: pool}, nil
}

func initSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS conversation_memory (
			username TEXT PRIMARY KEY,
			conversation_history JSONB NOT NULL DEFAULT '[]'::jsonb,
			entity_memory JSONB NOT NULL DEFAULT '{}'::jsonb,
			question_patterns JSONB NOT NULL DEFAULT '{}'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		);`,
		`CREATE INDEX IF NOT EXISTS idx_conversation_memory_updated ON conversation_memory (updated_at);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, username string) (Record, error) {
	rec, found, err := s.fetch(ctx, s.pool, username, false)
	if err != nil {
		return Record{}, unavailable("get record", err)
	}
	if !found {
		return emptyRecord(username, time.Now().UTC()), nil
	}
	return rec, nil
}

func (s *PostgresStore) AppendTurn(ctx context.Context, username string, turn Turn) error {
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if turn.Timestamp.IsZero() {
		turn.Timestamp = now
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return unavailable("append turn", err)
	}
	defer tx.Rollback(ctx)

	// The row lock serializes concurrent turns for the same username.
	rec, found, err := s.fetch(ctx, tx, username, true)
	if err != nil {
		return unavailable("append turn", err)
	}
	if !found {
		rec = emptyRecord(username, now)
	}
	applyTurn(&rec, turn, now)

	if err := s.upsert(ctx, tx, rec); err != nil {
		return unavailable("append turn", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return unavailable("append turn", err)
	}
	return nil
}

func (s *PostgresStore) Clear(ctx context.Context, username string) error {
	// The record row survives a clear so created_at is preserved.
	_, err := s.pool.Exec(ctx,
		`UPDATE conversation_memory
		 SET conversation_history = '[]'::jsonb,
		     entity_memory = '{}'::jsonb,
		     question_patterns = '{}'::jsonb,
		     updated_at = now()
		 WHERE username = $1`,
		username,
	)
	if err != nil {
		return unavailable("clear record", err)
	}
	return nil
}

func (s *PostgresStore) ListUsers(ctx context.Context) ([]string, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT username FROM conversation_memory ORDER BY updated_at DESC`)
	if err != nil {
		return nil, unavailable("list users", err)
	}
	defer rows.Close()

	var users []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, unavailable("scan username", err)
		}
		users = append(users, u)
	}
	if err := rows.Err(); err != nil {
		return nil, unavailable("iterate usernames", err)
	}
	return users, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func (s *PostgresStore) fetch(ctx context.Context, q querier, username string, forUpdate bool) (Record, bool, error) {
	query := `SELECT conversation_history, entity_memory, question_patterns, created_at, updated_at
		 FROM conversation_memory WHERE username = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}

	var (
		historyJSON  []byte
		entitiesJSON []byte
		patternsJSON []byte
		createdAt    time.Time
		updatedAt    time.Time
	)
	err := q.QueryRow(ctx, query, username).Scan(&historyJSON, &entitiesJSON, &patternsJSON, &createdAt, &updatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, false, nil
	}
	if err != nil {
		return Record{}, false, err
	}

	rec := Record{
		Username:  username,
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
	if err := json.Unmarshal(historyJSON, &rec.History); err != nil {
		return Record{}, false, fmt.Errorf("decode history: %w", err)
	}
	if err := json.Unmarshal(entitiesJSON, &rec.Entities); err != nil {
		return Record{}, false, fmt.Errorf("decode entities: %w", err)
	}
	if err := json.Unmarshal(patternsJSON, &rec.QuestionPatterns); err != nil {
		return Record{}, false, fmt.Errorf("decode patterns: %w", err)
	}
	if rec.Entities == nil {
		rec.Entities = make(map[string]EntityRef)
	}
	if rec.QuestionPatterns == nil {
		rec.QuestionPatterns = make(map[string]int)
	}
	return rec, true, nil
}

func (s *PostgresStore) upsert(ctx context.Context, tx pgx.Tx, rec Record) error {
	historyJSON, err := json.Marshal(rec.History)
	if err != nil {
		return fmt.Errorf("encode history: %w", err)
	}
	entitiesJSON, err := json.Marshal(rec.Entities)
	if err != nil {
		return fmt.Errorf("encode entities: %w", err)
	}
	patternsJSON, err := json.Marshal(rec.QuestionPatterns)
	if err != nil {
		return fmt.Errorf("encode patterns: %w", err)
	}

	_, err = tx.Exec(ctx,
		`INSERT INTO conversation_memory (username, conversation_history, entity_memory, question_patterns, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6)
		 ON CONFLICT (username) DO UPDATE SET
		     conversation_history = EXCLUDED.conversation_history,
		     entity_memory = EXCLUDED.entity_memory,
		     question_patterns = EXCLUDED.question_patterns,
		     updated_at = EXCLUDED.updated_at`,
		rec.Username, historyJSON, entitiesJSON, patternsJSON, rec.CreatedAt, rec.UpdatedAt,
	)
	return err
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %s", op, ErrUnavailable, err)
}
