// Package command executes the memory inspection commands exposed to chat
// users: history, entities, summary, clear, and the admin-scoped users.
package command

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/mlodato/sqlsteward/internal/memory"
)

// Result is the uniform reply of every command. Unknown commands come back
// with Success=false and a descriptive message, never an error.
type Result struct {
	Success bool           `json:"success"`
	Message string         `json:"message"`
	Data    map[string]any `json:"data,omitempty"`
}

const recentSummaryTurns = 5

var available = []string{"/history", "/entities", "/summary", "/clear", "/users"}

// Dispatch runs one command against the store. A leading slash is optional.
func Dispatch(ctx context.Context, store memory.Store, username, cmd string) (Result, error) {
	name := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(cmd)), "/")

	switch name {
	case "history":
		rec, err := store.Get(ctx, username)
		if err != nil {
			return Result{}, fmt.Errorf("history: %w", err)
		}
		return Result{
			Success: true,
			Message: "Conversation history retrieved successfully",
			Data: map[string]any{
				"username":             username,
				"conversation_history": rec.History,
				"total_interactions":   len(rec.History),
			},
		}, nil

	case "entities":
		rec, err := store.Get(ctx, username)
		if err != nil {
			return Result{}, fmt.Errorf("entities: %w", err)
		}
		return Result{
			Success: true,
			Message: "Known entities retrieved successfully",
			Data: map[string]any{
				"entities": entityAliases(rec),
			},
		}, nil

	case "summary":
		rec, err := store.Get(ctx, username)
		if err != nil {
			return Result{}, fmt.Errorf("summary: %w", err)
		}
		return Result{
			Success: true,
			Message: "Conversation summary retrieved successfully",
			Data:    Summarize(rec),
		}, nil

	case "clear":
		if err := store.Clear(ctx, username); err != nil {
			return Result{}, fmt.Errorf("clear: %w", err)
		}
		return Result{Success: true, Message: "Memory cleared successfully"}, nil

	case "users":
		users, err := store.ListUsers(ctx)
		if err != nil {
			return Result{}, fmt.Errorf("users: %w", err)
		}
		if users == nil {
			users = []string{}
		}
		return Result{
			Success: true,
			Message: "All users retrieved successfully",
			Data: map[string]any{
				"users":       users,
				"total_users": len(users),
			},
		}, nil

	default:
		return Result{
			Success: false,
			Message: fmt.Sprintf("Unknown command: %s. Available commands: %s",
				strings.TrimSpace(cmd), strings.Join(available, ", ")),
		}, nil
	}
}

// Summarize derives the digest returned by the summary command and the
// history endpoint: turn count, recent turns, distinct entities, and the
// observed question-pattern keys.
func Summarize(rec memory.Record) map[string]any {
	recent := rec.RecentTurns(recentSummaryTurns)
	mostRecent := ""
	if len(rec.History) > 0 {
		mostRecent = rec.History[len(rec.History)-1].RawQuestion
	}

	patterns := make([]string, 0, len(rec.QuestionPatterns))
	for key := range rec.QuestionPatterns {
		patterns = append(patterns, key)
	}
	sort.Strings(patterns)

	return map[string]any{
		"username":             rec.Username,
		"total_interactions":   len(rec.History),
		"recent_interactions":  recent,
		"known_entities":       entityAliases(rec),
		"question_patterns":    patterns,
		"most_recent_question": mostRecent,
	}
}

func entityAliases(rec memory.Record) []string {
	aliases := make([]string, 0, len(rec.Entities))
	for alias := range rec.Entities {
		aliases = append(aliases, alias)
	}
	sort.Strings(aliases)
	return aliases
}
