// Package executor runs approved queries against the target database and
// summarizes the outcome for the conversation history.
package executor

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// ErrExecution marks a failure of the approved query against the target
// store. The turn is still recorded, with a failure-marked summary.
var ErrExecution = errors.New("query execution failed")

// Outcome captures an executed query's result.
type Outcome struct {
	Summary      string     `json:"summary"`
	Columns      []string   `json:"columns,omitempty"`
	Rows         [][]string `json:"rows,omitempty"`
	RowsAffected int64      `json:"rows_affected,omitempty"`
}

// Executor executes a single approved query.
type Executor interface {
	Execute(ctx context.Context, query string) (Outcome, error)
}

// Column describes one column of a target table.
type Column struct {
	Name       string `json:"name"`
	Type       string `json:"type"`
	NotNull    bool   `json:"not_null"`
	PrimaryKey bool   `json:"primary_key"`
}

// Table describes one target table.
type Table struct {
	Name    string   `json:"name"`
	Columns []Column `json:"columns"`
}

// SchemaProvider exposes the target database layout for prompt assembly and
// the schema endpoint.
type SchemaProvider interface {
	Schema(ctx context.Context) ([]Table, error)
}

// RenderSchema formats tables for the generator prompt.
func RenderSchema(tables []Table) string {
	if len(tables) == 0 {
		return "No tables found in database"
	}

	blocks := make([]string, 0, len(tables))
	for _, table := range tables {
		names := make([]string, 0, len(table.Columns))
		detailed := make([]string, 0, len(table.Columns))
		for _, col := range table.Columns {
			names = append(names, col.Name)
			detailed = append(detailed, fmt.Sprintf("%s (%s)", col.Name, col.Type))
		}
		blocks = append(blocks, fmt.Sprintf("Table '%s':\n  Columns: %s\n  Detailed: %s",
			table.Name, strings.Join(names, ", "), strings.Join(detailed, ", ")))
	}
	return strings.Join(blocks, "\n\n")
}
