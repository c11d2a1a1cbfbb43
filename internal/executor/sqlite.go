package executor

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
)

const maxCapturedRows = 50

// SQLiteExecutor runs queries against a SQLite target database.
type SQLiteExecutor struct {
	db *sql.DB
}

// OpenSQLite opens the target database read-write with a busy timeout so
// concurrent approvals queue instead of failing.
func OpenSQLite(path string) (*SQLiteExecutor, error) {
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open target database %q: %w", path, err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping target database: %w", err)
	}
	return &SQLiteExecutor{db: db}, nil
}

func (e *SQLiteExecutor) Close() error { return e.db.Close() }

func (e *SQLiteExecutor) Execute(ctx context.Context, query string) (Outcome, error) {
	if isRowReturning(query) {
		return e.executeQuery(ctx, query)
	}
	return e.executeStatement(ctx, query)
}

func (e *SQLiteExecutor) executeQuery(ctx context.Context, query string) (Outcome, error) {
	rows, err := e.db.QueryContext(ctx, query)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrExecution, err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: read columns: %s", ErrExecution, err)
	}

	out := Outcome{Columns: cols}
	values := make([]any, len(cols))
	ptrs := make([]any, len(cols))
	for i := range values {
		ptrs[i] = &values[i]
	}

	total := 0
	for rows.Next() {
		total++
		if total > maxCapturedRows {
			continue
		}
		if err := rows.Scan(ptrs...); err != nil {
			return Outcome{}, fmt.Errorf("%w: scan row: %s", ErrExecution, err)
		}
		row := make([]string, len(cols))
		for i, v := range values {
			row[i] = renderValue(v)
		}
		out.Rows = append(out.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrExecution, err)
	}

	out.Summary = summarizeRows(total, out.Rows)
	return out, nil
}

func (e *SQLiteExecutor) executeStatement(ctx context.Context, query string) (Outcome, error) {
	res, err := e.db.ExecContext(ctx, query)
	if err != nil {
		return Outcome{}, fmt.Errorf("%w: %s", ErrExecution, err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return Outcome{
		Summary:      fmt.Sprintf("%d row(s) affected", affected),
		RowsAffected: affected,
	}, nil
}

// Schema introspects the target database through sqlite_master and
// PRAGMA table_info.
func (e *SQLiteExecutor) Schema(ctx context.Context) ([]Table, error) {
	rows, err := e.db.QueryContext(ctx,
		`SELECT name FROM sqlite_master WHERE type='table' AND name NOT LIKE 'sqlite_%' ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list tables: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan table name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate tables: %w", err)
	}

	tables := make([]Table, 0, len(names))
	for _, name := range names {
		cols, err := e.tableColumns(ctx, name)
		if err != nil {
			return nil, err
		}
		tables = append(tables, Table{Name: name, Columns: cols})
	}
	return tables, nil
}

func (e *SQLiteExecutor) tableColumns(ctx context.Context, table string) ([]Column, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf("PRAGMA table_info(%q)", table))
	if err != nil {
		return nil, fmt.Errorf("table info %q: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var (
			cid        int
			name       string
			colType    string
			notNull    int
			defaultVal sql.NullString
			pk         int
		)
		if err := rows.Scan(&cid, &name, &colType, &notNull, &defaultVal, &pk); err != nil {
			return nil, fmt.Errorf("scan column info: %w", err)
		}
		cols = append(cols, Column{
			Name:       name,
			Type:       colType,
			NotNull:    notNull != 0,
			PrimaryKey: pk != 0,
		})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate columns: %w", err)
	}
	return cols, nil
}

// Ping reports target database reachability for readiness checks.
func (e *SQLiteExecutor) Ping(ctx context.Context) error {
	return e.db.PingContext(ctx)
}

func isRowReturning(query string) bool {
	head := strings.ToUpper(strings.TrimSpace(query))
	for _, prefix := range []string{"SELECT", "WITH", "PRAGMA", "EXPLAIN"} {
		if strings.HasPrefix(head, prefix) {
			return true
		}
	}
	return false
}

func renderValue(v any) string {
	switch val := v.(type) {
	case nil:
		return "NULL"
	case []byte:
		return string(val)
	default:
		return fmt.Sprint(val)
	}
}

func summarizeRows(total int, captured [][]string) string {
	if total == 0 {
		return "no rows returned"
	}
	preview := make([]string, 0, 3)
	for i, row := range captured {
		if i == 3 {
			break
		}
		preview = append(preview, "("+strings.Join(row, ", ")+")")
	}
	summary := fmt.Sprintf("%d row(s) returned", total)
	if len(preview) > 0 {
		summary += ": " + strings.Join(preview, ", ")
	}
	if total > len(captured) {
		summary += fmt.Sprintf(" (showing first %d)", len(captured))
	}
	return summary
}
