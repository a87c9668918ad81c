// Package dbexec runs single SQL statements against the mediated database
// and normalizes results and failures for transport.
package dbexec

import (
	"context"
	"database/sql"
	"log/slog"
	"sync"
)

// Result is the outcome of a successful execution. Columns preserves the
// statement's projection order; each row maps column name to value.
type Result struct {
	Columns      []string
	Rows         []map[string]any
	RowsAffected int64
}

// Executor owns the database handle and executes one validated statement per
// call. Readers run concurrently; writers are serialized under writeMu.
type Executor struct {
	db       *sql.DB
	readOnly bool
	logger   *slog.Logger
	writeMu  sync.Mutex
}

// Option configures an Executor.
type Option func(*Executor)

// ReadOnly makes the executor reject statements that could mutate the
// database before they reach the engine.
func ReadOnly() Option {
	return func(e *Executor) { e.readOnly = true }
}

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(e *Executor) { e.logger = logger }
}

// New creates an Executor over an open database handle.
func New(db *sql.DB, opts ...Option) *Executor {
	e := &Executor{db: db, logger: slog.Default()}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Execute runs exactly one SQL statement. On failure the returned error is
// always a *Error carrying the engine's message unmodified.
func (e *Executor) Execute(ctx context.Context, sqlText string) (*Result, error) {
	if !singleStatement(sqlText) {
		return nil, &Error{
			Kind:    KindMultiStatement,
			Message: "input contains more than one SQL statement",
		}
	}

	write := isWrite(sqlText)
	if write && e.readOnly {
		return nil, &Error{
			Kind:    KindRuntime,
			Message: "write statements are disabled on this deployment",
		}
	}

	e.logger.Debug("executing statement", "write", write, "sql", sqlText)

	if write {
		e.writeMu.Lock()
		defer e.writeMu.Unlock()
		return e.exec(ctx, sqlText)
	}
	return e.query(ctx, sqlText)
}

func (e *Executor) query(ctx context.Context, sqlText string) (*Result, error) {
	rows, err := e.db.QueryContext(ctx, sqlText)
	if err != nil {
		return nil, classify(err)
	}
	defer rows.Close()

	columns, err := rows.Columns()
	if err != nil {
		return nil, classify(err)
	}

	result := &Result{Columns: columns, Rows: []map[string]any{}}
	for rows.Next() {
		values := make([]any, len(columns))
		ptrs := make([]any, len(columns))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, classify(err)
		}
		row := make(map[string]any, len(columns))
		for i, col := range columns {
			if b, ok := values[i].([]byte); ok {
				row[col] = string(b)
			} else {
				row[col] = values[i]
			}
		}
		result.Rows = append(result.Rows, row)
	}
	if err := rows.Err(); err != nil {
		return nil, classify(err)
	}
	return result, nil
}

func (e *Executor) exec(ctx context.Context, sqlText string) (*Result, error) {
	res, err := e.db.ExecContext(ctx, sqlText)
	if err != nil {
		return nil, classify(err)
	}
	affected, _ := res.RowsAffected()
	return &Result{Rows: []map[string]any{}, RowsAffected: affected}, nil
}
