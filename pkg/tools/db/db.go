// SPDX-FileCopyrightText: Copyright 2025 Stacklok, Inc.
// SPDX-License-Identifier: Apache-2.0

// Package db provides SQLite-backed audit tools. Tool calls made through the
// hub can be recorded into an audit log and read back through a fixed set of
// named queries; callers never submit raw SQL.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite" // registers the "sqlite" database/sql driver

	"github.com/klogins-hash/northflank-mcp-hub/pkg/config"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/federation"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/logger"
	"github.com/klogins-hash/northflank-mcp-hub/pkg/tools"
)

// Tool names owned by this handler.
const (
	ToolDBQuery  = "db_query"
	ToolDBRecord = "db_record"
)

// defaultQueryLimit caps row-returning queries unless the caller asks for
// a different limit.
const defaultQueryLimit = 20

// namedQuery is one entry of the read-only query allowlist.
type namedQuery struct {
	description string
	sql         string
	// bind extracts the query's bind parameters from the tool arguments.
	bind func(args map[string]any) ([]any, error)
}

var namedQueries = map[string]namedQuery{
	"recent_audits": {
		description: "most recent audit entries, newest first",
		sql: `SELECT id, tool, backend, status, detail, recorded_at
			FROM audit_log ORDER BY id DESC LIMIT ?`,
		bind: func(args map[string]any) ([]any, error) {
			limit, err := tools.IntArg(args, "limit", defaultQueryLimit)
			if err != nil {
				return nil, err
			}
			return []any{limit}, nil
		},
	},
	"audits_by_tool": {
		description: "audit entries for one tool, newest first",
		sql: `SELECT id, tool, backend, status, detail, recorded_at
			FROM audit_log WHERE tool = ? ORDER BY id DESC LIMIT ?`,
		bind: func(args map[string]any) ([]any, error) {
			tool, err := tools.StringArg(args, "tool")
			if err != nil {
				return nil, err
			}
			limit, err := tools.IntArg(args, "limit", defaultQueryLimit)
			if err != nil {
				return nil, err
			}
			return []any{tool, limit}, nil
		},
	},
	"tool_activity": {
		description: "per-tool call and error counts",
		sql: `SELECT tool, COUNT(*) AS calls,
			SUM(CASE WHEN status = 'error' THEN 1 ELSE 0 END) AS errors
			FROM audit_log GROUP BY tool ORDER BY calls DESC, tool`,
		bind: func(map[string]any) ([]any, error) { return nil, nil },
	},
}

// queryNames returns the allowlist for error messages and the tool schema.
func queryNames() []string {
	names := make([]string, 0, len(namedQueries))
	for name := range namedQueries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Handler serves the audit tools over a SQLite database.
type Handler struct {
	db  *sql.DB
	now func() time.Time
}

var _ tools.Handler = (*Handler)(nil)

// Option configures a Handler.
type Option func(*Handler)

// WithClock replaces the time source. Used by tests.
func WithClock(now func() time.Time) Option {
	return func(h *Handler) {
		h.now = now
	}
}

// NewHandler opens the configured SQLite database and applies any pending
// migrations. A path of ":memory:" keeps the database in memory for the
// lifetime of the handler.
func NewHandler(ctx context.Context, cfg *config.DatabaseConfig, opts ...Option) (*Handler, error) {
	db, err := sql.Open("sqlite", connectionString(cfg.Path))
	if err != nil {
		return nil, fmt.Errorf("opening sqlite database %s: %w", cfg.Path, err)
	}

	// A single connection avoids SQLITE_BUSY on concurrent writes and keeps
	// an in-memory database alive between calls.
	db.SetMaxOpenConns(1)

	if err := runMigrations(ctx, db); err != nil {
		_ = db.Close()
		return nil, err
	}

	h := &Handler{db: db, now: time.Now}
	for _, opt := range opts {
		opt(h)
	}

	logger.Infow("database handler ready", "path", cfg.Path)
	return h, nil
}

// connectionString maps the configured path to a driver connection string.
// Plain ":memory:" would give every pooled connection its own database, so
// it becomes a uniquely named shared-cache database instead.
func connectionString(path string) string {
	if path == ":memory:" {
		return fmt.Sprintf("file:mcphub-%s?mode=memory&cache=shared", uuid.NewString())
	}
	return path
}

// Close closes the underlying database.
func (h *Handler) Close() error {
	return h.db.Close()
}

// Category implements tools.Handler.
func (*Handler) Category() tools.Category { return tools.CategoryDatabase }

// Tools implements tools.Handler.
func (*Handler) Tools() []federation.ToolDef {
	return []federation.ToolDef{
		{
			Name:        ToolDBQuery,
			Description: "Run a named read-only query against the hub audit log",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"query": {Type: "string", Description: "Query name, one of: " + strings.Join(queryNames(), ", ")},
				"tool":  {Type: "string", Description: "Tool name filter, required by audits_by_tool"},
				"limit": {Type: "integer", Description: "Maximum rows to return"},
			}, "query"),
		},
		{
			Name:        ToolDBRecord,
			Description: "Record an entry in the hub audit log",
			InputSchema: tools.ObjectSchema(map[string]tools.Property{
				"tool":    {Type: "string", Description: "Tool the entry is about"},
				"backend": {Type: "string", Description: "Backend involved, if any"},
				"status":  {Type: "string", Description: "Outcome, \"ok\" or \"error\""},
				"detail":  {Type: "string", Description: "Free-form detail"},
			}, "tool"),
		},
	}
}

// Call implements tools.Handler.
func (h *Handler) Call(ctx context.Context, name string, args map[string]any) (any, error) {
	switch name {
	case ToolDBQuery:
		return h.query(ctx, args)
	case ToolDBRecord:
		return h.record(ctx, args)
	default:
		return nil, fmt.Errorf("%w: %s", tools.ErrUnknownTool, name)
	}
}

func (h *Handler) query(ctx context.Context, args map[string]any) (any, error) {
	name, err := tools.StringArg(args, "query")
	if err != nil {
		return nil, err
	}
	q, ok := namedQueries[name]
	if !ok {
		return nil, fmt.Errorf("%w: unknown query %q, available: %s",
			tools.ErrInvalidArguments, name, strings.Join(queryNames(), ", "))
	}

	params, err := q.bind(args)
	if err != nil {
		return nil, err
	}

	rows, err := h.db.QueryContext(ctx, q.sql, params...)
	if err != nil {
		return nil, fmt.Errorf("running query %q: %w", name, err)
	}
	defer rows.Close()

	results, err := scanRows(rows)
	if err != nil {
		return nil, fmt.Errorf("reading query %q results: %w", name, err)
	}

	return map[string]any{"query": name, "count": len(results), "rows": results}, nil
}

func (h *Handler) record(ctx context.Context, args map[string]any) (any, error) {
	tool, err := tools.StringArg(args, "tool")
	if err != nil {
		return nil, err
	}
	backend, err := tools.OptionalStringArg(args, "backend", "")
	if err != nil {
		return nil, err
	}
	status, err := tools.OptionalStringArg(args, "status", "ok")
	if err != nil {
		return nil, err
	}
	detail, err := tools.OptionalStringArg(args, "detail", "")
	if err != nil {
		return nil, err
	}

	recordedAt := h.now().UTC()
	res, err := h.db.ExecContext(ctx,
		`INSERT INTO audit_log (tool, backend, status, detail, recorded_at) VALUES (?, ?, ?, ?, ?)`,
		tool, backend, status, detail, recordedAt,
	)
	if err != nil {
		return nil, fmt.Errorf("inserting audit entry: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("getting audit entry id: %w", err)
	}

	return map[string]any{
		"id":         id,
		"recordedAt": recordedAt.Format(time.RFC3339),
	}, nil
}

// scanRows converts a result set into generic rows keyed by column name.
// BLOB and TEXT columns arrive as []byte and are converted to strings so the
// rows serialize cleanly to JSON.
func scanRows(rows *sql.Rows) ([]map[string]any, error) {
	cols, err := rows.Columns()
	if err != nil {
		return nil, err
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(cols))
		ptrs := make([]any, len(cols))
		for i := range values {
			ptrs[i] = &values[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, err
		}

		row := make(map[string]any, len(cols))
		for i, col := range cols {
			v := values[i]
			if b, ok := v.([]byte); ok {
				v = string(b)
			}
			row[col] = v
		}
		out = append(out, row)
	}
	return out, rows.Err()
}
