package observability

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
)

// DefaultSpansTable is the table SQLiteTraceExporter writes to.
const DefaultSpansTable = "otel_spans"

// SQLiteTraceExporter stores finished spans in a SQLite table, typically in
// the same database as the event store, so single-node deployments can
// inspect dispatch traces without a collector.
type SQLiteTraceExporter struct {
	db        *sql.DB
	table     string
	retention time.Duration
	mu        sync.Mutex
}

// SQLiteExporterOption configures a SQLiteTraceExporter.
type SQLiteExporterOption func(*SQLiteTraceExporter)

// WithSpansTable overrides the table name.
func WithSpansTable(table string) SQLiteExporterOption {
	return func(e *SQLiteTraceExporter) {
		e.table = table
	}
}

// WithRetention removes spans older than d on every export. Zero keeps spans
// forever.
func WithRetention(d time.Duration) SQLiteExporterOption {
	return func(e *SQLiteTraceExporter) {
		e.retention = d
	}
}

// NewSQLiteTraceExporter creates the spans table if needed.
func NewSQLiteTraceExporter(ctx context.Context, db *sql.DB, opts ...SQLiteExporterOption) (*SQLiteTraceExporter, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}

	e := &SQLiteTraceExporter{db: db, table: DefaultSpansTable}
	for _, opt := range opts {
		opt(e)
	}

	if err := e.createTable(ctx); err != nil {
		return nil, fmt.Errorf("failed to create tables: %w", err)
	}
	return e, nil
}

func (e *SQLiteTraceExporter) createTable(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`
			CREATE TABLE IF NOT EXISTS %s (
				span_id TEXT PRIMARY KEY,
				trace_id TEXT NOT NULL,
				parent_span_id TEXT,
				name TEXT NOT NULL,
				kind INTEGER NOT NULL,
				start_time INTEGER NOT NULL,
				end_time INTEGER NOT NULL,
				status_code INTEGER NOT NULL,
				status_message TEXT,
				attributes TEXT,
				events TEXT
			)`, e.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_trace_id ON %s(trace_id)`, e.table, e.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS idx_%s_start_time ON %s(start_time)`, e.table, e.table),
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	for _, stmt := range stmts {
		if _, err := e.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}

// ExportSpans implements sdktrace.SpanExporter
func (e *SQLiteTraceExporter) ExportSpans(ctx context.Context, spans []sdktrace.ReadOnlySpan) error {
	if len(spans) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	tx, err := e.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, fmt.Sprintf(`
		INSERT OR REPLACE INTO %s (
			span_id, trace_id, parent_span_id, name, kind,
			start_time, end_time, status_code, status_message,
			attributes, events
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, e.table))
	if err != nil {
		return fmt.Errorf("prepare span statement: %w", err)
	}
	defer stmt.Close()

	for _, span := range spans {
		spanCtx := span.SpanContext()

		var parentSpanID *string
		if span.Parent().SpanID().IsValid() {
			sid := span.Parent().SpanID().String()
			parentSpanID = &sid
		}

		attrs, _ := json.Marshal(attributesToMap(span.Attributes()))
		events, _ := json.Marshal(eventsToSlice(span.Events()))

		if _, err := stmt.ExecContext(ctx,
			spanCtx.SpanID().String(),
			spanCtx.TraceID().String(),
			parentSpanID,
			span.Name(),
			int(span.SpanKind()),
			span.StartTime().UnixNano(),
			span.EndTime().UnixNano(),
			int(span.Status().Code),
			span.Status().Description,
			string(attrs),
			string(events),
		); err != nil {
			return fmt.Errorf("insert span: %w", err)
		}
	}

	if e.retention > 0 {
		cutoff := time.Now().Add(-e.retention).UnixNano()
		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE end_time < ?`, e.table), cutoff); err != nil {
			return fmt.Errorf("delete expired spans: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Shutdown implements sdktrace.SpanExporter. The database is owned by the
// caller.
func (e *SQLiteTraceExporter) Shutdown(context.Context) error {
	return nil
}

// SpanRecord is one stored span.
type SpanRecord struct {
	SpanID        string
	TraceID       string
	ParentSpanID  string
	Name          string
	StatusCode    int
	StatusMessage string
	Attributes    map[string]any
	Start         time.Time
	End           time.Time
}

// Spans returns the spans of one trace, oldest first.
func (e *SQLiteTraceExporter) Spans(ctx context.Context, traceID string) ([]SpanRecord, error) {
	rows, err := e.db.QueryContext(ctx, fmt.Sprintf(`
		SELECT span_id, trace_id, COALESCE(parent_span_id, ''), name,
		       status_code, COALESCE(status_message, ''), attributes, start_time, end_time
		FROM %s WHERE trace_id = ? ORDER BY start_time
	`, e.table), traceID)
	if err != nil {
		return nil, fmt.Errorf("query spans: %w", err)
	}
	defer rows.Close()

	var records []SpanRecord
	for rows.Next() {
		var (
			r          SpanRecord
			attrs      string
			start, end int64
		)
		if err := rows.Scan(&r.SpanID, &r.TraceID, &r.ParentSpanID, &r.Name,
			&r.StatusCode, &r.StatusMessage, &attrs, &start, &end); err != nil {
			return nil, fmt.Errorf("scan span: %w", err)
		}
		if err := json.Unmarshal([]byte(attrs), &r.Attributes); err != nil {
			return nil, fmt.Errorf("decode span attributes: %w", err)
		}
		r.Start = time.Unix(0, start)
		r.End = time.Unix(0, end)
		records = append(records, r)
	}
	return records, rows.Err()
}

func attributesToMap(attrs []attribute.KeyValue) map[string]any {
	m := make(map[string]any, len(attrs))
	for _, attr := range attrs {
		m[string(attr.Key)] = attr.Value.AsInterface()
	}
	return m
}

func eventsToSlice(events []sdktrace.Event) []map[string]any {
	result := make([]map[string]any, len(events))
	for i, event := range events {
		result[i] = map[string]any{
			"name":       event.Name,
			"timestamp":  event.Time.UnixNano(),
			"attributes": attributesToMap(event.Attributes),
		}
	}
	return result
}
