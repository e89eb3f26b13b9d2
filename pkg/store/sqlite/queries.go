package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	msqlite "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/plaenen/fnsourcing/pkg/codec"
	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

const (
	hasStreamSQL  = `SELECT EXISTS (SELECT 1 FROM streams WHERE name = ?)`
	insertStream  = `INSERT INTO streams (name, created_at) VALUES (?, ?)`
	lastNumberSQL = `SELECT COALESCE(MAX(number), 0) FROM events WHERE stream = ?`
	insertEvent   = `INSERT INTO events (
		stream, number, event_id, name, payload, metadata, aggregate_id, aggregate_version, created_at
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`
	selectEvents = `SELECT event_id, name, payload, metadata, created_at FROM events WHERE stream = ? AND number >= ?`
)

func hasStream(ctx context.Context, q querier, stream es.StreamName) (bool, error) {
	var exists bool
	if err := q.QueryRowContext(ctx, hasStreamSQL, string(stream)).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check stream %q: %w", stream, err)
	}
	return exists, nil
}

func createStream(ctx context.Context, q querier, stream es.StreamName, events []es.Message) error {
	if _, err := q.ExecContext(ctx, insertStream, string(stream), es.Now().UnixNano()); err != nil {
		return fmt.Errorf("create stream %q: %w", stream, mapConstraintError(err, es.ErrStreamExists))
	}
	return insertEvents(ctx, q, stream, 0, events)
}

func appendEvents(ctx context.Context, q querier, stream es.StreamName, events []es.Message) error {
	exists, err := hasStream(ctx, q, stream)
	if err != nil {
		return err
	}
	if !exists {
		return fmt.Errorf("append to stream %q: %w", stream, es.ErrStreamNotFound)
	}

	var last int64
	if err := q.QueryRowContext(ctx, lastNumberSQL, string(stream)).Scan(&last); err != nil {
		return fmt.Errorf("failed to read stream %q position: %w", stream, err)
	}
	return insertEvents(ctx, q, stream, last, events)
}

func insertEvents(ctx context.Context, q querier, stream es.StreamName, last int64, events []es.Message) error {
	for i, event := range events {
		payload, err := codec.EncodeValues(event.Payload())
		if err != nil {
			return fmt.Errorf("failed to encode payload of %s: %w", event.Name(), err)
		}
		metadata, err := codec.EncodeValues(event.Metadata())
		if err != nil {
			return fmt.Errorf("failed to encode metadata of %s: %w", event.Name(), err)
		}
		aggregateID, version := aggregateColumns(event)

		_, err = q.ExecContext(ctx, insertEvent,
			string(stream),
			last+int64(i)+1,
			event.ID(),
			event.Name(),
			string(payload),
			string(metadata),
			aggregateID,
			version,
			event.CreatedAt().UnixNano(),
		)
		if err != nil {
			return fmt.Errorf("failed to insert %s into %q: %w", event.Name(), stream, mapConstraintError(err, es.ErrConcurrencyConflict))
		}
	}
	return nil
}

func aggregateColumns(event es.Message) (sql.NullString, sql.NullInt64) {
	var (
		id      sql.NullString
		version sql.NullInt64
	)
	if v, ok := event.MetadataValue(es.MetadataAggregateID); ok && v != nil {
		id = sql.NullString{String: fmt.Sprint(v), Valid: true}
	}
	if v, ok := event.MetadataValue(es.MetadataAggregateVersion); ok {
		if n, err := es.ToInt64(v); err == nil {
			version = sql.NullInt64{Int64: n, Valid: true}
		}
	}
	return id, version
}

func loadEvents(ctx context.Context, q querier, query es.LoadQuery) ([]es.Message, error) {
	var sb strings.Builder
	sb.WriteString(selectEvents)
	args := []any{string(query.Stream), query.FromNumber}

	if query.ToNumber > 0 {
		sb.WriteString(" AND number <= ?")
		args = append(args, query.ToNumber)
	}
	for _, c := range query.Matcher {
		clause, arg, err := conditionSQL(c)
		if err != nil {
			return nil, err
		}
		sb.WriteString(" AND ")
		sb.WriteString(clause)
		args = append(args, jsonPath(c.Key), arg)
	}
	sb.WriteString(" ORDER BY number")

	rows, err := q.QueryContext(ctx, sb.String(), args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query stream %q: %w", query.Stream, err)
	}
	defer rows.Close()

	var events []es.Message
	for rows.Next() {
		var (
			id, name, payload, metadata string
			createdAt                   int64
		)
		if err := rows.Scan(&id, &name, &payload, &metadata, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}

		p, err := codec.DecodeValues([]byte(payload))
		if err != nil {
			return nil, fmt.Errorf("failed to decode payload of %s: %w", id, err)
		}
		md, err := codec.DecodeValues([]byte(metadata))
		if err != nil {
			return nil, fmt.Errorf("failed to decode metadata of %s: %w", id, err)
		}

		events = append(events, es.NewEvent(name, p,
			es.WithID(id),
			es.WithMetadata(md),
			es.WithCreatedAt(time.Unix(0, createdAt)),
		))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read stream %q: %w", query.Stream, err)
	}
	return events, nil
}

var sqlOperators = map[es.MatchOperator]string{
	es.OpEquals:            "=",
	es.OpNotEquals:         "!=",
	es.OpGreaterThan:       ">",
	es.OpGreaterThanEquals: ">=",
	es.OpLowerThan:         "<",
	es.OpLowerThanEquals:   "<=",
}

// conditionSQL renders a metadata condition against the JSON metadata column.
// Numeric values bind as integers so they compare numerically.
func conditionSQL(c es.MetadataCondition) (string, any, error) {
	op, ok := sqlOperators[c.Operator]
	if !ok {
		return "", nil, fmt.Errorf("unsupported metadata operator %q", c.Operator)
	}

	var arg any
	switch v := c.Value.(type) {
	case string:
		arg = v
	case bool:
		arg = v
	default:
		if n, err := es.ToInt64(v); err == nil {
			arg = n
		} else {
			arg = fmt.Sprint(v)
		}
	}
	return "json_extract(metadata, ?) " + op + " ?", arg, nil
}

func jsonPath(key string) string {
	return `$."` + strings.ReplaceAll(key, `"`, `\"`) + `"`
}

// mapConstraintError turns a uniqueness violation into target.
func mapConstraintError(err error, target error) error {
	if isUniqueViolation(err) {
		return fmt.Errorf("%w: %v", target, err)
	}
	return err
}

func isUniqueViolation(err error) bool {
	var sqliteErr *msqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			return true
		case sqlite3.SQLITE_CONSTRAINT:
			return strings.Contains(sqliteErr.Error(), "UNIQUE constraint failed")
		}
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
