// Package sqlite implements the event and snapshot stores on SQLite using the
// pure Go modernc.org/sqlite driver.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	_ "modernc.org/sqlite" // Pure Go SQLite driver

	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
)

// EventStore is a transactional SQLite event store. Streams are rows of the
// streams table; events are numbered from 1 within their stream.
type EventStore struct {
	db *sql.DB
}

var _ es.TransactionalEventStore = (*EventStore)(nil)

type eventStoreConfig struct {
	dsn          string
	maxOpenConns int
	maxIdleConns int
	walMode      bool
	autoMigrate  bool
	busyTimeout  time.Duration
}

func defaultEventStoreConfig() eventStoreConfig {
	return eventStoreConfig{
		dsn:          "eventstore.db",
		maxOpenConns: 25,
		maxIdleConns: 5,
		walMode:      true,
		autoMigrate:  true,
		busyTimeout:  5 * time.Second,
	}
}

// EventStoreOption configures an EventStore.
type EventStoreOption func(*eventStoreConfig)

// WithDSN sets the data source name (file path or ":memory:" for in-memory).
func WithDSN(dsn string) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = dsn
	}
}

// WithMemoryDatabase uses a private in-memory database.
func WithMemoryDatabase() EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = ":memory:"
	}
}

// WithFilename stores the database in filename.
func WithFilename(filename string) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.dsn = filename
	}
}

// WithMaxOpenConns sets the maximum number of open connections to the database.
func WithMaxOpenConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxOpenConns = n
	}
}

// WithMaxIdleConns sets the maximum number of idle connections in the pool.
func WithMaxIdleConns(n int) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.maxIdleConns = n
	}
}

// WithWALMode enables write-ahead logging. Not available for :memory: databases.
func WithWALMode(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.walMode = enabled
	}
}

// WithAutoMigrate runs pending migrations on startup.
func WithAutoMigrate(enabled bool) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.autoMigrate = enabled
	}
}

// WithBusyTimeout sets how long a connection waits for a locked database.
func WithBusyTimeout(d time.Duration) EventStoreOption {
	return func(c *eventStoreConfig) {
		c.busyTimeout = d
	}
}

// NewEventStore opens a SQLite event store.
//
// Example usage:
//
//	// Use defaults (eventstore.db, WAL mode, auto-migrate)
//	store, err := sqlite.NewEventStore(ctx)
//
//	// In-memory database for testing
//	store, err := sqlite.NewEventStore(ctx, sqlite.WithMemoryDatabase())
func NewEventStore(ctx context.Context, opts ...EventStoreOption) (*EventStore, error) {
	config := defaultEventStoreConfig()
	for _, opt := range opts {
		opt(&config)
	}

	memory := config.dsn == ":memory:"

	db, err := sql.Open("sqlite", dataSource(config))
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Each connection to :memory: gets its own database.
	if memory {
		db.SetMaxOpenConns(1)
		db.SetMaxIdleConns(1)
	} else {
		db.SetMaxOpenConns(config.maxOpenConns)
		db.SetMaxIdleConns(config.maxIdleConns)
	}
	db.SetConnMaxLifetime(time.Hour)

	store := &EventStore{db: db}

	if config.walMode && !memory {
		if _, err := db.ExecContext(ctx, "PRAGMA journal_mode = WAL; PRAGMA synchronous = NORMAL;"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set WAL mode: %w", err)
		}
	}

	if config.autoMigrate {
		if err := runMigrations(ctx, db); err != nil {
			db.Close()
			return nil, err
		}
	}

	return store, nil
}

// dataSource adds per-connection pragmas to the DSN. Immediate transactions
// take the write lock on BEGIN, so writers wait on busy_timeout instead of
// failing when upgrading a read lock.
func dataSource(config eventStoreConfig) string {
	params := []string{
		"_pragma=foreign_keys(1)",
		fmt.Sprintf("_pragma=busy_timeout(%d)", config.busyTimeout.Milliseconds()),
		"_txlock=immediate",
	}
	sep := "?"
	if strings.Contains(config.dsn, "?") {
		sep = "&"
	}
	return config.dsn + sep + strings.Join(params, "&")
}

// DB returns the underlying database, e.g. to share it with a SnapshotStore.
func (s *EventStore) DB() *sql.DB {
	return s.db
}

// Close closes the database.
func (s *EventStore) Close() error {
	return s.db.Close()
}

// HasStream reports whether the stream exists.
func (s *EventStore) HasStream(ctx context.Context, stream es.StreamName) (bool, error) {
	return hasStream(ctx, s.db, stream)
}

// Load returns the events selected by query in stream order.
func (s *EventStore) Load(ctx context.Context, query es.LoadQuery) ([]es.Message, error) {
	exists, err := hasStream(ctx, s.db, query.Stream)
	if err != nil {
		return nil, err
	}
	if !exists {
		return nil, fmt.Errorf("load stream %q: %w", query.Stream, es.ErrStreamNotFound)
	}
	return loadEvents(ctx, s.db, query)
}

// Create creates a stream holding events.
func (s *EventStore) Create(ctx context.Context, stream es.StreamName, events []es.Message) error {
	return s.inTx(ctx, func(q querier) error {
		return createStream(ctx, q, stream, events)
	})
}

// AppendTo appends events to an existing stream.
func (s *EventStore) AppendTo(ctx context.Context, stream es.StreamName, events []es.Message) error {
	return s.inTx(ctx, func(q querier) error {
		return appendEvents(ctx, q, stream, events)
	})
}

func (s *EventStore) inTx(ctx context.Context, fn func(querier) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapConstraintError(err, es.ErrConcurrencyConflict)
	}
	return nil
}

// BeginTx starts a transaction grouping stream writes.
func (s *EventStore) BeginTx(ctx context.Context) (es.Transaction, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	return &Tx{tx: tx}, nil
}

// Tx is an open SQLite transaction.
type Tx struct {
	tx *sql.Tx
}

func (t *Tx) HasStream(ctx context.Context, stream es.StreamName) (bool, error) {
	return hasStream(ctx, t.tx, stream)
}

func (t *Tx) Create(ctx context.Context, stream es.StreamName, events []es.Message) error {
	return createStream(ctx, t.tx, stream, events)
}

func (t *Tx) AppendTo(ctx context.Context, stream es.StreamName, events []es.Message) error {
	return appendEvents(ctx, t.tx, stream, events)
}

func (t *Tx) Commit() error {
	if err := t.tx.Commit(); err != nil {
		return mapConstraintError(err, es.ErrConcurrencyConflict)
	}
	return nil
}

func (t *Tx) Rollback() error {
	err := t.tx.Rollback()
	if errors.Is(err, sql.ErrTxDone) {
		return nil
	}
	return err
}
