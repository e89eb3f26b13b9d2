package main

import (
	"flag"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"time"
)

type config struct {
	DSN           string
	NATSURL       string
	StoreDir      string
	Queue         string
	SnapshotEvery int64
	TraceToDB     bool
	LogLevel      slog.Level
	Shutdown      time.Duration
}

// parseConfig reads flags, falling back to USERSVC_* environment variables
// for values not set on the command line.
func parseConfig(args []string, getenv func(string) string, output io.Writer) (config, error) {
	fs := flag.NewFlagSet("usersvc", flag.ContinueOnError)
	fs.SetOutput(output)

	var (
		cfg      config
		logLevel string
	)
	fs.StringVar(&cfg.DSN, "dsn", envOr(getenv, "USERSVC_DSN", "file:usersvc.db"), "SQLite DSN of the event store (USERSVC_DSN)")
	fs.StringVar(&cfg.NATSURL, "nats-url", getenv("USERSVC_NATS_URL"), "NATS server URL; empty starts an embedded server (USERSVC_NATS_URL)")
	fs.StringVar(&cfg.StoreDir, "nats-store", envOr(getenv, "USERSVC_NATS_STORE", ""), "JetStream directory of the embedded server (USERSVC_NATS_STORE)")
	fs.StringVar(&cfg.Queue, "queue", envOr(getenv, "USERSVC_QUEUE", "usersvc"), "queue group shared by command servers (USERSVC_QUEUE)")
	fs.BoolVar(&cfg.TraceToDB, "trace", envOr(getenv, "USERSVC_TRACE", "") == "true", "store dispatch traces in the event store database (USERSVC_TRACE)")
	fs.StringVar(&logLevel, "log-level", envOr(getenv, "USERSVC_LOG_LEVEL", "info"), "debug, info, warn or error (USERSVC_LOG_LEVEL)")
	fs.DurationVar(&cfg.Shutdown, "shutdown-timeout", 10*time.Second, "graceful shutdown timeout")

	snapshotEvery, err := strconv.ParseInt(envOr(getenv, "USERSVC_SNAPSHOT_EVERY", "50"), 10, 64)
	if err != nil {
		return cfg, fmt.Errorf("USERSVC_SNAPSHOT_EVERY: %w", err)
	}
	fs.Int64Var(&cfg.SnapshotEvery, "snapshot-every", snapshotEvery, "events between snapshots, 0 disables (USERSVC_SNAPSHOT_EVERY)")

	if err := fs.Parse(args); err != nil {
		return cfg, err
	}
	if err := cfg.LogLevel.UnmarshalText([]byte(logLevel)); err != nil {
		return cfg, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}
	return cfg, nil
}

func envOr(getenv func(string) string, key, fallback string) string {
	if v := getenv(key); v != "" {
		return v
	}
	return fallback
}
