// Command usersvc serves the user aggregate over NATS request/reply, backed
// by a SQLite event store.
//
// Usage:
//
//	usersvc -dsn file:users.db -nats-url nats://localhost:4222
//
// Without -nats-url an embedded NATS server is started.
package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"os"

	"github.com/plaenen/fnsourcing/pkg/runner"
)

func main() {
	cfg, err := parseConfig(os.Args[1:], os.Getenv, os.Stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.LogLevel}))
	slog.SetDefault(logger)

	ctx, stop := runner.SignalContext(context.Background())
	defer stop()

	r := runner.New(newApp(cfg, logger).services(),
		runner.WithLogger(logger),
		runner.WithShutdownTimeout(cfg.Shutdown),
	)
	if err := r.Run(ctx); err != nil {
		logger.Error("usersvc stopped with error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
