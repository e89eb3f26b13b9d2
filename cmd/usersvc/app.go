package main

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/plaenen/fnsourcing/examples/user"
	es "github.com/plaenen/fnsourcing/pkg/eventsourcing"
	"github.com/plaenen/fnsourcing/pkg/middleware"
	"github.com/plaenen/fnsourcing/pkg/nats"
	"github.com/plaenen/fnsourcing/pkg/observability"
	"github.com/plaenen/fnsourcing/pkg/runner"
	"github.com/plaenen/fnsourcing/pkg/snapshot"
	"github.com/plaenen/fnsourcing/pkg/store/sqlite"
	"github.com/plaenen/fnsourcing/pkg/validators"
)

// app holds what the services build while starting. Each service reads what
// the ones before it created.
type app struct {
	cfg    config
	logger *slog.Logger

	store     *sqlite.EventStore
	snapshots *sqlite.SnapshotStore
	guard     *user.SQLiteEmailGuard
	telemetry *observability.Telemetry
	embedded  *nats.EmbeddedServer
	bus       *nats.EventBus
	commands  *nats.CommandServer

	natsURL string
}

func newApp(cfg config, logger *slog.Logger) *app {
	return &app{cfg: cfg, logger: logger, natsURL: cfg.NATSURL}
}

func (a *app) services() []runner.Service {
	services := []runner.Service{
		&runner.Func{ServiceName: "sqlite", OnStart: a.openStore, OnStop: a.closeStore},
		&runner.Func{ServiceName: "telemetry", OnStart: a.startTelemetry, OnStop: a.stopTelemetry},
	}
	if a.cfg.NATSURL == "" {
		services = append(services, &runner.Func{ServiceName: "nats-embedded", OnStart: a.startNATS, OnStop: a.stopNATS})
	}
	return append(services,
		&runner.Func{ServiceName: "eventbus", OnStart: a.startBus, OnStop: a.stopBus},
		&runner.Func{ServiceName: "commands", OnStart: a.startCommands, OnStop: a.stopCommands},
	)
}

func (a *app) openStore(ctx context.Context) error {
	store, err := sqlite.NewEventStore(ctx, sqlite.WithDSN(a.cfg.DSN), sqlite.WithWALMode(true))
	if err != nil {
		return err
	}
	guard, err := user.NewSQLiteEmailGuard(ctx, store.DB())
	if err != nil {
		store.Close()
		return err
	}
	a.store = store
	a.snapshots = sqlite.NewSnapshotStore(store.DB())
	a.guard = guard
	return nil
}

func (a *app) closeStore(context.Context) error {
	return a.store.Close()
}

func (a *app) startTelemetry(ctx context.Context) error {
	cfg := observability.Config{
		ServiceName:     "usersvc",
		ServiceVersion:  "dev",
		TraceSampleRate: 1,
		Logger:          a.logger,
	}
	if a.cfg.TraceToDB {
		exporter, err := observability.NewSQLiteTraceExporter(ctx, a.store.DB())
		if err != nil {
			return err
		}
		cfg.TraceExporter = exporter
	}

	tel, err := observability.Init(ctx, cfg)
	if err != nil {
		return err
	}
	a.telemetry = tel
	return nil
}

func (a *app) stopTelemetry(ctx context.Context) error {
	return a.telemetry.Shutdown(ctx)
}

func (a *app) startNATS(context.Context) error {
	srv, err := nats.StartEmbeddedServer(a.cfg.StoreDir)
	if err != nil {
		return err
	}
	a.embedded = srv
	a.natsURL = srv.URL()
	a.logger.Info("embedded NATS started", slog.String("url", a.natsURL))
	return nil
}

func (a *app) stopNATS(context.Context) error {
	a.embedded.Shutdown()
	return nil
}

func (a *app) startBus(ctx context.Context) error {
	busConfig := nats.DefaultConfig()
	busConfig.URL = a.natsURL
	busConfig.StreamName = "USER_EVENTS"
	busConfig.Logger = a.logger

	bus, err := nats.NewEventBus(busConfig)
	if err != nil {
		return err
	}
	a.bus = bus

	if a.cfg.SnapshotEvery <= 0 {
		return nil
	}

	snapshotter := snapshot.New(user.NewDefinition(), a.store, a.snapshots,
		snapshot.WithStrategy(snapshot.NewIntervalStrategy(a.cfg.SnapshotEvery)),
		snapshot.WithLogger(a.logger),
		snapshot.WithRecorder(a.telemetry.Metrics),
	)
	// The subscription outlives the start context.
	if _, err := bus.Subscribe(context.WithoutCancel(ctx), "user-snapshotter",
		nats.Filter{AggregateType: user.AggregateType},
		snapshotter.Handle,
	); err != nil {
		bus.Close()
		return fmt.Errorf("failed to subscribe snapshotter: %w", err)
	}
	return nil
}

func (a *app) stopBus(context.Context) error {
	return a.bus.Close()
}

func (a *app) dispatcher() *es.Dispatcher {
	registry := es.NewRegistry()
	user.Register(registry, user.NewDefinition(), a.guard)

	return es.NewDispatcher(registry,
		observability.InstrumentEventStore(a.store, a.telemetry),
		es.WithSnapshotStore(a.snapshots),
		// The guard is updated before the bus so the next command sees the
		// address as taken.
		es.WithPublisher(es.FanOut(
			a.guard,
			observability.InstrumentPublisher(a.bus, a.telemetry),
		)),
		es.WithMiddleware(
			middleware.Recovery(a.logger),
			observability.DispatchMiddleware(a.telemetry),
			middleware.Logging(a.logger),
			middleware.Validation(commandValidators()),
		),
	)
}

// commandValidators rejects blank aggregate ids at the edge. Field rules
// live in the user handlers.
func commandValidators() middleware.CommandValidators {
	requireID := middleware.ValidatorFunc(func(cmd es.Message) error {
		v, _ := cmd.Field("id")
		id, _ := v.(string)
		return validators.NewValidationBuilder().
			Add(validators.ValidateStringEmpty(id, "id")).
			Err()
	})
	return middleware.CommandValidators{
		user.RegisterUserCommand:   requireID,
		user.ChangeUserNameCommand: requireID,
	}
}

func (a *app) startCommands(context.Context) error {
	transportConfig := nats.DefaultTransportConfig(a.natsURL)
	transportConfig.Name = "usersvc"
	transportConfig.Logger = a.logger

	server, err := nats.NewCommandServer(transportConfig, a.cfg.Queue, a.dispatcher().Dispatch)
	if err != nil {
		return err
	}
	a.commands = server
	a.logger.Info("serving user commands", slog.String("queue", a.cfg.Queue))
	return nil
}

func (a *app) stopCommands(context.Context) error {
	return a.commands.Close()
}
