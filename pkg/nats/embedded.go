package nats

import (
	"fmt"
	"time"

	"github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServer is an in-process NATS server with JetStream enabled, for
// tests and single-binary deployments.
type EmbeddedServer struct {
	server *server.Server
}

// StartEmbeddedServer starts a server on a random local port. JetStream
// data goes to storeDir; an empty storeDir uses the system temp directory.
func StartEmbeddedServer(storeDir string) (*EmbeddedServer, error) {
	opts := &server.Options{
		Host:      "127.0.0.1",
		Port:      -1,
		JetStream: true,
		StoreDir:  storeDir,
		NoSigs:    true,
	}

	s, err := server.NewServer(opts)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedded server: %w", err)
	}

	go s.Start()

	if !s.ReadyForConnections(5 * time.Second) {
		s.Shutdown()
		return nil, fmt.Errorf("server not ready")
	}

	return &EmbeddedServer{server: s}, nil
}

// URL returns the client URL.
func (e *EmbeddedServer) URL() string {
	return e.server.ClientURL()
}

// Shutdown stops the server and waits for it to exit.
func (e *EmbeddedServer) Shutdown() {
	e.server.Shutdown()
	e.server.WaitForShutdown()
}

// NewEmbeddedEventBus starts an embedded server and connects an event bus
// configured with TestConfig.
func NewEmbeddedEventBus(storeDir string) (*EventBus, *EmbeddedServer, error) {
	srv, err := StartEmbeddedServer(storeDir)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to start embedded server: %w", err)
	}

	bus, err := NewEventBus(TestConfig(srv.URL()))
	if err != nil {
		srv.Shutdown()
		return nil, nil, fmt.Errorf("failed to create event bus: %w", err)
	}

	return bus, srv, nil
}
