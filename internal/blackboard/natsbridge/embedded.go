package natsbridge

import (
	"fmt"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
)

// EmbeddedServerConfig configures an in-process NATS server for the single
// node that chooses to run one, per spec §9's "multi-host deployments MUST
// add a server process" note — one node can host it for the others.
type EmbeddedServerConfig struct {
	Port      int    // NATS listen port
	JetStream bool   // enable JetStream persistence
	DataDir   string // JetStream storage dir, required if JetStream is set
}

// EmbeddedServer wraps an in-process NATS server so a single federation
// node can act as the message bus host without a separate binary to deploy.
// Grounded on internal/nats/server.go's EmbeddedServer.
type EmbeddedServer struct {
	mu      sync.RWMutex
	server  *natsserver.Server
	config  EmbeddedServerConfig
	running bool
}

// NewEmbeddedServer validates config and returns a not-yet-started server.
func NewEmbeddedServer(config EmbeddedServerConfig) (*EmbeddedServer, error) {
	if config.Port <= 0 {
		config.Port = 4222
	}
	if config.JetStream && config.DataDir == "" {
		return nil, fmt.Errorf("natsbridge: DataDir is required when JetStream is enabled")
	}
	return &EmbeddedServer{config: config}, nil
}

// Start brings the embedded NATS server up and blocks until it is ready for
// connections or the 10s deadline passes.
func (e *EmbeddedServer) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("natsbridge: server already running")
	}

	opts := &natsserver.Options{
		Host:       "0.0.0.0",
		Port:       e.config.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if e.config.JetStream {
		opts.JetStream = true
		opts.StoreDir = e.config.DataDir
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return fmt.Errorf("natsbridge: create embedded server: %w", err)
	}

	e.server = ns
	go ns.Start()

	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("natsbridge: embedded server not ready for connections")
	}
	e.running = true
	return nil
}

// Shutdown stops the embedded server and waits for it to drain.
func (e *EmbeddedServer) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running || e.server == nil {
		return
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
	e.running = false
	e.server = nil
}

// URL returns the loopback connection string agents on this host can dial.
func (e *EmbeddedServer) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return fmt.Sprintf("nats://127.0.0.1:%d", e.config.Port)
}

// IsRunning reports whether Start has completed successfully and Shutdown
// has not yet been called.
func (e *EmbeddedServer) IsRunning() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.running
}
