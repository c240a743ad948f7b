// cmd/brain-federation/main.go
//
// brain-federation is the multi-host bridge daemon spec §9 calls for: it
// optionally hosts an embedded NATS server for the federation to share, and
// mirrors this node's registered agents' blackboard mailboxes across it so
// agents on other hosts can reach them. Grounded on the teacher's
// cmd/nats-bridge/main.go (flag-configured, signal-driven daemon shape),
// adapted from a two-conn subject-forwarding bridge to a single embedded
// server plus per-agent mailbox mirroring.
package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/clawos/brain/internal/agentcard"
	"github.com/clawos/brain/internal/blackboard"
	"github.com/clawos/brain/internal/blackboard/natsbridge"
)

func main() {
	root := flag.String("root", "./data", "path to the node's blackboard root directory")
	node := flag.String("node", "", "this node's identifier (required)")
	natsURL := flag.String("nats-url", "", "connect to this NATS URL instead of hosting one")
	hostPort := flag.Int("host-port", 0, "host an embedded NATS server on this port (0 = don't host)")
	jetstream := flag.Bool("jetstream", false, "enable JetStream persistence on the hosted server")
	flag.Parse()

	logger := log.New(os.Stdout, "[brain-federation] ", log.LstdFlags)

	if *node == "" {
		logger.Fatal("-node is required")
	}
	if *natsURL == "" && *hostPort == 0 {
		logger.Fatal("must set either -nats-url or -host-port")
	}

	var embedded *natsbridge.EmbeddedServer
	connectURL := *natsURL

	if *hostPort != 0 {
		cfg := natsbridge.EmbeddedServerConfig{
			Port:      *hostPort,
			JetStream: *jetstream,
			DataDir:   filepath.Join(*root, "nats-jetstream"),
		}
		var err error
		embedded, err = natsbridge.NewEmbeddedServer(cfg)
		if err != nil {
			logger.Fatalf("configure embedded NATS server: %v", err)
		}
		if err := embedded.Start(); err != nil {
			logger.Fatalf("start embedded NATS server: %v", err)
		}
		defer embedded.Shutdown()
		connectURL = embedded.URL()
		logger.Printf("hosting embedded NATS server at %s", connectURL)
	}

	bus := blackboard.NewBus(filepath.Join(*root, "blackboard"), logger)
	bridge, err := natsbridge.NewBridge(connectURL, *node, bus, logger)
	if err != nil {
		logger.Fatalf("connect bridge to %s: %v", connectURL, err)
	}
	defer bridge.Close()

	registry, err := agentcard.LoadRegistry(filepath.Join(*root, "agents"))
	if err != nil {
		logger.Fatalf("load agent registry: %v", err)
	}

	registered := 0
	for _, card := range registry.List() {
		if err := bridge.RegisterAgent(card.HumanReadableID); err != nil {
			logger.Printf("warning: failed to register agent %s: %v", card.HumanReadableID, err)
			continue
		}
		registered++
	}
	logger.Printf("mirroring %d locally-registered agents over %s", registered, connectURL)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	refresh := time.NewTicker(30 * time.Second)
	defer refresh.Stop()

	for {
		select {
		case <-sigCh:
			logger.Println("shutting down")
			return
		case <-refresh.C:
			if !bridge.IsConnected() {
				logger.Println("warning: bridge not connected to NATS")
				continue
			}
			for _, card := range registry.List() {
				_ = bridge.RegisterAgent(card.HumanReadableID)
			}
		}
	}
}
