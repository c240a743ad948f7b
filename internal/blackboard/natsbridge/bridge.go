package natsbridge

import (
	"encoding/json"
	"fmt"
	"log"

	"github.com/clawos/brain/internal/blackboard"
	nc "github.com/nats-io/nats.go"
)

const subjectPrefix = "blackboard.mailbox."

func subjectFor(agentID string) string { return subjectPrefix + agentID }

// Bridge mirrors outbound envelopes addressed to remote nodes onto NATS, and
// inbound envelopes addressed to locally-registered agents into their
// filesystem mailboxes via bus.Send, so agent code keeps reading/acking
// through the ordinary Bus.Receive/Ack path regardless of where a message
// originated.
type Bridge struct {
	bus    *blackboard.Bus
	client *client
	node   string
	subs   map[string]*nc.Subscription
	logger *log.Logger
}

// NewBridge connects to the NATS server at url and returns a Bridge that
// delivers into bus on behalf of node.
func NewBridge(url, node string, bus *blackboard.Bus, logger *log.Logger) (*Bridge, error) {
	if logger == nil {
		logger = log.Default()
	}
	c, err := newClient(url, logger)
	if err != nil {
		return nil, err
	}
	return &Bridge{bus: bus, client: c, node: node, subs: make(map[string]*nc.Subscription), logger: logger}, nil
}

// Close releases the underlying NATS connection and all subscriptions.
func (b *Bridge) Close() {
	for _, sub := range b.subs {
		_ = sub.Unsubscribe()
	}
	b.client.close()
}

// IsConnected reports whether the bridge's NATS connection is live.
func (b *Bridge) IsConnected() bool { return b.client.isConnected() }

// RegisterAgent subscribes to the given agent's remote subject, mirroring any
// envelope published there into its local inbox. Call once per locally-hosted
// agent after it registers with the Agent Card Registry.
func (b *Bridge) RegisterAgent(agentID string) error {
	if _, exists := b.subs[agentID]; exists {
		return nil
	}
	sub, err := b.client.subscribe(subjectFor(agentID), func(data []byte) {
		var env blackboard.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			b.logger.Printf("[NATSBRIDGE] discarding malformed envelope on %s: %v", agentID, err)
			return
		}
		if err := b.bus.Send(env); err != nil {
			b.logger.Printf("[NATSBRIDGE] failed to deliver mirrored envelope %s: %v", env.ID, err)
		}
	})
	if err != nil {
		return fmt.Errorf("natsbridge: register agent %s: %w", agentID, err)
	}
	b.subs[agentID] = sub
	return nil
}

// DeregisterAgent stops mirroring envelopes for an agent leaving this node.
func (b *Bridge) DeregisterAgent(agentID string) error {
	sub, ok := b.subs[agentID]
	if !ok {
		return nil
	}
	delete(b.subs, agentID)
	return sub.Unsubscribe()
}

// Publish mirrors a locally-sent envelope to its recipient's subject, for
// delivery on whichever node has that agent registered. Call this alongside
// (not instead of) bus.Send when the recipient's node differs from this
// bridge's node, or when the recipient's node is unknown and broadcast
// delivery is acceptable.
func (b *Bridge) Publish(env blackboard.Envelope) error {
	return b.client.publishJSON(subjectFor(env.To.AgentID), env)
}
