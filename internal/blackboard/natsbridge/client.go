// Package natsbridge mirrors Blackboard envelopes across hosts over NATS, for
// the optional multi-host deployments spec §9 calls out: "multi-host
// deployments MUST add a server process" fronting the filesystem mailboxes.
// Grounded on internal/nats/client.go (the teacher's own NATS wrapper).
package natsbridge

import (
	"encoding/json"
	"fmt"
	"log"
	"time"

	nc "github.com/nats-io/nats.go"
)

// client wraps a NATS connection with the reconnect handling and convenience
// methods the teacher's internal/nats package already provided.
type client struct {
	conn   *nc.Conn
	logger *log.Logger
}

func newClient(url string, logger *log.Logger) (*client, error) {
	if logger == nil {
		logger = log.Default()
	}
	opts := []nc.Option{
		nc.ReconnectWait(2 * time.Second),
		nc.MaxReconnects(-1),
		nc.DisconnectErrHandler(func(conn *nc.Conn, err error) {
			if err != nil {
				logger.Printf("[NATSBRIDGE] disconnected: %v", err)
			}
		}),
		nc.ReconnectHandler(func(conn *nc.Conn) {
			logger.Printf("[NATSBRIDGE] reconnected to %s", conn.ConnectedUrl())
		}),
		nc.ClosedHandler(func(conn *nc.Conn) {
			logger.Printf("[NATSBRIDGE] connection closed")
		}),
	}

	conn, err := nc.Connect(url, opts...)
	if err != nil {
		return nil, fmt.Errorf("natsbridge: connect: %w", err)
	}
	return &client{conn: conn, logger: logger}, nil
}

func (c *client) close() {
	if c.conn != nil {
		c.conn.Close()
	}
}

func (c *client) publishJSON(subject string, v interface{}) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("natsbridge: marshal: %w", err)
	}
	if err := c.conn.Publish(subject, data); err != nil {
		return fmt.Errorf("natsbridge: publish %s: %w", subject, err)
	}
	return nil
}

func (c *client) subscribe(subject string, handler func([]byte)) (*nc.Subscription, error) {
	sub, err := c.conn.Subscribe(subject, func(msg *nc.Msg) {
		handler(msg.Data)
	})
	if err != nil {
		return nil, fmt.Errorf("natsbridge: subscribe %s: %w", subject, err)
	}
	return sub, nil
}

func (c *client) isConnected() bool {
	return c.conn != nil && c.conn.IsConnected()
}
