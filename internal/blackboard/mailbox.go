package blackboard

import (
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// Bus is the filesystem-backed mailbox bus. Per-agent mailboxes live at
// "<root>/<agentId>/{inbox,processed}" as required by spec §6.
type Bus struct {
	root   string
	logger *log.Logger
}

// NewBus roots a Bus at dir (e.g. "<blackboard-root>"). The directory is
// created lazily per-agent on first Send/Receive.
func NewBus(dir string, logger *log.Logger) *Bus {
	if logger == nil {
		logger = log.Default()
	}
	return &Bus{root: dir, logger: logger}
}

func (b *Bus) inboxDir(agentID string) string     { return filepath.Join(b.root, agentID, "inbox") }
func (b *Bus) processedDir(agentID string) string { return filepath.Join(b.root, agentID, "processed") }

// Send writes the message file to the recipient's inbox atomically
// (write-then-rename). Filenames are prefixed with a sortable timestamp so
// lexicographic listing is age order, per spec §4.2's SHOULD.
func (b *Bus) Send(e Envelope) error {
	dir := b.inboxDir(e.To.AgentID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("blackboard: mkdir inbox: %w", err)
	}

	data, err := json.MarshalIndent(e, "", "  ")
	if err != nil {
		return fmt.Errorf("blackboard: marshal envelope: %w", err)
	}

	name := fmt.Sprintf("%020d_%s.json", e.Timestamp.UnixNano(), e.ID)
	final := filepath.Join(dir, name)
	tmp := final + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("blackboard: write message: %w", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		return fmt.Errorf("blackboard: rename message: %w", err)
	}
	b.logger.Printf("[BLACKBOARD] sent %s %s -> %s (id=%s)", e.Type, e.From.AgentID, e.To.AgentID, e.ID)
	return nil
}

// Received is one message handed back by Receive, alongside the filename it
// still lives under (needed by Ack).
type Received struct {
	Envelope Envelope
	filename string
}

// Receive lists the recipient's inbox in filename-ascending order, and for
// up to `limit` entries: loads the message; if its age exceeds its TTL it is
// deleted and skipped (never returned — spec invariant 3); otherwise it is
// appended to the result.
func (b *Bus) Receive(agentID string, limit int) ([]Received, error) {
	dir := b.inboxDir(agentID)
	entries, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("blackboard: read inbox: %w", err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	now := time.Now().UTC()
	var out []Received
	for _, name := range names {
		if len(out) >= limit {
			break
		}
		path := filepath.Join(dir, name)
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var e Envelope
		if err := json.Unmarshal(data, &e); err != nil {
			continue
		}
		if e.IsExpired(now) {
			_ = os.Remove(path)
			b.logger.Printf("[BLACKBOARD] expired %s (id=%s) discarded on read", agentID, e.ID)
			continue
		}
		out = append(out, Received{Envelope: e, filename: name})
	}
	return out, nil
}

// Ack moves a message from inbox to processed, completing the at-least-once
// delivery cycle.
func (b *Bus) Ack(agentID string, r Received) error {
	if r.filename == "" {
		return fmt.Errorf("blackboard: ack requires a message obtained from Receive")
	}
	if err := os.MkdirAll(b.processedDir(agentID), 0o755); err != nil {
		return fmt.Errorf("blackboard: mkdir processed: %w", err)
	}
	src := filepath.Join(b.inboxDir(agentID), r.filename)
	dst := filepath.Join(b.processedDir(agentID), r.filename)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("blackboard: move to processed: %w", err)
	}
	return nil
}

// InboxCount returns the current number of (unexpired or not-yet-swept)
// files in an agent's inbox — useful for tests and dashboards.
func (b *Bus) InboxCount(agentID string) (int, error) {
	entries, err := os.ReadDir(b.inboxDir(agentID))
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	return len(entries), nil
}
