package blackboard

import (
	"testing"
	"time"
)

func TestSendReceiveAck(t *testing.T) {
	bus := NewBus(t.TempDir(), nil)
	from := AgentRef{AgentID: "pm-1"}
	to := AgentRef{AgentID: "worker-1"}

	env := NewRequest(from, to, "run_tests", map[string]interface{}{"path": "./..."}, nil)
	if err := bus.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	received, err := bus.Receive("worker-1", 10)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(received) != 1 {
		t.Fatalf("expected 1 message, got %d", len(received))
	}
	if received[0].Envelope.ID != env.ID {
		t.Errorf("expected id %s, got %s", env.ID, received[0].Envelope.ID)
	}

	if err := bus.Ack("worker-1", received[0]); err != nil {
		t.Fatalf("Ack: %v", err)
	}

	remaining, err := bus.Receive("worker-1", 10)
	if err != nil {
		t.Fatalf("Receive after ack: %v", err)
	}
	if len(remaining) != 0 {
		t.Fatalf("expected inbox empty after ack, got %d", len(remaining))
	}
}

func TestReceiveDiscardsExpiredMessages(t *testing.T) {
	bus := NewBus(t.TempDir(), nil)
	from := AgentRef{AgentID: "pm-1"}
	to := AgentRef{AgentID: "worker-1"}

	env := NewNotification(from, to, "progress", "halfway", nil)
	env.TTL = 1 // 1 second
	env.Timestamp = time.Now().UTC().Add(-1 * time.Hour)
	if err := bus.Send(env); err != nil {
		t.Fatalf("Send: %v", err)
	}

	received, err := bus.Receive("worker-1", 10)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(received) != 0 {
		t.Fatalf("expected expired message to be discarded, got %d", len(received))
	}

	count, err := bus.InboxCount("worker-1")
	if err != nil {
		t.Fatalf("InboxCount: %v", err)
	}
	if count != 0 {
		t.Errorf("expected expired message removed from disk, inbox has %d entries", count)
	}
}

func TestReceiveRespectsLimitAndOrder(t *testing.T) {
	bus := NewBus(t.TempDir(), nil)
	from := AgentRef{AgentID: "pm-1"}
	to := AgentRef{AgentID: "worker-1"}

	var ids []string
	for i := 0; i < 5; i++ {
		env := NewNotification(from, to, "tick", "tick", nil)
		ids = append(ids, env.ID)
		if err := bus.Send(env); err != nil {
			t.Fatalf("Send %d: %v", i, err)
		}
		time.Sleep(time.Millisecond)
	}

	received, err := bus.Receive("worker-1", 3)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	if len(received) != 3 {
		t.Fatalf("expected 3 messages (limit), got %d", len(received))
	}
	for i, r := range received {
		if r.Envelope.ID != ids[i] {
			t.Errorf("expected message %d in send order (id %s), got %s", i, ids[i], r.Envelope.ID)
		}
	}
}
