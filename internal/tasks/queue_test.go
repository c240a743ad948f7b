// internal/tasks/queue_test.go
package tasks

import (
	"testing"
	"time"
)

func TestQueuePriorityOrdering(t *testing.T) {
	q := NewQueue()

	// Add tasks with different priorities
	q.Add(NewTask("Low priority", "", 7))
	q.Add(NewTask("Critical", "", 1))
	q.Add(NewTask("Medium", "", 4))

	// Peek should return highest priority (lowest number)
	task := q.Peek()
	if task.Priority != 1 {
		t.Errorf("expected priority 1, got %d", task.Priority)
	}
}

func TestQueuePopRemovesTask(t *testing.T) {
	q := NewQueue()
	q.Add(NewTask("Task 1", "", 3))
	q.Add(NewTask("Task 2", "", 3))

	if q.Len() != 2 {
		t.Errorf("expected 2 tasks, got %d", q.Len())
	}

	q.Pop()

	if q.Len() != 1 {
		t.Errorf("expected 1 task after pop, got %d", q.Len())
	}
}

func TestQueueGetByID(t *testing.T) {
	q := NewQueue()
	task := NewTask("Find me", "", 3)
	q.Add(task)

	found := q.GetByID(task.ID)
	if found == nil {
		t.Error("expected to find task by ID")
	}
	if found.Title != "Find me" {
		t.Errorf("wrong task returned")
	}
}

func TestQueueGetByStatus(t *testing.T) {
	q := NewQueue()
	t1 := NewTask("Pending 1", "", 3)
	t2 := NewTask("Pending 2", "", 3)
	t3 := NewTask("Planning", "", 3)
	t3.Status = StatusPlanning

	q.Add(t1)
	q.Add(t2)
	q.Add(t3)

	pending := q.GetByStatus(StatusPending)
	if len(pending) != 2 {
		t.Errorf("expected 2 pending tasks, got %d", len(pending))
	}
}

func TestQueueGetByAgent(t *testing.T) {
	q := NewQueue()
	t1 := NewTask("Agent 1 task", "", 3)
	t1.AssignedTo = "SNTGreen"
	t2 := NewTask("Agent 2 task", "", 3)
	t2.AssignedTo = "SNTPurple"

	q.Add(t1)
	q.Add(t2)

	agentTasks := q.GetByAgent("SNTGreen")
	if len(agentTasks) != 1 {
		t.Errorf("expected 1 task for agent, got %d", len(agentTasks))
	}
}

func TestQueueGetByTargetNode(t *testing.T) {
	q := NewQueue()
	t1 := NewTask("Routed", "", 3)
	t1.TargetNode = "quant"
	t2 := NewTask("Other", "", 3)
	t2.TargetNode = "local"

	q.Add(t1)
	q.Add(t2)

	nodeTasks := q.GetByTargetNode("quant")
	if len(nodeTasks) != 1 || nodeTasks[0].ID != t1.ID {
		t.Errorf("expected 1 task routed to quant, got %d", len(nodeTasks))
	}
}

func TestQueuePeekSkipsBlockedTasks(t *testing.T) {
	q := NewQueue()
	blocked := NewTask("Blocked", "", 1)
	blocked.Status = StatusBlocked
	claimable := NewTask("Claimable", "", 5)

	q.Add(blocked)
	q.Add(claimable)

	task := q.Peek()
	if task == nil || task.ID != claimable.ID {
		t.Errorf("expected Peek to skip the blocked task and return the claimable one")
	}
}

func TestQueuePopSkipsBlockedTasks(t *testing.T) {
	q := NewQueue()
	blocked := NewTask("Blocked", "", 1)
	blocked.Status = StatusBlocked
	claimable := NewTask("Claimable", "", 5)

	q.Add(blocked)
	q.Add(claimable)

	popped := q.Pop()
	if popped == nil || popped.ID != claimable.ID {
		t.Fatalf("expected Pop to skip the blocked task and return the claimable one")
	}
	if q.Len() != 1 {
		t.Errorf("expected blocked task to remain held, got %d tasks left", q.Len())
	}
}

func TestQueueStaleFlagsTasksPastThreshold(t *testing.T) {
	q := NewQueue()
	fresh := NewTask("Fresh", "", 3)
	stalePending := NewTask("Stale pending", "", 3)
	stalePending.UpdatedAt = time.Now().Add(-5 * time.Hour)

	q.Add(fresh)
	q.Add(stalePending)

	stale := q.Stale(time.Now())
	if len(stale) != 1 || stale[0].ID != stalePending.ID {
		t.Errorf("expected exactly the stale pending task, got %d", len(stale))
	}
}
