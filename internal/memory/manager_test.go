package memory

import "testing"

func TestStoreTaskResultWritesAllLayers(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	var tr TaskResult
	tr.Task.ID = "task-1"
	tr.Task.AgentID = "agent-1"
	tr.Task.Type = "docs"
	tr.Task.Description = "Write a README file"
	tr.Status = "completed"
	tr.Result = "README.md created"
	score := 9.0
	tr.Score = &score

	res := m.StoreTaskResult(tr)
	if !res.L1 {
		t.Error("expected L1 store to succeed")
	}
	if res.L2 != nil {
		t.Errorf("expected L2 record to succeed, got %v", res.L2)
	}
	if res.L3 != nil {
		t.Errorf("expected L3 store to succeed, got %v", res.L3)
	}

	v, ok := m.L1.Retrieve("task-1")
	if !ok || v != "README.md created" {
		t.Fatalf("L1 retrieve mismatch: %v, %v", v, ok)
	}

	ctx, err := m.GetFullContext("agent-1", 10, 10)
	if err != nil {
		t.Fatalf("GetFullContext: %v", err)
	}
	if len(ctx.History) != 1 {
		t.Fatalf("expected 1 history entry, got %d", len(ctx.History))
	}
	if len(ctx.Experiences) != 1 {
		t.Fatalf("expected 1 experience, got %d", len(ctx.Experiences))
	}
}

func TestArchiveSession(t *testing.T) {
	m, err := Open(t.TempDir())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer m.Close()

	var tr TaskResult
	tr.Task.ID = "task-1"
	tr.Task.AgentID = "agent-1"
	tr.Status = "completed"
	tr.Result = "done"
	m.StoreTaskResult(tr)

	path, err := m.ArchiveSession("session-1", "agent-1", 5)
	if err != nil {
		t.Fatalf("ArchiveSession: %v", err)
	}
	if path == "" {
		t.Fatal("expected non-empty archive path")
	}
}
