package scheduler

import (
	"context"
	"testing"
	"time"
)

type stubExecutor struct {
	result ExecutionResult
	calls  []string
}

func (s *stubExecutor) Execute(ctx context.Context, agentID, instruction string) ExecutionResult {
	s.calls = append(s.calls, agentID)
	return s.result
}

func newTestScheduler(t *testing.T) (*Scheduler, *stubExecutor) {
	t.Helper()
	exec := &stubExecutor{result: ExecutionResult{Success: true, ExecutedAt: time.Now().UTC()}}
	s := New(t.TempDir(), exec, nil, nil)
	return s, exec
}

func TestRunCycleNotIdleReturnsNil(t *testing.T) {
	s, _ := newTestScheduler(t)
	if err := s.Enqueue(P1, &Task{ID: "t1", Type: "knowledge-update"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	// A freshly created scheduler starts with lastActivity = now, so it is
	// not idle yet.
	task, err := s.RunCycle()
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil task while not idle, got %+v", task)
	}
}

func TestRunCycleDrainsP1BeforeP2(t *testing.T) {
	s, _ := newTestScheduler(t)
	if err := s.Enqueue(P2, &Task{ID: "low", Type: "capability-training"}); err != nil {
		t.Fatalf("enqueue p2: %v", err)
	}
	if err := s.Enqueue(P1, &Task{ID: "high", Type: "knowledge-update"}); err != nil {
		t.Fatalf("enqueue p1: %v", err)
	}

	st, err := s.state.load()
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	st.LastActivity = time.Now().UTC().Add(-2 * time.Hour)
	if err := s.state.save(st); err != nil {
		t.Fatalf("save state: %v", err)
	}

	task, err := s.RunCycle()
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if task == nil || task.ID != "high" {
		t.Fatalf("expected P1 task 'high' to drain first, got %+v", task)
	}
	if task.Status != "processing" {
		t.Errorf("expected task moved to processing, got status %q", task.Status)
	}
}

func TestRunCycleNoTasksReturnsNil(t *testing.T) {
	s, _ := newTestScheduler(t)
	st, err := s.state.load()
	if err != nil {
		t.Fatalf("load state: %v", err)
	}
	st.LastActivity = time.Now().UTC().Add(-2 * time.Hour)
	if err := s.state.save(st); err != nil {
		t.Fatalf("save state: %v", err)
	}

	task, err := s.RunCycle()
	if err != nil {
		t.Fatalf("run cycle: %v", err)
	}
	if task != nil {
		t.Errorf("expected nil task when all queues empty, got %+v", task)
	}
}

func TestExecuteAndCompleteConservesTaskAcrossBuckets(t *testing.T) {
	s, _ := newTestScheduler(t)
	if err := s.Enqueue(P1, &Task{ID: "t1", Type: "knowledge-update", Payload: map[string]interface{}{"action": "refresh"}}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}

	moved, err := s.queues.MoveToProcessing(P1, "t1", "evolution-scheduler")
	if err != nil {
		t.Fatalf("move to processing: %v", err)
	}

	before, err := s.queues.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	totalBefore := before[P1].Pending + before[P1].Processing + before[P1].Completed

	s.ExecuteAndComplete(context.Background(), moved)

	after, err := s.queues.Stats()
	if err != nil {
		t.Fatalf("stats: %v", err)
	}
	totalAfter := after[P1].Pending + after[P1].Processing + after[P1].Completed
	if totalAfter != totalBefore {
		t.Errorf("expected conserved task count %d, got %d", totalBefore, totalAfter)
	}
	if after[P1].Completed != 1 {
		t.Errorf("expected 1 completed task, got %d", after[P1].Completed)
	}

	stats, _, err := s.Stats()
	if err != nil {
		t.Fatalf("scheduler stats: %v", err)
	}
	if stats.P1Completed != 1 || stats.TotalTasksProcessed != 1 {
		t.Errorf("expected bumped stats, got %+v", stats)
	}
}

func TestExecutorTimeoutProducesTimeoutError(t *testing.T) {
	exec := &stubExecutor{result: ExecutionResult{Success: false, Error: "Task execution timed out", ExecutedAt: time.Now().UTC()}}
	s := New(t.TempDir(), exec, nil, nil)
	if err := s.Enqueue(P1, &Task{ID: "t1", Type: "knowledge-update"}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	moved, err := s.queues.MoveToProcessing(P1, "t1", "evolution-scheduler")
	if err != nil {
		t.Fatalf("move: %v", err)
	}
	result := s.ExecuteAndComplete(context.Background(), moved)
	if result.Success || result.Error != "Task execution timed out" {
		t.Errorf("expected timeout error result, got %+v", result)
	}
}

func TestNoteActivityResetsIdleWindow(t *testing.T) {
	s, _ := newTestScheduler(t)
	st, err := s.state.load()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	st.LastActivity = time.Now().UTC().Add(-2 * time.Hour)
	if err := s.state.save(st); err != nil {
		t.Fatalf("save: %v", err)
	}

	idle, err := s.CheckIdle(time.Now().UTC())
	if err != nil || !idle {
		t.Fatalf("expected idle before NoteActivity, got idle=%v err=%v", idle, err)
	}

	if err := s.NoteActivity(); err != nil {
		t.Fatalf("note activity: %v", err)
	}

	idle, err = s.CheckIdle(time.Now().UTC())
	if err != nil {
		t.Fatalf("check idle: %v", err)
	}
	if idle {
		t.Error("expected not idle immediately after NoteActivity")
	}
}
