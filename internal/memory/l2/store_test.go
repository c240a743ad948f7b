package l2

import (
	"path/filepath"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRecordTaskUpdatesAgentStatsAtomically(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	score1 := 9.0
	if err := s.RecordTask(Task{
		ID: "t1", AgentID: "agent-1", Type: "code", Status: "completed",
		Score: &score1, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("RecordTask: %v", err)
	}

	score2 := 5.0
	if err := s.RecordTask(Task{
		ID: "t2", AgentID: "agent-1", Type: "code", Status: "failed",
		Score: &score2, CreatedAt: now, UpdatedAt: now,
	}); err != nil {
		t.Fatalf("RecordTask: %v", err)
	}

	stats, err := s.GetAgentStats("agent-1")
	if err != nil {
		t.Fatalf("GetAgentStats: %v", err)
	}
	if stats.TotalTasks != 2 || stats.SuccessfulTasks != 1 {
		t.Fatalf("got total=%d successful=%d, want 2/1", stats.TotalTasks, stats.SuccessfulTasks)
	}
	if stats.AvgScore == nil || *stats.AvgScore != 7.0 {
		t.Fatalf("got avgScore=%v, want 7.0", stats.AvgScore)
	}
}

func TestGetAgentHistoryAndSearch(t *testing.T) {
	s := openTestStore(t)
	now := time.Now()

	for i, desc := range []string{"write README", "fix login bug", "write tests"} {
		if err := s.RecordTask(Task{
			ID: string(rune('a' + i)), AgentID: "agent-2", Type: "misc",
			Description: desc, Status: "completed",
			CreatedAt: now.Add(time.Duration(i) * time.Second), UpdatedAt: now,
		}); err != nil {
			t.Fatalf("RecordTask: %v", err)
		}
	}

	history, err := s.GetAgentHistory("agent-2", 10)
	if err != nil {
		t.Fatalf("GetAgentHistory: %v", err)
	}
	if len(history) != 3 {
		t.Fatalf("got %d tasks, want 3", len(history))
	}

	results, err := s.SearchTasks("write", 10)
	if err != nil {
		t.Fatalf("SearchTasks: %v", err)
	}
	if len(results) != 2 {
		t.Fatalf("got %d search results, want 2", len(results))
	}
}

func TestRecordDecision(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordDecision(Decision{
		AgentID: "agent-1", TaskID: "t1", Decision: "retry",
		Reasoning: "transient failure", CreatedAt: time.Now(),
	}); err != nil {
		t.Fatalf("RecordDecision: %v", err)
	}
}
