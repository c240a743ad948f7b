package federation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/clawos/brain/internal/agentcard"
)

func writeTaskStatus(t *testing.T, dir, id string, ts TaskStatus) {
	t.Helper()
	taskDir := filepath.Join(dir, id)
	if err := os.MkdirAll(taskDir, 0o755); err != nil {
		t.Fatalf("mkdir: %v", err)
	}
	data, err := json.Marshal(ts)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	if err := os.WriteFile(filepath.Join(taskDir, "task.json"), data, 0o644); err != nil {
		t.Fatalf("write: %v", err)
	}
}

func newTestCard(t *testing.T, id, node string, skills []string, utility float64, completed int) *agentcard.Card {
	t.Helper()
	ss := make([]agentcard.Skill, len(skills))
	for i, s := range skills {
		ss[i] = agentcard.Skill{ID: s}
	}
	return &agentcard.Card{
		HumanReadableID: id,
		Identity:        agentcard.Identity{Node: node, Tier: agentcard.TierWorker, Parent: "/pm/lead"},
		Skills:          ss,
		Performance:     agentcard.Performance{UtilityScore: utility, TasksCompleted: completed},
		Status:          agentcard.Status{State: agentcard.StateActive, LastHeartbeat: time.Now()},
	}
}

func TestRouteTaskSingleCandidateConfidenceOne(t *testing.T) {
	reg := agentcard.NewRegistry(t.TempDir())
	card := newTestCard(t, "/worker/henry", "node-a", []string{"writing", "content-creation", "documentation"}, 0.7, 3)
	if err := reg.Register(card); err != nil {
		t.Fatalf("register: %v", err)
	}

	router := NewRouter(reg, nil)
	result, routeErr := router.RouteTask("Write a README file")
	if routeErr != nil {
		t.Fatalf("unexpected route error: %+v", routeErr)
	}
	if result.AgentID != "/worker/henry" {
		t.Errorf("expected henry to be routed, got %s", result.AgentID)
	}
	if result.Confidence != 1.0 {
		t.Errorf("expected confidence 1.0 for sole candidate, got %v", result.Confidence)
	}
}

func TestRouteTaskRanksByUtilityThenTasksCompleted(t *testing.T) {
	reg := agentcard.NewRegistry(t.TempDir())
	low := newTestCard(t, "/worker/low", "node-a", []string{"backend", "api-design"}, 0.4, 10)
	high := newTestCard(t, "/worker/high", "node-a", []string{"backend", "api-design"}, 0.9, 1)
	reg.Register(low)
	reg.Register(high)

	router := NewRouter(reg, nil)
	result, routeErr := router.RouteTask("Build an API")
	if routeErr != nil {
		t.Fatalf("unexpected route error: %+v", routeErr)
	}
	if result.AgentID != "/worker/high" {
		t.Errorf("expected higher utility agent to win, got %s", result.AgentID)
	}
	if len(result.Alternatives) != 1 {
		t.Errorf("expected 1 alternative, got %d", len(result.Alternatives))
	}
}

func TestRouteTaskNoCandidatesReturnsError(t *testing.T) {
	reg := agentcard.NewRegistry(t.TempDir())
	router := NewRouter(reg, nil)
	result, routeErr := router.RouteTask("Build an API")
	if result != nil {
		t.Fatalf("expected nil result on no candidates")
	}
	if routeErr == nil || routeErr.Error != "No available agent" {
		t.Fatalf("expected 'No available agent' error, got %+v", routeErr)
	}
}

type offlineNode struct{ offline string }

func (o offlineNode) IsOnline(node string) bool { return node != o.offline }

func TestRouteTaskFiltersOfflineNodes(t *testing.T) {
	reg := agentcard.NewRegistry(t.TempDir())
	card := newTestCard(t, "/worker/henry", "node-down", []string{"writing"}, 0.7, 3)
	reg.Register(card)

	router := NewRouter(reg, offlineNode{offline: "node-down"})
	result, routeErr := router.RouteTask("Write a README file")
	if result != nil {
		t.Fatalf("expected no result when sole candidate's node is offline")
	}
	if routeErr.CandidatesFound != 1 || routeErr.AvailableCount != 0 {
		t.Errorf("expected candidatesFound=1 availableCount=0, got %+v", routeErr)
	}
}

func TestSweepFlagsStaleTasks(t *testing.T) {
	dir := t.TempDir()
	writeTaskStatus(t, dir, "task-1", TaskStatus{ID: "task-1", Status: "pending", UpdatedAt: time.Now().Add(-5 * time.Hour)})
	writeTaskStatus(t, dir, "task-2", TaskStatus{ID: "task-2", Status: "executing", UpdatedAt: time.Now().Add(-1 * time.Hour)})

	sweeper := NewSweeper(dir)
	reports, err := sweeper.Sweep(time.Now())
	if err != nil {
		t.Fatalf("sweep: %v", err)
	}
	if len(reports) != 1 || reports[0].TaskID != "task-1" {
		t.Fatalf("expected only task-1 flagged stale, got %+v", reports)
	}
}
