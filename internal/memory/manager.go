// Package memory provides the Memory Manager façade wiring the four
// independent memory tiers (L1 session, L2 history, L3 experience, L4
// snapshot) behind one write-through interface, grounded on
// original_source/.../services/memory/memory_manager.py.
package memory

import (
	"fmt"
	"time"

	"github.com/clawos/brain/internal/memory/l1"
	"github.com/clawos/brain/internal/memory/l2"
	"github.com/clawos/brain/internal/memory/l3"
	"github.com/clawos/brain/internal/memory/l4"
)

// Manager is the unified memory façade.
type Manager struct {
	L1 *l1.Store
	L2 *l2.Store
	L3 *l3.Store
	L4 *l4.Store
}

// Open opens (or creates) L2/L3/L4 under root and an empty L1. root is the
// memory directory itself (<root>/memory in the spec §6 layout):
//
//	root/l2/history.db
//	root/l3/experiences/{experiences.jsonl, index.json}
//	root/github/...
func Open(root string) (*Manager, error) {
	l2Store, err := l2.Open(root + "/l2/history.db")
	if err != nil {
		return nil, fmt.Errorf("memory: open l2: %w", err)
	}
	l3Store, err := l3.Open(root + "/l3/experiences")
	if err != nil {
		return nil, fmt.Errorf("memory: open l3: %w", err)
	}
	l4Store, err := l4.Open(root + "/github")
	if err != nil {
		return nil, fmt.Errorf("memory: open l4: %w", err)
	}
	return &Manager{L1: l1.New(), L2: l2Store, L3: l3Store, L4: l4Store}, nil
}

// Close releases resources held by the durable tiers.
func (m *Manager) Close() error {
	return m.L2.Close()
}

// TaskResult is the input to StoreTaskResult.
type TaskResult struct {
	Task struct {
		ID          string
		AgentID     string
		Type        string
		Description string
	}
	Status      string
	Result      string
	Score       *float64
	Summary     string
	CompletedAt time.Time
}

// StoreResult reports per-layer success, matching spec's "returns per-layer
// success flags".
type StoreResult struct {
	L1 bool
	L2 error
	L3 error
}

// StoreTaskResult is the marquee operation: write to L1 under task.id,
// record in L2 with status and completedAt, emit an L3 experience string
// "Task: ... | Agent: ... | Status: ... | Result: ...".
func (m *Manager) StoreTaskResult(tr TaskResult) StoreResult {
	var res StoreResult

	res.L1 = m.L1.Store(tr.Task.ID, tr.Result, map[string]interface{}{
		"status": tr.Status, "agentId": tr.Task.AgentID,
	})

	now := tr.CompletedAt
	if now.IsZero() {
		now = time.Now().UTC()
	}
	res.L2 = m.L2.RecordTask(l2.Task{
		ID:          tr.Task.ID,
		AgentID:     tr.Task.AgentID,
		Type:        tr.Task.Type,
		Description: tr.Task.Description,
		Status:      tr.Status,
		Result:      tr.Result,
		Score:       tr.Score,
		CreatedAt:   now,
		UpdatedAt:   now,
		CompletedAt: &now,
	})

	experience := formatExperience(tr)
	_, res.L3 = m.L3.StoreExperience(tr.Task.AgentID, experience, "task-result", map[string]interface{}{
		"taskId": tr.Task.ID,
	}, tr.Score)

	return res
}

func formatExperience(tr TaskResult) string {
	result := tr.Result
	if len(result) > 200 {
		result = result[:200]
	}
	s := fmt.Sprintf("Task: %s | Agent: %s | Status: %s | Result: %s",
		tr.Task.Description, tr.Task.AgentID, tr.Status, result)
	if tr.Summary != "" {
		s += " | Summary: " + tr.Summary
	}
	return s
}

// FullContext aggregates L2 history+stats and L3 recent experiences for an
// agent.
type FullContext struct {
	History     []l2.Task
	Stats       *l2.AgentStats
	Experiences []l3.Experience
}

// GetFullContext implements the façade's read-side aggregation operation.
func (m *Manager) GetFullContext(agentID string, historyLimit, experienceLimit int) (*FullContext, error) {
	history, err := m.L2.GetAgentHistory(agentID, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("memory: get agent history: %w", err)
	}
	stats, err := m.L2.GetAgentStats(agentID)
	if err != nil {
		return nil, fmt.Errorf("memory: get agent stats: %w", err)
	}
	experiences := m.L3.RetrieveRecent(agentID, experienceLimit, "")
	return &FullContext{History: history, Stats: stats, Experiences: experiences}, nil
}

// ArchiveSession exports the L1 snapshot plus recent L2 tasks (for agentID,
// if given, otherwise the most recent tasks system-wide) to L4.
func (m *Manager) ArchiveSession(sessionID, agentID string, recentTaskLimit int) (string, error) {
	snapshot := m.L1.Export()

	var recent []l2.Task
	var err error
	if agentID != "" {
		recent, err = m.L2.GetAgentHistory(agentID, recentTaskLimit)
	} else {
		recent, err = m.L2.GetRecentTasks(recentTaskLimit, "")
	}
	if err != nil {
		return "", fmt.Errorf("memory: get recent tasks for archive: %w", err)
	}

	archive := map[string]interface{}{
		"sessionId":   sessionID,
		"l1Snapshot":  snapshot,
		"recentTasks": recent,
		"archivedAt":  time.Now().UTC(),
	}
	return m.L4.ExportSessionArchive(sessionID, archive)
}
