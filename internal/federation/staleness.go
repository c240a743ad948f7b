package federation

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// TaskStatus is the subset of a task's status file the sweeper inspects.
type TaskStatus struct {
	ID        string    `json:"id"`
	Status    string    `json:"status"` // pending, planning, executing, validating, ...
	Priority  string    `json:"priority,omitempty"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// statusThresholds maps a task status to the duration after which it is
// considered stale, per spec §4.3.
var statusThresholds = map[string]time.Duration{
	"pending":    4 * time.Hour,
	"planning":   2 * time.Hour,
	"executing":  24 * time.Hour,
	"validating": 4 * time.Hour,
}

// priorityTimeouts maps a task priority tier to its own staleness ceiling,
// applied in addition to the status-based threshold.
var priorityTimeouts = map[string]time.Duration{
	"P0": time.Hour,
	"P1": 4 * time.Hour,
	"P2": 24 * time.Hour,
	"P3": 72 * time.Hour,
}

// StaleReport flags one stale task with the reason it was flagged.
type StaleReport struct {
	TaskID string `json:"taskId"`
	Status string `json:"status"`
	Age    string `json:"age"`
	Reason string `json:"reason"`
}

// Sweeper inspects task status files under <blackboard-root>/tasks/<id>/task.json
// and reports (never auto-cancels) stale ones; the controlling pm decides.
type Sweeper struct {
	tasksDir string
}

// NewSweeper roots a Sweeper at the blackboard's tasks directory.
func NewSweeper(tasksDir string) *Sweeper {
	return &Sweeper{tasksDir: tasksDir}
}

// Sweep lists every task.json under the tasks tree and flags stale ones as
// of now.
func (s *Sweeper) Sweep(now time.Time) ([]StaleReport, error) {
	entries, err := os.ReadDir(s.tasksDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var reports []StaleReport
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		path := filepath.Join(s.tasksDir, e.Name(), "task.json")
		data, err := os.ReadFile(path)
		if err != nil {
			continue
		}
		var ts TaskStatus
		if err := json.Unmarshal(data, &ts); err != nil {
			continue
		}
		if reason, stale := evaluateStale(ts, now); stale {
			reports = append(reports, StaleReport{
				TaskID: ts.ID,
				Status: ts.Status,
				Age:    now.Sub(ts.UpdatedAt).String(),
				Reason: reason,
			})
		}
	}
	return reports, nil
}

func evaluateStale(ts TaskStatus, now time.Time) (string, bool) {
	age := now.Sub(ts.UpdatedAt)

	if threshold, ok := statusThresholds[ts.Status]; ok && age > threshold {
		return "status " + ts.Status + " exceeded " + threshold.String(), true
	}
	if timeout, ok := priorityTimeouts[ts.Priority]; ok && age > timeout {
		return "priority " + ts.Priority + " timeout " + timeout.String() + " exceeded", true
	}
	return "", false
}
