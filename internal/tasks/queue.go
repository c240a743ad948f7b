// internal/tasks/queue.go
package tasks

import (
	"sort"
	"sync"
	"time"
)

// staleThresholds mirrors internal/federation's per-status age ceilings
// (spec §4.3) so a queue held in memory by a single node can flag its own
// stale tasks without waiting on the federation sweeper's filesystem scan.
var staleThresholds = map[TaskStatus]time.Duration{
	StatusPending:    4 * time.Hour,
	StatusPlanning:   2 * time.Hour,
	StatusExecuting:  24 * time.Hour,
	StatusValidating: 4 * time.Hour,
}

// Queue is a thread-safe, priority-ordered view over the tasks a node is
// holding, backing the blackboard's pending/planning/executing/validating
// lifecycle rather than a generic to-do list.
type Queue struct {
	mu    sync.RWMutex
	tasks []*Task
	index map[string]*Task // ID -> Task for fast lookup
}

// NewQueue creates a new, empty task queue.
func NewQueue() *Queue {
	return &Queue{
		tasks: make([]*Task, 0),
		index: make(map[string]*Task),
	}
}

// Add inserts a task into the queue, maintaining priority order.
func (q *Queue) Add(task *Task) {
	q.mu.Lock()
	defer q.mu.Unlock()

	q.tasks = append(q.tasks, task)
	q.index[task.ID] = task
	q.sortLocked()
}

// Peek returns the head of the queue without removing it: the
// highest-priority task that is not blocked, or nil if every task is
// blocked or the queue is empty. A blocked task is never handed to a
// would-be claimant, since spec §3 treats "blocked" as requiring
// intervention before work resumes.
func (q *Queue) Peek() *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	for _, t := range q.tasks {
		if t.Status != StatusBlocked {
			return t
		}
	}
	return nil
}

// Pop removes and returns the task Peek would have returned.
func (q *Queue) Pop() *Task {
	q.mu.Lock()
	defer q.mu.Unlock()

	for i, t := range q.tasks {
		if t.Status == StatusBlocked {
			continue
		}
		q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
		delete(q.index, t.ID)
		return t
	}
	return nil
}

// Remove drops a task from the queue by ID, regardless of status.
func (q *Queue) Remove(id string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[id]; !exists {
		return false
	}

	delete(q.index, id)
	for i, t := range q.tasks {
		if t.ID == id {
			q.tasks = append(q.tasks[:i], q.tasks[i+1:]...)
			break
		}
	}
	return true
}

// GetByID returns a task by its ID.
func (q *Queue) GetByID(id string) *Task {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return q.index[id]
}

// GetByStatus returns all tasks with the given status, in priority order.
func (q *Queue) GetByStatus(status TaskStatus) []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Task
	for _, t := range q.tasks {
		if t.Status == status {
			result = append(result, t)
		}
	}
	return result
}

// GetByAgent returns all tasks assigned to an agent.
func (q *Queue) GetByAgent(agentID string) []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Task
	for _, t := range q.tasks {
		if t.AssignedTo == agentID {
			result = append(result, t)
		}
	}
	return result
}

// GetByTargetNode returns all tasks routed to the given node, the
// federation-scale analogue of GetByAgent.
func (q *Queue) GetByTargetNode(node string) []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Task
	for _, t := range q.tasks {
		if t.TargetNode == node {
			result = append(result, t)
		}
	}
	return result
}

// Stale reports every held task whose time in its current status exceeds
// that status's threshold as of now, same law the federation sweeper
// applies to its on-disk task.json files.
func (q *Queue) Stale(now time.Time) []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	var result []*Task
	for _, t := range q.tasks {
		threshold, ok := staleThresholds[t.Status]
		if !ok {
			continue
		}
		if now.Sub(t.UpdatedAt) > threshold {
			result = append(result, t)
		}
	}
	return result
}

// Len returns the number of tasks currently held.
func (q *Queue) Len() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.tasks)
}

// All returns a copy of every held task, in priority order.
func (q *Queue) All() []*Task {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]*Task, len(q.tasks))
	copy(result, q.tasks)
	return result
}

// Update replaces a held task's data in place and re-sorts.
func (q *Queue) Update(task *Task) bool {
	q.mu.Lock()
	defer q.mu.Unlock()

	if _, exists := q.index[task.ID]; !exists {
		return false
	}

	q.index[task.ID] = task
	for i, t := range q.tasks {
		if t.ID == task.ID {
			q.tasks[i] = task
			break
		}
	}
	q.sortLocked()
	return true
}

// sortLocked orders tasks so blocked work never sits ahead of claimable
// work, then by priority (1 = critical, lowest number first), then FIFO
// within a priority tier. Caller must hold q.mu.
func (q *Queue) sortLocked() {
	sort.Slice(q.tasks, func(i, j int) bool {
		bi, bj := q.tasks[i].Status == StatusBlocked, q.tasks[j].Status == StatusBlocked
		if bi != bj {
			return !bi // non-blocked sorts first
		}
		if q.tasks[i].Priority != q.tasks[j].Priority {
			return q.tasks[i].Priority < q.tasks[j].Priority
		}
		return q.tasks[i].CreatedAt.Before(q.tasks[j].CreatedAt)
	})
}
