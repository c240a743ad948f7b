// internal/tasks/store.go
package tasks

import (
	"database/sql"
	"encoding/json"
	"time"
)

// Store persists tasks to SQLite, the system of record behind the
// in-memory Queue a node's broker actually claims work from.
type Store struct {
	db *sql.DB
}

// NewStore creates a new task store over an already-open database handle.
func NewStore(db *sql.DB) *Store {
	return &Store{db: db}
}

// Init creates the tasks table and its history log. Prior revisions of
// this store called RecordHistory against a task_history table this
// method never created; it is declared here now so a history insert
// cannot silently fail against a missing table.
func (s *Store) Init() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			title TEXT NOT NULL,
			description TEXT,
			priority INTEGER NOT NULL DEFAULT 5,
			status TEXT NOT NULL DEFAULT 'pending',
			source TEXT NOT NULL DEFAULT 'user',
			target_node TEXT,
			assigned_to TEXT,
			requirements TEXT,
			metadata TEXT,
			created_at TIMESTAMP NOT NULL,
			updated_at TIMESTAMP NOT NULL,
			started_at TIMESTAMP,
			completed_at TIMESTAMP
		)
	`)
	if err != nil {
		return err
	}

	if _, err := s.db.Exec(`CREATE INDEX IF NOT EXISTS idx_tasks_status_updated ON tasks(status, updated_at)`); err != nil {
		return err
	}

	_, err = s.db.Exec(`
		CREATE TABLE IF NOT EXISTS task_history (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			task_id TEXT NOT NULL,
			from_status TEXT NOT NULL,
			to_status TEXT NOT NULL,
			changed_by TEXT,
			reason TEXT,
			changed_at TIMESTAMP NOT NULL
		)
	`)
	return err
}

// Save creates or updates a task.
func (s *Store) Save(task *Task) error {
	metadata, _ := json.Marshal(task.Metadata)
	requirements, _ := json.Marshal(task.Requirements)

	_, err := s.db.Exec(`
		INSERT INTO tasks (id, title, description, priority, status, source, target_node, assigned_to, requirements, metadata, created_at, updated_at, started_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			title=excluded.title,
			description=excluded.description,
			priority=excluded.priority,
			status=excluded.status,
			target_node=excluded.target_node,
			assigned_to=excluded.assigned_to,
			requirements=excluded.requirements,
			metadata=excluded.metadata,
			updated_at=excluded.updated_at,
			started_at=excluded.started_at,
			completed_at=excluded.completed_at
	`,
		task.ID, task.Title, task.Description, task.Priority,
		task.Status, task.Source, task.TargetNode, task.AssignedTo,
		string(requirements), string(metadata),
		task.CreatedAt, task.UpdatedAt, task.StartedAt, task.CompletedAt,
	)
	return err
}

// SaveWithHistory saves a task and, when its status differs from
// previousStatus, appends a task_history row recording the transition.
// This is the write path the blackboard broker should use once a task
// changes status, so the audit trail spec.md's task lifecycle implies
// actually accumulates instead of relying on every caller to remember a
// separate RecordHistory call.
func (s *Store) SaveWithHistory(task *Task, previousStatus TaskStatus, changedBy, reason string) error {
	if err := s.Save(task); err != nil {
		return err
	}
	if task.Status == previousStatus {
		return nil
	}
	return s.RecordHistory(task.ID, string(previousStatus), string(task.Status), changedBy, reason)
}

const selectColumns = `id, title, description, priority, status, source, target_node, assigned_to, requirements, metadata, created_at, updated_at, started_at, completed_at`

// GetByID retrieves a task by ID.
func (s *Store) GetByID(id string) (*Task, error) {
	row := s.db.QueryRow(`SELECT `+selectColumns+` FROM tasks WHERE id = ?`, id)
	return scanOne(row)
}

// GetByStatus retrieves all tasks with a given status, in priority order.
func (s *Store) GetByStatus(status TaskStatus) ([]*Task, error) {
	rows, err := s.db.Query(`SELECT `+selectColumns+` FROM tasks WHERE status = ? ORDER BY priority, created_at`, status)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// GetAll retrieves every task, in priority order.
func (s *Store) GetAll() ([]*Task, error) {
	rows, err := s.db.Query(`SELECT ` + selectColumns + ` FROM tasks ORDER BY priority, created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// GetStale returns every task whose time in its current status exceeds
// that status's staleness threshold (spec §4.3), computed in SQL against
// the same thresholds internal/federation's sweeper applies to its
// on-disk task.json files and internal/tasks.Queue.Stale applies to a
// node's in-memory view, so a query against the system of record agrees
// with both.
func (s *Store) GetStale(now time.Time) ([]*Task, error) {
	rows, err := s.db.Query(`
		SELECT `+selectColumns+` FROM tasks
		WHERE
			(status = 'pending'    AND ? - strftime('%s', updated_at) > ?) OR
			(status = 'planning'   AND ? - strftime('%s', updated_at) > ?) OR
			(status = 'executing'  AND ? - strftime('%s', updated_at) > ?) OR
			(status = 'validating' AND ? - strftime('%s', updated_at) > ?)
		ORDER BY priority, created_at
	`,
		now.Unix(), int(staleThresholds[StatusPending].Seconds()),
		now.Unix(), int(staleThresholds[StatusPlanning].Seconds()),
		now.Unix(), int(staleThresholds[StatusExecuting].Seconds()),
		now.Unix(), int(staleThresholds[StatusValidating].Seconds()),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanAll(rows)
}

// CountByStatus returns the number of tasks in each status, for dashboard
// and scheduler load reporting.
func (s *Store) CountByStatus() (map[TaskStatus]int, error) {
	rows, err := s.db.Query(`SELECT status, COUNT(*) FROM tasks GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[TaskStatus]int)
	for rows.Next() {
		var status string
		var count int
		if err := rows.Scan(&status, &count); err != nil {
			return nil, err
		}
		counts[TaskStatus(status)] = count
	}
	return counts, rows.Err()
}

// Delete removes a task.
func (s *Store) Delete(id string) error {
	_, err := s.db.Exec(`DELETE FROM tasks WHERE id = ?`, id)
	return err
}

// scanner is satisfied by both *sql.Row and *sql.Rows, letting scanOne and
// scanAll share one field-mapping routine instead of keeping two
// hand-duplicated copies of it in sync.
type scanner interface {
	Scan(dest ...interface{}) error
}

func scanInto(sc scanner, task *Task) error {
	var requirements, metadata sql.NullString
	var startedAt, completedAt sql.NullTime
	var targetNode, assignedTo sql.NullString

	if err := sc.Scan(
		&task.ID, &task.Title, &task.Description, &task.Priority,
		&task.Status, &task.Source, &targetNode, &assignedTo,
		&requirements, &metadata,
		&task.CreatedAt, &task.UpdatedAt, &startedAt, &completedAt,
	); err != nil {
		return err
	}

	if targetNode.Valid {
		task.TargetNode = targetNode.String
	}
	if assignedTo.Valid {
		task.AssignedTo = assignedTo.String
	}
	if startedAt.Valid {
		task.StartedAt = &startedAt.Time
	}
	if completedAt.Valid {
		task.CompletedAt = &completedAt.Time
	}
	if requirements.Valid && requirements.String != "" {
		if err := json.Unmarshal([]byte(requirements.String), &task.Requirements); err != nil {
			task.Requirements = nil
		}
	}
	if metadata.Valid && metadata.String != "" {
		if err := json.Unmarshal([]byte(metadata.String), &task.Metadata); err != nil {
			task.Metadata = make(map[string]string)
		}
	}
	return nil
}

func scanOne(row *sql.Row) (*Task, error) {
	var task Task
	if err := scanInto(row, &task); err != nil {
		return nil, err
	}
	return &task, nil
}

func scanAll(rows *sql.Rows) ([]*Task, error) {
	var tasks []*Task
	for rows.Next() {
		var task Task
		if err := scanInto(rows, &task); err != nil {
			return nil, err
		}
		tasks = append(tasks, &task)
	}
	return tasks, rows.Err()
}

// RecordHistory saves a status transition to the audit log.
func (s *Store) RecordHistory(taskID, fromStatus, toStatus, changedBy, reason string) error {
	_, err := s.db.Exec(`
		INSERT INTO task_history (task_id, from_status, to_status, changed_by, reason, changed_at)
		VALUES (?, ?, ?, ?, ?, ?)
	`, taskID, fromStatus, toStatus, changedBy, reason, time.Now())
	return err
}
