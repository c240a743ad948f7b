// Package l2 implements the relational (durable task history) tier of the
// hierarchical memory stack: tasks, decisions, and derived agentStats,
// indexed by agentId/createdAt/status/type.
package l2

import (
	"database/sql"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

//go:embed schema.sql
var schemaSQL string

// Store is the SQLite-backed L2 history store.
type Store struct {
	db *sql.DB
}

// Open creates (or opens) the L2 history database at path, running schema
// setup and recording the current schema version.
func Open(path string) (*Store, error) {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("l2: create db directory: %w", err)
	}

	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("l2: open db: %w", err)
	}
	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("l2: migrate: %w", err)
	}
	return s, nil
}

const currentSchemaVersion = 1

func (s *Store) migrate() error {
	if _, err := s.db.Exec(schemaSQL); err != nil {
		return fmt.Errorf("execute schema: %w", err)
	}

	var version int
	err := s.db.QueryRow("SELECT version FROM schema_version ORDER BY version DESC LIMIT 1").Scan(&version)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("check schema version: %w", err)
	}

	if version < currentSchemaVersion {
		if _, err := s.db.Exec("INSERT INTO schema_version (version, applied_at) VALUES (?, ?)",
			currentSchemaVersion, time.Now().UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("record schema version: %w", err)
		}
	}
	return nil
}

// Close closes the underlying database.
func (s *Store) Close() error { return s.db.Close() }

// Task is one row of the tasks table.
type Task struct {
	ID          string
	AgentID     string
	Type        string
	Description string
	Status      string
	Result      string
	Score       *float64
	Metadata    map[string]interface{}
	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt *time.Time
}

// AgentStats are the derived per-agent aggregates.
type AgentStats struct {
	AgentID         string
	TotalTasks      int
	SuccessfulTasks int
	AvgScore        *float64
	UpdatedAt       time.Time
}

// Decision is one row of the decisions table.
type Decision struct {
	ID        int64
	AgentID   string
	TaskID    string
	Decision  string
	Reasoning string
	CreatedAt time.Time
}

// RecordTask upserts a task row and recomputes that agent's stats, all
// within a single transaction — the task insert and the stats update MUST
// be atomic (spec §4.1).
func (s *Store) RecordTask(t Task) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	metaJSON, err := json.Marshal(t.Metadata)
	if err != nil {
		return fmt.Errorf("marshal metadata: %w", err)
	}

	var completedAt sql.NullString
	if t.CompletedAt != nil {
		completedAt = sql.NullString{String: t.CompletedAt.UTC().Format(time.RFC3339), Valid: true}
	}
	var score sql.NullFloat64
	if t.Score != nil {
		score = sql.NullFloat64{Float64: *t.Score, Valid: true}
	}

	_, err = tx.Exec(`
		INSERT INTO tasks (id, agent_id, type, description, status, result, score, metadata, created_at, updated_at, completed_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			agent_id=excluded.agent_id, type=excluded.type, description=excluded.description,
			status=excluded.status, result=excluded.result, score=excluded.score,
			metadata=excluded.metadata, updated_at=excluded.updated_at, completed_at=excluded.completed_at
	`, t.ID, t.AgentID, t.Type, t.Description, t.Status, t.Result, score, string(metaJSON),
		t.CreatedAt.UTC().Format(time.RFC3339), t.UpdatedAt.UTC().Format(time.RFC3339), completedAt)
	if err != nil {
		return fmt.Errorf("insert task: %w", err)
	}

	if err := updateAgentStats(tx, t.AgentID); err != nil {
		return fmt.Errorf("update agent stats: %w", err)
	}

	return tx.Commit()
}

// updateAgentStats recomputes totalTasks, successfulTasks, and avgScore for
// an agent from the committed tasks table, matching l2_history.py's
// _update_agent_stats: successful count increments when status == completed,
// avg computed over all non-null scores.
func updateAgentStats(tx *sql.Tx, agentID string) error {
	var total, successful int
	var avg sql.NullFloat64
	err := tx.QueryRow(`
		SELECT
			COUNT(*),
			SUM(CASE WHEN status = 'completed' THEN 1 ELSE 0 END),
			AVG(score)
		FROM tasks WHERE agent_id = ?
	`, agentID).Scan(&total, &successful, &avg)
	if err != nil {
		return err
	}

	var avgPtr sql.NullFloat64
	if avg.Valid {
		avgPtr = avg
	}

	_, err = tx.Exec(`
		INSERT INTO agent_stats (agent_id, total_tasks, successful_tasks, avg_score, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(agent_id) DO UPDATE SET
			total_tasks=excluded.total_tasks, successful_tasks=excluded.successful_tasks,
			avg_score=excluded.avg_score, updated_at=excluded.updated_at
	`, agentID, total, successful, avgPtr, time.Now().UTC().Format(time.RFC3339))
	return err
}

// RecordDecision appends a decision row.
func (s *Store) RecordDecision(d Decision) error {
	_, err := s.db.Exec(`
		INSERT INTO decisions (agent_id, task_id, decision, reasoning, created_at)
		VALUES (?, ?, ?, ?, ?)
	`, d.AgentID, d.TaskID, d.Decision, d.Reasoning, d.CreatedAt.UTC().Format(time.RFC3339))
	if err != nil {
		return fmt.Errorf("insert decision: %w", err)
	}
	return nil
}

// GetTask fetches a single task by id.
func (s *Store) GetTask(id string) (*Task, error) {
	row := s.db.QueryRow(`
		SELECT id, agent_id, type, description, status, result, score, metadata, created_at, updated_at, completed_at
		FROM tasks WHERE id = ?
	`, id)
	return scanTask(row)
}

// GetAgentHistory returns an agent's most recent tasks, newest first.
func (s *Store) GetAgentHistory(agentID string, limit int) ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, agent_id, type, description, status, result, score, metadata, created_at, updated_at, completed_at
		FROM tasks WHERE agent_id = ? ORDER BY created_at DESC LIMIT ?
	`, agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("query agent history: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetRecentTasks returns the most recent tasks across all agents, optionally
// filtered by status.
func (s *Store) GetRecentTasks(limit int, statusFilter string) ([]Task, error) {
	var rows *sql.Rows
	var err error
	if statusFilter != "" {
		rows, err = s.db.Query(`
			SELECT id, agent_id, type, description, status, result, score, metadata, created_at, updated_at, completed_at
			FROM tasks WHERE status = ? ORDER BY created_at DESC LIMIT ?
		`, statusFilter, limit)
	} else {
		rows, err = s.db.Query(`
			SELECT id, agent_id, type, description, status, result, score, metadata, created_at, updated_at, completed_at
			FROM tasks ORDER BY created_at DESC LIMIT ?
		`, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("query recent tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

// GetAgentStats returns the derived stats row for an agent.
func (s *Store) GetAgentStats(agentID string) (*AgentStats, error) {
	row := s.db.QueryRow(`
		SELECT agent_id, total_tasks, successful_tasks, avg_score, updated_at
		FROM agent_stats WHERE agent_id = ?
	`, agentID)
	var st AgentStats
	var avg sql.NullFloat64
	var updatedAt string
	if err := row.Scan(&st.AgentID, &st.TotalTasks, &st.SuccessfulTasks, &avg, &updatedAt); err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan agent stats: %w", err)
	}
	if avg.Valid {
		v := avg.Float64
		st.AvgScore = &v
	}
	st.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	return &st, nil
}

// SearchTasks performs a substring search over task descriptions.
func (s *Store) SearchTasks(query string, limit int) ([]Task, error) {
	rows, err := s.db.Query(`
		SELECT id, agent_id, type, description, status, result, score, metadata, created_at, updated_at, completed_at
		FROM tasks WHERE description LIKE ? ORDER BY created_at DESC LIMIT ?
	`, "%"+query+"%", limit)
	if err != nil {
		return nil, fmt.Errorf("search tasks: %w", err)
	}
	defer rows.Close()
	return scanTasks(rows)
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanTask(row rowScanner) (*Task, error) {
	var t Task
	var result sql.NullString
	var score sql.NullFloat64
	var metaJSON string
	var createdAt, updatedAt string
	var completedAt sql.NullString

	err := row.Scan(&t.ID, &t.AgentID, &t.Type, &t.Description, &t.Status, &result, &score, &metaJSON, &createdAt, &updatedAt, &completedAt)
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}

	t.Result = result.String
	if score.Valid {
		v := score.Float64
		t.Score = &v
	}
	if metaJSON != "" {
		_ = json.Unmarshal([]byte(metaJSON), &t.Metadata)
	}
	t.CreatedAt, _ = time.Parse(time.RFC3339, createdAt)
	t.UpdatedAt, _ = time.Parse(time.RFC3339, updatedAt)
	if completedAt.Valid {
		ts, _ := time.Parse(time.RFC3339, completedAt.String)
		t.CompletedAt = &ts
	}
	return &t, nil
}

func scanTasks(rows *sql.Rows) ([]Task, error) {
	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		if t != nil {
			out = append(out, *t)
		}
	}
	return out, rows.Err()
}
