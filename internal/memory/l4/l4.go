// Package l4 implements the cross-machine snapshot tier: a filesystem tree
// under a versioned repository, synced via the internal/git subprocess
// wrapper. The repository mechanics themselves are delegated to `git` (spec
// §4.1), grounded on internal/git/git.go.
package l4

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/clawos/brain/internal/git"
)

// Store is the L4 filesystem snapshot exporter.
type Store struct {
	root string // git working tree root
	repo *git.Git
}

// Open prepares (and if necessary `git init`s) the snapshot repository
// rooted at dir.
func Open(dir string) (*Store, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("l4: create root: %w", err)
	}
	repo := git.New(dir)
	s := &Store{root: dir, repo: repo}
	if _, err := os.Stat(filepath.Join(dir, ".git")); os.IsNotExist(err) {
		if err := repo.Init(); err != nil {
			return nil, fmt.Errorf("l4: git init: %w", err)
		}
		// Local-only identity so commits succeed even with no global git
		// config, matching a headless snapshot host.
		_ = repo.SetConfig("user.name", "clawos-brain")
		_ = repo.SetConfig("user.email", "brain@clawos.local")
	}
	return s, nil
}

func datePartition(t time.Time) string { return t.UTC().Format("2006-01-02") }

func (s *Store) writeJSON(relPath string, v interface{}) (string, error) {
	full := filepath.Join(s.root, relPath)
	if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
		return "", fmt.Errorf("l4: mkdir: %w", err)
	}
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return "", fmt.Errorf("l4: marshal: %w", err)
	}
	if err := os.WriteFile(full, data, 0o644); err != nil {
		return "", fmt.Errorf("l4: write: %w", err)
	}
	return full, nil
}

// ExportExperiences writes a date-partitioned, timestamped experiences
// export and returns the written path.
func (s *Store) ExportExperiences(experiences interface{}) (string, error) {
	now := time.Now()
	rel := filepath.Join("experiences", datePartition(now), fmt.Sprintf("experiences-%d.json", now.UnixNano()))
	return s.writeJSON(rel, experiences)
}

// ExportAgentSummary writes (overwriting) the per-agent summary file.
func (s *Store) ExportAgentSummary(agentID string, data interface{}) (string, error) {
	rel := filepath.Join("agents", agentID+".json")
	return s.writeJSON(rel, data)
}

// ExportSessionArchive writes a date-partitioned, per-session archive.
func (s *Store) ExportSessionArchive(sessionID string, data interface{}) (string, error) {
	now := time.Now()
	rel := filepath.Join("sessions", datePartition(now), sessionID+".json")
	return s.writeJSON(rel, data)
}

// Lesson is one entry appended to a date-partitioned lessons-learned file.
type Lesson struct {
	Text      string    `json:"text"`
	AgentID   string    `json:"agentId,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

type lessonsFile struct {
	Date    string   `json:"date"`
	Lessons []Lesson `json:"lessons"`
}

// ExportLessonsLearned appends to (creating if absent) today's
// date-partitioned lessons file and returns its path.
func (s *Store) ExportLessonsLearned(lessons []Lesson) (string, error) {
	now := time.Now()
	rel := filepath.Join("lessons", fmt.Sprintf("%s.json", datePartition(now)))
	full := filepath.Join(s.root, rel)

	var existing lessonsFile
	if data, err := os.ReadFile(full); err == nil {
		_ = json.Unmarshal(data, &existing)
	} else {
		existing.Date = datePartition(now)
	}
	existing.Lessons = append(existing.Lessons, lessons...)

	return s.writeJSON(rel, existing)
}

// SyncResult is the outcome of a Sync call.
type SyncResult struct {
	NoOp bool   `json:"noOp"`
	Hash string `json:"hash,omitempty"`
}

// Sync stages everything and commits iff the working tree is dirty.
func (s *Store) Sync(message string) (*SyncResult, error) {
	status, err := s.repo.StatusPorcelain()
	if err != nil {
		return nil, fmt.Errorf("l4: git status: %w", err)
	}
	if status == "" {
		return &SyncResult{NoOp: true}, nil
	}

	if err := s.repo.Add("-A"); err != nil {
		return nil, fmt.Errorf("l4: git add: %w", err)
	}
	if message == "" {
		message = fmt.Sprintf("snapshot: %s", time.Now().UTC().Format(time.RFC3339))
	}
	if err := s.repo.Commit(message); err != nil {
		return nil, fmt.Errorf("l4: git commit: %w", err)
	}
	hash, err := s.repo.RevParseHead()
	if err != nil {
		return nil, fmt.Errorf("l4: git rev-parse: %w", err)
	}
	return &SyncResult{Hash: hash}, nil
}

// Push pushes the current branch to its configured remote, if any.
func (s *Store) Push() error {
	return s.repo.Push()
}

// Pull fetches and merges from the configured remote, if any.
func (s *Store) Pull() error {
	return s.repo.Pull()
}

// Status reports the repository's porcelain status string.
func (s *Store) Status() (string, error) {
	return s.repo.StatusPorcelain()
}
