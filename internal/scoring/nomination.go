package scoring

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"
)

// NominationStatus is a nomination's position in its state machine.
type NominationStatus string

const (
	NominationPending  NominationStatus = "pending"
	NominationApproved NominationStatus = "approved"
	NominationRejected NominationStatus = "rejected"
)

// Nomination is a proposal to promote an agent into federation memory.
type Nomination struct {
	NominationID string           `json:"nominationId"`
	AgentID      string           `json:"agentId"`
	UtilityScore float64          `json:"utilityScore"`
	Timestamp    time.Time        `json:"timestamp"`
	Status       NominationStatus `json:"status"`
	Reason       string           `json:"reason"`
	Evidence     map[string]interface{} `json:"evidence,omitempty"`
	BossNotes    string           `json:"bossNotes,omitempty"`
	ApprovedBy   string           `json:"approvedBy,omitempty"`
	ApprovedAt   *time.Time       `json:"approvedAt,omitempty"`
}

// NominationManager owns the nomination workflow: a terminal rejection
// never re-opens — re-nomination on a later eligibility window is a new id,
// per spec.md §9's open question resolved in DESIGN.md (only a *pending*
// nomination blocks eligibility; a terminal rejection does not).
type NominationManager struct {
	dir    string // nominations directory
	scorer *Scorer
}

// NewNominationManager wires a NominationManager to its persistence
// directory and the Scorer it reads eligibility from.
func NewNominationManager(dir string, scorer *Scorer) *NominationManager {
	return &NominationManager{dir: dir, scorer: scorer}
}

func (m *NominationManager) path(id string) string {
	return filepath.Join(m.dir, id+".json")
}

// CheckCandidates returns every eligible agent (score >= threshold, no
// pending nomination), highest score first.
func (m *NominationManager) CheckCandidates() ([]ScoreRecord, error) {
	scores, err := m.scorer.GetAllScores()
	if err != nil {
		return nil, err
	}

	var candidates []ScoreRecord
	for _, rec := range scores {
		if !rec.NominationEligible {
			continue
		}
		hasPending, err := m.hasPendingNomination(rec.AgentID)
		if err != nil {
			return nil, err
		}
		if !hasPending {
			candidates = append(candidates, rec)
		}
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].UtilityScore > candidates[j].UtilityScore })
	return candidates, nil
}

// CreateNomination persists a new pending nomination for the given score
// record.
func (m *NominationManager) CreateNomination(rec ScoreRecord, reason string) (string, error) {
	if err := os.MkdirAll(m.dir, 0o755); err != nil {
		return "", fmt.Errorf("scoring: mkdir nominations dir: %w", err)
	}

	now := time.Now().UTC()
	id := fmt.Sprintf("nom-%s-%s", rec.AgentID, now.Format("20060102-150405"))
	if reason == "" {
		reason = fmt.Sprintf("Score %.2f exceeds threshold %.2f", rec.UtilityScore, NominationThreshold)
	}

	history := rec.History
	if len(history) > 5 {
		history = history[len(history)-5:]
	}

	n := Nomination{
		NominationID: id,
		AgentID:      rec.AgentID,
		UtilityScore: rec.UtilityScore,
		Timestamp:    now,
		Status:       NominationPending,
		Reason:       reason,
		Evidence: map[string]interface{}{
			"scoreHistory": history,
			"lastUpdated":  rec.LastUpdated,
		},
	}
	if err := m.write(n); err != nil {
		return "", err
	}
	return id, nil
}

// AutoNominateEligible creates pending nominations for every currently
// eligible, not-already-pending agent.
func (m *NominationManager) AutoNominateEligible() ([]string, error) {
	candidates, err := m.CheckCandidates()
	if err != nil {
		return nil, err
	}
	var ids []string
	for _, c := range candidates {
		id, err := m.CreateNomination(c, "")
		if err != nil {
			continue
		}
		ids = append(ids, id)
	}
	return ids, nil
}

// ApproveNomination transitions a pending nomination to approved. Approving
// an already-terminal nomination is an error — terminal states are final.
func (m *NominationManager) ApproveNomination(id, approvedBy, notes string) error {
	n, err := m.load(id)
	if err != nil {
		return err
	}
	if n.Status != NominationPending {
		return fmt.Errorf("scoring: nomination %s is already %s, cannot approve", id, n.Status)
	}
	now := time.Now().UTC()
	n.Status = NominationApproved
	n.BossNotes = notes
	n.ApprovedBy = approvedBy
	n.ApprovedAt = &now
	if err := m.write(*n); err != nil {
		return err
	}
	return m.logApproval(*n)
}

// RejectNomination transitions a pending nomination to rejected, leaving an
// auditable trail with notes.
func (m *NominationManager) RejectNomination(id, notes string) error {
	n, err := m.load(id)
	if err != nil {
		return err
	}
	if n.Status != NominationPending {
		return fmt.Errorf("scoring: nomination %s is already %s, cannot reject", id, n.Status)
	}
	now := time.Now().UTC()
	n.Status = NominationRejected
	n.BossNotes = notes
	n.ApprovedAt = &now
	return m.write(*n)
}

// GetPendingNominations returns all pending nominations, newest first.
func (m *NominationManager) GetPendingNominations() ([]Nomination, error) {
	return m.GetAllNominations(NominationPending)
}

// GetAllNominations lists nominations, optionally filtered by status.
// Passing "" returns all.
func (m *NominationManager) GetAllNominations(status NominationStatus) ([]Nomination, error) {
	entries, err := os.ReadDir(m.dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("scoring: read nominations dir: %w", err)
	}

	var out []Nomination
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
			continue
		}
		data, err := os.ReadFile(filepath.Join(m.dir, e.Name()))
		if err != nil {
			continue
		}
		var n Nomination
		if err := json.Unmarshal(data, &n); err != nil {
			continue
		}
		if status == "" || n.Status == status {
			out = append(out, n)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.After(out[j].Timestamp) })
	return out, nil
}

func (m *NominationManager) hasPendingNomination(agentID string) (bool, error) {
	nominations, err := m.GetAllNominations(NominationPending)
	if err != nil {
		return false, err
	}
	for _, n := range nominations {
		if n.AgentID == agentID {
			return true, nil
		}
	}
	return false, nil
}

func (m *NominationManager) load(id string) (*Nomination, error) {
	data, err := os.ReadFile(m.path(id))
	if err != nil {
		return nil, fmt.Errorf("scoring: read nomination %s: %w", id, err)
	}
	var n Nomination
	if err := json.Unmarshal(data, &n); err != nil {
		return nil, fmt.Errorf("scoring: unmarshal nomination %s: %w", id, err)
	}
	return &n, nil
}

func (m *NominationManager) write(n Nomination) error {
	data, err := json.MarshalIndent(n, "", "  ")
	if err != nil {
		return fmt.Errorf("scoring: marshal nomination: %w", err)
	}
	tmp := m.path(n.NominationID) + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("scoring: write nomination: %w", err)
	}
	return os.Rename(tmp, m.path(n.NominationID))
}

// logApproval appends an audit-log line for an approved nomination.
func (m *NominationManager) logApproval(n Nomination) error {
	logDir := filepath.Join(filepath.Dir(m.dir), "federation")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return fmt.Errorf("scoring: mkdir federation log dir: %w", err)
	}
	f, err := os.OpenFile(filepath.Join(logDir, "nominations.log"), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("scoring: open nominations log: %w", err)
	}
	defer f.Close()
	line := fmt.Sprintf("[%s] APPROVED: %s (score: %.2f)\n", time.Now().UTC().Format(time.RFC3339), n.AgentID, n.UtilityScore)
	_, err = f.WriteString(line)
	return err
}
