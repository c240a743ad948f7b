package scoring

import (
	"testing"
	"time"
)

func TestSummarizeEmptyWindowDefaultsToZero(t *testing.T) {
	fb := NewFeedbackStore(t.TempDir())
	summary, err := fb.Summarize("nobody", 30)
	if err != nil {
		t.Fatalf("summarize: %v", err)
	}
	if summary.TotalTasks != 0 {
		t.Errorf("expected zero tasks, got %d", summary.TotalTasks)
	}
}

func TestCalculateScoreEmptyFeedbackDefaultsToPointFive(t *testing.T) {
	fb := NewFeedbackStore(t.TempDir())
	scorer := NewScorer(t.TempDir(), fb)
	score, err := scorer.CalculateScore("agent-1", 30)
	if err != nil {
		t.Fatalf("calculate score: %v", err)
	}
	if score != 0.5 {
		t.Errorf("expected default 0.5, got %v", score)
	}
}

func TestScoreUpdateLadder(t *testing.T) {
	fb := NewFeedbackStore(t.TempDir())
	scorer := NewScorer(t.TempDir(), fb)

	validations := []float64{9, 9, 9, 5, 5}
	var final float64
	for _, v := range validations {
		s, err := scorer.UpdateScore("agent-1", v, "")
		if err != nil {
			t.Fatalf("update score: %v", err)
		}
		final = s
	}

	// start at 0.50, +0.05 three times, -0.02 twice = 0.50+0.15-0.04 = 0.61
	if diff := final - 0.61; diff > 0.001 || diff < -0.001 {
		t.Errorf("expected final score 0.61, got %v", final)
	}

	details, err := scorer.GetScoreDetails("agent-1")
	if err != nil {
		t.Fatalf("get score details: %v", err)
	}
	if len(details.History) != 5 {
		t.Errorf("expected 5 history entries, got %d", len(details.History))
	}
}

func TestScoreHistoryBoundedAt30(t *testing.T) {
	fb := NewFeedbackStore(t.TempDir())
	scorer := NewScorer(t.TempDir(), fb)

	for i := 0; i < 40; i++ {
		if _, err := scorer.UpdateScore("agent-1", 9, ""); err != nil {
			t.Fatalf("update score %d: %v", i, err)
		}
	}
	details, err := scorer.GetScoreDetails("agent-1")
	if err != nil {
		t.Fatalf("get score details: %v", err)
	}
	if len(details.History) != maxHistoryEntries {
		t.Errorf("expected history capped at %d, got %d", maxHistoryEntries, len(details.History))
	}
	if details.UtilityScore != 1.0 {
		t.Errorf("expected score clamped at 1.0, got %v", details.UtilityScore)
	}
}

func TestNominationWorkflowRejectionDoesNotBlockRenomination(t *testing.T) {
	scoresDir := t.TempDir()
	nomDir := t.TempDir()
	fb := NewFeedbackStore(t.TempDir())
	scorer := NewScorer(scoresDir, fb)
	manager := NewNominationManager(nomDir, scorer)

	// Push agent score up to 0.90 via repeated high validations, matching
	// the end-to-end "Nomination" scenario.
	for i := 0; i < 8; i++ {
		if _, err := scorer.UpdateScore("agent-star", 9, ""); err != nil {
			t.Fatalf("update score: %v", err)
		}
	}
	rec, err := scorer.GetScoreDetails("agent-star")
	if err != nil {
		t.Fatalf("get score details: %v", err)
	}
	if !rec.NominationEligible {
		t.Fatalf("expected agent to be nomination-eligible, got %+v", rec)
	}

	ids, err := manager.AutoNominateEligible()
	if err != nil {
		t.Fatalf("auto nominate: %v", err)
	}
	if len(ids) != 1 {
		t.Fatalf("expected 1 nomination, got %d", len(ids))
	}

	if err := manager.RejectNomination(ids[0], "not ready yet"); err != nil {
		t.Fatalf("reject: %v", err)
	}

	nominations, err := manager.GetAllNominations("")
	if err != nil {
		t.Fatalf("get all nominations: %v", err)
	}
	if len(nominations) != 1 || nominations[0].Status != NominationRejected {
		t.Fatalf("expected 1 rejected nomination, got %+v", nominations)
	}

	// A terminal rejection must not block eligibility on the next window.
	candidates, err := manager.CheckCandidates()
	if err != nil {
		t.Fatalf("check candidates: %v", err)
	}
	if len(candidates) != 1 {
		t.Fatalf("expected agent to remain eligible after a terminal rejection, got %d candidates", len(candidates))
	}
}

func TestNominationApprovalIsTerminal(t *testing.T) {
	scoresDir := t.TempDir()
	nomDir := t.TempDir()
	fb := NewFeedbackStore(t.TempDir())
	scorer := NewScorer(scoresDir, fb)
	manager := NewNominationManager(nomDir, scorer)

	rec := ScoreRecord{AgentID: "agent-2", UtilityScore: 0.9, NominationEligible: true, LastUpdated: time.Now()}
	id, err := manager.CreateNomination(rec, "")
	if err != nil {
		t.Fatalf("create nomination: %v", err)
	}
	if err := manager.ApproveNomination(id, "boss", "great work"); err != nil {
		t.Fatalf("approve: %v", err)
	}
	if err := manager.ApproveNomination(id, "boss", "again"); err == nil {
		t.Error("expected error re-approving a terminal nomination")
	}
}
