// internal/tasks/store_test.go
package tasks

import (
	"database/sql"
	"os"
	"testing"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

func setupTestDB(t *testing.T) (*Store, func()) {
	f, err := os.CreateTemp("", "tasks-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	f.Close()

	db, err := sql.Open("sqlite3", f.Name())
	if err != nil {
		t.Fatal(err)
	}

	store := NewStore(db)
	if err := store.Init(); err != nil {
		t.Fatal(err)
	}

	cleanup := func() {
		db.Close()
		os.Remove(f.Name())
	}

	return store, cleanup
}

func TestStoreSaveAndLoad(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	task := NewTask("Test task", "Description", 3)

	// Save
	if err := store.Save(task); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// Load
	loaded, err := store.GetByID(task.ID)
	if err != nil {
		t.Fatalf("GetByID failed: %v", err)
	}

	if loaded.Title != task.Title {
		t.Errorf("title mismatch: %q != %q", loaded.Title, task.Title)
	}
	if loaded.Priority != task.Priority {
		t.Errorf("priority mismatch: %d != %d", loaded.Priority, task.Priority)
	}
}

func TestStoreGetByStatus(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	t1 := NewTask("Task 1", "", 3)
	time.Sleep(1 * time.Millisecond) // Ensure different ID
	t2 := NewTask("Task 2", "", 3)
	t2.Status = StatusPlanning

	if err := store.Save(t1); err != nil {
		t.Fatalf("Save t1 failed: %v", err)
	}
	if err := store.Save(t2); err != nil {
		t.Fatalf("Save t2 failed: %v", err)
	}

	pending, err := store.GetByStatus(StatusPending)
	if err != nil {
		t.Fatal(err)
	}

	if len(pending) != 1 {
		t.Errorf("expected 1 pending task, got %d", len(pending))
	}
}

func TestStoreGetStaleFlagsTasksPastThreshold(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	fresh := NewTask("Fresh", "", 3)
	stale := NewTask("Stale", "", 3)
	stale.UpdatedAt = time.Now().Add(-5 * time.Hour)

	if err := store.Save(fresh); err != nil {
		t.Fatalf("Save fresh failed: %v", err)
	}
	if err := store.Save(stale); err != nil {
		t.Fatalf("Save stale failed: %v", err)
	}

	results, err := store.GetStale(time.Now())
	if err != nil {
		t.Fatalf("GetStale failed: %v", err)
	}
	if len(results) != 1 || results[0].ID != stale.ID {
		t.Errorf("expected exactly the stale task, got %d results", len(results))
	}
}

func TestStoreCountByStatus(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	t1 := NewTask("Task 1", "", 3)
	time.Sleep(1 * time.Millisecond)
	t2 := NewTask("Task 2", "", 3)
	t2.Status = StatusPlanning

	if err := store.Save(t1); err != nil {
		t.Fatalf("Save t1 failed: %v", err)
	}
	if err := store.Save(t2); err != nil {
		t.Fatalf("Save t2 failed: %v", err)
	}

	counts, err := store.CountByStatus()
	if err != nil {
		t.Fatalf("CountByStatus failed: %v", err)
	}
	if counts[StatusPending] != 1 || counts[StatusPlanning] != 1 {
		t.Errorf("unexpected counts: %+v", counts)
	}
}

func TestStoreSaveWithHistoryRecordsTransition(t *testing.T) {
	store, cleanup := setupTestDB(t)
	defer cleanup()

	task := NewTask("Task", "", 3)
	if err := store.Save(task); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	prev := task.Status
	if err := task.TransitionTo(StatusPlanning); err != nil {
		t.Fatalf("TransitionTo failed: %v", err)
	}
	if err := store.SaveWithHistory(task, prev, "agent-001", "claimed"); err != nil {
		t.Fatalf("SaveWithHistory failed: %v", err)
	}

	var count int
	row := store.db.QueryRow(`SELECT COUNT(*) FROM task_history WHERE task_id = ?`, task.ID)
	if err := row.Scan(&count); err != nil {
		t.Fatalf("query task_history failed: %v", err)
	}
	if count != 1 {
		t.Errorf("expected 1 history row, got %d", count)
	}
}
