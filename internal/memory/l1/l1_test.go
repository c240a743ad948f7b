package l1

import "testing"

func TestStoreRetrieve(t *testing.T) {
	s := New()
	if ok := s.Store("k1", "v1", nil); !ok {
		t.Fatal("expected store to succeed")
	}
	v, ok := s.Retrieve("k1")
	if !ok || v != "v1" {
		t.Fatalf("got (%v, %v), want (v1, true)", v, ok)
	}
}

func TestEvictsOldestOnKeyOverflow(t *testing.T) {
	s := New()
	for i := 0; i < MaxKeys+5; i++ {
		s.Store(string(rune('a'+(i%26)))+string(rune(i)), i, nil)
	}
	if s.Len() > MaxKeys {
		t.Fatalf("expected len <= %d, got %d", MaxKeys, s.Len())
	}
}

func TestExportFromExportRoundTrip(t *testing.T) {
	s := New()
	s.Store("k1", "v1", map[string]interface{}{"tag": "x"})
	s.Store("k2", "v2", nil)

	snap := s.Export()
	reloaded := FromExport(snap)

	v, ok := reloaded.Retrieve("k1")
	if !ok || v != "v1" {
		t.Fatalf("round trip failed for k1: got (%v, %v)", v, ok)
	}
	if reloaded.Len() != 2 {
		t.Fatalf("expected 2 keys after reload, got %d", reloaded.Len())
	}
}

func TestDeleteAndClear(t *testing.T) {
	s := New()
	s.Store("k1", "v1", nil)
	if !s.Delete("k1") {
		t.Fatal("expected delete to report true")
	}
	if s.Contains("k1") {
		t.Fatal("expected key to be gone")
	}
	s.Store("k2", "v2", nil)
	s.Clear()
	if s.Len() != 0 {
		t.Fatalf("expected empty store after Clear, got %d", s.Len())
	}
}

func TestStoreNeverFailsSilently(t *testing.T) {
	s := New()
	huge := make([]byte, MaxBytes+1)
	ok := s.Store("huge", huge, nil)
	if ok {
		t.Fatal("expected store to report false for an entry exceeding the byte bound")
	}
	if s.Contains("huge") {
		t.Fatal("rejected entry must not be present")
	}
}
