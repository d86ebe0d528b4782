package sync

import (
	"fmt"
	"testing"
	"time"
)

func TestPassLogEviction(t *testing.T) {
	store := NewPassLogStore(10)

	base := time.Now().Add(-time.Hour)
	for i := 0; i < 10; i++ {
		store.Add(&PassRecord{
			ID:        fmt.Sprintf("r%02d", i),
			EntityID:  "e1",
			Status:    PassStatusSuccess,
			StartedAt: base.Add(time.Duration(i) * time.Minute),
		})
	}

	// The 11th insert evicts the oldest 10% (one record).
	store.Add(&PassRecord{
		ID:        "r10",
		EntityID:  "e1",
		Status:    PassStatusSuccess,
		StartedAt: base.Add(10 * time.Minute),
	})

	records := store.Recent(0)
	if len(records) != 10 {
		t.Fatalf("records = %d, want 10 after eviction", len(records))
	}
	for _, r := range records {
		if r.ID == "r00" {
			t.Error("oldest record should have been evicted")
		}
	}
	if records[0].ID != "r10" {
		t.Errorf("newest first: got %s, want r10", records[0].ID)
	}
}

func TestPassLogRecentLimit(t *testing.T) {
	store := NewPassLogStore(100)
	for i := 0; i < 5; i++ {
		store.Add(&PassRecord{StartedAt: time.Now().Add(time.Duration(i) * time.Second)})
	}
	if got := len(store.Recent(3)); got != 3 {
		t.Errorf("Recent(3) = %d records, want 3", got)
	}
}

func TestPassLogStats(t *testing.T) {
	store := NewPassLogStore(100)
	store.Add(&PassRecord{Status: PassStatusSuccess, Granted: 4, Duration: 100 * time.Millisecond, StartedAt: time.Now()})
	store.Add(&PassRecord{Status: PassStatusSuccess, Granted: 1, Reprocess: true, Duration: 200 * time.Millisecond, StartedAt: time.Now()})
	store.Add(&PassRecord{Status: PassStatusFailed, ErrorMessage: "boom", Duration: 300 * time.Millisecond, StartedAt: time.Now()})
	store.Add(&PassRecord{Status: PassStatusSkipped, StartedAt: time.Now()})

	stats := store.Stats()
	if stats.Total != 4 || stats.Successful != 2 || stats.Failed != 1 || stats.Skipped != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if stats.TotalGranted != 5 {
		t.Errorf("total granted = %d, want 5", stats.TotalGranted)
	}
	if stats.Reprocesses != 1 {
		t.Errorf("reprocesses = %d, want 1", stats.Reprocesses)
	}
	if stats.SuccessRate != 0.5 {
		t.Errorf("success rate = %f, want 0.5", stats.SuccessRate)
	}
	if stats.AverageDuration != 150*time.Millisecond {
		t.Errorf("average duration = %v, want 150ms", stats.AverageDuration)
	}
}

func TestPassLogPrune(t *testing.T) {
	store := NewPassLogStore(100)
	store.Add(&PassRecord{ID: "old", StartedAt: time.Now().Add(-2 * time.Hour)})
	store.Add(&PassRecord{ID: "new", StartedAt: time.Now()})

	if removed := store.Prune(time.Hour); removed != 1 {
		t.Fatalf("pruned = %d, want 1", removed)
	}
	if records := store.Recent(0); len(records) != 1 || records[0].ID != "new" {
		t.Errorf("remaining records = %+v, want only the recent one", records)
	}
}
