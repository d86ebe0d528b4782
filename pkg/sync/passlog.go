package sync

import (
	gosync "sync"
	"time"

	"github.com/google/uuid"
)

// PassStatus is the outcome of one synchronization pass.
type PassStatus string

const (
	PassStatusSuccess PassStatus = "success"
	PassStatusFailed  PassStatus = "failed"
	PassStatusSkipped PassStatus = "skipped"
)

// PassRecord captures one synchronization pass for diagnostics. Records live
// only in memory; the store is a best-effort window, not an audit log.
type PassRecord struct {
	ID           string        `json:"id"`
	EntityID     string        `json:"entity_id"`
	Kind         string        `json:"kind,omitempty"`
	Status       PassStatus    `json:"status"`
	Granted      int           `json:"granted"`
	Skipped      int           `json:"skipped"`
	Failed       int           `json:"failed"`
	Reprocess    bool          `json:"reprocess"`
	ErrorMessage string        `json:"error_message,omitempty"`
	StartedAt    time.Time     `json:"started_at"`
	Duration     time.Duration `json:"duration"`
}

// PassLogStore keeps a capped in-memory log of synchronization passes.
type PassLogStore struct {
	mu         gosync.RWMutex
	records    map[string]*PassRecord
	maxRecords int
}

// NewPassLogStore creates a store capped at maxRecords entries.
func NewPassLogStore(maxRecords int) *PassLogStore {
	if maxRecords <= 0 {
		maxRecords = 1000
	}
	return &PassLogStore{
		records:    make(map[string]*PassRecord),
		maxRecords: maxRecords,
	}
}

// Add stores a pass record, assigning it an id, evicting the oldest tenth of
// records when the cap is reached.
func (s *PassLogStore) Add(record *PassRecord) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if record.ID == "" {
		record.ID = uuid.New().String()
	}
	if len(s.records) >= s.maxRecords {
		s.evictOldest()
	}
	s.records[record.ID] = record
}

// Recent returns up to limit records, newest first.
func (s *PassLogStore) Recent(limit int) []*PassRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*PassRecord, 0, len(s.records))
	for _, r := range s.records {
		result = append(result, r)
	}
	sortByStartDesc(result)

	if limit > 0 && len(result) > limit {
		result = result[:limit]
	}
	return result
}

// ByEntity returns all records for one entity id, newest first.
func (s *PassLogStore) ByEntity(entityID string) []*PassRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var result []*PassRecord
	for _, r := range s.records {
		if r.EntityID == entityID {
			result = append(result, r)
		}
	}
	sortByStartDesc(result)
	return result
}

// PassStats aggregates the stored pass records.
type PassStats struct {
	Total           int           `json:"total"`
	Successful      int           `json:"successful"`
	Failed          int           `json:"failed"`
	Skipped         int           `json:"skipped"`
	Reprocesses     int           `json:"reprocesses"`
	TotalGranted    int           `json:"total_granted"`
	SuccessRate     float64       `json:"success_rate"`
	AverageDuration time.Duration `json:"average_duration"`
}

// Stats computes aggregates over the current window.
func (s *PassLogStore) Stats() PassStats {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var stats PassStats
	var totalDuration time.Duration
	for _, r := range s.records {
		stats.Total++
		switch r.Status {
		case PassStatusSuccess:
			stats.Successful++
		case PassStatusFailed:
			stats.Failed++
		case PassStatusSkipped:
			stats.Skipped++
		}
		if r.Reprocess {
			stats.Reprocesses++
		}
		stats.TotalGranted += r.Granted
		totalDuration += r.Duration
	}
	if stats.Total > 0 {
		stats.SuccessRate = float64(stats.Successful) / float64(stats.Total)
		stats.AverageDuration = totalDuration / time.Duration(stats.Total)
	}
	return stats
}

// Prune removes records older than the cutoff. Returns the number removed.
func (s *PassLogStore) Prune(olderThan time.Duration) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().Add(-olderThan)
	removed := 0
	for id, r := range s.records {
		if r.StartedAt.Before(cutoff) {
			delete(s.records, id)
			removed++
		}
	}
	return removed
}

// evictOldest removes the oldest 10% of records. Caller holds the lock.
func (s *PassLogStore) evictOldest() {
	records := make([]*PassRecord, 0, len(s.records))
	for _, r := range s.records {
		records = append(records, r)
	}
	sortByStartDesc(records)

	evictCount := len(records) / 10
	if evictCount == 0 {
		evictCount = 1
	}
	// Oldest are at the tail after the descending sort.
	for i := 0; i < evictCount && i < len(records); i++ {
		delete(s.records, records[len(records)-1-i].ID)
	}
}

func sortByStartDesc(records []*PassRecord) {
	for i := 0; i < len(records)-1; i++ {
		for j := i + 1; j < len(records); j++ {
			if records[i].StartedAt.Before(records[j].StartedAt) {
				records[i], records[j] = records[j], records[i]
			}
		}
	}
}
