package sync

import (
	"context"
	"fmt"
	gosync "sync"

	"golang.org/x/sync/errgroup"

	"github.com/avastusrada/permsync/pkg/entu"
	"github.com/avastusrada/permsync/pkg/observability"
)

const (
	// DefaultGrantConcurrency bounds parallel task writes against the CMS.
	DefaultGrantConcurrency = 4
	// DefaultMaxGrantPairs is the ceiling on task×person pairs per batch.
	// Batches above it are rejected outright instead of ground through;
	// class sizes that large indicate a modeling problem upstream.
	DefaultMaxGrantPairs = 5000
)

// ErrBatchTooLarge is returned when a grant batch exceeds the pair ceiling.
type ErrBatchTooLarge struct {
	Pairs int
	Limit int
}

func (e *ErrBatchTooLarge) Error() string {
	return fmt.Sprintf("grant batch of %d pairs exceeds limit %d", e.Pairs, e.Limit)
}

// GrantResult reports what one batch actually did.
type GrantResult struct {
	Granted int `json:"granted"`
	Skipped int `json:"skipped"`
	Failed  int `json:"failed"`
}

// GrantEngine idempotently ensures every (task, person) pair in a batch is
// present in the task's _expander list. Writes are attributed to the acting
// user's credential.
type GrantEngine struct {
	gateway     Gateway
	logger      *observability.Logger
	metrics     *observability.Metrics
	concurrency int
	maxPairs    int
}

// GrantEngineConfig tunes batch execution. Zero values take defaults.
type GrantEngineConfig struct {
	Concurrency int
	MaxPairs    int
}

// NewGrantEngine creates a grant engine over the given gateway.
func NewGrantEngine(gateway Gateway, logger *observability.Logger, metrics *observability.Metrics, cfg GrantEngineConfig) *GrantEngine {
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = DefaultGrantConcurrency
	}
	if cfg.MaxPairs <= 0 {
		cfg.MaxPairs = DefaultMaxGrantPairs
	}
	return &GrantEngine{
		gateway:     gateway,
		logger:      logger.WithComponent("grants"),
		metrics:     metrics,
		concurrency: cfg.Concurrency,
		maxPairs:    cfg.MaxPairs,
	}
}

// GrantAll processes the cross product of taskIDs × personIDs. For each pair
// the task's current _expander list decides: already present means skip,
// absent means append. A failed write for one pair is logged and counted but
// does not abort the remaining pairs; a later webhook-driven pass is the
// retry path. Tasks are processed concurrently up to the configured limit,
// pairs within one task sequentially against one fetched snapshot.
func (g *GrantEngine) GrantAll(ctx context.Context, taskIDs, personIDs []string, cred entu.Credential) (GrantResult, error) {
	var result GrantResult
	if len(taskIDs) == 0 || len(personIDs) == 0 {
		return result, nil
	}

	pairs := len(taskIDs) * len(personIDs)
	if pairs > g.maxPairs {
		return result, &ErrBatchTooLarge{Pairs: pairs, Limit: g.maxPairs}
	}

	var mu gosync.Mutex
	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(g.concurrency)

	for _, taskID := range taskIDs {
		taskID := taskID
		group.Go(func() error {
			r := g.grantTask(ctx, taskID, personIDs, cred)
			mu.Lock()
			result.Granted += r.Granted
			result.Skipped += r.Skipped
			result.Failed += r.Failed
			mu.Unlock()
			return nil
		})
	}
	// Goroutines never return errors; partial failure is counted, not fatal.
	group.Wait()

	g.observe(result)
	return result, nil
}

// grantTask handles all pairs for one task against one fetched snapshot of
// its _expander list.
func (g *GrantEngine) grantTask(ctx context.Context, taskID string, personIDs []string, cred entu.Credential) GrantResult {
	var r GrantResult
	logger := g.logger.WithField("task_id", taskID)

	task, err := g.gateway.GetEntity(ctx, taskID, cred)
	if err != nil {
		logger.WithError(err).Error("Failed to read task before granting")
		r.Failed = len(personIDs)
		return r
	}

	for _, personID := range personIDs {
		if task.HasExpander(personID) {
			r.Skipped++
			continue
		}
		if err := g.gateway.AddReference(ctx, taskID, entu.PropExpander, personID, cred); err != nil {
			logger.WithError(err).
				WithField("person_id", personID).
				Error("Failed to grant permission pair")
			r.Failed++
			continue
		}
		r.Granted++
	}
	return r
}

func (g *GrantEngine) observe(r GrantResult) {
	if g.metrics == nil {
		return
	}
	g.metrics.GrantsTotal.Add(float64(r.Granted))
	g.metrics.GrantSkippedTotal.Add(float64(r.Skipped))
	g.metrics.GrantErrorsTotal.Add(float64(r.Failed))
}
