package sync

import (
	"context"
	"time"

	"github.com/avastusrada/permsync/pkg/entu"
	"github.com/avastusrada/permsync/pkg/observability"
)

// DefaultReprocessSettleDelay is the pause before a coalesced follow-up pass.
// It exists to let the write that triggered the mid-pass webhook propagate in
// the CMS before the entity is re-read; this is an external-system consistency
// assumption, not a backoff.
const DefaultReprocessSettleDelay = 2 * time.Second

// SyncOutcome summarizes what one webhook call caused.
type SyncOutcome struct {
	// Started is false when the event was coalesced into a pass already
	// running for the same entity; no work happened on this request.
	Started bool
	// Passes is the number of synchronization passes executed, including
	// coalesced reprocess runs.
	Passes int
	// Granted sums newly written permission pairs across all passes.
	Granted int
}

// Service runs the full webhook-driven pipeline: queue admission, relationship
// resolution, permission granting, and the reprocess loop.
type Service struct {
	queue       *Queue
	resolver    *Resolver
	grants      *GrantEngine
	passLog     *PassLogStore
	logger      *observability.Logger
	metrics     *observability.Metrics
	settleDelay time.Duration
}

// ServiceConfig wires the service. Queue, Resolver, GrantEngine and PassLog
// are required; a zero SettleDelay takes the default.
type ServiceConfig struct {
	Queue       *Queue
	Resolver    *Resolver
	GrantEngine *GrantEngine
	PassLog     *PassLogStore
	SettleDelay time.Duration
}

// NewService assembles the synchronization pipeline.
func NewService(cfg ServiceConfig, logger *observability.Logger, metrics *observability.Metrics) *Service {
	if cfg.SettleDelay <= 0 {
		cfg.SettleDelay = DefaultReprocessSettleDelay
	}
	s := &Service{
		queue:       cfg.Queue,
		resolver:    cfg.Resolver,
		grants:      cfg.GrantEngine,
		passLog:     cfg.PassLog,
		logger:      logger.WithComponent("sync"),
		metrics:     metrics,
		settleDelay: cfg.SettleDelay,
	}
	if metrics != nil {
		s.queue.OnDepthChange(func(depth int) {
			metrics.QueueDepth.Set(float64(depth))
		})
	}
	return s
}

// ProcessSync handles one validated webhook event. If no pass is running for
// the entity it runs the pass loop to completion, including any reprocess runs
// coalesced in while it worked; if a pass is already running it only flags the
// reprocess and returns immediately.
//
// A failed pass does not abort the loop: the queue entry is completed under
// the same rule as success, so the entity always returns to the idle state.
// Recovery from failure is the next webhook, never an internal retry timer.
func (s *Service) ProcessSync(ctx context.Context, entityID string, cred entu.Credential, actorID string) (SyncOutcome, error) {
	var outcome SyncOutcome
	logger := s.logger.WithFields(map[string]interface{}{
		"entity_id": entityID,
		"actor_id":  actorID,
	})

	if !s.queue.Enqueue(entityID) {
		logger.Info("Pass already running, coalesced into reprocess")
		if s.metrics != nil {
			s.metrics.SyncReprocessTotal.Inc()
		}
		return outcome, nil
	}
	outcome.Started = true

	reprocess := false
	var lastErr error
	for {
		granted, err := s.runPass(ctx, entityID, cred, reprocess, logger)
		outcome.Passes++
		outcome.Granted += granted
		lastErr = err

		if !s.queue.Complete(entityID) {
			break
		}
		reprocess = true
		logger.Infof("Edit arrived mid-pass, reprocessing after %v", s.settleDelay)

		select {
		case <-ctx.Done():
			// The request is gone; drain the queue entry so the entity does
			// not stay stuck in processing state.
			for s.queue.Complete(entityID) {
			}
			return outcome, ctx.Err()
		case <-time.After(s.settleDelay):
		}
	}

	return outcome, lastErr
}

// runPass executes one resolution + grant pass and records it.
func (s *Service) runPass(ctx context.Context, entityID string, cred entu.Credential, reprocess bool, logger *observability.Logger) (int, error) {
	start := time.Now()
	record := &PassRecord{
		EntityID:  entityID,
		Reprocess: reprocess,
		StartedAt: start,
	}
	defer func() {
		record.Duration = time.Since(start)
		s.passLog.Add(record)
		if s.metrics != nil {
			kind := record.Kind
			if kind == "" {
				kind = "unknown"
			}
			s.metrics.ObserveSyncPass(kind, string(record.Status), record.Duration)
		}
	}()

	resolution, err := s.resolver.Resolve(ctx, entityID, cred)
	if err != nil {
		record.Status = PassStatusFailed
		record.ErrorMessage = err.Error()
		logger.WithError(err).Error("Synchronization pass failed during resolution")
		return 0, err
	}
	record.Kind = resolution.Kind

	if resolution.Empty() {
		record.Status = PassStatusSkipped
		logger.WithField("kind", resolution.Kind).Debug("Nothing to grant")
		return 0, nil
	}

	result, err := s.grants.GrantAll(ctx, resolution.TaskIDs, resolution.PersonIDs, cred)
	if err != nil {
		record.Status = PassStatusFailed
		record.ErrorMessage = err.Error()
		logger.WithError(err).Error("Synchronization pass failed during granting")
		return 0, err
	}

	record.Status = PassStatusSuccess
	record.Granted = result.Granted
	record.Skipped = result.Skipped
	record.Failed = result.Failed
	logger.WithFields(map[string]interface{}{
		"kind":    resolution.Kind,
		"tasks":   len(resolution.TaskIDs),
		"persons": len(resolution.PersonIDs),
		"granted": result.Granted,
		"skipped": result.Skipped,
		"failed":  result.Failed,
	}).Info("Synchronization pass completed")

	return result.Granted, nil
}

// PassLog exposes the pass log for the inspection endpoints.
func (s *Service) PassLog() *PassLogStore {
	return s.passLog
}

// QueueDepth reports the number of entities currently being processed.
func (s *Service) QueueDepth() int {
	return s.queue.Depth()
}
