package onboarding

import (
	"context"
	"fmt"
	gosync "sync"
	"time"

	"github.com/avastusrada/permsync/pkg/observability"
)

// Phase is the joiner's position in the join-then-poll protocol.
type Phase string

const (
	PhaseIdle      Phase = "idle"
	PhaseJoining   Phase = "joining"
	PhasePolling   Phase = "polling"
	PhaseConfirmed Phase = "confirmed"
	PhaseTimedOut  Phase = "timed_out"
	PhaseError     Phase = "error"
)

const (
	// DefaultPollInterval is the gap between membership checks.
	DefaultPollInterval = 2 * time.Second
	// DefaultPollBudget bounds the whole polling window. At the default
	// interval that is 15 checks.
	DefaultPollBudget = 30 * time.Second
)

// GroupMembership is the subset of Client the joiner needs.
type GroupMembership interface {
	JoinGroup(ctx context.Context, groupID, personID string) error
	CheckMembership(ctx context.Context, groupID, personID string) (bool, error)
}

// Joiner drives the onboarding protocol: one idempotent join write, then
// membership polls at a fixed interval until the write is visible in the
// CMS search index or the budget runs out. Transient poll failures are
// treated as "not visible yet" and consume one attempt.
type Joiner struct {
	client   GroupMembership
	logger   *observability.Logger
	interval time.Duration
	budget   time.Duration

	mu      gosync.Mutex
	phase   Phase
	lastErr error
}

// JoinerOption configures a Joiner.
type JoinerOption func(*Joiner)

// WithPollInterval overrides the gap between membership checks.
func WithPollInterval(d time.Duration) JoinerOption {
	return func(j *Joiner) { j.interval = d }
}

// WithPollBudget overrides the total polling window.
func WithPollBudget(d time.Duration) JoinerOption {
	return func(j *Joiner) { j.budget = d }
}

// NewJoiner creates a joiner in the idle phase.
func NewJoiner(client GroupMembership, logger *observability.Logger, opts ...JoinerOption) *Joiner {
	j := &Joiner{
		client:   client,
		logger:   logger.WithComponent("onboarding"),
		interval: DefaultPollInterval,
		budget:   DefaultPollBudget,
		phase:    PhaseIdle,
	}
	for _, opt := range opts {
		opt(j)
	}
	return j
}

// Phase reports the current phase.
func (j *Joiner) Phase() Phase {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.phase
}

// Err returns the error recorded by the last run, if any.
func (j *Joiner) Err() error {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.lastErr
}

// Reset returns the joiner to idle so Run can be called again.
func (j *Joiner) Reset() {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.phase = PhaseIdle
	j.lastErr = nil
}

func (j *Joiner) setPhase(p Phase, err error) {
	j.mu.Lock()
	j.phase = p
	j.lastErr = err
	j.mu.Unlock()
}

// Run executes the protocol once and returns the terminal phase. A failed
// join write ends the run in PhaseError without issuing any polls. Context
// cancellation stops the run immediately; no further requests are made.
func (j *Joiner) Run(ctx context.Context, groupID, personID string) (Phase, error) {
	j.mu.Lock()
	if j.phase != PhaseIdle {
		phase := j.phase
		j.mu.Unlock()
		return phase, fmt.Errorf("onboarding: run already started (phase %s), call Reset first", phase)
	}
	j.phase = PhaseJoining
	j.lastErr = nil
	j.mu.Unlock()

	logger := j.logger.WithFields(map[string]interface{}{
		"group_id":  groupID,
		"person_id": personID,
	})
	logger.Info("joining group")

	if err := j.client.JoinGroup(ctx, groupID, personID); err != nil {
		logger.WithError(err).Error("join request failed")
		j.setPhase(PhaseError, err)
		return PhaseError, err
	}

	j.setPhase(PhasePolling, nil)
	logger.WithFields(map[string]interface{}{
		"interval": j.interval.String(),
		"budget":   j.budget.String(),
	}).Info("polling for membership visibility")

	attempts := int(j.budget / j.interval)
	if attempts < 1 {
		attempts = 1
	}

	ticker := time.NewTicker(j.interval)
	defer ticker.Stop()

	for attempt := 1; attempt <= attempts; attempt++ {
		select {
		case <-ctx.Done():
			err := ctx.Err()
			j.setPhase(PhaseError, err)
			return PhaseError, err
		case <-ticker.C:
		}

		visible, err := j.client.CheckMembership(ctx, groupID, personID)
		if err != nil {
			// The write may simply not have reached the search index;
			// a failed check spends the attempt and polling continues.
			logger.WithError(err).WithField("attempt", attempt).Warn("membership check failed")
			continue
		}
		if visible {
			logger.WithField("attempt", attempt).Info("membership confirmed")
			j.setPhase(PhaseConfirmed, nil)
			return PhaseConfirmed, nil
		}
	}

	logger.WithField("attempts", attempts).Warn("membership not visible within budget")
	j.setPhase(PhaseTimedOut, nil)
	return PhaseTimedOut, nil
}
