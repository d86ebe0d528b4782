package onboarding

import (
	"context"
	"errors"
	"io"
	gosync "sync"
	"testing"
	"time"

	"github.com/avastusrada/permsync/pkg/observability"
)

type fakeMembership struct {
	mu         gosync.Mutex
	joinErr    error
	joinCalls  int
	checkCalls int
	// visibleAfter makes CheckMembership return true from that call on.
	// Zero means never visible.
	visibleAfter int
	checkErrs    map[int]error
	onCheck      func(call int)
}

func (f *fakeMembership) JoinGroup(ctx context.Context, groupID, personID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.joinCalls++
	return f.joinErr
}

func (f *fakeMembership) CheckMembership(ctx context.Context, groupID, personID string) (bool, error) {
	f.mu.Lock()
	f.checkCalls++
	call := f.checkCalls
	err := f.checkErrs[call]
	visible := f.visibleAfter > 0 && call >= f.visibleAfter
	hook := f.onCheck
	f.mu.Unlock()

	if hook != nil {
		hook(call)
	}
	if err != nil {
		return false, err
	}
	return visible, nil
}

func (f *fakeMembership) checks() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.checkCalls
}

func testJoiner(f *fakeMembership, opts ...JoinerOption) *Joiner {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	base := []JoinerOption{
		WithPollInterval(time.Millisecond),
		WithPollBudget(15 * time.Millisecond),
	}
	return NewJoiner(f, logger, append(base, opts...)...)
}

func TestJoinerTimesOutAfterExactBudget(t *testing.T) {
	fake := &fakeMembership{}
	j := testJoiner(fake)

	phase, err := j.Run(context.Background(), "g1", "p1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if phase != PhaseTimedOut {
		t.Fatalf("phase = %s, want %s", phase, PhaseTimedOut)
	}
	// 15ms budget at a 1ms interval is exactly 15 checks.
	if got := fake.checks(); got != 15 {
		t.Errorf("membership checks = %d, want 15", got)
	}
	if fake.joinCalls != 1 {
		t.Errorf("join calls = %d, want 1", fake.joinCalls)
	}
}

func TestJoinerStopsOnFirstConfirmation(t *testing.T) {
	fake := &fakeMembership{visibleAfter: 3}
	j := testJoiner(fake)

	phase, err := j.Run(context.Background(), "g1", "p1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if phase != PhaseConfirmed {
		t.Fatalf("phase = %s, want %s", phase, PhaseConfirmed)
	}
	if got := fake.checks(); got != 3 {
		t.Errorf("membership checks = %d, want exactly 3 (no extra poll after confirmation)", got)
	}
}

func TestJoinerTreatsCheckErrorsAsNotVisible(t *testing.T) {
	fake := &fakeMembership{
		visibleAfter: 4,
		checkErrs: map[int]error{
			1: errors.New("connection reset"),
			2: errors.New("gateway timeout"),
		},
	}
	j := testJoiner(fake)

	phase, err := j.Run(context.Background(), "g1", "p1")
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if phase != PhaseConfirmed {
		t.Fatalf("phase = %s, want %s", phase, PhaseConfirmed)
	}
	if got := fake.checks(); got != 4 {
		t.Errorf("membership checks = %d, want 4 (failed checks spend their attempt)", got)
	}
}

func TestJoinerFailedJoinIssuesNoPolls(t *testing.T) {
	fake := &fakeMembership{joinErr: errors.New("upstream rejected the write")}
	j := testJoiner(fake)

	phase, err := j.Run(context.Background(), "g1", "p1")
	if err == nil {
		t.Fatal("expected an error from a failed join")
	}
	if phase != PhaseError {
		t.Fatalf("phase = %s, want %s", phase, PhaseError)
	}
	if got := fake.checks(); got != 0 {
		t.Errorf("membership checks = %d, want 0", got)
	}
	if j.Err() == nil {
		t.Error("Err() should report the join failure")
	}
}

func TestJoinerCancellationStopsPolling(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	fake := &fakeMembership{}
	fake.onCheck = func(call int) {
		if call == 2 {
			cancel()
		}
	}
	j := testJoiner(fake, WithPollBudget(100*time.Millisecond))

	phase, err := j.Run(ctx, "g1", "p1")
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err = %v, want context.Canceled", err)
	}
	if phase != PhaseError {
		t.Fatalf("phase = %s, want %s", phase, PhaseError)
	}
	if got := fake.checks(); got > 3 {
		t.Errorf("membership checks = %d, polling should stop promptly after cancel", got)
	}
}

func TestJoinerResetAllowsRerun(t *testing.T) {
	fake := &fakeMembership{visibleAfter: 1}
	j := testJoiner(fake)

	if phase, _ := j.Run(context.Background(), "g1", "p1"); phase != PhaseConfirmed {
		t.Fatalf("first run phase = %s", phase)
	}

	if _, err := j.Run(context.Background(), "g1", "p1"); err == nil {
		t.Fatal("second run without Reset should fail")
	}

	j.Reset()
	if j.Phase() != PhaseIdle {
		t.Fatalf("phase after reset = %s, want %s", j.Phase(), PhaseIdle)
	}
	if phase, err := j.Run(context.Background(), "g1", "p1"); err != nil || phase != PhaseConfirmed {
		t.Fatalf("rerun phase = %s, err %v", phase, err)
	}
}
