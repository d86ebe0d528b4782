package sync

import (
	"context"
	gosync "sync"
	"testing"
	"time"

	"github.com/avastusrada/permsync/pkg/entu"
)

func newTestService(gw Gateway, settle time.Duration) *Service {
	logger := testLogger()
	return NewService(ServiceConfig{
		Queue:       NewQueue(),
		Resolver:    NewResolver(gw, logger),
		GrantEngine: NewGrantEngine(gw, logger, nil, GrantEngineConfig{}),
		PassLog:     NewPassLogStore(100),
		SettleDelay: settle,
	}, logger, nil)
}

func TestProcessSyncGrantsClassPermissions(t *testing.T) {
	gw := classFixture()
	svc := newTestService(gw, time.Millisecond)

	outcome, err := svc.ProcessSync(context.Background(), "p1", "token", "u1")
	if err != nil {
		t.Fatalf("process: %v", err)
	}
	if !outcome.Started {
		t.Fatal("first event must start a pass")
	}
	if outcome.Granted != 2 {
		t.Errorf("granted = %d, want 2", outcome.Granted)
	}
	for _, taskID := range []string{"t1", "t2"} {
		if !containsAll(gw.expandersOf(taskID), "p1") {
			t.Errorf("%s expander missing p1 after sync", taskID)
		}
	}
	if svc.QueueDepth() != 0 {
		t.Errorf("queue depth = %d after completion, want 0", svc.QueueDepth())
	}
}

func TestProcessSyncCoalescesMidPassEvent(t *testing.T) {
	gw := classFixture()
	svc := newTestService(gw, time.Millisecond)

	// Block the first pass at its initial entity fetch, deliver a second
	// event for the same entity, then release. Exactly one reprocess must
	// run, and the second request must not start a pass of its own.
	firstFetch := make(chan struct{})
	release := make(chan struct{})
	var once gosync.Once
	gw.onGetEntity = func(id string) {
		if id != "p1" {
			return
		}
		once.Do(func() {
			close(firstFetch)
			<-release
		})
	}

	type result struct {
		outcome SyncOutcome
		err     error
	}
	done := make(chan result, 1)
	go func() {
		outcome, err := svc.ProcessSync(context.Background(), "p1", "token", "u1")
		done <- result{outcome, err}
	}()

	<-firstFetch
	coalesced, err := svc.ProcessSync(context.Background(), "p1", "token", "u1")
	if err != nil {
		t.Fatalf("coalesced event: %v", err)
	}
	if coalesced.Started || coalesced.Passes != 0 {
		t.Errorf("mid-pass event must not start a pass, got %+v", coalesced)
	}
	close(release)

	first := <-done
	if first.err != nil {
		t.Fatalf("first event: %v", first.err)
	}
	if first.outcome.Passes != 2 {
		t.Errorf("passes = %d, want 2 (original + one reprocess)", first.outcome.Passes)
	}
	if first.outcome.Granted != 2 {
		t.Errorf("granted = %d, want 2 (reprocess finds pairs already present)", first.outcome.Granted)
	}
	if svc.QueueDepth() != 0 {
		t.Errorf("queue depth = %d after both passes, want 0", svc.QueueDepth())
	}
}

func TestProcessSyncFailedPassClearsQueue(t *testing.T) {
	gw := newFakeGateway() // entity missing, resolution fails
	svc := newTestService(gw, time.Millisecond)

	outcome, err := svc.ProcessSync(context.Background(), "ghost", "token", "u1")
	if err == nil {
		t.Fatal("expected resolution failure")
	}
	if !outcome.Started {
		t.Error("failed pass still counts as started")
	}
	if svc.QueueDepth() != 0 {
		t.Errorf("queue depth = %d after failure, want 0 (entity reverts to idle)", svc.QueueDepth())
	}

	// The entity is recoverable via a later webhook.
	if !svc.queue.Enqueue("ghost") {
		t.Error("entity should be enqueueable again after a failed pass")
	}
}

func TestProcessSyncIgnoresUnrelatedKinds(t *testing.T) {
	gw := newFakeGateway(&entu.Entity{ID: "loc1", Kind: "asukoht"})
	svc := newTestService(gw, time.Millisecond)

	outcome, err := svc.ProcessSync(context.Background(), "loc1", "token", "u1")
	if err != nil {
		t.Fatalf("unrelated kind must be a clean no-op: %v", err)
	}
	if outcome.Granted != 0 {
		t.Errorf("granted = %d, want 0", outcome.Granted)
	}

	records := svc.PassLog().ByEntity("loc1")
	if len(records) != 1 || records[0].Status != PassStatusSkipped {
		t.Errorf("pass log = %+v, want one skipped record", records)
	}
}

func TestProcessSyncRecordsPassLog(t *testing.T) {
	gw := classFixture()
	svc := newTestService(gw, time.Millisecond)

	if _, err := svc.ProcessSync(context.Background(), "p1", "token", "u1"); err != nil {
		t.Fatalf("process: %v", err)
	}

	records := svc.PassLog().ByEntity("p1")
	if len(records) != 1 {
		t.Fatalf("pass log records = %d, want 1", len(records))
	}
	r := records[0]
	if r.Status != PassStatusSuccess || r.Granted != 2 || r.Reprocess {
		t.Errorf("record = %+v, want successful non-reprocess pass with 2 grants", r)
	}
}
