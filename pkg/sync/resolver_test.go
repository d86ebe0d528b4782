package sync

import (
	"context"
	"testing"

	"github.com/avastusrada/permsync/pkg/entu"
)

func TestResolverSymmetry(t *testing.T) {
	gw := classFixture()
	r := NewResolver(gw, testLogger())

	t.Run("person yields group tasks", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), "p1", "token")
		if err != nil {
			t.Fatalf("resolve p1: %v", err)
		}
		if res.Kind != entu.KindPerson {
			t.Errorf("kind = %s, want person", res.Kind)
		}
		if len(res.PersonIDs) != 1 || res.PersonIDs[0] != "p1" {
			t.Errorf("person ids = %v, want [p1]", res.PersonIDs)
		}
		if !containsAll(res.TaskIDs, "t1", "t2") || len(res.TaskIDs) != 2 {
			t.Errorf("task ids = %v, want t1 and t2", res.TaskIDs)
		}
	})

	t.Run("task yields group persons", func(t *testing.T) {
		res, err := r.Resolve(context.Background(), "t1", "token")
		if err != nil {
			t.Fatalf("resolve t1: %v", err)
		}
		if res.Kind != entu.KindTask {
			t.Errorf("kind = %s, want ulesanne", res.Kind)
		}
		if len(res.TaskIDs) != 1 || res.TaskIDs[0] != "t1" {
			t.Errorf("task ids = %v, want [t1]", res.TaskIDs)
		}
		if len(res.PersonIDs) != 1 || res.PersonIDs[0] != "p1" {
			t.Errorf("person ids = %v, want [p1]", res.PersonIDs)
		}
	})
}

func TestResolverUnknownKind(t *testing.T) {
	gw := newFakeGateway(&entu.Entity{ID: "loc1", Kind: "asukoht"})
	r := NewResolver(gw, testLogger())

	res, err := r.Resolve(context.Background(), "loc1", "token")
	if err != nil {
		t.Fatalf("unknown kinds must resolve, got error: %v", err)
	}
	if !res.Empty() {
		t.Errorf("expected empty resolution, got %+v", res)
	}
}

func TestResolverMissingEntity(t *testing.T) {
	gw := newFakeGateway()
	r := NewResolver(gw, testLogger())

	if _, err := r.Resolve(context.Background(), "nope", "token"); err == nil {
		t.Fatal("expected resolution failure for missing entity")
	}
}

func TestResolverClassifiesUntypedParents(t *testing.T) {
	// Parent refs without an inline kind force a kind lookup; non-group
	// parents are ignored.
	gw := newFakeGateway(
		&entu.Entity{ID: "g1", Kind: entu.KindGroup},
		&entu.Entity{ID: "dept", Kind: "osakond"},
		&entu.Entity{ID: "t1", Kind: entu.KindTask, Groups: []entu.Ref{{ID: "g1"}}},
		&entu.Entity{ID: "p1", Kind: entu.KindPerson, Parents: []entu.Ref{{ID: "g1"}, {ID: "dept"}}},
	)
	r := NewResolver(gw, testLogger())

	res, err := r.Resolve(context.Background(), "p1", "token")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if len(res.TaskIDs) != 1 || res.TaskIDs[0] != "t1" {
		t.Errorf("task ids = %v, want [t1]", res.TaskIDs)
	}
}

func TestResolverTaskWithoutGroup(t *testing.T) {
	gw := newFakeGateway(&entu.Entity{ID: "t1", Kind: entu.KindTask})
	r := NewResolver(gw, testLogger())

	res, err := r.Resolve(context.Background(), "t1", "token")
	if err != nil {
		t.Fatalf("resolve: %v", err)
	}
	if !res.Empty() {
		t.Errorf("task without group should yield no grant work, got %+v", res)
	}
}

func containsAll(haystack []string, needles ...string) bool {
	set := make(map[string]struct{}, len(haystack))
	for _, h := range haystack {
		set[h] = struct{}{}
	}
	for _, n := range needles {
		if _, ok := set[n]; !ok {
			return false
		}
	}
	return true
}
