package sync

import (
	"context"
	"fmt"
	"io"
	gosync "sync"

	"net/url"

	"github.com/avastusrada/permsync/pkg/entu"
	"github.com/avastusrada/permsync/pkg/observability"
)

func testLogger() *observability.Logger {
	return observability.NewLogger(observability.ErrorLevel, io.Discard)
}

// fakeGateway is an in-memory CMS: a mutable entity store that answers the
// same queries the real client issues.
type fakeGateway struct {
	mu       gosync.Mutex
	entities map[string]*entu.Entity

	getCalls    int
	searchCalls int
	addCalls    int

	// onGetEntity, when set, runs before each fetch. Tests use it to block a
	// pass mid-flight.
	onGetEntity func(id string)
	// failAddRef, when set, fails AddReference for the given (entity, ref).
	failAddRef map[string]bool
}

func newFakeGateway(entities ...*entu.Entity) *fakeGateway {
	g := &fakeGateway{entities: make(map[string]*entu.Entity)}
	for _, e := range entities {
		g.entities[e.ID] = e
	}
	return g
}

func (g *fakeGateway) GetEntity(ctx context.Context, id string, cred entu.Credential) (*entu.Entity, error) {
	if g.onGetEntity != nil {
		g.onGetEntity(id)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.getCalls++
	e, ok := g.entities[id]
	if !ok {
		return nil, &entu.APIError{Op: "get_entity", StatusCode: 404, Message: "not found"}
	}
	copied := *e
	return &copied, nil
}

func (g *fakeGateway) SearchEntities(ctx context.Context, query url.Values, cred entu.Credential) ([]*entu.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.searchCalls++

	kind := query.Get("_type.string")
	parentRef := query.Get("_parent.reference")
	groupRef := query.Get("grupp.reference")

	var result []*entu.Entity
	for _, e := range g.entities {
		if kind != "" && e.Kind != kind {
			continue
		}
		if parentRef != "" && !e.HasParent(parentRef) {
			continue
		}
		if groupRef != "" && !hasGroup(e, groupRef) {
			continue
		}
		copied := *e
		result = append(result, &copied)
	}
	return result, nil
}

func (g *fakeGateway) AddReference(ctx context.Context, entityID, property, refID string, cred entu.Credential) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.addCalls++

	if g.failAddRef[entityID+"/"+refID] {
		return &entu.APIError{Op: "add_reference", StatusCode: 502, Message: "upstream error"}
	}

	e, ok := g.entities[entityID]
	if !ok {
		return &entu.APIError{Op: "add_reference", StatusCode: 404, Message: "not found"}
	}
	switch property {
	case entu.PropExpander:
		e.Expanders = append(e.Expanders, entu.Ref{ID: refID})
	case entu.PropParent:
		e.Parents = append(e.Parents, entu.Ref{ID: refID})
	default:
		return fmt.Errorf("fake gateway: unsupported property %q", property)
	}
	return nil
}

func (g *fakeGateway) EntityKind(ctx context.Context, id string, cred entu.Credential) (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entities[id]
	if !ok {
		return "", &entu.APIError{Op: "get_entity", StatusCode: 404, Message: "not found"}
	}
	return e.Kind, nil
}

func (g *fakeGateway) expandersOf(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entities[id]
	if !ok {
		return nil
	}
	var ids []string
	for _, ref := range e.Expanders {
		ids = append(ids, ref.ID)
	}
	return ids
}

func hasGroup(e *entu.Entity, id string) bool {
	for _, ref := range e.Groups {
		if ref.ID == id {
			return true
		}
	}
	return false
}

// Standard fixture: group g1 with tasks t1, t2 and person p1 as a member.
func classFixture() *fakeGateway {
	return newFakeGateway(
		&entu.Entity{ID: "g1", Kind: entu.KindGroup},
		&entu.Entity{ID: "t1", Kind: entu.KindTask, Groups: []entu.Ref{{ID: "g1", Kind: entu.KindGroup}}},
		&entu.Entity{ID: "t2", Kind: entu.KindTask, Groups: []entu.Ref{{ID: "g1", Kind: entu.KindGroup}}},
		&entu.Entity{ID: "p1", Kind: entu.KindPerson, Parents: []entu.Ref{{ID: "g1", Kind: entu.KindGroup}}},
	)
}
