package api

import (
	"context"
	"io"
	"net/http"
	"net/url"
	gosync "sync"
	"time"

	"github.com/avastusrada/permsync/pkg/config"
	"github.com/avastusrada/permsync/pkg/entu"
	"github.com/avastusrada/permsync/pkg/observability"
	"github.com/avastusrada/permsync/pkg/sync"
)

const testSecret = "test-webhook-secret"

// fakeGateway is an in-memory CMS for handler tests.
type fakeGateway struct {
	mu       gosync.Mutex
	entities map[string]*entu.Entity
	failAll  bool
}

func newFakeGateway(entities ...*entu.Entity) *fakeGateway {
	g := &fakeGateway{entities: make(map[string]*entu.Entity)}
	for _, e := range entities {
		g.entities[e.ID] = e
	}
	return g
}

func (g *fakeGateway) GetEntity(ctx context.Context, id string, cred entu.Credential) (*entu.Entity, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll {
		return nil, &entu.APIError{Op: "get_entity", StatusCode: 503, Message: "down"}
	}
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
	if g.failAll {
		return nil, &entu.APIError{Op: "search_entities", StatusCode: 503, Message: "down"}
	}

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
		if groupRef != "" {
			match := false
			for _, ref := range e.Groups {
				if ref.ID == groupRef {
					match = true
				}
			}
			if !match {
				continue
			}
		}
		copied := *e
		result = append(result, &copied)
	}
	return result, nil
}

func (g *fakeGateway) AddReference(ctx context.Context, entityID, property, refID string, cred entu.Credential) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.failAll {
		return &entu.APIError{Op: "add_reference", StatusCode: 503, Message: "down"}
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

func (g *fakeGateway) parentsOf(id string) []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	e, ok := g.entities[id]
	if !ok {
		return nil
	}
	var ids []string
	for _, ref := range e.Parents {
		ids = append(ids, ref.ID)
	}
	return ids
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

func personEntity(id string) *entu.Entity {
	return &entu.Entity{ID: id, Kind: entu.KindPerson}
}

// classGateway returns group g1 with tasks t1, t2 and member person p1.
func classGateway() *fakeGateway {
	return newFakeGateway(
		&entu.Entity{ID: "g1", Kind: entu.KindGroup},
		&entu.Entity{ID: "t1", Kind: entu.KindTask, Groups: []entu.Ref{{ID: "g1", Kind: entu.KindGroup}}},
		&entu.Entity{ID: "t2", Kind: entu.KindTask, Groups: []entu.Ref{{ID: "g1", Kind: entu.KindGroup}}},
		&entu.Entity{ID: "p1", Kind: entu.KindPerson, Parents: []entu.Ref{{ID: "g1", Kind: entu.KindGroup}}},
	)
}

func newTestServer(gw sync.Gateway, mutate ...func(*Options)) http.Handler {
	logger := observability.NewLogger(observability.ErrorLevel, io.Discard)
	svc := sync.NewService(sync.ServiceConfig{
		Queue:       sync.NewQueue(),
		Resolver:    sync.NewResolver(gw, logger),
		GrantEngine: sync.NewGrantEngine(gw, logger, nil, sync.GrantEngineConfig{}),
		PassLog:     sync.NewPassLogStore(100),
		SettleDelay: time.Millisecond,
	}, logger, nil)

	opts := Options{
		SyncService: svc,
		Gateway:     gw,
		Logger:      logger,
		Secrets:     config.StaticSecret(testSecret),
	}
	for _, m := range mutate {
		m(&opts)
	}
	return NewServer(opts).Handler()
}
