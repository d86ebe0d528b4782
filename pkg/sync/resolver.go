package sync

import (
	"context"
	"fmt"
	"net/url"

	"github.com/avastusrada/permsync/pkg/entu"
	"github.com/avastusrada/permsync/pkg/observability"
)

// Gateway is the slice of the CMS client the synchronization core needs.
// *entu.Client satisfies it; tests substitute an in-memory fake.
type Gateway interface {
	GetEntity(ctx context.Context, id string, cred entu.Credential) (*entu.Entity, error)
	SearchEntities(ctx context.Context, query url.Values, cred entu.Credential) ([]*entu.Entity, error)
	AddReference(ctx context.Context, entityID, property, refID string, cred entu.Credential) error
	EntityKind(ctx context.Context, id string, cred entu.Credential) (string, error)
}

// Resolution is the outcome of classifying an edited entity and expanding its
// relationships: the task and person ids whose permission pairs need to be
// (re)granted. An empty Kind means the entity type is not one this service
// synchronizes and the pass is a no-op.
type Resolution struct {
	Kind      string
	TaskIDs   []string
	PersonIDs []string
}

// Empty reports whether the resolution produced no grant work.
func (r *Resolution) Empty() bool {
	return len(r.TaskIDs) == 0 || len(r.PersonIDs) == 0
}

// Resolver expands an edited entity into the set of related task/person ids.
type Resolver struct {
	gateway Gateway
	logger  *observability.Logger
}

// NewResolver creates a resolver over the given gateway.
func NewResolver(gateway Gateway, logger *observability.Logger) *Resolver {
	return &Resolver{
		gateway: gateway,
		logger:  logger.WithComponent("resolver"),
	}
}

// Resolve fetches the entity and expands its relationships. All gateway calls
// use the actor's credential so the CMS audit trail attributes the resulting
// reads and writes to the user whose edit triggered the pass.
func (r *Resolver) Resolve(ctx context.Context, entityID string, cred entu.Credential) (*Resolution, error) {
	entity, err := r.gateway.GetEntity(ctx, entityID, cred)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", entityID, err)
	}

	switch entity.Kind {
	case entu.KindPerson:
		return r.resolvePerson(ctx, entity, cred)
	case entu.KindTask:
		return r.resolveTask(ctx, entity, cred)
	default:
		// Webhooks fire for every entity type in the account. Types outside
		// the person/task graph resolve empty rather than erroring.
		r.logger.WithField("entity_id", entityID).
			WithField("kind", entity.Kind).
			Debug("Entity kind not synchronized, skipping")
		return &Resolution{Kind: entity.Kind}, nil
	}
}

// resolvePerson collects every task belonging to any group the person is a
// child of. The person is the sole grant target.
func (r *Resolver) resolvePerson(ctx context.Context, person *entu.Entity, cred entu.Credential) (*Resolution, error) {
	res := &Resolution{
		Kind:      entu.KindPerson,
		PersonIDs: []string{person.ID},
	}

	seen := make(map[string]struct{})
	for _, parent := range person.Parents {
		kind := parent.Kind
		if kind == "" {
			var err error
			kind, err = r.gateway.EntityKind(ctx, parent.ID, cred)
			if err != nil {
				return nil, fmt.Errorf("resolve %s: classify parent %s: %w", person.ID, parent.ID, err)
			}
		}
		if kind != entu.KindGroup {
			continue
		}

		tasks, err := r.tasksOfGroup(ctx, parent.ID, cred)
		if err != nil {
			return nil, fmt.Errorf("resolve %s: %w", person.ID, err)
		}
		for _, taskID := range tasks {
			if _, ok := seen[taskID]; ok {
				continue
			}
			seen[taskID] = struct{}{}
			res.TaskIDs = append(res.TaskIDs, taskID)
		}
	}
	return res, nil
}

// resolveTask collects every person in the task's group. The task is the sole
// grant target.
func (r *Resolver) resolveTask(ctx context.Context, task *entu.Entity, cred entu.Credential) (*Resolution, error) {
	res := &Resolution{
		Kind:    entu.KindTask,
		TaskIDs: []string{task.ID},
	}
	if len(task.Groups) == 0 {
		r.logger.WithField("entity_id", task.ID).Debug("Task has no group assignment")
		return res, nil
	}

	groupID := task.Groups[0].ID
	persons, err := r.gateway.SearchEntities(ctx, url.Values{
		"_type.string":      {entu.KindPerson},
		"_parent.reference": {groupID},
	}, cred)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: persons of group %s: %w", task.ID, groupID, err)
	}
	for _, p := range persons {
		res.PersonIDs = append(res.PersonIDs, p.ID)
	}
	return res, nil
}

func (r *Resolver) tasksOfGroup(ctx context.Context, groupID string, cred entu.Credential) ([]string, error) {
	tasks, err := r.gateway.SearchEntities(ctx, url.Values{
		"_type.string":    {entu.KindTask},
		"grupp.reference": {groupID},
	}, cred)
	if err != nil {
		return nil, fmt.Errorf("tasks of group %s: %w", groupID, err)
	}
	ids := make([]string, 0, len(tasks))
	for _, t := range tasks {
		ids = append(ids, t.ID)
	}
	return ids, nil
}
