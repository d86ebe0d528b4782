// Package sync implements the webhook-driven permission synchronization
// pipeline.
//
// # Overview
//
// An entity edit in the CMS fires a webhook. After validation the event
// enters the Queue, which guarantees at most one synchronization pass per
// entity id at a time while coalescing bursts into a single follow-up run.
// A pass resolves the edited entity's relationships (Resolver), then
// idempotently grants every resulting (task, person) permission pair
// (GrantEngine) by appending to task _expander lists. Service ties the
// stages together and runs the reprocess loop; PassLogStore keeps a capped
// in-memory window of past passes for the inspection endpoints.
//
// All state is in-memory and best-effort. A crashed or failed pass is not
// retried internally; the next webhook for the entity starts fresh.
package sync
