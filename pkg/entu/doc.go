// Package entu is the typed HTTP gateway to the Entu entity-graph CMS.
//
// # Overview
//
// All traffic to the CMS goes through Client: fetching entities, searching by
// filter, and appending reference properties. The raw property shapes the API
// sends are decoded exactly once, at this boundary, into the canonical Entity
// struct; code above this package never re-parses property lists.
//
// # Attribution
//
// Every call takes a Credential (the acting user's bearer token) so writes
// show up in the CMS audit trail under the human who triggered them, not a
// service account.
//
// # Usage Example
//
//	client, err := entu.NewClient("https://entu.app/api", "museum")
//	if err != nil { ... }
//
//	entity, err := client.GetEntity(ctx, entityID, cred)
//	if err != nil { ... }
//	if entity.Kind == entu.KindPerson {
//		for _, parent := range entity.Parents { ... }
//	}
//
//	// Idempotent grant: check before appending.
//	if !task.HasExpander(personID) {
//		err = client.AddReference(ctx, task.ID, entu.PropExpander, personID, cred)
//	}
//
// # Errors
//
// Non-2xx responses surface as *APIError; use IsNotFound / IsUnauthorized to
// classify. Transport failures come back wrapped with the failing operation.
package entu
