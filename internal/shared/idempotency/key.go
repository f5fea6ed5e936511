// Package idempotency defines the dedup key forms used by every mutating
// operation. A key maps to at most one successful outcome, ever; replaying a
// request with the same key returns the stored outcome without doing work.
//
// First write wins: a replay that carries a different payload under the same
// key is NOT detected here and receives the original result. Callers that
// intend a genuinely new operation must send a fresh request id.
package idempotency

import "strings"

// ActorKey scopes a request id to the actor who issued it. Used for creations,
// where the caller does not yet know the generated entity id.
func ActorKey(actorID, requestID string) string {
	return "actor/" + strings.TrimSpace(actorID) + "/" + strings.TrimSpace(requestID)
}

// EntityKey scopes a request id to an already-identified entity. Used for
// updates, and for retried creations that carry a caller-chosen id.
func EntityKey(entityID, requestID string) string {
	return "entity/" + strings.TrimSpace(entityID) + "/" + strings.TrimSpace(requestID)
}
