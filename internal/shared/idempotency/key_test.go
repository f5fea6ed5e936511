package idempotency

import "testing"

func TestActorKey(t *testing.T) {
	if got := ActorKey("user-1", "req-1"); got != "actor/user-1/req-1" {
		t.Fatalf("ActorKey = %q", got)
	}
}

func TestEntityKey(t *testing.T) {
	if got := EntityKey("entry-1", "req-1"); got != "entity/entry-1/req-1" {
		t.Fatalf("EntityKey = %q", got)
	}
}

func TestKeysTrimWhitespace(t *testing.T) {
	if got := ActorKey(" user-1 ", " req-1 "); got != "actor/user-1/req-1" {
		t.Fatalf("ActorKey with padding = %q", got)
	}
}

func TestScopesNeverCollide(t *testing.T) {
	// The same raw id/request pair under different scopes must stay distinct.
	if ActorKey("x", "r") == EntityKey("x", "r") {
		t.Fatal("actor and entity keys collided")
	}
}
