package canonical

import (
	"bytes"
	"testing"
)

func TestMarshalKeyOrderIsStable(t *testing.T) {
	payload := EventPayload{
		EventID:      "ev-1",
		EntityID:     "entry-1",
		EventType:    "sealed",
		ActorID:      "user-1",
		ActorName:    "Sari",
		RequestID:    "req-1",
		OccurredAtMs: 1700000000000,
		Metadata:     map[string]string{"b": "2", "a": "1"},
	}

	first, err := Marshal(payload)
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	for i := 0; i < 20; i++ {
		again, err := Marshal(payload)
		if err != nil {
			t.Fatalf("Marshal returned error: %v", err)
		}
		if !bytes.Equal(first, again) {
			t.Fatalf("canonical bytes unstable:\n%s\n%s", first, again)
		}
	}
}

func TestMarshalSortsObjectKeys(t *testing.T) {
	out, err := Marshal(map[string]int{"zeta": 1, "alpha": 2})
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	if string(out) != `{"alpha":2,"zeta":1}` {
		t.Fatalf("canonical form = %s", out)
	}
}

func TestMarshalKeepsAuditedZeroValues(t *testing.T) {
	out, err := Marshal(SiagaSnapshotPayload{BroadcastID: "br-1"})
	if err != nil {
		t.Fatalf("Marshal returned error: %v", err)
	}
	for _, key := range []string{`"author_id"`, `"severity"`, `"created_at_ms"`} {
		if !bytes.Contains(out, []byte(key)) {
			t.Fatalf("canonical form dropped %s: %s", key, out)
		}
	}
}
