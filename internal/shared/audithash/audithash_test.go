package audithash

import (
	"errors"
	"testing"

	"warga/internal/shared/canonical"
)

func samplePayload() canonical.VaultSnapshotPayload {
	return canonical.VaultSnapshotPayload{
		EntryID:       "entry-1",
		OwnerID:       "user-1",
		OwnerName:     "Sari",
		State:         "sealed",
		Title:         "deposition notes",
		SealedPayload: "ciphertext",
		Trustees:      []string{"user-2"},
		ExpiresAtMs:   1900000000000,
		CreatedAtMs:   1700000000000,
		UpdatedAtMs:   1700000001000,
		RequestID:     "req-1",
		CorrelationID: "corr-1",
	}
}

func TestComputeIsDeterministic(t *testing.T) {
	first, err := Compute(samplePayload(), "vault:standard")
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	second, err := Compute(samplePayload(), "vault:standard")
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if first != second {
		t.Fatalf("digests differ: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("digest length = %d, want 64 hex chars", len(first))
	}
}

func TestComputeIsFieldSensitive(t *testing.T) {
	base, err := Compute(samplePayload(), "vault:standard")
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}

	changed := samplePayload()
	changed.Title = "deposition notes v2"
	got, err := Compute(changed, "vault:standard")
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if got == base {
		t.Fatal("digest unchanged after payload field change")
	}
}

func TestRetentionTagIsPartOfPreimage(t *testing.T) {
	standard, err := Compute(samplePayload(), "vault:standard")
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	legalHold, err := Compute(samplePayload(), "vault:legal-hold")
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if standard == legalHold {
		t.Fatal("digest identical across retention tags")
	}
}

func TestVerify(t *testing.T) {
	digest, err := Compute(samplePayload(), "vault:standard")
	if err != nil {
		t.Fatalf("Compute returned error: %v", err)
	}
	if err := Verify(samplePayload(), "vault:standard", digest); err != nil {
		t.Fatalf("Verify rejected a valid digest: %v", err)
	}
	if err := Verify(samplePayload(), "vault:standard", "deadbeef"); !errors.Is(err, ErrIntegrity) {
		t.Fatalf("error = %v, want ErrIntegrity", err)
	}
}
