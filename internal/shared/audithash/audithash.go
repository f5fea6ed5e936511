// Package audithash computes the content hash stored on every snapshot and
// timeline event. The hash is a tamper-detection seal, not a secret: sha256
// over the canonical payload bytes, a separator, and the retention tag.
package audithash

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"

	"warga/internal/shared/canonical"
)

// Digest is a lowercase hex sha256 digest.
type Digest = string

// ErrIntegrity marks a record whose hash could not be recomputed from its own
// fields. Reads must fail on it rather than hand back an un-auditable row.
var ErrIntegrity = errors.New("audit hash integrity failure")

// Compute hashes the canonical form of payload under the given retention tag.
// Pure: no clock, no randomness. The retention tag acts as a domain separator
// so records in different retention groups never share a hash preimage.
func Compute(payload any, retentionTag string) (Digest, error) {
	body, err := canonical.Marshal(payload)
	if err != nil {
		return "", err
	}
	h := sha256.New()
	h.Write(body)
	h.Write([]byte{'\n'})
	h.Write([]byte(retentionTag))
	return hex.EncodeToString(h.Sum(nil)), nil
}

// Verify recomputes the digest and compares it against the stored value.
func Verify(payload any, retentionTag string, stored Digest) error {
	got, err := Compute(payload, retentionTag)
	if err != nil {
		return err
	}
	if got != stored {
		return fmt.Errorf("%w: digest mismatch", ErrIntegrity)
	}
	return nil
}
