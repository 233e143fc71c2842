package accumulator

import (
	"crypto/rand"
	"fmt"

	"lukechampine.com/blake3"

	"accumreg/core/identity"
)

const idDomain = "accumreg/accumulator-id/v1"

// DeriveID deterministically derives an accumulator id from the owner and a
// caller label.
func DeriveID(owner identity.Identity, label string) (ID, error) {
	if owner.IsZero() {
		return ID{}, fmt.Errorf("%w: owner required", ErrInvalidID)
	}
	h := blake3.New(32, nil)
	h.Write([]byte(idDomain))
	h.Write(owner.Bytes())
	h.Write([]byte(label))
	var id ID
	copy(id[:], h.Sum(nil))
	return id, nil
}

// RandomID returns a fresh random accumulator id.
func RandomID() (ID, error) {
	var id ID
	for id.IsZero() {
		if _, err := rand.Read(id[:]); err != nil {
			return ID{}, fmt.Errorf("accumulator: random id: %w", err)
		}
	}
	return id, nil
}
