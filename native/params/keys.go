package params

import (
	"encoding/binary"

	"accumreg/core/identity"
)

const (
	// MapCounters holds the per-owner params and public key counters.
	MapCounters = "Counters"
	// MapParams holds parameters keyed by (owner, counter).
	MapParams = "Params"
	// MapPublicKeys holds public keys keyed by (owner, counter).
	MapPublicKeys = "PublicKeys"
)

const (
	MethodAddParams       = "addParams"
	MethodRemoveParams    = "removeParams"
	MethodAddPublicKey    = "addPublicKey"
	MethodRemovePublicKey = "removePublicKey"
)

// OwnerKey encodes the single-map key for an owner.
func OwnerKey(owner identity.Identity) []byte {
	return owner.Bytes()
}

// CounterKey encodes the second key of the double maps.
func CounterKey(counter uint64) []byte {
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], counter)
	return buf[:]
}
