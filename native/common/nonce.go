package common

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"

	"accumreg/core/identity"
)

const (
	// SystemModule owns ledger state that belongs to no registered module.
	SystemModule = "system"
	// MapNonces maps a signer DID to the nonce of its last applied call.
	MapNonces = "nonce"
)

var (
	// ErrNonceMismatch is returned when a call's nonce is not exactly one
	// above the signer's last applied nonce.
	ErrNonceMismatch = errors.New("nonce mismatch")
	errNonceEncoding = errors.New("nonce: stored value must be 8 bytes")
)

// MapReader reads single-key ledger maps. ledger.Adapter satisfies it.
type MapReader interface {
	ReadMap(ctx context.Context, module, name string, key []byte) ([]byte, bool, error)
}

// EncodeNonce returns the stored form of a nonce.
func EncodeNonce(n uint64) []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, n)
	return buf
}

// DecodeNonce parses a stored nonce.
func DecodeNonce(raw []byte) (uint64, error) {
	if len(raw) != 8 {
		return 0, errNonceEncoding
	}
	return binary.BigEndian.Uint64(raw), nil
}

// CheckNonce validates a call nonce against the signer's last applied one.
func CheckNonce(last, got uint64) error {
	if got != last+1 {
		return fmt.Errorf("%w: want %d, got %d", ErrNonceMismatch, last+1, got)
	}
	return nil
}

// LastNonce reads the nonce of the last call applied for did. A DID that
// never submitted a call reports zero.
func LastNonce(ctx context.Context, r MapReader, did identity.Identity) (uint64, error) {
	if r == nil {
		return 0, errors.New("nonce: ledger required")
	}
	raw, ok, err := r.ReadMap(ctx, SystemModule, MapNonces, did.Bytes())
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	return DecodeNonce(raw)
}

// ResolveNonce returns the nonce a call authorized by auth must carry. A
// precomputed signature commits to its own nonce; otherwise the next nonce is
// read from the ledger.
func ResolveNonce(ctx context.Context, r MapReader, auth Authorization) (uint64, error) {
	if pre, ok := auth.(PrecomputedSignature); ok && pre.Nonce != 0 {
		return pre.Nonce, nil
	}
	if auth == nil {
		return 0, ErrMissingAuthorization
	}
	last, err := LastNonce(ctx, r, auth.Signer())
	if err != nil {
		return 0, fmt.Errorf("read nonce of %s: %w", auth.Signer(), err)
	}
	return last + 1, nil
}
