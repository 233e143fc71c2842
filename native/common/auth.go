package common

import (
	"errors"
	"fmt"

	"accumreg/core/identity"
	"accumreg/core/types"
	"accumreg/crypto"
	"accumreg/ledger"
)

var (
	// ErrMissingAuthorization is returned when neither a signing key nor a
	// precomputed signature is supplied.
	ErrMissingAuthorization = errors.New("auth: signing key or signature required")
	// ErrAmbiguousAuthorization is returned when both a signing key and a
	// precomputed signature are supplied.
	ErrAmbiguousAuthorization = errors.New("auth: signing key and signature are mutually exclusive")
)

// Authorization proves that a DID controller approved a call. It is either a
// Keypair that signs the call digest or a PrecomputedSignature produced
// offline over the same digest.
type Authorization interface {
	// Signer is the DID on whose behalf the call is made.
	Signer() identity.Identity
	authorize(digest []byte) ([]byte, error)
}

// Keypair signs calls with a controller key of DID.
type Keypair struct {
	DID identity.Identity
	Key *crypto.PrivateKey
}

// Signer implements Authorization.
func (k Keypair) Signer() identity.Identity { return k.DID }

func (k Keypair) authorize(digest []byte) ([]byte, error) {
	if k.Key == nil || k.Key.PrivateKey == nil {
		return nil, ErrMissingAuthorization
	}
	return k.Key.Sign(digest)
}

// PrecomputedSignature attaches a signature produced elsewhere over
// types.SigningDigest of the call. Nonce is the signer nonce the signature
// commits to; zero means the next nonce on the ledger.
type PrecomputedSignature struct {
	DID       identity.Identity
	Nonce     uint64
	Signature []byte
}

// Signer implements Authorization.
func (p PrecomputedSignature) Signer() identity.Identity { return p.DID }

func (p PrecomputedSignature) authorize([]byte) ([]byte, error) {
	if len(p.Signature) == 0 {
		return nil, ErrMissingAuthorization
	}
	return append([]byte(nil), p.Signature...), nil
}

// NewAuthorization picks the authorization variant from optional inputs.
// Exactly one of key and signature must be present.
func NewAuthorization(did identity.Identity, key *crypto.PrivateKey, signature []byte) (Authorization, error) {
	hasKey := key != nil && key.PrivateKey != nil
	hasSig := len(signature) > 0
	switch {
	case hasKey && hasSig:
		return nil, ledger.Invalid(ErrAmbiguousAuthorization)
	case hasKey:
		return Keypair{DID: did, Key: key}, nil
	case hasSig:
		return PrecomputedSignature{DID: did, Signature: signature}, nil
	default:
		return nil, ledger.Invalid(ErrMissingAuthorization)
	}
}

// Seal encodes args into a module call carrying nonce, sets the signer from
// auth and attaches the signature. The authorization is resolved exactly
// once, here.
func Seal(module, method string, args interface{}, nonce uint64, auth Authorization) (*types.Call, error) {
	if auth == nil {
		return nil, ledger.Invalid(ErrMissingAuthorization)
	}
	signer := auth.Signer()
	if signer.IsZero() {
		return nil, ledger.Invalid(fmt.Errorf("%w: signer DID required", ErrMissingAuthorization))
	}
	call, err := types.NewCall(module, method, signer, nonce, args)
	if err != nil {
		return nil, err
	}
	digest, err := call.SigningDigest()
	if err != nil {
		return nil, err
	}
	sig, err := auth.authorize(digest)
	if err != nil {
		if errors.Is(err, ErrMissingAuthorization) {
			return nil, ledger.Invalid(err)
		}
		return nil, fmt.Errorf("auth: sign %s.%s: %w", module, method, err)
	}
	call.Signature = sig
	return call, nil
}
