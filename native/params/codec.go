package params

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"accumreg/core/identity"
)

// StoredParams is the ledger encoding of Params. Optional fields carry an
// explicit presence flag so that absent and empty stay distinct.
type StoredParams struct {
	Bytes    []byte
	Curve    uint8
	HasLabel bool
	Label    []byte
}

// StoredPublicKey is the ledger encoding of PublicKey.
type StoredPublicKey struct {
	Bytes        []byte
	Curve        uint8
	HasParamsRef bool
	ParamsRef    identity.Reference
}

// StoredCounters is the ledger encoding of Counters.
type StoredCounters struct {
	Params uint64
	Keys   uint64
}

// AddParamsArgs are the arguments of MethodAddParams.
type AddParamsArgs struct {
	Owner  identity.Identity
	Params StoredParams
}

// AddPublicKeyArgs are the arguments of MethodAddPublicKey.
type AddPublicKeyArgs struct {
	Owner identity.Identity
	Key   StoredPublicKey
}

// RemoveArgs are the arguments of MethodRemoveParams and MethodRemovePublicKey.
type RemoveArgs struct {
	Owner   identity.Identity
	Counter uint64
}

func (p *Params) stored() StoredParams {
	out := StoredParams{Bytes: p.Bytes, Curve: uint8(p.Curve)}
	if p.Label != nil {
		out.HasLabel = true
		out.Label = p.Label
	}
	return out
}

func (s StoredParams) params(ref identity.Reference) *Params {
	p := &Params{Ref: ref, Bytes: s.Bytes, Curve: CurveType(s.Curve)}
	if s.HasLabel {
		p.Label = append([]byte{}, s.Label...)
	}
	return p
}

func (k *PublicKey) stored() StoredPublicKey {
	out := StoredPublicKey{Bytes: k.Bytes, Curve: uint8(k.Curve)}
	if k.ParamsRef != nil {
		out.HasParamsRef = true
		out.ParamsRef = *k.ParamsRef
	}
	return out
}

func (s StoredPublicKey) publicKey(ref identity.Reference) *PublicKey {
	k := &PublicKey{Ref: ref, Bytes: s.Bytes, Curve: CurveType(s.Curve)}
	if s.HasParamsRef {
		paramsRef := s.ParamsRef
		k.ParamsRef = &paramsRef
	}
	return k
}

func decodeParams(raw []byte, ref identity.Reference) (*Params, error) {
	var stored StoredParams
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("params: decode params %s: %w", ref, err)
	}
	return stored.params(ref), nil
}

func decodePublicKey(raw []byte, ref identity.Reference) (*PublicKey, error) {
	var stored StoredPublicKey
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("params: decode public key %s: %w", ref, err)
	}
	return stored.publicKey(ref), nil
}

func decodeCounters(raw []byte) (Counters, error) {
	var stored StoredCounters
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return Counters{}, fmt.Errorf("params: decode counters: %w", err)
	}
	return Counters{Params: stored.Params, Keys: stored.Keys}, nil
}
