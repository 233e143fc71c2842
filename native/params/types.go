package params

import (
	"errors"
	"fmt"

	"accumreg/core/identity"
	"accumreg/ledger"
)

// CurveType identifies the pairing curve parameters and keys are defined over.
type CurveType uint8

const (
	// CurveUnspecified selects the default curve.
	CurveUnspecified CurveType = iota
	// CurveBls12381 is the only supported curve.
	CurveBls12381
)

// DefaultCurve is used when no curve is specified.
const DefaultCurve = CurveBls12381

func (c CurveType) String() string {
	switch c {
	case CurveUnspecified:
		return "unspecified"
	case CurveBls12381:
		return "Bls12381"
	default:
		return fmt.Sprintf("curve(%d)", uint8(c))
	}
}

var (
	// ErrMissingBytes is returned when params or key bytes are absent.
	ErrMissingBytes = errors.New("params: bytes required")
	// ErrUnsupportedCurve is returned for any curve other than Bls12381.
	ErrUnsupportedCurve = errors.New("params: unsupported curve")
	// ErrNoParamsReference is returned when params resolution is requested for
	// a public key that does not reference any params.
	ErrNoParamsReference = errors.New("params: public key has no params reference")
	// ErrDanglingParamsReference is returned when a public key references
	// params that no longer exist.
	ErrDanglingParamsReference = errors.New("params: referenced params not found")
	// ErrUnauthorized is returned by the engine when the signer is not the owner.
	ErrUnauthorized = errors.New("params: signer is not the owner")
	// ErrNotFound is returned by the engine when removing a missing entity.
	ErrNotFound = errors.New("params: entity not found")
)

// Params is a set of signature or accumulator parameters.
type Params struct {
	// Ref is populated on reads.
	Ref   identity.Reference `json:"ref"`
	Bytes []byte             `json:"bytes"`
	Curve CurveType          `json:"curveType"`
	// Label is nil when the params carry no label.
	Label []byte `json:"label,omitempty"`
}

// PublicKey is a public key optionally generated against a Params entity,
// possibly owned by a different identity.
type PublicKey struct {
	// Ref is populated on reads.
	Ref       identity.Reference  `json:"ref"`
	Bytes     []byte              `json:"bytes"`
	Curve     CurveType           `json:"curveType"`
	ParamsRef *identity.Reference `json:"paramsRef,omitempty"`
	// Params is set when the key was read with params resolution.
	Params *Params `json:"params,omitempty"`
}

// Counters are the last counters assigned to an owner's params and keys.
// Counters only grow; removal leaves a hole.
type Counters struct {
	Params uint64 `json:"params"`
	Keys   uint64 `json:"keys"`
}

func resolveCurve(c CurveType) (CurveType, error) {
	switch c {
	case CurveUnspecified:
		return DefaultCurve, nil
	case CurveBls12381:
		return c, nil
	default:
		return 0, fmt.Errorf("%w: %s", ErrUnsupportedCurve, c)
	}
}

// PrepareParams validates and normalises a params payload. A nil label means
// no label.
func PrepareParams(bytes []byte, curve CurveType, label []byte) (*Params, error) {
	if len(bytes) == 0 {
		return nil, ledger.Invalid(ErrMissingBytes)
	}
	resolved, err := resolveCurve(curve)
	if err != nil {
		return nil, ledger.Invalid(err)
	}
	p := &Params{Bytes: append([]byte(nil), bytes...), Curve: resolved}
	if label != nil {
		p.Label = append([]byte{}, label...)
	}
	return p, nil
}

// PreparePublicKey validates and normalises a public key payload. paramsRef is
// optional; when present it is run through identity.ParseRef.
func PreparePublicKey(bytes []byte, curve CurveType, paramsRef interface{}) (*PublicKey, error) {
	if len(bytes) == 0 {
		return nil, ledger.Invalid(ErrMissingBytes)
	}
	resolved, err := resolveCurve(curve)
	if err != nil {
		return nil, ledger.Invalid(err)
	}
	pk := &PublicKey{Bytes: append([]byte(nil), bytes...), Curve: resolved}
	if ptr, ok := paramsRef.(*identity.Reference); ok && ptr == nil {
		paramsRef = nil
	}
	if paramsRef != nil {
		ref, err := identity.ParseRef(paramsRef)
		if err != nil {
			return nil, ledger.Invalid(err)
		}
		pk.ParamsRef = &ref
	}
	return pk, nil
}
