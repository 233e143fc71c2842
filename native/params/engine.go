package params

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"accumreg/core/identity"
	"accumreg/core/types"
	"accumreg/native/common"
)

// Engine applies registry calls on the ledger side. One engine serves one
// module namespace.
type Engine struct {
	module string
}

// NewEngine constructs a registry engine for module.
func NewEngine(module string) *Engine {
	return &Engine{module: module}
}

// Name implements common.Module.
func (e *Engine) Name() string { return e.module }

// Handles reports whether method is a registry method.
func (e *Engine) Handles(method string) bool {
	switch method {
	case MethodAddParams, MethodRemoveParams, MethodAddPublicKey, MethodRemovePublicKey:
		return true
	}
	return false
}

// Apply implements common.Module.
func (e *Engine) Apply(_ common.ExecContext, st common.State, call *types.Call) ([]*types.Event, error) {
	switch call.Method {
	case MethodAddParams:
		var args AddParamsArgs
		if err := call.DecodeArgs(&args); err != nil {
			return nil, err
		}
		if args.Owner != call.Signer {
			return nil, ErrUnauthorized
		}
		if len(args.Params.Bytes) == 0 {
			return nil, ErrMissingBytes
		}
		if CurveType(args.Params.Curve) != CurveBls12381 {
			return nil, ErrUnsupportedCurve
		}
		ref, err := e.insert(st, args.Owner, MapParams, &args.Params, func(c *StoredCounters) uint64 {
			c.Params++
			return c.Params
		})
		if err != nil {
			return nil, err
		}
		return []*types.Event{NewReferenceEvent(e.module, EventParamsAdded, ref)}, nil

	case MethodAddPublicKey:
		var args AddPublicKeyArgs
		if err := call.DecodeArgs(&args); err != nil {
			return nil, err
		}
		if args.Owner != call.Signer {
			return nil, ErrUnauthorized
		}
		if len(args.Key.Bytes) == 0 {
			return nil, ErrMissingBytes
		}
		if CurveType(args.Key.Curve) != CurveBls12381 {
			return nil, ErrUnsupportedCurve
		}
		if args.Key.HasParamsRef {
			if err := args.Key.ParamsRef.Validate(); err != nil {
				return nil, err
			}
			_, ok, err := st.Get(MapParams, OwnerKey(args.Key.ParamsRef.Owner), CounterKey(args.Key.ParamsRef.Counter))
			if err != nil {
				return nil, err
			}
			if !ok {
				return nil, fmt.Errorf("%w: %s", ErrDanglingParamsReference, args.Key.ParamsRef)
			}
		}
		ref, err := e.insert(st, args.Owner, MapPublicKeys, &args.Key, func(c *StoredCounters) uint64 {
			c.Keys++
			return c.Keys
		})
		if err != nil {
			return nil, err
		}
		return []*types.Event{NewReferenceEvent(e.module, EventPublicKeyAdded, ref)}, nil

	case MethodRemoveParams:
		ref, err := e.remove(st, call, MapParams)
		if err != nil {
			return nil, err
		}
		return []*types.Event{NewReferenceEvent(e.module, EventParamsRemoved, ref)}, nil

	case MethodRemovePublicKey:
		ref, err := e.remove(st, call, MapPublicKeys)
		if err != nil {
			return nil, err
		}
		return []*types.Event{NewReferenceEvent(e.module, EventPublicKeyRemoved, ref)}, nil
	}
	return nil, fmt.Errorf("%s: %w %q", e.module, common.ErrUnknownMethod, call.Method)
}

func (e *Engine) insert(st common.State, owner identity.Identity, mapName string, value interface{}, next func(*StoredCounters) uint64) (identity.Reference, error) {
	counters, err := LoadCounters(st, owner)
	if err != nil {
		return identity.Reference{}, err
	}
	counter := next(&counters)
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return identity.Reference{}, err
	}
	if err := st.Put(mapName, encoded, OwnerKey(owner), CounterKey(counter)); err != nil {
		return identity.Reference{}, err
	}
	rawCounters, err := rlp.EncodeToBytes(&counters)
	if err != nil {
		return identity.Reference{}, err
	}
	if err := st.Put(MapCounters, rawCounters, OwnerKey(owner)); err != nil {
		return identity.Reference{}, err
	}
	return identity.Reference{Owner: owner, Counter: counter}, nil
}

func (e *Engine) remove(st common.State, call *types.Call, mapName string) (identity.Reference, error) {
	var args RemoveArgs
	if err := call.DecodeArgs(&args); err != nil {
		return identity.Reference{}, err
	}
	if args.Owner != call.Signer {
		return identity.Reference{}, ErrUnauthorized
	}
	ref, err := identity.NewReference(args.Owner, args.Counter)
	if err != nil {
		return identity.Reference{}, err
	}
	_, ok, err := st.Get(mapName, OwnerKey(ref.Owner), CounterKey(ref.Counter))
	if err != nil {
		return identity.Reference{}, err
	}
	if !ok {
		return identity.Reference{}, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if err := st.Delete(mapName, OwnerKey(ref.Owner), CounterKey(ref.Counter)); err != nil {
		return identity.Reference{}, err
	}
	return ref, nil
}

// LoadCounters reads an owner's counters from module state.
func LoadCounters(st common.State, owner identity.Identity) (StoredCounters, error) {
	raw, ok, err := st.Get(MapCounters, OwnerKey(owner))
	if err != nil || !ok {
		return StoredCounters{}, err
	}
	var counters StoredCounters
	if err := rlp.DecodeBytes(raw, &counters); err != nil {
		return StoredCounters{}, err
	}
	return counters, nil
}

// LoadPublicKey reads a public key from module state.
func LoadPublicKey(st common.State, ref identity.Reference) (*StoredPublicKey, error) {
	raw, ok, err := st.Get(MapPublicKeys, OwnerKey(ref.Owner), CounterKey(ref.Counter))
	if err != nil || !ok {
		return nil, err
	}
	var key StoredPublicKey
	if err := rlp.DecodeBytes(raw, &key); err != nil {
		return nil, err
	}
	return &key, nil
}
