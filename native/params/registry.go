package params

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"accumreg/core/identity"
	"accumreg/core/types"
	"accumreg/ledger"
	"accumreg/native/common"
)

// Module names of the ledger modules that carry a params/key registry.
const (
	ModuleOffchainSignatures = "offchainSignatures"
)

// Registry stores versioned params and public keys indexed by
// (owner, counter) inside one ledger module. Each owner's counters grow
// monotonically; removed entities leave holes that are never reused.
type Registry struct {
	module string
	ledger ledger.Adapter
	logger *slog.Logger
}

// Option customises a Registry.
type Option func(*Registry)

// WithLogger overrides the logger used for submissions.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Registry) {
		if logger != nil {
			r.logger = logger
		}
	}
}

// NewRegistry binds a registry to the given ledger module.
func NewRegistry(module string, adapter ledger.Adapter, opts ...Option) *Registry {
	r := &Registry{module: module, ledger: adapter, logger: slog.Default()}
	for _, opt := range opts {
		if opt != nil {
			opt(r)
		}
	}
	return r
}

// Module returns the ledger module the registry is bound to.
func (r *Registry) Module() string {
	return r.module
}

// Ledger returns the adapter the registry reads from and submits to.
func (r *Registry) Ledger() ledger.Adapter {
	return r.ledger
}

// Logger returns the logger the registry reports submissions to.
func (r *Registry) Logger() *slog.Logger {
	return r.logger
}

// --- call builders ---

// SealCall signs a call to method of the registry's module. The signer nonce
// comes from auth when it is a precomputed signature and from the ledger
// otherwise.
func (r *Registry) SealCall(ctx context.Context, method string, args interface{}, auth common.Authorization) (*types.Call, error) {
	if auth == nil {
		return nil, ledger.Invalid(common.ErrMissingAuthorization)
	}
	nonce, err := common.ResolveNonce(ctx, r.ledger, auth)
	if err != nil {
		return nil, err
	}
	return common.Seal(r.module, method, args, nonce, auth)
}

// BuildAddParamsCall prepares a signed call storing params under the owner's
// next counter. It does not submit the call.
func (r *Registry) BuildAddParamsCall(ctx context.Context, p *Params, owner identity.Identity, auth common.Authorization) (*types.Call, error) {
	if p == nil || len(p.Bytes) == 0 {
		return nil, ledger.Invalid(ErrMissingBytes)
	}
	curve, err := resolveCurve(p.Curve)
	if err != nil {
		return nil, ledger.Invalid(err)
	}
	stored := p.stored()
	stored.Curve = uint8(curve)
	return r.SealCall(ctx, MethodAddParams, &AddParamsArgs{Owner: owner, Params: stored}, auth)
}

// BuildAddPublicKeyCall prepares a signed call storing a public key under the
// owner's next key counter.
func (r *Registry) BuildAddPublicKeyCall(ctx context.Context, k *PublicKey, owner identity.Identity, auth common.Authorization) (*types.Call, error) {
	if k == nil || len(k.Bytes) == 0 {
		return nil, ledger.Invalid(ErrMissingBytes)
	}
	curve, err := resolveCurve(k.Curve)
	if err != nil {
		return nil, ledger.Invalid(err)
	}
	if k.ParamsRef != nil {
		if err := k.ParamsRef.Validate(); err != nil {
			return nil, ledger.Invalid(err)
		}
	}
	stored := k.stored()
	stored.Curve = uint8(curve)
	return r.SealCall(ctx, MethodAddPublicKey, &AddPublicKeyArgs{Owner: owner, Key: stored}, auth)
}

// BuildRemoveParamsCall prepares a signed call removing the params at
// (owner, counter).
func (r *Registry) BuildRemoveParamsCall(ctx context.Context, owner identity.Identity, counter uint64, auth common.Authorization) (*types.Call, error) {
	if _, err := identity.NewReference(owner, counter); err != nil {
		return nil, ledger.Invalid(err)
	}
	return r.SealCall(ctx, MethodRemoveParams, &RemoveArgs{Owner: owner, Counter: counter}, auth)
}

// BuildRemovePublicKeyCall prepares a signed call removing the public key at
// (owner, counter).
func (r *Registry) BuildRemovePublicKeyCall(ctx context.Context, owner identity.Identity, counter uint64, auth common.Authorization) (*types.Call, error) {
	if _, err := identity.NewReference(owner, counter); err != nil {
		return nil, ledger.Invalid(err)
	}
	return r.SealCall(ctx, MethodRemovePublicKey, &RemoveArgs{Owner: owner, Counter: counter}, auth)
}

// --- submitting operations ---

// AddParams builds and submits an addParams call.
func (r *Registry) AddParams(ctx context.Context, p *Params, owner identity.Identity, auth common.Authorization) (*ledger.Confirmation, error) {
	call, err := r.BuildAddParamsCall(ctx, p, owner, auth)
	if err != nil {
		return nil, err
	}
	return r.submit(ctx, call)
}

// AddPublicKey builds and submits an addPublicKey call.
func (r *Registry) AddPublicKey(ctx context.Context, k *PublicKey, owner identity.Identity, auth common.Authorization) (*ledger.Confirmation, error) {
	call, err := r.BuildAddPublicKeyCall(ctx, k, owner, auth)
	if err != nil {
		return nil, err
	}
	return r.submit(ctx, call)
}

// RemoveParams builds and submits a removeParams call.
func (r *Registry) RemoveParams(ctx context.Context, owner identity.Identity, counter uint64, auth common.Authorization) (*ledger.Confirmation, error) {
	call, err := r.BuildRemoveParamsCall(ctx, owner, counter, auth)
	if err != nil {
		return nil, err
	}
	return r.submit(ctx, call)
}

// RemovePublicKey builds and submits a removePublicKey call.
func (r *Registry) RemovePublicKey(ctx context.Context, owner identity.Identity, counter uint64, auth common.Authorization) (*ledger.Confirmation, error) {
	call, err := r.BuildRemovePublicKeyCall(ctx, owner, counter, auth)
	if err != nil {
		return nil, err
	}
	return r.submit(ctx, call)
}

func (r *Registry) submit(ctx context.Context, call *types.Call) (*ledger.Confirmation, error) {
	conf, err := r.ledger.Submit(ctx, call)
	if err != nil {
		r.logger.Warn("registry call failed",
			slog.String("module", call.Module),
			slog.String("method", call.Method),
			slog.String("signer", call.Signer.String()),
			slog.Any("error", err))
		return nil, err
	}
	r.logger.Debug("registry call applied",
		slog.String("module", call.Module),
		slog.String("method", call.Method),
		slog.Uint64("height", conf.BlockHeight))
	return conf, nil
}

// --- reads ---

// entityKind describes how one of the two entity kinds is stored.
type entityKind[T any] struct {
	mapName string
	counter func(Counters) uint64
	decode  func(raw []byte, ref identity.Reference) (*T, error)
}

var (
	paramsKind = entityKind[Params]{
		mapName: MapParams,
		counter: func(c Counters) uint64 { return c.Params },
		decode:  decodeParams,
	}
	publicKeyKind = entityKind[PublicKey]{
		mapName: MapPublicKeys,
		counter: func(c Counters) uint64 { return c.Keys },
		decode:  decodePublicKey,
	}
)

func getEntity[T any](ctx context.Context, r *Registry, kind entityKind[T], owner identity.Identity, counter uint64) (*T, error) {
	raw, ok, err := r.ledger.ReadMap2(ctx, r.module, kind.mapName, OwnerKey(owner), CounterKey(counter))
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return kind.decode(raw, identity.Reference{Owner: owner, Counter: counter})
}

// listEntities performs one point lookup per counter 1..=N, skipping holes.
func listEntities[T any](ctx context.Context, r *Registry, kind entityKind[T], owner identity.Identity) ([]*T, error) {
	counters, err := r.Counters(ctx, owner)
	if err != nil {
		return nil, err
	}
	last := kind.counter(counters)
	out := make([]*T, 0, last)
	for counter := uint64(1); counter <= last; counter++ {
		entity, err := getEntity(ctx, r, kind, owner, counter)
		if err != nil {
			return nil, err
		}
		if entity != nil {
			out = append(out, entity)
		}
	}
	return out, nil
}

func lastEntity[T any](ctx context.Context, r *Registry, kind entityKind[T], owner identity.Identity) (*T, error) {
	counters, err := r.Counters(ctx, owner)
	if err != nil {
		return nil, err
	}
	last := kind.counter(counters)
	if last == 0 {
		return nil, nil
	}
	return getEntity(ctx, r, kind, owner, last)
}

// Counters returns the owner's current params and key counters. Owners that
// never wrote anything have zero counters.
func (r *Registry) Counters(ctx context.Context, owner identity.Identity) (Counters, error) {
	raw, ok, err := r.ledger.ReadMap(ctx, r.module, MapCounters, OwnerKey(owner))
	if err != nil {
		return Counters{}, err
	}
	if !ok {
		return Counters{}, nil
	}
	return decodeCounters(raw)
}

// GetParams returns the params at (owner, counter) or nil when absent.
func (r *Registry) GetParams(ctx context.Context, owner identity.Identity, counter uint64) (*Params, error) {
	return getEntity(ctx, r, paramsKind, owner, counter)
}

// GetPublicKey returns the public key at (owner, counter) or nil when absent.
// With resolveParams the referenced params are looked up and attached; a key
// without a reference fails with ErrNoParamsReference and a reference to
// removed params fails with ErrDanglingParamsReference.
func (r *Registry) GetPublicKey(ctx context.Context, owner identity.Identity, counter uint64, resolveParams bool) (*PublicKey, error) {
	key, err := getEntity(ctx, r, publicKeyKind, owner, counter)
	if err != nil || key == nil {
		return nil, err
	}
	if resolveParams {
		if err := r.attachParams(ctx, key); err != nil {
			return nil, err
		}
	}
	return key, nil
}

// ResolvePublicKey is GetPublicKey addressed by reference.
func (r *Registry) ResolvePublicKey(ctx context.Context, ref identity.Reference, resolveParams bool) (*PublicKey, error) {
	if err := ref.Validate(); err != nil {
		return nil, ledger.Invalid(err)
	}
	return r.GetPublicKey(ctx, ref.Owner, ref.Counter, resolveParams)
}

func (r *Registry) attachParams(ctx context.Context, key *PublicKey) error {
	if key.ParamsRef == nil {
		return fmt.Errorf("%w: key %s", ErrNoParamsReference, key.Ref)
	}
	p, err := r.GetParams(ctx, key.ParamsRef.Owner, key.ParamsRef.Counter)
	if err != nil {
		return err
	}
	if p == nil {
		return fmt.Errorf("%w: key %s references %s", ErrDanglingParamsReference, key.Ref, key.ParamsRef)
	}
	key.Params = p
	return nil
}

// GetAllParamsByOwner lists the owner's params in ascending counter order.
func (r *Registry) GetAllParamsByOwner(ctx context.Context, owner identity.Identity) ([]*Params, error) {
	return listEntities(ctx, r, paramsKind, owner)
}

// GetAllPublicKeysByOwner lists the owner's public keys in ascending counter
// order, optionally resolving each key's params.
func (r *Registry) GetAllPublicKeysByOwner(ctx context.Context, owner identity.Identity, resolveParams bool) ([]*PublicKey, error) {
	keys, err := listEntities(ctx, r, publicKeyKind, owner)
	if err != nil {
		return nil, err
	}
	if resolveParams {
		for _, key := range keys {
			if err := r.attachParams(ctx, key); err != nil {
				return nil, err
			}
		}
	}
	return keys, nil
}

// GetLastParamsWritten returns the params at the owner's current counter, or
// nil when nothing was written or the last entry was removed.
func (r *Registry) GetLastParamsWritten(ctx context.Context, owner identity.Identity) (*Params, error) {
	return lastEntity(ctx, r, paramsKind, owner)
}

// GetLastPublicKeyWritten returns the public key at the owner's current key
// counter, or nil when nothing was written or the last entry was removed.
func (r *Registry) GetLastPublicKeyWritten(ctx context.Context, owner identity.Identity) (*PublicKey, error) {
	return lastEntity(ctx, r, publicKeyKind, owner)
}

// IsResolutionError reports whether err came from following a reference.
func IsResolutionError(err error) bool {
	return errors.Is(err, ErrNoParamsReference) || errors.Is(err, ErrDanglingParamsReference)
}
