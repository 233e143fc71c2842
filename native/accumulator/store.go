package accumulator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"accumreg/core/identity"
	"accumreg/core/types"
	"accumreg/ledger"
	"accumreg/native/common"
	"accumreg/native/params"
)

// Store manages the accumulator lifecycle. It embeds the accumulator module's
// params/public-key registry, so accumulator params and keys are managed
// through the same value.
type Store struct {
	*params.Registry
	scanner *Scanner
	logger  *slog.Logger
}

// NewStore binds a store to the accumulator module of adapter.
func NewStore(adapter ledger.Adapter, opts ...params.Option) *Store {
	registry := params.NewRegistry(ModuleName, adapter, opts...)
	return &Store{
		Registry: registry,
		scanner:  NewScanner(adapter),
		logger:   registry.Logger().With(slog.String("module", ModuleName)),
	}
}

// Scanner returns the update log scanner used by the store.
func (s *Store) Scanner() *Scanner {
	return s.scanner
}

// --- call builders ---

func validateCreate(id ID, accumulated []byte, publicKeyRef interface{}) (identity.Reference, error) {
	if id.IsZero() {
		return identity.Reference{}, ledger.Invalid(ErrInvalidID)
	}
	if len(accumulated) == 0 {
		return identity.Reference{}, ledger.Invalid(ErrMissingAccumulated)
	}
	ref, err := identity.ParseRef(publicKeyRef)
	if err != nil {
		return identity.Reference{}, ledger.Invalid(err)
	}
	return ref, nil
}

// BuildCreatePositive prepares a call creating a positive accumulator. The
// accumulated value is opaque and checked only for presence.
func (s *Store) BuildCreatePositive(ctx context.Context, id ID, accumulated []byte, publicKeyRef interface{}, auth common.Authorization) (*types.Call, error) {
	ref, err := validateCreate(id, accumulated, publicKeyRef)
	if err != nil {
		return nil, err
	}
	args := &AddArgs{ID: id, Variant: uint8(KindPositive), Accumulated: accumulated, KeyRef: ref}
	return s.SealCall(ctx, MethodAdd, args, auth)
}

// BuildCreateUniversal prepares a call creating a universal accumulator.
// maxSize is advisory metadata.
func (s *Store) BuildCreateUniversal(ctx context.Context, id ID, accumulated []byte, publicKeyRef interface{}, maxSize uint64, auth common.Authorization) (*types.Call, error) {
	ref, err := validateCreate(id, accumulated, publicKeyRef)
	if err != nil {
		return nil, err
	}
	args := &AddArgs{ID: id, Variant: uint8(KindUniversal), Accumulated: accumulated, KeyRef: ref, MaxSize: maxSize}
	return s.SealCall(ctx, MethodAdd, args, auth)
}

// BuildUpdate prepares an update call. created must equal the accumulator's
// creation height and nonce must be the current nonce plus one; both are
// checked by the ledger only, so callers fetch the current state first.
func (s *Store) BuildUpdate(ctx context.Context, id ID, newAccumulated []byte, update Update, created, nonce uint64, auth common.Authorization) (*types.Call, error) {
	if id.IsZero() {
		return nil, ledger.Invalid(ErrInvalidID)
	}
	if len(newAccumulated) == 0 {
		return nil, ledger.Invalid(ErrMissingAccumulated)
	}
	if err := EnsureByteArrayList(update.Additions); err != nil {
		return nil, err
	}
	if err := EnsureByteArrayList(update.Removals); err != nil {
		return nil, err
	}
	if update.WitnessUpdateInfo != nil {
		if err := EnsureByteArray(update.WitnessUpdateInfo); err != nil {
			return nil, err
		}
	}
	args := &UpdateArgs{
		ID:                id,
		NewAccumulated:    newAccumulated,
		Additions:         someList(update.Additions),
		Removals:          someList(update.Removals),
		WitnessUpdateInfo: someBytes(update.WitnessUpdateInfo),
		Created:           created,
		Nonce:             nonce,
	}
	return s.SealCall(ctx, MethodUpdate, args, auth)
}

// BuildRemove prepares a removal call under the same created/nonce contract
// as BuildUpdate.
func (s *Store) BuildRemove(ctx context.Context, id ID, created, nonce uint64, auth common.Authorization) (*types.Call, error) {
	if id.IsZero() {
		return nil, ledger.Invalid(ErrInvalidID)
	}
	return s.SealCall(ctx, MethodRemove, &RemoveArgs{ID: id, Created: created, Nonce: nonce}, auth)
}

// --- submitting operations ---

// CreatePositive builds and submits a positive accumulator creation.
func (s *Store) CreatePositive(ctx context.Context, id ID, accumulated []byte, publicKeyRef interface{}, auth common.Authorization) (*ledger.Confirmation, error) {
	call, err := s.BuildCreatePositive(ctx, id, accumulated, publicKeyRef, auth)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, id, call)
}

// CreateUniversal builds and submits a universal accumulator creation.
func (s *Store) CreateUniversal(ctx context.Context, id ID, accumulated []byte, publicKeyRef interface{}, maxSize uint64, auth common.Authorization) (*ledger.Confirmation, error) {
	call, err := s.BuildCreateUniversal(ctx, id, accumulated, publicKeyRef, maxSize, auth)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, id, call)
}

// Update builds and submits an update.
func (s *Store) Update(ctx context.Context, id ID, newAccumulated []byte, update Update, created, nonce uint64, auth common.Authorization) (*ledger.Confirmation, error) {
	call, err := s.BuildUpdate(ctx, id, newAccumulated, update, created, nonce, auth)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, id, call)
}

// Remove builds and submits a removal.
func (s *Store) Remove(ctx context.Context, id ID, created, nonce uint64, auth common.Authorization) (*ledger.Confirmation, error) {
	call, err := s.BuildRemove(ctx, id, created, nonce, auth)
	if err != nil {
		return nil, err
	}
	return s.submit(ctx, id, call)
}

func (s *Store) submit(ctx context.Context, id ID, call *types.Call) (*ledger.Confirmation, error) {
	conf, err := s.Ledger().Submit(ctx, call)
	if err != nil {
		s.logger.Warn("accumulator call failed",
			slog.String("method", call.Method),
			slog.String("id", id.String()),
			slog.Any("error", err))
		return nil, err
	}
	s.logger.Debug("accumulator call applied",
		slog.String("method", call.Method),
		slog.String("id", id.String()),
		slog.Uint64("height", conf.BlockHeight))
	return conf, nil
}

// --- reads ---

// GetAccumulator returns the accumulator or nil when no live accumulator has
// the id. With resolveKeyAndParams the public key and its params are looked
// up and attached; a removed key fails with ErrDanglingKeyReference.
func (s *Store) GetAccumulator(ctx context.Context, id ID, resolveKeyAndParams bool) (*View, error) {
	if id.IsZero() {
		return nil, ledger.Invalid(ErrInvalidID)
	}
	raw, ok, err := s.Ledger().ReadMap(ctx, ModuleName, MapAccumulators, id[:])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	stored, err := decodeStored(raw)
	if err != nil {
		return nil, err
	}
	view, err := stored.view(id)
	if err != nil {
		return nil, err
	}
	if !resolveKeyAndParams {
		return view, nil
	}
	key, err := s.GetPublicKey(ctx, view.KeyRef.Owner, view.KeyRef.Counter, true)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: accumulator %s references %s", ErrDanglingKeyReference, id, view.KeyRef)
	}
	view.PublicKey = key
	return view, nil
}

// Get is GetAccumulator.
func (s *Store) Get(ctx context.Context, id ID, resolveKeyAndParams bool) (*View, error) {
	return s.GetAccumulator(ctx, id, resolveKeyAndParams)
}

// GetUpdatesFromBlock returns the updates to id recorded in the given block.
func (s *Store) GetUpdatesFromBlock(ctx context.Context, id ID, at types.BlockLocator) ([]UpdateRecord, error) {
	return s.scanner.GetUpdatesFromBlock(ctx, id, at)
}

// History concatenates the updates to id recorded in each of the given
// blocks, in the order the blocks are given.
func (s *Store) History(ctx context.Context, id ID, blocks ...types.BlockLocator) ([]UpdateRecord, error) {
	var out []UpdateRecord
	for _, at := range blocks {
		records, err := s.scanner.GetUpdatesFromBlock(ctx, id, at)
		if err != nil {
			if errors.Is(err, ledger.ErrBlockNotFound) {
				return nil, fmt.Errorf("accumulator: history of %s: %w", id, err)
			}
			return nil, err
		}
		out = append(out, records...)
	}
	return out, nil
}

// ClassifyEvent is the package-level ClassifyEvent.
func (s *Store) ClassifyEvent(ev *types.Event) (ID, []byte, bool) {
	return ClassifyEvent(ev)
}
