package accumulator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"accumreg/core/types"
	"accumreg/native/common"
	"accumreg/native/params"
)

// Engine applies accumulator calls on the ledger side. Registry methods of
// the accumulator module are delegated to an embedded params engine.
type Engine struct {
	registry *params.Engine
}

// NewEngine constructs the accumulator module engine.
func NewEngine() *Engine {
	return &Engine{registry: params.NewEngine(ModuleName)}
}

// Name implements common.Module.
func (e *Engine) Name() string { return ModuleName }

// Apply implements common.Module.
func (e *Engine) Apply(ctx common.ExecContext, st common.State, call *types.Call) ([]*types.Event, error) {
	if e.registry.Handles(call.Method) {
		return e.registry.Apply(ctx, st, call)
	}
	switch call.Method {
	case MethodAdd:
		return e.add(ctx, st, call)
	case MethodUpdate:
		return e.update(ctx, st, call)
	case MethodRemove:
		return e.remove(st, call)
	}
	return nil, fmt.Errorf("%s: %w %q", ModuleName, common.ErrUnknownMethod, call.Method)
}

func (e *Engine) add(ctx common.ExecContext, st common.State, call *types.Call) ([]*types.Event, error) {
	var args AddArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if args.ID.IsZero() {
		return nil, ErrInvalidID
	}
	if len(args.Accumulated) == 0 {
		return nil, ErrMissingAccumulated
	}
	kind := Kind(args.Variant)
	if kind != KindPositive && kind != KindUniversal {
		return nil, fmt.Errorf("accumulator: unknown variant tag %d", args.Variant)
	}
	if err := args.KeyRef.Validate(); err != nil {
		return nil, err
	}
	_, exists, err := st.Get(MapAccumulators, args.ID[:])
	if err != nil {
		return nil, err
	}
	if exists {
		return nil, fmt.Errorf("%w: %s", ErrAccumulatorExists, args.ID)
	}
	key, err := params.LoadPublicKey(st, args.KeyRef)
	if err != nil {
		return nil, err
	}
	if key == nil {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, args.KeyRef)
	}
	if args.KeyRef.Owner != call.Signer {
		return nil, ErrUnauthorized
	}
	stored := &StoredAccumulator{
		Variant: args.Variant,
		Common: Common{
			Accumulated:  args.Accumulated,
			KeyRef:       args.KeyRef,
			Created:      ctx.Height,
			LastModified: ctx.Height,
		},
	}
	if kind == KindUniversal {
		stored.MaxSize = args.MaxSize
	}
	if err := put(st, args.ID, stored); err != nil {
		return nil, err
	}
	return []*types.Event{NewAddedEvent(args.ID, kind, ctx.Height)}, nil
}

func (e *Engine) update(ctx common.ExecContext, st common.State, call *types.Call) ([]*types.Event, error) {
	var args UpdateArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if len(args.NewAccumulated) == 0 {
		return nil, ErrMissingAccumulated
	}
	for _, list := range []OptionalList{args.Additions, args.Removals} {
		if err := EnsureByteArrayList(list.Items); err != nil {
			return nil, err
		}
	}
	if args.WitnessUpdateInfo.Present {
		if err := EnsureByteArray(args.WitnessUpdateInfo.Value); err != nil {
			return nil, err
		}
	}
	stored, err := e.authorize(st, call, args.ID, args.Created, args.Nonce)
	if err != nil {
		return nil, err
	}
	stored.Common.Accumulated = args.NewAccumulated
	stored.Common.LastModified = ctx.Height
	stored.Nonce = args.Nonce
	if err := put(st, args.ID, stored); err != nil {
		return nil, err
	}
	return []*types.Event{NewUpdatedEvent(args.ID, args.NewAccumulated)}, nil
}

func (e *Engine) remove(st common.State, call *types.Call) ([]*types.Event, error) {
	var args RemoveArgs
	if err := call.DecodeArgs(&args); err != nil {
		return nil, err
	}
	if _, err := e.authorize(st, call, args.ID, args.Created, args.Nonce); err != nil {
		return nil, err
	}
	if err := st.Delete(MapAccumulators, args.ID[:]); err != nil {
		return nil, err
	}
	return []*types.Event{NewRemovedEvent(args.ID)}, nil
}

// authorize loads the live accumulator and checks the signer, the creation
// height and the replay nonce.
func (e *Engine) authorize(st common.State, call *types.Call, id ID, created, nonce uint64) (*StoredAccumulator, error) {
	if id.IsZero() {
		return nil, ErrInvalidID
	}
	raw, ok, err := st.Get(MapAccumulators, id[:])
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccumulatorNotFound, id)
	}
	stored, err := decodeStored(raw)
	if err != nil {
		return nil, err
	}
	if stored.Common.KeyRef.Owner != call.Signer {
		return nil, ErrUnauthorized
	}
	if stored.Common.Created != created {
		return nil, fmt.Errorf("%w: have %d, got %d", ErrStaleCreated, stored.Common.Created, created)
	}
	if nonce != stored.Nonce+1 {
		return nil, fmt.Errorf("%w: want %d, got %d", ErrStaleNonce, stored.Nonce+1, nonce)
	}
	return stored, nil
}

func put(st common.State, id ID, stored *StoredAccumulator) error {
	encoded, err := rlp.EncodeToBytes(stored)
	if err != nil {
		return err
	}
	return st.Put(MapAccumulators, encoded, id[:])
}
