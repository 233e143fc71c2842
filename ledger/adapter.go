// Package ledger defines the narrow interface the registry and accumulator
// stores use to reach the ledger: submit a prepared call, read keyed storage
// maps and read the calls and events recorded in a block.
package ledger

import (
	"context"

	"accumreg/core/types"
)

// Confirmation reports where a submitted call landed.
type Confirmation struct {
	BlockHeight uint64         `json:"blockHeight"`
	BlockHash   []byte         `json:"blockHash"`
	CallHash    []byte         `json:"callHash"`
	Events      []*types.Event `json:"events,omitempty"`
}

// Adapter is implemented by every ledger backend. Submit is atomic: the whole
// call lands in exactly one block or it does not land at all. Reads of absent
// map entries return found=false with a nil error.
type Adapter interface {
	Submit(ctx context.Context, call *types.Call) (*Confirmation, error)
	ReadMap(ctx context.Context, module, name string, key []byte) ([]byte, bool, error)
	ReadMap2(ctx context.Context, module, name string, key1, key2 []byte) ([]byte, bool, error)
	ReadBlockCalls(ctx context.Context, at types.BlockLocator) ([]*types.Call, error)
	ReadBlockEvents(ctx context.Context, at types.BlockLocator) ([]*types.Event, error)
}
