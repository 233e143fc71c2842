package common

import (
	"errors"

	"accumreg/core/types"
)

// ErrUnknownMethod is returned when a module does not implement a method.
var ErrUnknownMethod = errors.New("unknown method")

// State is the module-scoped view of ledger storage handed to engines. Keys
// are the map keys; single maps take one key, double maps two.
type State interface {
	Get(name string, keys ...[]byte) ([]byte, bool, error)
	Put(name string, value []byte, keys ...[]byte) error
	Delete(name string, keys ...[]byte) error
}

// ExecContext describes the block a call is being applied in.
type ExecContext struct {
	Height    uint64
	Timestamp int64
}

// Module applies calls addressed to one ledger module. A returned error
// rejects the call and discards every write it made.
type Module interface {
	Name() string
	Apply(ctx ExecContext, st State, call *types.Call) ([]*types.Event, error)
}
