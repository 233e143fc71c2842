package accumulator

import (
	"context"
	"fmt"

	"accumreg/core/types"
	"accumreg/ledger"
)

// UpdateEvent is an update-success event found in a block.
type UpdateEvent struct {
	ID             ID
	NewAccumulated []byte
}

// Scanner reconstructs accumulator updates from historical blocks.
type Scanner struct {
	ledger ledger.Adapter
	module string
}

// NewScanner returns a scanner reading blocks through adapter.
func NewScanner(adapter ledger.Adapter) *Scanner {
	return &Scanner{ledger: adapter, module: ModuleName}
}

// GetUpdatesFromBlock returns the updates to id recorded in the block, in the
// order the calls were applied. The scan is linear in the number of calls in
// the block.
func (s *Scanner) GetUpdatesFromBlock(ctx context.Context, id ID, at types.BlockLocator) ([]UpdateRecord, error) {
	if id.IsZero() {
		return nil, ledger.Invalid(ErrInvalidID)
	}
	calls, err := s.ledger.ReadBlockCalls(ctx, at)
	if err != nil {
		return nil, err
	}
	records := make([]UpdateRecord, 0)
	for _, call := range calls {
		if !call.Is(s.module, MethodUpdate) {
			continue
		}
		var args UpdateArgs
		if err := call.DecodeArgs(&args); err != nil {
			return nil, fmt.Errorf("accumulator: scan block: %w", err)
		}
		if args.ID != id {
			continue
		}
		records = append(records, args.Record())
	}
	return records, nil
}

// UpdateEventsFromBlock classifies every event of the block and returns the
// update-success notifications.
func (s *Scanner) UpdateEventsFromBlock(ctx context.Context, at types.BlockLocator) ([]UpdateEvent, error) {
	events, err := s.ledger.ReadBlockEvents(ctx, at)
	if err != nil {
		return nil, err
	}
	var out []UpdateEvent
	for _, ev := range events {
		if id, acc, ok := ClassifyEvent(ev); ok {
			out = append(out, UpdateEvent{ID: id, NewAccumulated: acc})
		}
	}
	return out, nil
}
