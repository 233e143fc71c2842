package indexer

import (
	"context"

	"accumreg/core/types"
	"accumreg/native/accumulator"
)

const defaultQueryLimit = 1000

// Filter selects indexed events. Zero fields match everything; ToHeight zero
// means no upper bound.
type Filter struct {
	Module     string
	Type       string
	Subject    string
	FromHeight uint64
	ToHeight   uint64
	Limit      int
}

// Events returns matching events in ledger order.
func (ix *Indexer) Events(ctx context.Context, f Filter) ([]Event, error) {
	q := ix.db.WithContext(ctx).Model(&Event{})
	if f.Module != "" {
		q = q.Where("module = ?", f.Module)
	}
	if f.Type != "" {
		q = q.Where("type = ?", f.Type)
	}
	if f.Subject != "" {
		q = q.Where("subject = ?", f.Subject)
	}
	if f.FromHeight > 0 {
		q = q.Where("height >= ?", f.FromHeight)
	}
	if f.ToHeight > 0 {
		q = q.Where("height <= ?", f.ToHeight)
	}
	limit := f.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	var out []Event
	err := q.Order("height ASC").Order("position ASC").Limit(limit).Find(&out).Error
	return out, err
}

// AccumulatorHistory returns the lifecycle events of one accumulator.
func (ix *Indexer) AccumulatorHistory(ctx context.Context, id accumulator.ID) ([]Event, error) {
	return ix.Events(ctx, Filter{Module: accumulator.ModuleName, Subject: id.String()})
}

// UpdateHeights lists the heights at which the accumulator was updated.
func (ix *Indexer) UpdateHeights(ctx context.Context, id accumulator.ID) ([]uint64, error) {
	var heights []uint64
	err := ix.db.WithContext(ctx).Model(&Event{}).
		Where("type = ? AND subject = ?", accumulator.EventTypeUpdated, id.String()).
		Distinct().Order("height ASC").Pluck("height", &heights).Error
	return heights, err
}

// UpdateBlocks is UpdateHeights as block locators, ready for
// accumulator.Store.History.
func (ix *Indexer) UpdateBlocks(ctx context.Context, id accumulator.ID) ([]types.BlockLocator, error) {
	heights, err := ix.UpdateHeights(ctx, id)
	if err != nil {
		return nil, err
	}
	out := make([]types.BlockLocator, len(heights))
	for i, h := range heights {
		out[i] = types.AtHeight(h)
	}
	return out, nil
}
