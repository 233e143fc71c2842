// Package indexer follows a ledger block by block and records every event in
// a SQL database so accumulator and registry history can be queried without
// scanning the chain.
package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"go.opentelemetry.io/otel/metric"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"accumreg/core/types"
	"accumreg/ledger"
)

const (
	defaultCursorName = "ledger"
	defaultBatchSize  = 512
)

// ErrPathRequired is returned when no database path is configured.
var ErrPathRequired = errors.New("indexer: database path must be configured")

// Open opens (creating if needed) the SQLite index at path.
func Open(path string) (*gorm.DB, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return nil, ErrPathRequired
	}
	db, err := gorm.Open(sqlite.Open(trimmed), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("indexer: open database: %w", err)
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("indexer: migrate: %w", err)
	}
	return db, nil
}

// Indexer copies ledger events into the index.
type Indexer struct {
	db        *gorm.DB
	source    ledger.Adapter
	logger    *slog.Logger
	name      string
	batchSize int
	meter     metric.Meter
	metrics   *syncMetrics
}

// Option customises an Indexer.
type Option func(*Indexer)

// WithLogger overrides the indexer logger.
func WithLogger(logger *slog.Logger) Option {
	return func(ix *Indexer) {
		if logger != nil {
			ix.logger = logger
		}
	}
}

// WithCursorName keeps several indexers apart in one database.
func WithCursorName(name string) Option {
	return func(ix *Indexer) {
		if name = strings.TrimSpace(name); name != "" {
			ix.name = name
		}
	}
}

// WithMeter records sync counters on meter instead of the global provider.
func WithMeter(meter metric.Meter) Option {
	return func(ix *Indexer) { ix.meter = meter }
}

// WithBatchSize caps the blocks consumed by one Sync call.
func WithBatchSize(n int) Option {
	return func(ix *Indexer) {
		if n > 0 {
			ix.batchSize = n
		}
	}
}

// New binds an index database to a ledger.
func New(db *gorm.DB, source ledger.Adapter, opts ...Option) (*Indexer, error) {
	if db == nil {
		return nil, errors.New("indexer: database required")
	}
	if source == nil {
		return nil, errors.New("indexer: ledger required")
	}
	ix := &Indexer{
		db:        db,
		source:    source,
		logger:    slog.Default(),
		name:      defaultCursorName,
		batchSize: defaultBatchSize,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(ix)
		}
	}
	ix.metrics = newSyncMetrics(ix.meter)
	return ix, nil
}

// DB exposes the underlying database handle.
func (ix *Indexer) DB() *gorm.DB {
	return ix.db
}

// Close releases the database connection.
func (ix *Indexer) Close() error {
	sqlDB, err := ix.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Cursor returns the last indexed height. ok is false before the first block
// has been indexed.
func (ix *Indexer) Cursor(ctx context.Context) (height uint64, ok bool, err error) {
	var cursor Cursor
	err = ix.db.WithContext(ctx).Where("name = ?", ix.name).Take(&cursor).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return cursor.Height, true, nil
}

// Sync indexes blocks after the cursor until the ledger runs out of blocks or
// the batch size is reached. It returns the number of blocks indexed.
func (ix *Indexer) Sync(ctx context.Context) (int, error) {
	last, ok, err := ix.Cursor(ctx)
	if err != nil {
		return 0, err
	}
	next := uint64(0)
	if ok {
		next = last + 1
	}
	indexed := 0
	for indexed < ix.batchSize {
		if err := ctx.Err(); err != nil {
			return indexed, err
		}
		events, err := ix.source.ReadBlockEvents(ctx, types.AtHeight(next))
		if errors.Is(err, ledger.ErrBlockNotFound) {
			break
		}
		if err != nil {
			return indexed, fmt.Errorf("indexer: read block %d: %w", next, err)
		}
		if err := ix.store(ctx, next, events); err != nil {
			return indexed, fmt.Errorf("indexer: store block %d: %w", next, err)
		}
		ix.metrics.recordBlock(ctx, ix.name, len(events))
		indexed++
		next++
	}
	if indexed > 0 {
		ix.logger.Debug("indexed blocks", slog.Int("blocks", indexed), slog.Uint64("height", next-1))
	}
	return indexed, nil
}

func (ix *Indexer) store(ctx context.Context, height uint64, events []*types.Event) error {
	rows := make([]Event, 0, len(events))
	for i, ev := range events {
		if ev == nil {
			continue
		}
		row, err := newEventRow(height, i, ev)
		if err != nil {
			return err
		}
		rows = append(rows, row)
	}
	return ix.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if len(rows) > 0 {
			if err := tx.Create(&rows).Error; err != nil {
				return err
			}
		}
		cursor := Cursor{Name: ix.name, Height: height}
		return tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "name"}},
			DoUpdates: clause.AssignmentColumns([]string{"height", "updated_at"}),
		}).Create(&cursor).Error
	})
}

// Run syncs every interval until ctx is done. Sync errors are logged and
// retried on the next tick.
func (ix *Indexer) Run(ctx context.Context, interval time.Duration) error {
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		for {
			n, err := ix.Sync(ctx)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				ix.metrics.recordFailure(ctx, ix.name)
				ix.logger.Warn("index sync failed", slog.Any("error", err))
				break
			}
			if n < ix.batchSize {
				break
			}
		}
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}
