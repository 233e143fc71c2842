// Package chain implements an instant-seal development ledger. Every submitted
// call is applied on its own and sealed into a block of its own, which gives
// the registry and accumulator stores a real ledger to run against in tests
// and local deployments.
package chain

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/rlp"

	"accumreg/core/identity"
	"accumreg/core/types"
	"accumreg/crypto"
	"accumreg/ledger"
	"accumreg/native/common"
	"accumreg/observability"
	"accumreg/storage"
)

const (
	prefixState      = "s/"
	prefixHeight     = "h/"
	prefixBlock      = "b/"
	prefixController = "c/"
	keyHead          = "head"

	genesisTimestamp = 1672531200

	// EventCallFailed is sealed in place of a call the module rejected.
	EventCallFailed = "system.callFailed"
)

var (
	// ErrUnknownModule is returned for calls addressed to an unregistered module.
	ErrUnknownModule = errors.New("chain: unknown module")
	// ErrUnsigned is returned for calls without a signature.
	ErrUnsigned = errors.New("chain: call is not signed")
	// ErrNotController is returned when the recovered signer is not a
	// controller of the call's DID.
	ErrNotController = errors.New("chain: signature is not from a controller of the signer DID")
)

type head struct {
	Height uint64
	Hash   []byte
}

// Chain is the development ledger. It satisfies ledger.Adapter.
type Chain struct {
	db      storage.Database
	modules map[string]common.Module
	pauses  common.PauseView
	clock   func() time.Time
	logger  *slog.Logger
	metrics *observability.LedgerMetrics
	quota   common.Quota

	mu     sync.RWMutex
	height uint64
	tip    []byte
	usage  map[identity.Identity]common.QuotaNow

	feed feed
}

var _ ledger.Adapter = (*Chain)(nil)

// Option customises a Chain.
type Option func(*Chain)

// WithModules registers ledger modules by name.
func WithModules(modules ...common.Module) Option {
	return func(c *Chain) {
		for _, m := range modules {
			if m != nil {
				c.modules[m.Name()] = m
			}
		}
	}
}

// WithPauses installs the pause view consulted before each call.
func WithPauses(p common.PauseView) Option {
	return func(c *Chain) { c.pauses = p }
}

// WithClock overrides the block timestamp source.
func WithClock(clock func() time.Time) Option {
	return func(c *Chain) {
		if clock != nil {
			c.clock = clock
		}
	}
}

// WithLogger overrides the chain logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Chain) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics records applied calls and the head height.
func WithMetrics(m *observability.LedgerMetrics) Option {
	return func(c *Chain) { c.metrics = m }
}

// WithQuota limits how many calls and argument bytes each signer DID may
// submit per quota epoch. Usage is tracked in memory only.
func WithQuota(q common.Quota) Option {
	return func(c *Chain) { c.quota = q }
}

// New opens the chain stored in db, creating the genesis block when the
// database is empty.
func New(db storage.Database, opts ...Option) (*Chain, error) {
	if db == nil {
		return nil, errors.New("chain: database required")
	}
	c := &Chain{
		db:      db,
		modules: make(map[string]common.Module),
		clock:   time.Now,
		logger:  slog.Default(),
		usage:   make(map[identity.Identity]common.QuotaNow),
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	raw, err := db.Get([]byte(keyHead))
	switch {
	case errors.Is(err, storage.ErrNotFound):
		genesis := &types.Block{Header: &types.BlockHeader{
			Height:    0,
			Timestamp: genesisTimestamp,
			PrevHash:  []byte{},
		}}
		if err := c.seal(genesis); err != nil {
			return nil, fmt.Errorf("chain: write genesis: %w", err)
		}
		c.logger.Info("created genesis block", slog.String("hash", fmt.Sprintf("%x", c.tip)))
	case err != nil:
		return nil, err
	default:
		var h head
		if err := rlp.DecodeBytes(raw, &h); err != nil {
			return nil, fmt.Errorf("chain: decode head: %w", err)
		}
		c.height = h.Height
		c.tip = h.Hash
		c.logger.Info("loaded chain", slog.Uint64("height", c.height))
	}
	c.metrics.SetHeight(c.height)
	return c, nil
}

// Head returns the height and hash of the latest block.
func (c *Chain) Head() (uint64, []byte) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.height, append([]byte(nil), c.tip...)
}

// AddController authorises addr to sign calls on behalf of did.
func (c *Chain) AddController(did identity.Identity, addr crypto.Address) error {
	if did.IsZero() {
		return identity.ErrInvalidIdentity
	}
	return c.db.Put(controllerKey(did, addr), []byte{1})
}

// RemoveController revokes addr for did.
func (c *Chain) RemoveController(did identity.Identity, addr crypto.Address) error {
	return c.db.Delete(controllerKey(did, addr))
}

// Controllers lists the controller addresses of did.
func (c *Chain) Controllers(did identity.Identity) ([]crypto.Address, error) {
	prefix := append([]byte(prefixController), did.Bytes()...)
	var out []crypto.Address
	err := c.db.Iterate(prefix, func(key, _ []byte) error {
		addr, err := crypto.NewAddress(crypto.ControllerPrefix, key[len(prefix):])
		if err != nil {
			return err
		}
		out = append(out, addr)
		return nil
	})
	return out, err
}

func controllerKey(did identity.Identity, addr crypto.Address) []byte {
	key := append([]byte(prefixController), did.Bytes()...)
	return append(key, addr.Bytes()...)
}

// Submit applies the call and seals it into a new block. Calls that fail
// authentication or carry a nonce other than the signer's next one are
// rejected without a block. Calls the module rejects seal a block holding
// only an EventCallFailed event and the call itself is not recorded; their
// nonce is still consumed.
func (c *Chain) Submit(ctx context.Context, call *types.Call) (*ledger.Confirmation, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if call == nil || call.Module == "" || call.Method == "" {
		return nil, ledger.Invalid(types.ErrCallIncomplete)
	}
	start := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	module, ok := c.modules[call.Module]
	if !ok {
		c.metrics.ObserveCall(call.Module, call.Method, "invalid", time.Since(start))
		return nil, ledger.Reject(call.Module, call.Method, ErrUnknownModule)
	}
	if err := common.Guard(c.pauses, call.Module); err != nil {
		c.metrics.ObserveCall(call.Module, call.Method, "invalid", time.Since(start))
		return nil, ledger.Reject(call.Module, call.Method, err)
	}
	if err := c.verify(call); err != nil {
		c.metrics.ObserveCall(call.Module, call.Method, "invalid", time.Since(start))
		return nil, ledger.Reject(call.Module, call.Method, err)
	}

	nonces := newOverlay(c.db, common.SystemModule)
	if err := c.consumeNonce(nonces, call); err != nil {
		c.metrics.ObserveCall(call.Module, call.Method, "invalid", time.Since(start))
		return nil, ledger.Reject(call.Module, call.Method, err)
	}

	now := c.clock()
	if c.quota.Enabled() {
		next, err := common.CheckQuota(c.quota, c.quota.Epoch(now.Unix()), c.usage[call.Signer], 1, uint64(len(call.Args)))
		if err != nil {
			c.metrics.ObserveCall(call.Module, call.Method, "throttled", time.Since(start))
			return nil, ledger.Reject(call.Module, call.Method, err)
		}
		c.usage[call.Signer] = next
	}

	callHash, err := call.Hash()
	if err != nil {
		return nil, err
	}
	height := c.height + 1
	st := newOverlay(c.db, call.Module)
	events, applyErr := module.Apply(common.ExecContext{Height: height, Timestamp: now.Unix()}, st, call)

	block := &types.Block{Header: &types.BlockHeader{
		Height:    height,
		Timestamp: now.Unix(),
		PrevHash:  append([]byte(nil), c.tip...),
	}}
	if applyErr != nil {
		failure := types.NewEvent(EventCallFailed)
		failure.Attributes["module"] = call.Module
		failure.Attributes["method"] = call.Method
		failure.Attributes["signer"] = call.Signer.String()
		failure.Attributes["callHash"] = fmt.Sprintf("0x%x", callHash)
		failure.Attributes["reason"] = applyErr.Error()
		block.Events = []*types.Event{failure}
		if err := c.seal(block, nonces); err != nil {
			return nil, fmt.Errorf("chain: seal failure block: %w", err)
		}
		c.metrics.ObserveCall(call.Module, call.Method, "rejected", time.Since(start))
		c.logger.Warn("call rejected",
			slog.String("module", call.Module),
			slog.String("method", call.Method),
			slog.Uint64("height", height),
			slog.String("reason", applyErr.Error()))
		return nil, ledger.Reject(call.Module, call.Method, applyErr)
	}

	block.Calls = []*types.Call{call.Copy()}
	block.Events = events
	if err := c.seal(block, nonces, st); err != nil {
		return nil, fmt.Errorf("chain: seal block: %w", err)
	}
	c.metrics.ObserveCall(call.Module, call.Method, "applied", time.Since(start))
	c.logger.Debug("call applied",
		slog.String("module", call.Module),
		slog.String("method", call.Method),
		slog.Uint64("height", height))
	return &ledger.Confirmation{
		BlockHeight: height,
		BlockHash:   append([]byte(nil), c.tip...),
		CallHash:    callHash,
		Events:      events,
	}, nil
}

// verify recovers the controller address from the signature and checks it is
// registered for the call's DID.
func (c *Chain) verify(call *types.Call) error {
	if len(call.Signature) == 0 {
		return ErrUnsigned
	}
	if call.Signer.IsZero() {
		return identity.ErrInvalidIdentity
	}
	digest, err := call.SigningDigest()
	if err != nil {
		return err
	}
	addr, err := crypto.RecoverAddress(digest, call.Signature)
	if err != nil {
		return err
	}
	ok, err := c.db.Has(controllerKey(call.Signer, addr))
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotController, addr)
	}
	return nil
}

// consumeNonce checks the call nonce against the signer's last applied one
// and stages the new value in st.
func (c *Chain) consumeNonce(st *overlay, call *types.Call) error {
	raw, ok, err := st.Get(common.MapNonces, call.Signer.Bytes())
	if err != nil {
		return err
	}
	var last uint64
	if ok {
		if last, err = common.DecodeNonce(raw); err != nil {
			return err
		}
	}
	if err := common.CheckNonce(last, call.Nonce); err != nil {
		return err
	}
	return st.Put(common.MapNonces, common.EncodeNonce(call.Nonce), call.Signer.Bytes())
}

// Nonce returns the nonce of the last call applied for did.
func (c *Chain) Nonce(ctx context.Context, did identity.Identity) (uint64, error) {
	return common.LastNonce(ctx, c, did)
}

// seal computes the header commitments and writes the block together with
// the call's state changes. Callers hold c.mu, except New.
func (c *Chain) seal(block *types.Block, states ...*overlay) error {
	root, err := ComputeCallsRoot(block.Calls)
	if err != nil {
		return err
	}
	block.Header.CallsRoot = root
	hash, err := block.Header.Hash()
	if err != nil {
		return err
	}
	encoded, err := json.Marshal(block)
	if err != nil {
		return err
	}
	headBytes, err := rlp.EncodeToBytes(&head{Height: block.Header.Height, Hash: hash})
	if err != nil {
		return err
	}

	batch := storage.NewBatch()
	for _, st := range states {
		if st != nil {
			st.flush(batch)
		}
	}
	batch.Put(blockKey(hash), encoded)
	batch.Put(heightKey(block.Header.Height), hash)
	batch.Put([]byte(keyHead), headBytes)
	if err := c.db.Write(batch); err != nil {
		return err
	}

	c.height = block.Header.Height
	c.tip = hash
	c.metrics.SetHeight(c.height)
	for _, ev := range block.Events {
		observability.Events().Record(ev.Type)
	}
	c.feed.publish(block)
	return nil
}

func blockKey(hash []byte) []byte {
	return append([]byte(prefixBlock), hash...)
}

func heightKey(height uint64) []byte {
	key := make([]byte, len(prefixHeight)+8)
	copy(key, prefixHeight)
	binary.BigEndian.PutUint64(key[len(prefixHeight):], height)
	return key
}

// ReadMap implements ledger.Adapter.
func (c *Chain) ReadMap(ctx context.Context, module, name string, key []byte) ([]byte, bool, error) {
	return c.read(ctx, module, name, key)
}

// ReadMap2 implements ledger.Adapter.
func (c *Chain) ReadMap2(ctx context.Context, module, name string, key1, key2 []byte) ([]byte, bool, error) {
	return c.read(ctx, module, name, key1, key2)
}

func (c *Chain) read(ctx context.Context, module, name string, keys ...[]byte) ([]byte, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	key, err := stateKey(module, name, keys...)
	if err != nil {
		return nil, false, err
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	value, err := c.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

// Block returns the block named by at.
func (c *Chain) Block(ctx context.Context, at types.BlockLocator) (*types.Block, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if err := at.Validate(); err != nil {
		return nil, ledger.Invalid(err)
	}
	c.mu.RLock()
	defer c.mu.RUnlock()

	hash := []byte(at.Hash)
	if !at.ByHash && len(hash) == 0 {
		stored, err := c.db.Get(heightKey(at.Height))
		if errors.Is(err, storage.ErrNotFound) {
			return nil, fmt.Errorf("%w: height %d", ledger.ErrBlockNotFound, at.Height)
		}
		if err != nil {
			return nil, err
		}
		hash = stored
	}
	raw, err := c.db.Get(blockKey(hash))
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("%w: hash %x", ledger.ErrBlockNotFound, hash)
	}
	if err != nil {
		return nil, err
	}
	var block types.Block
	if err := json.Unmarshal(raw, &block); err != nil {
		return nil, fmt.Errorf("chain: decode block: %w", err)
	}
	if computed, err := block.Header.Hash(); err != nil || !bytes.Equal(computed, hash) {
		return nil, fmt.Errorf("chain: block %x failed integrity check", hash)
	}
	return &block, nil
}

// ReadBlockCalls implements ledger.Adapter.
func (c *Chain) ReadBlockCalls(ctx context.Context, at types.BlockLocator) ([]*types.Call, error) {
	block, err := c.Block(ctx, at)
	if err != nil {
		return nil, err
	}
	if block.Calls == nil {
		return []*types.Call{}, nil
	}
	return block.Calls, nil
}

// ReadBlockEvents implements ledger.Adapter.
func (c *Chain) ReadBlockEvents(ctx context.Context, at types.BlockLocator) ([]*types.Event, error) {
	block, err := c.Block(ctx, at)
	if err != nil {
		return nil, err
	}
	if block.Events == nil {
		return []*types.Event{}, nil
	}
	return block.Events, nil
}
