package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"nhooyr.io/websocket"

	"accumreg/core/types"
	"accumreg/ledger"
)

const wsWriteTimeout = 10 * time.Second

// BlockFeed is implemented by backends that can stream sealed blocks.
type BlockFeed interface {
	Subscribe(ctx context.Context) (<-chan *types.Block, func())
	Block(ctx context.Context, at types.BlockLocator) (*types.Block, error)
}

// BlockUpdate is one websocket frame on /ws/blocks.
type BlockUpdate struct {
	Height    uint64         `json:"height"`
	Hash      hexutil.Bytes  `json:"hash"`
	Timestamp int64          `json:"timestamp"`
	Calls     []*types.Call  `json:"calls"`
	Events    []*types.Event `json:"events"`
}

func blockUpdateFrom(block *types.Block) (BlockUpdate, error) {
	hash, err := block.Header.Hash()
	if err != nil {
		return BlockUpdate{}, err
	}
	update := BlockUpdate{
		Height:    block.Header.Height,
		Hash:      hash,
		Timestamp: block.Header.Timestamp,
		Calls:     block.Calls,
		Events:    block.Events,
	}
	if update.Calls == nil {
		update.Calls = []*types.Call{}
	}
	if update.Events == nil {
		update.Events = []*types.Event{}
	}
	return update, nil
}

// handleBlocksWS streams sealed blocks. With ?from=N the blocks from N up to
// the current head are replayed before live blocks follow.
func (s *Server) handleBlocksWS(w http.ResponseWriter, r *http.Request) {
	blockFeed, ok := s.backend.(BlockFeed)
	if !ok {
		http.Error(w, "block stream unavailable", http.StatusServiceUnavailable)
		return
	}
	var (
		from   uint64
		replay bool
	)
	if raw := strings.TrimSpace(r.URL.Query().Get("from")); raw != "" {
		parsed, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			http.Error(w, "invalid from height", http.StatusBadRequest)
			return
		}
		from, replay = parsed, true
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: s.cfg.AllowedOrigins})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// Reads are never expected; CloseRead handles control frames and
	// cancels ctx once the peer goes away.
	ctx := conn.CloseRead(r.Context())
	if err := s.streamBlocks(ctx, conn, blockFeed, from, replay); err != nil {
		if websocket.CloseStatus(err) == -1 && !errors.Is(err, context.Canceled) {
			s.logger.Debug("block stream ended", slog.Any("error", err))
			_ = conn.Close(websocket.StatusInternalError, "stream error")
		}
	}
}

func (s *Server) streamBlocks(ctx context.Context, conn *websocket.Conn, blockFeed BlockFeed, from uint64, replay bool) error {
	blocks, cancel := blockFeed.Subscribe(ctx)
	defer cancel()

	var sent uint64
	sentAny := false
	if replay {
		head, _ := s.backend.Head()
		for height := from; height <= head; height++ {
			block, err := blockFeed.Block(ctx, types.AtHeight(height))
			if errors.Is(err, ledger.ErrBlockNotFound) {
				break
			}
			if err != nil {
				return err
			}
			if err := writeBlockUpdate(ctx, conn, block); err != nil {
				return err
			}
			sent, sentAny = height, true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case block, ok := <-blocks:
			if !ok {
				return nil
			}
			if sentAny && block.Header.Height <= sent {
				continue
			}
			if err := writeBlockUpdate(ctx, conn, block); err != nil {
				return err
			}
			sent, sentAny = block.Header.Height, true
		}
	}
}

func writeBlockUpdate(ctx context.Context, conn *websocket.Conn, block *types.Block) error {
	update, err := blockUpdateFrom(block)
	if err != nil {
		return err
	}
	data, err := json.Marshal(update)
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
