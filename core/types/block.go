package types

import (
	"crypto/sha256"
	"encoding/json"
	"errors"

	"github.com/ethereum/go-ethereum/common/hexutil"
)

// ErrInvalidLocator is returned when a block locator names neither a height nor
// a hash.
var ErrInvalidLocator = errors.New("types: block locator requires height or hash")

// BlockHeader commits to the calls applied in a block.
type BlockHeader struct {
	Height    uint64        `json:"height"`
	Timestamp int64         `json:"timestamp"`
	PrevHash  hexutil.Bytes `json:"prevHash"`
	CallsRoot hexutil.Bytes `json:"callsRoot"`
}

// Block is a sealed block: the calls that were applied successfully and the
// events emitted while applying them.
type Block struct {
	Header *BlockHeader `json:"header"`
	Calls  []*Call      `json:"calls"`
	Events []*Event     `json:"events"`
}

// Hash calculates the SHA-256 hash of the block header.
func (h *BlockHeader) Hash() ([]byte, error) {
	b, err := json.Marshal(h)
	if err != nil {
		return nil, err
	}
	hash := sha256.Sum256(b)
	return hash[:], nil
}

// BlockLocator names a block either by hash or by height. A non-empty hash
// takes precedence.
type BlockLocator struct {
	Height uint64        `json:"height,omitempty"`
	Hash   hexutil.Bytes `json:"hash,omitempty"`
	ByHash bool          `json:"byHash,omitempty"`
}

// AtHeight locates the block at the given height.
func AtHeight(height uint64) BlockLocator {
	return BlockLocator{Height: height}
}

// AtHash locates the block with the given header hash.
func AtHash(hash []byte) BlockLocator {
	return BlockLocator{Hash: append(hexutil.Bytes(nil), hash...), ByHash: true}
}

// Validate ensures hash locators carry a hash.
func (l BlockLocator) Validate() error {
	if l.ByHash && len(l.Hash) == 0 {
		return ErrInvalidLocator
	}
	return nil
}
