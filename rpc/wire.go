package rpc

import (
	"encoding/json"

	"github.com/ethereum/go-ethereum/common/hexutil"

	"accumreg/core/types"
)

const jsonRPCVersion = "2.0"

// JSON-RPC method names served by the ledger endpoint.
const (
	MethodSubmit      = "ledger_submit"
	MethodReadMap     = "ledger_readMap"
	MethodReadMap2    = "ledger_readMap2"
	MethodBlockCalls  = "ledger_blockCalls"
	MethodBlockEvents = "ledger_blockEvents"
	MethodHead        = "ledger_head"
)

// Error codes. The -320xx range is reserved for implementation errors.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeServerError    = -32000
	CodeUnauthorized   = -32001
	CodeNotFound       = -32004
	CodeRateLimited    = -32020
	CodeRejected       = -32030
)

// Request is a JSON-RPC 2.0 request envelope.
type Request struct {
	JSONRPC string            `json:"jsonrpc"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params"`
	ID      json.RawMessage   `json:"id,omitempty"`
}

// Response is a JSON-RPC 2.0 response envelope.
type Response struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id,omitempty"`
	Result  interface{}     `json:"result,omitempty"`
	Error   *Error          `json:"error,omitempty"`
}

// Error is the JSON-RPC error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ReadMapParams addresses one entry of a module storage map. Key2 is set for
// double maps only.
type ReadMapParams struct {
	Module string        `json:"module"`
	Name   string        `json:"name"`
	Key    hexutil.Bytes `json:"key"`
	Key2   hexutil.Bytes `json:"key2,omitempty"`
}

// ReadMapResult reports a map read. Value is omitted when Found is false.
type ReadMapResult struct {
	Found bool          `json:"found"`
	Value hexutil.Bytes `json:"value,omitempty"`
}

// SubmitResult is the wire form of ledger.Confirmation.
type SubmitResult struct {
	BlockHeight uint64         `json:"blockHeight"`
	BlockHash   hexutil.Bytes  `json:"blockHash"`
	CallHash    hexutil.Bytes  `json:"callHash"`
	Events      []*types.Event `json:"events,omitempty"`
}

// HeadResult describes the latest block.
type HeadResult struct {
	Height uint64        `json:"height"`
	Hash   hexutil.Bytes `json:"hash"`
}

// RejectionData accompanies CodeRejected errors.
type RejectionData struct {
	Module string `json:"module"`
	Method string `json:"method"`
	Reason string `json:"reason"`
}
