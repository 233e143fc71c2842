package types

import (
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rlp"
	"lukechampine.com/blake3"

	"accumreg/core/identity"
	"accumreg/crypto"
)

// signingDomain separates call signatures from any other payload signed with
// the same controller key.
const signingDomain = "accumreg/call/v2"

var (
	// ErrCallIncomplete is returned when a call lacks its module or method.
	ErrCallIncomplete = errors.New("types: call module and method required")
)

// Call is a state-change request addressed to a ledger module. Args carries the
// RLP encoding of the method arguments; Signature is a recoverable secp256k1
// signature by a controller of Signer over SigningDigest. Nonce is the
// signer's call sequence number: the ledger accepts a call only when it is
// exactly one above the last nonce it applied for Signer.
type Call struct {
	Module    string            `json:"module"`
	Method    string            `json:"method"`
	Signer    identity.Identity `json:"signer"`
	Nonce     uint64            `json:"nonce"`
	Args      hexutil.Bytes     `json:"args"`
	Signature hexutil.Bytes     `json:"signature,omitempty"`
}

// NewCall encodes args and returns an unsigned call.
func NewCall(module, method string, signer identity.Identity, nonce uint64, args interface{}) (*Call, error) {
	if module == "" || method == "" {
		return nil, ErrCallIncomplete
	}
	encoded, err := rlp.EncodeToBytes(args)
	if err != nil {
		return nil, fmt.Errorf("types: encode %s.%s args: %w", module, method, err)
	}
	return &Call{Module: module, Method: method, Signer: signer, Nonce: nonce, Args: encoded}, nil
}

// SigningDigest returns the keccak256 digest a controller signs to authorise
// the call. The signature itself is not part of the digest.
func (c *Call) SigningDigest() ([]byte, error) {
	if c == nil {
		return nil, ErrCallIncomplete
	}
	return SigningDigest(c.Module, c.Method, c.Signer, c.Nonce, c.Args)
}

// SigningDigest computes the digest for the given call coordinates. Callers
// producing signatures offline use it to obtain the exact bytes to sign.
func SigningDigest(module, method string, signer identity.Identity, nonce uint64, args []byte) ([]byte, error) {
	if module == "" || method == "" {
		return nil, ErrCallIncomplete
	}
	payload, err := rlp.EncodeToBytes([]interface{}{signingDomain, module, method, signer, nonce, args})
	if err != nil {
		return nil, err
	}
	return crypto.Keccak256(payload), nil
}

// Is reports whether the call targets module.method.
func (c *Call) Is(module, method string) bool {
	return c != nil && c.Module == module && c.Method == method
}

// DecodeArgs decodes the RLP arguments into out.
func (c *Call) DecodeArgs(out interface{}) error {
	if c == nil {
		return ErrCallIncomplete
	}
	if err := rlp.DecodeBytes(c.Args, out); err != nil {
		return fmt.Errorf("types: decode %s.%s args: %w", c.Module, c.Method, err)
	}
	return nil
}

// Hash returns the BLAKE3 digest of the RLP encoded call, signature included.
func (c *Call) Hash() ([]byte, error) {
	if c == nil {
		return nil, ErrCallIncomplete
	}
	encoded, err := rlp.EncodeToBytes(c)
	if err != nil {
		return nil, err
	}
	sum := blake3.Sum256(encoded)
	return sum[:], nil
}

// Copy returns a deep copy of the call.
func (c *Call) Copy() *Call {
	if c == nil {
		return nil
	}
	return &Call{
		Module:    c.Module,
		Method:    c.Method,
		Signer:    c.Signer,
		Nonce:     c.Nonce,
		Args:      append(hexutil.Bytes(nil), c.Args...),
		Signature: append(hexutil.Bytes(nil), c.Signature...),
	}
}
