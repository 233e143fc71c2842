package accumulator

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"accumreg/core/identity"
	"accumreg/ledger"
	"accumreg/native/params"
)

// ModuleName is the ledger module holding accumulators and their own
// params/public-key registry.
const ModuleName = "accumulator"

const (
	// MapAccumulators holds accumulators keyed by id.
	MapAccumulators = "Accumulators"

	MethodAdd    = "addAccumulator"
	MethodUpdate = "updateAccumulator"
	MethodRemove = "removeAccumulator"
)

var (
	// ErrInvalidID is returned for a zero or malformed accumulator id.
	ErrInvalidID = errors.New("accumulator: invalid id")
	// ErrMissingAccumulated is returned when the accumulated value is absent.
	ErrMissingAccumulated = errors.New("accumulator: accumulated value required")
	// ErrInvalidByteArrayElement is returned when an additions or removals
	// list, or the witness update info, contains a malformed byte string.
	ErrInvalidByteArrayElement = errors.New("accumulator: invalid byte array element")
	// ErrDanglingKeyReference is returned when an accumulator's public key was
	// removed and key resolution was requested.
	ErrDanglingKeyReference = errors.New("accumulator: referenced public key not found")

	// Ledger-side rejections.
	ErrAccumulatorExists   = errors.New("accumulator: id already in use")
	ErrAccumulatorNotFound = errors.New("accumulator: not found")
	ErrKeyNotFound         = errors.New("accumulator: public key not found")
	ErrUnauthorized        = errors.New("accumulator: signer does not own the accumulator key")
	ErrStaleCreated        = errors.New("accumulator: created height mismatch")
	ErrStaleNonce          = errors.New("accumulator: nonce mismatch")
)

// ID is the caller-chosen 32-byte accumulator identifier. It is unique only
// among live accumulators and may be reused after removal.
type ID [32]byte

// IsZero reports whether the id is unset.
func (id ID) IsZero() bool { return id == ID{} }

func (id ID) String() string { return "0x" + hex.EncodeToString(id[:]) }

// MarshalText implements encoding.TextMarshaler.
func (id ID) MarshalText() ([]byte, error) { return []byte(id.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *ID) UnmarshalText(text []byte) error {
	parsed, err := ParseID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// ParseID decodes a hex id with or without 0x prefix.
func ParseID(s string) (ID, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(s), "0x"))
	if err != nil {
		return ID{}, fmt.Errorf("%w: %v", ErrInvalidID, err)
	}
	if len(raw) != len(ID{}) {
		return ID{}, fmt.Errorf("%w: expected 32 bytes, got %d", ErrInvalidID, len(raw))
	}
	var id ID
	copy(id[:], raw)
	return id, nil
}

// Kind tags the accumulator variant.
type Kind uint8

const (
	KindPositive Kind = iota + 1
	KindUniversal
)

func (k Kind) String() string {
	switch k {
	case KindPositive:
		return "Positive"
	case KindUniversal:
		return "Universal"
	default:
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
}

// Common is the payload shared by every accumulator variant.
type Common struct {
	Accumulated  []byte
	KeyRef       identity.Reference
	Created      uint64
	LastModified uint64
}

// Variant is the tagged union of accumulator kinds.
type Variant interface {
	Kind() Kind
	Base() *Common
}

// Positive accumulators support membership proofs only.
type Positive struct {
	Common
}

// Kind implements Variant.
func (p *Positive) Kind() Kind { return KindPositive }

// Base implements Variant.
func (p *Positive) Base() *Common { return &p.Common }

// Universal accumulators support membership and non-membership proofs.
// MaxSize is advisory metadata and is not enforced by the ledger.
type Universal struct {
	Common
	MaxSize uint64
}

// Kind implements Variant.
func (u *Universal) Kind() Kind { return KindUniversal }

// Base implements Variant.
func (u *Universal) Base() *Common { return &u.Common }

// View is the uniform read shape of an accumulator.
type View struct {
	ID           ID                 `json:"id"`
	Kind         Kind               `json:"kind"`
	Accumulated  []byte             `json:"accumulated"`
	KeyRef       identity.Reference `json:"keyRef"`
	MaxSize      *uint64            `json:"maxSize,omitempty"`
	Created      uint64             `json:"created"`
	LastModified uint64             `json:"lastModified"`
	Nonce        uint64             `json:"nonce"`
	// PublicKey is set when the view was read with key resolution.
	PublicKey *params.PublicKey `json:"publicKey,omitempty"`
}

// Update is the batch applied by an update call. A nil field is absent; a
// non-nil empty Additions or Removals is an empty batch and stays distinct.
type Update struct {
	Additions         [][]byte
	Removals          [][]byte
	WitnessUpdateInfo []byte
}

// UpdateRecord is an update reconstructed from a block. Additions, Removals
// and WitnessUpdateInfo are nil exactly when the call omitted them.
type UpdateRecord struct {
	ID                ID       `json:"id"`
	NewAccumulated    []byte   `json:"newAccumulated"`
	Additions         [][]byte `json:"additions"`
	Removals          [][]byte `json:"removals"`
	WitnessUpdateInfo []byte   `json:"witnessUpdateInfo"`
}

// EnsureByteArray checks a single byte string.
func EnsureByteArray(b []byte) error {
	if len(b) == 0 {
		return ledger.Invalid(fmt.Errorf("%w: empty byte string", ErrInvalidByteArrayElement))
	}
	return nil
}

// EnsureByteArrayList checks that every element is a non-empty byte string.
// An empty list is valid.
func EnsureByteArrayList(list [][]byte) error {
	for i, item := range list {
		if len(item) == 0 {
			return ledger.Invalid(fmt.Errorf("%w: element %d is empty", ErrInvalidByteArrayElement, i))
		}
	}
	return nil
}

// DecodeHexList converts hex strings (with or without 0x) into a byte list.
// A nil input yields a nil (absent) list.
func DecodeHexList(items []string) ([][]byte, error) {
	if items == nil {
		return nil, nil
	}
	out := make([][]byte, 0, len(items))
	for i, item := range items {
		raw, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(item), "0x"))
		if err != nil {
			return nil, ledger.Invalid(fmt.Errorf("%w: element %d: %v", ErrInvalidByteArrayElement, i, err))
		}
		out = append(out, raw)
	}
	if err := EnsureByteArrayList(out); err != nil {
		return nil, err
	}
	return out, nil
}
