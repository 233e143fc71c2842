package identity

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/btcsuite/btcutil/bech32"
)

// IdentityLength is the byte length of an owner identity.
const IdentityLength = 32

const (
	didPrefix = "did:acc:"
	bech32HRP = "did"
	hexPrefix = "0x"
)

var (
	// ErrInvalidIdentity is returned when an identity encoding cannot be parsed.
	ErrInvalidIdentity = errors.New("identity: invalid identity")
)

// Identity is the 32-byte DID that owns parameters, public keys and
// accumulators.
type Identity [IdentityLength]byte

// IsZero reports whether the identity is unset.
func (id Identity) IsZero() bool {
	return id == Identity{}
}

// Bytes returns a copy of the raw identity bytes.
func (id Identity) Bytes() []byte {
	out := make([]byte, IdentityLength)
	copy(out, id[:])
	return out
}

// String renders the canonical did:acc:<hex> encoding.
func (id Identity) String() string {
	return didPrefix + hex.EncodeToString(id[:])
}

// Bech32 renders the identity using the bech32 "did" human readable part.
func (id Identity) Bech32() string {
	conv, err := bech32.ConvertBits(id[:], 8, 5, true)
	if err != nil {
		panic(err)
	}
	encoded, err := bech32.Encode(bech32HRP, conv)
	if err != nil {
		panic(err)
	}
	return encoded
}

// MarshalText implements encoding.TextMarshaler.
func (id Identity) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (id *Identity) UnmarshalText(text []byte) error {
	parsed, err := ParseIdentity(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// FromBytes converts a raw 32-byte slice into an identity.
func FromBytes(b []byte) (Identity, error) {
	var id Identity
	if len(b) != IdentityLength {
		return id, fmt.Errorf("%w: expected %d bytes, got %d", ErrInvalidIdentity, IdentityLength, len(b))
	}
	copy(id[:], b)
	if id.IsZero() {
		return Identity{}, fmt.Errorf("%w: zero identity", ErrInvalidIdentity)
	}
	return id, nil
}

// ParseIdentity accepts the canonical did:acc:<hex> form, a 0x-prefixed hex
// string or a bech32 string with the "did" prefix.
func ParseIdentity(s string) (Identity, error) {
	trimmed := strings.TrimSpace(s)
	switch {
	case trimmed == "":
		return Identity{}, fmt.Errorf("%w: empty", ErrInvalidIdentity)
	case strings.HasPrefix(trimmed, didPrefix):
		return parseHex(strings.TrimPrefix(trimmed, didPrefix))
	case strings.HasPrefix(trimmed, hexPrefix):
		return parseHex(strings.TrimPrefix(trimmed, hexPrefix))
	case strings.HasPrefix(strings.ToLower(trimmed), bech32HRP+"1"):
		hrp, decoded, err := bech32.Decode(trimmed)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
		}
		if hrp != bech32HRP {
			return Identity{}, fmt.Errorf("%w: unexpected prefix %q", ErrInvalidIdentity, hrp)
		}
		conv, err := bech32.ConvertBits(decoded, 5, 8, false)
		if err != nil {
			return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
		}
		return FromBytes(conv)
	default:
		return Identity{}, fmt.Errorf("%w: unrecognised encoding %q", ErrInvalidIdentity, trimmed)
	}
}

func parseHex(s string) (Identity, error) {
	raw, err := hex.DecodeString(s)
	if err != nil {
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidIdentity, err)
	}
	return FromBytes(raw)
}

// MustParse is ParseIdentity for constants and tests.
func MustParse(s string) Identity {
	id, err := ParseIdentity(s)
	if err != nil {
		panic(err)
	}
	return id
}
