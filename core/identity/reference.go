package identity

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// ErrInvalidReference is returned when a reference pair is malformed.
var ErrInvalidReference = errors.New("identity: invalid reference")

// Reference names one versioned entity (parameters or public key) by the
// identity that wrote it and the per-owner counter it was assigned.
type Reference struct {
	Owner   Identity
	Counter uint64
}

// NewReference builds a validated reference.
func NewReference(owner Identity, counter uint64) (Reference, error) {
	ref := Reference{Owner: owner, Counter: counter}
	if err := ref.Validate(); err != nil {
		return Reference{}, err
	}
	return ref, nil
}

// Validate ensures the owner is set and the counter is positive.
func (r Reference) Validate() error {
	if r.Owner.IsZero() {
		return fmt.Errorf("%w: owner required", ErrInvalidReference)
	}
	if r.Counter == 0 {
		return fmt.Errorf("%w: counter must be positive", ErrInvalidReference)
	}
	return nil
}

// String renders the reference as owner#counter.
func (r Reference) String() string {
	return r.Owner.String() + "#" + strconv.FormatUint(r.Counter, 10)
}

// MarshalJSON encodes the reference as a two element array.
func (r Reference) MarshalJSON() ([]byte, error) {
	return json.Marshal([]interface{}{r.Owner.String(), r.Counter})
}

// UnmarshalJSON decodes a two element array into the reference.
func (r *Reference) UnmarshalJSON(data []byte) error {
	var pair []interface{}
	decoder := json.NewDecoder(bytes.NewReader(data))
	decoder.UseNumber()
	if err := decoder.Decode(&pair); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	parsed, err := ParseRef(pair)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}

// ParseRef resolves a loosely typed ordered pair into a Reference. The first
// element must resolve to a canonical owner identity and the second to a
// positive integer. Accepted inputs are a Reference, *Reference, [2]interface{}
// and []interface{} or []string of length two.
func ParseRef(v interface{}) (Reference, error) {
	var first, second interface{}
	switch pair := v.(type) {
	case Reference:
		return pair, pair.Validate()
	case *Reference:
		if pair == nil {
			return Reference{}, fmt.Errorf("%w: nil", ErrInvalidReference)
		}
		return *pair, pair.Validate()
	case [2]interface{}:
		first, second = pair[0], pair[1]
	case []interface{}:
		if len(pair) != 2 {
			return Reference{}, fmt.Errorf("%w: expected 2 elements, got %d", ErrInvalidReference, len(pair))
		}
		first, second = pair[0], pair[1]
	case []string:
		if len(pair) != 2 {
			return Reference{}, fmt.Errorf("%w: expected 2 elements, got %d", ErrInvalidReference, len(pair))
		}
		first, second = pair[0], pair[1]
	default:
		return Reference{}, fmt.Errorf("%w: unsupported type %T", ErrInvalidReference, v)
	}

	owner, err := ownerOf(first)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	counter, err := counterOf(second)
	if err != nil {
		return Reference{}, fmt.Errorf("%w: %v", ErrInvalidReference, err)
	}
	return NewReference(owner, counter)
}

func ownerOf(v interface{}) (Identity, error) {
	switch owner := v.(type) {
	case Identity:
		if owner.IsZero() {
			return Identity{}, ErrInvalidIdentity
		}
		return owner, nil
	case [IdentityLength]byte:
		return FromBytes(owner[:])
	case []byte:
		return FromBytes(owner)
	case string:
		return ParseIdentity(owner)
	default:
		return Identity{}, fmt.Errorf("%w: unsupported owner type %T", ErrInvalidIdentity, v)
	}
}

func counterOf(v interface{}) (uint64, error) {
	var counter uint64
	switch n := v.(type) {
	case int:
		if n <= 0 {
			return 0, errors.New("counter must be positive")
		}
		counter = uint64(n)
	case int64:
		if n <= 0 {
			return 0, errors.New("counter must be positive")
		}
		counter = uint64(n)
	case uint32:
		counter = uint64(n)
	case uint64:
		counter = n
	case float64:
		if n != math.Trunc(n) || n <= 0 || n >= 1<<64 {
			return 0, fmt.Errorf("counter %v is not a positive integer", n)
		}
		counter = uint64(n)
	case json.Number:
		parsed, err := strconv.ParseUint(n.String(), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("counter %q: %v", n.String(), err)
		}
		counter = parsed
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(n), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("counter %q: %v", n, err)
		}
		counter = parsed
	default:
		return 0, fmt.Errorf("unsupported counter type %T", v)
	}
	if counter == 0 {
		return 0, errors.New("counter must be positive")
	}
	return counter, nil
}
