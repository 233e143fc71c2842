package accumulator

import (
	"fmt"

	"github.com/ethereum/go-ethereum/rlp"

	"accumreg/core/identity"
)

// OptionalList encodes an optional byte-string list. Present distinguishes an
// absent list from an empty one.
type OptionalList struct {
	Present bool
	Items   [][]byte
}

// OptionalBytes encodes an optional byte string.
type OptionalBytes struct {
	Present bool
	Value   []byte
}

func someList(items [][]byte) OptionalList {
	if items == nil {
		return OptionalList{}
	}
	return OptionalList{Present: true, Items: items}
}

func (l OptionalList) list() [][]byte {
	if !l.Present {
		return nil
	}
	out := make([][]byte, 0, len(l.Items))
	for _, item := range l.Items {
		out = append(out, append([]byte{}, item...))
	}
	return out
}

func someBytes(b []byte) OptionalBytes {
	if b == nil {
		return OptionalBytes{}
	}
	return OptionalBytes{Present: true, Value: b}
}

func (b OptionalBytes) bytes() []byte {
	if !b.Present {
		return nil
	}
	return append([]byte{}, b.Value...)
}

// StoredAccumulator is the ledger encoding of an accumulator: a variant tag,
// the shared payload and the universal-only max size.
type StoredAccumulator struct {
	Variant uint8
	Common  Common
	MaxSize uint64
	Nonce   uint64
}

// AddArgs are the arguments of MethodAdd.
type AddArgs struct {
	ID          ID
	Variant     uint8
	Accumulated []byte
	KeyRef      identity.Reference
	MaxSize     uint64
}

// UpdateArgs are the arguments of MethodUpdate.
type UpdateArgs struct {
	ID                ID
	NewAccumulated    []byte
	Additions         OptionalList
	Removals          OptionalList
	WitnessUpdateInfo OptionalBytes
	Created           uint64
	Nonce             uint64
}

// RemoveArgs are the arguments of MethodRemove.
type RemoveArgs struct {
	ID      ID
	Created uint64
	Nonce   uint64
}

// Record converts decoded update arguments into an UpdateRecord.
func (a *UpdateArgs) Record() UpdateRecord {
	return UpdateRecord{
		ID:                a.ID,
		NewAccumulated:    append([]byte(nil), a.NewAccumulated...),
		Additions:         a.Additions.list(),
		Removals:          a.Removals.list(),
		WitnessUpdateInfo: a.WitnessUpdateInfo.bytes(),
	}
}

// VariantValue returns the typed variant of the stored accumulator.
func (s *StoredAccumulator) VariantValue() (Variant, error) {
	shared := s.Common
	shared.Accumulated = append([]byte(nil), s.Common.Accumulated...)
	switch Kind(s.Variant) {
	case KindPositive:
		return &Positive{Common: shared}, nil
	case KindUniversal:
		return &Universal{Common: shared, MaxSize: s.MaxSize}, nil
	default:
		return nil, fmt.Errorf("accumulator: unknown variant tag %d", s.Variant)
	}
}

// view decodes the stored variant into the uniform View.
func (s *StoredAccumulator) view(id ID) (*View, error) {
	variant, err := s.VariantValue()
	if err != nil {
		return nil, err
	}
	base := variant.Base()
	v := &View{
		ID:           id,
		Kind:         variant.Kind(),
		Accumulated:  base.Accumulated,
		KeyRef:       base.KeyRef,
		Created:      base.Created,
		LastModified: base.LastModified,
		Nonce:        s.Nonce,
	}
	if u, ok := variant.(*Universal); ok {
		maxSize := u.MaxSize
		v.MaxSize = &maxSize
	}
	return v, nil
}

func decodeStored(raw []byte) (*StoredAccumulator, error) {
	var stored StoredAccumulator
	if err := rlp.DecodeBytes(raw, &stored); err != nil {
		return nil, fmt.Errorf("accumulator: decode state: %w", err)
	}
	return &stored, nil
}
