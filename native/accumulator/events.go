package accumulator

import (
	"encoding/hex"
	"strconv"
	"strings"

	"accumreg/core/types"
)

const (
	// EventTypeAdded is emitted when an accumulator is created.
	EventTypeAdded = ModuleName + ".added"
	// EventTypeUpdated is emitted when an update call succeeds.
	EventTypeUpdated = ModuleName + ".updated"
	// EventTypeRemoved is emitted when an accumulator is removed.
	EventTypeRemoved = ModuleName + ".removed"
)

// NewAddedEvent returns the canonical creation event.
func NewAddedEvent(id ID, kind Kind, height uint64) *types.Event {
	ev := types.NewEvent(EventTypeAdded)
	ev.Attributes["id"] = id.String()
	ev.Attributes["kind"] = kind.String()
	ev.Attributes["created"] = strconv.FormatUint(height, 10)
	return ev
}

// NewUpdatedEvent returns the canonical update-success event.
func NewUpdatedEvent(id ID, accumulated []byte) *types.Event {
	ev := types.NewEvent(EventTypeUpdated)
	ev.Attributes["id"] = id.String()
	ev.Attributes["accumulated"] = "0x" + hex.EncodeToString(accumulated)
	return ev
}

// NewRemovedEvent returns the canonical removal event.
func NewRemovedEvent(id ID) *types.Event {
	ev := types.NewEvent(EventTypeRemoved)
	ev.Attributes["id"] = id.String()
	return ev
}

// ClassifyEvent recognises the update-success event and extracts the
// accumulator id and new accumulated value. Every other event, including
// failure events and other accumulator events, yields ok=false.
func ClassifyEvent(ev *types.Event) (id ID, accumulated []byte, ok bool) {
	if ev == nil || ev.Type != EventTypeUpdated {
		return ID{}, nil, false
	}
	rawID, hasID := ev.Attr("id")
	rawAcc, hasAcc := ev.Attr("accumulated")
	if !hasID || !hasAcc {
		return ID{}, nil, false
	}
	parsed, err := ParseID(rawID)
	if err != nil {
		return ID{}, nil, false
	}
	acc, err := hex.DecodeString(strings.TrimPrefix(rawAcc, "0x"))
	if err != nil {
		return ID{}, nil, false
	}
	return parsed, acc, true
}
