package params

import (
	"strconv"

	"accumreg/core/identity"
	"accumreg/core/types"
)

const (
	EventParamsAdded      = "paramsAdded"
	EventParamsRemoved    = "paramsRemoved"
	EventPublicKeyAdded   = "publicKeyAdded"
	EventPublicKeyRemoved = "publicKeyRemoved"
)

// EventType qualifies an event name with the module namespace.
func EventType(module, name string) string {
	return module + "." + name
}

// NewReferenceEvent returns the canonical event for a params or key change.
func NewReferenceEvent(module, name string, ref identity.Reference) *types.Event {
	ev := types.NewEvent(EventType(module, name))
	ev.Attributes["owner"] = ref.Owner.String()
	ev.Attributes["counter"] = strconv.FormatUint(ref.Counter, 10)
	return ev
}
