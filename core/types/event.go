package types

import "strings"

// Event represents a typed event emitted during state transitions.
type Event struct {
	Type       string            `json:"type"`
	Attributes map[string]string `json:"attributes"`
}

// NewEvent returns an event with an initialised attribute map.
func NewEvent(eventType string) *Event {
	return &Event{Type: eventType, Attributes: make(map[string]string)}
}

// Module returns the module namespace of the event type ("accumulator" for
// "accumulator.updated").
func (e *Event) Module() string {
	if e == nil {
		return ""
	}
	module, _, _ := strings.Cut(e.Type, ".")
	return module
}

// Attr returns the named attribute.
func (e *Event) Attr(key string) (string, bool) {
	if e == nil || e.Attributes == nil {
		return "", false
	}
	v, ok := e.Attributes[key]
	return v, ok
}
