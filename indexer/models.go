package indexer

import (
	"encoding/json"
	"time"

	"gorm.io/gorm"

	"accumreg/core/types"
)

// Event is one indexed ledger event.
type Event struct {
	ID         uint   `gorm:"primaryKey"`
	Height     uint64 `gorm:"index;not null"`
	Position   int    `gorm:"not null"`
	Module     string `gorm:"size:64;index"`
	Type       string `gorm:"size:128;index"`
	Subject    string `gorm:"size:256;index"`
	Attributes string `gorm:"type:text"`
	CreatedAt  time.Time
}

// Cursor records the last block height a named indexer has consumed.
type Cursor struct {
	Name      string `gorm:"primaryKey;size:64"`
	Height    uint64 `gorm:"not null"`
	UpdatedAt time.Time
}

// AutoMigrate creates or updates the index tables.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Event{}, &Cursor{})
}

// Attrs decodes the stored attribute map.
func (e *Event) Attrs() (map[string]string, error) {
	out := make(map[string]string)
	if e.Attributes == "" {
		return out, nil
	}
	if err := json.Unmarshal([]byte(e.Attributes), &out); err != nil {
		return nil, err
	}
	return out, nil
}

// Ledger converts the row back to a ledger event.
func (e *Event) Ledger() (*types.Event, error) {
	attrs, err := e.Attrs()
	if err != nil {
		return nil, err
	}
	return &types.Event{Type: e.Type, Attributes: attrs}, nil
}

// subject picks the entity an event is about: the accumulator id, the
// registry owner or, for failure events, the signer.
func subject(ev *types.Event) string {
	for _, key := range []string{"id", "owner", "signer"} {
		if v, ok := ev.Attr(key); ok {
			return v
		}
	}
	return ""
}

func eventModule(ev *types.Event) string {
	if module, ok := ev.Attr("module"); ok && module != "" {
		return module
	}
	return ev.Module()
}

func newEventRow(height uint64, position int, ev *types.Event) (Event, error) {
	attrs := ev.Attributes
	if attrs == nil {
		attrs = map[string]string{}
	}
	encoded, err := json.Marshal(attrs)
	if err != nil {
		return Event{}, err
	}
	return Event{
		Height:     height,
		Position:   position,
		Module:     eventModule(ev),
		Type:       ev.Type,
		Subject:    subject(ev),
		Attributes: string(encoded),
	}, nil
}
