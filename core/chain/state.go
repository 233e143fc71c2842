package chain

import (
	"encoding/hex"
	"errors"
	"strings"

	"accumreg/storage"
)

var errMapArity = errors.New("chain: maps take one or two keys")

// stateKey lays out module maps as s/<module>/<name>/<hex key1>[/<hex key2>].
func stateKey(module, name string, keys ...[]byte) ([]byte, error) {
	if len(keys) == 0 || len(keys) > 2 {
		return nil, errMapArity
	}
	var b strings.Builder
	b.WriteString(prefixState)
	b.WriteString(module)
	b.WriteByte('/')
	b.WriteString(name)
	for _, k := range keys {
		b.WriteByte('/')
		b.WriteString(hex.EncodeToString(k))
	}
	return []byte(b.String()), nil
}

// overlay buffers one call's writes on top of committed state. Nothing
// reaches the database unless the call succeeds and its block is written.
type overlay struct {
	db     storage.Database
	module string
	writes map[string][]byte
	order  []string
}

func newOverlay(db storage.Database, module string) *overlay {
	return &overlay{db: db, module: module, writes: make(map[string][]byte)}
}

func (o *overlay) Get(name string, keys ...[]byte) ([]byte, bool, error) {
	key, err := stateKey(o.module, name, keys...)
	if err != nil {
		return nil, false, err
	}
	if value, ok := o.writes[string(key)]; ok {
		if value == nil {
			return nil, false, nil
		}
		return append([]byte(nil), value...), true, nil
	}
	value, err := o.db.Get(key)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	return value, true, nil
}

func (o *overlay) Put(name string, value []byte, keys ...[]byte) error {
	key, err := stateKey(o.module, name, keys...)
	if err != nil {
		return err
	}
	if value == nil {
		value = []byte{}
	}
	o.record(string(key), append([]byte(nil), value...))
	return nil
}

func (o *overlay) Delete(name string, keys ...[]byte) error {
	key, err := stateKey(o.module, name, keys...)
	if err != nil {
		return err
	}
	o.record(string(key), nil)
	return nil
}

func (o *overlay) record(key string, value []byte) {
	if _, seen := o.writes[key]; !seen {
		o.order = append(o.order, key)
	}
	o.writes[key] = value
}

// flush appends the buffered writes to batch in first-write order.
func (o *overlay) flush(batch *storage.Batch) {
	for _, key := range o.order {
		value := o.writes[key]
		if value == nil {
			batch.Delete([]byte(key))
			continue
		}
		batch.Put([]byte(key), value)
	}
}
