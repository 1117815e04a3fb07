package vm

import (
	"strings"

	"peakrules/pkg/errors"
)

// DictObject is an insertion-ordered mapping from hashable values to values.
type DictObject struct {
	keys   []Value
	values []Value
	index  map[string]int
}

func NewDict() *DictObject {
	return &DictObject{index: make(map[string]int)}
}

func (d *DictObject) Len() int { return len(d.keys) }

// Keys returns the keys in insertion order. The slice must not be modified.
func (d *DictObject) Keys() []Value { return d.keys }

func (d *DictObject) Get(key Value) (Value, bool, error) {
	k, ok := key.hashKey()
	if !ok {
		return None, false, errors.NewRuntimeError(errors.ErrTypeMismatch, "unhashable type: %s", key.typ)
	}
	i, found := d.index[k]
	if !found {
		return None, false, nil
	}
	return d.values[i], true, nil
}

func (d *DictObject) Set(key, value Value) error {
	k, ok := key.hashKey()
	if !ok {
		return errors.NewRuntimeError(errors.ErrTypeMismatch, "unhashable type: %s", key.typ)
	}
	if i, found := d.index[k]; found {
		d.values[i] = value
		return nil
	}
	d.index[k] = len(d.keys)
	d.keys = append(d.keys, key)
	d.values = append(d.values, value)
	return nil
}

func (d *DictObject) Contains(key Value) (bool, error) {
	_, found, err := d.Get(key)
	return found, err
}

func (d *DictObject) equal(other *DictObject) bool {
	if d.Len() != other.Len() {
		return false
	}
	for i, k := range d.keys {
		v, found, err := other.Get(k)
		if err != nil || !found || !Equal(d.values[i], v) {
			return false
		}
	}
	return true
}

func (d *DictObject) String() string {
	var sb strings.Builder
	sb.WriteByte('{')
	for i, k := range d.keys {
		if i > 0 {
			sb.WriteString(", ")
		}
		sb.WriteString(k.String())
		sb.WriteString(": ")
		sb.WriteString(d.values[i].String())
	}
	sb.WriteByte('}')
	return sb.String()
}
