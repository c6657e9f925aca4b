/*
index.go Bidirectional mapping between external device identifiers (idx) and the
dense zero-based positions (uid) used to address attribute arrays.
*/

package index

import (
	"errors"
	"fmt"
	"math"
	"reflect"
)

// NoUID is the position returned for a nil identifier.
const NoUID = -1

var (
	// ErrDuplicateKey is returned when an identifier is registered twice.
	ErrDuplicateKey = errors.New("index: duplicate idx")

	// ErrLookup is returned when an identifier was never registered.
	ErrLookup = errors.New("index: idx not found")
)

// Index assigns uids to idx in insertion order. A uid is never renumbered.
type Index struct {
	name string
	idx  []interface{}
	uid  map[interface{}]int
}

// New returns an empty Index owned by the named collection.
func New(name string) *Index {
	return &Index{
		name: name,
		idx:  make([]interface{}, 0),
		uid:  make(map[interface{}]int),
	}
}

// Name is the owning collection's name.
func (x Index) Name() string {
	return x.name
}

// Len is the number of registered identifiers.
func (x Index) Len() int {
	return len(x.idx)
}

// Idx returns a copy of the identifiers in uid order.
func (x Index) Idx() []interface{} {
	out := make([]interface{}, len(x.idx))
	copy(out, x.idx)
	return out
}

// Has reports whether idx is registered.
func (x Index) Has(idx interface{}) bool {
	if idx == nil || !reflect.TypeOf(idx).Comparable() {
		return false
	}
	_, ok := x.uid[Normalize(idx)]
	return ok
}

// Register appends idx and returns its uid.
func (x *Index) Register(idx interface{}) (int, error) {
	if idx == nil {
		return NoUID, fmt.Errorf("<%s>: cannot register nil idx: %w", x.name, ErrLookup)
	}
	if !reflect.TypeOf(idx).Comparable() {
		return NoUID, fmt.Errorf("<%s>: idx=%v is not a scalar identifier: %w", x.name, idx, ErrLookup)
	}
	key := Normalize(idx)
	if _, exists := x.uid[key]; exists {
		return NoUID, fmt.Errorf("<%s>: idx=%v already registered: %w", x.name, idx, ErrDuplicateKey)
	}
	uid := len(x.idx)
	x.uid[key] = uid
	x.idx = append(x.idx, key)
	return uid, nil
}

// UID resolves a single identifier. A nil idx resolves to NoUID without error;
// callers decide whether a missing device is acceptable.
func (x Index) UID(idx interface{}) (int, error) {
	if idx == nil {
		return NoUID, nil
	}
	if !reflect.TypeOf(idx).Comparable() {
		return NoUID, fmt.Errorf("<%s>: idx=%v is not a scalar identifier: %w", x.name, idx, ErrLookup)
	}
	uid, ok := x.uid[Normalize(idx)]
	if !ok {
		return NoUID, fmt.Errorf("<%s>: device not exist with idx=%v: %w", x.name, idx, ErrLookup)
	}
	return uid, nil
}

// UIDs resolves a sequence of identifiers, keeping order, length and repeats.
// Nested slices are flattened one level first.
func (x Index) UIDs(idx []interface{}) ([]int, error) {
	if idx == nil {
		return nil, nil
	}
	flat := Flatten(idx)
	uids := make([]int, len(flat))
	for i, v := range flat {
		if v == nil {
			uids[i] = NoUID
			continue
		}
		uid, err := x.UID(v)
		if err != nil {
			return nil, err
		}
		uids[i] = uid
	}
	return uids, nil
}

// Flatten expands nested slices of any element type by one level.
func Flatten(idx []interface{}) []interface{} {
	nested := false
	for _, v := range idx {
		if isSlice(v) {
			nested = true
			break
		}
	}
	if !nested {
		return idx
	}
	flat := make([]interface{}, 0, len(idx))
	for _, v := range idx {
		switch {
		case !isSlice(v):
			flat = append(flat, v)
		default:
			if inner, ok := v.([]interface{}); ok {
				flat = append(flat, inner...)
				continue
			}
			rv := reflect.ValueOf(v)
			for i := 0; i < rv.Len(); i++ {
				flat = append(flat, rv.Index(i).Interface())
			}
		}
	}
	return flat
}

func isSlice(v interface{}) bool {
	return v != nil && reflect.TypeOf(v).Kind() == reflect.Slice
}

// Normalize collapses integer kinds and integral floats to int so that 1,
// int64(1) and 1.0 address the same device.
func Normalize(idx interface{}) interface{} {
	switch v := idx.(type) {
	case int:
		return v
	case int8:
		return int(v)
	case int16:
		return int(v)
	case int32:
		return int(v)
	case int64:
		return int(v)
	case uint:
		return int(v)
	case uint8:
		return int(v)
	case uint16:
		return int(v)
	case uint32:
		return int(v)
	case uint64:
		return int(v)
	case float32:
		return normalizeFloat(float64(v))
	case float64:
		return normalizeFloat(v)
	}
	return idx
}

func normalizeFloat(f float64) interface{} {
	if f == math.Trunc(f) && math.Abs(f) < 1<<53 {
		return int(f)
	}
	return f
}

// Strings converts a typed slice of identifiers for use with UIDs.
func Strings(s ...string) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}

// Ints converts a typed slice of identifiers for use with UIDs.
func Ints(s ...int) []interface{} {
	out := make([]interface{}, len(s))
	for i, v := range s {
		out[i] = v
	}
	return out
}
