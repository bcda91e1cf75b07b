// Package value implements the Runtime Value of spec §3: a tagged value
// supporting null, boolean, signed integer, double, string, ordered sequence,
// and string-keyed mapping. Normalize canonicalizes the values the sandbox
// exports out of the goja VM (host-function arguments and handler return
// values), so host code sees a fixed set of dynamic types. Values an
// embedder passes in (state snapshot, args, scope, resume values) reach the
// VM as supplied, without passing through Normalize.
package value

import (
	"fmt"
	"sort"
)

// Value is a Runtime Value. Concrete dynamic types are restricted to:
// nil, bool, int64, float64, string, []Value, map[string]Value.
// Any other dynamic type passed to Normalize is a programmer error.
type Value = any

// Map is a convenience alias for the mapping variant, ordered for display
// purposes by SortedKeys() but stored as a plain map (spec's state_keys() operation
// imposes its own ordering separately; see capability/host bridge).
type Map = map[string]Value

// Seq is the ordered-sequence variant.
type Seq = []Value

// Normalize coerces common Go numeric types (int, int32, uint, etc.) that
// may arrive from host-side callers into the canonical int64/float64 pair,
// and recursively normalizes sequences and maps. It leaves already-canonical
// values untouched. Returns an error if a value of an unsupported dynamic
// type is encountered.
func Normalize(v Value) (Value, error) {
	switch t := v.(type) {
	case nil, bool, int64, float64, string:
		return t, nil
	case int:
		return int64(t), nil
	case int32:
		return int64(t), nil
	case uint:
		return int64(t), nil
	case uint32:
		return int64(t), nil
	case uint64:
		return int64(t), nil
	case float32:
		return float64(t), nil
	case Seq:
		out := make(Seq, len(t))
		for i, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[i] = n
		}
		return out, nil
	case Map:
		out := make(Map, len(t))
		for k, e := range t {
			n, err := Normalize(e)
			if err != nil {
				return nil, err
			}
			out[k] = n
		}
		return out, nil
	default:
		return nil, fmt.Errorf("value: unsupported dynamic type %T", v)
	}
}

// Kind names the tag of a normalized Value, for type-checking (spec §7
// type_mismatch) and diagnostics.
type Kind string

const (
	KindNull   Kind = "null"
	KindBool   Kind = "bool"
	KindInt    Kind = "int"
	KindDouble Kind = "double"
	KindString Kind = "string"
	KindSeq    Kind = "sequence"
	KindMap    Kind = "map"
)

// KindOf reports the Kind of a normalized Value.
func KindOf(v Value) Kind {
	switch v.(type) {
	case nil:
		return KindNull
	case bool:
		return KindBool
	case int64:
		return KindInt
	case float64:
		return KindDouble
	case string:
		return KindString
	case Seq:
		return KindSeq
	case Map:
		return KindMap
	default:
		return KindNull
	}
}

// SortedKeys returns the keys of a Map in deterministic ascending order,
// used by state_keys() (spec §4.5) which must return an ordered list.
func SortedKeys(m Map) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Equal reports deep equality between two normalized Values, used by tests.
func Equal(a, b Value) bool {
	na, err := Normalize(a)
	if err != nil {
		return false
	}
	nb, err := Normalize(b)
	if err != nil {
		return false
	}
	return deepEqual(na, nb)
}

func deepEqual(a, b Value) bool {
	if KindOf(a) != KindOf(b) {
		return false
	}
	switch av := a.(type) {
	case Seq:
		bv := b.(Seq)
		if len(av) != len(bv) {
			return false
		}
		for i := range av {
			if !deepEqual(av[i], bv[i]) {
				return false
			}
		}
		return true
	case Map:
		bv := b.(Map)
		if len(av) != len(bv) {
			return false
		}
		for k, ev := range av {
			bev, ok := bv[k]
			if !ok || !deepEqual(ev, bev) {
				return false
			}
		}
		return true
	default:
		return av == b
	}
}
