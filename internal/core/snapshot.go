package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"hash/fnv"
	"sort"
)

// Snapshot is a structured result of one extraction, held as canonical JSON
// (object keys sorted, insignificant whitespace removed).
//
// The zero value is NoPriorData.
type Snapshot struct {
	raw   []byte
	valid bool
}

// NoPriorData marks a source that has never been stored.
// It is never equal to a real snapshot, including an empty one.
var NoPriorData = Snapshot{}

var errNilSnapshot = errors.New("core: snapshot value is nil")

// NewSnapshot builds a snapshot from any JSON-marshalable value.
func NewSnapshot(v any) (Snapshot, error) {
	if v == nil {
		return Snapshot{}, errNilSnapshot
	}
	b, err := json.Marshal(v)
	if err != nil {
		return Snapshot{}, fmt.Errorf("core: marshal snapshot: %w", err)
	}
	return ParseSnapshot(b)
}

// MustSnapshot is NewSnapshot for static values in tests and fixtures.
func MustSnapshot(v any) Snapshot {
	s, err := NewSnapshot(v)
	if err != nil {
		panic(err)
	}
	return s
}

// ParseSnapshot canonicalizes stored JSON bytes.
func ParseSnapshot(b []byte) (Snapshot, error) {
	v, err := decodeJSON(b)
	if err != nil {
		return Snapshot{}, fmt.Errorf("core: parse snapshot: %w", err)
	}
	if v == nil {
		return Snapshot{}, errNilSnapshot
	}
	out, err := encodeJSON(v)
	if err != nil {
		return Snapshot{}, err
	}
	return Snapshot{raw: out, valid: true}, nil
}

// Present reports whether s holds data (it is not NoPriorData).
func (s Snapshot) Present() bool { return s.valid }

// Bytes returns the canonical JSON. NoPriorData returns nil.
func (s Snapshot) Bytes() []byte {
	if !s.valid {
		return nil
	}
	return bytes.Clone(s.raw)
}

// Decode unmarshals the snapshot into v.
func (s Snapshot) Decode(v any) error {
	if !s.valid {
		return errors.New("core: decode of absent snapshot")
	}
	return json.Unmarshal(s.raw, v)
}

func (s Snapshot) String() string {
	if !s.valid {
		return "<no prior data>"
	}
	return string(s.raw)
}

// Equal reports structural equality. Key order never matters and arrays are
// compared as multisets. NoPriorData only equals NoPriorData.
func (s Snapshot) Equal(o Snapshot) bool {
	if !s.valid || !o.valid {
		return s.valid == o.valid
	}
	if bytes.Equal(s.raw, o.raw) {
		return true
	}
	a, errA := s.orderFree()
	b, errB := o.orderFree()
	if errA != nil || errB != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// Hash is an FNV-64a hash of the order-independent form. NoPriorData hashes to 0.
func (s Snapshot) Hash() uint64 {
	if !s.valid {
		return 0
	}
	b, err := s.orderFree()
	if err != nil {
		b = s.raw
	}
	h := fnv.New64a()
	_, _ = h.Write(b)
	return h.Sum64()
}

func (s Snapshot) orderFree() ([]byte, error) {
	v, err := decodeJSON(s.raw)
	if err != nil {
		return nil, err
	}
	v, err = sortArrays(v)
	if err != nil {
		return nil, err
	}
	return encodeJSON(v)
}

func decodeJSON(b []byte) (any, error) {
	dec := json.NewDecoder(bytes.NewReader(b))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, errors.New("trailing data after JSON value")
	}
	return v, nil
}

// encodeJSON writes v without HTML escaping. Maps marshal with sorted keys.
func encodeJSON(v any) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, fmt.Errorf("core: encode snapshot: %w", err)
	}
	return bytes.TrimRight(buf.Bytes(), "\n"), nil
}

// sortArrays normalizes nested arrays into a deterministic element order.
func sortArrays(v any) (any, error) {
	switch t := v.(type) {
	case map[string]any:
		for k, child := range t {
			n, err := sortArrays(child)
			if err != nil {
				return nil, err
			}
			t[k] = n
		}
		return t, nil
	case []any:
		type keyed struct {
			key string
			val any
		}
		items := make([]keyed, 0, len(t))
		for _, child := range t {
			n, err := sortArrays(child)
			if err != nil {
				return nil, err
			}
			b, err := encodeJSON(n)
			if err != nil {
				return nil, err
			}
			items = append(items, keyed{key: string(b), val: n})
		}
		sort.SliceStable(items, func(i, j int) bool { return items[i].key < items[j].key })
		out := make([]any, len(items))
		for i := range items {
			out[i] = items[i].val
		}
		return out, nil
	default:
		return v, nil
	}
}
