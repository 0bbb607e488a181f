package model

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Properties is an insertion-ordered string-to-Value map. Key order is
// preserved through JSON round-trips so property listings are stable.
type Properties struct {
	keys   []string
	values map[string]Value
}

// NewProperties builds an empty property map.
func NewProperties() Properties {
	return Properties{values: make(map[string]Value)}
}

// Set inserts or replaces a key. New keys append to the order.
func (p *Properties) Set(key string, v Value) {
	if p.values == nil {
		p.values = make(map[string]Value)
	}
	if _, ok := p.values[key]; !ok {
		p.keys = append(p.keys, key)
	}
	p.values[key] = v
}

// Get returns the value for key.
func (p Properties) Get(key string) (Value, bool) {
	v, ok := p.values[key]
	return v, ok
}

// Has reports whether key is present.
func (p Properties) Has(key string) bool {
	_, ok := p.values[key]
	return ok
}

// Delete removes a key, preserving the order of the rest.
func (p *Properties) Delete(key string) {
	if _, ok := p.values[key]; !ok {
		return
	}
	delete(p.values, key)
	for i, k := range p.keys {
		if k == key {
			p.keys = append(p.keys[:i], p.keys[i+1:]...)
			break
		}
	}
}

// Len returns the number of keys.
func (p Properties) Len() int { return len(p.keys) }

// Keys returns the keys in insertion order.
func (p Properties) Keys() []string {
	out := make([]string, len(p.keys))
	copy(out, p.keys)
	return out
}

// Range calls fn for each key/value in insertion order until fn returns false.
func (p Properties) Range(fn func(key string, v Value) bool) {
	for _, k := range p.keys {
		if !fn(k, p.values[k]) {
			return
		}
	}
}

// NonNullCount returns the number of keys holding a non-null value. Fusion
// uses it for the most_complete canonical pick.
func (p Properties) NonNullCount() int {
	n := 0
	for _, k := range p.keys {
		if !p.values[k].IsNull() {
			n++
		}
	}
	return n
}

// Clone returns a deep copy.
func (p Properties) Clone() Properties {
	out := NewProperties()
	for _, k := range p.keys {
		out.Set(k, p.values[k].Clone())
	}
	return out
}

// Equal reports whether two property maps hold the same keys and values,
// ignoring insertion order.
func (p Properties) Equal(o Properties) bool {
	if len(p.keys) != len(o.keys) {
		return false
	}
	for _, k := range p.keys {
		ov, ok := o.values[k]
		if !ok || !p.values[k].Equal(ov) {
			return false
		}
	}
	return true
}

// MarshalJSON encodes the map as a JSON object in insertion order.
func (p Properties) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range p.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(p.values[k])
		if err != nil {
			return nil, fmt.Errorf("property %q: %w", k, err)
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, preserving key order as written.
func (p *Properties) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("properties must be a JSON object")
	}

	out := NewProperties()
	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return err
		}
		key, ok := keyTok.(string)
		if !ok {
			return fmt.Errorf("invalid property key token %v", keyTok)
		}
		var raw interface{}
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		v, err := valueFromRaw(raw)
		if err != nil {
			return fmt.Errorf("property %q: %w", key, err)
		}
		out.Set(key, v)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*p = out
	return nil
}
