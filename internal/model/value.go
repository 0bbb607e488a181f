package model

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
)

// Kind identifies which variant a Value holds.
type Kind int

const (
	KindNull Kind = iota
	KindString
	KindInt
	KindFloat
	KindBool
	KindList
)

// String returns the schema-facing name of the kind.
func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindString:
		return "string"
	case KindInt:
		return "int"
	case KindFloat:
		return "float"
	case KindBool:
		return "bool"
	case KindList:
		return "list"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Value is a closed tagged variant for entity and relation properties.
// Only one of the payload fields is meaningful, selected by kind.
type Value struct {
	kind Kind
	str  string
	num  int64
	flt  float64
	bl   bool
	list []Value
}

// Null returns the null value.
func Null() Value { return Value{kind: KindNull} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, str: s} }

// Int wraps an int64.
func Int(i int64) Value { return Value{kind: KindInt, num: i} }

// Float wraps a float64.
func Float(f float64) Value { return Value{kind: KindFloat, flt: f} }

// Bool wraps a bool.
func Bool(b bool) Value { return Value{kind: KindBool, bl: b} }

// List wraps a slice of values. The slice is copied.
func List(vs ...Value) Value {
	out := make([]Value, len(vs))
	copy(out, vs)
	return Value{kind: KindList, list: out}
}

// Kind reports which variant the value holds.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether the value is the null variant.
func (v Value) IsNull() bool { return v.kind == KindNull }

// AsString returns the string payload; ok is false for other kinds.
func (v Value) AsString() (string, bool) { return v.str, v.kind == KindString }

// AsInt returns the int payload; ok is false for other kinds.
func (v Value) AsInt() (int64, bool) { return v.num, v.kind == KindInt }

// AsFloat returns the numeric payload as float64 for int and float kinds.
func (v Value) AsFloat() (float64, bool) {
	switch v.kind {
	case KindFloat:
		return v.flt, true
	case KindInt:
		return float64(v.num), true
	default:
		return 0, false
	}
}

// AsBool returns the bool payload; ok is false for other kinds.
func (v Value) AsBool() (bool, bool) { return v.bl, v.kind == KindBool }

// AsList returns the list payload; ok is false for other kinds.
func (v Value) AsList() ([]Value, bool) {
	if v.kind != KindList {
		return nil, false
	}
	return v.list, true
}

// Equal reports deep equality. Int and float compare numerically so that
// Int(3) equals Float(3.0), matching how JSON round-trips numbers.
func (v Value) Equal(o Value) bool {
	if vn, vok := v.AsFloat(); vok {
		if on, ook := o.AsFloat(); ook {
			return vn == on
		}
		return false
	}
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindString:
		return v.str == o.str
	case KindBool:
		return v.bl == o.bl
	case KindList:
		if len(v.list) != len(o.list) {
			return false
		}
		for i := range v.list {
			if !v.list[i].Equal(o.list[i]) {
				return false
			}
		}
		return true
	}
	return false
}

// Compare orders two values. Numbers compare numerically, strings
// lexicographically. Incomparable kinds report ok=false.
func (v Value) Compare(o Value) (int, bool) {
	if vn, vok := v.AsFloat(); vok {
		on, ook := o.AsFloat()
		if !ook {
			return 0, false
		}
		switch {
		case vn < on:
			return -1, true
		case vn > on:
			return 1, true
		default:
			return 0, true
		}
	}
	if v.kind == KindString && o.kind == KindString {
		return strings.Compare(v.str, o.str), true
	}
	return 0, false
}

// Clone returns a deep copy.
func (v Value) Clone() Value {
	if v.kind != KindList {
		return v
	}
	out := make([]Value, len(v.list))
	for i := range v.list {
		out[i] = v.list[i].Clone()
	}
	return Value{kind: KindList, list: out}
}

// MarshalJSON encodes the value as its plain JSON form (no type tag).
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindString:
		return json.Marshal(v.str)
	case KindInt:
		return json.Marshal(v.num)
	case KindFloat:
		if math.IsNaN(v.flt) || math.IsInf(v.flt, 0) {
			return nil, fmt.Errorf("cannot encode non-finite float property value")
		}
		return json.Marshal(v.flt)
	case KindBool:
		return json.Marshal(v.bl)
	case KindList:
		if v.list == nil {
			return []byte("[]"), nil
		}
		return json.Marshal(v.list)
	default:
		return nil, fmt.Errorf("unknown value kind %d", int(v.kind))
	}
}

// UnmarshalJSON decodes plain JSON into the matching variant. Whole numbers
// decode as int, everything else numeric as float.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(strings.NewReader(string(data)))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	val, err := valueFromRaw(raw)
	if err != nil {
		return err
	}
	*v = val
	return nil
}

func valueFromRaw(raw interface{}) (Value, error) {
	switch x := raw.(type) {
	case nil:
		return Null(), nil
	case string:
		return String(x), nil
	case bool:
		return Bool(x), nil
	case json.Number:
		if i, err := x.Int64(); err == nil && !strings.ContainsAny(x.String(), ".eE") {
			return Int(i), nil
		}
		f, err := x.Float64()
		if err != nil {
			return Value{}, fmt.Errorf("invalid number %q", x.String())
		}
		return Float(f), nil
	case []interface{}:
		items := make([]Value, len(x))
		for i, el := range x {
			v, err := valueFromRaw(el)
			if err != nil {
				return Value{}, err
			}
			items[i] = v
		}
		return Value{kind: KindList, list: items}, nil
	default:
		return Value{}, fmt.Errorf("unsupported property value type %T", raw)
	}
}
