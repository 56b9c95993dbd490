package state

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// Kind identifies the variant held by a Value.
type Kind int

const (
	KindNull Kind = iota
	KindBool
	KindNumber
	KindString
	KindArray
	KindObject
)

func (k Kind) String() string {
	switch k {
	case KindNull:
		return "null"
	case KindBool:
		return "bool"
	case KindNumber:
		return "number"
	case KindString:
		return "string"
	case KindArray:
		return "array"
	case KindObject:
		return "object"
	default:
		return "unknown"
	}
}

// Value is a JSON document node. Values are treated as immutable: the
// With/Without helpers return modified copies.
type Value struct {
	kind Kind
	b    bool
	n    json.Number
	s    string
	arr  []Value
	obj  map[string]Value
}

// Null returns the JSON null value.
func Null() Value { return Value{} }

// Bool wraps a boolean.
func Bool(b bool) Value { return Value{kind: KindBool, b: b} }

// Int wraps an integer.
func Int(i int64) Value { return Value{kind: KindNumber, n: json.Number(strconv.FormatInt(i, 10))} }

// Number wraps a JSON number literal.
func Number(n json.Number) Value { return Value{kind: KindNumber, n: n} }

// String wraps a string.
func String(s string) Value { return Value{kind: KindString, s: s} }

// Array wraps a list of values.
func Array(items ...Value) Value {
	return Value{kind: KindArray, arr: append([]Value(nil), items...)}
}

// Strings builds an array of strings.
func Strings(items ...string) Value {
	arr := make([]Value, 0, len(items))
	for _, s := range items {
		arr = append(arr, String(s))
	}
	return Value{kind: KindArray, arr: arr}
}

// Object wraps a map of values. The map is copied.
func Object(fields map[string]Value) Value {
	obj := make(map[string]Value, len(fields))
	for k, v := range fields {
		obj[k] = v
	}
	return Value{kind: KindObject, obj: obj}
}

// EmptyObject returns {}.
func EmptyObject() Value { return Value{kind: KindObject, obj: map[string]Value{}} }

// Kind returns the variant of v.
func (v Value) Kind() Kind { return v.kind }

// IsNull reports whether v is null.
func (v Value) IsNull() bool { return v.kind == KindNull }

// IsObject reports whether v is an object.
func (v Value) IsObject() bool { return v.kind == KindObject }

// AsBool returns the boolean held by v.
func (v Value) AsBool() (bool, bool) { return v.b, v.kind == KindBool }

// AsString returns the string held by v.
func (v Value) AsString() (string, bool) { return v.s, v.kind == KindString }

// AsInt returns the number held by v as an integer.
func (v Value) AsInt() (int64, bool) {
	if v.kind != KindNumber {
		return 0, false
	}
	i, err := v.n.Int64()
	return i, err == nil
}

// AsArray returns a copy of the items of an array.
func (v Value) AsArray() ([]Value, bool) {
	if v.kind != KindArray {
		return nil, false
	}
	return append([]Value(nil), v.arr...), true
}

// AsStrings returns the string items of an array, skipping other kinds.
func (v Value) AsStrings() []string {
	var out []string
	for _, item := range v.arr {
		if s, ok := item.AsString(); ok {
			out = append(out, s)
		}
	}
	return out
}

// Keys returns the sorted keys of an object.
func (v Value) Keys() []string {
	keys := make([]string, 0, len(v.obj))
	for k := range v.obj {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Len returns the number of items of an array or fields of an object.
func (v Value) Len() int {
	switch v.kind {
	case KindArray:
		return len(v.arr)
	case KindObject:
		return len(v.obj)
	default:
		return 0
	}
}

// Get returns the field key of an object.
func (v Value) Get(key string) (Value, bool) {
	if v.kind != KindObject {
		return Value{}, false
	}
	f, ok := v.obj[key]
	return f, ok
}

// Has reports whether an object has the field key.
func (v Value) Has(key string) bool {
	_, ok := v.Get(key)
	return ok
}

// Lookup follows a path of object keys.
func (v Value) Lookup(path ...string) (Value, bool) {
	cur := v
	for _, key := range path {
		next, ok := cur.Get(key)
		if !ok {
			return Value{}, false
		}
		cur = next
	}
	return cur, true
}

// With returns a copy of the object with key set to field. A non-object
// receiver is replaced by a new object.
func (v Value) With(key string, field Value) Value {
	out := make(map[string]Value, len(v.obj)+1)
	if v.kind == KindObject {
		for k, f := range v.obj {
			out[k] = f
		}
	}
	out[key] = field
	return Value{kind: KindObject, obj: out}
}

// Without returns a copy of the object without the given keys.
func (v Value) Without(keys ...string) Value {
	if v.kind != KindObject {
		return v
	}
	drop := make(map[string]bool, len(keys))
	for _, k := range keys {
		drop[k] = true
	}
	out := make(map[string]Value, len(v.obj))
	for k, f := range v.obj {
		if !drop[k] {
			out[k] = f
		}
	}
	return Value{kind: KindObject, obj: out}
}

// WithPath sets the value at a path of object keys, creating intermediate
// objects and replacing non-object intermediates.
func (v Value) WithPath(path []string, field Value) Value {
	if len(path) == 0 {
		return field
	}
	child, _ := v.Get(path[0])
	return v.With(path[0], child.WithPath(path[1:], field))
}

// Equal reports deep equality.
func (v Value) Equal(o Value) bool {
	if v.kind != o.kind {
		return false
	}
	switch v.kind {
	case KindNull:
		return true
	case KindBool:
		return v.b == o.b
	case KindNumber:
		return v.n == o.n
	case KindString:
		return v.s == o.s
	case KindArray:
		if len(v.arr) != len(o.arr) {
			return false
		}
		for i := range v.arr {
			if !v.arr[i].Equal(o.arr[i]) {
				return false
			}
		}
		return true
	case KindObject:
		if len(v.obj) != len(o.obj) {
			return false
		}
		for k, f := range v.obj {
			of, ok := o.obj[k]
			if !ok || !f.Equal(of) {
				return false
			}
		}
		return true
	}
	return false
}

// DeepMerge overlays overlay onto base. Objects merge key by key and
// recursively; arrays and scalars in overlay replace what base holds.
func DeepMerge(base, overlay Value) Value {
	if base.kind != KindObject || overlay.kind != KindObject {
		return overlay
	}
	out := make(map[string]Value, len(base.obj)+len(overlay.obj))
	for k, f := range base.obj {
		out[k] = f
	}
	for k, f := range overlay.obj {
		if existing, ok := out[k]; ok {
			out[k] = DeepMerge(existing, f)
		} else {
			out[k] = f
		}
	}
	return Value{kind: KindObject, obj: out}
}

// Interface converts v to the plain Go form produced by encoding/json with
// UseNumber.
func (v Value) Interface() interface{} {
	switch v.kind {
	case KindBool:
		return v.b
	case KindNumber:
		return v.n
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.arr))
		for i, item := range v.arr {
			out[i] = item.Interface()
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.obj))
		for k, f := range v.obj {
			out[k] = f.Interface()
		}
		return out
	default:
		return nil
	}
}

// FromInterface converts a decoded JSON value.
func FromInterface(x interface{}) (Value, error) {
	switch t := x.(type) {
	case nil:
		return Null(), nil
	case bool:
		return Bool(t), nil
	case json.Number:
		return Number(t), nil
	case float64:
		return Number(json.Number(strconv.FormatFloat(t, 'f', -1, 64))), nil
	case int:
		return Int(int64(t)), nil
	case int64:
		return Int(t), nil
	case string:
		return String(t), nil
	case []interface{}:
		arr := make([]Value, 0, len(t))
		for _, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			arr = append(arr, v)
		}
		return Value{kind: KindArray, arr: arr}, nil
	case map[string]interface{}:
		obj := make(map[string]Value, len(t))
		for k, item := range t {
			v, err := FromInterface(item)
			if err != nil {
				return Value{}, err
			}
			obj[k] = v
		}
		return Value{kind: KindObject, obj: obj}, nil
	default:
		return Value{}, fmt.Errorf("unsupported JSON value of type %T", x)
	}
}

// MarshalJSON encodes v. Object keys are written in sorted order.
func (v Value) MarshalJSON() ([]byte, error) {
	switch v.kind {
	case KindNull:
		return []byte("null"), nil
	case KindBool, KindNumber, KindString:
		return marshal(v.Interface())
	case KindArray:
		items := v.arr
		if items == nil {
			items = []Value{}
		}
		return marshal(items)
	case KindObject:
		fields := v.obj
		if fields == nil {
			fields = map[string]Value{}
		}
		return marshal(fields)
	}
	return nil, fmt.Errorf("unknown value kind %d", v.kind)
}

// UnmarshalJSON decodes any JSON document into v.
func (v *Value) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	var raw interface{}
	if err := dec.Decode(&raw); err != nil {
		return err
	}
	parsed, err := FromInterface(raw)
	if err != nil {
		return err
	}
	*v = parsed
	return nil
}

// Parse decodes a JSON document.
func Parse(data []byte) (Value, error) {
	var v Value
	if err := json.Unmarshal(data, &v); err != nil {
		return Value{}, err
	}
	return v, nil
}

// Encode renders v with two-space indentation and a trailing newline.
// Strings are written as they are; &, < and > are not escaped.
func Encode(v Value) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// marshal is json.Marshal without HTML escaping.
func marshal(x interface{}) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(x); err != nil {
		return nil, err
	}
	return bytes.TrimSuffix(buf.Bytes(), []byte("\n")), nil
}
