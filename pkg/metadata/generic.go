package metadata

import (
	"reflect"
	"sort"

	json "github.com/goccy/go-json"
)

// ToGeneric converts v to plain Go values: nil, bool, float64, string,
// []interface{} and map[string]interface{}. Bytes have no generic form: they
// are skipped inside objects and become nil inside arrays.
func ToGeneric(v *Value) interface{} {
	switch v.Kind() {
	case KindBool:
		return v.b
	case KindDouble:
		return v.d
	case KindString:
		return v.s
	case KindArray:
		out := make([]interface{}, len(v.items))
		for i, c := range v.items {
			if c.Kind() == KindBytes {
				continue
			}
			out[i] = ToGeneric(c)
		}
		return out
	case KindObject:
		out := make(map[string]interface{}, len(v.keys))
		for _, k := range v.keys {
			c := v.fields[k]
			if c.Kind() == KindBytes {
				continue
			}
			out[k] = ToGeneric(c)
		}
		return out
	}
	return nil
}

// FromGeneric converts plain Go values into a tree. Every numeric kind
// becomes a double, []byte becomes bytes, slices become arrays and maps with
// string keys become objects with sorted keys. It returns false for kinds
// with no metadata form; such elements nested in a container are dropped.
func FromGeneric(x interface{}) (*Value, bool) {
	switch t := x.(type) {
	case nil:
		return Null(), true
	case *Value:
		return t.Clone(), true
	case bool:
		return Bool(t), true
	case string:
		return String(t), true
	case []byte:
		return Bytes(t), true
	case json.Number:
		f, err := t.Float64()
		if err != nil {
			return nil, false
		}
		return Double(f), true
	}

	rv := reflect.ValueOf(x)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return Double(float64(rv.Int())), true
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return Double(float64(rv.Uint())), true
	case reflect.Float32, reflect.Float64:
		return Double(rv.Float()), true
	case reflect.String:
		return String(rv.String()), true
	case reflect.Bool:
		return Bool(rv.Bool()), true
	case reflect.Slice, reflect.Array:
		arr := NewArray()
		for i := 0; i < rv.Len(); i++ {
			if c, ok := FromGeneric(rv.Index(i).Interface()); ok {
				arr.items = append(arr.items, c)
			}
		}
		return arr, true
	case reflect.Map:
		if rv.Type().Key().Kind() != reflect.String {
			return nil, false
		}
		keys := make([]string, 0, rv.Len())
		for _, k := range rv.MapKeys() {
			keys = append(keys, k.String())
		}
		sort.Strings(keys)
		obj := NewObject()
		for _, k := range keys {
			mv := rv.MapIndex(reflect.ValueOf(k).Convert(rv.Type().Key()))
			if c, ok := FromGeneric(mv.Interface()); ok {
				obj.keys = append(obj.keys, k)
				obj.fields[k] = c
			}
		}
		return obj, true
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			return Null(), true
		}
		return FromGeneric(rv.Elem().Interface())
	}
	return nil, false
}
