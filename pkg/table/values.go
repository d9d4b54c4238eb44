package table

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strconv"
	"strings"
	"time"
)

// Lookup resolves a dotted field path inside a record.
func Lookup(r Record, path string) (interface{}, bool) {
	var cur interface{} = map[string]interface{}(r)
	for _, part := range strings.Split(path, ".") {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// Pick returns a copy of r holding only the given top-level fields.
func Pick(r Record, fields ...string) Record {
	if r == nil {
		return nil
	}
	out := make(Record, len(fields))
	for _, f := range fields {
		if v, ok := r[f]; ok {
			out[f] = cloneValue(v)
		}
	}
	return out
}

// KeyOf returns a stable map key for a primary key value.
// Numeric ids compare by value regardless of their Go type.
func KeyOf(id interface{}) string {
	if f, ok := toFloat(id); ok {
		return "n:" + strconv.FormatFloat(f, 'g', -1, 64)
	}
	switch v := id.(type) {
	case string:
		return "s:" + v
	case fmt.Stringer:
		return fmt.Sprintf("%T:%s", id, v.String())
	default:
		return fmt.Sprintf("%T:%v", id, id)
	}
}

// EqualValues compares two document values, treating numbers by value.
func EqualValues(a, b interface{}) bool {
	if fa, ok := toFloat(a); ok {
		if fb, ok := toFloat(b); ok {
			return fa == fb
		}
		return false
	}
	if ma, ok := asMap(a); ok {
		mb, ok := asMap(b)
		if !ok || len(ma) != len(mb) {
			return false
		}
		for k, va := range ma {
			vb, ok := mb[k]
			if !ok || !EqualValues(va, vb) {
				return false
			}
		}
		return true
	}
	if sa, ok := asSlice(a); ok {
		sb, ok := asSlice(b)
		if !ok || len(sa) != len(sb) {
			return false
		}
		for i := range sa {
			if !EqualValues(sa[i], sb[i]) {
				return false
			}
		}
		return true
	}
	return reflect.DeepEqual(a, b)
}

// CompareValues orders two values. Values of different kinds are ordered
// nil < bool < number < string < time < anything else.
func CompareValues(a, b interface{}) int {
	ra, rb := rank(a), rank(b)
	if ra != rb {
		if ra < rb {
			return -1
		}
		return 1
	}
	switch ra {
	case 0:
		return 0
	case 1:
		ba, bb := a.(bool), b.(bool)
		switch {
		case ba == bb:
			return 0
		case !ba:
			return -1
		default:
			return 1
		}
	case 2:
		fa, _ := toFloat(a)
		fb, _ := toFloat(b)
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		}
		return 0
	case 3:
		return strings.Compare(a.(string), b.(string))
	case 4:
		ta, tb := a.(time.Time), b.(time.Time)
		return ta.Compare(tb)
	}
	return strings.Compare(fmt.Sprint(a), fmt.Sprint(b))
}

// Comparable reports whether a and b can be ordered against each other.
func Comparable(a, b interface{}) bool {
	r := rank(a)
	return r > 0 && r < 5 && r == rank(b)
}

func rank(v interface{}) int {
	if v == nil {
		return 0
	}
	if _, ok := v.(bool); ok {
		return 1
	}
	if _, ok := toFloat(v); ok {
		return 2
	}
	if _, ok := v.(string); ok {
		return 3
	}
	if _, ok := v.(time.Time); ok {
		return 4
	}
	return 5
}

func toFloat(v interface{}) (float64, bool) {
	switch n := v.(type) {
	case int:
		return float64(n), true
	case int8:
		return float64(n), true
	case int16:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint8:
		return float64(n), true
	case uint16:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case float32:
		return float64(n), true
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Record:
		return m, true
	}
	return nil, false
}

// AsSlice converts any slice value into []interface{}.
func AsSlice(v interface{}) ([]interface{}, bool) {
	return asSlice(v)
}

func asSlice(v interface{}) ([]interface{}, bool) {
	if s, ok := v.([]interface{}); ok {
		return s, true
	}
	rv := reflect.ValueOf(v)
	if !rv.IsValid() || (rv.Kind() != reflect.Slice && rv.Kind() != reflect.Array) {
		return nil, false
	}
	if rv.Type().Elem().Kind() == reflect.Uint8 {
		return nil, false
	}
	out := make([]interface{}, rv.Len())
	for i := range out {
		out[i] = rv.Index(i).Interface()
	}
	return out, true
}

// Merge applies patch onto base the way a document update does: nested
// objects merge key by key, everything else is overwritten.
func Merge(base, patch map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(base)+len(patch))
	for k, v := range base {
		out[k] = v
	}
	for k, v := range patch {
		pm, pok := v.(map[string]interface{})
		if rec, ok := v.(Record); ok {
			pm, pok = rec, true
		}
		bm, bok := out[k].(map[string]interface{})
		if pok && bok {
			out[k] = Merge(bm, pm)
			continue
		}
		out[k] = v
	}
	return out
}
