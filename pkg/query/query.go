// Package query turns request query objects into table queries.
//
// A Query carries four reserved keys ($select, $sort, $skip, $limit) next to
// field predicates. Split separates the two halves, a Translator turns the
// predicates into a table.Predicate, and Compose assembles the read and count
// queries in the order pagination depends on.
package query

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"
	"strings"

	"github.com/nimburion/docservice/pkg/apperr"
)

// Reserved query keys.
const (
	KeySelect = "$select"
	KeySort   = "$sort"
	KeySkip   = "$skip"
	KeyLimit  = "$limit"
)

// Query is a request query object.
type Query map[string]interface{}

// Clone returns a shallow copy of q.
func (q Query) Clone() Query {
	if q == nil {
		return nil
	}
	out := make(Query, len(q))
	for k, v := range q {
		out[k] = v
	}
	return out
}

// Paginate holds pagination defaults. A zero Default disables pagination.
type Paginate struct {
	Default int `mapstructure:"default" json:"default" yaml:"default"`
	Max     int `mapstructure:"max" json:"max" yaml:"max"`
}

// Enabled reports whether results are wrapped in a page.
func (p *Paginate) Enabled() bool {
	return p != nil && p.Default > 0
}

// SortField is one $sort entry.
type SortField struct {
	Field string
	Desc  bool
}

// Filters are the reserved keys of a query, parsed.
type Filters struct {
	Select []string
	Sort   []SortField
	Skip   int
	Limit  *int
}

// Split parses the reserved keys of q and returns them together with the
// remaining predicate part.
func Split(q Query) (Filters, Query, error) {
	var f Filters
	rest := make(Query, len(q))
	for k, v := range q {
		switch k {
		case KeySelect:
			sel, err := parseSelect(v)
			if err != nil {
				return f, nil, err
			}
			f.Select = sel
		case KeySort:
			s, err := ParseSort(v)
			if err != nil {
				return f, nil, err
			}
			f.Sort = s
		case KeySkip:
			n, err := parseCount(KeySkip, v)
			if err != nil {
				return f, nil, err
			}
			f.Skip = n
		case KeyLimit:
			n, err := parseCount(KeyLimit, v)
			if err != nil {
				return f, nil, err
			}
			f.Limit = &n
		default:
			rest[k] = v
		}
	}
	return f, rest, nil
}

// Select returns the parsed $select of q, nil when absent or malformed.
func Select(q Query) []string {
	v, ok := q[KeySelect]
	if !ok {
		return nil
	}
	sel, err := parseSelect(v)
	if err != nil {
		return nil
	}
	return sel
}

func parseSelect(v interface{}) ([]string, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case string:
		return []string{s}, nil
	case []string:
		return append([]string(nil), s...), nil
	case []interface{}:
		out := make([]string, 0, len(s))
		for _, item := range s {
			name, ok := item.(string)
			if !ok {
				return nil, apperr.NewBadRequest(fmt.Sprintf("%s entries must be field names", KeySelect))
			}
			out = append(out, name)
		}
		return out, nil
	}
	return nil, apperr.NewBadRequest(fmt.Sprintf("%s must be a list of field names", KeySelect))
}

// ParseSort reads a $sort value. A map is applied in field-name order since
// Go maps carry no key order. Callers that need a specific order pass a list,
// either []SortField or single-field maps such as [{"b": 1}, {"a": -1}].
func ParseSort(v interface{}) ([]SortField, error) {
	switch s := v.(type) {
	case nil:
		return nil, nil
	case []SortField:
		return append([]SortField(nil), s...), nil
	case []interface{}:
		out := make([]SortField, 0, len(s))
		for _, item := range s {
			var m map[string]interface{}
			switch e := item.(type) {
			case map[string]interface{}:
				m = e
			case Query:
				m = e
			}
			if len(m) != 1 {
				return nil, apperr.NewBadRequest(fmt.Sprintf("%s list entries must map one field to 1 or -1", KeySort))
			}
			out = append(out, sortFromMap(m)...)
		}
		return out, nil
	case map[string]int:
		out := make([]SortField, 0, len(s))
		for _, k := range sortedKeys(s) {
			out = append(out, SortField{Field: k, Desc: s[k] != 1})
		}
		return out, nil
	case map[string]interface{}:
		return sortFromMap(s), nil
	case Query:
		return sortFromMap(s), nil
	}
	return nil, apperr.NewBadRequest(fmt.Sprintf("%s must map field names to 1 or -1", KeySort))
}

func sortFromMap(m map[string]interface{}) []SortField {
	out := make([]SortField, 0, len(m))
	for _, k := range sortedKeys(m) {
		out = append(out, SortField{Field: k, Desc: !Ascending(m[k])})
	}
	return out
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Ascending reports whether a sort order value means ascending: its leading
// integer is exactly 1.
func Ascending(v interface{}) bool {
	n, ok := leadingInt(v)
	return ok && n == 1
}

func leadingInt(v interface{}) (int64, bool) {
	switch n := v.(type) {
	case int:
		return int64(n), true
	case int32:
		return int64(n), true
	case int64:
		return n, true
	case float32:
		return int64(n), !math.IsNaN(float64(n))
	case float64:
		return int64(n), !math.IsNaN(n) && !math.IsInf(n, 0)
	case json.Number:
		return leadingInt(string(n))
	case string:
		s := strings.TrimSpace(n)
		end := 0
		if end < len(s) && (s[end] == '-' || s[end] == '+') {
			end++
		}
		for end < len(s) && s[end] >= '0' && s[end] <= '9' {
			end++
		}
		i, err := strconv.ParseInt(s[:end], 10, 64)
		return i, err == nil
	}
	return 0, false
}

func parseCount(key string, v interface{}) (int, error) {
	var n int64
	switch c := v.(type) {
	case int:
		n = int64(c)
	case int32:
		n = int64(c)
	case int64:
		n = c
	case float64:
		if c != math.Trunc(c) {
			return 0, apperr.NewBadRequest(fmt.Sprintf("%s must be an integer", key))
		}
		n = int64(c)
	case json.Number:
		i, err := c.Int64()
		if err != nil {
			return 0, apperr.NewBadRequest(fmt.Sprintf("%s must be an integer", key))
		}
		n = i
	case string:
		i, err := strconv.ParseInt(strings.TrimSpace(c), 10, 64)
		if err != nil {
			return 0, apperr.NewBadRequest(fmt.Sprintf("%s must be an integer", key))
		}
		n = i
	default:
		return 0, apperr.NewBadRequest(fmt.Sprintf("%s must be an integer", key))
	}
	if n < 0 {
		return 0, apperr.NewBadRequest(fmt.Sprintf("%s must not be negative", key))
	}
	if n > math.MaxInt32 {
		n = math.MaxInt32
	}
	return int(n), nil
}
