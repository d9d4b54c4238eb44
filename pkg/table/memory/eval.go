package memory

import (
	"regexp"
	"sort"

	"github.com/nimburion/docservice/pkg/table"
)

// matcher evaluates predicates for one query run. Each $search pattern is
// compiled once per run; an invalid pattern matches nothing.
type matcher struct {
	patterns map[string]*regexp.Regexp
}

func (m *matcher) matches(r table.Record, p table.Predicate) bool {
	switch p.Op {
	case table.OpMatchAll, "":
		return true
	case table.OpAnd:
		for _, c := range p.Clauses {
			if !m.matches(r, c) {
				return false
			}
		}
		return true
	case table.OpOr:
		for _, c := range p.Clauses {
			if m.matches(r, c) {
				return true
			}
		}
		return false
	}

	v, found := table.Lookup(r, p.Field)
	switch p.Op {
	case table.OpEq:
		return table.EqualValues(v, p.Value)
	case table.OpNe:
		return !table.EqualValues(v, p.Value)
	case table.OpLt, table.OpLte, table.OpGt, table.OpGte:
		if !found || !table.Comparable(v, p.Value) {
			return false
		}
		c := table.CompareValues(v, p.Value)
		switch p.Op {
		case table.OpLt:
			return c < 0
		case table.OpLte:
			return c <= 0
		case table.OpGt:
			return c > 0
		default:
			return c >= 0
		}
	case table.OpIn:
		return inList(v, p.Value)
	case table.OpNin:
		return !inList(v, p.Value)
	case table.OpContains:
		have, ok := table.AsSlice(v)
		if !ok {
			return false
		}
		want, ok := table.AsSlice(p.Value)
		if !ok {
			want = []interface{}{p.Value}
		}
		for _, w := range want {
			if !inList(w, have) {
				return false
			}
		}
		return true
	case table.OpSearch:
		s, ok := v.(string)
		if !ok {
			return false
		}
		pattern, _ := p.Value.(string)
		re := m.compile(pattern)
		return re != nil && re.MatchString(s)
	}
	return false
}

func inList(v interface{}, list interface{}) bool {
	items, ok := table.AsSlice(list)
	if !ok {
		return false
	}
	for _, item := range items {
		if table.EqualValues(v, item) {
			return true
		}
	}
	return false
}

func (m *matcher) compile(pattern string) *regexp.Regexp {
	if re, ok := m.patterns[pattern]; ok {
		return re
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		re = nil
	}
	if m.patterns == nil {
		m.patterns = make(map[string]*regexp.Regexp)
	}
	m.patterns[pattern] = re
	return re
}

type sortKey struct {
	field string
	desc  bool
}

type entry struct {
	key string
	row table.Record
}

// sortEntries orders rows by keys, first key most significant. Ties keep their
// current relative order.
func sortEntries(entries []entry, keys []sortKey) {
	sort.SliceStable(entries, func(i, j int) bool {
		for _, k := range keys {
			a, _ := table.Lookup(entries[i].row, k.field)
			b, _ := table.Lookup(entries[j].row, k.field)
			c := table.CompareValues(a, b)
			if c == 0 {
				continue
			}
			if k.desc {
				return c > 0
			}
			return c < 0
		}
		return false
	})
}
