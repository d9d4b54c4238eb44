package query

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/nimburion/docservice/pkg/apperr"
	"github.com/nimburion/docservice/pkg/table"
)

// DefaultWhitelist is used when a service is built without one.
var DefaultWhitelist = []string{"$contains", "$search", "$and", "$eq"}

// Operators every service accepts regardless of its whitelist.
var baseOperators = []string{"$in", "$nin", "$lt", "$lte", "$gt", "$gte", "$ne", "$or"}

var operators = map[string]table.Op{
	"$eq":       table.OpEq,
	"$ne":       table.OpNe,
	"$lt":       table.OpLt,
	"$lte":      table.OpLte,
	"$gt":       table.OpGt,
	"$gte":      table.OpGte,
	"$in":       table.OpIn,
	"$nin":      table.OpNin,
	"$contains": table.OpContains,
	"$search":   table.OpSearch,
	"$and":      table.OpAnd,
	"$or":       table.OpOr,
}

// Translator converts query predicates into table predicates. The set of
// accepted operators is fixed when the Translator is built.
type Translator struct {
	allowed map[string]bool
}

// NewTranslator builds a Translator accepting the base operators plus
// whitelist. A nil whitelist means DefaultWhitelist. Unknown operators are a
// configuration error.
func NewTranslator(whitelist []string) (*Translator, error) {
	if whitelist == nil {
		whitelist = DefaultWhitelist
	}
	allowed := make(map[string]bool, len(baseOperators)+len(whitelist))
	for _, op := range baseOperators {
		allowed[op] = true
	}
	for _, op := range whitelist {
		op = strings.TrimSpace(op)
		if _, ok := operators[op]; !ok {
			return nil, fmt.Errorf("unknown query operator %q in whitelist", op)
		}
		allowed[op] = true
	}
	return &Translator{allowed: allowed}, nil
}

// Allowed reports whether op is accepted.
func (t *Translator) Allowed(op string) bool {
	return t.allowed[op]
}

// Translate converts q, with reserved keys already removed, into a predicate.
// Keys are visited in sorted order so equal queries give equal predicates.
func (t *Translator) Translate(q Query) (table.Predicate, error) {
	return t.translate(map[string]interface{}(q))
}

func (t *Translator) translate(q map[string]interface{}) (table.Predicate, error) {
	keys := make([]string, 0, len(q))
	for k := range q {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	clauses := make([]table.Predicate, 0, len(keys))
	for _, key := range keys {
		value := q[key]
		if !strings.HasPrefix(key, "$") {
			p, err := t.field(key, value)
			if err != nil {
				return table.Predicate{}, err
			}
			clauses = append(clauses, p)
			continue
		}

		if err := t.check(key); err != nil {
			return table.Predicate{}, err
		}
		switch key {
		case "$and", "$or":
			subs, err := t.clauses(key, value)
			if err != nil {
				return table.Predicate{}, err
			}
			if key == "$and" {
				clauses = append(clauses, table.And(subs...))
			} else {
				clauses = append(clauses, table.Or(subs...))
			}
		default:
			return table.Predicate{}, apperr.NewBadRequest(fmt.Sprintf("Operator %s needs a field", key))
		}
	}
	return table.And(clauses...), nil
}

func (t *Translator) check(op string) error {
	if _, known := operators[op]; !known {
		return apperr.NewBadRequest(fmt.Sprintf("Invalid query parameter %s", op))
	}
	if !t.allowed[op] {
		return apperr.NewBadRequest(fmt.Sprintf("Invalid query parameter %s", op))
	}
	return nil
}

func (t *Translator) clauses(op string, value interface{}) ([]table.Predicate, error) {
	items, ok := table.AsSlice(value)
	if !ok {
		return nil, apperr.NewBadRequest(fmt.Sprintf("%s expects a list of queries", op))
	}
	out := make([]table.Predicate, 0, len(items))
	for _, item := range items {
		sub, ok := asObject(item)
		if !ok {
			return nil, apperr.NewBadRequest(fmt.Sprintf("%s expects a list of queries", op))
		}
		p, err := t.translate(sub)
		if err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, nil
}

func (t *Translator) field(name string, value interface{}) (table.Predicate, error) {
	obj, ok := asObject(value)
	if !ok || !isOperatorObject(obj) {
		return table.Field(name, table.OpEq, value), nil
	}

	ops := sortedKeys(obj)
	preds := make([]table.Predicate, 0, len(ops))
	for _, op := range ops {
		if err := t.check(op); err != nil {
			return table.Predicate{}, err
		}
		v := obj[op]
		switch op {
		case "$and", "$or":
			return table.Predicate{}, apperr.NewBadRequest(fmt.Sprintf("Operator %s is not valid on field %s", op, name))
		case "$in", "$nin":
			if _, ok := table.AsSlice(v); !ok {
				return table.Predicate{}, apperr.NewBadRequest(fmt.Sprintf("%s on %s expects a list", op, name))
			}
		case "$search":
			pattern, ok := v.(string)
			if !ok {
				return table.Predicate{}, apperr.NewBadRequest(fmt.Sprintf("%s on %s expects a string", op, name))
			}
			if _, err := regexp.Compile(pattern); err != nil {
				return table.Predicate{}, apperr.NewBadRequest(fmt.Sprintf("%s on %s is not a valid pattern", op, name)).WithCause(err)
			}
		}
		preds = append(preds, table.Field(name, operators[op], v))
	}
	return table.And(preds...), nil
}

func asObject(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case Query:
		return m, true
	case table.Record:
		return m, true
	}
	return nil, false
}

// isOperatorObject reports whether every key of m is an operator. Objects
// mixing plain keys are compared as values.
func isOperatorObject(m map[string]interface{}) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if !strings.HasPrefix(k, "$") {
			return false
		}
	}
	return true
}
