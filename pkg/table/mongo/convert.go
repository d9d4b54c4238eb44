package mongo

import (
	"fmt"
	"sort"

	"github.com/nimburion/docservice/pkg/table"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

const idField = "_id"

// field maps a record path to its stored path. The primary key is kept in _id.
func field(pk, name string) string {
	if name == pk {
		return idField
	}
	return name
}

// toDoc moves the primary key of rec into _id.
func toDoc(pk string, rec table.Record) bson.M {
	doc := make(bson.M, len(rec))
	for k, v := range rec {
		if k == pk {
			doc[idField] = v
			continue
		}
		doc[k] = v
	}
	return doc
}

// fromDoc turns a decoded document back into a record with plain Go maps and
// slices, the primary key restored from _id.
func fromDoc(pk string, doc bson.M) table.Record {
	if doc == nil {
		return nil
	}
	rec := make(table.Record, len(doc))
	for k, v := range doc {
		if k == idField {
			rec[pk] = plain(v)
			continue
		}
		rec[k] = plain(v)
	}
	return rec
}

func plain(v interface{}) interface{} {
	switch t := v.(type) {
	case bson.M:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = plain(val)
		}
		return out
	case bson.D:
		out := make(map[string]interface{}, len(t))
		for _, e := range t {
			out[e.Key] = plain(e.Value)
		}
		return out
	case bson.A:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = plain(val)
		}
		return out
	case primitive.DateTime:
		return t.Time().UTC()
	case primitive.ObjectID:
		return t.Hex()
	default:
		return v
	}
}

// setPaths flattens an update document into dotted $set paths so nested
// objects merge instead of being overwritten.
func setPaths(pk string, data table.Record) bson.D {
	out := bson.D{}
	var walk func(prefix string, m map[string]interface{})
	walk = func(prefix string, m map[string]interface{}) {
		for _, k := range sortedKeys(m) {
			v := m[k]
			path := k
			if prefix != "" {
				path = prefix + "." + k
			} else {
				path = field(pk, k)
			}
			if nested, ok := asMap(v); ok && len(nested) > 0 && path != idField {
				walk(path, nested)
				continue
			}
			out = append(out, bson.E{Key: path, Value: v})
		}
	}
	walk("", data)
	return out
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case table.Record:
		return m, true
	}
	return nil, false
}

func sortedKeys(m map[string]interface{}) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// compile translates a predicate into a MongoDB filter.
func compile(pk string, p table.Predicate) (bson.M, error) {
	switch p.Op {
	case table.OpMatchAll:
		return bson.M{}, nil
	case table.OpAnd, table.OpOr:
		if len(p.Clauses) == 0 {
			if p.Op == table.OpOr {
				return matchNothing(), nil
			}
			return bson.M{}, nil
		}
		clauses := make(bson.A, 0, len(p.Clauses))
		for _, c := range p.Clauses {
			sub, err := compile(pk, c)
			if err != nil {
				return nil, err
			}
			clauses = append(clauses, sub)
		}
		return bson.M{string(p.Op): clauses}, nil
	}

	name := field(pk, p.Field)
	switch p.Op {
	case table.OpEq, table.OpNe, table.OpLt, table.OpLte, table.OpGt, table.OpGte:
		return bson.M{name: bson.M{string(p.Op): p.Value}}, nil
	case table.OpIn, table.OpNin:
		items, ok := table.AsSlice(p.Value)
		if !ok {
			return nil, fmt.Errorf("%s on %s expects a list", p.Op, p.Field)
		}
		return bson.M{name: bson.M{string(p.Op): items}}, nil
	case table.OpContains:
		items, ok := table.AsSlice(p.Value)
		if !ok {
			items = []interface{}{p.Value}
		}
		return bson.M{name: bson.M{"$all": items}}, nil
	case table.OpSearch:
		pattern, ok := p.Value.(string)
		if !ok {
			return nil, fmt.Errorf("%s on %s expects a string", p.Op, p.Field)
		}
		return bson.M{name: bson.M{"$regex": pattern}}, nil
	}
	return nil, fmt.Errorf("unsupported operator %s", p.Op)
}

// matchNothing selects no document: every stored document has an _id.
func matchNothing() bson.M {
	return bson.M{idField: bson.M{"$exists": false}}
}
