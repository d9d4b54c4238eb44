package service

import (
	"fmt"

	"github.com/nimburion/docservice/pkg/apperr"
	"github.com/nimburion/docservice/pkg/query"
	"github.com/nimburion/docservice/pkg/table"
)

type allRecords struct{}

func (allRecords) String() string { return "null" }

// AllRecords is the explicit "no id" argument. It selects every record
// matching the query where a method supports that: Remove deletes them all,
// Patch patches them all and GetOrFind runs a find. A nil id means the id was
// not given at all.
var AllRecords interface{} = allRecords{}

func isAll(id interface{}) bool {
	_, ok := id.(allRecords)
	return ok
}

// Params are the per-call parameters of a service method.
type Params struct {
	Query query.Query
	// Paginate overrides the service default. A zero Paginate disables
	// pagination for the call.
	Paginate *query.Paginate
	// Override replaces the composed filter, projection and sort of Find with
	// a pre-built query. Skip, limit and pagination still apply.
	Override table.Query
	// Options are the driver write options. Each method keeps only the ones
	// it supports.
	Options table.WriteOptions
}

func (p *Params) query() query.Query {
	if p == nil || p.Query == nil {
		return query.Query{}
	}
	return p.Query
}

func createOptions(p *Params) table.WriteOptions {
	if p == nil {
		return table.WriteOptions{}
	}
	return table.WriteOptions{
		ReturnChanges: p.Options.ReturnChanges,
		Durability:    p.Options.Durability,
		Conflict:      p.Options.Conflict,
	}
}

// mutationOptions always asks for changes; patch, update and remove build
// their results from them.
func mutationOptions(p *Params) table.WriteOptions {
	o := table.WriteOptions{ReturnChanges: true}
	if p != nil {
		o.Durability = p.Options.Durability
		o.NonAtomic = p.Options.NonAtomic
	}
	return o
}

// withoutSelect returns q minus $select.
func withoutSelect(q query.Query) query.Query {
	if _, ok := q[query.KeySelect]; !ok {
		return q
	}
	out := q.Clone()
	delete(out, query.KeySelect)
	return out
}

// asRecords normalizes create input. The bool reports whether data was a
// single record.
func asRecords(data interface{}) ([]table.Record, bool, error) {
	switch d := data.(type) {
	case table.Record:
		return []table.Record{d}, true, nil
	case map[string]interface{}:
		return []table.Record{d}, true, nil
	case []table.Record:
		return d, false, nil
	case []map[string]interface{}:
		out := make([]table.Record, len(d))
		for i, m := range d {
			out[i] = m
		}
		return out, false, nil
	case []interface{}:
		out := make([]table.Record, len(d))
		for i, item := range d {
			rec, ok := asRecord(item)
			if !ok {
				return nil, false, apperr.NewBadRequest(fmt.Sprintf("item %d is not an object", i))
			}
			out[i] = rec
		}
		return out, false, nil
	}
	return nil, false, apperr.NewBadRequest("data must be an object or a list of objects")
}

func asRecord(v interface{}) (table.Record, bool) {
	switch r := v.(type) {
	case table.Record:
		return r, true
	case map[string]interface{}:
		return r, true
	}
	return nil, false
}

func isList(data interface{}) bool {
	_, ok := table.AsSlice(data)
	return ok
}
