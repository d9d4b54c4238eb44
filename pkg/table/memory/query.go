package memory

import (
	"context"

	"github.com/nimburion/docservice/pkg/table"
)

type source int

const (
	sourceAll source = iota
	sourceGet
	sourceGetAll
)

type stepKind int

const (
	stepFilter stepKind = iota
	stepOrder
	stepSkip
	stepLimit
)

type step struct {
	kind stepKind
	pred table.Predicate
	key  sortKey
	n    int
}

// query is an immutable chain; every builder call returns a copy.
type query struct {
	t     *Table
	src   source
	ids   []interface{}
	steps []step
	pluck []string
}

func (q *query) with(s step) *query {
	next := *q
	next.steps = append(append([]step(nil), q.steps...), s)
	return &next
}

func (q *query) Filter(p table.Predicate) table.Query {
	return q.with(step{kind: stepFilter, pred: p})
}

// Pluck projects the result rows. Projection is applied last so that it never
// changes which rows are selected or how they sort.
func (q *query) Pluck(fields ...string) table.Query {
	next := *q
	next.pluck = append([]string(nil), fields...)
	return &next
}

func (q *query) OrderBy(field string, desc bool) table.Query {
	return q.with(step{kind: stepOrder, key: sortKey{field: field, desc: desc}})
}

func (q *query) Skip(n int) table.Query {
	return q.with(step{kind: stepSkip, n: n})
}

func (q *query) Limit(n int) table.Query {
	return q.with(step{kind: stepLimit, n: n})
}

// selectKeys evaluates the chain and returns the matching storage keys in
// result order. Callers hold at least a read lock.
func (q *query) selectKeys() []string {
	s := q.t.s
	var entries []entry
	switch q.src {
	case sourceAll:
		entries = make([]entry, 0, len(s.order))
		for _, k := range s.order {
			entries = append(entries, entry{key: k, row: s.rows[k]})
		}
	default:
		seen := make(map[string]bool, len(q.ids))
		for _, id := range q.ids {
			k := table.KeyOf(id)
			if row, ok := s.rows[k]; ok && !seen[k] {
				seen[k] = true
				entries = append(entries, entry{key: k, row: row})
			}
		}
	}

	for i := 0; i < len(q.steps); i++ {
		st := q.steps[i]
		switch st.kind {
		case stepFilter:
			kept := entries[:0:0]
			m := &matcher{}
			for _, e := range entries {
				if m.matches(e.row, st.pred) {
					kept = append(kept, e)
				}
			}
			entries = kept
		case stepOrder:
			// consecutive OrderBy calls form one multi-key sort
			keys := []sortKey{st.key}
			for i+1 < len(q.steps) && q.steps[i+1].kind == stepOrder {
				i++
				keys = append(keys, q.steps[i].key)
			}
			sortEntries(entries, keys)
		case stepSkip:
			switch {
			case st.n >= len(entries):
				entries = nil
			case st.n > 0:
				entries = entries[st.n:]
			}
		case stepLimit:
			n := st.n
			if n < 0 {
				n = 0
			}
			if n < len(entries) {
				entries = entries[:n]
			}
		}
	}

	out := make([]string, len(entries))
	for i, e := range entries {
		out[i] = e.key
	}
	return out
}

func (q *query) Run(ctx context.Context) ([]table.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := q.t.s
	s.mu.RLock()
	defer s.mu.RUnlock()

	keys := q.selectKeys()
	out := make([]table.Record, 0, len(keys))
	for _, k := range keys {
		row := s.rows[k]
		if len(q.pluck) > 0 {
			out = append(out, table.Pick(row, q.pluck...))
			continue
		}
		out = append(out, row.Clone())
	}
	return out, nil
}

func (q *query) Count(ctx context.Context) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	s := q.t.s
	s.mu.RLock()
	defer s.mu.RUnlock()
	return int64(len(q.selectKeys())), nil
}

func (q *query) Update(ctx context.Context, data table.Record, opts table.WriteOptions) (*table.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := q.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &table.WriteResult{}
	keys := q.selectKeys()
	if q.src == sourceGet && len(keys) == 0 {
		res.Skipped++
		return res, nil
	}
	for _, k := range keys {
		old := s.rows[k]
		if id, ok := data[s.pk]; ok && !table.EqualValues(id, old[s.pk]) {
			res.AddError(table.ErrPrimaryKeyChange.Error())
			continue
		}
		next := table.Record(table.Merge(old, data.Clone()))
		s.applyChange(res, opts, k, old, next)
	}
	return res, nil
}

// Replace swaps whole rows. Replacing a missing single row inserts it.
func (q *query) Replace(ctx context.Context, data table.Record, opts table.WriteOptions) (*table.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := q.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &table.WriteResult{}
	keys := q.selectKeys()
	if q.src == sourceGet && len(keys) == 0 {
		row := data.Clone()
		if row == nil {
			row = table.Record{}
		}
		if _, ok := row[s.pk]; !ok {
			row[s.pk] = q.ids[0]
		}
		if !table.EqualValues(row[s.pk], q.ids[0]) {
			res.AddError(table.ErrPrimaryKeyChange.Error())
			return res, nil
		}
		k := table.KeyOf(row[s.pk])
		s.put(k, row)
		res.Inserted++
		s.record(res, opts, nil, row)
		return res, nil
	}
	for _, k := range keys {
		old := s.rows[k]
		next := data.Clone()
		if next == nil {
			next = table.Record{}
		}
		if id, ok := next[s.pk]; ok && !table.EqualValues(id, old[s.pk]) {
			res.AddError(table.ErrPrimaryKeyChange.Error())
			continue
		}
		next[s.pk] = old[s.pk]
		s.applyChange(res, opts, k, old, next)
	}
	return res, nil
}

func (q *query) Delete(ctx context.Context, opts table.WriteOptions) (*table.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := q.t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &table.WriteResult{}
	keys := q.selectKeys()
	if q.src == sourceGet && len(keys) == 0 {
		res.Skipped++
		return res, nil
	}
	for _, k := range keys {
		old := s.rows[k]
		s.remove(k)
		res.Deleted++
		s.record(res, opts, old, nil)
	}
	return res, nil
}
