package query

import (
	"context"
	"encoding/json"

	"github.com/nimburion/docservice/pkg/table"
	"golang.org/x/sync/errgroup"
)

// Build applies the predicate, projection and sort of q to base. It returns the
// parsed reserved keys for the caller to window the query with.
func (t *Translator) Build(base table.Query, q Query) (table.Query, Filters, error) {
	filters, rest, err := Split(q)
	if err != nil {
		return nil, filters, err
	}
	pred, err := t.Translate(rest)
	if err != nil {
		return nil, filters, err
	}

	rq := base.Filter(pred)
	if len(filters.Select) > 0 {
		rq = rq.Pluck(filters.Select...)
	}
	for _, s := range filters.Sort {
		rq = rq.OrderBy(s.Field, s.Desc)
	}
	return rq, filters, nil
}

// Composed is a read query ready to run, with its optional count query.
type Composed struct {
	Read table.Query
	// Count is set only when pagination is enabled. It selects the filtered
	// set before skip and limit.
	Count table.Query
	// Limit is the effective limit, nil when the read is unbounded.
	Limit *int
	Skip  int
}

// Paginated reports whether Execute wraps the result in a page.
func (c *Composed) Paginated() bool {
	return c.Count != nil
}

// Window derives the count query from rq, then applies skip and the effective
// limit. $limit wins over the pagination default and is clamped to the max.
func Window(rq table.Query, filters Filters, paginate *Paginate) *Composed {
	c := &Composed{Skip: filters.Skip}
	if paginate.Enabled() {
		c.Count = rq
	}
	if filters.Skip > 0 {
		rq = rq.Skip(filters.Skip)
	}

	var limit *int
	switch {
	case filters.Limit != nil:
		n := *filters.Limit
		limit = &n
	case paginate.Enabled():
		n := paginate.Default
		limit = &n
	}
	if limit != nil && paginate != nil && paginate.Max > 0 && *limit > paginate.Max {
		*limit = paginate.Max
	}
	if limit != nil {
		rq = rq.Limit(*limit)
	}

	c.Read = rq
	c.Limit = limit
	return c
}

// Compose builds the full read query for q over base.
func Compose(base table.Query, t *Translator, q Query, paginate *Paginate) (*Composed, error) {
	rq, filters, err := t.Build(base, q)
	if err != nil {
		return nil, err
	}
	return Window(rq, filters, paginate), nil
}

// Execute runs the read and count queries concurrently.
func (c *Composed) Execute(ctx context.Context) (*Result, error) {
	var (
		data  []table.Record
		total int64
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		rows, err := c.Read.Run(gctx)
		data = rows
		return err
	})
	if c.Count != nil {
		g.Go(func() error {
			n, err := c.Count.Count(gctx)
			total = n
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	if data == nil {
		data = []table.Record{}
	}
	res := &Result{Data: data}
	if c.Paginated() {
		res.Paginated = true
		res.Total = total
		res.Skip = c.Skip
		if c.Limit != nil {
			res.Limit = *c.Limit
		}
	}
	return res, nil
}

// Result is the outcome of a find: a page when pagination is enabled, a bare
// list otherwise.
type Result struct {
	Paginated bool
	Total     int64
	Limit     int
	Skip      int
	Data      []table.Record
}

type page struct {
	Total int64          `json:"total"`
	Limit int            `json:"limit"`
	Skip  int            `json:"skip"`
	Data  []table.Record `json:"data"`
}

// MarshalJSON encodes a page object or a bare array.
func (r *Result) MarshalJSON() ([]byte, error) {
	data := r.Data
	if data == nil {
		data = []table.Record{}
	}
	if !r.Paginated {
		return json.Marshal(data)
	}
	return json.Marshal(page{Total: r.Total, Limit: r.Limit, Skip: r.Skip, Data: data})
}
