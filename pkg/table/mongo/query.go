package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/docservice/pkg/observability/tracing"
	"github.com/nimburion/docservice/pkg/table"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

// query accumulates a selection. Filters combine with AND; projection, sort,
// skip and limit are applied by the server in that order.
type query struct {
	t      *Table
	byID   bool
	single bool
	ids    []interface{}
	preds  []table.Predicate
	fields []string
	sort   bson.D
	skip   int64
	limit  *int64
}

func (q *query) clone() *query {
	cp := *q
	cp.preds = append([]table.Predicate(nil), q.preds...)
	cp.fields = append([]string(nil), q.fields...)
	cp.sort = append(bson.D(nil), q.sort...)
	return &cp
}

func (q *query) Filter(p table.Predicate) table.Query {
	cp := q.clone()
	if !p.IsMatchAll() {
		cp.preds = append(cp.preds, p)
	}
	return cp
}

func (q *query) Pluck(fields ...string) table.Query {
	cp := q.clone()
	cp.fields = append([]string(nil), fields...)
	return cp
}

func (q *query) OrderBy(name string, desc bool) table.Query {
	cp := q.clone()
	dir := 1
	if desc {
		dir = -1
	}
	cp.sort = append(cp.sort, bson.E{Key: field(q.t.pk, name), Value: dir})
	return cp
}

func (q *query) Skip(n int) table.Query {
	cp := q.clone()
	cp.skip += int64(n)
	if cp.limit != nil {
		l := *cp.limit - int64(n)
		if l < 0 {
			l = 0
		}
		cp.limit = &l
	}
	return cp
}

func (q *query) Limit(n int) table.Query {
	cp := q.clone()
	l := int64(n)
	if cp.limit != nil && *cp.limit < l {
		l = *cp.limit
	}
	cp.limit = &l
	return cp
}

func (q *query) filter() (bson.M, error) {
	clauses := bson.A{}
	if q.byID {
		if q.single {
			clauses = append(clauses, bson.M{idField: q.ids[0]})
		} else {
			clauses = append(clauses, bson.M{idField: bson.M{"$in": q.ids}})
		}
	}
	for _, p := range q.preds {
		f, err := compile(q.t.pk, p)
		if err != nil {
			return nil, err
		}
		clauses = append(clauses, f)
	}
	switch len(clauses) {
	case 0:
		return bson.M{}, nil
	case 1:
		return clauses[0].(bson.M), nil
	}
	return bson.M{"$and": clauses}, nil
}

func (q *query) projection() bson.D {
	if len(q.fields) == 0 {
		return nil
	}
	proj := bson.D{}
	keepID := false
	for _, f := range q.fields {
		name := field(q.t.pk, f)
		if name == idField {
			keepID = true
			continue
		}
		proj = append(proj, bson.E{Key: name, Value: 1})
	}
	if !keepID {
		proj = append(proj, bson.E{Key: idField, Value: 0})
	} else if len(proj) == 0 {
		proj = append(proj, bson.E{Key: idField, Value: 1})
	}
	return proj
}

func (q *query) empty() bool {
	return (q.limit != nil && *q.limit == 0) || (q.byID && len(q.ids) == 0)
}

// find returns the selected documents, projection included when project is set.
func (q *query) find(ctx context.Context, project bool) ([]table.Record, error) {
	if q.empty() {
		return []table.Record{}, nil
	}
	filter, err := q.filter()
	if err != nil {
		return nil, err
	}

	opts := options.Find()
	if project {
		if proj := q.projection(); proj != nil {
			opts.SetProjection(proj)
		}
	}
	if len(q.sort) > 0 {
		opts.SetSort(q.sort)
	}
	if q.skip > 0 {
		opts.SetSkip(q.skip)
	}
	if q.limit != nil {
		opts.SetLimit(*q.limit)
	}

	opCtx, cancel := q.t.db.adapter.OperationContext(ctx)
	defer cancel()
	cur, err := q.t.db.adapter.Collection(q.t.name).Find(opCtx, filter, opts)
	if err != nil {
		return nil, fmt.Errorf("find in %s: %w", q.t.name, err)
	}
	var docs []bson.M
	if err := cur.All(opCtx, &docs); err != nil {
		return nil, fmt.Errorf("read %s: %w", q.t.name, err)
	}

	out := make([]table.Record, 0, len(docs))
	for _, doc := range docs {
		rec := fromDoc(q.t.pk, doc)
		if project && len(q.fields) > 0 && !containsField(q.fields, q.t.pk) {
			delete(rec, q.t.pk)
		}
		out = append(out, rec)
	}
	return out, nil
}

func containsField(fields []string, name string) bool {
	for _, f := range fields {
		if f == name {
			return true
		}
	}
	return false
}

func (q *query) Run(ctx context.Context) (rows []table.Record, err error) {
	ctx, span := q.t.span(ctx, tracing.SpanOperationDBQuery)
	defer func() { tracing.End(span, err) }()
	return q.find(ctx, true)
}

func (q *query) Count(ctx context.Context) (n int64, err error) {
	ctx, span := q.t.span(ctx, tracing.SpanOperationDBQuery)
	defer func() { tracing.End(span, err) }()

	if q.empty() {
		return 0, nil
	}
	filter, err := q.filter()
	if err != nil {
		return 0, err
	}
	opts := options.Count()
	if q.skip > 0 {
		opts.SetSkip(q.skip)
	}
	if q.limit != nil {
		opts.SetLimit(*q.limit)
	}
	opCtx, cancel := q.t.db.adapter.OperationContext(ctx)
	defer cancel()
	n, err = q.t.db.adapter.Collection(q.t.name).CountDocuments(opCtx, filter, opts)
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", q.t.name, err)
	}
	return n, nil
}

// Update merges data into every selected document. Nested objects merge key
// by key. Each document is written on its own; NonAtomic has no effect.
func (q *query) Update(ctx context.Context, data table.Record, opts table.WriteOptions) (res *table.WriteResult, err error) {
	ctx, span := q.t.span(ctx, tracing.SpanOperationDBUpdate)
	defer func() { tracing.End(span, err) }()

	rows, err := q.find(ctx, false)
	if err != nil {
		return nil, err
	}
	res = &table.WriteResult{}
	if q.single && len(rows) == 0 {
		res.Skipped++
		return res, nil
	}

	set := setPaths(q.t.pk, data)
	coll := q.t.collection(opts)
	for _, old := range rows {
		if id, ok := data[q.t.pk]; ok && !table.EqualValues(id, old[q.t.pk]) {
			res.AddError(table.ErrPrimaryKeyChange.Error())
			continue
		}
		if len(set) == 0 {
			res.Unchanged++
			continue
		}
		opCtx, cancel := q.t.db.adapter.OperationContext(ctx)
		var after bson.M
		err := coll.FindOneAndUpdate(opCtx, bson.M{idField: old[q.t.pk]}, bson.M{"$set": set},
			options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&after)
		cancel()
		if errors.Is(err, mongo.ErrNoDocuments) {
			res.Skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("update %s: %w", q.t.name, err)
		}
		q.t.count(res, opts, old, fromDoc(q.t.pk, after))
	}
	return res, nil
}

// Replace swaps every selected document for data. Replacing a missing single
// document inserts it.
func (q *query) Replace(ctx context.Context, data table.Record, opts table.WriteOptions) (res *table.WriteResult, err error) {
	ctx, span := q.t.span(ctx, tracing.SpanOperationDBUpdate)
	defer func() { tracing.End(span, err) }()

	rows, err := q.find(ctx, false)
	if err != nil {
		return nil, err
	}
	res = &table.WriteResult{}
	coll := q.t.collection(opts)

	if q.single && len(rows) == 0 {
		row := data.Clone()
		if row == nil {
			row = table.Record{}
		}
		if _, ok := row[q.t.pk]; !ok {
			row[q.t.pk] = q.ids[0]
		}
		opCtx, cancel := q.t.db.adapter.OperationContext(ctx)
		defer cancel()
		if _, err := coll.InsertOne(opCtx, toDoc(q.t.pk, row)); err != nil {
			if mongo.IsDuplicateKeyError(err) {
				res.AddError(fmt.Sprintf("Duplicate primary key `%s`", q.t.pk))
				return res, nil
			}
			return nil, fmt.Errorf("replace %s: %w", q.t.name, err)
		}
		res.Inserted++
		if opts.ReturnChanges {
			res.Changes = append(res.Changes, table.Change{NewVal: row})
		}
		return res, nil
	}

	for _, old := range rows {
		next := data.Clone()
		if next == nil {
			next = table.Record{}
		}
		if id, ok := next[q.t.pk]; ok && !table.EqualValues(id, old[q.t.pk]) {
			res.AddError(table.ErrPrimaryKeyChange.Error())
			continue
		}
		next[q.t.pk] = old[q.t.pk]

		opCtx, cancel := q.t.db.adapter.OperationContext(ctx)
		var after bson.M
		err := coll.FindOneAndReplace(opCtx, bson.M{idField: old[q.t.pk]}, toDoc(q.t.pk, next),
			options.FindOneAndReplace().SetReturnDocument(options.After)).Decode(&after)
		cancel()
		if errors.Is(err, mongo.ErrNoDocuments) {
			res.Skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("replace %s: %w", q.t.name, err)
		}
		q.t.count(res, opts, old, fromDoc(q.t.pk, after))
	}
	return res, nil
}

// Delete removes every selected document.
func (q *query) Delete(ctx context.Context, opts table.WriteOptions) (res *table.WriteResult, err error) {
	ctx, span := q.t.span(ctx, tracing.SpanOperationDBDelete)
	defer func() { tracing.End(span, err) }()

	rows, err := q.find(ctx, false)
	if err != nil {
		return nil, err
	}
	res = &table.WriteResult{}
	if q.single && len(rows) == 0 {
		res.Skipped++
		return res, nil
	}

	coll := q.t.collection(opts)
	for _, row := range rows {
		opCtx, cancel := q.t.db.adapter.OperationContext(ctx)
		var before bson.M
		err := coll.FindOneAndDelete(opCtx, bson.M{idField: row[q.t.pk]}).Decode(&before)
		cancel()
		if errors.Is(err, mongo.ErrNoDocuments) {
			res.Skipped++
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("delete from %s: %w", q.t.name, err)
		}
		res.Deleted++
		if opts.ReturnChanges {
			res.Changes = append(res.Changes, table.Change{OldVal: fromDoc(q.t.pk, before)})
		}
	}
	return res, nil
}
