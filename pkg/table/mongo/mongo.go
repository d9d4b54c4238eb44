// Package mongo runs tables on MongoDB collections.
//
// Records keep their primary key in _id. Change feeds use change streams,
// which need a replica set or sharded cluster.
package mongo

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/nimburion/docservice/pkg/observability/tracing"
	"github.com/nimburion/docservice/pkg/store/mongodb"
	"github.com/nimburion/docservice/pkg/table"
	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/writeconcern"
	"go.opentelemetry.io/otel/trace"
)

const (
	dbSystem          = "mongodb"
	duplicateKeyError = 11000
)

// Database is a table.Database over a MongoDB adapter.
type Database struct {
	adapter *mongodb.Adapter
	log     logger.Logger
}

// NewDatabase wraps an open adapter.
func NewDatabase(adapter *mongodb.Adapter, log logger.Logger) (*Database, error) {
	if adapter == nil {
		return nil, fmt.Errorf("mongodb adapter is required")
	}
	if log == nil {
		log = logger.NewNop()
	}
	return &Database{adapter: adapter, log: log}, nil
}

// Name returns the database name.
func (d *Database) Name() string { return d.adapter.DatabaseName() }

// EnsureDatabase reports whether the database was absent.
func (d *Database) EnsureDatabase(ctx context.Context) (bool, error) {
	return d.adapter.EnsureDatabase(ctx)
}

// EnsureTable creates the backing collection. With opts.PreImages the
// collection records pre-images for the change feed.
func (d *Database) EnsureTable(ctx context.Context, name string, opts table.Options) (bool, error) {
	return d.adapter.EnsureCollection(ctx, name, opts.PreImages)
}

// Table returns a handle on the named collection.
func (d *Database) Table(name string, opts table.Options) table.Table {
	pk := opts.PrimaryKey
	if pk == "" {
		pk = table.DefaultPrimaryKey
	}
	return &Table{
		db:        d,
		name:      name,
		pk:        pk,
		preImages: opts.PreImages,
	}
}

// WaitForHealthy blocks until the server answers.
func (d *Database) WaitForHealthy(ctx context.Context) error {
	return d.adapter.WaitForHealthy(ctx)
}

// Table is a table.Table over one collection.
type Table struct {
	db        *Database
	name      string
	pk        string
	preImages bool
}

// Name returns the collection name.
func (t *Table) Name() string { return t.name }

// PrimaryKey returns the id field of the records.
func (t *Table) PrimaryKey() string { return t.pk }

// All selects every document.
func (t *Table) All() table.Query {
	return &query{t: t}
}

// Get selects one document by primary key.
func (t *Table) Get(id interface{}) table.Query {
	return &query{t: t, byID: true, single: true, ids: []interface{}{id}}
}

// GetAll selects documents by primary keys.
func (t *Table) GetAll(ids ...interface{}) table.Query {
	return &query{t: t, byID: true, ids: append([]interface{}(nil), ids...)}
}

func (t *Table) collection(opts table.WriteOptions) *mongo.Collection {
	coll := t.db.adapter.Collection(t.name)
	// Clone never returns a non-nil error in mongo-driver v1.
	switch opts.Durability {
	case table.DurabilityHard:
		c, _ := coll.Clone(options.Collection().SetWriteConcern(writeconcern.Journaled()))
		return c
	case table.DurabilitySoft:
		c, _ := coll.Clone(options.Collection().SetWriteConcern(writeconcern.W1()))
		return c
	}
	return coll
}

func (t *Table) span(ctx context.Context, op tracing.SpanOperation) (context.Context, trace.Span) {
	return tracing.StartDatabaseSpan(ctx, op,
		tracing.WithDBSystem(dbSystem),
		tracing.WithDBName(t.db.Name()),
		tracing.WithDBTable(t.name),
	)
}

// Insert stores docs. Documents without a primary key get a generated UUID,
// reported in GeneratedKeys in input order. Conflicts are resolved per
// opts.Conflict; with the default strategy a duplicate key counts as an error
// and the other documents are still written.
func (t *Table) Insert(ctx context.Context, docs []table.Record, opts table.WriteOptions) (res *table.WriteResult, err error) {
	ctx, span := t.span(ctx, tracing.SpanOperationDBInsert)
	defer func() { tracing.End(span, err) }()

	res = &table.WriteResult{}
	rows := make([]table.Record, len(docs))
	for i, doc := range docs {
		row := doc.Clone()
		if row == nil {
			row = table.Record{}
		}
		if id, ok := row[t.pk]; !ok || id == nil {
			key := uuid.NewString()
			row[t.pk] = key
			res.GeneratedKeys = append(res.GeneratedKeys, key)
		}
		rows[i] = row
	}
	if len(rows) == 0 {
		return res, nil
	}

	opCtx, cancel := t.db.adapter.OperationContext(ctx)
	defer cancel()

	switch opts.Conflict {
	case table.ConflictReplace, table.ConflictUpdate:
		for _, row := range rows {
			if err := t.upsert(opCtx, row, opts, res); err != nil {
				return nil, err
			}
		}
		return res, nil
	}

	payload := make([]interface{}, len(rows))
	for i, row := range rows {
		payload[i] = toDoc(t.pk, row)
	}
	failed := map[int]bool{}
	_, err = t.collection(opts).InsertMany(opCtx, payload, options.InsertMany().SetOrdered(false))
	if err != nil {
		var bulk mongo.BulkWriteException
		if !errors.As(err, &bulk) || len(bulk.WriteErrors) == 0 {
			return nil, fmt.Errorf("insert into %s: %w", t.name, err)
		}
		for _, we := range bulk.WriteErrors {
			failed[we.Index] = true
			if we.Code == duplicateKeyError {
				res.AddError(fmt.Sprintf("Duplicate primary key `%s`", t.pk))
				continue
			}
			res.AddError(we.Message)
		}
	}
	for i, row := range rows {
		if failed[i] {
			continue
		}
		res.Inserted++
		if opts.ReturnChanges {
			res.Changes = append(res.Changes, table.Change{NewVal: row})
		}
	}
	return res, nil
}

// upsert writes row over an existing document with the same key, replacing
// or merging it.
func (t *Table) upsert(ctx context.Context, row table.Record, opts table.WriteOptions, res *table.WriteResult) error {
	coll := t.collection(opts)
	filter := bson.M{idField: row[t.pk]}

	var result *mongo.SingleResult
	if opts.Conflict == table.ConflictReplace {
		result = coll.FindOneAndReplace(ctx, filter, toDoc(t.pk, row),
			options.FindOneAndReplace().SetUpsert(true).SetReturnDocument(options.Before))
	} else {
		result = coll.FindOneAndUpdate(ctx, filter, bson.M{"$set": setPaths(t.pk, row)},
			options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.Before))
	}

	var before bson.M
	if err := result.Decode(&before); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			res.Inserted++
			if opts.ReturnChanges {
				res.Changes = append(res.Changes, table.Change{NewVal: row})
			}
			return nil
		}
		return fmt.Errorf("upsert into %s: %w", t.name, err)
	}

	old := fromDoc(t.pk, before)
	next := row
	if opts.Conflict == table.ConflictUpdate {
		next = table.Merge(old, row)
	}
	t.count(res, opts, old, next)
	return nil
}

// count records a write of old into next as replaced or unchanged.
func (t *Table) count(res *table.WriteResult, opts table.WriteOptions, old, next table.Record) {
	if table.EqualValues(map[string]interface{}(old), map[string]interface{}(next)) {
		res.Unchanged++
		return
	}
	res.Replaced++
	if opts.ReturnChanges {
		res.Changes = append(res.Changes, table.Change{OldVal: old, NewVal: next})
	}
}

// Changes opens a change stream over the collection. Updates carry the
// current document and, when the table was opened with PreImages, the
// previous one.
func (t *Table) Changes(ctx context.Context) (c table.Cursor, err error) {
	ctx, span := t.span(ctx, tracing.SpanOperationDBWatch)
	defer func() { tracing.End(span, err) }()

	opts := options.ChangeStream().SetFullDocument(options.UpdateLookup)
	if t.preImages {
		opts.SetFullDocumentBeforeChange(options.WhenAvailable)
	}
	stream, err := t.db.adapter.Collection(t.name).Watch(ctx, mongo.Pipeline{}, opts)
	if err != nil {
		return nil, fmt.Errorf("watch %s: %w", t.name, err)
	}
	return &cursor{stream: stream, pk: t.pk}, nil
}
