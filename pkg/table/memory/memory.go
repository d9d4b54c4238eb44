// Package memory is an in-process table driver with a change feed.
//
// It backs tests and the "memory" database type. Every mutation is applied
// under the table lock and broadcast to open cursors in the same order.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/nimburion/docservice/pkg/table"
)

// Database is an in-memory table.Database.
type Database struct {
	name string

	mu      sync.Mutex
	created bool
	tables  map[string]*store
}

// NewDatabase creates an empty in-memory database.
func NewDatabase(name string) *Database {
	return &Database{
		name:   name,
		tables: make(map[string]*store),
	}
}

// Name returns the database name.
func (d *Database) Name() string { return d.name }

// EnsureDatabase marks the database as created.
func (d *Database) EnsureDatabase(ctx context.Context) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.created {
		return false, nil
	}
	d.created = true
	return true, nil
}

// EnsureTable creates the named table if it does not exist yet.
func (d *Database) EnsureTable(ctx context.Context, name string, opts table.Options) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, ok := d.tables[name]; ok {
		return false, nil
	}
	d.tables[name] = newStore(opts.PrimaryKey)
	return true, nil
}

// Table returns a handle on the named table, creating its storage on first use.
func (d *Database) Table(name string, opts table.Options) table.Table {
	d.mu.Lock()
	defer d.mu.Unlock()
	s, ok := d.tables[name]
	if !ok {
		s = newStore(opts.PrimaryKey)
		d.tables[name] = s
	}
	return &Table{name: name, s: s}
}

// WaitForHealthy returns immediately; memory storage is always ready.
func (d *Database) WaitForHealthy(ctx context.Context) error {
	return ctx.Err()
}

type store struct {
	pk string

	mu      sync.RWMutex
	rows    map[string]table.Record
	order   []string
	subs    map[uint64]*cursor
	nextSub uint64
}

func newStore(pk string) *store {
	if pk == "" {
		pk = table.DefaultPrimaryKey
	}
	return &store{
		pk:   pk,
		rows: make(map[string]table.Record),
		subs: make(map[uint64]*cursor),
	}
}

// Table is an in-memory table.Table.
type Table struct {
	name string
	s    *store
}

// Name returns the table name.
func (t *Table) Name() string { return t.name }

// PrimaryKey returns the id field of the table.
func (t *Table) PrimaryKey() string { return t.s.pk }

// All selects every row.
func (t *Table) All() table.Query {
	return &query{t: t, src: sourceAll}
}

// Get selects one row by primary key.
func (t *Table) Get(id interface{}) table.Query {
	return &query{t: t, src: sourceGet, ids: []interface{}{id}}
}

// GetAll selects rows by primary keys.
func (t *Table) GetAll(ids ...interface{}) table.Query {
	return &query{t: t, src: sourceGetAll, ids: append([]interface{}(nil), ids...)}
}

// Len returns the number of stored rows.
func (t *Table) Len() int {
	t.s.mu.RLock()
	defer t.s.mu.RUnlock()
	return len(t.s.rows)
}

// Insert stores docs. Rows without a primary key get a generated UUID, reported
// in GeneratedKeys in input order.
func (t *Table) Insert(ctx context.Context, docs []table.Record, opts table.WriteOptions) (*table.WriteResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()

	res := &table.WriteResult{}
	for _, doc := range docs {
		row := doc.Clone()
		if row == nil {
			row = table.Record{}
		}
		id, ok := row[s.pk]
		if !ok || id == nil {
			key := uuid.NewString()
			row[s.pk] = key
			id = key
			res.GeneratedKeys = append(res.GeneratedKeys, key)
		}
		k := table.KeyOf(id)
		old, exists := s.rows[k]
		if !exists {
			s.put(k, row)
			res.Inserted++
			s.record(res, opts, nil, row)
			continue
		}
		switch opts.Conflict {
		case table.ConflictReplace:
			s.applyChange(res, opts, k, old, row)
		case table.ConflictUpdate:
			s.applyChange(res, opts, k, old, table.Merge(old, row))
		default:
			res.AddError(fmt.Sprintf("Duplicate primary key `%s`", s.pk))
		}
	}
	return res, nil
}

// Changes subscribes to every later mutation of the table.
func (t *Table) Changes(ctx context.Context) (table.Cursor, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s := t.s
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextSub++
	c := &cursor{
		id:     s.nextSub,
		s:      s,
		notify: make(chan struct{}, 1),
	}
	s.subs[c.id] = c
	return c, nil
}

func (s *store) put(k string, row table.Record) {
	if _, ok := s.rows[k]; !ok {
		s.order = append(s.order, k)
	}
	s.rows[k] = row
}

func (s *store) remove(k string) {
	delete(s.rows, k)
	for i, key := range s.order {
		if key == k {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
}

// applyChange swaps old for next, counting it as replaced or unchanged.
func (s *store) applyChange(res *table.WriteResult, opts table.WriteOptions, k string, old, next table.Record) {
	if !table.EqualValues(map[string]interface{}(old), map[string]interface{}(next)) {
		s.put(k, next)
		res.Replaced++
		s.record(res, opts, old, next)
		return
	}
	res.Unchanged++
}

// record appends the delta to the result when asked and broadcasts it.
// Callers hold s.mu.
func (s *store) record(res *table.WriteResult, opts table.WriteOptions, old, next table.Record) {
	change := table.Change{OldVal: old.Clone(), NewVal: next.Clone()}
	if opts.ReturnChanges {
		res.Changes = append(res.Changes, change)
	}
	for _, sub := range s.subs {
		sub.push(table.Change{OldVal: old.Clone(), NewVal: next.Clone()})
	}
}
