// Package service exposes a table as a paginated CRUD service and bridges the
// table's change feed into service events.
//
// Reads go through query.Compose. Patch and update read the current records
// first and write them in a second, separate call; concurrent writers can
// interleave between the two.
package service

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nimburion/docservice/pkg/apperr"
	"github.com/nimburion/docservice/pkg/events"
	"github.com/nimburion/docservice/pkg/hooks"
	"github.com/nimburion/docservice/pkg/observability/logger"
	"github.com/nimburion/docservice/pkg/observability/metrics"
	"github.com/nimburion/docservice/pkg/observability/tracing"
	"github.com/nimburion/docservice/pkg/query"
	"github.com/nimburion/docservice/pkg/table"
)

// Error kinds returned by the service. Match them with errors.Is.
var (
	ErrNotFound   = apperr.ErrNotFound
	ErrConflict   = apperr.ErrConflict
	ErrBadRequest = apperr.ErrBadRequest
	ErrUsage      = apperr.ErrUsage
)

// Options configures a Service.
type Options struct {
	// Name is the table the service runs on.
	Name string
	// ID is the primary key field, "id" when empty.
	ID string
	// Whitelist lists the operators accepted on top of the base comparison
	// operators. Nil means query.DefaultWhitelist.
	Whitelist []string
	// Paginate is the default pagination. Nil disables it.
	Paginate *query.Paginate
	// DisableWatch turns the change feed bridge off.
	DisableWatch bool
	// PreImages asks the driver for previous record versions in the feed.
	PreImages bool
	// Events receives change feed events. Nil means nothing is emitted.
	Events events.Emitter
	// Hooks replays change feed events through the after chain of the
	// matching method before they are emitted.
	Hooks  hooks.Pipeline
	Logger logger.Logger
}

// Service is a CRUD service over one table.
type Service struct {
	db         table.Database
	table      table.Table
	opts       Options
	id         string
	translator *query.Translator
	log        logger.Logger

	mu     sync.Mutex
	cursor table.Cursor
}

// New builds a Service over the opts.Name table of db.
func New(db table.Database, opts Options) (*Service, error) {
	if db == nil {
		return nil, fmt.Errorf("database is required")
	}
	if opts.Name == "" {
		return nil, fmt.Errorf("table name is required")
	}
	if opts.ID == "" {
		opts.ID = table.DefaultPrimaryKey
	}
	if opts.Whitelist == nil {
		opts.Whitelist = append([]string(nil), query.DefaultWhitelist...)
	}
	tr, err := query.NewTranslator(opts.Whitelist)
	if err != nil {
		return nil, fmt.Errorf("service %q: %w", opts.Name, err)
	}
	if opts.Logger == nil {
		opts.Logger = logger.NewNop()
	}

	return &Service{
		db:         db,
		table:      db.Table(opts.Name, table.Options{PrimaryKey: opts.ID, PreImages: opts.PreImages}),
		opts:       opts,
		id:         opts.ID,
		translator: tr,
		log:        opts.Logger.With("service", opts.Name),
	}, nil
}

// Table returns the underlying table handle.
func (s *Service) Table() table.Table { return s.table }

// Options returns the options the service was built with.
func (s *Service) Options() Options { return s.opts }

// ID returns the primary key field.
func (s *Service) ID() string { return s.id }

// Init creates the database and the table when they do not exist yet.
func (s *Service) Init(ctx context.Context, opts table.Options) error {
	if opts.PrimaryKey == "" {
		opts.PrimaryKey = s.id
	}
	created, err := s.db.EnsureDatabase(ctx)
	if err != nil {
		return fmt.Errorf("ensure database %q: %w", s.db.Name(), err)
	}
	if created {
		s.log.Info("database created", "database", s.db.Name())
	}
	created, err = s.db.EnsureTable(ctx, s.opts.Name, opts)
	if err != nil {
		return fmt.Errorf("ensure table %q: %w", s.opts.Name, err)
	}
	if created {
		s.log.Info("table created", "table", s.opts.Name)
	}
	return nil
}

func (s *Service) observe(ctx context.Context, method hooks.Method) (context.Context, func(error)) {
	start := time.Now()
	ctx, span := tracing.StartOperationSpan(ctx, s.opts.Name, string(method))
	return ctx, func(err error) {
		outcome := metrics.OutcomeOK
		if err != nil {
			outcome = metrics.OutcomeError
			s.log.WithContext(ctx).Debug("operation failed", "method", method, "error", err)
		}
		metrics.RecordOperation(s.opts.Name, string(method), outcome, time.Since(start))
		tracing.End(span, err)
	}
}

func (s *Service) paginate(p *Params) *query.Paginate {
	if p != nil && p.Paginate != nil {
		return p.Paginate
	}
	return s.opts.Paginate
}

// Find returns the records matching params.Query: a page when pagination is
// enabled for the call, a bare list otherwise.
func (s *Service) Find(ctx context.Context, params *Params) (res *query.Result, err error) {
	ctx, done := s.observe(ctx, hooks.Find)
	defer func() { done(err) }()
	return s.find(ctx, params, s.paginate(params))
}

func (s *Service) find(ctx context.Context, params *Params, paginate *query.Paginate) (*query.Result, error) {
	q := params.query()

	var composed *query.Composed
	if params != nil && params.Override != nil {
		filters, _, err := query.Split(q)
		if err != nil {
			return nil, err
		}
		composed = query.Window(params.Override, filters, paginate)
	} else {
		c, err := query.Compose(s.table.All(), s.translator, q, paginate)
		if err != nil {
			return nil, err
		}
		composed = c
	}

	res, err := composed.Execute(ctx)
	if err != nil {
		return nil, fmt.Errorf("find in %q: %w", s.opts.Name, err)
	}
	return res, nil
}

// Get returns the record with the given id. A nil id looks up the first
// record matching params.Query instead. The id field is always part of a
// $select projection.
func (s *Service) Get(ctx context.Context, id interface{}, params *Params) (rec table.Record, err error) {
	ctx, done := s.observe(ctx, hooks.Get)
	defer func() { done(err) }()
	return s.get(ctx, id, params)
}

// GetOrFind runs Find for AllRecords and Get otherwise.
func (s *Service) GetOrFind(ctx context.Context, id interface{}, params *Params) (interface{}, error) {
	if isAll(id) {
		return s.Find(ctx, params)
	}
	return s.Get(ctx, id, params)
}

func (s *Service) get(ctx context.Context, id interface{}, params *Params) (table.Record, error) {
	q := params.query()
	sel := query.Select(q)

	var rq table.Query
	if id != nil && !isAll(id) {
		rq = s.table.Get(id)
	} else {
		built, _, err := s.translator.Build(s.table.All(), withoutSelect(q))
		if err != nil {
			return nil, err
		}
		rq = built.Limit(1)
	}
	if len(sel) > 0 {
		rq = rq.Pluck(append(sel, s.id)...)
	}

	rows, err := rq.Run(ctx)
	if err != nil {
		return nil, fmt.Errorf("get from %q: %w", s.opts.Name, err)
	}
	if len(rows) == 0 || rows[0] == nil {
		return nil, apperr.NewNotFound(fmt.Sprintf("No record found for id '%v'", displayID(id)))
	}
	return rows[0], nil
}

func displayID(id interface{}) interface{} {
	if id == nil {
		return "undefined"
	}
	return id
}

// Create inserts a record or a list of records and returns them in the same
// shape, with generated ids filled in for items that had none.
func (s *Service) Create(ctx context.Context, data interface{}, params *Params) (out interface{}, err error) {
	ctx, done := s.observe(ctx, hooks.Create)
	defer func() { done(err) }()

	items, single, err := asRecords(data)
	if err != nil {
		return nil, err
	}

	allHaveIDs := len(items) > 0
	for _, item := range items {
		if v, ok := item[s.id]; !ok || v == nil {
			allHaveIDs = false
			break
		}
	}

	res, err := s.table.Insert(ctx, items, createOptions(params))
	if err != nil {
		return nil, fmt.Errorf("insert into %q: %w", s.opts.Name, err)
	}
	if res.Errors > 0 {
		if allHaveIDs {
			return nil, apperr.NewConflict("Duplicate primary key", map[string]interface{}{
				"errors":      res.Errors,
				"first_error": res.FirstError,
			})
		}
		return nil, fmt.Errorf("insert into %q: %d errors, first: %s", s.opts.Name, res.Errors, res.FirstError)
	}

	created := make([]table.Record, len(items))
	next := 0
	for i, item := range items {
		rec := item.Clone()
		if rec == nil {
			rec = table.Record{}
		}
		if v, ok := rec[s.id]; (!ok || v == nil) && next < len(res.GeneratedKeys) {
			rec[s.id] = res.GeneratedKeys[next]
			next++
		}
		created[i] = rec
	}

	if single {
		return s.selectOne(params, created[0]), nil
	}
	return s.selectMany(params, created), nil
}

// Patch merges data into the record with the given id, or into every record
// matching params.Query when id is nil or AllRecords. A nil id without params
// is a usage error. A single patched record comes back bare, several as a
// list.
func (s *Service) Patch(ctx context.Context, id interface{}, data table.Record, params *Params) (out interface{}, err error) {
	ctx, done := s.observe(ctx, hooks.Patch)
	defer func() { done(err) }()

	opts := mutationOptions(params)

	if id != nil && !isAll(id) {
		current, err := s.get(ctx, id, nil)
		if err != nil {
			return nil, err
		}
		res, err := s.table.Get(id).Update(ctx, data, opts)
		if err != nil {
			return nil, fmt.Errorf("patch %q: %w", s.opts.Name, err)
		}
		if err := writeError(res); err != nil {
			return nil, err
		}
		if len(res.Changes) == 0 {
			return s.selectOne(params, current), nil
		}
		return s.selectOne(params, res.Changes[0].NewVal), nil
	}

	if id == nil && params == nil {
		return nil, apperr.NewUsage("Patch requires an ID or params")
	}

	lookup := &Params{Query: withoutSelect(params.query())}
	if params != nil {
		lookup.Override = params.Override
	}
	found, err := s.find(ctx, lookup, &query.Paginate{})
	if err != nil {
		return nil, err
	}
	ids := make([]interface{}, 0, len(found.Data))
	for _, row := range found.Data {
		ids = append(ids, row[s.id])
	}

	patched := found.Data
	if len(ids) > 0 {
		res, err := s.table.GetAll(ids...).Update(ctx, data, opts)
		if err != nil {
			return nil, fmt.Errorf("patch %q: %w", s.opts.Name, err)
		}
		if err := writeError(res); err != nil {
			return nil, err
		}
		patched = mergeChanges(s.id, found.Data, res.Changes)
	}

	if len(patched) == 1 {
		return s.selectOne(params, patched[0]), nil
	}
	return s.selectMany(params, patched), nil
}

// mergeChanges returns rows with each changed row replaced by its new value.
func mergeChanges(idField string, rows []table.Record, changes []table.Change) []table.Record {
	byID := make(map[string]table.Record, len(changes))
	for _, ch := range changes {
		if ch.NewVal != nil {
			byID[table.KeyOf(ch.NewVal[idField])] = ch.NewVal
		}
	}
	out := make([]table.Record, len(rows))
	for i, row := range rows {
		if nv, ok := byID[table.KeyOf(row[idField])]; ok {
			out[i] = nv
			continue
		}
		out[i] = row
	}
	return out
}

// Update replaces the record with the given id by data. Lists and a missing
// id are rejected; use Patch for bulk changes.
func (s *Service) Update(ctx context.Context, id interface{}, data interface{}, params *Params) (out table.Record, err error) {
	ctx, done := s.observe(ctx, hooks.Update)
	defer func() { done(err) }()

	if isList(data) || id == nil || isAll(id) {
		return nil, apperr.NewBadRequest("Not replacing multiple records. Did you mean `patch`?")
	}
	rec, ok := asRecord(data)
	if !ok {
		return nil, apperr.NewBadRequest("data must be an object")
	}

	current, err := s.get(ctx, id, withoutSelectParams(params))
	if err != nil {
		return nil, err
	}

	replacement := rec.Clone()
	if replacement == nil {
		replacement = table.Record{}
	}
	replacement[s.id] = id

	res, err := s.table.Get(current[s.id]).Replace(ctx, replacement, mutationOptions(params))
	if err != nil {
		return nil, fmt.Errorf("update %q: %w", s.opts.Name, err)
	}
	if err := writeError(res); err != nil {
		return nil, err
	}
	if len(res.Changes) > 0 && res.Changes[0].NewVal != nil {
		return s.selectOne(params, res.Changes[0].NewVal), nil
	}
	return s.selectOne(params, replacement), nil
}

func withoutSelectParams(p *Params) *Params {
	if p == nil {
		return nil
	}
	cp := *p
	cp.Query = withoutSelect(p.query())
	return &cp
}

// Remove deletes the record with the given id, or every record matching
// params.Query when id is AllRecords. A nil id is a usage error whatever the
// params, so a missing id never turns into a bulk delete. It returns the
// deleted record, or the list of deleted records for a bulk remove.
func (s *Service) Remove(ctx context.Context, id interface{}, params *Params) (out interface{}, err error) {
	ctx, done := s.observe(ctx, hooks.Remove)
	defer func() { done(err) }()

	opts := mutationOptions(params)

	switch {
	case id == nil:
		return nil, apperr.NewUsage("You must pass an id, or AllRecords with params, to remove.")
	case isAll(id):
		rq, _, err := s.translator.Build(s.table.All(), withoutSelect(params.query()))
		if err != nil {
			return nil, err
		}
		res, err := rq.Delete(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("remove from %q: %w", s.opts.Name, err)
		}
		removed := make([]table.Record, 0, len(res.Changes))
		for _, ch := range res.Changes {
			removed = append(removed, ch.OldVal)
		}
		return s.selectMany(params, removed), nil
	default:
		res, err := s.table.Get(id).Delete(ctx, opts)
		if err != nil {
			return nil, fmt.Errorf("remove from %q: %w", s.opts.Name, err)
		}
		if len(res.Changes) == 0 {
			return []table.Record{}, nil
		}
		return s.selectOne(params, res.Changes[0].OldVal), nil
	}
}

func writeError(res *table.WriteResult) error {
	if res == nil || res.Errors == 0 {
		return nil
	}
	if res.FirstError == table.ErrPrimaryKeyChange.Error() {
		return apperr.NewBadRequest(res.FirstError).WithCause(table.ErrPrimaryKeyChange)
	}
	return errors.New(res.FirstError)
}

func (s *Service) selectOne(params *Params, rec table.Record) table.Record {
	sel := query.Select(params.query())
	if len(sel) == 0 || rec == nil {
		return rec
	}
	return table.Pick(rec, append(sel, s.id)...)
}

func (s *Service) selectMany(params *Params, recs []table.Record) []table.Record {
	out := make([]table.Record, len(recs))
	for i, rec := range recs {
		out[i] = s.selectOne(params, rec)
	}
	return out
}
