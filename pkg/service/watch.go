package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/nimburion/docservice/pkg/app"
	"github.com/nimburion/docservice/pkg/events"
	"github.com/nimburion/docservice/pkg/hooks"
	"github.com/nimburion/docservice/pkg/observability/metrics"
	"github.com/nimburion/docservice/pkg/table"
)

// Setup waits for the application bootstrap and a healthy connection, then
// starts the change feed bridge. It implements app.Setupper.
func (s *Service) Setup(ctx context.Context, a *app.App) error {
	if a != nil {
		if err := a.WaitBootstrap(ctx); err != nil {
			return fmt.Errorf("bootstrap: %w", err)
		}
	}
	if err := s.db.WaitForHealthy(ctx); err != nil {
		return fmt.Errorf("wait for database %q: %w", s.db.Name(), err)
	}
	_, err := s.Watch(ctx, a)
	return err
}

// Watch opens the change feed of the table and turns every delta into
// service events until ctx is done. It is idempotent: while a cursor is open
// later calls return it unchanged, and with DisableWatch it returns nil.
func (s *Service) Watch(ctx context.Context, a *app.App) (table.Cursor, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.opts.DisableWatch || s.cursor != nil {
		return s.cursor, nil
	}

	cursor, err := s.table.Changes(ctx)
	if err != nil {
		return nil, fmt.Errorf("open change feed on %q: %w", s.opts.Name, err)
	}
	s.cursor = cursor

	b := &bridge{svc: s, app: a, path: s.opts.Name, pipeline: s.opts.Hooks}
	if a != nil {
		if path, ok := a.PathOf(s); ok {
			b.path = path
		}
		if b.pipeline == nil {
			b.pipeline = a.Hooks()
		}
	}

	go b.pump(ctx, cursor)
	s.log.Info("change feed started", "path", b.path)
	return cursor, nil
}

// Cursor returns the open change feed cursor, nil when none is running.
func (s *Service) Cursor() table.Cursor {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cursor
}

func (s *Service) releaseCursor(c table.Cursor) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cursor == c {
		s.cursor = nil
	}
}

type bridge struct {
	svc      *Service
	app      *app.App
	path     string
	pipeline hooks.Pipeline
}

// delivery is the replay of one delta: the method whose after chain runs
// and the events its single result is emitted as.
type delivery struct {
	method hooks.Method
	events []string
	record table.Record
}

// classify maps a delta to its delivery. An insert is created, a delete is
// removed, anything else is replayed as a patch and emitted as both updated
// and patched.
func classify(ch table.Change) (delivery, bool) {
	switch {
	case ch.OldVal == nil && ch.NewVal == nil:
		return delivery{}, false
	case ch.OldVal == nil:
		return delivery{hooks.Create, []string{events.Created}, ch.NewVal}, true
	case ch.NewVal == nil:
		return delivery{hooks.Remove, []string{events.Removed}, ch.OldVal}, true
	default:
		return delivery{hooks.Patch, []string{events.Updated, events.Patched}, ch.NewVal}, true
	}
}

func (b *bridge) pump(ctx context.Context, cursor table.Cursor) {
	log := b.svc.log.With("path", b.path)
	defer func() {
		if err := cursor.Close(); err != nil {
			log.Warn("closing change feed", "error", err)
		}
		b.svc.releaseCursor(cursor)
		log.Info("change feed stopped")
	}()

	for {
		ch, err := cursor.Next(ctx)
		if err != nil {
			if errors.Is(err, table.ErrCursorClosed) || ctx.Err() != nil {
				return
			}
			metrics.RecordChangeFeedError(b.svc.opts.Name)
			log.Warn("change feed delivery failed", "error", err)
			continue
		}
		if d, ok := classify(ch); ok {
			b.deliver(ctx, d)
		}
	}
}

func (b *bridge) deliver(ctx context.Context, d delivery) {
	emitter := b.svc.opts.Events
	if emitter == nil {
		return
	}

	payload := interface{}(d.record)
	if b.pipeline != nil {
		out, err := b.replay(ctx, d)
		if err != nil {
			metrics.RecordChangeFeedError(b.svc.opts.Name)
			b.svc.log.Warn("change feed hook failed", "path", b.path, "method", d.method, "error", err)
			return
		}
		payload = out
	}

	for _, name := range d.events {
		emitter.Emit(ctx, events.Event{Name: name, Path: b.path, Payload: payload})
		metrics.RecordChangeEvent(b.svc.opts.Name, name)
	}
}

// replay runs the after chain of the method that would have produced the
// delta, with the record as result and arguments shaped like that method's
// call.
func (b *bridge) replay(ctx context.Context, d delivery) (interface{}, error) {
	chain := b.pipeline.Chain(b.path, hooks.After, d.method)
	if len(chain) == 0 {
		return d.record, nil
	}

	args := hooks.ShapeFor(d.method).Arguments(
		d.record[b.svc.id],
		d.record,
		hooks.Params{"query": map[string]interface{}{}},
	)
	hc := hooks.NewContext(d.method, hooks.After, args)
	hc.Path = b.path
	hc.Service = b.svc
	if b.app != nil {
		hc.App = b.app
	}
	hc.Result = d.record

	hc, err := hooks.Process(ctx, chain, hc)
	if err != nil {
		return nil, err
	}
	return hc.Result, nil
}
