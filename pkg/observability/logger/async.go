package logger

import (
	"context"
	"sync"
	"sync/atomic"
)

// AsyncConfig configures WrapAsync.
type AsyncConfig struct {
	Enabled      bool
	QueueSize    int
	WorkerCount  int
	DropWhenFull bool
}

type asyncEntry struct {
	base  Logger
	level LogLevel
	msg   string
	args  []any
}

type asyncQueue struct {
	entries      chan asyncEntry
	dropWhenFull bool
	dropped      atomic.Uint64
	wg           sync.WaitGroup
	stopOnce     sync.Once
	stopped      atomic.Bool
}

// AsyncLogger hands entries to worker goroutines so callers never wait on
// the underlying writer.
type AsyncLogger struct {
	base  Logger
	queue *asyncQueue
}

// WrapAsync wraps base when cfg.Enabled, otherwise returns base unchanged.
func WrapAsync(base Logger, cfg AsyncConfig) Logger {
	if !cfg.Enabled {
		return base
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WorkerCount <= 0 {
		cfg.WorkerCount = 1
	}

	q := &asyncQueue{
		entries:      make(chan asyncEntry, cfg.QueueSize),
		dropWhenFull: cfg.DropWhenFull,
	}
	for i := 0; i < cfg.WorkerCount; i++ {
		q.wg.Add(1)
		go func() {
			defer q.wg.Done()
			for e := range q.entries {
				write(e.base, e.level, e.msg, e.args)
			}
		}()
	}
	return &AsyncLogger{base: base, queue: q}
}

func write(l Logger, level LogLevel, msg string, args []any) {
	switch level {
	case DebugLevel:
		l.Debug(msg, args...)
	case WarnLevel:
		l.Warn(msg, args...)
	case ErrorLevel:
		l.Error(msg, args...)
	default:
		l.Info(msg, args...)
	}
}

func (l *AsyncLogger) Debug(msg string, args ...any) { l.enqueue(DebugLevel, msg, args) }

func (l *AsyncLogger) Info(msg string, args ...any) { l.enqueue(InfoLevel, msg, args) }

func (l *AsyncLogger) Warn(msg string, args ...any) { l.enqueue(WarnLevel, msg, args) }

func (l *AsyncLogger) Error(msg string, args ...any) { l.enqueue(ErrorLevel, msg, args) }

// With returns a child sharing the same queue.
func (l *AsyncLogger) With(args ...any) Logger {
	return &AsyncLogger{base: l.base.With(args...), queue: l.queue}
}

// WithContext returns a child sharing the same queue.
func (l *AsyncLogger) WithContext(ctx context.Context) Logger {
	return &AsyncLogger{base: l.base.WithContext(ctx), queue: l.queue}
}

// Dropped reports how many entries were discarded on a full queue.
func (l *AsyncLogger) Dropped() uint64 {
	return l.queue.dropped.Load()
}

// Close drains the queue and stops the workers. Later entries are written
// synchronously.
func (l *AsyncLogger) Close() {
	l.queue.stopOnce.Do(func() {
		l.queue.stopped.Store(true)
		close(l.queue.entries)
		l.queue.wg.Wait()
	})
}

func (l *AsyncLogger) enqueue(level LogLevel, msg string, args []any) {
	if l.queue.stopped.Load() {
		write(l.base, level, msg, args)
		return
	}
	e := asyncEntry{base: l.base, level: level, msg: msg, args: args}
	if !l.queue.dropWhenFull {
		l.queue.entries <- e
		return
	}
	select {
	case l.queue.entries <- e:
	default:
		l.queue.dropped.Add(1)
	}
}
