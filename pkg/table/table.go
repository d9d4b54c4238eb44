// Package table defines the driver contract the document service runs against.
//
// A Table hands out composable Query values. Nothing is executed until one of
// the terminal methods (Run, Count, Update, Replace, Delete) is called, mirroring
// the query-builder chain of document databases with change feeds.
package table

import (
	"context"
	"errors"
)

// DefaultPrimaryKey is the id field used when a table is opened without one.
const DefaultPrimaryKey = "id"

var (
	// ErrCursorClosed is returned by Cursor.Next once the change stream has ended.
	ErrCursorClosed = errors.New("table: cursor closed")
	// ErrPrimaryKeyChange is returned when an update tries to change a record's id.
	ErrPrimaryKeyChange = errors.New("table: primary key cannot be changed")
)

// Record is a schemaless document.
type Record map[string]interface{}

// Clone returns a deep copy of the record.
func (r Record) Clone() Record {
	if r == nil {
		return nil
	}
	return cloneValue(map[string]interface{}(r)).(map[string]interface{})
}

// Query is an immutable, composable selection over a table.
type Query interface {
	Filter(p Predicate) Query
	Pluck(fields ...string) Query
	OrderBy(field string, desc bool) Query
	Skip(n int) Query
	Limit(n int) Query

	Run(ctx context.Context) ([]Record, error)
	Count(ctx context.Context) (int64, error)
	Update(ctx context.Context, data Record, opts WriteOptions) (*WriteResult, error)
	Replace(ctx context.Context, data Record, opts WriteOptions) (*WriteResult, error)
	Delete(ctx context.Context, opts WriteOptions) (*WriteResult, error)
}

// Table is a handle on one table (collection) of a database.
type Table interface {
	Name() string
	PrimaryKey() string

	// All selects every record of the table.
	All() Query
	// Get selects the record with the given primary key.
	Get(id interface{}) Query
	// GetAll selects every record whose primary key is in ids.
	GetAll(ids ...interface{}) Query

	Insert(ctx context.Context, docs []Record, opts WriteOptions) (*WriteResult, error)
	// Changes opens a change feed over the table.
	Changes(ctx context.Context) (Cursor, error)
}

// Options configures how a table is opened or created.
type Options struct {
	PrimaryKey string
	// PreImages asks the driver to capture the previous version of updated and
	// deleted records in the change feed where the backend supports it.
	PreImages bool
}

// Database is the connection-level side of a driver.
type Database interface {
	Name() string
	// EnsureDatabase creates the database if absent and reports whether it did.
	EnsureDatabase(ctx context.Context) (bool, error)
	// EnsureTable creates the table if absent and reports whether it did.
	EnsureTable(ctx context.Context, name string, opts Options) (bool, error)
	Table(name string, opts Options) Table
	// WaitForHealthy blocks until the connection answers or ctx is done.
	WaitForHealthy(ctx context.Context) error
}

// Conflict strategies understood by Insert.
const (
	ConflictError   = "error"
	ConflictReplace = "replace"
	ConflictUpdate  = "update"
)

// Durability levels.
const (
	DurabilityHard = "hard"
	DurabilitySoft = "soft"
)

// WriteOptions are the per-call knobs a mutation accepts.
type WriteOptions struct {
	ReturnChanges bool
	Durability    string
	Conflict      string
	NonAtomic     bool
}

// Change is a single delta of a mutation or of the change feed.
// OldVal is nil for inserts, NewVal is nil for deletes.
type Change struct {
	OldVal Record `json:"old_val"`
	NewVal Record `json:"new_val"`
}

// WriteResult is the outcome of a mutation.
type WriteResult struct {
	Inserted      int      `json:"inserted"`
	Replaced      int      `json:"replaced"`
	Unchanged     int      `json:"unchanged"`
	Skipped       int      `json:"skipped"`
	Deleted       int      `json:"deleted"`
	Errors        int      `json:"errors"`
	FirstError    string   `json:"first_error,omitempty"`
	GeneratedKeys []string `json:"generated_keys,omitempty"`
	Changes       []Change `json:"changes,omitempty"`
}

// AddError counts a per-document failure, keeping the first message.
func (w *WriteResult) AddError(msg string) {
	w.Errors++
	if w.FirstError == "" {
		w.FirstError = msg
	}
}

// Cursor is a live change-feed subscription.
type Cursor interface {
	// Next blocks until the next delta. A non-nil error other than
	// ErrCursorClosed concerns a single delta; the cursor stays usable.
	Next(ctx context.Context) (Change, error)
	Close() error
}

func cloneValue(v interface{}) interface{} {
	switch t := v.(type) {
	case map[string]interface{}:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case Record:
		out := make(map[string]interface{}, len(t))
		for k, val := range t {
			out[k] = cloneValue(val)
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(t))
		for i, val := range t {
			out[i] = cloneValue(val)
		}
		return out
	default:
		return v
	}
}
