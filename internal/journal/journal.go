// Package journal keeps an optional record of upload and delete outcomes.
// It is observational only: a journal failure never changes the result of
// the operation being recorded.
package journal

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/koustreak/bucketdesk/internal/database"
	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/logger"
)

// Op is the recorded operation.
type Op string

const (
	OpUpload Op = "upload"
	OpDelete Op = "delete"
)

// Entry is one recorded outcome.
type Entry struct {
	ID        uuid.UUID `json:"id"`
	Op        Op        `json:"op"`
	Bucket    string    `json:"bucket"`
	Key       string    `json:"key"`
	Succeeded bool      `json:"succeeded"`
	Error     string    `json:"error,omitempty"`
	At        time.Time `json:"at"`
}

// Outcome builds an entry for op on key, filling Error from err.
func Outcome(op Op, bucket, key string, err error) Entry {
	e := Entry{Op: op, Bucket: bucket, Key: key, Succeeded: err == nil}
	if err != nil {
		e.Error = err.Error()
	}
	return e
}

// Filter narrows Find. Zero fields match everything.
type Filter struct {
	Op  Op
	Key string
}

func (f Filter) match(e Entry) bool {
	return (f.Op == "" || e.Op == f.Op) && (f.Key == "" || e.Key == f.Key)
}

// ParseOp accepts "", "upload" and "delete".
func ParseOp(s string) (Op, error) {
	switch op := Op(s); op {
	case "", OpUpload, OpDelete:
		return op, nil
	default:
		return "", errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown operation %q", s))
	}
}

// Journal stores entries. Implementations assign ID and At when unset.
type Journal interface {
	Record(ctx context.Context, e Entry) error
	// Recent returns at most limit entries, newest first.
	Recent(ctx context.Context, limit int) ([]Entry, error)
	// Find is Recent restricted to entries matching f.
	Find(ctx context.Context, f Filter, limit int) ([]Entry, error)
	Close() error
}

// Backend selects the journal implementation.
type Backend string

const (
	BackendNone     Backend = "none"
	BackendMemory   Backend = "memory"
	BackendPostgres Backend = "postgres"
	BackendMySQL    Backend = "mysql"
)

// Config selects and tunes the journal.
type Config struct {
	Backend  Backend         `yaml:"backend"`
	Capacity int             `yaml:"capacity"` // memory backend only
	Table    string          `yaml:"table"`    // SQL backends only
	Database database.Config `yaml:"database"`
}

// DefaultConfig keeps the last 500 entries in memory.
func DefaultConfig() Config {
	return Config{
		Backend:  BackendMemory,
		Capacity: 500,
		Table:    "bucketdesk_activity",
	}
}

// Validate checks the backend and, for SQL backends, the database settings.
func (c Config) Validate() error {
	switch c.Backend {
	case "", BackendNone, BackendMemory:
		return nil
	case BackendPostgres, BackendMySQL:
		if c.Table == "" {
			return errs.New(errs.ErrKindInvalidInput, "journal table is required")
		}
		db := c.Database
		db.Driver = database.Driver(c.Backend)
		return db.Validate()
	default:
		return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf("unknown journal backend %q", c.Backend))
	}
}

// Write records e and logs, rather than returns, any failure.
func Write(ctx context.Context, j Journal, log *logger.Logger, e Entry) {
	if j == nil {
		return
	}
	if err := j.Record(ctx, e); err != nil {
		log.With().Str("op", string(e.Op)).Str("key", e.Key).Err(err).Logger().
			Warn("failed to record activity")
	}
}

func stamp(e Entry, now time.Time) Entry {
	if e.ID == uuid.Nil {
		e.ID = uuid.New()
	}
	if e.At.IsZero() {
		e.At = now
	}
	e.At = e.At.UTC()
	return e
}

// Discard is a journal that keeps nothing.
var Discard Journal = discard{}

type discard struct{}

func (discard) Record(context.Context, Entry) error                { return nil }
func (discard) Recent(context.Context, int) ([]Entry, error)       { return nil, nil }
func (discard) Find(context.Context, Filter, int) ([]Entry, error) { return nil, nil }
func (discard) Close() error                                       { return nil }
