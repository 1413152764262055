package journal

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/koustreak/bucketdesk/internal/database"
	"github.com/koustreak/bucketdesk/internal/errs"
	"github.com/koustreak/bucketdesk/internal/schema"
)

var columns = []string{"id", "op", "bucket", "object_key", "succeeded", "error_message", "at"}

// SQL persists entries in a table of a Postgres or MySQL database.
type SQL struct {
	db    database.DB
	table string
	now   func() time.Time
}

// NewSQL creates the table if needed and returns a journal writing to it.
// The journal takes ownership of db.
func NewSQL(ctx context.Context, db database.DB, table string) (*SQL, error) {
	j := &SQL{db: db, table: table, now: time.Now}
	if err := j.migrate(ctx); err != nil {
		return nil, err
	}
	return j, nil
}

func (j *SQL) migrate(ctx context.Context) error {
	d := j.db.Dialect()
	var ddl string
	switch d {
	case database.DialectMySQL:
		ddl = `CREATE TABLE IF NOT EXISTS %s (
			id            VARCHAR(36)  NOT NULL PRIMARY KEY,
			op            VARCHAR(16)  NOT NULL,
			bucket        VARCHAR(255) NOT NULL,
			object_key    VARCHAR(1024) NOT NULL,
			succeeded     BOOLEAN      NOT NULL,
			error_message TEXT         NOT NULL,
			at            DATETIME(6)  NOT NULL,
			INDEX idx_at (at)
		)`
	default:
		ddl = `CREATE TABLE IF NOT EXISTS %s (
			id            VARCHAR(36) PRIMARY KEY,
			op            TEXT        NOT NULL,
			bucket        TEXT        NOT NULL,
			object_key    TEXT        NOT NULL,
			succeeded     BOOLEAN     NOT NULL,
			error_message TEXT        NOT NULL,
			at            TIMESTAMPTZ NOT NULL
		)`
	}

	exists, err := schema.TableExists(ctx, j.db, j.table)
	if err != nil {
		return err
	}
	if !exists {
		if _, err := j.db.Exec(ctx, fmt.Sprintf(ddl, d.Quote(j.table))); err != nil {
			return fmt.Errorf("create journal table %q: %w", j.table, err)
		}
		return nil
	}

	// A same-named table may have another shape.
	cols, err := schema.Columns(ctx, j.db, j.table)
	if err != nil {
		return err
	}
	if missing := schema.Missing(cols, columns...); len(missing) > 0 {
		return errs.New(errs.ErrKindInvalidInput, fmt.Sprintf(
			"table %q exists but lacks journal columns: %s", j.table, strings.Join(missing, ", ")))
	}
	return nil
}

func (j *SQL) Record(ctx context.Context, e Entry) error {
	e = stamp(e, j.now())

	sql, args, err := database.Insert(j.table, j.db.Dialect()).
		Set("id", e.ID.String()).
		Set("op", string(e.Op)).
		Set("bucket", e.Bucket).
		Set("object_key", e.Key).
		Set("succeeded", e.Succeeded).
		Set("error_message", e.Error).
		Set("at", e.At).
		Build()
	if err != nil {
		return err
	}

	_, err = j.db.Exec(ctx, sql, args...)
	return err
}

func (j *SQL) Recent(ctx context.Context, limit int) ([]Entry, error) {
	return j.Find(ctx, Filter{}, limit)
}

func (j *SQL) Find(ctx context.Context, f Filter, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 50
	}

	q := database.Select(j.table, j.db.Dialect()).Columns(columns...)
	if f.Op != "" {
		q = q.Where("op", "=", string(f.Op))
	}
	if f.Key != "" {
		q = q.Where("object_key", "=", f.Key)
	}
	sql, args, err := q.OrderBy("at", database.Desc).Limit(limit).Build()
	if err != nil {
		return nil, err
	}

	rows, err := j.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e  Entry
			id string
			op string
		)
		if err := rows.Scan(&id, &op, &e.Bucket, &e.Key, &e.Succeeded, &e.Error, &e.At); err != nil {
			return nil, err
		}
		parsed, err := uuid.Parse(id)
		if err != nil {
			return nil, errs.Wrap(errs.ErrKindQueryFailed, "malformed activity id", err)
		}
		e.ID = parsed
		e.Op = Op(op)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return out, nil
}

func (j *SQL) Close() error {
	j.db.Close()
	return nil
}
