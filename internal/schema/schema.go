// Package schema reads table definitions back from information_schema so
// callers can check that a table they did not create has the shape they
// expect.
package schema

import (
	"context"
	"fmt"

	"github.com/koustreak/bucketdesk/internal/database"
)

// Column describes a single column in a table.
type Column struct {
	Name     string
	DataType string // as reported by the server: text, varchar, timestamp with time zone, ...
	Nullable bool
}

// TableExists reports whether table is in the connection's current schema
// (Postgres) or database (MySQL).
func TableExists(ctx context.Context, db database.DB, table string) (bool, error) {
	d := db.Dialect()
	q := fmt.Sprintf(`
		SELECT COUNT(*)
		FROM information_schema.tables
		WHERE table_schema = %s
		  AND table_name   = %s`, scopeOf(d), d.Placeholder(1))

	var n int64
	if err := db.QueryRow(ctx, q, table).Scan(&n); err != nil {
		return false, fmt.Errorf("look up table %s: %w", table, err)
	}
	return n > 0, nil
}

func scopeOf(d database.Dialect) string {
	if d == database.DialectMySQL {
		return "DATABASE()"
	}
	return "current_schema()"
}

// Columns returns the columns of table in the connection's current schema
// (Postgres) or database (MySQL), in ordinal order. A table that does not
// exist has no columns.
func Columns(ctx context.Context, db database.DB, table string) ([]Column, error) {
	d := db.Dialect()
	q := fmt.Sprintf(`
		SELECT column_name, data_type, is_nullable = 'YES'
		FROM information_schema.columns
		WHERE table_schema = %s
		  AND table_name   = %s
		ORDER BY ordinal_position`, scopeOf(d), d.Placeholder(1))

	rows, err := db.Query(ctx, q, table)
	if err != nil {
		return nil, fmt.Errorf("inspect table %s: %w", table, err)
	}
	defer rows.Close()

	var cols []Column
	for rows.Next() {
		var c Column
		if err := rows.Scan(&c.Name, &c.DataType, &c.Nullable); err != nil {
			return nil, fmt.Errorf("scan column: %w", err)
		}
		cols = append(cols, c)
	}
	return cols, rows.Err()
}

// Missing returns the names in want that cols does not contain, in the
// order of want.
func Missing(cols []Column, want ...string) []string {
	have := make(map[string]bool, len(cols))
	for _, c := range cols {
		have[c.Name] = true
	}
	var missing []string
	for _, w := range want {
		if !have[w] {
			missing = append(missing, w)
		}
	}
	return missing
}
