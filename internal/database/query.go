package database

import (
	"fmt"
	"strings"

	"github.com/koustreak/bucketdesk/internal/errs"
)

// Dialect controls which placeholder and identifier quoting style the
// builders emit.
type Dialect int

const (
	// DialectPostgres uses $1, $2, … placeholders and "double-quoted" identifiers.
	DialectPostgres Dialect = iota

	// DialectMySQL uses ? placeholders and `backtick` identifiers.
	DialectMySQL
)

// Placeholder returns the parameter placeholder for the 1-based index idx.
func (d Dialect) Placeholder(idx int) string {
	if d == DialectMySQL {
		return "?"
	}
	return fmt.Sprintf("$%d", idx)
}

// Quote wraps an identifier so reserved words and mixed case survive.
func (d Dialect) Quote(name string) string {
	if d == DialectMySQL {
		return "`" + strings.ReplaceAll(name, "`", "``") + "`"
	}
	return `"` + strings.ReplaceAll(name, `"`, `""`) + `"`
}

// validOps is the allowlist of comparison operators for WHERE clauses.
// The operator position cannot be parameterized, so anything else is rejected.
var validOps = map[string]bool{
	"=":    true,
	"!=":   true,
	"<>":   true,
	"<":    true,
	">":    true,
	"<=":   true,
	">=":   true,
	"LIKE": true,
}

// SortDirection controls the ORDER BY direction.
type SortDirection bool

const (
	Asc  SortDirection = false
	Desc SortDirection = true
)

type whereClause struct {
	column string
	op     string
	value  any
}

type orderClause struct {
	column string
	dir    SortDirection
}

// SelectBuilder constructs a parameterized SELECT. Values are never
// interpolated into the SQL string.
//
//	sql, args, err := Select("activity", DialectPostgres).
//	    Columns("id", "op", "object_key").
//	    Where("bucket", "=", "uploads").
//	    OrderBy("at", Desc).
//	    Limit(50).
//	    Build()
type SelectBuilder struct {
	table   string
	dialect Dialect
	columns []string
	where   []whereClause
	orderBy []orderClause
	limit   *int
}

// Select starts a new SelectBuilder for the given table and dialect.
func Select(table string, d Dialect) *SelectBuilder {
	return &SelectBuilder{table: table, dialect: d}
}

// Columns restricts the SELECT to the specified columns.
// If not called, SELECT * is used.
func (b *SelectBuilder) Columns(cols ...string) *SelectBuilder {
	b.columns = cols
	return b
}

// Where adds a condition; multiple calls are combined with AND.
func (b *SelectBuilder) Where(column, op string, value any) *SelectBuilder {
	b.where = append(b.where, whereClause{column, op, value})
	return b
}

// OrderBy appends an ORDER BY clause.
func (b *SelectBuilder) OrderBy(column string, dir SortDirection) *SelectBuilder {
	b.orderBy = append(b.orderBy, orderClause{column, dir})
	return b
}

// Limit sets the maximum number of rows to return.
func (b *SelectBuilder) Limit(n int) *SelectBuilder {
	b.limit = &n
	return b
}

// Build produces the SQL string and argument slice.
func (b *SelectBuilder) Build() (string, []any, error) {
	cols := "*"
	if len(b.columns) > 0 {
		cols = b.quoteAll(b.columns)
	}

	var sb strings.Builder
	sb.WriteString("SELECT ")
	sb.WriteString(cols)
	sb.WriteString(" FROM ")
	sb.WriteString(b.dialect.Quote(b.table))

	var args []any
	argIdx := 1

	if len(b.where) > 0 {
		parts := make([]string, 0, len(b.where))
		for _, w := range b.where {
			op := strings.ToUpper(w.op)
			if !validOps[op] {
				return "", nil, errs.New(errs.ErrKindInvalidInput,
					fmt.Sprintf("unsupported WHERE operator: %q", w.op))
			}
			parts = append(parts, fmt.Sprintf("%s %s %s", b.dialect.Quote(w.column), op, b.dialect.Placeholder(argIdx)))
			args = append(args, w.value)
			argIdx++
		}
		sb.WriteString(" WHERE ")
		sb.WriteString(strings.Join(parts, " AND "))
	}

	if len(b.orderBy) > 0 {
		parts := make([]string, len(b.orderBy))
		for i, o := range b.orderBy {
			dir := "ASC"
			if o.dir == Desc {
				dir = "DESC"
			}
			parts[i] = b.dialect.Quote(o.column) + " " + dir
		}
		sb.WriteString(" ORDER BY ")
		sb.WriteString(strings.Join(parts, ", "))
	}

	if b.limit != nil {
		if *b.limit <= 0 {
			return "", nil, errs.New(errs.ErrKindInvalidInput, "limit must be positive")
		}
		sb.WriteString(" LIMIT ")
		sb.WriteString(b.dialect.Placeholder(argIdx))
		args = append(args, *b.limit)
	}

	return sb.String(), args, nil
}

func (b *SelectBuilder) quoteAll(cols []string) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = b.dialect.Quote(c)
	}
	return strings.Join(quoted, ", ")
}

// InsertBuilder constructs a single-row parameterized INSERT.
//
//	sql, args, err := Insert("activity", DialectMySQL).
//	    Set("id", id).
//	    Set("op", "upload").
//	    Build()
type InsertBuilder struct {
	table   string
	dialect Dialect
	columns []string
	values  []any
}

// Insert starts a new InsertBuilder for the given table and dialect.
func Insert(table string, d Dialect) *InsertBuilder {
	return &InsertBuilder{table: table, dialect: d}
}

// Set adds a column and its value.
func (b *InsertBuilder) Set(column string, value any) *InsertBuilder {
	b.columns = append(b.columns, column)
	b.values = append(b.values, value)
	return b
}

// Build produces the SQL string and argument slice.
func (b *InsertBuilder) Build() (string, []any, error) {
	if len(b.columns) == 0 {
		return "", nil, errs.New(errs.ErrKindInvalidInput, "insert needs at least one column")
	}

	cols := make([]string, len(b.columns))
	marks := make([]string, len(b.columns))
	for i, c := range b.columns {
		cols[i] = b.dialect.Quote(c)
		marks[i] = b.dialect.Placeholder(i + 1)
	}

	sql := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		b.dialect.Quote(b.table), strings.Join(cols, ", "), strings.Join(marks, ", "))
	return sql, append([]any(nil), b.values...), nil
}
