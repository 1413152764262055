package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/koustreak/bucketdesk/internal/errs"
)

// SQLSTATE classes and codes the journal cares about.
// Full list: https://www.postgresql.org/docs/current/errcodes-appendix.html
const (
	pgClassConnection     = "08"
	pgClassAuth           = "28"
	pgErrInsufficientPriv = "42501"
	pgErrUniqueViolation  = "23505"
	pgErrUndefinedTable   = "42P01"
	pgErrQueryCanceled    = "57014"
	pgErrAdminShutdown    = "57P01"
	pgErrCannotConnectNow = "57P03"
)

// mapError translates pgx / pgconn native errors into *errs.Error.
func mapError(err error, msg string) error {
	if err == nil {
		return nil
	}

	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return errs.Wrap(errs.ErrKindTimeout, msg, err)
	}

	if errors.Is(err, pgx.ErrNoRows) {
		return errs.Wrap(errs.ErrKindNotFound, msg, err)
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return errs.Wrap(classifyCode(pgErr.Code), fmt.Sprintf("%s: %s", msg, pgErr.Message), err)
	}

	// Fallthrough: connection-level errors (TLS, network, DNS)
	return errs.Wrap(errs.ErrKindConnectionFailed, msg, err)
}

func classifyCode(code string) errs.ErrKind {
	switch {
	case len(code) >= 2 && code[:2] == pgClassConnection:
		return errs.ErrKindConnectionFailed
	case len(code) >= 2 && code[:2] == pgClassAuth, code == pgErrInsufficientPriv:
		return errs.ErrKindPermissionDenied
	case code == pgErrUniqueViolation:
		return errs.ErrKindConflict
	case code == pgErrUndefinedTable:
		return errs.ErrKindNotFound
	case code == pgErrQueryCanceled:
		return errs.ErrKindTimeout
	case code == pgErrAdminShutdown, code == pgErrCannotConnectNow:
		return errs.ErrKindConnectionFailed
	default:
		return errs.ErrKindQueryFailed
	}
}
