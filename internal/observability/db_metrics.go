package observability

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// ObserveDB times one logical repository operation. A missing row is an
// expected outcome (unknown email, spent token) and is not counted as an error.
func (p *Prom) ObserveDB(op string, fn func() error) error {
	start := time.Now()
	err := fn()

	status := "ok"
	switch {
	case err == nil:
	case errors.Is(err, pgx.ErrNoRows):
		status = "no_rows"
	default:
		status = "error"
		p.DbErrorsTotal.WithLabelValues(op, classifyDBErr(err)).Inc()
	}

	p.DbQueryDuration.WithLabelValues(op, status).Observe(time.Since(start).Seconds())
	return err
}

func classifyDBErr(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgerrcode.UniqueViolation:
			return "unique_violation"
		case pgerrcode.CheckViolation, pgerrcode.NotNullViolation:
			return "constraint"
		case pgerrcode.QueryCanceled:
			return "query_canceled"
		case pgerrcode.UndefinedTable, pgerrcode.UndefinedColumn:
			// schema not migrated
			return "schema"
		default:
			return "pg_" + pgErr.Code
		}
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err):
		return "timeout"
	case errors.Is(err, context.Canceled):
		return "canceled"
	}

	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) || strings.Contains(strings.ToLower(err.Error()), "connection") {
		return "connection"
	}
	return "unknown"
}
