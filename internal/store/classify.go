package store

import (
	"strings"

	"github.com/go-sql-driver/mysql"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/mattn/go-sqlite3"
	"github.com/pkg/errors"
	"gorm.io/gorm"

	"tablegate/internal/apperr"
)

// MySQL error numbers caused by the data sent rather than by the server.
var mysqlClientErrors = map[uint16]struct{}{
	1048: {}, // column cannot be null
	1062: {}, // duplicate entry
	1264: {}, // out of range
	1292: {}, // incorrect value
	1364: {}, // no default value
	1366: {}, // incorrect value for column
	1406: {}, // data too long
	1451: {}, // fk: row is referenced
	1452: {}, // fk: parent missing
}

// classify turns a driver error into a Database error. Integrity and data
// errors the client can fix are marked as constraint violations.
func classify(err error, op string) error {
	if err == nil {
		return nil
	}
	var ae *apperr.Error
	if errors.As(err, &ae) {
		return err
	}
	wrapped := errors.WithMessage(err, op)
	return apperr.Database(wrapped, isConstraint(err))
}

func isConstraint(err error) bool {
	if errors.Is(err, gorm.ErrDuplicatedKey) || errors.Is(err, gorm.ErrForeignKeyViolated) || errors.Is(err, gorm.ErrCheckConstraintViolated) {
		return true
	}

	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// class 22 data exception, class 23 integrity constraint violation
		return strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		return liteErr.Code == sqlite3.ErrConstraint || liteErr.Code == sqlite3.ErrMismatch
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		_, ok := mysqlClientErrors[myErr.Number]
		return ok
	}
	return false
}
