package sqlstore

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/wadjakorntonsri/fusly/pkg/ports"
)

// mapErr turns unique violations into ports.ErrConflict.
func mapErr(err error) error {
	if err == nil {
		return nil
	}
	if isUniqueViolation(err) {
		return ports.ErrConflict
	}
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	var liteErr *sqlite.Error
	if errors.As(err, &liteErr) && liteErr.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE {
		return true
	}
	// libSQL only reports the message.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
