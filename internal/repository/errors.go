// Package repository is the MySQL implementation of the store contracts.
// Seat and parcel counters live on the trips row and change only through
// single conditional UPDATE statements, so the row lock MySQL takes for
// the statement is the per-trip serialization point.
package repository

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"

	"github.com/parkline/capacity-engine/internal/store"
)

// ER_DUP_ENTRY
const errDupEntry = 1062

// isDuplicate reports whether err is a MySQL duplicate key violation.
func isDuplicate(err error) bool {
	var me *mysql.MySQLError
	return errors.As(err, &me) && me.Number == errDupEntry
}

// notFound maps sql.ErrNoRows to store.ErrNotFound.
func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return store.ErrNotFound
	}
	return err
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
