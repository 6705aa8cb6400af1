package database

import (
	"database/sql"
	"errors"

	"github.com/go-sql-driver/mysql"
	"github.com/lib/pq"
	"github.com/uptrace/bun/driver/pgdriver"
)

// ErrorClass groups storage errors by how callers should react.
type ErrorClass int

const (
	ErrorClassPermanent ErrorClass = iota
	ErrorClassTransient
	ErrorClassDeadlock
	ErrorClassSerialization
	ErrorClassConflict
)

// ErrConflict marks application-level concurrency conflicts (stale version,
// duplicate generated key). Wrap it so retry loops treat the error as retryable.
var ErrConflict = errors.New("concurrent modification")

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
	pgLockNotAvailable     = "55P03"

	mysqlDuplicateEntry = 1062
	mysqlLockWait       = 1205
	mysqlDeadlock       = 1213
)

// ClassifyError maps driver errors from pgdriver, lib/pq and MySQL onto an ErrorClass.
func ClassifyError(err error) ErrorClass {
	if err == nil {
		return ErrorClassPermanent
	}
	if errors.Is(err, ErrConflict) {
		return ErrorClassConflict
	}
	if errors.Is(err, sql.ErrNoRows) {
		return ErrorClassPermanent
	}

	switch sqlState(err) {
	case pgSerializationFailure:
		return ErrorClassSerialization
	case pgDeadlockDetected:
		return ErrorClassDeadlock
	case pgLockNotAvailable:
		return ErrorClassTransient
	}

	var myErr *mysql.MySQLError
	if errors.As(err, &myErr) {
		switch myErr.Number {
		case mysqlDeadlock:
			return ErrorClassDeadlock
		case mysqlLockWait:
			return ErrorClassTransient
		}
	}

	return ErrorClassPermanent
}

// IsRetryable reports whether the operation that produced err may succeed on retry.
func IsRetryable(err error) bool {
	switch ClassifyError(err) {
	case ErrorClassTransient, ErrorClassDeadlock, ErrorClassSerialization, ErrorClassConflict:
		return true
	default:
		return false
	}
}

// IsUniqueViolation reports whether err is a duplicate-key error from any supported driver.
func IsUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	if sqlState(err) == pgUniqueViolation {
		return true
	}
	var myErr *mysql.MySQLError
	return errors.As(err, &myErr) && myErr.Number == mysqlDuplicateEntry
}

func sqlState(err error) string {
	var pgErr pgdriver.Error
	if errors.As(err, &pgErr) {
		return pgErr.Field('C')
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code)
	}
	return ""
}
