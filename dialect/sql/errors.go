package sql

import (
	"errors"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/syssam/tracker"
)

// errorCoder is implemented by drivers exposing string error codes.
type errorCoder interface {
	Code() string
}

// sqlStateError is implemented by lib/pq and pgx errors.
type sqlStateError interface {
	SQLState() string
}

// PostgreSQL SQLSTATE codes for constraint violations (Class 23).
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgCheckViolation      = "23514"
)

// MySQL error numbers for constraint violations.
const (
	mysqlDuplicateEntry         = 1062
	mysqlForeignKeyParent       = 1451 // Cannot delete or update a parent row
	mysqlForeignKeyChild        = 1452 // Cannot add or update a child row
	mysqlCheckConstraintViolate = 3819
)

// constraint kinds reported by classify.
const (
	uniqueConstraint     = "unique constraint"
	foreignKeyConstraint = "foreign key constraint"
	checkConstraint      = "check constraint"
)

// classify turns store constraint violations into tracker constraint
// errors. Other errors are returned unchanged.
func classify(err error) error {
	if kind := constraintKind(err); kind != "" {
		return tracker.NewConstraintError(kind+" violated", err)
	}
	return err
}

func constraintKind(err error) string {
	if err == nil {
		return ""
	}
	code := ""
	if e, ok := asError[sqlStateError](err); ok {
		code = e.SQLState()
	} else if e, ok := asError[errorCoder](err); ok {
		code = e.Code()
	}
	switch code {
	case pgUniqueViolation:
		return uniqueConstraint
	case pgForeignKeyViolation:
		return foreignKeyConstraint
	case pgCheckViolation:
		return checkConstraint
	}
	if num, ok := mysqlNumber(err); ok {
		switch num {
		case mysqlDuplicateEntry:
			return uniqueConstraint
		case mysqlForeignKeyParent, mysqlForeignKeyChild:
			return foreignKeyConstraint
		case mysqlCheckConstraintViolate:
			return checkConstraint
		}
	}
	// Drivers without typed errors, SQLite included.
	switch msg := err.Error(); {
	case containsAny(msg, "Error 1062", "violates unique constraint", "UNIQUE constraint failed"):
		return uniqueConstraint
	case containsAny(msg, "Error 1451", "Error 1452", "violates foreign key constraint", "FOREIGN KEY constraint failed"):
		return foreignKeyConstraint
	case containsAny(msg, "Error 3819", "violates check constraint", "CHECK constraint failed"):
		return checkConstraint
	}
	return ""
}

func mysqlNumber(err error) (uint16, bool) {
	var e *mysql.MySQLError
	if errors.As(err, &e) {
		return e.Number, true
	}
	return 0, false
}

// asError attempts to extract an error implementing interface T from the error chain.
func asError[T any](err error) (T, bool) {
	var target T
	for err != nil {
		if e, ok := err.(T); ok {
			return e, true
		}
		err = errors.Unwrap(err)
	}
	return target, false
}

// containsAny returns true if s contains any of the substrings.
func containsAny(s string, substrings ...string) bool {
	for _, sub := range substrings {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}
