package dialect

import "strings"

// Dialect names.
const (
	MySQL    = "mysql"
	SQLite   = "sqlite"
	Postgres = "postgres"
)

// Name returns the dialect of a database/sql driver name. Unknown names
// are returned unchanged.
func Name(driverName string) string {
	switch {
	case strings.HasPrefix(driverName, "pgx"), strings.HasPrefix(driverName, Postgres):
		return Postgres
	case strings.HasPrefix(driverName, SQLite):
		return SQLite
	case strings.HasPrefix(driverName, MySQL):
		return MySQL
	}
	return driverName
}

// SupportsReturning reports whether INSERT and UPDATE statements can
// return columns with a RETURNING clause.
func SupportsReturning(name string) bool {
	switch Name(name) {
	case Postgres, SQLite:
		return true
	}
	return false
}
