// Package dialect names the SQL dialects the store executor renders
// statements for.
//
// Each dialect is identified by a constant string:
//
//	dialect.Postgres = "postgres"
//	dialect.MySQL    = "mysql"
//	dialect.SQLite   = "sqlite"
//
// Driver names registered by database/sql drivers map onto these with
// Name, e.g. "pgx" is Postgres and "sqlite3" is SQLite.
package dialect
