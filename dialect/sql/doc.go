// Package sql executes update batches against database/sql stores.
//
// A Driver renders every command of a batch into one INSERT, UPDATE or
// DELETE statement and runs the batch in its own transaction:
//
//	drv, err := sql.Open("sqlite", "file:shop.db?_pragma=foreign_keys(1)")
//	if err != nil {
//		return err
//	}
//	s, err := session.New(m, drv)
//
// Columns generated by the store are read back with RETURNING on Postgres
// and SQLite. On MySQL the generated key comes from LastInsertId and any
// other computed column is selected after the write. Conflicts are
// detected from affected row counts, so MySQL must report matched rather
// than changed rows: Open sets clientFoundRows=true, connections passed to
// OpenDB need it in their DSN.
//
// # Transactions
//
// By default each batch commits on success and rolls back when a statement
// fails or an UPDATE or DELETE matches no row. WithTx binds the driver to a
// caller-owned transaction instead; the driver never commits or rolls it
// back.
//
// # Session Variables
//
// WithVar attaches variables that are set once at the start of each batch:
//
//	ctx = sql.WithVar(ctx, "app.tenant", "acme")
//
// Postgres scopes them to the batch transaction with SET LOCAL. MySQL
// variables are reset before the batch finishes.
//
// # Errors
//
// Unique, foreign key and check violations reported by lib/pq, pgx,
// go-sql-driver/mysql and SQLite are returned as tracker constraint errors.
package sql
