package sql

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-sql-driver/mysql"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/dialect"
	"github.com/syssam/tracker/update"
)

// validIdentifierRe validates SQL identifiers (alphanumeric, underscores, dots for schema.name)
var validIdentifierRe = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_.]*$`)

// isValidIdentifier checks if the string is a valid SQL identifier.
func isValidIdentifier(s string) bool {
	return s != "" && len(s) <= 128 && validIdentifierRe.MatchString(s)
}

// escapeStringValue escapes a string value for use in a SET statement.
// Backslashes are doubled for MySQL, then single quotes.
func escapeStringValue(s string) string {
	if !strings.ContainsAny(s, `'\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, "'", "''")
	return s
}

// ExecQuerier wraps the standard Exec and Query methods.
type ExecQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

// Driver is an update.StoreExecutor for SQL databases.
type Driver struct {
	db      *sql.DB
	tx      *sql.Tx
	dialect string
}

// Open wraps database/sql.Open and returns a Driver for the dialect of
// driverName. MySQL sources get clientFoundRows=true so that an UPDATE
// writing unchanged values still counts the matched row.
func Open(driverName, source string) (*Driver, error) {
	if dialect.Name(driverName) == dialect.MySQL {
		var err error
		if source, err = mysqlSource(source); err != nil {
			return nil, err
		}
	}
	db, err := sql.Open(driverName, source)
	if err != nil {
		return nil, err
	}
	return OpenDB(driverName, db), nil
}

func mysqlSource(source string) (string, error) {
	cfg, err := mysql.ParseDSN(source)
	if err != nil {
		return "", fmt.Errorf("dialect/sql: parse mysql dsn: %w", err)
	}
	cfg.ClientFoundRows = true
	return cfg.FormatDSN(), nil
}

// OpenDB wraps the given database/sql.DB with a Driver. MySQL connections
// must be opened with clientFoundRows=true, otherwise an UPDATE that
// changes no value is reported as a concurrency conflict.
func OpenDB(name string, db *sql.DB) *Driver {
	return &Driver{db: db, dialect: name}
}

// WithTx returns a copy of the driver that runs every batch in tx. The
// caller commits or rolls back tx; after a failed batch the statements
// that already ran remain part of it.
func (d *Driver) WithTx(tx *sql.Tx) *Driver {
	return &Driver{db: d.db, tx: tx, dialect: d.dialect}
}

// DB returns the underlying *sql.DB instance.
func (d *Driver) DB() *sql.DB { return d.db }

// Dialect returns the dialect name of the driver.
func (d *Driver) Dialect() string { return dialect.Name(d.dialect) }

// Close closes the underlying connection.
func (d *Driver) Close() error { return d.db.Close() }

// ExecuteBatch implements update.StoreExecutor. Statements run in order
// and execution stops at the first failure or at the first UPDATE or
// DELETE that matches no row. In both cases the batch transaction is
// rolled back.
func (d *Driver) ExecuteBatch(ctx context.Context, b *update.Batch) (results []update.Result, rerr error) {
	ex, finish, err := d.begin(ctx)
	if err != nil {
		return nil, fmt.Errorf("dialect/sql: begin batch: %w", err)
	}
	conflict := false
	defer func() { rerr = finish(rerr, conflict) }()

	builder := NewBuilder(d.Dialect())
	for _, c := range b.Commands {
		r, err := d.execute(ctx, ex, builder, c)
		if err != nil {
			return results, classify(err)
		}
		results = append(results, r)
		if c.Operation != update.Insert && r.RowsAffected == 0 {
			conflict = true
			return results, nil
		}
	}
	return results, nil
}

// begin returns the ExecQuerier of one batch and the function that ends
// it. finish commits on success and rolls back on error or conflict.
func (d *Driver) begin(ctx context.Context) (ExecQuerier, func(error, bool) error, error) {
	if d.tx != nil {
		reset, err := d.setVars(ctx, d.tx)
		if err != nil {
			return nil, nil, err
		}
		return d.tx, func(err error, _ bool) error {
			return errors.Join(err, reset())
		}, nil
	}
	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, nil, err
	}
	reset, err := d.setVars(ctx, tx)
	if err != nil {
		return nil, nil, rollback(tx, err)
	}
	return tx, func(err error, conflict bool) error {
		err = errors.Join(err, reset())
		if err != nil || conflict {
			return rollback(tx, err)
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("dialect/sql: commit batch: %w", err)
		}
		return nil
	}, nil
}

// rollback rolls back tx and returns err. A failed rollback is wrapped
// in a RollbackError.
func rollback(tx *sql.Tx, err error) error {
	if rerr := tx.Rollback(); rerr != nil {
		return &tracker.RollbackError{Err: errors.Join(err, rerr)}
	}
	return err
}

// ctxVarsKey is the key used for attaching and reading the context variables.
type ctxVarsKey struct{}

// sessionVars holds the variables to set at the start of every batch.
type sessionVars struct {
	vars []struct{ k, v string }
}

// WithVar returns a new context that holds a session variable to be set
// before every batch.
func WithVar(ctx context.Context, name, value string) context.Context {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	sv.vars = append(sv.vars[:len(sv.vars):len(sv.vars)], struct {
		k, v string
	}{
		k: name,
		v: value,
	})
	return context.WithValue(ctx, ctxVarsKey{}, sv)
}

// VarFromContext returns the session variable value from the context.
func VarFromContext(ctx context.Context, name string) (string, bool) {
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	for i := len(sv.vars) - 1; i >= 0; i-- {
		if sv.vars[i].k == name {
			return sv.vars[i].v, true
		}
	}
	return "", false
}

// WithIntVar calls WithVar with the string representation of the value.
func WithIntVar(ctx context.Context, name string, value int) context.Context {
	return WithVar(ctx, name, strconv.Itoa(value))
}

// setVars sets the session variables of ctx on ex. The returned function
// resets the variables that outlive the transaction.
func (d *Driver) setVars(ctx context.Context, ex ExecQuerier) (func() error, error) {
	nop := func() error { return nil }
	sv, _ := ctx.Value(ctxVarsKey{}).(sessionVars)
	if len(sv.vars) == 0 {
		return nop, nil
	}
	var (
		set   = "SET %s = '%s'"
		reset []string
		seen  = make(map[string]struct{}, len(sv.vars))
	)
	switch d.Dialect() {
	case dialect.Postgres:
		set = "SET LOCAL %s = '%s'"
	case dialect.MySQL:
	default:
		return nil, fmt.Errorf("dialect/sql: session variables are not supported by %s", d.Dialect())
	}
	for _, s := range sv.vars {
		if !isValidIdentifier(s.k) {
			return nil, fmt.Errorf("dialect/sql: invalid session variable name: %q", s.k)
		}
		if _, ok := seen[s.k]; !ok && d.Dialect() == dialect.MySQL {
			reset = append(reset, fmt.Sprintf("SET %s = NULL", s.k))
		}
		seen[s.k] = struct{}{}
		if _, err := ex.ExecContext(ctx, fmt.Sprintf(set, s.k, escapeStringValue(s.v))); err != nil {
			return nil, fmt.Errorf("dialect/sql: set session vars: %w", err)
		}
	}
	if len(reset) == 0 {
		return nop, nil
	}
	return func() error {
		// The batch context may already be canceled.
		for _, q := range reset {
			if _, err := ex.ExecContext(context.WithoutCancel(ctx), q); err != nil {
				return fmt.Errorf("dialect/sql: reset session vars: %w", err)
			}
		}
		return nil
	}, nil
}

var _ update.StoreExecutor = (*Driver)(nil)
