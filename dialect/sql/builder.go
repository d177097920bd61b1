package sql

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/dialect"
	"github.com/syssam/tracker/update"
)

// Statement is a rendered SQL statement and its arguments.
type Statement struct {
	Query string
	Args  []any
	// Returning lists the columns the query returns, in order.
	Returning []string
}

// Builder renders update commands into statements of one dialect.
type Builder struct {
	dialect string
}

// NewBuilder returns a builder for the given dialect.
func NewBuilder(name string) *Builder {
	return &Builder{dialect: dialect.Name(name)}
}

// Build renders the statement of a bound command. Columns read back after
// the command are added as a RETURNING clause when the dialect supports it.
func (b *Builder) Build(c *update.Command) (*Statement, error) {
	w := b.writer()
	switch c.Operation {
	case update.Insert:
		b.insert(w, c)
	case update.Update:
		writes := c.Writes()
		if len(writes) == 0 {
			return nil, fmt.Errorf("dialect/sql: update of %s sets no columns", tracker.FormatEntry(c.Entry))
		}
		w.WriteString("UPDATE ")
		w.Ident(c.Table)
		w.WriteString(" SET ")
		for i, cm := range writes {
			if i > 0 {
				w.WriteString(", ")
			}
			w.Ident(cm.Column)
			w.WriteString(" = ")
			w.Arg(cm.Value)
		}
		w.where(c.Conditions())
	case update.Delete:
		w.WriteString("DELETE FROM ")
		w.Ident(c.Table)
		w.where(c.Conditions())
	default:
		return nil, fmt.Errorf("dialect/sql: unsupported operation %s", c.Operation)
	}
	if reads := c.Reads(); len(reads) > 0 && dialect.SupportsReturning(b.dialect) {
		w.WriteString(" RETURNING ")
		for i, cm := range reads {
			if i > 0 {
				w.WriteString(", ")
			}
			w.Ident(cm.Column)
			w.returning = append(w.returning, cm.Column)
		}
	}
	return w.statement(), nil
}

func (b *Builder) insert(w *writer, c *update.Command) {
	w.WriteString("INSERT INTO ")
	w.Ident(c.Table)
	writes := c.Writes()
	if len(writes) == 0 {
		if b.dialect == dialect.MySQL {
			w.WriteString(" () VALUES ()")
		} else {
			w.WriteString(" DEFAULT VALUES")
		}
		return
	}
	w.WriteString(" (")
	for i, cm := range writes {
		if i > 0 {
			w.WriteString(", ")
		}
		w.Ident(cm.Column)
	}
	w.WriteString(") VALUES (")
	for i, cm := range writes {
		if i > 0 {
			w.WriteString(", ")
		}
		w.Arg(cm.Value)
	}
	w.WriteByte(')')
}

// Select renders a query reading columns of the row identified by the
// key columns and values.
func (b *Builder) Select(table string, keys []string, values []any, columns []string) *Statement {
	w := b.writer()
	w.WriteString("SELECT ")
	for i, col := range columns {
		if i > 0 {
			w.WriteString(", ")
		}
		w.Ident(col)
	}
	w.WriteString(" FROM ")
	w.Ident(table)
	conds := make([]update.ColumnModification, len(keys))
	for i, k := range keys {
		conds[i] = update.ColumnModification{Column: k, Original: values[i], IsCondition: true}
	}
	w.where(conds)
	w.returning = columns
	return w.statement()
}

func (b *Builder) writer() *writer {
	return &writer{dialect: b.dialect}
}

// writer accumulates one statement.
type writer struct {
	strings.Builder
	dialect   string
	args      []any
	returning []string
}

// Ident writes a quoted identifier. Dotted names are quoted per part.
func (w *writer) Ident(name string) {
	q := byte('"')
	if w.dialect == dialect.MySQL {
		q = '`'
	}
	for i, part := range strings.Split(name, ".") {
		if i > 0 {
			w.WriteByte('.')
		}
		w.WriteByte(q)
		w.WriteString(strings.ReplaceAll(part, string(q), string([]byte{q, q})))
		w.WriteByte(q)
	}
}

// Arg writes a placeholder for v.
func (w *writer) Arg(v any) {
	w.args = append(w.args, v)
	if w.dialect == dialect.Postgres {
		w.WriteByte('$')
		w.WriteString(strconv.Itoa(len(w.args)))
		return
	}
	w.WriteByte('?')
}

func (w *writer) where(conds []update.ColumnModification) {
	for i, cm := range conds {
		if i == 0 {
			w.WriteString(" WHERE ")
		} else {
			w.WriteString(" AND ")
		}
		w.Ident(cm.Column)
		if cm.Original == nil {
			w.WriteString(" IS NULL")
			continue
		}
		w.WriteString(" = ")
		w.Arg(cm.Original)
	}
}

func (w *writer) statement() *Statement {
	return &Statement{Query: w.String(), Args: w.args, Returning: w.returning}
}
