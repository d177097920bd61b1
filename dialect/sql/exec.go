package sql

import (
	"context"
	"fmt"

	"github.com/syssam/tracker/update"
)

// execute runs the statement of one command and collects the values the
// store generated for it.
func (d *Driver) execute(ctx context.Context, ex ExecQuerier, b *Builder, c *update.Command) (update.Result, error) {
	stmt, err := b.Build(c)
	if err != nil {
		return update.Result{}, err
	}
	if len(stmt.Returning) > 0 {
		return query(ctx, ex, stmt)
	}
	res, err := ex.ExecContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return update.Result{}, fmt.Errorf("dialect/sql: exec: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return update.Result{}, fmt.Errorf("dialect/sql: rows affected: %w", err)
	}
	r := update.Result{RowsAffected: n}
	reads := c.Reads()
	if len(reads) == 0 || n == 0 {
		return r, nil
	}
	r.Values = make(map[string]any, len(reads))
	var (
		keys   []string
		values []any
	)
	for _, cm := range c.Columns {
		if !cm.IsKey {
			continue
		}
		switch {
		case cm.IsWrite:
			values = append(values, cm.Value)
		case cm.IsCondition:
			values = append(values, cm.Original)
		case cm.IsRead:
			id, err := res.LastInsertId()
			if err != nil {
				return r, fmt.Errorf("dialect/sql: last insert id: %w", err)
			}
			r.Values[cm.Column] = id
			values = append(values, id)
		}
		keys = append(keys, cm.Column)
	}
	var rest []string
	for _, cm := range reads {
		if _, ok := r.Values[cm.Column]; !ok {
			rest = append(rest, cm.Column)
		}
	}
	if len(rest) == 0 {
		return r, nil
	}
	sel, err := query(ctx, ex, b.Select(c.Table, keys, values, rest))
	if err != nil {
		return r, err
	}
	for k, v := range sel.Values {
		r.Values[k] = v
	}
	return r, nil
}

// query runs a statement returning columns. The number of returned rows is
// reported as rows affected and the values of the first row are kept.
func query(ctx context.Context, ex ExecQuerier, stmt *Statement) (update.Result, error) {
	rows, err := ex.QueryContext(ctx, stmt.Query, stmt.Args...)
	if err != nil {
		return update.Result{}, fmt.Errorf("dialect/sql: query: %w", err)
	}
	defer rows.Close()
	var r update.Result
	for rows.Next() {
		r.RowsAffected++
		if r.RowsAffected > 1 {
			continue
		}
		values := make([]any, len(stmt.Returning))
		dest := make([]any, len(values))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return update.Result{}, fmt.Errorf("dialect/sql: scan: %w", err)
		}
		r.Values = make(map[string]any, len(values))
		for i, col := range stmt.Returning {
			r.Values[col] = values[i]
		}
	}
	if err := rows.Err(); err != nil {
		return update.Result{}, fmt.Errorf("dialect/sql: query: %w", err)
	}
	return r, nil
}
