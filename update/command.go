// Package update turns the pending changes of a state manager into ordered
// batches of store commands, executes them through a StoreExecutor and
// propagates store generated values back into the tracked entries.
package update

import (
	"fmt"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/model"
	"github.com/syssam/tracker/tracking"
)

// Operation is the kind of a store command.
type Operation uint8

// Command operations.
const (
	Insert Operation = iota + 1
	Update
	Delete
)

// String returns the operation name.
func (o Operation) String() string {
	switch o {
	case Insert:
		return "Insert"
	case Update:
		return "Update"
	case Delete:
		return "Delete"
	default:
		return fmt.Sprintf("Operation(%d)", o)
	}
}

// ColumnModification describes how one column takes part in a command.
type ColumnModification struct {
	Property *model.Property
	Column   string
	// Value is the value written when IsWrite is set.
	Value any
	// Original is the value matched when IsCondition is set.
	Original any
	// IsKey marks primary key columns.
	IsKey bool
	// IsCondition marks columns in the predicate of updates and deletes.
	IsCondition bool
	// IsWrite marks columns assigned by inserts and updates.
	IsWrite bool
	// IsRead marks columns the store returns after the command.
	IsRead bool
}

// Command is the store command of one entry.
type Command struct {
	Entry     *tracking.Entry
	Table     string
	Operation Operation
	Columns   []ColumnModification
}

// NewCommand returns the command for an entry, or nil when the entry needs
// none: Unchanged and Detached entries, and Modified entries without
// modified properties.
func NewCommand(e *tracking.Entry) *Command {
	var op Operation
	switch e.State() {
	case tracker.Added:
		op = Insert
	case tracker.Modified:
		if len(e.ModifiedProperties()) == 0 {
			return nil
		}
		op = Update
	case tracker.Deleted:
		op = Delete
	default:
		return nil
	}
	return &Command{Entry: e, Table: e.Type().Table, Operation: op}
}

// Bind computes the column modifications from the current entry values.
// Commands are bound right before execution so that foreign keys pick up
// keys generated by earlier batches.
func (c *Command) Bind() {
	e := c.Entry
	c.Columns = c.Columns[:0]
	for _, p := range e.Type().Properties() {
		cm := ColumnModification{Property: p, Column: p.Column, IsKey: p.IsKey()}
		v := e.Get(p)
		switch c.Operation {
		case Insert:
			switch {
			case p.IsComputed(), e.Temporary(p):
				cm.IsRead = true
			case p.IsStoreGenerated() && p.IsDefault(v):
				cm.IsRead = true
			default:
				// Explicit values for store generated columns are read
				// back, the store has the last word.
				cm.IsWrite, cm.Value = true, v
				cm.IsRead = p.IsStoreGenerated()
			}
		case Update:
			if p.IsKey() || p.ConcurrencyToken {
				cm.IsCondition, cm.Original = true, e.Original(p)
			}
			switch {
			case p.IsComputed():
				cm.IsRead = true
			case !p.IsKey() && e.Modified(p):
				cm.IsWrite, cm.Value = true, v
			}
		case Delete:
			if p.IsKey() || p.ConcurrencyToken {
				cm.IsCondition, cm.Original = true, e.Original(p)
			}
		}
		if cm.IsWrite || cm.IsRead || cm.IsCondition {
			c.Columns = append(c.Columns, cm)
		}
	}
}

// Writes returns the columns assigned by the command.
func (c *Command) Writes() []ColumnModification {
	return c.filter(func(cm ColumnModification) bool { return cm.IsWrite })
}

// Conditions returns the columns of the command predicate.
func (c *Command) Conditions() []ColumnModification {
	return c.filter(func(cm ColumnModification) bool { return cm.IsCondition })
}

// Reads returns the columns the store returns after the command.
func (c *Command) Reads() []ColumnModification {
	return c.filter(func(cm ColumnModification) bool { return cm.IsRead })
}

func (c *Command) filter(keep func(ColumnModification) bool) []ColumnModification {
	var out []ColumnModification
	for _, cm := range c.Columns {
		if keep(cm) {
			out = append(out, cm)
		}
	}
	return out
}

func (c *Command) String() string {
	return c.Operation.String() + " " + tracker.FormatEntry(c.Entry)
}
