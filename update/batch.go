package update

import (
	"github.com/syssam/tracker/tracking"
)

// DefaultMaxBatchSize is the default number of commands per batch.
const DefaultMaxBatchSize = 42

// Batch is a group of commands sent to the store in one round trip. All
// commands of a batch target the same table with the same operation.
type Batch struct {
	Table     string
	Operation Operation
	Commands  []*Command
}

// Entries returns the entries of the batch commands.
func (b *Batch) Entries() []*tracking.Entry {
	out := make([]*tracking.Entry, len(b.Commands))
	for i, c := range b.Commands {
		out[i] = c.Entry
	}
	return out
}

// BatchBuilder groups sorted commands into batches.
type BatchBuilder struct {
	// MaxBatchSize caps the commands per batch. Values below one mean
	// DefaultMaxBatchSize.
	MaxBatchSize int
}

// Build emits one command per sorted entry and groups consecutive
// compatible commands. A command starts a new batch when the table or
// operation changes, the batch is full, either side is mapped to stored
// procedures, or one of its predecessors in the current batch is an Added
// entry with a temporary key whose generated value it needs. Modified
// entries without modified properties produce no command and are returned
// separately.
func (bb BatchBuilder) Build(g *DependencyGraph, sorted []*tracking.Entry) (batches []*Batch, unchanged []*tracking.Entry) {
	size := bb.MaxBatchSize
	if size < 1 {
		size = DefaultMaxBatchSize
	}
	var (
		cur     *Batch
		members = make(map[*tracking.Entry]bool)
	)
	for _, e := range sorted {
		c := NewCommand(e)
		if c == nil {
			unchanged = append(unchanged, e)
			continue
		}
		if cur == nil || !bb.fits(cur, c, size, g, members) {
			cur = &Batch{Table: c.Table, Operation: c.Operation}
			batches = append(batches, cur)
			clear(members)
		}
		cur.Commands = append(cur.Commands, c)
		members[e] = true
	}
	return batches, unchanged
}

func (bb BatchBuilder) fits(b *Batch, c *Command, size int, g *DependencyGraph, members map[*tracking.Entry]bool) bool {
	if b.Table != c.Table || b.Operation != c.Operation || len(b.Commands) >= size {
		return false
	}
	if c.Entry.Type().NoBatching || b.Commands[0].Entry.Type().NoBatching {
		return false
	}
	for _, p := range g.Predecessors(c.Entry) {
		if members[p] && p.HasTemporaryKey() {
			return false
		}
	}
	return true
}
