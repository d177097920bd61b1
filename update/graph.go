package update

import (
	"slices"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/tracking"
)

// DependencyGraph holds the must-precede edges between the entries of one
// save, derived from their foreign keys:
//
//   - a dependent that is Added or Modified and currently references an
//     Added principal runs after the principal;
//   - a dependent that is Deleted or Modified and originally referenced a
//     Deleted principal runs before the principal.
type DependencyGraph struct {
	entries []*tracking.Entry
	index   map[*tracking.Entry]int
	preds   [][]int
	succs   [][]int
}

// NewDependencyGraph builds the graph over entries, which are expected in
// tracking order.
func NewDependencyGraph(entries []*tracking.Entry) *DependencyGraph {
	g := &DependencyGraph{
		entries: entries,
		index:   make(map[*tracking.Entry]int, len(entries)),
		preds:   make([][]int, len(entries)),
		succs:   make([][]int, len(entries)),
	}
	for i, e := range entries {
		g.index[e] = i
	}
	for _, d := range entries {
		for _, fk := range d.Type().ForeignKeys() {
			switch d.State() {
			case tracker.Added, tracker.Modified:
				if p := d.Principal(fk); p != nil && p.State() == tracker.Added {
					g.edge(p, d)
				}
			}
			switch d.State() {
			case tracker.Deleted, tracker.Modified:
				if p := d.OriginalPrincipal(fk); p != nil && p.State() == tracker.Deleted {
					g.edge(d, p)
				}
			}
		}
	}
	return g
}

func (g *DependencyGraph) edge(from, to *tracking.Entry) {
	i, ok := g.index[from]
	if !ok || from == to {
		return
	}
	j, ok := g.index[to]
	if !ok || slices.Contains(g.succs[i], j) {
		return
	}
	g.succs[i] = append(g.succs[i], j)
	g.preds[j] = append(g.preds[j], i)
}

// Predecessors returns the entries that must run before e.
func (g *DependencyGraph) Predecessors(e *tracking.Entry) []*tracking.Entry {
	i, ok := g.index[e]
	if !ok {
		return nil
	}
	out := make([]*tracking.Entry, len(g.preds[i]))
	for k, p := range g.preds[i] {
		out[k] = g.entries[p]
	}
	return out
}

// Sort returns the entries in an order that satisfies every edge. Among
// entries that are ready at the same time it prefers one with the same
// table and state as the entry emitted last, then tracking order, so
// homogeneous work ends up in the same batch. A cycle fails with a
// tracker.CycleError naming its entries.
func (g *DependencyGraph) Sort() ([]*tracking.Entry, error) {
	n := len(g.entries)
	indeg := make([]int, n)
	var ready []int
	for i := range n {
		indeg[i] = len(g.preds[i])
		if indeg[i] == 0 {
			ready = append(ready, i)
		}
	}
	out := make([]*tracking.Entry, 0, n)
	last := -1
	for len(ready) > 0 {
		pick := 0
		if last >= 0 {
			for k, i := range ready {
				if g.sameGroup(last, i) {
					pick = k
					break
				}
			}
		}
		i := ready[pick]
		ready = slices.Delete(ready, pick, pick+1)
		out = append(out, g.entries[i])
		last = i
		for _, j := range g.succs[i] {
			indeg[j]--
			if indeg[j] == 0 {
				k, _ := slices.BinarySearch(ready, j)
				ready = slices.Insert(ready, k, j)
			}
		}
	}
	if len(out) < n {
		return nil, tracker.NewCycleError(g.cycle(indeg)...)
	}
	return out, nil
}

func (g *DependencyGraph) sameGroup(a, b int) bool {
	ea, eb := g.entries[a], g.entries[b]
	return ea.Type().Table == eb.Type().Table && ea.State() == eb.State()
}

// cycle walks predecessors among the unsorted entries until a node
// repeats and returns the entries of that loop.
func (g *DependencyGraph) cycle(indeg []int) []tracker.Entry {
	start := -1
	for i, d := range indeg {
		if d > 0 {
			start = i
			break
		}
	}
	if start < 0 {
		return nil
	}
	seen := make(map[int]int)
	var path []int
	for i := start; ; {
		if at, ok := seen[i]; ok {
			path = path[at:]
			break
		}
		seen[i] = len(path)
		path = append(path, i)
		for _, p := range g.preds[i] {
			if indeg[p] > 0 {
				i = p
				break
			}
		}
	}
	slices.Reverse(path)
	out := make([]tracker.Entry, len(path))
	for k, i := range path {
		out[k] = g.entries[i]
	}
	return out
}
