package update

import (
	"fmt"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/tracking"
)

// Propagator writes store outputs back into entries and accepts them.
type Propagator struct {
	scope *tracking.SaveScope
}

// NewPropagator returns a propagator bound to a save scope.
func NewPropagator(scope *tracking.SaveScope) *Propagator {
	return &Propagator{scope: scope}
}

// Propagate records the values the store returned for c. A temporary
// value without a returned replacement fails the save. Resolved keys reach
// every dependent that copied the temporary value, then the entry is
// accepted.
func (p *Propagator) Propagate(c *Command, r Result) error {
	e := c.Entry
	for _, cm := range c.Reads() {
		v, ok := r.Values[cm.Column]
		if !ok {
			if e.Temporary(cm.Property) {
				return tracker.NewUpdateError(fmt.Errorf("store returned no value for generated column %s", cm.Column), e)
			}
			continue
		}
		if err := p.scope.SetStoreValue(e, cm.Property, v); err != nil {
			return tracker.NewUpdateError(err, e)
		}
	}
	p.scope.Accept(e)
	return nil
}
