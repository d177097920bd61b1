package privacy

import (
	"context"
	"errors"
	"fmt"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/tracking"
)

// Policy decision sentinel errors. Use errors.Is to check for them.
var (
	// Allow may be returned by rules to indicate that the policy
	// evaluation should terminate with an allow decision.
	Allow = errors.New("tracker/privacy: allow rule")

	// Deny may be returned by rules to indicate that the policy
	// evaluation should terminate with a deny decision.
	Deny = errors.New("tracker/privacy: deny rule")

	// Skip may be returned by rules to indicate that the policy
	// evaluation should continue to the next rule in the chain.
	Skip = errors.New("tracker/privacy: skip rule")
)

// Allowf returns a formatted wrapped Allow decision.
func Allowf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Allow)...)
}

// Denyf returns a formatted wrapped Deny decision.
func Denyf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Deny)...)
}

// Skipf returns a formatted wrapped Skip decision.
func Skipf(format string, a ...any) error {
	return fmt.Errorf(format+": %w", append(a, Skip)...)
}

// Rule decides whether a pending entry may be saved.
type Rule interface {
	EvalSave(context.Context, *tracking.Entry) error
}

// RuleFunc type is an adapter which allows the use of ordinary functions
// as save rules.
type RuleFunc func(context.Context, *tracking.Entry) error

// EvalSave returns f(ctx, e).
func (f RuleFunc) EvalSave(ctx context.Context, e *tracking.Entry) error {
	return f(ctx, e)
}

// Policy combines rules evaluated in order.
type Policy []Rule

// EvalSave evaluates the policy for one entry. Allow and Skip yield nil;
// any other decision is returned.
func (p Policy) EvalSave(ctx context.Context, e *tracking.Entry) error {
	if decision, ok := DecisionFromContext(ctx); ok {
		return decision
	}
	for _, rule := range p {
		switch decision := rule.EvalSave(ctx, e); {
		case decision == nil || errors.Is(decision, Skip):
		case errors.Is(decision, Allow):
			return nil
		default:
			return decision
		}
	}
	return nil
}

// Evaluate runs the policy over every Added, Modified and Deleted entry
// and returns the first denial, wrapped in a DeniedError.
func (p Policy) Evaluate(ctx context.Context, entries []*tracking.Entry) error {
	if len(p) == 0 {
		return nil
	}
	for _, e := range entries {
		switch e.State() {
		case tracker.Added, tracker.Modified, tracker.Deleted:
		default:
			continue
		}
		if err := p.EvalSave(ctx, e); err != nil {
			return &DeniedError{Entry: e, Err: err}
		}
	}
	return nil
}

// DeniedError reports the entry a policy refused to save.
type DeniedError struct {
	Entry *tracking.Entry
	Err   error
}

// Error returns the error string.
func (e *DeniedError) Error() string {
	return fmt.Sprintf("tracker/privacy: save of %s denied: %v", tracker.FormatEntry(e.Entry), e.Err)
}

// Unwrap returns the decision.
func (e *DeniedError) Unwrap() error { return e.Err }

// IsDenied reports whether err is a policy denial.
func IsDenied(err error) bool {
	var e *DeniedError
	return errors.As(err, &e)
}

type decisionCtxKey struct{}

// DecisionContext creates a new context from the given parent context with
// a policy decision attach to it.
func DecisionContext(parent context.Context, decision error) context.Context {
	if decision == nil || errors.Is(decision, Skip) {
		return parent
	}
	return context.WithValue(parent, decisionCtxKey{}, decision)
}

// DecisionFromContext retrieves the policy decision from the context.
func DecisionFromContext(ctx context.Context) (error, bool) {
	decision, ok := ctx.Value(decisionCtxKey{}).(error)
	if ok && errors.Is(decision, Allow) {
		decision = nil
	}
	return decision, ok
}

// AlwaysAllowRule returns a rule that always returns an Allow decision.
func AlwaysAllowRule() Rule { return fixedDecision{Allow} }

// AlwaysDenyRule returns a rule that always returns a Deny decision.
func AlwaysDenyRule() Rule { return fixedDecision{Deny} }

// ContextRule creates a rule from a context evaluation function.
// Returning nil is equivalent to returning Skip.
func ContextRule(eval func(context.Context) error) Rule {
	return RuleFunc(func(ctx context.Context, _ *tracking.Entry) error {
		return eval(ctx)
	})
}

type fixedDecision struct {
	decision error
}

func (f fixedDecision) EvalSave(context.Context, *tracking.Entry) error {
	return f.decision
}
