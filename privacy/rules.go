package privacy

import (
	"context"
	"fmt"
	"slices"

	"github.com/syssam/tracker"
	"github.com/syssam/tracker/tracking"
)

// Viewer represents the authenticated user saving changes.
type Viewer interface {
	// GetID returns the viewer's unique identifier.
	GetID() string
	// GetRoles returns the viewer's roles.
	GetRoles() []string
	// GetTenantID returns the viewer's tenant, or "" when not applicable.
	GetTenantID() string
}

// viewerCtxKey is the context key for storing the viewer.
type viewerCtxKey struct{}

// WithViewer returns a new context with the viewer attached.
func WithViewer(ctx context.Context, viewer Viewer) context.Context {
	return context.WithValue(ctx, viewerCtxKey{}, viewer)
}

// ViewerFromContext retrieves the viewer from the context, or nil.
func ViewerFromContext(ctx context.Context) Viewer {
	v, _ := ctx.Value(viewerCtxKey{}).(Viewer)
	return v
}

// SimpleViewer is a basic implementation of the Viewer interface.
type SimpleViewer struct {
	UserID   string
	Roles    []string
	TenantID string
}

// GetID returns the user ID.
func (v *SimpleViewer) GetID() string { return v.UserID }

// GetRoles returns the user's roles.
func (v *SimpleViewer) GetRoles() []string { return v.Roles }

// GetTenantID returns the tenant ID.
func (v *SimpleViewer) GetTenantID() string { return v.TenantID }

// DenyIfNoViewer returns a rule that denies the save if no viewer is
// present in the context.
func DenyIfNoViewer() Rule {
	return ContextRule(func(ctx context.Context) error {
		if ViewerFromContext(ctx) == nil {
			return Denyf("privacy: viewer required")
		}
		return Skip
	})
}

// HasRole returns a rule that allows the save if the viewer has role.
func HasRole(role string) Rule {
	return HasAnyRole(role)
}

// HasAnyRole returns a rule that allows the save if the viewer has any of
// the roles.
func HasAnyRole(roles ...string) Rule {
	return ContextRule(func(ctx context.Context) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		for _, role := range roles {
			if slices.Contains(viewer.GetRoles(), role) {
				return Allow
			}
		}
		return Skip
	})
}

// IsOwner returns a rule that allows the save if the property of the
// entry holds the viewer's ID. Deleted entries are checked against the
// original value.
func IsOwner(property string) Rule {
	return RuleFunc(func(ctx context.Context, e *tracking.Entry) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil {
			return Skip
		}
		v, ok := value(e, property)
		if !ok {
			return Skip
		}
		if v == viewer.GetID() {
			return Allow
		}
		return Skip
	})
}

// TenantRule returns a rule that denies saving entries whose tenant
// property differs from the viewer's tenant.
func TenantRule(property string) Rule {
	return RuleFunc(func(ctx context.Context, e *tracking.Entry) error {
		viewer := ViewerFromContext(ctx)
		if viewer == nil || viewer.GetTenantID() == "" {
			return Skip
		}
		v, ok := value(e, property)
		if !ok {
			return Skip
		}
		if v == viewer.GetTenantID() {
			return Skip
		}
		return Denyf("privacy: tenant mismatch")
	})
}

// OnTypes evaluates rule only for entries of the named entity types.
func OnTypes(rule Rule, types ...string) Rule {
	return RuleFunc(func(ctx context.Context, e *tracking.Entry) error {
		if slices.Contains(types, e.TypeName()) {
			return rule.EvalSave(ctx, e)
		}
		return Skip
	})
}

// OnStates evaluates rule only for entries in one of the states.
func OnStates(rule Rule, states ...tracker.State) Rule {
	return RuleFunc(func(ctx context.Context, e *tracking.Entry) error {
		if slices.Contains(states, e.State()) {
			return rule.EvalSave(ctx, e)
		}
		return Skip
	})
}

// DenyStateRule returns a rule denying entries in the given state.
func DenyStateRule(state tracker.State) Rule {
	return OnStates(RuleFunc(func(_ context.Context, e *tracking.Entry) error {
		return Denyf("privacy: %s entries are not allowed", state)
	}), state)
}

// AllowStateRule returns a rule allowing entries in the given state.
func AllowStateRule(state tracker.State) Rule {
	return OnStates(fixedDecision{Allow}, state)
}

// value renders a property of e for comparison with viewer identifiers.
func value(e *tracking.Entry, property string) (string, bool) {
	get := e.Value
	if e.State() == tracker.Deleted {
		get = e.OriginalValue
	}
	v, err := get(property)
	if err != nil || v == nil {
		return "", false
	}
	switch v := v.(type) {
	case string:
		return v, true
	case fmt.Stringer:
		return v.String(), true
	default:
		return fmt.Sprint(v), true
	}
}
