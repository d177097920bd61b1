// Package privacy evaluates save policies over the pending entries of a
// session before any command reaches the store.
//
// A policy is an ordered list of rules. Each rule returns one of three
// decisions for an entry:
//
//   - Allow: the entry may be saved; later rules are not consulted
//   - Deny: the save fails before the first batch
//   - Skip: the next rule decides
//
// An entry that no rule allows or denies is saved.
//
//	policy := privacy.Policy{
//	    privacy.DenyIfNoViewer(),
//	    privacy.HasRole("admin"),
//	    privacy.OnTypes(privacy.DenyStateRule(tracker.Deleted), "Customer"),
//	    privacy.TenantRule("TenantID"),
//	}
//	s, err := session.New(m, store, session.WithPolicy(policy))
//
// The viewer that rules inspect travels in the context:
//
//	ctx = privacy.WithViewer(ctx, &privacy.SimpleViewer{UserID: "7", Roles: []string{"admin"}})
//	n, err := s.SaveChanges(ctx)
//
// DecisionContext short-circuits evaluation, e.g. for system jobs:
//
//	ctx = privacy.DecisionContext(ctx, privacy.Allow)
package privacy
