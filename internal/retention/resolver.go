package retention

import "time"

// Resolver determines the single applicable policy for a document and
// computes its retention deadline.
//
// When more than one active policy matches, the first match in the order the
// policies were supplied wins. The engine defines no other precedence:
// policies should be scoped disjointly, and PolicyStore.ListActive keeps the
// iteration order stable so the tie-break is deterministic and testable.
type Resolver struct {
	eval Evaluator
}

// NewResolver returns a Resolver.
func NewResolver() *Resolver { return &Resolver{} }

// Resolve returns the first active policy matching the document plus the
// computed deadline. The currently assigned policy competes like any other:
// while it is still the first match it keeps winning, so repeated runs are
// stable. ok=false means nothing matched; the caller must leave any existing
// assignment untouched in that case.
func (r *Resolver) Resolve(d Document, activePolicies []Policy) (Policy, time.Time, bool) {
	for _, p := range activePolicies {
		if !p.Active {
			continue
		}
		if p.Category != "" && p.Category != d.Category {
			continue
		}
		if p.DocumentType != "" && p.DocumentType != d.Type {
			continue
		}
		if !r.eval.MatchesAll(d, p.Conditions) {
			continue
		}
		return p, p.Deadline(d.CreatedAt), true
	}
	return Policy{}, time.Time{}, false
}
