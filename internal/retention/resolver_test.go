package retention

import (
	"testing"
	"time"
)

func activePolicy(id, name string) Policy {
	return Policy{
		ID:           id,
		Name:         name,
		DurationDays: 365,
		Action:       ActionDelete,
		Active:       true,
	}
}

func TestResolveInactiveNeverMatches(t *testing.T) {
	r := NewResolver()
	d := testDoc()

	p := activePolicy("p1", "financial-1y")
	p.Active = false

	if _, _, ok := r.Resolve(d, []Policy{p}); ok {
		t.Fatal("inactive policy must never resolve")
	}
}

func TestResolveScopeFilters(t *testing.T) {
	r := NewResolver()
	d := testDoc() // category FINANCIAL, type INVOICE

	wrongCat := activePolicy("p1", "hr-only")
	wrongCat.Category = "HR"
	wrongType := activePolicy("p2", "contracts-only")
	wrongType.DocumentType = "CONTRACT"
	match := activePolicy("p3", "financial")
	match.Category = "FINANCIAL"

	pol, deadline, ok := r.Resolve(d, []Policy{wrongCat, wrongType, match})
	if !ok || pol.ID != "p3" {
		t.Fatalf("expected p3 to resolve, got %v ok=%v", pol.ID, ok)
	}
	want := d.CreatedAt.AddDate(0, 0, 365)
	if !deadline.Equal(want) {
		t.Fatalf("deadline=%v, want %v", deadline, want)
	}
}

func TestResolveConditions(t *testing.T) {
	r := NewResolver()
	d := testDoc()

	p := activePolicy("p1", "invoices")
	p.Conditions = []Condition{{Field: "type", Op: OpEquals, Value: "CONTRACT"}}
	if _, _, ok := r.Resolve(d, []Policy{p}); ok {
		t.Fatal("failed condition must not resolve")
	}

	p.Conditions = []Condition{{Field: "type", Op: OpEquals, Value: "INVOICE"}}
	if _, _, ok := r.Resolve(d, []Policy{p}); !ok {
		t.Fatal("matching condition must resolve")
	}
}

// Overlapping policies resolve to the first match in the supplied order.
// That order is the documented tie-break; policies should be scoped
// disjointly in configuration.
func TestResolveFirstMatchWins(t *testing.T) {
	r := NewResolver()
	d := testDoc()
	d.Category = "HR"
	d.Type = "CONTRACT"

	withCond := activePolicy("p-contract", "hr-contracts")
	withCond.Category = "HR"
	withCond.Conditions = []Condition{{Field: "type", Op: OpEquals, Value: "CONTRACT"}}

	catchAll := activePolicy("p-any", "hr-any")
	catchAll.Category = "HR"

	pol, _, ok := r.Resolve(d, []Policy{withCond, catchAll})
	if !ok || pol.ID != "p-contract" {
		t.Fatalf("expected first policy in order, got %q", pol.ID)
	}

	// Reversed order flips the winner: the engine guarantees order, not
	// specificity.
	pol, _, ok = r.Resolve(d, []Policy{catchAll, withCond})
	if !ok || pol.ID != "p-any" {
		t.Fatalf("expected first policy in reversed order, got %q", pol.ID)
	}
}

// The assigned policy competes like any other: while it stays the first
// match it keeps winning, so re-resolving is stable. Displacement happens
// only when a different policy genuinely becomes the first match.
func TestResolveStableForCurrentAssignment(t *testing.T) {
	r := NewResolver()
	d := testDoc()
	d.AssignedPolicyID = "p1"

	assigned := activePolicy("p1", "already-assigned")
	later := activePolicy("p2", "later-overlap")

	pol, _, ok := r.Resolve(d, []Policy{assigned, later})
	if !ok || pol.ID != "p1" {
		t.Fatalf("expected assigned policy to keep winning, got %q ok=%v", pol.ID, ok)
	}

	// When the assigned policy stops matching, the next match displaces it.
	assigned.Conditions = []Condition{{Field: "type", Op: OpEquals, Value: "CONTRACT"}}
	pol, _, ok = r.Resolve(d, []Policy{assigned, later})
	if !ok || pol.ID != "p2" {
		t.Fatalf("expected p2 to displace, got %q ok=%v", pol.ID, ok)
	}
}

func TestResolveNoMatchReturnsFalse(t *testing.T) {
	r := NewResolver()
	d := testDoc()
	d.AssignedPolicyID = "p-old"

	p := activePolicy("p1", "misses")
	p.Category = "LEGAL"

	if _, _, ok := r.Resolve(d, []Policy{p}); ok {
		t.Fatal("no policy should resolve")
	}
	// The resolver never clears an existing assignment; it only reports
	// no-match. (Assignment handling belongs to the orchestrator.)
	if d.AssignedPolicyID != "p-old" {
		t.Fatal("resolver must not touch the document")
	}
}

// Scenario from the field: a 365-day delete policy over a document created
// 400 days ago resolves with a deadline 35 days in the past.
func TestResolveOverdueDeadline(t *testing.T) {
	r := NewResolver()
	d := testDoc()
	d.CreatedAt = time.Now().UTC().AddDate(0, 0, -400)

	p := activePolicy("p1", "financial-1y")
	p.Category = "FINANCIAL"

	_, deadline, ok := r.Resolve(d, []Policy{p})
	if !ok {
		t.Fatal("expected resolution")
	}
	if !deadline.Before(time.Now().UTC()) {
		t.Fatalf("deadline %v should be in the past", deadline)
	}
	overdue := time.Since(deadline)
	if overdue < 34*24*time.Hour || overdue > 36*24*time.Hour {
		t.Fatalf("expected ~35 days overdue, got %v", overdue)
	}
}
