package retention

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
)

// LegalHoldGate is the only component allowed to mutate a document's legal
// hold fields. Every destructive path checks IsOnHold at the moment of
// execution, never a value cached from candidate selection.
type LegalHoldGate struct {
	docs   DocumentStore
	audit  AuditSink
	events EventPublisher
}

// NewLegalHoldGate returns a gate over the given document store. audit and
// events may be nil.
func NewLegalHoldGate(docs DocumentStore, audit AuditSink, events EventPublisher) *LegalHoldGate {
	return &LegalHoldGate{docs: docs, audit: audit, events: events}
}

// SetHold places a legal hold on the document. Holding an already-held
// document is rejected so hold metadata is never silently overwritten.
func (g *LegalHoldGate) SetHold(ctx context.Context, documentID, setBy, reason string) error {
	if strings.TrimSpace(reason) == "" {
		return errors.New("legal hold reason is required")
	}
	d, err := g.docs.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("legal hold: %w", err)
	}
	if d.LegalHold {
		return ErrAlreadyOnHold
	}

	hold := true
	now := time.Now().UTC()
	upd := DocumentUpdate{
		LegalHold:       &hold,
		LegalHoldReason: &reason,
		LegalHoldSetBy:  &setBy,
		LegalHoldSetAt:  &now,
	}
	if err := g.docs.UpdateDocument(ctx, documentID, upd); err != nil {
		return fmt.Errorf("legal hold: %w", err)
	}

	if g.audit != nil {
		g.audit.Record(ctx, "document", documentID, "legal_hold.set", setBy, map[string]any{"reason": reason})
	}
	if g.events != nil {
		g.events.Publish("legal_hold.set", map[string]any{"document_id": documentID, "set_by": setBy})
	}
	return nil
}

// ClearHold lifts the hold and clears its metadata.
func (g *LegalHoldGate) ClearHold(ctx context.Context, documentID, clearedBy string) error {
	d, err := g.docs.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("legal hold: %w", err)
	}
	if !d.LegalHold {
		return ErrNotOnHold
	}

	hold := false
	empty := ""
	var zero time.Time
	upd := DocumentUpdate{
		LegalHold:       &hold,
		LegalHoldReason: &empty,
		LegalHoldSetBy:  &empty,
		LegalHoldSetAt:  &zero,
	}
	if err := g.docs.UpdateDocument(ctx, documentID, upd); err != nil {
		return fmt.Errorf("legal hold: %w", err)
	}

	if g.audit != nil {
		g.audit.Record(ctx, "document", documentID, "legal_hold.cleared", clearedBy, nil)
	}
	if g.events != nil {
		g.events.Publish("legal_hold.cleared", map[string]any{"document_id": documentID, "cleared_by": clearedBy})
	}
	return nil
}

// IsOnHold reads the current hold state from the store.
func (g *LegalHoldGate) IsOnHold(ctx context.Context, documentID string) (bool, error) {
	d, err := g.docs.GetDocument(ctx, documentID)
	if err != nil {
		return false, err
	}
	return d.LegalHold, nil
}
