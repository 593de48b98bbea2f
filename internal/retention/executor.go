package retention

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"kadro.org/internal/obs"
)

// ExecutorConfig tunes the terminal-action sweep.
type ExecutorConfig struct {
	// DeleteTimeout bounds each blob delete call; a timeout becomes a
	// counted per-document failure, never a stuck sweep. Values <= 0
	// default to 30s.
	DeleteTimeout time.Duration
	// DeletesPerSecond throttles destructive blob calls. 0 = unthrottled.
	DeletesPerSecond float64
	// BatchLimit caps the due documents fetched per sweep. 0 = all.
	BatchLimit int
}

// Outcome aggregates one executor sweep. HeldSkips counts documents whose
// legal hold surfaced at execution time; they are hard skips, not failures.
type Outcome struct {
	Deleted   int `json:"deleted"`
	Archived  int `json:"archived"`
	Reviewed  int `json:"reviewed"`
	Failed    int `json:"failed"`
	HeldSkips int `json:"held_skips"`
}

// Executor applies terminal actions to documents whose retention deadline
// has passed. The call is synchronous even though a sweep can be long;
// callers wanting asynchrony poll a retention job via the orchestrator
// instead.
type Executor struct {
	docs    DocumentStore
	pols    PolicyStore
	blobs   BlobStore
	gate    *LegalHoldGate
	audit   AuditSink
	events  EventPublisher
	limiter *rate.Limiter
	cfg     ExecutorConfig
}

// NewExecutor wires an executor. audit and events may be nil.
func NewExecutor(docs DocumentStore, pols PolicyStore, blobs BlobStore, gate *LegalHoldGate, audit AuditSink, events EventPublisher, cfg ExecutorConfig) *Executor {
	if cfg.DeleteTimeout <= 0 {
		cfg.DeleteTimeout = 30 * time.Second
	}
	var limiter *rate.Limiter
	if cfg.DeletesPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.DeletesPerSecond), 1)
	}
	return &Executor{
		docs:    docs,
		pols:    pols,
		blobs:   blobs,
		gate:    gate,
		audit:   audit,
		events:  events,
		limiter: limiter,
		cfg:     cfg,
	}
}

// ExecuteDue sweeps documents with retentionDeadline <= now that are neither
// deleted nor on hold. Each document's outcome is isolated: one failure
// increments the counter and the sweep continues.
func (e *Executor) ExecuteDue(ctx context.Context, opts RunOptions) (Outcome, error) {
	now := time.Now().UTC()
	due, err := e.docs.FindDocuments(ctx, DocumentFilter{
		DueBefore:      &now,
		ExcludeDeleted: true,
		ExcludeHeld:    true,
		Limit:          e.cfg.BatchLimit,
	})
	if err != nil {
		return Outcome{}, fmt.Errorf("find due documents: %w", err)
	}

	var out Outcome
	for _, d := range due {
		select {
		case <-ctx.Done():
			return out, ctx.Err()
		default:
		}
		e.executeOne(ctx, d, opts.DryRun, &out)
	}

	obs.LogRetention("executor", "sweep finished", map[string]any{
		"due":        len(due),
		"deleted":    out.Deleted,
		"archived":   out.Archived,
		"reviewed":   out.Reviewed,
		"failed":     out.Failed,
		"held_skips": out.HeldSkips,
		"dry_run":    opts.DryRun,
	})
	if e.events != nil {
		e.events.Publish("retention.sweep.finished", map[string]any{
			"deleted":  out.Deleted,
			"archived": out.Archived,
			"reviewed": out.Reviewed,
			"failed":   out.Failed,
			"dry_run":  opts.DryRun,
		})
	}
	return out, nil
}

func (e *Executor) executeOne(ctx context.Context, d Document, dryRun bool, out *Outcome) {
	defer func() {
		if r := recover(); r != nil {
			out.Failed++
			obs.LogRetention("executor", "action panicked", map[string]any{
				"document_id": d.ID, "panic": fmt.Sprint(r),
			})
		}
	}()

	pol, err := e.pols.GetPolicy(ctx, d.AssignedPolicyID)
	if err != nil {
		// Dangling policy reference: recoverable, never fatal.
		out.Failed++
		obs.LogRetention("executor", "assigned policy lookup failed", map[string]any{
			"document_id": d.ID, "policy_id": d.AssignedPolicyID, "error": err.Error(),
		})
		return
	}

	switch pol.Action {
	case ActionDelete:
		e.deleteDocument(ctx, d, dryRun, out)
	case ActionArchive:
		e.archiveDocument(ctx, d, dryRun, out)
	case ActionReview:
		e.markForReview(ctx, d, dryRun, out)
	default:
		out.Failed++
		obs.LogRetention("executor", "unknown policy action", map[string]any{
			"document_id": d.ID, "policy_id": pol.ID, "action": string(pol.Action),
		})
	}
}

// deleteDocument is the one destructive path. Candidate selection already
// filtered held documents, and the hold is re-checked here immediately
// before the irreversible blob call, because hold state can change while a
// sweep is in flight. A hold set after this check but before the blob
// delete completes is a known narrow race; serializing every hold mutation
// against in-flight deletes is deliberately not attempted.
func (e *Executor) deleteDocument(ctx context.Context, d Document, dryRun bool, out *Outcome) {
	held, err := e.gate.IsOnHold(ctx, d.ID)
	if err != nil {
		out.Failed++
		obs.LogRetention("executor", "hold recheck failed", map[string]any{
			"document_id": d.ID, "error": err.Error(),
		})
		return
	}
	if held {
		out.HeldSkips++
		obs.RetentionLegalHoldSkips.Inc()
		return
	}

	if dryRun {
		out.Deleted++
		return
	}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			out.Failed++
			return
		}
	}

	delCtx, cancel := context.WithTimeout(ctx, e.cfg.DeleteTimeout)
	err = e.blobs.Delete(delCtx, d.StorageKey)
	cancel()
	if err != nil {
		out.Failed++
		obs.LogRetention("executor", "blob delete failed", map[string]any{
			"document_id": d.ID, "storage_key": d.StorageKey, "error": err.Error(),
		})
		return
	}

	now := time.Now().UTC()
	deleted := true
	if err := e.docs.UpdateDocument(ctx, d.ID, DocumentUpdate{
		IsDeleted: &deleted,
		DeletedAt: &now,
	}); err != nil {
		out.Failed++
		obs.LogRetention("executor", "delete mark failed", map[string]any{
			"document_id": d.ID, "error": err.Error(),
		})
		return
	}

	out.Deleted++
	obs.RetentionActionsTotal.WithLabelValues(string(ActionDelete)).Inc()
	if e.audit != nil {
		e.audit.Record(ctx, "document", d.ID, "retention.deleted", "system", map[string]any{
			"policy_id": d.AssignedPolicyID, "storage_key": d.StorageKey,
		})
	}
}

func (e *Executor) archiveDocument(ctx context.Context, d Document, dryRun bool, out *Outcome) {
	if dryRun {
		out.Archived++
		return
	}
	now := time.Now().UTC()
	archived := true
	review := true
	// Archival still requires a human pass, so review is flagged as well.
	if err := e.docs.UpdateDocument(ctx, d.ID, DocumentUpdate{
		IsArchived:     &archived,
		ArchivedAt:     &now,
		ReviewRequired: &review,
		ReviewMarkedAt: &now,
	}); err != nil {
		out.Failed++
		obs.LogRetention("executor", "archive mark failed", map[string]any{
			"document_id": d.ID, "error": err.Error(),
		})
		return
	}
	out.Archived++
	obs.RetentionActionsTotal.WithLabelValues(string(ActionArchive)).Inc()
	if e.audit != nil {
		e.audit.Record(ctx, "document", d.ID, "retention.archived", "system", map[string]any{
			"policy_id": d.AssignedPolicyID,
		})
	}
}

func (e *Executor) markForReview(ctx context.Context, d Document, dryRun bool, out *Outcome) {
	if dryRun {
		out.Reviewed++
		return
	}
	now := time.Now().UTC()
	review := true
	if err := e.docs.UpdateDocument(ctx, d.ID, DocumentUpdate{
		ReviewRequired: &review,
		ReviewMarkedAt: &now,
	}); err != nil {
		out.Failed++
		obs.LogRetention("executor", "review mark failed", map[string]any{
			"document_id": d.ID, "error": err.Error(),
		})
		return
	}
	out.Reviewed++
	obs.RetentionActionsTotal.WithLabelValues(string(ActionReview)).Inc()
	if e.audit != nil {
		e.audit.Record(ctx, "document", d.ID, "retention.review_required", "system", map[string]any{
			"policy_id": d.AssignedPolicyID,
		})
	}
}
