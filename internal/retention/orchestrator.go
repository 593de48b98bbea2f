package retention

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"kadro.org/internal/obs"
)

// OrchestratorConfig tunes one apply run.
type OrchestratorConfig struct {
	// Workers bounds the per-run worker pool. Values < 1 mean sequential.
	Workers int
	// ProgressEvery flushes job counters to the store after this many
	// documents. Values < 1 default to 25.
	ProgressEvery int
}

// RunOptions selects per-run behavior.
type RunOptions struct {
	// DryRun walks the same discovery and resolution path but skips every
	// document and job-target mutation; counts still reflect what a real
	// run would do.
	DryRun bool
}

// Orchestrator drives resumable retention apply runs: it walks all active
// policies, finds candidate documents for each, resolves the applicable
// policy per document and writes assignment plus deadline. One failing
// document never aborts the run.
type Orchestrator struct {
	docs     DocumentStore
	pols     PolicyStore
	jobs     JobStore
	registry RunRegistry
	resolver *Resolver
	audit    AuditSink
	events   EventPublisher
	cfg      OrchestratorConfig

	stopOnce sync.Once
	stopCh   chan struct{}
	wg       sync.WaitGroup
}

// NewOrchestrator wires an orchestrator. audit and events may be nil.
func NewOrchestrator(docs DocumentStore, pols PolicyStore, jobs JobStore, registry RunRegistry, audit AuditSink, events EventPublisher, cfg OrchestratorConfig) *Orchestrator {
	if cfg.Workers < 1 {
		cfg.Workers = 1
	}
	if cfg.ProgressEvery < 1 {
		cfg.ProgressEvery = 25
	}
	return &Orchestrator{
		docs:     docs,
		pols:     pols,
		jobs:     jobs,
		registry: registry,
		resolver: NewResolver(),
		audit:    audit,
		events:   events,
		cfg:      cfg,
		stopCh:   make(chan struct{}),
	}
}

// RunInProgress reports whether an apply run currently holds the lock.
func (o *Orchestrator) RunInProgress() bool {
	return o.registry.Held(applyLockKey)
}

// StartRun creates a job record and launches the run on its own goroutine,
// returning the Pending job immediately. Callers observe progress by polling
// the job store. Returns ErrRunInProgress when another run holds the
// exclusive apply lock.
func (o *Orchestrator) StartRun(ctx context.Context, opts RunOptions) (Job, error) {
	release, ok := o.registry.TryAcquire(applyLockKey)
	if !ok {
		return Job{}, ErrRunInProgress
	}

	job, err := o.jobs.CreateJob(ctx, Job{
		ID:     uuid.NewString(),
		Status: JobPending,
		DryRun: opts.DryRun,
	})
	if err != nil {
		release()
		return Job{}, fmt.Errorf("create retention job: %w", err)
	}

	// The run outlives the request that started it; only service shutdown
	// (Close) cancels it cooperatively.
	runCtx := context.WithoutCancel(ctx)
	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		defer release()
		o.run(runCtx, job)
	}()

	return job, nil
}

// Close cancels in-flight runs at the next between-document checkpoint and
// waits for them to finish.
func (o *Orchestrator) Close() {
	o.stopOnce.Do(func() { close(o.stopCh) })
	o.wg.Wait()
}

func (o *Orchestrator) cancelled(ctx context.Context) bool {
	select {
	case <-ctx.Done():
		return true
	case <-o.stopCh:
		return true
	default:
		return false
	}
}

// progress tracks run counters. Mutations are serialized by its mutex so the
// worker pool can update them safely; flushes persist a snapshot so that a
// crash mid-run leaves accurate partial counts.
type progress struct {
	mu         sync.Mutex
	job        Job
	sinceFlush int

	// flushMu serializes store writes: without it two workers could take
	// snapshots in one order and persist them in the other, letting an
	// observer see counters go backwards.
	flushMu sync.Mutex
}

func (p *progress) addProcessed() {
	p.mu.Lock()
	p.job.ProcessedCount++
	p.sinceFlush++
	p.mu.Unlock()
	obs.RetentionDocumentsProcessed.Inc()
}

func (p *progress) addFailed() {
	p.mu.Lock()
	p.job.FailedCount++
	p.sinceFlush++
	p.mu.Unlock()
	obs.RetentionDocumentsFailed.Inc()
}

func (o *Orchestrator) flushProgress(ctx context.Context, p *progress, force bool) {
	p.flushMu.Lock()
	defer p.flushMu.Unlock()

	p.mu.Lock()
	if !force && p.sinceFlush < o.cfg.ProgressEvery {
		p.mu.Unlock()
		return
	}
	p.sinceFlush = 0
	snapshot := p.job
	p.mu.Unlock()

	if err := o.jobs.UpdateJob(ctx, snapshot); err != nil {
		obs.LogRetention("orchestrator", "progress flush failed", map[string]any{
			"job_id": snapshot.ID, "error": err.Error(),
		})
	}
}

func (o *Orchestrator) run(ctx context.Context, job Job) {
	obs.RetentionRunInProgress.Set(1)
	defer obs.RetentionRunInProgress.Set(0)

	now := time.Now().UTC()
	job.Status = JobRunning
	job.StartedAt = &now
	p := &progress{job: job}
	o.flushProgress(ctx, p, true)

	obs.LogRetention("orchestrator", "run started", map[string]any{
		"job_id": job.ID, "dry_run": job.DryRun,
	})

	err := o.applyPolicies(ctx, p)

	p.mu.Lock()
	end := time.Now().UTC()
	p.job.CompletedAt = &end
	if err != nil {
		p.job.Status = JobFailed
		p.job.LastError = err.Error()
	} else {
		p.job.Status = JobCompleted
	}
	final := p.job
	p.sinceFlush = 0
	p.mu.Unlock()

	p.flushMu.Lock()
	uerr := o.jobs.UpdateJob(ctx, final)
	p.flushMu.Unlock()
	if uerr != nil {
		obs.LogRetention("orchestrator", "final job update failed", map[string]any{
			"job_id": final.ID, "error": uerr.Error(),
		})
	}

	obs.RetentionRunsTotal.WithLabelValues(string(final.Status), strconv.FormatBool(final.DryRun)).Inc()
	obs.LogRetention("orchestrator", "run finished", map[string]any{
		"job_id":     final.ID,
		"status":     string(final.Status),
		"candidates": final.TotalCandidates,
		"processed":  final.ProcessedCount,
		"failed":     final.FailedCount,
	})
	if o.events != nil {
		o.events.Publish("retention.run.finished", map[string]any{
			"job_id":    final.ID,
			"status":    string(final.Status),
			"dry_run":   final.DryRun,
			"processed": final.ProcessedCount,
			"failed":    final.FailedCount,
		})
	}
}

// applyPolicies walks all active policies. Errors returned here are
// run-level fatal (the policy collection or a candidate query is unreadable);
// per-document failures are absorbed into the failed counter. Partial
// progress applied before a fatal error is not rolled back.
func (o *Orchestrator) applyPolicies(ctx context.Context, p *progress) error {
	policies, err := o.pols.ListActive(ctx)
	if err != nil {
		return fmt.Errorf("list active policies: %w", err)
	}

	// A document scoped by several policies is discovered once. seen also
	// guarantees no two workers touch the same document within a run.
	seen := make(map[string]bool)

	for _, pol := range policies {
		if o.cancelled(ctx) {
			return context.Canceled
		}

		candidates, err := o.docs.FindDocuments(ctx, DocumentFilter{
			Category:        pol.Category,
			Type:            pol.DocumentType,
			ExcludePolicyID: pol.ID,
			ExcludeDeleted:  true,
		})
		if err != nil {
			return fmt.Errorf("find candidates for policy %s: %w", pol.ID, err)
		}

		fresh := candidates[:0]
		for _, d := range candidates {
			if !seen[d.ID] {
				seen[d.ID] = true
				fresh = append(fresh, d)
			}
		}
		if len(fresh) == 0 {
			continue
		}

		p.mu.Lock()
		p.job.TotalCandidates += len(fresh)
		p.mu.Unlock()
		o.flushProgress(ctx, p, true)

		if err := o.processBatch(ctx, p, policies, fresh); err != nil {
			return err
		}
	}
	return nil
}

// processBatch resolves a batch of candidates over a bounded worker pool.
func (o *Orchestrator) processBatch(ctx context.Context, p *progress, policies []Policy, batch []Document) error {
	in := make(chan Document)
	var wg sync.WaitGroup

	workers := o.cfg.Workers
	if workers > len(batch) {
		workers = len(batch)
	}
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for d := range in {
				o.processDocument(ctx, p, policies, d)
				o.flushProgress(ctx, p, false)
			}
		}()
	}

feed:
	for _, d := range batch {
		if o.cancelled(ctx) {
			break feed
		}
		in <- d
	}
	close(in)
	wg.Wait()

	if o.cancelled(ctx) {
		return context.Canceled
	}
	return nil
}

// processDocument is fully isolated: any failure, panic included, increments
// the failed counter and the run moves on.
func (o *Orchestrator) processDocument(ctx context.Context, p *progress, policies []Policy, d Document) {
	defer func() {
		if r := recover(); r != nil {
			p.addFailed()
			obs.LogRetention("orchestrator", "document processing panicked", map[string]any{
				"document_id": d.ID, "panic": fmt.Sprint(r),
			})
		}
	}()

	pol, deadline, ok := o.resolver.Resolve(d, policies)
	if !ok {
		// Nothing matched; the existing assignment, if any, stays put.
		p.addProcessed()
		return
	}
	if pol.ID == d.AssignedPolicyID && d.RetentionDeadline != nil && d.RetentionDeadline.Equal(deadline) {
		// Assignment already current: skip the redundant write so repeated
		// runs leave documents untouched. A changed policy duration falls
		// through and refreshes the deadline.
		p.addProcessed()
		return
	}

	p.mu.Lock()
	dryRun := p.job.DryRun
	jobID := p.job.ID
	p.mu.Unlock()

	if !dryRun {
		if err := o.docs.UpdateDocument(ctx, d.ID, DocumentUpdate{
			AssignedPolicyID:  &pol.ID,
			RetentionDeadline: &deadline,
		}); err != nil {
			p.addFailed()
			obs.LogRetention("orchestrator", "assignment update failed", map[string]any{
				"document_id": d.ID, "policy_id": pol.ID, "error": err.Error(),
			})
			return
		}
		if o.audit != nil {
			o.audit.Record(ctx, "document", d.ID, "retention.policy_assigned", "system", map[string]any{
				"policy_id": pol.ID,
				"deadline":  deadline.Format(time.RFC3339),
				"job_id":    jobID,
			})
		}
	}

	p.addProcessed()
}
