package main

import (
	"context"
	"fmt"
	"log"
	"time"

	"kadro.org/internal/audit"
	"kadro.org/internal/blob"
	"kadro.org/internal/retention"
	"kadro.org/internal/stream"
)

// Smoke scenario: seed an in-memory corpus, assign policies, execute actions
// and verify the count invariants and legal-hold suppression end to end.
func main() {
	log.SetFlags(0)

	store := retention.NewInMemory()
	blobs := blob.NewMemory()
	sink := audit.NewRecorder()
	events := stream.New()
	gate := retention.NewLegalHoldGate(store, sink, events)

	orch := retention.NewOrchestrator(store, store, store, retention.NewLocalRegistry(), sink, events,
		retention.OrchestratorConfig{Workers: 4, ProgressEvery: 10})
	defer orch.Close()
	exec := retention.NewExecutor(store, store, blobs, gate, sink, events,
		retention.ExecutorConfig{DeletesPerSecond: 1000})

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	pol, err := store.CreatePolicy(ctx, retention.Policy{
		Name:         "smoke-payslips",
		Category:     "FINANCIAL",
		DocumentType: "PAYSLIP",
		DurationDays: 365,
		Action:       retention.ActionDelete,
		Active:       true,
	})
	if err != nil {
		log.Fatalf("create policy: %v", err)
	}

	const totalDocs = 20
	old := time.Now().UTC().AddDate(-2, 0, 0)
	for i := 0; i < totalDocs; i++ {
		key := fmt.Sprintf("blobs/smoke-%02d", i)
		store.PutDocument(retention.Document{
			ID:         fmt.Sprintf("smoke-%02d", i),
			Category:   "FINANCIAL",
			Type:       "PAYSLIP",
			Title:      fmt.Sprintf("Payslip %02d", i),
			StorageKey: key,
			CreatedAt:  old,
		})
		blobs.Put(key, []byte("payload"))
	}

	// One document goes on legal hold before anything runs.
	if err := gate.SetHold(ctx, "smoke-00", "smoke", "litigation"); err != nil {
		log.Fatalf("set hold: %v", err)
	}

	job, err := orch.StartRun(ctx, retention.RunOptions{})
	if err != nil {
		log.Fatalf("start run: %v", err)
	}
	deadline := time.Now().Add(10 * time.Second)
	for {
		job, err = store.GetJob(ctx, job.ID)
		if err != nil {
			log.Fatalf("get job: %v", err)
		}
		if job.Status.Terminal() {
			break
		}
		if time.Now().After(deadline) {
			log.Fatalf("apply run did not finish: %+v", job)
		}
		time.Sleep(20 * time.Millisecond)
	}
	if job.Status != retention.JobCompleted {
		log.Fatalf("apply run failed: %+v", job)
	}
	if job.ProcessedCount+job.FailedCount != job.TotalCandidates {
		log.Fatalf("count invariant broken: processed=%d failed=%d candidates=%d",
			job.ProcessedCount, job.FailedCount, job.TotalCandidates)
	}
	// The hold does not block assignment, only destruction, so all documents
	// are candidates.
	if job.TotalCandidates != totalDocs {
		log.Fatalf("expected %d candidates, got %d", totalDocs, job.TotalCandidates)
	}

	out, err := exec.ExecuteDue(ctx, retention.RunOptions{})
	if err != nil {
		log.Fatalf("execute: %v", err)
	}
	if out.Deleted != totalDocs-1 || out.Failed != 0 || out.HeldSkips != 0 {
		log.Fatalf("unexpected outcome: %+v", out)
	}
	if blobs.Len() != 1 {
		log.Fatalf("expected exactly the held blob to remain, have %d", blobs.Len())
	}

	held, err := store.GetDocument(ctx, "smoke-00")
	if err != nil {
		log.Fatalf("get held doc: %v", err)
	}
	if held.IsDeleted || !held.LegalHold {
		log.Fatalf("legal hold was not honored: %+v", held)
	}
	if _, err := store.GetPolicy(ctx, pol.ID); err != nil {
		log.Fatalf("policy disappeared: %v", err)
	}

	fmt.Printf("✅ retention smoke test passed: job=%s deleted=%d held=1\n", job.ID, out.Deleted)
}
