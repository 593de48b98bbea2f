package retention

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func waitJob(t *testing.T, jobs JobStore, id string) Job {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		j, err := jobs.GetJob(context.Background(), id)
		if err != nil {
			t.Fatalf("get job: %v", err)
		}
		if j.Status.Terminal() {
			return j
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return Job{}
}

func seedFinancialDocs(s *InMemory, n int, createdDaysAgo int) {
	for i := 0; i < n; i++ {
		s.PutDocument(Document{
			ID:        fmt.Sprintf("doc-%03d", i),
			Category:  "FINANCIAL",
			Type:      "INVOICE",
			Title:     fmt.Sprintf("invoice %d", i),
			CreatedAt: time.Now().UTC().AddDate(0, 0, -createdDaysAgo),
		})
	}
}

func newOrchestrator(s *InMemory, cfg OrchestratorConfig) *Orchestrator {
	return NewOrchestrator(s, s, s, NewLocalRegistry(), nil, nil, cfg)
}

func TestRunAssignsPolicyAndDeadline(t *testing.T) {
	s := NewInMemory()
	seedFinancialDocs(s, 5, 400)
	pol, err := s.CreatePolicy(context.Background(), Policy{
		Name: "financial-1y", Category: "FINANCIAL",
		DurationDays: 365, Action: ActionDelete, Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(s, OrchestratorConfig{Workers: 4})
	job, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	done := waitJob(t, s, job.ID)

	if done.Status != JobCompleted {
		t.Fatalf("status=%s lastError=%q", done.Status, done.LastError)
	}
	if done.TotalCandidates != 5 || done.ProcessedCount != 5 || done.FailedCount != 0 {
		t.Fatalf("counts: %+v", done)
	}
	if done.StartedAt == nil || done.CompletedAt == nil {
		t.Fatal("timestamps not set")
	}

	docs, _ := s.FindDocuments(context.Background(), DocumentFilter{})
	for _, d := range docs {
		if d.AssignedPolicyID != pol.ID {
			t.Fatalf("doc %s not assigned", d.ID)
		}
		want := d.CreatedAt.AddDate(0, 0, 365)
		if d.RetentionDeadline == nil || !d.RetentionDeadline.Equal(want) {
			t.Fatalf("doc %s deadline=%v, want %v", d.ID, d.RetentionDeadline, want)
		}
	}
}

func TestRunIdempotent(t *testing.T) {
	s := NewInMemory()
	seedFinancialDocs(s, 3, 100)
	if _, err := s.CreatePolicy(context.Background(), Policy{
		Name: "financial-1y", Category: "FINANCIAL",
		DurationDays: 365, Action: ActionReview, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(s, OrchestratorConfig{})
	job1, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitJob(t, s, job1.ID)

	before, _ := s.FindDocuments(context.Background(), DocumentFilter{})

	job2, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second := waitJob(t, s, job2.ID)

	// With no document changes between runs the second run is a no-op:
	// already-assigned documents are excluded from candidate discovery.
	if second.TotalCandidates != 0 || second.ProcessedCount != 0 {
		t.Fatalf("second run not a no-op: %+v", second)
	}
	after, _ := s.FindDocuments(context.Background(), DocumentFilter{})
	for i := range before {
		if before[i].AssignedPolicyID != after[i].AssignedPolicyID {
			t.Fatalf("doc %s reassigned", before[i].ID)
		}
		if !before[i].RetentionDeadline.Equal(*after[i].RetentionDeadline) {
			t.Fatalf("doc %s deadline changed", before[i].ID)
		}
	}
}

// recordingJobStore captures every persisted job snapshot in write order.
type recordingJobStore struct {
	JobStore
	mu        sync.Mutex
	snapshots []Job
}

func (r *recordingJobStore) UpdateJob(ctx context.Context, j Job) error {
	r.mu.Lock()
	r.snapshots = append(r.snapshots, j)
	r.mu.Unlock()
	return r.JobStore.UpdateJob(ctx, j)
}

// Progress flushes from concurrent workers must land in snapshot order, so
// anyone polling the job never sees counters decrease.
func TestRunProgressCountsMonotonic(t *testing.T) {
	s := NewInMemory()
	seedFinancialDocs(s, 200, 400)
	if _, err := s.CreatePolicy(context.Background(), Policy{
		Name: "financial-1y", Category: "FINANCIAL",
		DurationDays: 365, Action: ActionDelete, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	jobs := &recordingJobStore{JobStore: s}
	o := NewOrchestrator(s, s, jobs, NewLocalRegistry(), nil, nil, OrchestratorConfig{
		Workers: 4, ProgressEvery: 1,
	})
	job, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	done := waitJob(t, s, job.ID)
	if done.Status != JobCompleted || done.ProcessedCount != 200 {
		t.Fatalf("run: %+v", done)
	}

	jobs.mu.Lock()
	defer jobs.mu.Unlock()
	prev := -1
	for i, snap := range jobs.snapshots {
		total := snap.ProcessedCount + snap.FailedCount
		if total < prev {
			t.Fatalf("snapshot %d went backwards: %d after %d", i, total, prev)
		}
		prev = total
	}
	if prev != 200 {
		t.Fatalf("last persisted count = %d, want 200", prev)
	}
}

// Two active policies overlapping the same document: the first run assigns
// the first match and later runs must leave that assignment alone, even
// though a later policy also matches.
func TestRunStableWithOverlappingPolicies(t *testing.T) {
	s := NewInMemory()
	s.PutDocument(Document{
		ID: "doc-hr-1", Category: "HR", Type: "CONTRACT",
		Title: "employment contract", CreatedAt: time.Now().UTC().AddDate(0, 0, -100),
	})

	first, err := s.CreatePolicy(context.Background(), Policy{
		Name: "hr-contracts", Category: "HR",
		Conditions:   []Condition{{Field: "type", Op: OpEquals, Value: "CONTRACT"}},
		DurationDays: 3650, Action: ActionArchive, Active: true,
	})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.CreatePolicy(context.Background(), Policy{
		Name: "hr-any", Category: "HR",
		DurationDays: 365, Action: ActionDelete, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(s, OrchestratorConfig{})
	job1, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitJob(t, s, job1.ID)

	d, err := s.GetDocument(context.Background(), "doc-hr-1")
	if err != nil {
		t.Fatal(err)
	}
	if d.AssignedPolicyID != first.ID {
		t.Fatalf("expected first policy %s, got %s", first.ID, d.AssignedPolicyID)
	}
	wantDeadline := d.CreatedAt.AddDate(0, 0, 3650)
	if d.RetentionDeadline == nil || !d.RetentionDeadline.Equal(wantDeadline) {
		t.Fatalf("deadline=%v, want %v", d.RetentionDeadline, wantDeadline)
	}

	// The catch-all policy still surfaces the document as a candidate, but
	// the assignment must not move.
	job2, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	second := waitJob(t, s, job2.ID)
	if second.FailedCount != 0 {
		t.Fatalf("second run failed documents: %+v", second)
	}

	d2, err := s.GetDocument(context.Background(), "doc-hr-1")
	if err != nil {
		t.Fatal(err)
	}
	if d2.AssignedPolicyID != first.ID {
		t.Fatalf("second run moved assignment to %s", d2.AssignedPolicyID)
	}
	if !d2.RetentionDeadline.Equal(wantDeadline) {
		t.Fatalf("second run changed deadline to %v", d2.RetentionDeadline)
	}

	// A third run stays stable too; there is no flip-flop between the
	// overlapping policies.
	job3, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitJob(t, s, job3.ID)
	d3, err := s.GetDocument(context.Background(), "doc-hr-1")
	if err != nil {
		t.Fatal(err)
	}
	if d3.AssignedPolicyID != first.ID || !d3.RetentionDeadline.Equal(wantDeadline) {
		t.Fatalf("third run destabilized assignment: %+v", d3)
	}
}

func TestRunExclusiveLock(t *testing.T) {
	s := NewInMemory()
	reg := NewLocalRegistry()
	o := NewOrchestrator(s, s, s, reg, nil, nil, OrchestratorConfig{})

	release, ok := reg.TryAcquire("retention-apply")
	if !ok {
		t.Fatal("seed acquire failed")
	}
	defer release()

	if _, err := o.StartRun(context.Background(), RunOptions{}); !errors.Is(err, ErrRunInProgress) {
		t.Fatalf("expected ErrRunInProgress, got %v", err)
	}
	if !o.RunInProgress() {
		t.Fatal("RunInProgress should report the held lock")
	}
}

func TestRunLockReleasedAfterCompletion(t *testing.T) {
	s := NewInMemory()
	o := newOrchestrator(s, OrchestratorConfig{})

	job, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	waitJob(t, s, job.ID)

	// The lock must come back even for an empty run.
	deadline := time.Now().Add(time.Second)
	for o.RunInProgress() {
		if time.Now().After(deadline) {
			t.Fatal("lock never released")
		}
		time.Sleep(time.Millisecond)
	}
	if _, err := o.StartRun(context.Background(), RunOptions{}); err != nil {
		t.Fatalf("second run should start: %v", err)
	}
}

// flakyDocs fails updates for selected documents to exercise per-document
// isolation.
type flakyDocs struct {
	DocumentStore
	failIDs map[string]bool
}

func (f *flakyDocs) UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) error {
	if f.failIDs[id] {
		return errors.New("simulated store outage")
	}
	return f.DocumentStore.UpdateDocument(ctx, id, upd)
}

func TestRunIsolatesDocumentFailures(t *testing.T) {
	s := NewInMemory()
	seedFinancialDocs(s, 10, 100)
	if _, err := s.CreatePolicy(context.Background(), Policy{
		Name: "financial-1y", Category: "FINANCIAL",
		DurationDays: 365, Action: ActionReview, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	docs := &flakyDocs{DocumentStore: s, failIDs: map[string]bool{"doc-003": true, "doc-007": true}}
	o := NewOrchestrator(docs, s, s, NewLocalRegistry(), nil, nil, OrchestratorConfig{Workers: 3})

	job, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	done := waitJob(t, s, job.ID)

	if done.Status != JobCompleted {
		t.Fatalf("isolated failures must not fail the run: %s", done.Status)
	}
	if done.FailedCount != 2 || done.ProcessedCount != 8 {
		t.Fatalf("counts: %+v", done)
	}
	if done.ProcessedCount+done.FailedCount != done.TotalCandidates {
		t.Fatalf("processed+failed != candidates: %+v", done)
	}
}

// brokenPolicies makes the policy collection unreadable: a run-level fatal.
type brokenPolicies struct{ PolicyStore }

func (brokenPolicies) ListActive(ctx context.Context) ([]Policy, error) {
	return nil, errors.New("policy table unreachable")
}

func TestRunFatalOnPolicyStoreError(t *testing.T) {
	s := NewInMemory()
	o := NewOrchestrator(s, brokenPolicies{s}, s, NewLocalRegistry(), nil, nil, OrchestratorConfig{})

	job, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	done := waitJob(t, s, job.ID)

	if done.Status != JobFailed {
		t.Fatalf("expected Failed, got %s", done.Status)
	}
	if done.LastError == "" || done.CompletedAt == nil {
		t.Fatalf("failed run must carry lastError and completedAt: %+v", done)
	}
}

func TestDryRunCountsWithoutMutation(t *testing.T) {
	s := NewInMemory()
	seedFinancialDocs(s, 100, 400)
	if _, err := s.CreatePolicy(context.Background(), Policy{
		Name: "financial-1y", Category: "FINANCIAL",
		DurationDays: 365, Action: ActionDelete, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(s, OrchestratorConfig{Workers: 8})
	job, err := o.StartRun(context.Background(), RunOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	dry := waitJob(t, s, job.ID)

	if dry.ProcessedCount != 100 || dry.FailedCount != 0 {
		t.Fatalf("dry run counts: %+v", dry)
	}
	docs, _ := s.FindDocuments(context.Background(), DocumentFilter{})
	for _, d := range docs {
		if d.AssignedPolicyID != "" || d.RetentionDeadline != nil {
			t.Fatalf("dry run mutated document %s", d.ID)
		}
	}

	// Equivalence: the real run over the identical snapshot reports the
	// same counts, and only it mutates.
	job2, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	live := waitJob(t, s, job2.ID)
	if live.ProcessedCount != dry.ProcessedCount || live.FailedCount != dry.FailedCount {
		t.Fatalf("dry/real divergence: dry=%+v real=%+v", dry, live)
	}
}

func TestCloseCancelsBetweenDocuments(t *testing.T) {
	s := NewInMemory()
	seedFinancialDocs(s, 500, 100)
	if _, err := s.CreatePolicy(context.Background(), Policy{
		Name: "financial-1y", Category: "FINANCIAL",
		DurationDays: 365, Action: ActionReview, Active: true,
	}); err != nil {
		t.Fatal(err)
	}

	o := newOrchestrator(s, OrchestratorConfig{Workers: 1, ProgressEvery: 1})
	job, err := o.StartRun(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	o.Close() // cooperative cancel; must not hang

	done := waitJob(t, s, job.ID)
	if !done.Status.Terminal() {
		t.Fatalf("job left non-terminal: %s", done.Status)
	}
	if done.ProcessedCount+done.FailedCount > done.TotalCandidates {
		t.Fatalf("count invariant broken after cancel: %+v", done)
	}
}
