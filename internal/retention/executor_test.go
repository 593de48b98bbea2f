package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

// recordingBlobs remembers deleted keys and can be told to fail.
type recordingBlobs struct {
	mu      sync.Mutex
	deleted []string
	err     error
}

func (b *recordingBlobs) Delete(ctx context.Context, key string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return b.err
	}
	b.deleted = append(b.deleted, key)
	return nil
}

func (b *recordingBlobs) keys() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]string(nil), b.deleted...)
}

func dueDocument(s *InMemory, id string, action Action, legalHold bool) (Document, Policy) {
	pol, err := s.CreatePolicy(context.Background(), Policy{
		Name: "pol-" + id, Category: "FINANCIAL",
		DurationDays: 365, Action: action, Active: true,
	})
	if err != nil {
		panic(err)
	}
	deadline := time.Now().UTC().AddDate(0, 0, -35)
	d := Document{
		ID:                id,
		Category:          "FINANCIAL",
		Type:              "INVOICE",
		StorageKey:        "blobs/" + id,
		CreatedAt:         time.Now().UTC().AddDate(0, 0, -400),
		AssignedPolicyID:  pol.ID,
		RetentionDeadline: &deadline,
		LegalHold:         legalHold,
	}
	s.PutDocument(d)
	return d, pol
}

func newExecutor(s *InMemory, blobs BlobStore) *Executor {
	gate := NewLegalHoldGate(s, nil, nil)
	return NewExecutor(s, s, blobs, gate, nil, nil, ExecutorConfig{DeleteTimeout: time.Second})
}

func TestExecuteDeletesOverdueDocument(t *testing.T) {
	s := NewInMemory()
	blobs := &recordingBlobs{}
	d, _ := dueDocument(s, "doc-del", ActionDelete, false)

	out, err := newExecutor(s, blobs).ExecuteDue(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Deleted != 1 || out.Failed != 0 {
		t.Fatalf("outcome: %+v", out)
	}
	if got := blobs.keys(); len(got) != 1 || got[0] != d.StorageKey {
		t.Fatalf("blob deletes: %v", got)
	}
	after, _ := s.GetDocument(context.Background(), d.ID)
	if !after.IsDeleted || after.DeletedAt == nil {
		t.Fatalf("document not marked deleted: %+v", after)
	}
}

func TestExecuteNeverDeletesHeldDocument(t *testing.T) {
	s := NewInMemory()
	blobs := &recordingBlobs{}
	d, _ := dueDocument(s, "doc-held", ActionDelete, true)

	out, err := newExecutor(s, blobs).ExecuteDue(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	// Held documents are filtered from the candidate set entirely; the
	// blob store must never see them, whatever the deadline says.
	if len(blobs.keys()) != 0 {
		t.Fatal("blob delete called for a held document")
	}
	if out.Deleted != 0 || out.Failed != 0 {
		t.Fatalf("outcome: %+v", out)
	}
	after, _ := s.GetDocument(context.Background(), d.ID)
	if after.IsDeleted {
		t.Fatal("held document was deleted")
	}
}

func TestExecuteRechecksHoldBeforeDelete(t *testing.T) {
	s := NewInMemory()
	blobs := &recordingBlobs{}
	d, _ := dueDocument(s, "doc-race", ActionDelete, false)

	// The hold lands between candidate selection and execution: model it
	// with a store wrapper that flips the flag the moment the executor
	// re-reads the document.
	w := &holdOnRecheck{DocumentStore: s, docID: d.ID}
	gate := NewLegalHoldGate(w, nil, nil)
	exec := NewExecutor(w, s, blobs, gate, nil, nil, ExecutorConfig{})

	out, err := exec.ExecuteDue(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.HeldSkips != 1 || out.Deleted != 0 {
		t.Fatalf("outcome: %+v", out)
	}
	if len(blobs.keys()) != 0 {
		t.Fatal("blob delete happened despite late hold")
	}
}

// holdOnRecheck marks the target document held the moment the executor
// re-reads it, simulating a SetHold racing the sweep.
type holdOnRecheck struct {
	DocumentStore
	docID string
	once  sync.Once
}

func (h *holdOnRecheck) GetDocument(ctx context.Context, id string) (Document, error) {
	if id == h.docID {
		h.once.Do(func() {
			hold := true
			reason := "litigation pending"
			_ = h.DocumentStore.UpdateDocument(ctx, h.docID, DocumentUpdate{
				LegalHold: &hold, LegalHoldReason: &reason,
			})
		})
	}
	return h.DocumentStore.GetDocument(ctx, id)
}

func TestExecuteArchiveRequiresReview(t *testing.T) {
	s := NewInMemory()
	d, _ := dueDocument(s, "doc-arch", ActionArchive, false)

	out, err := newExecutor(s, &recordingBlobs{}).ExecuteDue(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Archived != 1 {
		t.Fatalf("outcome: %+v", out)
	}
	after, _ := s.GetDocument(context.Background(), d.ID)
	if !after.IsArchived || !after.ReviewRequired || after.ArchivedAt == nil {
		t.Fatalf("archive must set review flag too: %+v", after)
	}
	if after.IsDeleted {
		t.Fatal("archive must not delete content")
	}
}

func TestExecuteReviewOnly(t *testing.T) {
	s := NewInMemory()
	d, _ := dueDocument(s, "doc-rev", ActionReview, false)

	out, err := newExecutor(s, &recordingBlobs{}).ExecuteDue(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Reviewed != 1 {
		t.Fatalf("outcome: %+v", out)
	}
	after, _ := s.GetDocument(context.Background(), d.ID)
	if !after.ReviewRequired || after.IsArchived || after.IsDeleted {
		t.Fatalf("review must only flag: %+v", after)
	}
}

func TestExecuteDanglingPolicyIsCountedFailure(t *testing.T) {
	s := NewInMemory()
	deadline := time.Now().UTC().AddDate(0, 0, -1)
	s.PutDocument(Document{
		ID: "doc-dangling", Category: "FINANCIAL", Type: "INVOICE",
		StorageKey: "blobs/doc-dangling",
		CreatedAt:  time.Now().UTC().AddDate(0, 0, -400),
		// References a policy that no longer exists.
		AssignedPolicyID:  "gone",
		RetentionDeadline: &deadline,
	})
	// And a healthy document behind it, to prove the sweep continues.
	dueDocument(s, "doc-ok", ActionReview, false)

	out, err := newExecutor(s, &recordingBlobs{}).ExecuteDue(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Failed != 1 || out.Reviewed != 1 {
		t.Fatalf("outcome: %+v", out)
	}
}

func TestExecuteBlobFailureIsolated(t *testing.T) {
	s := NewInMemory()
	blobs := &recordingBlobs{err: errors.New("s3 unavailable")}
	d, _ := dueDocument(s, "doc-blobfail", ActionDelete, false)
	dueDocument(s, "doc-rev2", ActionReview, false)

	out, err := newExecutor(s, blobs).ExecuteDue(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Failed != 1 || out.Reviewed != 1 {
		t.Fatalf("outcome: %+v", out)
	}
	after, _ := s.GetDocument(context.Background(), d.ID)
	if after.IsDeleted {
		t.Fatal("document marked deleted although blob delete failed")
	}
}

func TestExecuteDryRunMutatesNothing(t *testing.T) {
	s := NewInMemory()
	blobs := &recordingBlobs{}
	dueDocument(s, "doc-a", ActionDelete, false)
	dueDocument(s, "doc-b", ActionArchive, false)
	dueDocument(s, "doc-c", ActionReview, false)

	out, err := newExecutor(s, blobs).ExecuteDue(context.Background(), RunOptions{DryRun: true})
	if err != nil {
		t.Fatal(err)
	}
	if out.Deleted != 1 || out.Archived != 1 || out.Reviewed != 1 || out.Failed != 0 {
		t.Fatalf("outcome: %+v", out)
	}
	if len(blobs.keys()) != 0 {
		t.Fatal("dry run touched the blob store")
	}
	docs, _ := s.FindDocuments(context.Background(), DocumentFilter{})
	for _, d := range docs {
		if d.IsDeleted || d.IsArchived || d.ReviewRequired {
			t.Fatalf("dry run mutated %s", d.ID)
		}
	}
}

func TestExecuteSkipsNotYetDue(t *testing.T) {
	s := NewInMemory()
	pol, _ := s.CreatePolicy(context.Background(), Policy{
		Name: "future", Category: "FINANCIAL",
		DurationDays: 365, Action: ActionDelete, Active: true,
	})
	future := time.Now().UTC().AddDate(0, 0, 30)
	s.PutDocument(Document{
		ID: "doc-future", Category: "FINANCIAL", Type: "INVOICE",
		CreatedAt:         time.Now().UTC(),
		AssignedPolicyID:  pol.ID,
		RetentionDeadline: &future,
	})

	out, err := newExecutor(s, &recordingBlobs{}).ExecuteDue(context.Background(), RunOptions{})
	if err != nil {
		t.Fatal(err)
	}
	if out.Deleted+out.Archived+out.Reviewed+out.Failed != 0 {
		t.Fatalf("nothing should be due: %+v", out)
	}
}
