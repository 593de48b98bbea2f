package retention

import (
	"context"
	"time"
)

// DocumentFilter narrows FindDocuments / CountDocuments queries. Zero value
// matches every non-deleted document.
type DocumentFilter struct {
	Category        string // empty = any
	Type            string // empty = any
	ExcludePolicyID string // skip documents already bound to this policy
	DueBefore       *time.Time
	ExcludeDeleted  bool
	ExcludeHeld     bool
	Limit           int // 0 = no limit
}

// DocumentUpdate is a partial update applied by UpdateDocument. Nil fields
// are left untouched.
type DocumentUpdate struct {
	AssignedPolicyID  *string
	RetentionDeadline *time.Time

	LegalHold       *bool
	LegalHoldReason *string
	LegalHoldSetBy  *string
	LegalHoldSetAt  *time.Time

	IsDeleted      *bool
	DeletedAt      *time.Time
	IsArchived     *bool
	ArchivedAt     *time.Time
	ReviewRequired *bool
	ReviewMarkedAt *time.Time
}

// DocumentStore is the engine's narrow view of the documents service.
type DocumentStore interface {
	FindDocuments(ctx context.Context, f DocumentFilter) ([]Document, error)
	CountDocuments(ctx context.Context, f DocumentFilter) (int, error)
	GetDocument(ctx context.Context, id string) (Document, error)
	UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) error
}

// PolicyStore holds retention policy definitions.
type PolicyStore interface {
	CreatePolicy(ctx context.Context, p Policy) (Policy, error)
	GetPolicy(ctx context.Context, id string) (Policy, error)
	// ListActive returns active policies in a stable, documented order.
	// Resolution ties between overlapping policies break on that order, so
	// implementations must keep it deterministic.
	ListActive(ctx context.Context) ([]Policy, error)
	ListPolicies(ctx context.Context) ([]Policy, error)
	DeletePolicy(ctx context.Context, id string) error
}

// JobStore persists retention job records.
type JobStore interface {
	CreateJob(ctx context.Context, j Job) (Job, error)
	GetJob(ctx context.Context, id string) (Job, error)
	UpdateJob(ctx context.Context, j Job) error
	ListJobs(ctx context.Context, limit int) ([]Job, error)
}

// BlobStore deletes stored document content. Implementations must treat
// deleting a missing key as success.
type BlobStore interface {
	Delete(ctx context.Context, storageKey string) error
}

// AuditSink records engine side effects. Fire-and-forget: callers ignore
// delivery failures.
type AuditSink interface {
	Record(ctx context.Context, entityType, entityID, action, actorID string, metadata map[string]any)
}

// EventPublisher broadcasts engine events. Same fire-and-forget tolerance
// as AuditSink.
type EventPublisher interface {
	Publish(eventType string, payload map[string]any)
}
