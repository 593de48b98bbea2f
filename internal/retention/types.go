package retention

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Operator is a single condition comparison.
type Operator string

const (
	OpEquals      Operator = "EQUALS"
	OpNotEquals   Operator = "NOT_EQUALS"
	OpContains    Operator = "CONTAINS"
	OpNotContains Operator = "NOT_CONTAINS"
	OpGreaterThan Operator = "GREATER_THAN"
	OpLessThan    Operator = "LESS_THAN"
)

// Action is the terminal effect applied once a document's deadline passes.
type Action string

const (
	ActionDelete  Action = "DELETE"
	ActionArchive Action = "ARCHIVE"
	ActionReview  Action = "REVIEW"
)

// Condition narrows which documents a policy applies to.
type Condition struct {
	Field string   `json:"field"`
	Op    Operator `json:"operator"`
	Value string   `json:"value"`
}

// Policy associates document scope and conditions with a retention duration
// and a terminal action. Inactive policies are never matched.
type Policy struct {
	ID           string      `json:"id"`
	Name         string      `json:"name"`
	Category     string      `json:"category,omitempty"` // scope pre-filter, empty = any
	DocumentType string      `json:"document_type,omitempty"`
	DurationDays int         `json:"duration_days"`
	Action       Action      `json:"action"`
	Conditions   []Condition `json:"conditions,omitempty"` // conjunction, in order
	Active       bool        `json:"active"`
	CreatedAt    time.Time   `json:"created_at"`
	UpdatedAt    time.Time   `json:"updated_at"`
}

// Deadline computes the retention deadline for a document created at the
// given time.
func (p Policy) Deadline(createdAt time.Time) time.Time {
	return createdAt.AddDate(0, 0, p.DurationDays)
}

// Document is the retention-relevant slice of an HR document record.
type Document struct {
	ID         string    `json:"id"`
	Category   string    `json:"category"`
	Type       string    `json:"type"`
	Title      string    `json:"title"`
	StorageKey string    `json:"storage_key"`
	OwnerID    string    `json:"owner_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`

	AssignedPolicyID  string     `json:"assigned_policy_id,omitempty"`
	RetentionDeadline *time.Time `json:"retention_deadline,omitempty"`

	LegalHold       bool       `json:"legal_hold"`
	LegalHoldReason string     `json:"legal_hold_reason,omitempty"`
	LegalHoldSetBy  string     `json:"legal_hold_set_by,omitempty"`
	LegalHoldSetAt  *time.Time `json:"legal_hold_set_at,omitempty"`

	IsDeleted      bool       `json:"is_deleted"`
	DeletedAt      *time.Time `json:"deleted_at,omitempty"`
	IsArchived     bool       `json:"is_archived"`
	ArchivedAt     *time.Time `json:"archived_at,omitempty"`
	ReviewRequired bool       `json:"review_required"`
	ReviewMarkedAt *time.Time `json:"review_marked_at,omitempty"`
}

// JobStatus is the lifecycle state of one orchestrator run.
// Pending -> Running -> {Completed, Failed}; terminal states never transition.
type JobStatus string

const (
	JobPending   JobStatus = "PENDING"
	JobRunning   JobStatus = "RUNNING"
	JobCompleted JobStatus = "COMPLETED"
	JobFailed    JobStatus = "FAILED"
)

// Terminal reports whether no further transition is allowed from s.
func (s JobStatus) Terminal() bool {
	return s == JobCompleted || s == JobFailed
}

// Job records one retention apply run. Counts are monotonically
// non-decreasing within a run and persisted incrementally so a live run can
// be observed and a crash leaves accurate partial counts.
type Job struct {
	ID              string     `json:"id"`
	Status          JobStatus  `json:"status"`
	DryRun          bool       `json:"dry_run"`
	TotalCandidates int        `json:"total_candidates"`
	ProcessedCount  int        `json:"processed_count"`
	FailedCount     int        `json:"failed_count"`
	StartedAt       *time.Time `json:"started_at,omitempty"`
	CompletedAt     *time.Time `json:"completed_at,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidPolicy  = errors.New("invalid policy")
	ErrPolicyInUse    = errors.New("policy is assigned to documents")
	ErrRunInProgress  = errors.New("retention run already in progress")
	ErrAlreadyOnHold  = errors.New("document already on legal hold")
	ErrNotOnHold      = errors.New("document is not on legal hold")
	ErrDanglingPolicy = errors.New("assigned policy no longer exists")
)

var knownOperators = map[Operator]bool{
	OpEquals: true, OpNotEquals: true,
	OpContains: true, OpNotContains: true,
	OpGreaterThan: true, OpLessThan: true,
}

var knownActions = map[Action]bool{
	ActionDelete: true, ActionArchive: true, ActionReview: true,
}

// ValidatePolicy rejects configuration errors at creation/update time so the
// batch engine never sees them.
func ValidatePolicy(p Policy) error {
	if strings.TrimSpace(p.Name) == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidPolicy)
	}
	if p.DurationDays <= 0 {
		return fmt.Errorf("%w: duration must be a positive number of days", ErrInvalidPolicy)
	}
	if !knownActions[p.Action] {
		return fmt.Errorf("%w: unknown action %q", ErrInvalidPolicy, p.Action)
	}
	for i, c := range p.Conditions {
		if strings.TrimSpace(c.Field) == "" {
			return fmt.Errorf("%w: condition %d has empty field", ErrInvalidPolicy, i)
		}
		if !knownOperators[c.Op] {
			return fmt.Errorf("%w: condition %d has unknown operator %q", ErrInvalidPolicy, i, c.Op)
		}
	}
	return nil
}
