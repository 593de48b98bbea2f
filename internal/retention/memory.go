package retention

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"kadro.org/internal/ids"
)

// InMemory implements DocumentStore, PolicyStore and JobStore with
// in-process concurrency safety. It backs tests, the smoke binary and
// DSN-less development runs; production uses the Postgres store.
type InMemory struct {
	mu    sync.RWMutex
	docs  map[string]*Document
	pols  map[string]*Policy
	jobs  map[string]*Job
	order []string // policy ids in creation order, the documented tie-break order
}

// NewInMemory creates empty in-memory stores.
func NewInMemory() *InMemory {
	return &InMemory{
		docs: make(map[string]*Document),
		pols: make(map[string]*Policy),
		jobs: make(map[string]*Job),
	}
}

var (
	_ DocumentStore = (*InMemory)(nil)
	_ PolicyStore   = (*InMemory)(nil)
	_ JobStore      = (*InMemory)(nil)
)

// PutDocument inserts or replaces a document. Test/seed helper.
func (s *InMemory) PutDocument(d Document) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d.ID == "" {
		d.ID = ids.New()
	}
	cp := d
	s.docs[d.ID] = &cp
}

func (s *InMemory) GetDocument(ctx context.Context, id string) (Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	d, ok := s.docs[id]
	if !ok {
		return Document{}, ErrNotFound
	}
	return *d, nil
}

func matchFilter(d *Document, f DocumentFilter) bool {
	if f.ExcludeDeleted && d.IsDeleted {
		return false
	}
	if f.ExcludeHeld && d.LegalHold {
		return false
	}
	if f.Category != "" && d.Category != f.Category {
		return false
	}
	if f.Type != "" && d.Type != f.Type {
		return false
	}
	if f.ExcludePolicyID != "" && d.AssignedPolicyID == f.ExcludePolicyID {
		return false
	}
	if f.DueBefore != nil {
		if d.RetentionDeadline == nil || d.RetentionDeadline.After(*f.DueBefore) {
			return false
		}
	}
	return true
}

func (s *InMemory) FindDocuments(ctx context.Context, f DocumentFilter) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Document
	for _, d := range s.docs {
		if matchFilter(d, f) {
			out = append(out, *d)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (s *InMemory) CountDocuments(ctx context.Context, f DocumentFilter) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	n := 0
	for _, d := range s.docs {
		if matchFilter(d, f) {
			n++
		}
	}
	return n, nil
}

func (s *InMemory) UpdateDocument(ctx context.Context, id string, upd DocumentUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	d, ok := s.docs[id]
	if !ok {
		return ErrNotFound
	}
	if upd.AssignedPolicyID != nil {
		d.AssignedPolicyID = *upd.AssignedPolicyID
	}
	if upd.RetentionDeadline != nil {
		t := *upd.RetentionDeadline
		d.RetentionDeadline = &t
	}
	if upd.LegalHold != nil {
		d.LegalHold = *upd.LegalHold
	}
	if upd.LegalHoldReason != nil {
		d.LegalHoldReason = *upd.LegalHoldReason
	}
	if upd.LegalHoldSetBy != nil {
		d.LegalHoldSetBy = *upd.LegalHoldSetBy
	}
	if upd.LegalHoldSetAt != nil {
		if upd.LegalHoldSetAt.IsZero() {
			d.LegalHoldSetAt = nil
		} else {
			t := *upd.LegalHoldSetAt
			d.LegalHoldSetAt = &t
		}
	}
	if upd.IsDeleted != nil {
		d.IsDeleted = *upd.IsDeleted
	}
	if upd.DeletedAt != nil {
		t := *upd.DeletedAt
		d.DeletedAt = &t
	}
	if upd.IsArchived != nil {
		d.IsArchived = *upd.IsArchived
	}
	if upd.ArchivedAt != nil {
		t := *upd.ArchivedAt
		d.ArchivedAt = &t
	}
	if upd.ReviewRequired != nil {
		d.ReviewRequired = *upd.ReviewRequired
	}
	if upd.ReviewMarkedAt != nil {
		t := *upd.ReviewMarkedAt
		d.ReviewMarkedAt = &t
	}
	return nil
}

func (s *InMemory) CreatePolicy(ctx context.Context, p Policy) (Policy, error) {
	if err := ValidatePolicy(p); err != nil {
		return Policy{}, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	// The Postgres schema has a unique index on name; mirror it here.
	for _, ex := range s.pols {
		if ex.Name == p.Name {
			return Policy{}, fmt.Errorf("%w: name %q already exists", ErrInvalidPolicy, p.Name)
		}
	}
	if p.ID == "" {
		p.ID = ids.New()
	}
	now := time.Now().UTC()
	if p.CreatedAt.IsZero() {
		p.CreatedAt = now
	}
	p.UpdatedAt = now
	cp := p
	s.pols[p.ID] = &cp
	s.order = append(s.order, p.ID)
	return p, nil
}

func (s *InMemory) GetPolicy(ctx context.Context, id string) (Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	p, ok := s.pols[id]
	if !ok {
		return Policy{}, ErrNotFound
	}
	return *p, nil
}

// ListActive returns active policies in creation order; resolution
// tie-breaks depend on it.
func (s *InMemory) ListActive(ctx context.Context) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Policy
	for _, id := range s.order {
		if p, ok := s.pols[id]; ok && p.Active {
			out = append(out, *p)
		}
	}
	return out, nil
}

func (s *InMemory) ListPolicies(ctx context.Context) ([]Policy, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Policy
	for _, id := range s.order {
		if p, ok := s.pols[id]; ok {
			out = append(out, *p)
		}
	}
	return out, nil
}

// DeletePolicy refuses to remove a policy still referenced by documents.
func (s *InMemory) DeletePolicy(ctx context.Context, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.pols[id]; !ok {
		return ErrNotFound
	}
	for _, d := range s.docs {
		if d.AssignedPolicyID == id {
			return ErrPolicyInUse
		}
	}
	delete(s.pols, id)
	for i, pid := range s.order {
		if pid == id {
			s.order = append(s.order[:i], s.order[i+1:]...)
			break
		}
	}
	return nil
}

func (s *InMemory) CreateJob(ctx context.Context, j Job) (Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if j.ID == "" {
		j.ID = ids.New()
	}
	if j.CreatedAt.IsZero() {
		j.CreatedAt = time.Now().UTC()
	}
	cp := j
	s.jobs[j.ID] = &cp
	return j, nil
}

func (s *InMemory) GetJob(ctx context.Context, id string) (Job, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	j, ok := s.jobs[id]
	if !ok {
		return Job{}, ErrNotFound
	}
	return *j, nil
}

func (s *InMemory) UpdateJob(ctx context.Context, j Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[j.ID]; !ok {
		return ErrNotFound
	}
	cp := j
	s.jobs[j.ID] = &cp
	return nil
}

func (s *InMemory) ListJobs(ctx context.Context, limit int) ([]Job, error) {
	if limit <= 0 || limit > 1000 {
		limit = 100
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []Job
	for _, j := range s.jobs {
		out = append(out, *j)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}
