package retention

import "sync"

// RunRegistry serializes retention runs: at most one holder per key at a
// time, system-wide for this process. It replaces ad hoc global state with
// an injected component; a multi-instance deployment swaps in a lock backed
// by the database instead.
type RunRegistry interface {
	// TryAcquire returns a release func, or ok=false when the key is held.
	TryAcquire(key string) (release func(), ok bool)
	// Held reports whether the key is currently held.
	Held(key string) bool
}

// applyLockKey guards the orchestrator's apply run.
const applyLockKey = "retention-apply"

// LocalRegistry is the in-process RunRegistry.
type LocalRegistry struct {
	mu   sync.Mutex
	held map[string]bool
}

// NewLocalRegistry returns an empty registry.
func NewLocalRegistry() *LocalRegistry {
	return &LocalRegistry{held: make(map[string]bool)}
}

var _ RunRegistry = (*LocalRegistry)(nil)

func (r *LocalRegistry) TryAcquire(key string) (func(), bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.held[key] {
		return nil, false
	}
	r.held[key] = true
	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			delete(r.held, key)
			r.mu.Unlock()
		})
	}, true
}

func (r *LocalRegistry) Held(key string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.held[key]
}
