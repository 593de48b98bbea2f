// Package blob holds the document content stores the retention engine
// deletes from. The engine only ever removes content; uploads belong to the
// document service.
package blob

import (
	"context"
	"errors"
	"fmt"
	"sync"
)

// ErrNotFound is returned by lookups for a missing storage key. Delete
// treats a missing key as success so retries stay idempotent.
var ErrNotFound = errors.New("blob not found")

// Store is the destructive half of the platform's content storage.
type Store interface {
	// Delete removes the object at storageKey. Deleting a missing key is
	// not an error.
	Delete(ctx context.Context, storageKey string) error
}

// KeyError wraps an error with the storage key for context.
type KeyError struct {
	Op  string
	Key string
	Err error
}

func (e *KeyError) Error() string {
	return fmt.Sprintf("blob: %s %q: %v", e.Op, e.Key, e.Err)
}

func (e *KeyError) Unwrap() error { return e.Err }

// Memory is an in-process Store for tests, the smoke binary and DSN-less
// development runs.
type Memory struct {
	mu      sync.RWMutex
	objects map[string][]byte
}

// NewMemory creates an empty Memory store.
func NewMemory() *Memory {
	return &Memory{objects: make(map[string][]byte)}
}

var _ Store = (*Memory)(nil)

// Put stores content under the key. Seed helper, not part of Store.
func (m *Memory) Put(key string, data []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[key] = append([]byte(nil), data...)
}

// Get returns stored content.
func (m *Memory) Get(key string) ([]byte, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	data, ok := m.objects[key]
	if !ok {
		return nil, &KeyError{Op: "Get", Key: key, Err: ErrNotFound}
	}
	return append([]byte(nil), data...), nil
}

// Delete removes the object; missing keys are fine.
func (m *Memory) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.objects, key)
	return nil
}

// Len reports the number of stored objects.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.objects)
}
