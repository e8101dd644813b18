// Package memory provides an in-process fingerprint index for tests
// and single-shot runs that do not need persistence.
package memory

import (
	"context"
	"sync"
)

// Index is a mutex-guarded fingerprint set.
type Index struct {
	mu   sync.Mutex
	seen map[string]struct{}
}

// New creates an empty Index.
func New() *Index {
	return &Index{seen: make(map[string]struct{})}
}

// Seen reports whether fingerprint is already present.
func (i *Index) Seen(_ context.Context, fingerprint string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	_, ok := i.seen[fingerprint]
	return ok, nil
}

// MarkIfNew records fingerprint and reports true when it was absent.
func (i *Index) MarkIfNew(_ context.Context, fingerprint string) (bool, error) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.seen[fingerprint]; ok {
		return false, nil
	}
	i.seen[fingerprint] = struct{}{}
	return true, nil
}
