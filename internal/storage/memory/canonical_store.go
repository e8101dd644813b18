// Package memory provides in-memory store implementations for
// development and testing.
package memory

import (
	"context"
	"errors"
	"sync"

	"github.com/pharosdata/harvester/internal/harvest"
)

// ErrNotFound is returned when a looked-up row does not exist.
var ErrNotFound = errors.New("not found")

// CanonicalStore keeps canonical records in a map keyed by record id.
type CanonicalStore struct {
	mu      sync.RWMutex
	records map[string]harvest.CanonicalRecord
}

// NewCanonicalStore constructs a CanonicalStore.
func NewCanonicalStore() *CanonicalStore {
	return &CanonicalStore{records: make(map[string]harvest.CanonicalRecord)}
}

// Upsert inserts or replaces the record keyed by its record id.
func (s *CanonicalStore) Upsert(_ context.Context, record harvest.CanonicalRecord) error {
	if record.RecordID == "" {
		return errors.New("record id is required")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records[record.RecordID] = record
	return nil
}

// Get fetches a record by id.
func (s *CanonicalStore) Get(_ context.Context, recordID string) (harvest.CanonicalRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	record, ok := s.records[recordID]
	if !ok {
		return harvest.CanonicalRecord{}, ErrNotFound
	}
	return record, nil
}

// Len reports the number of stored records.
func (s *CanonicalStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}
