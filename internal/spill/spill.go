// Package spill implements the durable local fallback for records that
// could not be handed to the broker. Files are named by record id so a
// repeated spill of the same record overwrites rather than duplicates.
package spill

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/pharosdata/harvester/internal/harvest"
)

const (
	filePrefix    = "raw_"
	fileSuffix    = ".json"
	quarantineDir = "quarantine"
)

// ErrCorrupt marks a spill file whose contents cannot be decoded.
var ErrCorrupt = errors.New("corrupt spill file")

// Store reads and writes spilled RawRecords under one directory.
type Store struct {
	dir string
}

// New creates the spill directory if needed and returns a Store.
func New(dir string) (*Store, error) {
	if strings.TrimSpace(dir) == "" {
		return nil, fmt.Errorf("spill directory is required")
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create spill dir %s: %w", dir, err)
	}
	return &Store{dir: dir}, nil
}

// Dir returns the spill directory path.
func (s *Store) Dir() string {
	return s.dir
}

// Write persists one record as raw_<record_id>.json, overwriting any
// previous spill of the same record.
func (s *Store) Write(record harvest.RawRecord) error {
	if record.RecordID == "" {
		return fmt.Errorf("record id is required")
	}
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("marshal record %s: %w", record.RecordID, err)
	}
	target := s.path(record.RecordID)
	if err := os.WriteFile(target, payload, 0o600); err != nil {
		return fmt.Errorf("write spill file %s: %w", target, err)
	}
	return nil
}

// List returns the record ids currently spilled, sorted for stable drains.
func (s *Store) List() ([]string, error) {
	entries, err := os.ReadDir(s.dir)
	if err != nil {
		return nil, fmt.Errorf("read spill dir %s: %w", s.dir, err)
	}
	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		ids = append(ids, strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix))
	}
	sort.Strings(ids)
	return ids, nil
}

// Read loads one spilled record by id.
func (s *Store) Read(recordID string) (harvest.RawRecord, error) {
	data, err := os.ReadFile(s.path(recordID))
	if err != nil {
		return harvest.RawRecord{}, fmt.Errorf("read spill file for %s: %w", recordID, err)
	}
	var record harvest.RawRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return harvest.RawRecord{}, fmt.Errorf("unmarshal spill file for %s: %w: %v", recordID, ErrCorrupt, err)
	}
	return record, nil
}

// Quarantine moves the spill file for recordID into a quarantine
// subdirectory so drains stop retrying it. The file is kept for
// inspection rather than deleted.
func (s *Store) Quarantine(recordID string) error {
	target := filepath.Join(s.dir, quarantineDir)
	if err := os.MkdirAll(target, 0o750); err != nil {
		return fmt.Errorf("create quarantine dir %s: %w", target, err)
	}
	src := s.path(recordID)
	if err := os.Rename(src, filepath.Join(target, filepath.Base(src))); err != nil {
		return fmt.Errorf("quarantine spill file for %s: %w", recordID, err)
	}
	return nil
}

// Remove deletes the spill file for recordID. Removing an already-gone
// file is not an error; drains race only against themselves.
func (s *Store) Remove(recordID string) error {
	if err := os.Remove(s.path(recordID)); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("remove spill file for %s: %w", recordID, err)
	}
	return nil
}

func (s *Store) path(recordID string) string {
	// Record ids can come from external sources; keep them filesystem-safe.
	safe := strings.Map(func(r rune) rune {
		switch r {
		case '/', '\\', ':', '*', '?', '"', '<', '>', '|':
			return '_'
		}
		return r
	}, recordID)
	return filepath.Join(s.dir, filePrefix+safe+fileSuffix)
}
