// Package lastknown persists the last successfully connected device so the
// UI can pre-populate a reconnect suggestion after a restart. The record is
// never treated as proof of an active connection: every restart re-runs the
// full connect/verify protocol.
package lastknown

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sirupsen/logrus"
	"gopkg.in/yaml.v3"
)

// Record is the persisted last-known-device entry
type Record struct {
	Address string `yaml:"address"`
	Name    string `yaml:"name"`
}

// Zero reports whether the record is empty
func (r Record) Zero() bool {
	return r.Address == ""
}

// Store reads and writes the record at a fixed path.
type Store struct {
	path   string
	logger *logrus.Logger
}

// NewStore creates a store. An empty path disables persistence: Load yields
// a zero record and Save is a no-op.
func NewStore(path string, logger *logrus.Logger) *Store {
	if logger == nil {
		logger = logrus.New()
	}
	return &Store{path: path, logger: logger}
}

// Load reads the persisted record. A missing file is not an error; it just
// yields a zero record.
func (s *Store) Load() (Record, error) {
	var rec Record
	if s.path == "" {
		return rec, nil
	}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if os.IsNotExist(err) {
			return rec, nil
		}
		return rec, fmt.Errorf("failed to read %s: %w", s.path, err)
	}
	if err := yaml.Unmarshal(data, &rec); err != nil {
		return Record{}, fmt.Errorf("failed to parse %s: %w", s.path, err)
	}
	return rec, nil
}

// Save writes the record via a temp file and rename so a crash mid-write
// never leaves a truncated record behind.
func (s *Store) Save(rec Record) error {
	if s.path == "" {
		return nil
	}

	data, err := yaml.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to encode record: %w", err)
	}

	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write %s: %w", tmp, err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("failed to replace %s: %w", s.path, err)
	}
	return nil
}

// RecordConnected satisfies the orchestrator's recorder hook
func (s *Store) RecordConnected(address, name string) {
	if err := s.Save(Record{Address: address, Name: name}); err != nil {
		s.logger.WithError(err).Warn("Failed to persist last-known device")
	}
}
