package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/mschirtzinger/prodcal/internal/task"
)

// ExportFile writes the stored dataset to path as indented JSON, suitable
// for backups. Returns ErrNotFound when there is nothing to export.
func (s *Store) ExportFile(path string) error {
	raw, err := s.Get(DataKey)
	if err != nil {
		return err
	}

	var pretty bytes.Buffer
	if err := json.Indent(&pretty, []byte(raw), "", "  "); err != nil {
		return fmt.Errorf("%w: %v", ErrCorruptData, err)
	}
	pretty.WriteByte('\n')

	if err := os.WriteFile(path, pretty.Bytes(), 0o644); err != nil {
		return fmt.Errorf("failed to write export file: %w", err)
	}
	return nil
}

// ImportFile reads a dataset backup from path, sanitizes it, and replaces
// the stored dataset with it.
func (s *Store) ImportFile(path string) (*task.Dataset, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read import file: %w", err)
	}

	ds, err := task.Decode(data, s.now())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCorruptData, err)
	}

	if err := s.SaveDataset(ds); err != nil {
		return nil, err
	}
	return ds, nil
}
