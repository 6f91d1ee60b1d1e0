package store

import (
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/mschirtzinger/prodcal/internal/task"
)

func testStore(t *testing.T, opts ...Option) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "prodcal.db"), opts...)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestGetSet(t *testing.T) {
	s := testStore(t)

	if _, err := s.Get("missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get(missing) = %v, want ErrNotFound", err)
	}

	if err := s.Set("k", "v1"); err != nil {
		t.Fatalf("Set failed: %v", err)
	}
	got, err := s.Get("k")
	if err != nil || got != "v1" {
		t.Errorf("Get = %q, %v, want v1", got, err)
	}

	// Last writer wins.
	if err := s.Set("k", "v2"); err != nil {
		t.Fatalf("second Set failed: %v", err)
	}
	got, _ = s.Get("k")
	if got != "v2" {
		t.Errorf("Get after overwrite = %q, want v2", got)
	}
}

func TestDelete_Idempotent(t *testing.T) {
	s := testStore(t)
	if err := s.Set("k", "v"); err != nil {
		t.Fatal(err)
	}
	if err := s.Delete("k"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if err := s.Delete("k"); err != nil {
		t.Errorf("second Delete failed: %v", err)
	}
	if _, err := s.Get("k"); !errors.Is(err, ErrNotFound) {
		t.Errorf("Get after delete = %v, want ErrNotFound", err)
	}
}

func TestSet_QuotaExceeded(t *testing.T) {
	s := testStore(t, WithMaxValueBytes(10))

	if err := s.Set("small", "ok"); err != nil {
		t.Fatalf("small value rejected: %v", err)
	}
	err := s.Set("big", strings.Repeat("x", 11))
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Errorf("Set(big) = %v, want ErrQuotaExceeded", err)
	}

	// Previous value intact after a rejected overwrite.
	if err := s.Set("small", strings.Repeat("y", 11)); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("oversized overwrite = %v, want ErrQuotaExceeded", err)
	}
	got, _ := s.Get("small")
	if got != "ok" {
		t.Errorf("value after rejected overwrite = %q, want ok", got)
	}
}

func TestLoadDataset_NotFoundVsCorrupt(t *testing.T) {
	s := testStore(t)

	if _, err := s.LoadDataset(); !errors.Is(err, ErrNotFound) {
		t.Errorf("LoadDataset on empty store = %v, want ErrNotFound", err)
	}

	if err := s.Set(DataKey, "{{{not json"); err != nil {
		t.Fatal(err)
	}
	_, err := s.LoadDataset()
	if !errors.Is(err, ErrCorruptData) {
		t.Errorf("LoadDataset on garbage = %v, want ErrCorruptData", err)
	}
	if errors.Is(err, ErrNotFound) {
		t.Error("corrupt data must not report as not-found")
	}
}

func TestSaveLoadDataset_RoundTrip(t *testing.T) {
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	s := testStore(t, WithClock(func() time.Time { return now }))

	ds := task.NewDataset()
	ds.Add("2024-3-4", task.New(task.KindCheckin, "2024-3-4", now))

	if err := s.SaveDataset(ds); err != nil {
		t.Fatalf("SaveDataset failed: %v", err)
	}

	// SaveDataset stamps the local timestamp without touching tasks.
	if !ds.Meta.LocalTimestamp.Equal(now) {
		t.Errorf("LocalTimestamp = %v, want %v", ds.Meta.LocalTimestamp, now)
	}
	if !ds.Days["2024-3-4"][0].LastModified.Equal(now) {
		t.Error("task LastModified changed by save")
	}

	back, err := s.LoadDataset()
	if err != nil {
		t.Fatalf("LoadDataset failed: %v", err)
	}
	if back.TaskCount() != 1 {
		t.Errorf("TaskCount = %d, want 1", back.TaskCount())
	}
	if !back.Meta.LocalTimestamp.Equal(now) {
		t.Errorf("loaded LocalTimestamp = %v, want %v", back.Meta.LocalTimestamp, now)
	}
}

func TestExportImport(t *testing.T) {
	now := time.Date(2024, 3, 6, 12, 0, 0, 0, time.UTC)
	s := testStore(t, WithClock(func() time.Time { return now }))

	ds := task.NewDataset()
	ds.Add("2024-3-4", task.New(task.KindCheckin, "2024-3-4", now))
	if err := s.SaveDataset(ds); err != nil {
		t.Fatal(err)
	}

	path := filepath.Join(t.TempDir(), "backup.json")
	if err := s.ExportFile(path); err != nil {
		t.Fatalf("ExportFile failed: %v", err)
	}

	// Wipe and re-import.
	if err := s.Delete(DataKey); err != nil {
		t.Fatal(err)
	}
	back, err := s.ImportFile(path)
	if err != nil {
		t.Fatalf("ImportFile failed: %v", err)
	}
	if back.TaskCount() != 1 {
		t.Errorf("imported TaskCount = %d, want 1", back.TaskCount())
	}

	loaded, err := s.LoadDataset()
	if err != nil {
		t.Fatalf("LoadDataset after import failed: %v", err)
	}
	if loaded.TaskCount() != 1 {
		t.Errorf("stored TaskCount = %d, want 1", loaded.TaskCount())
	}
}

func TestExportFile_NothingToExport(t *testing.T) {
	s := testStore(t)
	err := s.ExportFile(filepath.Join(t.TempDir(), "backup.json"))
	if !errors.Is(err, ErrNotFound) {
		t.Errorf("ExportFile = %v, want ErrNotFound", err)
	}
}

func TestOpen_CreatesParentDir(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "dir", "prodcal.db")
	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open failed: %v", err)
	}
	defer s.Close()
	if err := s.Set("k", "v"); err != nil {
		t.Errorf("Set failed: %v", err)
	}
}
