package storage

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/repository/sqlite"
)

type fileRenderer struct {
	dir string
	err error
}

func (r *fileRenderer) Render(imagePath, name string, result model.AggregatedResult) (string, error) {
	if r.err != nil {
		return "", r.err
	}
	path := filepath.Join(r.dir, "detected_objects_image.jpg")
	return path, os.WriteFile(path, []byte("rendered"), 0644)
}

func testResult() model.AggregatedResult {
	det := func(c model.ClassID) model.Detection {
		return model.Detection{Box: model.Box{X1: 10, Y1: 10, X2: 20, Y2: 20}, Confidence: 0.9, Class: c}
	}
	return model.AggregatedResult{
		model.Person:     {det(model.Person)},
		model.Bicycle:    {},
		model.Car:        {det(model.Car), det(model.Car)},
		model.Motorcycle: {},
	}
}

func setupStore(t *testing.T, renderer Renderer) (*RunStore, *sqlite.DB, string) {
	t.Helper()
	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "runs.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	store := NewRunStore(dir, renderer, logger.Discard(), sqlite.NewRunRepository(db), sqlite.NewDetectionRepository(db))
	return store, db, dir
}

func TestRecords_FlattenInClassOrder(t *testing.T) {
	records := Records("run", testResult())
	if len(records) != 3 {
		t.Fatalf("Expected 3 records, got %d", len(records))
	}
	if records[0].ClassID != model.Person || records[0].ClassName != "Person" {
		t.Errorf("Unexpected first record: %+v", records[0])
	}
	for _, r := range records[1:] {
		if r.ClassID != model.Car || r.RunID != "run" || r.X2 != 20 {
			t.Errorf("Unexpected record: %+v", r)
		}
	}
}

func TestRunStore_SaveRendersAndPersists(t *testing.T) {
	dir := t.TempDir()
	store, db, outDir := setupStore(t, &fileRenderer{dir: dir})

	run := &model.Run{ID: "abc", Mode: "static", ImagePath: "in.jpg", StartedAt: time.Now(), FinishedAt: time.Now(), SessionsTotal: 4}
	if err := store.Save(run, testResult()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	expectedPath := filepath.Join(outDir, HistoryDirectory, "abc.jpg")
	if run.OutputPath != expectedPath {
		t.Errorf("Expected output path %s, got %s", expectedPath, run.OutputPath)
	}
	if data, err := os.ReadFile(expectedPath); err != nil || string(data) != "rendered" {
		t.Errorf("Expected rendered copy, got %q, %v", data, err)
	}

	stored, err := sqlite.NewRunRepository(db).GetByID("abc")
	if err != nil || stored == nil {
		t.Fatalf("Expected stored run, got %+v, %v", stored, err)
	}
	if stored.OutputPath != expectedPath {
		t.Errorf("Stored output path %s, expected %s", stored.OutputPath, expectedPath)
	}

	counts, err := sqlite.NewDetectionRepository(db).CountByRunID("abc")
	if err != nil {
		t.Fatalf("CountByRunID failed: %v", err)
	}
	if counts[model.Car] != 2 || counts[model.Person] != 1 {
		t.Errorf("Unexpected stored counts: %v", counts)
	}
}

func TestRunStore_RenderFailureStillPersists(t *testing.T) {
	store, db, _ := setupStore(t, &fileRenderer{err: errors.New("no opencv")})

	run := &model.Run{ID: "r2", Mode: "dynamic", ImagePath: "in.jpg", StartedAt: time.Now(), FinishedAt: time.Now()}
	if err := store.Save(run, testResult()); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if run.OutputPath != "" {
		t.Errorf("Expected no output path, got %s", run.OutputPath)
	}
	if stored, _ := sqlite.NewRunRepository(db).GetByID("r2"); stored == nil {
		t.Error("Run should be stored even when rendering fails")
	}
}

func TestRunStore_WithoutRepositories(t *testing.T) {
	store := NewRunStore(t.TempDir(), nil, logger.Discard(), nil, nil)
	if err := store.Save(&model.Run{ID: "x"}, testResult()); err != nil {
		t.Errorf("Expected no error, got %v", err)
	}
}
