package route

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"distdetect/internal/dto"
	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/repository/sqlite"
)

// ========================================
// Test Setup Helpers
// ========================================

type testEnv struct {
	handler http.Handler
	runs    *sqlite.RunRepository
	logDir  string
	outDir  string
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	dir := t.TempDir()
	db, err := sqlite.New(filepath.Join(dir, "test.db"))
	if err != nil {
		t.Fatalf("Failed to create test database: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	logDir := filepath.Join(dir, "logs")
	log, err := logger.New(logDir, "info")
	if err != nil {
		t.Fatalf("Failed to create logger: %v", err)
	}
	t.Cleanup(func() { log.Close() })

	runs := sqlite.NewRunRepository(db)
	detections := sqlite.NewDetectionRepository(db)

	outDir := filepath.Join(dir, "output")
	os.MkdirAll(outDir, 0755)
	rendered := filepath.Join(outDir, "run-1.jpg")
	os.WriteFile(rendered, []byte("jpeg"), 0644)

	started := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	runs.Insert(&model.Run{ID: "run-1", Mode: "static", ImagePath: "in.jpg", OutputPath: rendered,
		StartedAt: started, FinishedAt: started.Add(time.Second), SessionsTotal: 4})
	runs.Insert(&model.Run{ID: "run-2", Mode: "dynamic", ImagePath: "in.jpg",
		StartedAt: started.Add(time.Hour), FinishedAt: started.Add(time.Hour), SessionsTotal: 2, SessionsFailed: 1})
	detections.InsertBatch([]model.DetectionRecord{
		{RunID: "run-1", ClassID: model.Car, ClassName: "Car", X1: 10, Y1: 10, X2: 20, Y2: 20, Confidence: 0.9},
		{RunID: "run-1", ClassID: model.Car, ClassName: "Car", X1: 30, Y1: 30, X2: 40, Y2: 40, Confidence: 0.8},
	})

	return &testEnv{
		handler: SetupRoutes(log, nil, runs, detections),
		runs:    runs,
		logDir:  logDir,
		outDir:  outDir,
	}
}

func (e *testEnv) do(method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rr := httptest.NewRecorder()
	e.handler.ServeHTTP(rr, req)
	return rr
}

// ========================================
// Run History Tests
// ========================================

func TestGetRuns(t *testing.T) {
	env := setupTestEnv(t)

	rr := env.do(http.MethodGet, "/api/runs")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Expected Content-Type application/json, got %s", ct)
	}

	var data struct {
		Runs []struct {
			ID     string         `json:"id"`
			Counts map[string]int `json:"counts"`
		} `json:"runs"`
		Length int `json:"length"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &data); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if data.Length != 2 || len(data.Runs) != 2 {
		t.Fatalf("Expected 2 runs, got %+v", data)
	}
	if data.Runs[0].ID != "run-2" {
		t.Errorf("Expected newest run first, got %s", data.Runs[0].ID)
	}
	if data.Runs[1].Counts["Car"] != 2 {
		t.Errorf("Expected 2 cars in run-1, got %v", data.Runs[1].Counts)
	}
}

func TestGetRuns_Filters(t *testing.T) {
	env := setupTestEnv(t)

	tests := []struct {
		query    string
		expected int
	}{
		{"?mode=dynamic", 1},
		{"?class=Car", 1},
		{"?class=Person", 0},
		{"?limit=1", 1},
		{"?limit=1&page=3", 0},
	}

	for _, tt := range tests {
		rr := env.do(http.MethodGet, "/api/runs"+tt.query)
		var data struct {
			Runs []json.RawMessage `json:"runs"`
		}
		if err := json.Unmarshal(rr.Body.Bytes(), &data); err != nil {
			t.Fatalf("%s: failed to decode response: %v", tt.query, err)
		}
		if len(data.Runs) != tt.expected {
			t.Errorf("%s: expected %d runs, got %d", tt.query, tt.expected, len(data.Runs))
		}
	}
}

func TestGetRun(t *testing.T) {
	env := setupTestEnv(t)

	rr := env.do(http.MethodGet, "/api/runs/run-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}

	var detail dto.RunDetail
	if err := json.Unmarshal(rr.Body.Bytes(), &detail); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if detail.Run.ID != "run-1" {
		t.Errorf("Expected run-1, got %s", detail.Run.ID)
	}
	if len(detail.Detections["Car"]) != 2 {
		t.Errorf("Expected 2 car detections, got %+v", detail.Detections["Car"])
	}
	if dets, ok := detail.Detections["Person"]; !ok || len(dets) != 0 {
		t.Errorf("Expected empty Person list, got %+v", dets)
	}

	if rr := env.do(http.MethodGet, "/api/runs/missing"); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for missing run, got %d", rr.Code)
	}
}

func TestRunImage(t *testing.T) {
	env := setupTestEnv(t)

	rr := env.do(http.MethodGet, "/api/runs/run-1/image")
	if rr.Code != http.StatusOK || rr.Body.String() != "jpeg" {
		t.Errorf("Expected rendered image, got %d %q", rr.Code, rr.Body.String())
	}

	if rr := env.do(http.MethodGet, "/api/runs/run-2/image"); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for run without image, got %d", rr.Code)
	}
}

func TestDeleteRun(t *testing.T) {
	env := setupTestEnv(t)

	rr := env.do(http.MethodDelete, "/api/runs/run-1")
	if rr.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", rr.Code)
	}
	if run, _ := env.runs.GetByID("run-1"); run != nil {
		t.Error("Run should be deleted")
	}
	if _, err := os.Stat(filepath.Join(env.outDir, "run-1.jpg")); !os.IsNotExist(err) {
		t.Error("Rendered image should be deleted")
	}
}

func TestRunsMethodNotAllowed(t *testing.T) {
	env := setupTestEnv(t)
	if rr := env.do(http.MethodPost, "/api/runs"); rr.Code != http.StatusMethodNotAllowed {
		t.Errorf("Expected 405, got %d", rr.Code)
	}
}

// ========================================
// Log Endpoint Tests
// ========================================

func TestLogs(t *testing.T) {
	env := setupTestEnv(t)
	os.WriteFile(filepath.Join(env.logDir, "warning.log"), []byte("careful\n"), 0644)

	rr := env.do(http.MethodGet, "/logs/warning")
	if rr.Code != http.StatusOK || !strings.Contains(rr.Body.String(), "careful") {
		t.Errorf("Expected warning log content, got %d %q", rr.Code, rr.Body.String())
	}

	if rr := env.do(http.MethodGet, "/logs/verbose"); rr.Code != http.StatusNotFound {
		t.Errorf("Expected 404 for unknown level, got %d", rr.Code)
	}

	if rr := env.do(http.MethodPost, "/logs/warning/clear"); rr.Code != http.StatusNoContent {
		t.Errorf("Expected 204, got %d", rr.Code)
	}
	data, _ := os.ReadFile(filepath.Join(env.logDir, "warning.log"))
	if len(data) != 0 {
		t.Errorf("Expected truncated log, got %q", data)
	}
}
