package handler

import (
	"encoding/json"
	"net/http"
	"os"
	"strconv"
	"time"

	"distdetect/internal/dto"
	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/repository"

	"github.com/gorilla/mux"
)

// DefaultRunsLimit is the page size of the run history listing.
const DefaultRunsLimit = 20

// GetRunsHandler returns a filtered, paginated run history, newest first.
func GetRunsHandler(logger *logger.Logger, runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		page := atoiDefault(q.Get("page"), 1)
		limit := atoiDefault(q.Get("limit"), DefaultRunsLimit)

		filter := &dto.RunFilter{
			Mode:   q.Get("mode"),
			Class:  q.Get("class"),
			After:  parseDate(q.Get("after")),
			Before: parseDate(q.Get("before")),
			Limit:  limit,
			Offset: (page - 1) * limit,
		}

		runs, err := runRepo.GetAll(filter)
		if err != nil {
			logger.Error("Error querying runs from database: %v", err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		totalCount, err := runRepo.GetTotalCount(filter)
		if err != nil {
			logger.Error("Error counting runs: %v", err)
			totalCount = len(runs)
		}

		infos := make([]dto.RunInfo, 0, len(runs))
		for _, run := range runs {
			counts := map[string]int{}
			if detectionRepo != nil {
				perClass, err := detectionRepo.CountByRunID(run.ID)
				if err != nil {
					logger.Error("Error counting detections for run %s: %v", run.ID, err)
				}
				for class, n := range perClass {
					counts[class.String()] = n
				}
			}

			infos = append(infos, dto.RunInfo{
				ID:             run.ID,
				Mode:           run.Mode,
				StartedAt:      run.StartedAt,
				Duration:       run.FinishedAt.Sub(run.StartedAt),
				SessionsTotal:  run.SessionsTotal,
				SessionsFailed: run.SessionsFailed,
				Counts:         counts,
			})
		}

		writeJSON(w, logger, dto.RunsData{
			Runs:        infos,
			Length:      totalCount,
			TotalPages:  (totalCount + limit - 1) / limit,
			CurrentPage: page,
			Limit:       limit,
		})
	}
}

// GetRunHandler returns one run with its detections grouped by class name.
func GetRunHandler(logger *logger.Logger, runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(w, r, logger, runRepo)
		if !ok {
			return
		}

		detail := dto.RunDetail{Run: *run, Detections: map[string][]model.DetectionRecord{}}
		for _, class := range model.AllClasses() {
			detail.Detections[class.String()] = []model.DetectionRecord{}
		}
		if detectionRepo != nil {
			records, err := detectionRepo.GetByRunID(run.ID)
			if err != nil {
				logger.Error("Error getting detections for run %s: %v", run.ID, err)
				http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				return
			}
			for _, rec := range records {
				detail.Detections[rec.ClassName] = append(detail.Detections[rec.ClassName], rec)
			}
		}

		writeJSON(w, logger, detail)
	}
}

// RunImageHandler serves the rendered image of a run.
func RunImageHandler(logger *logger.Logger, runRepo repository.RunRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(w, r, logger, runRepo)
		if !ok {
			return
		}
		if run.OutputPath == "" {
			http.Error(w, "Run has no rendered image", http.StatusNotFound)
			return
		}
		if _, err := os.Stat(run.OutputPath); os.IsNotExist(err) {
			http.Error(w, "Rendered image not found", http.StatusNotFound)
			return
		}
		http.ServeFile(w, r, run.OutputPath)
	}
}

// DeleteRunHandler removes a run, its detections and its rendered image.
func DeleteRunHandler(logger *logger.Logger, runRepo repository.RunRepository) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		run, ok := lookupRun(w, r, logger, runRepo)
		if !ok {
			return
		}

		if run.OutputPath != "" {
			if err := os.Remove(run.OutputPath); err != nil && !os.IsNotExist(err) {
				logger.Error("Failed to delete file %s: %v", run.OutputPath, err)
			}
		}
		if err := runRepo.Delete(run.ID); err != nil {
			logger.Error("Failed to delete run %s: %v", run.ID, err)
			http.Error(w, "Internal Server Error", http.StatusInternalServerError)
			return
		}

		logger.Info("Deleted run: %s", run.ID)
		writeJSON(w, logger, map[string]string{"status": "deleted", "id": run.ID})
	}
}

func lookupRun(w http.ResponseWriter, r *http.Request, logger *logger.Logger, runRepo repository.RunRepository) (*model.Run, bool) {
	id := mux.Vars(r)["id"]
	run, err := runRepo.GetByID(id)
	if err != nil {
		logger.Error("Error getting run %s: %v", id, err)
		http.Error(w, "Internal Server Error", http.StatusInternalServerError)
		return nil, false
	}
	if run == nil {
		http.Error(w, "Run not found", http.StatusNotFound)
		return nil, false
	}
	return run, true
}

func writeJSON(w http.ResponseWriter, logger *logger.Logger, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Error encoding JSON response: %v", err)
	}
}

// atoiDefault converts string to int or returns a default when conversion fails or value <= 0.
func atoiDefault(s string, def int) int {
	if v, err := strconv.Atoi(s); err == nil && v > 0 {
		return v
	}
	return def
}

// parseDate parses a date string in the format "2006-01-02" from the request (HTML input format).
func parseDate(v string) time.Time {
	if v == "" {
		return time.Time{}
	}
	t, err := time.Parse("2006-01-02", v)
	if err != nil {
		return time.Time{}
	}
	return t
}
