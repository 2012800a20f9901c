package storage

import (
	"fmt"
	"os"
	"path/filepath"

	"distdetect/internal/logger"
	"distdetect/internal/model"
	"distdetect/internal/repository"
)

// HistoryDirectory is the subdirectory of the output directory holding one
// rendered image per run.
const HistoryDirectory = "runs"

// Renderer draws aggregated detections onto the source image.
type Renderer interface {
	Render(imagePath, name string, result model.AggregatedResult) (string, error)
}

// RunStore renders finished runs and records them in the run history.
type RunStore struct {
	outputDir     string
	renderer      Renderer
	logger        *logger.Logger
	runRepo       repository.RunRepository
	detectionRepo repository.DetectionRepository
}

// NewRunStore creates a store. renderer and the repositories may be nil, in
// which case the corresponding step is skipped.
func NewRunStore(outputDir string, renderer Renderer, logger *logger.Logger, runRepo repository.RunRepository, detectionRepo repository.DetectionRepository) *RunStore {
	return &RunStore{
		outputDir:     outputDir,
		renderer:      renderer,
		logger:        logger,
		runRepo:       runRepo,
		detectionRepo: detectionRepo,
	}
}

// Save renders the aggregated result, keeps a per-run copy of the rendered
// image and writes the run and its detections to the database. run.OutputPath
// is set to the rendered image.
func (s *RunStore) Save(run *model.Run, result model.AggregatedResult) error {
	if s.renderer != nil {
		rendered, err := s.renderer.Render(run.ImagePath, "", result)
		if err != nil {
			s.logger.Error("Error rendering run %s: %v", run.ID, err)
		} else {
			run.OutputPath = rendered
			if kept, err := s.keepCopy(run.ID, rendered); err != nil {
				s.logger.Warning("Could not keep a copy of run %s: %v", run.ID, err)
			} else {
				run.OutputPath = kept
			}
		}
	}

	if s.runRepo == nil {
		return nil
	}

	if err := s.runRepo.Insert(run); err != nil {
		return fmt.Errorf("saving run %s: %w", run.ID, err)
	}

	if s.detectionRepo != nil {
		if err := s.detectionRepo.InsertBatch(Records(run.ID, result)); err != nil {
			return fmt.Errorf("saving detections of run %s: %w", run.ID, err)
		}
	}

	s.logger.Info("Stored run %s (%d detection(s))", run.ID, result.Total())
	return nil
}

// HistoryPath returns where the rendered image of a run is kept.
func (s *RunStore) HistoryPath(runID string) string {
	return filepath.Join(s.outputDir, HistoryDirectory, runID+".jpg")
}

func (s *RunStore) keepCopy(runID, rendered string) (string, error) {
	data, err := os.ReadFile(rendered)
	if err != nil {
		return "", err
	}

	path := s.HistoryPath(runID)
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return "", fmt.Errorf("error creating directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return "", err
	}
	return path, nil
}

// Records flattens an aggregated result into database rows.
func Records(runID string, result model.AggregatedResult) []model.DetectionRecord {
	records := make([]model.DetectionRecord, 0, result.Total())
	for _, class := range result.Classes() {
		for _, d := range result[class] {
			records = append(records, model.DetectionRecord{
				RunID:      runID,
				ClassID:    class,
				ClassName:  class.String(),
				X1:         d.Box.X1,
				Y1:         d.Box.Y1,
				X2:         d.Box.X2,
				Y2:         d.Box.Y2,
				Confidence: d.Confidence,
			})
		}
	}
	return records
}
