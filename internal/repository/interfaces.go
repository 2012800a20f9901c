package repository

import (
	"distdetect/internal/dto"
	"distdetect/internal/model"
)

// RunRepository defines the interface for run history operations.
type RunRepository interface {
	// Create operations
	Insert(run *model.Run) error

	// Read operations
	GetByID(id string) (*model.Run, error)
	GetAll(filter *dto.RunFilter) ([]model.Run, error)
	GetTotalCount(filter *dto.RunFilter) (int, error)

	// Delete operations
	Delete(id string) error
	DeleteAll() error
}

// DetectionRepository defines the interface for stored detection operations.
type DetectionRepository interface {
	// Create operations
	InsertBatch(detections []model.DetectionRecord) error

	// Read operations
	GetByRunID(runID string) ([]model.DetectionRecord, error)
	CountByRunID(runID string) (map[model.ClassID]int, error)

	// Delete operations
	DeleteByRunID(runID string) error
}
