package sqlite

import (
	"fmt"

	"distdetect/internal/model"
)

// DetectionRepository implements repository.DetectionRepository for SQLite.
type DetectionRepository struct {
	db *DB
}

// NewDetectionRepository creates a new SQLite detection repository.
func NewDetectionRepository(db *DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

// InsertBatch adds multiple detections in a single transaction.
func (r *DetectionRepository) InsertBatch(detections []model.DetectionRecord) error {
	if len(detections) == 0 {
		return nil
	}

	r.db.Lock()
	defer r.db.Unlock()

	tx, err := r.db.Conn().Begin()
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.Prepare(`
		INSERT INTO detections (run_id, class_id, class_name, x1, y1, x2, y2, confidence)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("failed to prepare statement: %w", err)
	}
	defer stmt.Close()

	for _, det := range detections {
		if _, err := stmt.Exec(det.RunID, uint32(det.ClassID), det.ClassName, det.X1, det.Y1, det.X2, det.Y2, det.Confidence); err != nil {
			return fmt.Errorf("failed to insert detection: %w", err)
		}
	}

	return tx.Commit()
}

// GetByRunID retrieves all detections of a run ordered by class.
func (r *DetectionRepository) GetByRunID(runID string) ([]model.DetectionRecord, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT id, run_id, class_id, class_name, x1, y1, x2, y2, confidence
		FROM detections WHERE run_id = ? ORDER BY class_id, id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to query detections: %w", err)
	}
	defer rows.Close()

	var detections []model.DetectionRecord
	for rows.Next() {
		var det model.DetectionRecord
		var classID uint32
		if err := rows.Scan(&det.ID, &det.RunID, &classID, &det.ClassName, &det.X1, &det.Y1, &det.X2, &det.Y2, &det.Confidence); err != nil {
			return nil, fmt.Errorf("failed to scan detection: %w", err)
		}
		det.ClassID = model.ClassID(classID)
		detections = append(detections, det)
	}

	return detections, rows.Err()
}

// CountByRunID returns the number of detections per class for a run.
func (r *DetectionRepository) CountByRunID(runID string) (map[model.ClassID]int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	rows, err := r.db.Conn().Query(`
		SELECT class_id, COUNT(*) FROM detections WHERE run_id = ? GROUP BY class_id
	`, runID)
	if err != nil {
		return nil, fmt.Errorf("failed to count detections: %w", err)
	}
	defer rows.Close()

	counts := make(map[model.ClassID]int)
	for rows.Next() {
		var classID uint32
		var count int
		if err := rows.Scan(&classID, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[model.ClassID(classID)] = count
	}
	return counts, rows.Err()
}

// DeleteByRunID removes all detections for a specific run.
func (r *DetectionRepository) DeleteByRunID(runID string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE run_id = ?`, runID); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}
	return nil
}
