package sqlite

import (
	"database/sql"
	"fmt"

	"distdetect/internal/dto"
	"distdetect/internal/model"
)

// RunRepository implements repository.RunRepository for SQLite.
type RunRepository struct {
	db *DB
}

// NewRunRepository creates a new SQLite run repository.
func NewRunRepository(db *DB) *RunRepository {
	return &RunRepository{db: db}
}

// Insert adds a new run record to the database.
func (r *RunRepository) Insert(run *model.Run) error {
	r.db.Lock()
	defer r.db.Unlock()

	_, err := r.db.Conn().Exec(`
		INSERT INTO runs (id, mode, image_path, output_path, started_at, finished_at, sessions_total, sessions_failed)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`, run.ID, run.Mode, run.ImagePath, run.OutputPath, run.StartedAt, run.FinishedAt, run.SessionsTotal, run.SessionsFailed)
	if err != nil {
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// GetByID retrieves a run by its ID. A missing run yields nil, nil.
func (r *RunRepository) GetByID(id string) (*model.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	var run model.Run
	err := r.db.Conn().QueryRow(`
		SELECT id, mode, image_path, output_path, started_at, finished_at, sessions_total, sessions_failed
		FROM runs WHERE id = ?
	`, id).Scan(&run.ID, &run.Mode, &run.ImagePath, &run.OutputPath, &run.StartedAt, &run.FinishedAt, &run.SessionsTotal, &run.SessionsFailed)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return &run, nil
}

// filterClause builds the WHERE part shared by GetAll and GetTotalCount.
func filterClause(filter *dto.RunFilter) (string, []interface{}) {
	query := " WHERE 1=1"
	args := []interface{}{}
	if filter == nil {
		return query, args
	}

	if filter.Mode != "" {
		query += " AND r.mode = ?"
		args = append(args, filter.Mode)
	}

	if filter.Class != "" {
		query += " AND EXISTS (SELECT 1 FROM detections d WHERE d.run_id = r.id AND d.class_name = ?)"
		args = append(args, filter.Class)
	}

	if !filter.After.IsZero() {
		query += " AND r.started_at >= ?"
		args = append(args, filter.After)
	}

	if !filter.Before.IsZero() {
		query += " AND r.started_at <= ?"
		args = append(args, filter.Before)
	}

	return query, args
}

// GetAll retrieves runs matching the filter, newest first.
func (r *RunRepository) GetAll(filter *dto.RunFilter) ([]model.Run, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)
	query := `
		SELECT r.id, r.mode, r.image_path, r.output_path, r.started_at, r.finished_at, r.sessions_total, r.sessions_failed
		FROM runs r` + where + " ORDER BY r.started_at DESC"

	if filter != nil && filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)

		if filter.Offset > 0 {
			query += " OFFSET ?"
			args = append(args, filter.Offset)
		}
	}

	rows, err := r.db.Conn().Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []model.Run
	for rows.Next() {
		var run model.Run
		if err := rows.Scan(&run.ID, &run.Mode, &run.ImagePath, &run.OutputPath, &run.StartedAt, &run.FinishedAt, &run.SessionsTotal, &run.SessionsFailed); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		runs = append(runs, run)
	}

	return runs, rows.Err()
}

// GetTotalCount returns the number of runs matching the filter.
func (r *RunRepository) GetTotalCount(filter *dto.RunFilter) (int, error) {
	r.db.RLock()
	defer r.db.RUnlock()

	where, args := filterClause(filter)

	var count int
	if err := r.db.Conn().QueryRow(`SELECT COUNT(*) FROM runs r`+where, args...).Scan(&count); err != nil {
		return 0, fmt.Errorf("failed to count runs: %w", err)
	}
	return count, nil
}

// Delete removes a run and its detections.
func (r *RunRepository) Delete(id string) error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections WHERE run_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM runs WHERE id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	return nil
}

// DeleteAll removes all runs and their detections.
func (r *RunRepository) DeleteAll() error {
	r.db.Lock()
	defer r.db.Unlock()

	if _, err := r.db.Conn().Exec(`DELETE FROM detections`); err != nil {
		return fmt.Errorf("failed to delete detections: %w", err)
	}

	if _, err := r.db.Conn().Exec(`DELETE FROM runs`); err != nil {
		return fmt.Errorf("failed to delete runs: %w", err)
	}

	return nil
}
