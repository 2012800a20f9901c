package model

import "time"

// Run represents a stored coordinator run.
type Run struct {
	ID             string    `json:"id"`
	Mode           string    `json:"mode"`
	ImagePath      string    `json:"image_path"`
	OutputPath     string    `json:"output_path"`
	StartedAt      time.Time `json:"started_at"`
	FinishedAt     time.Time `json:"finished_at"`
	SessionsTotal  int       `json:"sessions_total"`
	SessionsFailed int       `json:"sessions_failed"`
}

// DetectionRecord is a detection row belonging to a stored run.
type DetectionRecord struct {
	ID         int64   `json:"id"`
	RunID      string  `json:"run_id"`
	ClassID    ClassID `json:"class_id"`
	ClassName  string  `json:"class_name"`
	X1         float64 `json:"x1"`
	Y1         float64 `json:"y1"`
	X2         float64 `json:"x2"`
	Y2         float64 `json:"y2"`
	Confidence float64 `json:"confidence"`
}
