package dto

import (
	"encoding/json"
	"time"

	"distdetect/internal/model"
)

// RunInfo is one entry of the run history listing.
type RunInfo struct {
	ID             string         `json:"id"`
	Mode           string         `json:"mode"`
	StartedAt      time.Time      `json:"startedAt"`
	Duration       time.Duration  `json:"duration"`
	SessionsTotal  int            `json:"sessionsTotal"`
	SessionsFailed int            `json:"sessionsFailed"`
	Counts         map[string]int `json:"counts"` // detections per class name
}

// MarshalJSON formats the start time and duration for display.
func (r RunInfo) MarshalJSON() ([]byte, error) {
	type Alias RunInfo
	return json.Marshal(&struct {
		StartedAt string `json:"startedAt"`
		Duration  string `json:"duration"`
		Alias
	}{
		StartedAt: r.StartedAt.Format("02-01-2006 15:04:05"),
		Duration:  r.Duration.Round(time.Millisecond).String(),
		Alias:     (Alias)(r),
	})
}

// RunsData is the response of the run history endpoint.
type RunsData struct {
	Runs        []RunInfo `json:"runs"`
	Length      int       `json:"length"`
	TotalPages  int       `json:"totalPages"`
	CurrentPage int       `json:"currentPage"`
	Limit       int       `json:"limit"`
}

// RunDetail is a run together with every detection it produced.
type RunDetail struct {
	Run        model.Run                          `json:"run"`
	Detections map[string][]model.DetectionRecord `json:"detections"`
}
