// Package aggregator merges per-session detections into one result set.
package aggregator

import "distdetect/internal/model"

// Merge builds the aggregated result from the sessions that completed.
// Every expected class is present, with an empty list when nobody reported it.
// Nil entries stand for failed or declined sessions and are skipped. When two
// sessions report the same class their lists are concatenated in session order.
func Merge(expected []model.ClassID, results []*model.SessionResult) model.AggregatedResult {
	agg := make(model.AggregatedResult, len(expected))
	for _, c := range expected {
		agg[c] = []model.Detection{}
	}

	for _, res := range results {
		if res == nil {
			continue
		}
		for _, class := range model.AggregatedResult(res.Detections).Classes() {
			if _, ok := agg[class]; !ok {
				agg[class] = []model.Detection{}
			}
			agg[class] = append(agg[class], res.Detections[class]...)
		}
	}
	return agg
}

// Summary holds per-class detection counts for logging and storage.
type Summary struct {
	Class model.ClassID
	Count int
}

// Summarize returns the detection count of each class in ascending class order.
func Summarize(agg model.AggregatedResult) []Summary {
	classes := agg.Classes()
	out := make([]Summary, 0, len(classes))
	for _, c := range classes {
		out = append(out, Summary{Class: c, Count: len(agg[c])})
	}
	return out
}
