package model

import "time"

// Assignment is the set of classes a worker is responsible for detecting.
// It is kept sorted and free of duplicates.
type Assignment []ClassID

// NewAssignment builds a normalized assignment from arbitrary ids.
func NewAssignment(classes ...ClassID) Assignment {
	seen := make(map[ClassID]bool, len(classes))
	a := make(Assignment, 0, len(classes))
	for _, c := range classes {
		if seen[c] {
			continue
		}
		seen[c] = true
		a = append(a, c)
	}
	sortClasses(a)
	return a
}

// Contains reports whether the class is part of the assignment.
func (a Assignment) Contains(c ClassID) bool {
	for _, v := range a {
		if v == c {
			return true
		}
	}
	return false
}

// SessionResult holds the detections produced by exactly one worker session.
// It must not be mutated once published to the aggregator.
type SessionResult struct {
	SessionID  string
	WorkerAddr string
	Assignment Assignment
	Detections map[ClassID][]Detection
	FinishedAt time.Time
}

// AggregatedResult maps every expected class to the detections reported for it.
type AggregatedResult map[ClassID][]Detection

// Classes returns the keys of the result in ascending order.
func (r AggregatedResult) Classes() []ClassID {
	classes := make([]ClassID, 0, len(r))
	for c := range r {
		classes = append(classes, c)
	}
	sortClasses(classes)
	return classes
}

// Total returns the number of detections across all classes.
func (r AggregatedResult) Total() int {
	n := 0
	for _, dets := range r {
		n += len(dets)
	}
	return n
}
