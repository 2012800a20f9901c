// RunFilter describes user-provided filters to narrow the run history.
package dto

import "time"

type RunFilter struct {
	Mode   string
	Class  string
	After  time.Time
	Before time.Time
	Limit  int
	Offset int
}
