package harvest

import "time"

// PassResult summarizes one scan-and-upload pass.
type PassResult struct {
	ID          string     `json:"id"`
	StartedAt   time.Time  `json:"started_at"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	Discovered  int        `json:"discovered"`
	Uploaded    int        `json:"uploaded"`
	Failed      int        `json:"failed"`
	Skipped     int        `json:"skipped"` // walk entries that could not be read
	Canceled    bool       `json:"canceled"`
}
