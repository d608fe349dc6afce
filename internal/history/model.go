package history

import "time"

// Status of an upload attempt.
const (
	StatusUploaded = "uploaded"
	StatusFailed   = "failed"
)

// Record is one upload attempt. The ledger is informational; markers on
// disk remain the source of truth for what has been uploaded.
type Record struct {
	ID        string    `json:"id"`
	PassID    string    `json:"pass_id,omitempty"`
	Path      string    `json:"path"`
	Permalink string    `json:"permalink,omitempty"`
	Target    string    `json:"target,omitempty"`
	Boss      string    `json:"boss,omitempty"`
	Status    string    `json:"status"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Pass is the stored summary of one harvest pass.
type Pass struct {
	ID          string    `json:"id"`
	StartedAt   time.Time `json:"started_at"`
	CompletedAt time.Time `json:"completed_at"`
	Discovered  int       `json:"discovered"`
	Uploaded    int       `json:"uploaded"`
	Failed      int       `json:"failed"`
	Skipped     int       `json:"skipped"`
	Canceled    bool      `json:"canceled"`
}
