package scanner

import "time"

// Artifact is a combat log discovered under the log directory. Its identity
// is the absolute path.
type Artifact struct {
	Path      string    `json:"path"`
	Size      int64     `json:"size"`
	ModTime   time.Time `json:"mod_time"`
	ReadOnly  bool      `json:"read_only"`
	Processed bool      `json:"processed"`
}

// Candidate reports whether the artifact should be uploaded.
func (a Artifact) Candidate() bool {
	return !a.ReadOnly && !a.Processed
}
