// Package models defines types shared across internal packages.
package models

import "time"

// LocalFile is a file in the local vault as seen at listing time.
type LocalFile struct {
	Path  string `json:"path"`  // vault-relative, slash separated, NFC
	MTime int64  `json:"mtime"` // epoch milliseconds
	Size  int64  `json:"size"`
}

// Name returns the last path segment.
func (f LocalFile) Name() string {
	for i := len(f.Path) - 1; i >= 0; i-- {
		if f.Path[i] == '/' {
			return f.Path[i+1:]
		}
	}

	return f.Path
}

// RemoteListing maps a path relative to the remote root to the remote
// modification time.
type RemoteListing map[string]time.Time

// RunOutcome is the final state of a sync run.
type RunOutcome string

const (
	RunUploaded RunOutcome = "uploaded"
	RunUpToDate RunOutcome = "up_to_date"
	RunFailed   RunOutcome = "failed"
)

// RunRecord summarizes one sync run.
type RunRecord struct {
	ID         string     `json:"id"`
	StartedAt  time.Time  `json:"started_at"`
	FinishedAt time.Time  `json:"finished_at"`
	Planned    int        `json:"planned"`
	Uploaded   int        `json:"uploaded"`
	Failed     int        `json:"failed"`
	Outcome    RunOutcome `json:"outcome"`
	Error      string     `json:"error,omitempty"`
}

// Duration returns how long the run took.
func (r RunRecord) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}
