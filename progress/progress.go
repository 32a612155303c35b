// Package progress reports how far a long running job has got. A Monitor
// samples a job's counters on a fixed interval, writes a JSON Snapshot to a
// Sink for other processes to poll, renders a console progress bar, and
// watches a StopSignal.
package progress

import (
	"fmt"
	"time"
)

// Status of a job as written in snapshots.
type Status string

const (
	Running   Status = "running"
	Completed Status = "completed"
	Stopped   Status = "stopped"
	Error     Status = "error"
	Idle      Status = "idle"
)

// Default locations of the snapshot and stop marker files.
const (
	DefaultFile     = "/tmp/import_progress.json"
	DefaultStopFile = "/tmp/import_stop"
)

// Snapshot is the externally visible state of a job.
type Snapshot struct {
	Percent    int    `json:"percent"`
	Message    string `json:"message"`
	Status     Status `json:"status"`
	Stats      *Stats `json:"stats,omitempty"`
	Candidates int    `json:"candidates,omitempty"`
}

// Stats holds the counters of a snapshot. ElapsedTime is whole seconds
// followed by "s".
type Stats struct {
	ProcessedFiles  int64  `json:"processed_files"`
	TotalFiles      int64  `json:"total_files"`
	InsertedRecords int64  `json:"inserted_records"`
	CreatedTables   int64  `json:"created_tables"`
	ElapsedTime     string `json:"elapsed_time"`
}

// Counts is a point in time reading of a job's counters.
type Counts struct {
	Processed     int64
	Total         int64
	Inserted      int64
	TablesCreated int64
}

// Counter is anything a Monitor can sample.
type Counter interface {
	Counts() Counts
}

// CounterFunc adapts a function to Counter.
type CounterFunc func() Counts

// Counts implements Counter.
func (f CounterFunc) Counts() Counts { return f() }

// Percent returns processed/total as a whole percentage, or 0 when total is
// zero.
func (c Counts) Percent() int {
	if c.Total <= 0 {
		return 0
	}
	return int(float64(c.Processed) / float64(c.Total) * 100)
}

// NewSnapshot builds a snapshot carrying counts.
func NewSnapshot(status Status, message string, c Counts, elapsed time.Duration) Snapshot {
	return Snapshot{
		Percent: c.Percent(),
		Message: message,
		Status:  status,
		Stats: &Stats{
			ProcessedFiles:  c.Processed,
			TotalFiles:      c.Total,
			InsertedRecords: c.Inserted,
			CreatedTables:   c.TablesCreated,
			ElapsedTime:     fmt.Sprintf("%ds", int64(elapsed/time.Second)),
		},
	}
}

// Message returns a snapshot without counters.
func Message(status Status, percent int, message string) Snapshot {
	return Snapshot{Percent: percent, Message: message, Status: status}
}
