package ingest

import (
	"sync/atomic"

	"github.com/pilosa/lcdk/progress"
)

// Counters are the shared run statistics. Every field is updated with
// atomic operations so workers, the table creation phase and the progress
// monitor can all touch them without locks.
type Counters struct {
	Processed          int64
	Total              int64
	Inserted           int64
	TablesCreated      int64
	BindFailures       int64
	ExecFailures       int64
	TableBatchFailures int64
	ConnectFailures    int64
	ReadFailures       int64
	ParseSkips         int64
	Resumed            int64
}

// Totals is a plain copy of Counters.
type Totals struct {
	Processed          int64
	Total              int64
	Inserted           int64
	TablesCreated      int64
	BindFailures       int64
	ExecFailures       int64
	TableBatchFailures int64
	ConnectFailures    int64
	ReadFailures       int64
	ParseSkips         int64
	Resumed            int64
}

// Load reads every counter.
func (c *Counters) Load() Totals {
	return Totals{
		Processed:          atomic.LoadInt64(&c.Processed),
		Total:              atomic.LoadInt64(&c.Total),
		Inserted:           atomic.LoadInt64(&c.Inserted),
		TablesCreated:      atomic.LoadInt64(&c.TablesCreated),
		BindFailures:       atomic.LoadInt64(&c.BindFailures),
		ExecFailures:       atomic.LoadInt64(&c.ExecFailures),
		TableBatchFailures: atomic.LoadInt64(&c.TableBatchFailures),
		ConnectFailures:    atomic.LoadInt64(&c.ConnectFailures),
		ReadFailures:       atomic.LoadInt64(&c.ReadFailures),
		ParseSkips:         atomic.LoadInt64(&c.ParseSkips),
		Resumed:            atomic.LoadInt64(&c.Resumed),
	}
}

// Counts implements progress.Counter.
func (c *Counters) Counts() progress.Counts {
	return progress.Counts{
		Processed:     atomic.LoadInt64(&c.Processed),
		Total:         atomic.LoadInt64(&c.Total),
		Inserted:      atomic.LoadInt64(&c.Inserted),
		TablesCreated: atomic.LoadInt64(&c.TablesCreated),
	}
}

func add(field *int64, n int64) {
	atomic.AddInt64(field, n)
}
