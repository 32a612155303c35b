package candidates

import (
	"context"
	"encoding/csv"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/progress"
	"github.com/pilosa/lcdk/query"
	"github.com/pkg/errors"
)

// DefaultThreshold is the relative growth in observation count which makes
// a known object a candidate again.
const DefaultThreshold = 0.2

// ReasonNew marks objects missing from the history.
const ReasonNew = "new"

// QueueHeader is the header line of a candidate queue file.
var QueueHeader = []string{"source_id", "data_count", "healpix_id", "ra", "dec", "reason", "timestamp"}

// Candidate is an object queued for classification.
type Candidate struct {
	query.ObjectSummary
	Reason string
}

// Counter reports the current observation count of every object.
// *query.Engine implements it.
type Counter interface {
	ObjectCounts(ctx context.Context) ([]query.ObjectSummary, error)
}

// Reason returns why an object whose count went from old to cur is a
// candidate, if it is one. Growth is only measured against a positive old
// count.
func Reason(old, cur int64, threshold float64) (string, bool) {
	if old <= 0 || cur <= old {
		return "", false
	}
	growth := float64(cur-old) / float64(old)
	if growth < threshold {
		return "", false
	}
	return fmt.Sprintf("growth_%d%%", int(growth*100)), true
}

// Detect compares current counts with history.
func Detect(history map[int64]Record, current []query.ObjectSummary, threshold float64) []Candidate {
	var out []Candidate
	for _, o := range current {
		prev, ok := history[o.SourceID]
		if !ok {
			out = append(out, Candidate{ObjectSummary: o, Reason: ReasonNew})
			continue
		}
		if reason, ok := Reason(prev.Count, o.Count, threshold); ok {
			out = append(out, Candidate{ObjectSummary: o, Reason: reason})
		}
	}
	return out
}

// Report summarizes a detector run.
type Report struct {
	Objects    int
	New        int
	Growth     int
	Candidates []Candidate
}

// Detector runs one detection pass: read counts, compare, append the
// candidates to the queue file and replace the history.
type Detector struct {
	Counts    Counter
	History   *History
	Threshold float64
	// Queue is the path of the candidate queue CSV. It is appended to.
	Queue string
	Sink  progress.Sink
	Log   lcdk.Logger
	// Now defaults to time.Now.
	Now func() time.Time
}

func (d *Detector) note(pct int, msg string, status progress.Status, n int) {
	if d.Sink == nil {
		return
	}
	s := progress.Message(status, pct, msg)
	s.Candidates = n
	if err := d.Sink.Write(s); err != nil {
		d.Log.Printf("writing progress: %v", err)
	}
}

// Run performs the detection pass.
func (d *Detector) Run(ctx context.Context) (rep *Report, err error) {
	if d.Log == nil {
		d.Log = lcdk.NopLogger{}
	}
	if d.Now == nil {
		d.Now = time.Now
	}
	if d.Threshold == 0 {
		d.Threshold = DefaultThreshold
	}
	defer func() {
		if err != nil {
			d.note(0, err.Error(), progress.Error, 0)
		}
	}()

	d.note(10, "Loading history records...", progress.Running, 0)
	history, err := d.History.Load()
	if err != nil {
		return nil, err
	}
	if len(history) == 0 {
		d.Log.Printf("no history, treating every object as new")
	} else {
		d.Log.Printf("loaded %d history records", len(history))
	}

	d.note(20, "Querying database...", progress.Running, 0)
	current, err := d.Counts.ObjectCounts(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "counting observations")
	}

	rep = &Report{Objects: len(current), Candidates: Detect(history, current, d.Threshold)}
	for _, c := range rep.Candidates {
		if c.Reason == ReasonNew {
			rep.New++
		} else {
			rep.Growth++
		}
	}
	d.Log.Printf("%d objects: %d new, %d grown past %g%%", rep.Objects, rep.New, rep.Growth, d.Threshold*100)

	d.note(80, "Saving results...", progress.Running, len(rep.Candidates))
	if len(rep.Candidates) > 0 {
		if err := AppendQueue(d.Queue, rep.Candidates, d.Now()); err != nil {
			return nil, err
		}
	}

	d.note(90, "Updating history...", progress.Running, len(rep.Candidates))
	records := make([]Record, len(current))
	for i, o := range current {
		records[i] = Record{SourceID: o.SourceID, Count: o.Count, PartitionKey: o.PartitionKey, RA: o.RA, Dec: o.Dec}
	}
	if err := d.History.Replace(records); err != nil {
		return nil, err
	}
	d.note(100, "Complete", progress.Completed, len(rep.Candidates))
	return rep, nil
}

// AppendQueue appends candidates to the queue file at path, writing the
// header first if the file is new or empty.
func AppendQueue(path string, cands []Candidate, now time.Time) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return errors.Wrap(err, "opening candidate queue")
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return errors.Wrap(err, "stat candidate queue")
	}
	w := csv.NewWriter(f)
	if st.Size() == 0 {
		w.Write(QueueHeader)
	}
	ts := strconv.FormatInt(now.Unix(), 10)
	for _, c := range cands {
		w.Write([]string{
			strconv.FormatInt(c.SourceID, 10),
			strconv.FormatInt(c.Count, 10),
			strconv.FormatInt(c.PartitionKey, 10),
			strconv.FormatFloat(c.RA, 'f', 6, 64),
			strconv.FormatFloat(c.Dec, 'f', 6, 64),
			c.Reason,
			ts,
		})
	}
	w.Flush()
	if err := w.Error(); err != nil {
		f.Close()
		return errors.Wrap(err, "writing candidate queue")
	}
	return errors.Wrap(f.Close(), "closing candidate queue")
}
