package ingest

import (
	"context"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/catalog"
	"golang.org/x/sync/errgroup"
)

// DefaultBatchSize is the number of rows sent per insert.
const DefaultBatchSize = 10000

// Checkpointer remembers which child tables were written in full.
type Checkpointer interface {
	Done(table string) bool
	MarkDone(table string, rows uint64) error
}

// Writer writes the observations of a set of sources with a pool of
// workers. Each worker owns one connection and one prepared statement for
// its whole life and writes its shard one source at a time.
type Writer struct {
	Store     lcdk.Store
	Container string
	Parent    string
	Workers   int
	BatchSize int
	Policy    ShardPolicy

	Counters   *Counters
	Log        lcdk.Logger
	Stats      lcdk.Statter
	Checkpoint Checkpointer

	// Layout and Epoch are used for sources whose observations are read from
	// their light curve file.
	Layout catalog.Layout
	Epoch  catalog.Epoch
}

// Run writes entries and returns when every worker has finished. Failures
// of single batches, or of a worker's connection, are logged and counted
// rather than returned. The only error is ctx's, if it is canceled before
// all entries are written.
func (w *Writer) Run(ctx context.Context, entries []*lcdk.Source) error {
	w.defaults()
	eg := errgroup.Group{}
	for i, shard := range Shard(entries, w.Workers, w.Policy) {
		i, shard := i, shard
		if len(shard) == 0 {
			continue
		}
		eg.Go(func() error {
			return w.runWorker(ctx, i, shard)
		})
	}
	return eg.Wait()
}

func (w *Writer) defaults() {
	if w.Workers < 1 {
		w.Workers = 1
	}
	if w.BatchSize < 1 {
		w.BatchSize = DefaultBatchSize
	}
	if w.Parent == "" {
		w.Parent = lcdk.DefaultParent
	}
	if w.Counters == nil {
		w.Counters = &Counters{}
	}
	if w.Log == nil {
		w.Log = lcdk.NopLogger{}
	}
	if w.Stats == nil {
		w.Stats = lcdk.NopStatter{}
	}
	if w.Layout == (catalog.Layout{}) {
		w.Layout = catalog.LightCurveLayout
	}
}

// runWorker is the life of one worker: connect, prepare, write each entry,
// release.
func (w *Writer) runWorker(ctx context.Context, id int, shard []*lcdk.Source) error {
	conn, err := w.Store.Connect(ctx, w.Container)
	if err != nil {
		w.Log.Printf("worker %d: connecting: %v", id, err)
		add(&w.Counters.ConnectFailures, 1)
		return nil
	}
	defer conn.Close()

	stmt, err := conn.PrepareInsert(ctx, w.Parent)
	if err != nil {
		w.Log.Printf("worker %d: preparing insert: %v", id, err)
		add(&w.Counters.ConnectFailures, 1)
		return nil
	}
	defer stmt.Close()

	batch := lcdk.NewColumnBatch(w.BatchSize)
	for _, src := range shard {
		if err := ctx.Err(); err != nil {
			return err
		}
		w.writeEntry(ctx, id, stmt, batch, src)
		add(&w.Counters.Processed, 1)
	}
	w.Log.Debugf("worker %d: finished %d entries", id, len(shard))
	return nil
}

// writeEntry writes all observations of src. It never fails as a whole;
// every problem is logged and counted.
func (w *Writer) writeEntry(ctx context.Context, id int, stmt lcdk.InsertStmt, batch *lcdk.ColumnBatch, src *lcdk.Source) {
	table := src.TableName(w.Parent)
	if w.Checkpoint != nil && w.Checkpoint.Done(table) {
		add(&w.Counters.Resumed, 1)
		return
	}

	obs := src.Observations
	if src.File != nil {
		var ok bool
		if obs, ok = w.readFile(id, src); !ok {
			return
		}
	}
	if len(obs) == 0 {
		return
	}

	if err := stmt.SetTable(ctx, table); err != nil {
		w.Log.Printf("worker %d: setting table %s: %v", id, table, err)
		add(&w.Counters.BindFailures, 1)
		return
	}

	var written int64
	failed := false
	for start := 0; start < len(obs); start += w.BatchSize {
		end := start + w.BatchSize
		if end > len(obs) {
			end = len(obs)
		}
		batch.Reset()
		for _, o := range obs[start:end] {
			batch.Append(o)
		}
		if err := stmt.BindBatch(batch); err != nil {
			w.Log.Printf("worker %d: binding rows %d-%d of %s: %v", id, start, end-1, table, err)
			add(&w.Counters.BindFailures, 1)
			failed = true
			continue
		}
		if err := stmt.AddBatch(); err != nil {
			w.Log.Printf("worker %d: adding rows %d-%d of %s: %v", id, start, end-1, table, err)
			add(&w.Counters.BindFailures, 1)
			failed = true
			continue
		}
		n, err := stmt.Execute(ctx)
		if err != nil {
			w.Log.Printf("worker %d: executing rows %d-%d of %s: %v", id, start, end-1, table, err)
			add(&w.Counters.ExecFailures, 1)
			w.Stats.Count("batches.failed", 1, 1)
			failed = true
			continue
		}
		written += n
		add(&w.Counters.Inserted, n)
		w.Stats.Count("rows.inserted", n, 1)
	}

	if !failed && w.Checkpoint != nil {
		if err := w.Checkpoint.MarkDone(table, uint64(written)); err != nil {
			w.Log.Printf("worker %d: checkpointing %s: %v", id, table, err)
		}
	}
}

func (w *Writer) readFile(id int, src *lcdk.Source) ([]lcdk.Observation, bool) {
	rc, err := src.File.Open()
	if err != nil {
		w.Log.Printf("worker %d: opening %s: %v", id, src.File, err)
		add(&w.Counters.ReadFailures, 1)
		return nil, false
	}
	defer rc.Close()
	obs, skipped, err := catalog.ReadLightCurve(rc, w.Layout, w.Epoch)
	add(&w.Counters.ParseSkips, int64(skipped))
	if err != nil {
		w.Log.Printf("worker %d: reading %s: %v", id, src.File, err)
		add(&w.Counters.ReadFailures, 1)
		return nil, false
	}
	return obs, true
}
