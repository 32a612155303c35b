package query

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/healpix"
	"github.com/pilosa/lcdk/store"
	"github.com/pkg/errors"
)

// Main holds the config for the query commands.
type Main struct {
	Store     string
	Container string
	Parent    string
	Nside     int
	Expand    float64

	RA       float64
	Dec      float64
	Radius   float64
	SourceID int64
	// TimeStart and TimeEnd bound ts in epoch milliseconds. Zero leaves the
	// bound open.
	TimeStart int64
	TimeEnd   int64
	Limit     int

	// Input is the ra,dec,radius file of a batch search.
	Input string
	// Output is a CSV file for cone and time queries, and a directory for
	// batch searches. Empty prints a preview instead.
	Output  string
	Show    int
	Verbose bool

	log lcdk.Logger
}

// NewMain returns a Main with default settings.
func NewMain() *Main {
	return &Main{
		Store:     "sqlite://./data",
		Container: "gaiadr2_lc",
		Parent:    lcdk.DefaultParent,
		Nside:     healpix.DefaultNside,
		Expand:    healpix.DefaultExpand,
		SourceID:  -1,
		Radius:    -1,
		Show:      10,
	}
}

func (m *Main) timeRange() *TimeRange {
	if m.TimeStart == 0 && m.TimeEnd == 0 {
		return nil
	}
	tr := &TimeRange{}
	if m.TimeStart != 0 {
		tr.From = &m.TimeStart
	}
	if m.TimeEnd != 0 {
		tr.To = &m.TimeEnd
	}
	return tr
}

func (m *Main) open(ctx context.Context) (*Engine, func(), error) {
	log, err := lcdk.OpenLogger("", m.Verbose, false)
	if err != nil {
		return nil, nil, errors.Wrap(err, "setting up logger")
	}
	m.log = log
	pix, err := healpix.New(m.Nside)
	if err != nil {
		return nil, nil, errors.Wrap(err, "setting up pixelizer")
	}
	st, err := store.Open(m.Store)
	if err != nil {
		return nil, nil, errors.Wrap(err, "opening store")
	}
	conn, err := st.Connect(ctx, m.Container)
	if err != nil {
		st.Close()
		return nil, nil, errors.Wrap(err, "connecting")
	}
	e := NewEngine(conn, pix, m.Parent)
	e.Expand = m.Expand
	e.Log = log
	return e, func() {
		conn.Close()
		st.Close()
	}, nil
}

// RunCone runs a single cone search.
func (m *Main) RunCone(ctx context.Context, w io.Writer) error {
	if m.Radius <= 0 {
		return errors.New("cone search requires --ra, --dec and a positive --radius")
	}
	e, done, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer done()
	res, err := e.ConeSearch(ctx, Cone{RA: m.RA, Dec: m.Dec, Radius: m.Radius, Time: m.timeRange(), Limit: m.Limit})
	if err != nil {
		return err
	}
	return m.output(w, res)
}

// RunTime runs a single object time range query.
func (m *Main) RunTime(ctx context.Context, w io.Writer) error {
	if m.SourceID < 0 {
		return errors.New("time query requires --source-id")
	}
	e, done, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer done()
	res, err := e.TimeRange(ctx, ObjectQuery{SourceID: m.SourceID, Time: m.timeRange(), Limit: m.Limit})
	if err != nil {
		return err
	}
	return m.output(w, res)
}

// RunBatch runs every cone of the input file.
func (m *Main) RunBatch(ctx context.Context, w io.Writer) error {
	if m.Input == "" {
		return errors.New("batch search requires --input")
	}
	f, err := os.Open(m.Input)
	if err != nil {
		return errors.Wrap(err, "opening input")
	}
	cones, skipped, err := ParseCones(f)
	f.Close()
	if err != nil {
		return err
	}
	for i := range cones {
		cones[i].Time = m.timeRange()
		cones[i].Limit = m.Limit
	}
	e, done, err := m.open(ctx)
	if err != nil {
		return err
	}
	defer done()
	if skipped > 0 {
		m.log.Printf("skipped %d invalid input lines", skipped)
	}
	res, err := e.BatchConeSearch(ctx, cones)
	if err != nil {
		return err
	}
	for i, r := range res.Results {
		fmt.Fprintf(w, "query %d: %d results (%d fetched, %d pixels)\n", i, r.Stats.Retained, r.Stats.Fetched, r.Stats.Pixels)
	}
	fmt.Fprintf(w, "%d queries, %d results in %v\n", res.Stats.Queries, res.Stats.Retained, res.Stats.Elapsed)
	if m.Output != "" {
		return WriteBatch(m.Output, res)
	}
	return nil
}

func (m *Main) output(w io.Writer, res *Result) error {
	s := res.Stats
	fmt.Fprintf(w, "%s: %d results, %d fetched, %d pixels, query %.2fms, fetch %.2fms\n",
		s.Type, s.Retained, s.Fetched, s.Pixels, s.QueryTime.Seconds()*1000, s.FetchTime.Seconds()*1000)
	if m.Output != "" {
		if err := WriteCSVFile(m.Output, res.Rows); err != nil {
			return err
		}
		fmt.Fprintf(w, "exported %d rows to %s\n", len(res.Rows), m.Output)
		return nil
	}
	n := len(res.Rows)
	if n > m.Show {
		n = m.Show
	}
	return WriteCSV(w, res.Rows[:n])
}
