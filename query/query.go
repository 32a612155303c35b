// Package query runs cone searches and per-object time range queries
// against a light curve parent table.
package query

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/healpix"
	"github.com/pkg/errors"
)

// Query types reported in Stats.
const (
	TypeCone      = "cone_search"
	TypeTimeRange = "time_range"
	TypeObjects   = "objects"
)

// columns is the select list every row query uses. Row scanning depends on
// this order.
var columns = strings.Join([]string{
	lcdk.ColTimestamp, lcdk.TagSourceID, lcdk.TagRA, lcdk.TagDec, lcdk.ColBand, lcdk.TagClass,
	lcdk.ColMag, lcdk.ColMagErr, lcdk.ColFlux, lcdk.ColFluxErr, lcdk.ColJD,
}, ", ")

// Engine queries one parent table through a single connection. An Engine
// is not safe for concurrent use.
type Engine struct {
	Conn   lcdk.Conn
	Pix    *healpix.Pixelizer
	Parent string
	// Expand is the coarse lookup radius factor. Zero means healpix.DefaultExpand.
	Expand float64
	Log    lcdk.Logger
	Stats  lcdk.Statter
}

// NewEngine returns an Engine over parent using conn. The pixelizer must
// have the resolution the data was ingested with.
func NewEngine(conn lcdk.Conn, pix *healpix.Pixelizer, parent string) *Engine {
	e := &Engine{
		Conn:   conn,
		Pix:    pix,
		Parent: parent,
	}
	e.defaults()
	return e
}

func (e *Engine) defaults() {
	if e.Parent == "" {
		e.Parent = lcdk.DefaultParent
	}
	if e.Expand == 0 {
		e.Expand = healpix.DefaultExpand
	}
	if e.Log == nil {
		e.Log = lcdk.NopLogger{}
	}
	if e.Stats == nil {
		e.Stats = lcdk.NopStatter{}
	}
}

// Error is returned by every failed query. No rows accompany it.
type Error struct {
	Op  string
	Err error
}

func (e *Error) Error() string {
	return e.Op + ": " + e.Err.Error()
}

// Cause returns the underlying store error.
func (e *Error) Cause() error { return e.Err }

// Unwrap returns the underlying store error.
func (e *Error) Unwrap() error { return e.Err }

// TimeRange bounds the ts column, in epoch milliseconds. Both bounds are
// inclusive and either may be nil.
type TimeRange struct {
	From *int64
	To   *int64
}

// Between returns a TimeRange with both bounds set.
func Between(from, to int64) *TimeRange {
	return &TimeRange{From: &from, To: &to}
}

// Since returns a TimeRange with only a lower bound.
func Since(from int64) *TimeRange {
	return &TimeRange{From: &from}
}

// Until returns a TimeRange with only an upper bound.
func Until(to int64) *TimeRange {
	return &TimeRange{To: &to}
}

// conditions returns the SQL conditions for t and their arguments.
func (t *TimeRange) conditions() ([]string, []interface{}) {
	if t == nil {
		return nil, nil
	}
	var conds []string
	var args []interface{}
	if t.From != nil {
		conds = append(conds, lcdk.ColTimestamp+" >= ?")
		args = append(args, *t.From)
	}
	if t.To != nil {
		conds = append(conds, lcdk.ColTimestamp+" <= ?")
		args = append(args, *t.To)
	}
	return conds, args
}

func (t *TimeRange) validate() error {
	if t != nil && t.From != nil && t.To != nil && *t.From > *t.To {
		return errors.Errorf("time range start %d is after end %d", *t.From, *t.To)
	}
	return nil
}

// Cone is a cone search request. Radius is in degrees. A Limit of zero
// means no limit; it applies to the coarse fetch, before exact filtering.
type Cone struct {
	RA     float64
	Dec    float64
	Radius float64
	Time   *TimeRange
	Limit  int
}

// ObjectQuery selects the light curve of one object.
type ObjectQuery struct {
	SourceID int64
	Time     *TimeRange
	Limit    int
}

// Row is one observation together with its object's tags.
type Row struct {
	Timestamp int64   `json:"ts"`
	SourceID  int64   `json:"source_id"`
	RA        float64 `json:"ra"`
	Dec       float64 `json:"dec"`
	Band      string  `json:"band"`
	Class     string  `json:"cls"`
	Mag       float64 `json:"mag"`
	MagErr    float64 `json:"mag_error"`
	Flux      float64 `json:"flux"`
	FluxErr   float64 `json:"flux_error"`
	JD        float64 `json:"jd_tcb"`
}

// Stats describes one query. Fetched counts rows returned by the store and
// Retained the rows left after exact filtering. QueryTime covers issuing the
// query, FetchTime reading and filtering its rows.
type Stats struct {
	Type      string
	Pixels    int
	Fetched   int
	Retained  int
	QueryTime time.Duration
	FetchTime time.Duration
}

// Result is the outcome of a successful query.
type Result struct {
	Rows  []Row
	Stats Stats
}

// ConeSearch returns every row whose object lies within c.Radius degrees of
// (c.RA, c.Dec). The center is normalized first.
func (e *Engine) ConeSearch(ctx context.Context, c Cone) (*Result, error) {
	e.defaults()
	if math.IsNaN(c.Radius) || c.Radius <= 0 || c.Radius > 180 {
		return nil, &Error{Op: "cone search", Err: errors.Errorf("invalid radius %v", c.Radius)}
	}
	if err := c.Time.validate(); err != nil {
		return nil, &Error{Op: "cone search", Err: err}
	}
	ra, dec := healpix.NormalizeRA(c.RA), healpix.ClampDec(c.Dec)
	pixels := e.Pix.ExpandedDisc(ra, dec, c.Radius, e.Expand)

	conds := []string{lcdk.TagPartition + " IN (" + joinInts(pixels) + ")"}
	tconds, args := c.Time.conditions()
	conds = append(conds, tconds...)
	q := fmt.Sprintf("SELECT %s FROM %s WHERE %s", columns, e.Parent, strings.Join(conds, " AND "))
	if c.Limit > 0 {
		q += " LIMIT " + strconv.Itoa(c.Limit)
	}
	e.Log.Debugf("cone search (%.6f, %.6f) r=%g: %d pixels", ra, dec, c.Radius, len(pixels))

	res, err := e.run(ctx, q, args, func(r Row) bool {
		return healpix.AngularDistance(ra, dec, r.RA, r.Dec) <= c.Radius
	})
	if err != nil {
		return nil, &Error{Op: "cone search", Err: err}
	}
	res.Stats.Type = TypeCone
	res.Stats.Pixels = len(pixels)
	e.record(res.Stats)
	return res, nil
}

// TimeRange returns the observations of one object in ascending timestamp
// order.
func (e *Engine) TimeRange(ctx context.Context, q ObjectQuery) (*Result, error) {
	e.defaults()
	if err := q.Time.validate(); err != nil {
		return nil, &Error{Op: "time range", Err: err}
	}
	conds := []string{lcdk.TagSourceID + " = ?"}
	args := []interface{}{q.SourceID}
	tconds, targs := q.Time.conditions()
	conds = append(conds, tconds...)
	args = append(args, targs...)
	sql := fmt.Sprintf("SELECT %s FROM %s WHERE %s ORDER BY %s ASC",
		columns, e.Parent, strings.Join(conds, " AND "), lcdk.ColTimestamp)
	if q.Limit > 0 {
		sql += " LIMIT " + strconv.Itoa(q.Limit)
	}

	res, err := e.run(ctx, sql, args, nil)
	if err != nil {
		return nil, &Error{Op: "time range", Err: err}
	}
	res.Stats.Type = TypeTimeRange
	e.record(res.Stats)
	return res, nil
}

// BatchStats aggregates the stats of a batch of cone searches.
type BatchStats struct {
	Queries  int
	Pixels   int
	Fetched  int
	Retained int
	Elapsed  time.Duration
}

// BatchResult holds one Result per input cone, at the cone's index.
type BatchResult struct {
	Results []*Result
	Stats   BatchStats
}

// BatchConeSearch runs the cones one after the other on the engine's
// connection. If any search fails, the error names the failing index and no
// results are returned.
func (e *Engine) BatchConeSearch(ctx context.Context, cones []Cone) (*BatchResult, error) {
	start := time.Now()
	out := &BatchResult{Results: make([]*Result, len(cones))}
	for i, c := range cones {
		if err := ctx.Err(); err != nil {
			return nil, &Error{Op: "batch cone search", Err: err}
		}
		res, err := e.ConeSearch(ctx, c)
		if err != nil {
			return nil, &Error{Op: fmt.Sprintf("batch cone search %d", i), Err: cause(err)}
		}
		out.Results[i] = res
		out.Stats.Queries++
		out.Stats.Pixels += res.Stats.Pixels
		out.Stats.Fetched += res.Stats.Fetched
		out.Stats.Retained += res.Stats.Retained
	}
	out.Stats.Elapsed = time.Since(start)
	e.Log.Printf("batch cone search: %d queries, %d rows in %v", out.Stats.Queries, out.Stats.Retained, out.Stats.Elapsed)
	return out, nil
}

// run issues sql and reads every row, keeping those keep accepts (all of
// them when keep is nil). On error nothing is returned.
func (e *Engine) run(ctx context.Context, sql string, args []interface{}, keep func(Row) bool) (*Result, error) {
	start := time.Now()
	rows, err := e.Conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	issued := time.Now()
	fetched, err := scanRows(rows)
	if err != nil {
		return nil, err
	}
	res := &Result{Rows: make([]Row, 0, len(fetched))}
	for _, r := range fetched {
		if keep == nil || keep(r) {
			res.Rows = append(res.Rows, r)
		}
	}
	res.Stats.Fetched = len(fetched)
	res.Stats.Retained = len(res.Rows)
	res.Stats.QueryTime = issued.Sub(start)
	res.Stats.FetchTime = time.Since(issued)
	return res, nil
}

func (e *Engine) record(s Stats) {
	e.Stats.Timing("query."+s.Type, s.QueryTime+s.FetchTime, 1)
	e.Stats.Count("query.rows", int64(s.Retained), 1)
}

func scanRows(rows lcdk.Rows) ([]Row, error) {
	defer rows.Close()
	var out []Row
	for rows.Next() {
		var r Row
		err := rows.Scan(&r.Timestamp, &r.SourceID, &r.RA, &r.Dec, &r.Band, &r.Class,
			&r.Mag, &r.MagErr, &r.Flux, &r.FluxErr, &r.JD)
		if err != nil {
			return nil, errors.Wrap(err, "scanning row")
		}
		r.Band = strings.TrimSpace(r.Band)
		r.Class = strings.TrimSpace(r.Class)
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading rows")
	}
	return out, nil
}

func cause(err error) error {
	if qe, ok := err.(*Error); ok {
		return qe.Err
	}
	return err
}

func joinInts(vals []int64) string {
	s := make([]string, len(vals))
	for i, v := range vals {
		s[i] = strconv.FormatInt(v, 10)
	}
	return strings.Join(s, ", ")
}
