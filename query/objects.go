package query

import (
	"context"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/healpix"
	"github.com/pkg/errors"
)

// ObjectSummary describes one object that has observations.
type ObjectSummary struct {
	SourceID     int64   `json:"source_id"`
	PartitionKey int64   `json:"healpix_id"`
	RA           float64 `json:"ra"`
	Dec          float64 `json:"dec"`
	Class        string  `json:"cls"`
	Count        int64   `json:"data_count"`
}

// Objects lists up to limit objects ordered by id. A limit of zero lists
// all of them.
func (e *Engine) Objects(ctx context.Context, limit int) ([]ObjectSummary, error) {
	e.defaults()
	out, err := e.summaries(ctx, "", nil, limit)
	if err != nil {
		return nil, &Error{Op: "objects", Err: err}
	}
	return out, nil
}

// ObjectCounts returns the observation count of every object.
func (e *Engine) ObjectCounts(ctx context.Context) ([]ObjectSummary, error) {
	e.defaults()
	out, err := e.summaries(ctx, "", nil, 0)
	if err != nil {
		return nil, &Error{Op: "object counts", Err: err}
	}
	return out, nil
}

// ObjectsInCone lists the objects within radius degrees of (ra, dec).
func (e *Engine) ObjectsInCone(ctx context.Context, ra, dec, radius float64) ([]ObjectSummary, error) {
	e.defaults()
	if radius <= 0 || radius > 180 {
		return nil, &Error{Op: "objects in cone", Err: errors.Errorf("invalid radius %v", radius)}
	}
	ra, dec = healpix.NormalizeRA(ra), healpix.ClampDec(dec)
	pixels := e.Pix.ExpandedDisc(ra, dec, radius, e.Expand)
	all, err := e.summaries(ctx, lcdk.TagPartition+" IN ("+joinInts(pixels)+")", nil, 0)
	if err != nil {
		return nil, &Error{Op: "objects in cone", Err: err}
	}
	out := all[:0]
	for _, o := range all {
		if healpix.AngularDistance(ra, dec, o.RA, o.Dec) <= radius {
			out = append(out, o)
		}
	}
	return out, nil
}

// Box is an RA/Dec rectangle in degrees with inclusive edges. When RAMin is
// greater than RAMax the box wraps through RA 0.
type Box struct {
	RAMin  float64
	RAMax  float64
	DecMin float64
	DecMax float64
}

func (b Box) validate() error {
	for _, v := range []float64{b.RAMin, b.RAMax, b.DecMin, b.DecMax} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return errors.Errorf("invalid box %+v", b)
		}
	}
	if b.DecMin > b.DecMax {
		return errors.Errorf("dec range %v to %v is empty", b.DecMin, b.DecMax)
	}
	return nil
}

// Region lists the objects whose coordinates lie inside b, ordered by id.
func (e *Engine) Region(ctx context.Context, b Box) ([]ObjectSummary, error) {
	e.defaults()
	if err := b.validate(); err != nil {
		return nil, &Error{Op: "region", Err: err}
	}
	raMin, raMax := healpix.NormalizeRA(b.RAMin), healpix.NormalizeRA(b.RAMax)
	if b.RAMax-b.RAMin >= 360 {
		raMin, raMax = 0, 360
	}
	where := lcdk.TagRA + " >= ? AND " + lcdk.TagRA + " <= ?"
	if raMin > raMax {
		where = "(" + lcdk.TagRA + " >= ? OR " + lcdk.TagRA + " <= ?)"
	}
	where += " AND " + lcdk.TagDec + " >= ? AND " + lcdk.TagDec + " <= ?"
	out, err := e.summaries(ctx, where, []interface{}{raMin, raMax, b.DecMin, b.DecMax}, 0)
	if err != nil {
		return nil, &Error{Op: "region", Err: err}
	}
	return out, nil
}

// Object returns the summary of one object. ok is false when the object has
// no observations.
func (e *Engine) Object(ctx context.Context, id int64) (o ObjectSummary, ok bool, err error) {
	e.defaults()
	out, err := e.summaries(ctx, lcdk.TagSourceID+" = ?", []interface{}{id}, 1)
	if err != nil {
		return o, false, &Error{Op: "object", Err: err}
	}
	if len(out) == 0 {
		return o, false, nil
	}
	return out[0], true, nil
}

func (e *Engine) summaries(ctx context.Context, where string, args []interface{}, limit int) ([]ObjectSummary, error) {
	sql := fmt.Sprintf("SELECT %s, %s, MIN(%s), MIN(%s), MIN(%s), COUNT(*) FROM %s",
		lcdk.TagSourceID, lcdk.TagPartition, lcdk.TagRA, lcdk.TagDec, lcdk.TagClass, e.Parent)
	if where != "" {
		sql += " WHERE " + where
	}
	sql += fmt.Sprintf(" GROUP BY %s, %s ORDER BY %s", lcdk.TagSourceID, lcdk.TagPartition, lcdk.TagSourceID)
	if limit > 0 {
		sql += " LIMIT " + strconv.Itoa(limit)
	}
	rows, err := e.Conn.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []ObjectSummary
	for rows.Next() {
		var o ObjectSummary
		if err := rows.Scan(&o.SourceID, &o.PartitionKey, &o.RA, &o.Dec, &o.Class, &o.Count); err != nil {
			return nil, errors.Wrap(err, "scanning object")
		}
		o.Class = strings.TrimSpace(o.Class)
		out = append(out, o)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "reading objects")
	}
	return out, nil
}
