package query_test

import (
	"bytes"
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/catalog"
	"github.com/pilosa/lcdk/healpix"
	"github.com/pilosa/lcdk/ingest"
	"github.com/pilosa/lcdk/mock"
	"github.com/pilosa/lcdk/progress"
	"github.com/pilosa/lcdk/query"
	"github.com/pilosa/lcdk/store/sqlite"
	"github.com/pkg/errors"
)

const coords = `source_id,ra,dec
1,10,20
2,10,20
3,170,-80
`

const measurements = `source_id,ra,dec,class,band,time,flux,flux_err,mag,mag_err
1,10,20,RRLyr,G,104.5,1004,10,15.5,0.01
1,10,20,RRLyr,G,100.5,1000,10,15.1,0.01
1,10,20,RRLyr,G,101.5,1001,10,15.2,0.01
1,10,20,RRLyr,BP,102.5,1002,10,15.3,0.01
1,10,20,RRLyr,RP,103.5,1003,10,15.4,0.01
3,170,-80,,G,1,500,5,16,0.02
3,170,-80,,G,2,501,5,16.1,0.02
3,170,-80,,G,2.5,501
`

// ingestDir loads the three object catalog into a sqlite container named
// "lc" under dir/db.
func ingestDir(t *testing.T) (dir string, nside int) {
	t.Helper()
	dir, err := ioutil.TempDir("", "lcdk-query")
	if err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "coords.csv"), []byte(coords), 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.Mkdir(filepath.Join(dir, "catalog"), 0755); err != nil {
		t.Fatal(err)
	}
	if err := ioutil.WriteFile(filepath.Join(dir, "catalog", "catalog_000.csv"), []byte(measurements), 0644); err != nil {
		t.Fatal(err)
	}

	m := ingest.NewMain()
	m.Store = "sqlite://" + filepath.Join(dir, "db")
	m.Container = "lc"
	m.Coordinates = filepath.Join(dir, "coords.csv")
	m.CatalogDir = filepath.Join(dir, "catalog")
	m.Workers = 2
	m.Quiet = true
	m.ProgressFile = ""
	m.StopFile = ""
	m.Interval = 0.01
	m.Sink = &progress.MemorySink{}
	m.Stop = &progress.Flag{}
	rep, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("ingesting: %v", err)
	}
	if rep.Inserted != 7 {
		t.Fatalf("expected 7 rows inserted, got %d", rep.Inserted)
	}
	return dir, m.Nside
}

// ingested returns an engine over a freshly ingested container.
func ingested(t *testing.T) (*query.Engine, func()) {
	t.Helper()
	dir, nside := ingestDir(t)
	s := sqlite.New(filepath.Join(dir, "db"))
	conn, err := s.Connect(context.Background(), "lc")
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	pix, err := healpix.New(nside)
	if err != nil {
		t.Fatal(err)
	}
	return query.NewEngine(conn, pix, lcdk.DefaultParent), func() {
		conn.Close()
		s.Close()
		os.RemoveAll(dir)
	}
}

func TestConeSearchScenario(t *testing.T) {
	e, done := ingested(t)
	defer done()
	ctx := context.Background()

	res, err := e.ConeSearch(ctx, query.Cone{RA: 10, Dec: 20, Radius: 0.01})
	if err != nil {
		t.Fatalf("cone search: %v", err)
	}
	if len(res.Rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(res.Rows))
	}
	for _, r := range res.Rows {
		if r.SourceID != 1 {
			t.Fatalf("unexpected source %d in result", r.SourceID)
		}
		if r.Class != "RRLyr" {
			t.Fatalf("unexpected class %q", r.Class)
		}
	}
	if res.Stats.Type != query.TypeCone || res.Stats.Pixels < 1 || res.Stats.Retained != 5 || res.Stats.Fetched < 5 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}

	// RA wraps and the object at dec -80 is found from a shifted center.
	res, err = e.ConeSearch(ctx, query.Cone{RA: 530, Dec: -80, Radius: 0.5})
	if err != nil {
		t.Fatalf("cone search: %v", err)
	}
	if len(res.Rows) != 2 || res.Rows[0].SourceID != 3 || res.Rows[0].Class != lcdk.UnknownClass {
		t.Fatalf("unexpected rows %+v", res.Rows)
	}

	res, err = e.ConeSearch(ctx, query.Cone{RA: 100, Dec: 0, Radius: 1})
	if err != nil {
		t.Fatalf("cone search: %v", err)
	}
	if len(res.Rows) != 0 {
		t.Fatalf("expected an empty result, got %d rows", len(res.Rows))
	}
}

func TestConeSearchTimeFilter(t *testing.T) {
	e, done := ingested(t)
	defer done()
	ep := catalog.DefaultEpoch
	tests := []struct {
		name string
		tr   *query.TimeRange
		exp  int
	}{
		{name: "between", tr: query.Between(ep.Timestamp(101.5), ep.Timestamp(103.5)), exp: 3},
		{name: "since", tr: query.Since(ep.Timestamp(103)), exp: 2},
		{name: "until", tr: query.Until(ep.Timestamp(100.5)), exp: 1},
		{name: "open", tr: &query.TimeRange{}, exp: 5},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			res, err := e.ConeSearch(context.Background(), query.Cone{RA: 10, Dec: 20, Radius: 0.1, Time: test.tr})
			if err != nil {
				t.Fatalf("cone search: %v", err)
			}
			if len(res.Rows) != test.exp {
				t.Fatalf("expected %d rows, got %d", test.exp, len(res.Rows))
			}
		})
	}

	_, err := e.ConeSearch(context.Background(), query.Cone{RA: 10, Dec: 20, Radius: 0.1, Time: query.Between(10, 5)})
	if _, ok := err.(*query.Error); !ok {
		t.Fatalf("expected *query.Error for an inverted range, got %v", err)
	}
}

func TestTimeRangeRoundTrip(t *testing.T) {
	e, done := ingested(t)
	defer done()
	ctx := context.Background()

	res, err := e.TimeRange(ctx, query.ObjectQuery{SourceID: 1})
	if err != nil {
		t.Fatalf("time range: %v", err)
	}
	if len(res.Rows) != 5 {
		t.Fatalf("expected 5 rows, got %d", len(res.Rows))
	}
	for i := 1; i < len(res.Rows); i++ {
		if res.Rows[i].Timestamp <= res.Rows[i-1].Timestamp {
			t.Fatalf("rows not ascending at %d: %d <= %d", i, res.Rows[i].Timestamp, res.Rows[i-1].Timestamp)
		}
	}
	first := res.Rows[0]
	if first.Timestamp != catalog.DefaultEpoch.Timestamp(100.5) || first.Mag != 15.1 || first.JD != catalog.GaiaEpochJD+100.5 {
		t.Fatalf("unexpected first row %+v", first)
	}

	res, err = e.TimeRange(ctx, query.ObjectQuery{SourceID: 1, Limit: 2})
	if err != nil || len(res.Rows) != 2 {
		t.Fatalf("limited time range: %v, %v", res, err)
	}
	res, err = e.TimeRange(ctx, query.ObjectQuery{SourceID: 2})
	if err != nil || len(res.Rows) != 0 {
		t.Fatalf("object without observations: %v, %v", res, err)
	}
}

func TestBatchConeSearch(t *testing.T) {
	e, done := ingested(t)
	defer done()
	cones := []query.Cone{
		{RA: 10, Dec: 20, Radius: 0.01},
		{RA: 170, Dec: -80, Radius: 0.01},
		{RA: 100, Dec: 0, Radius: 0.01},
	}
	res, err := e.BatchConeSearch(context.Background(), cones)
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(res.Results) != 3 {
		t.Fatalf("expected 3 results, got %d", len(res.Results))
	}
	for i, exp := range []int{5, 2, 0} {
		if got := len(res.Results[i].Rows); got != exp {
			t.Fatalf("query %d: expected %d rows, got %d", i, exp, got)
		}
	}
	if res.Stats.Queries != 3 || res.Stats.Retained != 7 {
		t.Fatalf("unexpected batch stats %+v", res.Stats)
	}

	cones = append(cones, query.Cone{RA: 1, Dec: 1, Radius: -1})
	res, err = e.BatchConeSearch(context.Background(), cones)
	if res != nil {
		t.Fatalf("expected no results from a failed batch")
	}
	if qe, ok := err.(*query.Error); !ok || !strings.Contains(qe.Op, "3") {
		t.Fatalf("expected a query error naming index 3, got %v", err)
	}
}

func TestObjects(t *testing.T) {
	e, done := ingested(t)
	defer done()
	ctx := context.Background()

	objs, err := e.ObjectCounts(ctx)
	if err != nil {
		t.Fatalf("object counts: %v", err)
	}
	if len(objs) != 2 {
		t.Fatalf("expected 2 objects with data, got %d", len(objs))
	}
	if objs[0].SourceID != 1 || objs[0].Count != 5 || objs[0].Class != "RRLyr" {
		t.Fatalf("unexpected first object %+v", objs[0])
	}
	if objs[1].SourceID != 3 || objs[1].Count != 2 || objs[1].RA != 170 {
		t.Fatalf("unexpected second object %+v", objs[1])
	}

	objs, err = e.Objects(ctx, 1)
	if err != nil || len(objs) != 1 {
		t.Fatalf("limited objects: %v, %v", objs, err)
	}

	objs, err = e.ObjectsInCone(ctx, 10, 20, 1)
	if err != nil {
		t.Fatalf("objects in cone: %v", err)
	}
	if len(objs) != 1 || objs[0].SourceID != 1 {
		t.Fatalf("unexpected objects in cone %+v", objs)
	}
}

func TestRegionAndObject(t *testing.T) {
	e, done := ingested(t)
	defer done()
	ctx := context.Background()

	tests := []struct {
		box query.Box
		exp []int64
	}{
		{box: query.Box{RAMin: 9, RAMax: 11, DecMin: 19, DecMax: 21}, exp: []int64{1}},
		{box: query.Box{RAMin: 0, RAMax: 360, DecMin: -90, DecMax: 90}, exp: []int64{1, 3}},
		{box: query.Box{RAMin: 160, RAMax: 20, DecMin: -90, DecMax: 90}, exp: []int64{1, 3}},
		{box: query.Box{RAMin: 350, RAMax: 5, DecMin: -90, DecMax: 90}},
		{box: query.Box{RAMin: 100, RAMax: 200, DecMin: -70, DecMax: 90}},
	}
	for i, test := range tests {
		objs, err := e.Region(ctx, test.box)
		if err != nil {
			t.Fatalf("test %d: region: %v", i, err)
		}
		if len(objs) != len(test.exp) {
			t.Fatalf("test %d: expected %d objects, got %+v", i, len(test.exp), objs)
		}
		for j, o := range objs {
			if o.SourceID != test.exp[j] {
				t.Fatalf("test %d: unexpected objects %+v", i, objs)
			}
		}
	}
	if _, err := e.Region(ctx, query.Box{DecMin: 10, DecMax: -10}); err == nil {
		t.Fatalf("expected error for an empty dec range")
	}

	o, ok, err := e.Object(ctx, 1)
	if err != nil || !ok || o.Count != 5 || o.RA != 10 || o.Class != "RRLyr" {
		t.Fatalf("unexpected object 1: %+v, %v, %v", o, ok, err)
	}
	if _, ok, err := e.Object(ctx, 2); err != nil || ok {
		t.Fatalf("object without observations should not be found: %v, %v", ok, err)
	}
}

func TestRegionSQL(t *testing.T) {
	var got []interface{}
	e, s := mockEngine(t, func(sql string, args ...interface{}) (lcdk.Rows, error) {
		got = args
		return mock.NewRows(nil), nil
	})
	if _, err := e.Region(context.Background(), query.Box{RAMin: 350, RAMax: 370, DecMin: -1, DecMax: 1}); err != nil {
		t.Fatal(err)
	}
	if sql := s.Queries()[0]; !strings.Contains(sql, "WHERE (ra >= ? OR ra <= ?) AND dec >= ? AND dec <= ?") {
		t.Fatalf("unexpected sql %s", sql)
	}
	if len(got) != 4 || got[0] != 350.0 || got[1] != 10.0 {
		t.Fatalf("unexpected args %v", got)
	}
}

func TestDefaultExpand(t *testing.T) {
	e, _ := mockEngine(t, func(sql string, args ...interface{}) (lcdk.Rows, error) {
		return mock.NewRows(nil), nil
	})
	res, err := e.ConeSearch(context.Background(), query.Cone{RA: 100, Dec: 10, Radius: 2})
	if err != nil {
		t.Fatal(err)
	}
	if exp := len(e.Pix.ExpandedDisc(100, 10, 2, healpix.DefaultExpand)); res.Stats.Pixels != exp {
		t.Fatalf("expected %d pixels searched, got %d", exp, res.Stats.Pixels)
	}
	if m := query.NewMain(); m.Expand != healpix.DefaultExpand {
		t.Fatalf("unexpected default expand %v", m.Expand)
	}
}

func mockEngine(t *testing.T, fn func(sql string, args ...interface{}) (lcdk.Rows, error)) (*query.Engine, *mock.Store) {
	t.Helper()
	s := mock.NewStore()
	s.QueryFunc = fn
	if err := s.EnsureContainer(context.Background(), lcdk.ContainerSpec{Name: "lc"}); err != nil {
		t.Fatal(err)
	}
	conn, err := s.Connect(context.Background(), "lc")
	if err != nil {
		t.Fatal(err)
	}
	pix, err := healpix.New(64)
	if err != nil {
		t.Fatal(err)
	}
	return query.NewEngine(conn, pix, ""), s
}

func row(id int64, ra, dec float64) []interface{} {
	return []interface{}{int64(1), id, ra, dec, "G", "unknown", 15.0, 0.01, 100.0, 1.0, 2455197.5}
}

func TestConeSearchExactFilter(t *testing.T) {
	e, s := mockEngine(t, func(sql string, args ...interface{}) (lcdk.Rows, error) {
		return mock.NewRows([][]interface{}{
			row(1, 10, 20),
			row(2, 10.005, 20),
			row(3, 10.02, 20),
			row(4, 10, 20.011),
		}), nil
	})
	res, err := e.ConeSearch(context.Background(), query.Cone{RA: 10, Dec: 20, Radius: 0.01, Limit: 50})
	if err != nil {
		t.Fatalf("cone search: %v", err)
	}
	if res.Stats.Fetched != 4 || res.Stats.Retained != 2 {
		t.Fatalf("unexpected stats %+v", res.Stats)
	}
	for _, r := range res.Rows {
		if d := healpix.AngularDistance(10, 20, r.RA, r.Dec); d > 0.01 {
			t.Fatalf("row %d at distance %v", r.SourceID, d)
		}
	}
	sql := s.Queries()[0]
	if !strings.Contains(sql, "FROM sensor_data WHERE healpix_id IN (") || !strings.HasSuffix(sql, "LIMIT 50") {
		t.Fatalf("unexpected sql %s", sql)
	}
}

func TestQueryErrors(t *testing.T) {
	storeErr := errors.New("connection reset")
	tests := []struct {
		name string
		fn   func(sql string, args ...interface{}) (lcdk.Rows, error)
	}{
		{name: "query", fn: func(string, ...interface{}) (lcdk.Rows, error) { return nil, storeErr }},
		{name: "fetch", fn: func(string, ...interface{}) (lcdk.Rows, error) {
			r := mock.NewRows([][]interface{}{row(1, 10, 20)})
			r.Fail = storeErr
			return r, nil
		}},
		{name: "scan", fn: func(string, ...interface{}) (lcdk.Rows, error) {
			return mock.NewRows([][]interface{}{{int64(1), "not a number"}}), nil
		}},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			e, _ := mockEngine(t, test.fn)
			res, err := e.ConeSearch(context.Background(), query.Cone{RA: 10, Dec: 20, Radius: 1})
			if res != nil {
				t.Fatalf("expected no result")
			}
			qe, ok := err.(*query.Error)
			if !ok {
				t.Fatalf("expected *query.Error, got %T %v", err, err)
			}
			if test.name != "scan" && errors.Cause(qe.Err) != storeErr {
				t.Fatalf("expected store error, got %v", qe.Err)
			}
			if _, err := e.TimeRange(context.Background(), query.ObjectQuery{SourceID: 1}); err == nil {
				t.Fatalf("expected time range error")
			}
		})
	}
}

func TestTimeRangeSQL(t *testing.T) {
	var gotArgs []interface{}
	e, s := mockEngine(t, func(sql string, args ...interface{}) (lcdk.Rows, error) {
		gotArgs = args
		return mock.NewRows(nil), nil
	})
	if _, err := e.TimeRange(context.Background(), query.ObjectQuery{SourceID: 42, Time: query.Between(5, 9), Limit: 3}); err != nil {
		t.Fatal(err)
	}
	exp := "SELECT ts, source_id, ra, dec, band, cls, mag, mag_error, flux, flux_error, jd_tcb FROM sensor_data WHERE source_id = ? AND ts >= ? AND ts <= ? ORDER BY ts ASC LIMIT 3"
	if got := s.Queries()[0]; got != exp {
		t.Fatalf("unexpected sql:\n%s\nexpected:\n%s", got, exp)
	}
	if len(gotArgs) != 3 || gotArgs[0] != int64(42) || gotArgs[1] != int64(5) || gotArgs[2] != int64(9) {
		t.Fatalf("unexpected args %v", gotArgs)
	}
}

func TestWriteCSV(t *testing.T) {
	buf := &bytes.Buffer{}
	rows := []query.Row{{Timestamp: 1262304000000, SourceID: 7, RA: 10, Dec: -5.5, Band: "G", Class: "unknown", Mag: 15.25, MagErr: 0.01, Flux: 100, FluxErr: 1.5, JD: 2455197.5}}
	if err := query.WriteCSV(buf, rows); err != nil {
		t.Fatal(err)
	}
	exp := "ts,source_id,ra,dec,band,cls,mag,mag_error,flux,flux_error,jd_tcb\n" +
		"1262304000000,7,10.00000000,-5.50000000,G,unknown,15.250000,0.010000,100.000000,1.500000,2455197.5000000000\n"
	if buf.String() != exp {
		t.Fatalf("unexpected csv:\n%s", buf.String())
	}
}

func TestWriteBatch(t *testing.T) {
	dir, err := ioutil.TempDir("", "lcdk-batch")
	if err != nil {
		t.Fatal(err)
	}
	defer os.RemoveAll(dir)
	res := &query.BatchResult{Results: []*query.Result{{}, {Rows: []query.Row{{SourceID: 1}}}}}
	if err := query.WriteBatch(dir, res); err != nil {
		t.Fatal(err)
	}
	data, err := ioutil.ReadFile(filepath.Join(dir, "query_1.csv"))
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 2 {
		t.Fatalf("expected header and one row, got %d lines", lines)
	}
	if _, err := os.Stat(filepath.Join(dir, "query_0.csv")); err != nil {
		t.Fatalf("expected a header-only file for an empty result: %v", err)
	}
}

func TestParseCones(t *testing.T) {
	in := "ra,dec,radius\n10,20,0.1\n\n180, -30 ,1\nbad,1,1\n1,2\n5,5,0\n"
	cones, skipped, err := query.ParseCones(strings.NewReader(in))
	if err != nil {
		t.Fatal(err)
	}
	if len(cones) != 2 || skipped != 3 {
		t.Fatalf("expected 2 cones and 3 skipped, got %d and %d", len(cones), skipped)
	}
	if cones[1] != (query.Cone{RA: 180, Dec: -30, Radius: 1}) {
		t.Fatalf("unexpected cone %+v", cones[1])
	}
}

func TestMainCommands(t *testing.T) {
	dir, _ := ingestDir(t)
	defer os.RemoveAll(dir)
	ctx := context.Background()
	newMain := func() *query.Main {
		m := query.NewMain()
		m.Store = "sqlite://" + filepath.Join(dir, "db")
		m.Container = "lc"
		return m
	}

	m := newMain()
	m.RA, m.Dec, m.Radius = 10, 20, 0.01
	m.Output = filepath.Join(dir, "cone.csv")
	out := &bytes.Buffer{}
	if err := m.RunCone(ctx, out); err != nil {
		t.Fatalf("cone: %v", err)
	}
	data, err := ioutil.ReadFile(m.Output)
	if err != nil {
		t.Fatal(err)
	}
	if lines := strings.Count(string(data), "\n"); lines != 6 {
		t.Fatalf("expected header and 5 rows, got %d lines", lines)
	}

	m = newMain()
	m.SourceID = 3
	m.Show = 1
	out.Reset()
	if err := m.RunTime(ctx, out); err != nil {
		t.Fatalf("time: %v", err)
	}
	if !strings.HasPrefix(out.String(), "time_range: 2 results") || strings.Count(out.String(), "\n") != 3 {
		t.Fatalf("unexpected output:\n%s", out)
	}

	m = newMain()
	m.Input = filepath.Join(dir, "cones.csv")
	if err := ioutil.WriteFile(m.Input, []byte("ra,dec,radius\n10,20,0.01\n170,-80,0.01\n"), 0644); err != nil {
		t.Fatal(err)
	}
	m.Output = filepath.Join(dir, "batch")
	out.Reset()
	if err := m.RunBatch(ctx, out); err != nil {
		t.Fatalf("batch: %v", err)
	}
	if _, err := os.Stat(filepath.Join(dir, "batch", "query_1.csv")); err != nil {
		t.Fatalf("missing batch output: %v", err)
	}

	m = newMain()
	if err := m.RunCone(ctx, out); err == nil {
		t.Fatalf("expected an error without a radius")
	}
	if err := m.RunTime(ctx, out); err == nil {
		t.Fatalf("expected an error without a source id")
	}
}
