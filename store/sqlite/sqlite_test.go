package sqlite_test

import (
	"context"
	"io/ioutil"
	"os"
	"testing"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/store/sqlite"
)

func newStore(t *testing.T) (*sqlite.Store, func()) {
	t.Helper()
	dir, err := ioutil.TempDir("", "lcdk-sqlite")
	if err != nil {
		t.Fatalf("getting temp dir: %v", err)
	}
	s := sqlite.New(dir)
	return s, func() {
		s.Close()
		os.RemoveAll(dir)
	}
}

func TestStoreRoundTrip(t *testing.T) {
	s, done := newStore(t)
	defer done()
	ctx := context.Background()

	if _, err := s.Connect(ctx, "lc"); err == nil {
		t.Fatalf("connecting to a missing container should fail")
	}
	for i := 0; i < 2; i++ {
		if err := s.EnsureContainer(ctx, lcdk.ContainerSpec{Name: "lc"}); err != nil {
			t.Fatalf("ensuring container: %v", err)
		}
	}
	conn, err := s.Connect(ctx, "lc")
	if err != nil {
		t.Fatalf("connecting: %v", err)
	}
	defer conn.Close()
	for i := 0; i < 2; i++ {
		if err := conn.EnsureParentTable(ctx, lcdk.DefaultParentTable("")); err != nil {
			t.Fatalf("ensuring parent table: %v", err)
		}
	}

	tables := []lcdk.ChildTable{
		{Name: "sensor_data_7_1", PartitionKey: 7, SourceID: 1, RA: 10, Dec: 20, Class: "unknown"},
		{Name: "sensor_data_7_2", PartitionKey: 7, SourceID: 2, RA: 10.1, Dec: 20, Class: "RRLyr"},
	}
	n, err := conn.CreateChildTables(ctx, lcdk.DefaultParent, tables)
	if err != nil || n != 2 {
		t.Fatalf("creating child tables: %d, %v", n, err)
	}
	n, err = conn.CreateChildTables(ctx, lcdk.DefaultParent, tables)
	if err != nil || n != 0 {
		t.Fatalf("creating child tables again: %d, %v", n, err)
	}

	stmt, err := conn.PrepareInsert(ctx, lcdk.DefaultParent)
	if err != nil {
		t.Fatalf("preparing: %v", err)
	}
	defer stmt.Close()
	if err := stmt.SetTable(ctx, "sensor_data_7_3"); err == nil {
		t.Fatalf("setting a missing table should fail")
	}
	if err := stmt.SetTable(ctx, "sensor_data_7_1"); err != nil {
		t.Fatalf("setting table: %v", err)
	}
	b := lcdk.NewColumnBatch(3)
	for i := 0; i < 3; i++ {
		b.Append(lcdk.Observation{Timestamp: int64(1000 * (3 - i)), Band: "G", Mag: 15 + float64(i), MagErr: 0.01, Flux: 100, FluxErr: 1, JD: 2455197.5})
	}
	if err := stmt.BindBatch(b); err != nil {
		t.Fatalf("binding: %v", err)
	}
	if err := stmt.AddBatch(); err != nil {
		t.Fatalf("adding: %v", err)
	}
	n, err = stmt.Execute(ctx)
	if err != nil || n != 3 {
		t.Fatalf("executing: %d, %v", n, err)
	}

	rows, err := conn.Query(ctx, "SELECT ts, source_id, ra, dec, band, cls, mag FROM sensor_data WHERE source_id = ? ORDER BY ts ASC", 1)
	if err != nil {
		t.Fatalf("querying: %v", err)
	}
	defer rows.Close()
	var got []int64
	for rows.Next() {
		var ts, id int64
		var ra, dec, mag float64
		var band, cls string
		if err := rows.Scan(&ts, &id, &ra, &dec, &band, &cls, &mag); err != nil {
			t.Fatalf("scanning: %v", err)
		}
		if id != 1 || ra != 10 || dec != 20 || band != "G" || cls != "unknown" {
			t.Fatalf("unexpected row %d %v %v %s %s", id, ra, dec, band, cls)
		}
		got = append(got, ts)
	}
	if err := rows.Err(); err != nil {
		t.Fatal(err)
	}
	if len(got) != 3 || got[0] != 1000 || got[2] != 3000 {
		t.Fatalf("unexpected timestamps %v", got)
	}
}

func TestDropContainer(t *testing.T) {
	s, done := newStore(t)
	defer done()
	ctx := context.Background()
	if err := s.DropContainer(ctx, "missing"); err != nil {
		t.Fatalf("dropping a missing container: %v", err)
	}
	if err := s.EnsureContainer(ctx, lcdk.ContainerSpec{Name: "lc"}); err != nil {
		t.Fatal(err)
	}
	conn, err := s.Connect(ctx, "lc")
	if err != nil {
		t.Fatal(err)
	}
	if err := conn.EnsureParentTable(ctx, lcdk.DefaultParentTable("")); err != nil {
		t.Fatal(err)
	}
	conn.Close()
	if err := s.DropContainer(ctx, "lc"); err != nil {
		t.Fatalf("dropping: %v", err)
	}
	if _, err := s.Connect(ctx, "lc"); err == nil {
		t.Fatalf("container still present after drop")
	}
	if err := s.EnsureContainer(ctx, lcdk.ContainerSpec{Name: "bad/name"}); err == nil {
		t.Fatalf("expected invalid name error")
	}
}
