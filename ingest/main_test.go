package ingest_test

import (
	"context"
	"io/ioutil"
	"os"
	"path/filepath"
	"testing"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/ingest"
	"github.com/pilosa/lcdk/mock"
	"github.com/pilosa/lcdk/progress"
	"github.com/pkg/errors"
)

const coords = `source_id,ra,dec
1,10,20
2,10,20
3,170,-80
`

const measurements = `source_id,ra,dec,class,band,time,flux,flux_err,mag,mag_err
1,10,20,RRLyr,G,100.5,1000,10,15.1,0.01
1,10,20,RRLyr,G,101.5,1001,10,15.2,0.01
1,10,20,RRLyr,BP,102.5,1002,10,15.3,0.01
1,10,20,RRLyr,RP,103.5,1003,10,15.4,0.01
1,10,20,RRLyr,G,104.5,1004,10,15.5,0.01
3,170,-80,,G,1,500,5,16,0.02
3,170,-80,,G,2,501,5,16.1,0.02
3,170,-80,,G,2.5,501,5
`

func writeInputs(t *testing.T) (dir string) {
	t.Helper()
	dir, err := ioutil.TempDir("", "lcdk-ingest")
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
	return dir
}

func newMain(dir string) (*ingest.Main, *progress.MemorySink) {
	sink := &progress.MemorySink{}
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
	m.Sink = sink
	m.Stop = &progress.Flag{}
	return m, sink
}

func TestMainScenario(t *testing.T) {
	dir := writeInputs(t)
	defer os.RemoveAll(dir)
	m, sink := newMain(dir)

	rep, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("running: %v", err)
	}
	if rep.Entries != 3 || rep.Processed != 3 || rep.Total != 3 {
		t.Fatalf("unexpected counts %+v", rep.Totals)
	}
	if rep.Inserted != 7 || rep.ParseSkips != 1 || rep.TablesCreated != 3 {
		t.Fatalf("unexpected totals %+v", rep.Totals)
	}
	if rep.Status != progress.Completed {
		t.Fatalf("unexpected status %s", rep.Status)
	}
	last, ok := sink.Last()
	if !ok || last.Status != progress.Completed || last.Stats.InsertedRecords != 7 {
		t.Fatalf("unexpected final snapshot %+v", last)
	}

	// a second run over the same container creates nothing new and
	// rewrites the same rows
	m, _ = newMain(dir)
	rep, err = m.Run(context.Background())
	if err != nil {
		t.Fatalf("running again: %v", err)
	}
	if rep.TablesCreated != 0 || rep.Inserted != 7 {
		t.Fatalf("unexpected second run %+v", rep.Totals)
	}
}

func TestMainCheckpointResume(t *testing.T) {
	dir := writeInputs(t)
	defer os.RemoveAll(dir)
	m, _ := newMain(dir)
	m.Checkpoint = filepath.Join(dir, "checkpoint")
	if _, err := m.Run(context.Background()); err != nil {
		t.Fatal(err)
	}
	m, _ = newMain(dir)
	m.Checkpoint = filepath.Join(dir, "checkpoint")
	rep, err := m.Run(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	// entry 2 has no rows and is never checkpointed
	if rep.Resumed != 2 || rep.Inserted != 0 || rep.Processed != 3 {
		t.Fatalf("unexpected resumed run %+v", rep.Totals)
	}
}

func TestMainFatalFailures(t *testing.T) {
	dir := writeInputs(t)
	defer os.RemoveAll(dir)

	tests := []struct {
		name  string
		setup func(m *ingest.Main, s *mock.Store)
	}{
		{name: "container", setup: func(m *ingest.Main, s *mock.Store) { s.FailContainer = errors.New("unreachable") }},
		{name: "connect", setup: func(m *ingest.Main, s *mock.Store) { s.FailConnect = errors.New("refused") }},
		{name: "parent", setup: func(m *ingest.Main, s *mock.Store) { s.FailParent = errors.New("no permission") }},
		{name: "coordinates", setup: func(m *ingest.Main, s *mock.Store) { m.Coordinates = filepath.Join(dir, "missing.csv") }},
		{name: "config", setup: func(m *ingest.Main, s *mock.Store) { m.LightCurveDir = dir }},
		{name: "columns", setup: func(m *ingest.Main, s *mock.Store) { m.Columns = "brightness=3" }},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			m, sink := newMain(dir)
			s := mock.NewStore()
			m.NewStore = func() (lcdk.Store, error) { return s, nil }
			test.setup(m, s)
			if _, err := m.Run(context.Background()); err == nil {
				t.Fatalf("expected error")
			}
			if test.name == "config" || test.name == "columns" {
				return
			}
			last, ok := sink.Last()
			if !ok || last.Status != progress.Error {
				t.Fatalf("expected error snapshot, got %+v", last)
			}
		})
	}
}

func TestMainTableBatchFailureAbsorbed(t *testing.T) {
	dir := writeInputs(t)
	defer os.RemoveAll(dir)
	m, _ := newMain(dir)
	m.TableBatchSize = 1
	s := mock.NewStore()
	s.FailCreate = func(call int, tables []lcdk.ChildTable) error {
		if call == 0 {
			return errors.New("create failed")
		}
		return nil
	}
	m.NewStore = func() (lcdk.Store, error) { return s, nil }
	rep, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("table batch failure should not be fatal: %v", err)
	}
	// source 1's table is missing, so its rows can't be written
	if rep.TableBatchFailures != 1 || rep.TablesCreated != 2 || rep.BindFailures != 1 || rep.Inserted != 2 {
		t.Fatalf("unexpected totals %+v", rep.Totals)
	}
}

func TestMainPoolSize(t *testing.T) {
	for _, workers := range []int{1, 8, 32} {
		m := ingest.NewMain()
		m.Workers = workers
		if got := m.PoolSize(); got != workers+1 {
			t.Errorf("workers %d: expected a pool of %d, got %d", workers, workers+1, got)
		}
	}
}

func TestMainColumns(t *testing.T) {
	dir := writeInputs(t)
	defer os.RemoveAll(dir)
	rows := "time,band,source_id,flux,flux_err,mag,mag_err\n" +
		"100.5,G,1,1000,10,15.1,0.01\n" +
		"101.5,G,1,1001,10,15.2,0.01\n" +
		"1,G,3,500,5,16,0.02\n"
	if err := ioutil.WriteFile(filepath.Join(dir, "catalog", "catalog_000.csv"), []byte(rows), 0644); err != nil {
		t.Fatal(err)
	}
	m, _ := newMain(dir)
	m.Columns = "time=0,band=1,source_id=2,class=-1,flux=3,flux_err=4,mag=5,mag_err=6"
	rep, err := m.Run(context.Background())
	if err != nil {
		t.Fatalf("running: %v", err)
	}
	if rep.Inserted != 3 || rep.ParseSkips != 0 {
		t.Fatalf("unexpected totals %+v", rep.Totals)
	}
}
