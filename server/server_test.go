package server_test

import (
	"context"
	"encoding/json"
	"io/ioutil"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/healpix"
	"github.com/pilosa/lcdk/mock"
	"github.com/pilosa/lcdk/progress"
	"github.com/pilosa/lcdk/promstat"
	"github.com/pilosa/lcdk/query"
	"github.com/pilosa/lcdk/server"
	"github.com/pkg/errors"
)

func newServer(t *testing.T, fn func(sql string, args ...interface{}) (lcdk.Rows, error)) (*server.Server, *mock.Store, string) {
	t.Helper()
	dir, err := ioutil.TempDir("", "lcdk-server")
	if err != nil {
		t.Fatal(err)
	}
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
	progressFile := filepath.Join(dir, "progress.json")
	return &server.Server{
		Engine:       query.NewEngine(conn, pix, ""),
		ProgressFile: progressFile,
		Progress:     progress.FileSink{Path: progressFile},
		Stop:         progress.FileSentinel(filepath.Join(dir, "stop")),
		Metrics:      promstat.New("lcdk_test").Handler(),
	}, s, dir
}

func get(t *testing.T, h http.Handler, method, url string) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	h.ServeHTTP(w, httptest.NewRequest(method, url, nil))
	return w
}

func TestLightCurve(t *testing.T) {
	var gotArgs []interface{}
	srv, _, dir := newServer(t, func(sql string, args ...interface{}) (lcdk.Rows, error) {
		gotArgs = args
		return mock.NewRows([][]interface{}{
			{int64(1000), int64(7), 10.0, 20.0, "G", "RRLyr", 15.0, 0.01, 100.0, 1.0, 2455197.5},
			{int64(2000), int64(7), 10.0, 20.0, "G", "RRLyr", 15.1, 0.01, 101.0, 1.0, 2455198.5},
		}), nil
	})
	defer os.RemoveAll(dir)
	h := srv.Handler()

	w := get(t, h, "GET", "/api/lightcurve/7?time_start=500&limit=10")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Rows  []query.Row `json:"rows"`
		Stats struct {
			QueryType    string `json:"query_type"`
			TotalResults int    `json:"total_results"`
		} `json:"stats"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if len(resp.Rows) != 2 || resp.Rows[1].Timestamp != 2000 || resp.Stats.QueryType != query.TypeTimeRange || resp.Stats.TotalResults != 2 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if len(gotArgs) != 2 || gotArgs[0] != int64(7) || gotArgs[1] != int64(500) {
		t.Fatalf("unexpected args %v", gotArgs)
	}

	for _, url := range []string{"/api/lightcurve/abc", "/api/lightcurve/7?time_end=x", "/api/lightcurve/7?limit=-1"} {
		if w := get(t, h, "GET", url); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, w.Code)
		}
	}
}

func TestConeSearch(t *testing.T) {
	srv, _, dir := newServer(t, func(sql string, args ...interface{}) (lcdk.Rows, error) {
		return mock.NewRows([][]interface{}{
			{int64(1), int64(5), 10.0, 20.0, "RRLyr", int64(5)},
			{int64(4), int64(5), 10.5, 20.0, "unknown", int64(3)},
		}), nil
	})
	defer os.RemoveAll(dir)
	h := srv.Handler()

	w := get(t, h, "GET", "/api/cone_search?ra=10&dec=20&radius=0.1")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Objects []query.ObjectSummary `json:"objects"`
		Count   int                   `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Objects[0].SourceID != 1 || resp.Objects[0].Count != 5 {
		t.Fatalf("unexpected response %+v", resp)
	}
	if got := w.Header().Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("missing CORS header")
	}

	if w := get(t, h, "GET", "/api/cone_search?ra=10&dec=20"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400 for missing radius, got %d", w.Code)
	}
}

func TestRegionAndObjectByID(t *testing.T) {
	var gotArgs []interface{}
	srv, _, dir := newServer(t, func(sql string, args ...interface{}) (lcdk.Rows, error) {
		gotArgs = args
		if len(args) == 1 && args[0] == int64(404) {
			return mock.NewRows(nil), nil
		}
		return mock.NewRows([][]interface{}{
			{int64(1), int64(5), 10.0, 20.0, "RRLyr", int64(5)},
		}), nil
	})
	defer os.RemoveAll(dir)
	h := srv.Handler()

	w := get(t, h, "GET", "/api/region_search?ra_min=9&ra_max=11&dec_min=19&dec_max=21")
	if w.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", w.Code, w.Body)
	}
	var resp struct {
		Objects []query.ObjectSummary `json:"objects"`
		Count   int                   `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatal(err)
	}
	if resp.Count != 1 || resp.Objects[0].SourceID != 1 || len(gotArgs) != 4 {
		t.Fatalf("unexpected region response %+v, args %v", resp, gotArgs)
	}
	for _, url := range []string{"/api/region_search?ra_min=9&ra_max=11&dec_min=19", "/api/region_search?ra_min=9&ra_max=11&dec_min=30&dec_max=21"} {
		if w := get(t, h, "GET", url); w.Code != http.StatusBadRequest {
			t.Fatalf("%s: expected 400, got %d", url, w.Code)
		}
	}

	w = get(t, h, "GET", "/api/object_by_id?id=1")
	var obj query.ObjectSummary
	if err := json.Unmarshal(w.Body.Bytes(), &obj); err != nil || w.Code != http.StatusOK {
		t.Fatalf("unexpected object response %d %s", w.Code, w.Body)
	}
	if obj.SourceID != 1 || obj.Count != 5 || obj.Class != "RRLyr" {
		t.Fatalf("unexpected object %+v", obj)
	}
	if w := get(t, h, "GET", "/api/object_by_id?id=404"); w.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", w.Code)
	}
	if w := get(t, h, "GET", "/api/object_by_id?id=x"); w.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", w.Code)
	}
}

func TestQueryFailure(t *testing.T) {
	srv, _, dir := newServer(t, func(sql string, args ...interface{}) (lcdk.Rows, error) {
		return nil, errors.New("store unavailable")
	})
	defer os.RemoveAll(dir)
	w := get(t, srv.Handler(), "GET", "/api/observations?ra=10&dec=20&radius=1")
	if w.Code != http.StatusInternalServerError || !strings.Contains(w.Body.String(), "store unavailable") {
		t.Fatalf("unexpected response %d %s", w.Code, w.Body)
	}
	if strings.Contains(w.Body.String(), "rows") {
		t.Fatalf("failed query returned rows: %s", w.Body)
	}
}

func TestImportProgressAndStop(t *testing.T) {
	srv, _, dir := newServer(t, nil)
	defer os.RemoveAll(dir)
	h := srv.Handler()

	w := get(t, h, "GET", "/api/import/progress")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"status":"idle"`) {
		t.Fatalf("unexpected idle response %d %s", w.Code, w.Body)
	}

	if w := get(t, h, "GET", "/api/import/stop"); w.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405 for GET stop, got %d", w.Code)
	}
	w = get(t, h, "POST", "/api/import/stop")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), `"success":true`) {
		t.Fatalf("unexpected stop response %d %s", w.Code, w.Body)
	}
	if !progress.FileSentinel(filepath.Join(dir, "stop")).Requested() {
		t.Fatalf("stop marker not written")
	}

	snap, err := progress.ReadFile(srv.ProgressFile)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Status != progress.Stopped || snap.Message != "Manually stopped" {
		t.Fatalf("unexpected snapshot %+v", snap)
	}
	w = get(t, h, "GET", "/api/import/progress")
	if !strings.Contains(w.Body.String(), `"status":"stopped"`) {
		t.Fatalf("progress does not show stop: %s", w.Body)
	}
}

func TestMetrics(t *testing.T) {
	srv, _, dir := newServer(t, nil)
	defer os.RemoveAll(dir)
	w := get(t, srv.Handler(), "GET", "/metrics")
	if w.Code != http.StatusOK || !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Fatalf("unexpected metrics response %d", w.Code)
	}
}
