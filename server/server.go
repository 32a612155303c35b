// Package server exposes the query engine and the import progress files
// over HTTP as JSON.
package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"sync"

	"github.com/gorilla/mux"
	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/progress"
	"github.com/pilosa/lcdk/query"
	"github.com/pkg/errors"
)

// Stopper requests that a running import stop.
type Stopper interface {
	Request() error
}

// Server answers API requests. The engine owns a single connection, so
// requests using it are serialized.
type Server struct {
	mu     sync.Mutex
	Engine *query.Engine

	// ProgressFile is where the importer writes its snapshots.
	ProgressFile string
	// Progress receives the stopped snapshot written on a stop request.
	Progress progress.Sink
	Stop     Stopper
	// Metrics, if set, is served on /metrics.
	Metrics http.Handler
	Log     lcdk.Logger
}

// Handler returns the routes of the API.
func (s *Server) Handler() http.Handler {
	if s.Log == nil {
		s.Log = lcdk.NopLogger{}
	}
	r := mux.NewRouter()
	r.HandleFunc("/api/cone_search", s.handleConeSearch).Methods("GET")
	r.HandleFunc("/api/observations", s.handleObservations).Methods("GET")
	r.HandleFunc("/api/lightcurve/{id}", s.handleLightCurve).Methods("GET")
	r.HandleFunc("/api/region_search", s.handleRegion).Methods("GET")
	r.HandleFunc("/api/object_by_id", s.handleObjectByID).Methods("GET")
	r.HandleFunc("/api/objects", s.handleObjects).Methods("GET")
	r.HandleFunc("/api/import/progress", s.handleProgress).Methods("GET")
	r.HandleFunc("/api/import/stop", s.handleStop).Methods("POST")
	if s.Metrics != nil {
		r.Handle("/metrics", s.Metrics)
	}
	return r
}

type coneResponse struct {
	Objects []query.ObjectSummary `json:"objects"`
	Count   int                   `json:"count"`
}

type statsResponse struct {
	QueryType       string  `json:"query_type"`
	PixelsSearched  int     `json:"healpix_pixels_searched"`
	Fetched         int     `json:"fetched"`
	TotalResults    int     `json:"total_results"`
	QueryTimeMillis float64 `json:"query_time_ms"`
	FetchTimeMillis float64 `json:"fetch_time_ms"`
}

type rowsResponse struct {
	Rows  []query.Row   `json:"rows"`
	Stats statsResponse `json:"stats"`
}

func newRowsResponse(res *query.Result) rowsResponse {
	rows := res.Rows
	if rows == nil {
		rows = []query.Row{}
	}
	return rowsResponse{
		Rows: rows,
		Stats: statsResponse{
			QueryType:       res.Stats.Type,
			PixelsSearched:  res.Stats.Pixels,
			Fetched:         res.Stats.Fetched,
			TotalResults:    res.Stats.Retained,
			QueryTimeMillis: res.Stats.QueryTime.Seconds() * 1000,
			FetchTimeMillis: res.Stats.FetchTime.Seconds() * 1000,
		},
	}
}

func (s *Server) handleConeSearch(w http.ResponseWriter, r *http.Request) {
	ra, dec, radius, err := coneParams(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	objs, err := s.Engine.ObjectsInCone(r.Context(), ra, dec, radius)
	s.mu.Unlock()
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	if objs == nil {
		objs = []query.ObjectSummary{}
	}
	respondJSON(w, coneResponse{Objects: objs, Count: len(objs)})
}

func (s *Server) handleObservations(w http.ResponseWriter, r *http.Request) {
	ra, dec, radius, err := coneParams(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	tr, err := timeParams(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	res, err := s.Engine.ConeSearch(r.Context(), query.Cone{RA: ra, Dec: dec, Radius: radius, Time: tr, Limit: limit})
	s.mu.Unlock()
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	respondJSON(w, newRowsResponse(res))
}

func (s *Server) handleLightCurve(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, "invalid source id", http.StatusBadRequest)
		return
	}
	tr, err := timeParams(r)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	limit, err := intParam(r, "limit", 0)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	res, err := s.Engine.TimeRange(r.Context(), query.ObjectQuery{SourceID: id, Time: tr, Limit: limit})
	s.mu.Unlock()
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	respondJSON(w, newRowsResponse(res))
}

func (s *Server) handleObjects(w http.ResponseWriter, r *http.Request) {
	limit, err := intParam(r, "limit", 100)
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	objs, err := s.Engine.Objects(r.Context(), limit)
	s.mu.Unlock()
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	if objs == nil {
		objs = []query.ObjectSummary{}
	}
	respondJSON(w, coneResponse{Objects: objs, Count: len(objs)})
}

func (s *Server) handleRegion(w http.ResponseWriter, r *http.Request) {
	vals, err := floatParams(r, "ra_min", "ra_max", "dec_min", "dec_max")
	if err != nil {
		respondError(w, err.Error(), http.StatusBadRequest)
		return
	}
	box := query.Box{RAMin: vals[0], RAMax: vals[1], DecMin: vals[2], DecMax: vals[3]}
	if box.DecMin > box.DecMax {
		respondError(w, "dec_min is greater than dec_max", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	objs, err := s.Engine.Region(r.Context(), box)
	s.mu.Unlock()
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	if objs == nil {
		objs = []query.ObjectSummary{}
	}
	respondJSON(w, coneResponse{Objects: objs, Count: len(objs)})
}

func (s *Server) handleObjectByID(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(r.URL.Query().Get("id"), 10, 64)
	if err != nil {
		respondError(w, "missing or invalid id", http.StatusBadRequest)
		return
	}
	s.mu.Lock()
	obj, ok, err := s.Engine.Object(r.Context(), id)
	s.mu.Unlock()
	if err != nil {
		s.queryFailed(w, err)
		return
	}
	if !ok {
		respondError(w, "object not found", http.StatusNotFound)
		return
	}
	respondJSON(w, obj)
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	snap, err := progress.ReadFile(s.ProgressFile)
	if err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	respondJSON(w, snap)
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.Stop == nil {
		respondError(w, "stopping is not configured", http.StatusNotImplemented)
		return
	}
	if err := s.Stop.Request(); err != nil {
		respondError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if s.Progress != nil {
		if err := s.Progress.Write(progress.Message(progress.Stopped, 0, "Manually stopped")); err != nil {
			s.Log.Printf("writing stopped snapshot: %v", err)
		}
	}
	respondJSON(w, map[string]interface{}{"success": true, "message": "Import stopped"})
}

func (s *Server) queryFailed(w http.ResponseWriter, err error) {
	if errors.Cause(err) == context.Canceled {
		respondError(w, "request canceled", http.StatusServiceUnavailable)
		return
	}
	s.Log.Printf("query failed: %v", err)
	respondError(w, err.Error(), http.StatusInternalServerError)
}

func coneParams(r *http.Request) (ra, dec, radius float64, err error) {
	vals, err := floatParams(r, "ra", "dec", "radius")
	if err != nil {
		return 0, 0, 0, err
	}
	return vals[0], vals[1], vals[2], nil
}

// floatParams reads required float parameters in the order named.
func floatParams(r *http.Request, names ...string) ([]float64, error) {
	q := r.URL.Query()
	vals := make([]float64, len(names))
	for i, name := range names {
		v := q.Get(name)
		if v == "" {
			return nil, errors.Errorf("missing parameter %s", name)
		}
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return nil, errors.Errorf("invalid %s '%s'", name, v)
		}
		vals[i] = f
	}
	return vals, nil
}

// timeParams reads time_start and time_end, in epoch milliseconds.
func timeParams(r *http.Request) (*query.TimeRange, error) {
	q := r.URL.Query()
	var tr *query.TimeRange
	for _, name := range []string{"time_start", "time_end"} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		ms, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, errors.Errorf("invalid %s '%s'", name, v)
		}
		if tr == nil {
			tr = &query.TimeRange{}
		}
		if name == "time_start" {
			tr.From = &ms
		} else {
			tr.To = &ms
		}
	}
	return tr, nil
}

func intParam(r *http.Request, name string, def int) (int, error) {
	v := r.URL.Query().Get(name)
	if v == "" {
		return def, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil || n < 0 {
		return 0, errors.Errorf("invalid %s '%s'", name, v)
	}
	return n, nil
}

func respondJSON(w http.ResponseWriter, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, message string, statusCode int) {
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(statusCode)
	json.NewEncoder(w).Encode(map[string]interface{}{
		"error": message,
	})
}
