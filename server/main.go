// Copyright 2017 Pilosa Corp.
//
// Redistribution and use in source and binary forms, with or without
// modification, are permitted provided that the following conditions
// are met:
//
// 1. Redistributions of source code must retain the above copyright
// notice, this list of conditions and the following disclaimer.
//
// 2. Redistributions in binary form must reproduce the above copyright
// notice, this list of conditions and the following disclaimer in the
// documentation and/or other materials provided with the distribution.
//
// 3. Neither the name of the copyright holder nor the names of its
// contributors may be used to endorse or promote products derived
// from this software without specific prior written permission.
//
// THIS SOFTWARE IS PROVIDED BY THE COPYRIGHT HOLDERS AND
// CONTRIBUTORS "AS IS" AND ANY EXPRESS OR IMPLIED WARRANTIES,
// INCLUDING, BUT NOT LIMITED TO, THE IMPLIED WARRANTIES OF
// MERCHANTABILITY AND FITNESS FOR A PARTICULAR PURPOSE ARE
// DISCLAIMED. IN NO EVENT SHALL THE COPYRIGHT HOLDER OR
// CONTRIBUTORS BE LIABLE FOR ANY DIRECT, INDIRECT, INCIDENTAL,
// SPECIAL, EXEMPLARY, OR CONSEQUENTIAL DAMAGES (INCLUDING,
// BUT NOT LIMITED TO, PROCUREMENT OF SUBSTITUTE GOODS OR
// SERVICES; LOSS OF USE, DATA, OR PROFITS; OR BUSINESS
// INTERRUPTION) HOWEVER CAUSED AND ON ANY THEORY OF LIABILITY,
// WHETHER IN CONTRACT, STRICT LIABILITY, OR TORT (INCLUDING
// NEGLIGENCE OR OTHERWISE) ARISING IN ANY WAY OUT OF THE USE
// OF THIS SOFTWARE, EVEN IF ADVISED OF THE POSSIBILITY OF SUCH
// DAMAGE.

package server

import (
	"context"
	"net/http"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/healpix"
	"github.com/pilosa/lcdk/progress"
	"github.com/pilosa/lcdk/promstat"
	"github.com/pilosa/lcdk/query"
	"github.com/pilosa/lcdk/store"
	"github.com/pkg/errors"
)

// Main holds the config for the serve command.
type Main struct {
	Bind         string  `help:"Listen for API requests on this address."`
	Store        string  `help:"Store DSN: sqlite://<dir> or postgres://..."`
	Container    string  `help:"Container (database) to query."`
	Parent       string  `help:"Name of the parent table."`
	Nside        int     `help:"HEALPix resolution the data was ingested with."`
	Expand       float64 `help:"Factor the cone radius is widened by for the coarse pixel lookup."`
	ProgressFile string  `help:"Import progress file served on /api/import/progress."`
	StopFile     string  `help:"Marker file created by /api/import/stop."`
	Metrics      bool    `help:"Serve Prometheus metrics on /metrics."`
	Verbose      bool    `help:"Enable debug logging."`
	LogJSON      bool    `help:"Log JSON lines through zap."`
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	return &Main{
		Bind:         ":8080",
		Store:        "sqlite://./data",
		Container:    "gaiadr2_lc",
		Parent:       lcdk.DefaultParent,
		Nside:        healpix.DefaultNside,
		Expand:       healpix.DefaultExpand,
		ProgressFile: progress.DefaultFile,
		StopFile:     progress.DefaultStopFile,
		Metrics:      true,
	}
}

// Run runs the serve command.
func (m *Main) Run() error {
	log, err := lcdk.OpenLogger("", m.Verbose, m.LogJSON)
	if err != nil {
		return errors.Wrap(err, "setting up logger")
	}
	pix, err := healpix.New(m.Nside)
	if err != nil {
		return errors.Wrap(err, "setting up pixelizer")
	}
	st, err := store.Open(m.Store)
	if err != nil {
		return errors.Wrap(err, "opening store")
	}
	defer st.Close()
	conn, err := st.Connect(context.Background(), m.Container)
	if err != nil {
		return errors.Wrap(err, "connecting")
	}
	defer conn.Close()

	engine := query.NewEngine(conn, pix, m.Parent)
	engine.Expand = m.Expand
	engine.Log = log
	srv := &Server{
		Engine:       engine,
		ProgressFile: m.ProgressFile,
		Log:          log,
	}
	if m.ProgressFile != "" {
		srv.Progress = progress.FileSink{Path: m.ProgressFile}
	}
	if m.StopFile != "" {
		srv.Stop = progress.FileSentinel(m.StopFile)
	}
	if m.Metrics {
		pc := promstat.New("lcdk")
		engine.Stats = pc
		srv.Metrics = pc.Handler()
	}

	log.Printf("listening on %s", m.Bind)
	return errors.Wrap(http.ListenAndServe(m.Bind, srv.Handler()), "serving")
}
