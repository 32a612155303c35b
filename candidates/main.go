package candidates

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pilosa/lcdk"
	"github.com/pilosa/lcdk/progress"
	"github.com/pilosa/lcdk/query"
	"github.com/pilosa/lcdk/store"
	"github.com/pkg/errors"
)

// DefaultProgressFile is where detector snapshots are written by default.
const DefaultProgressFile = "/tmp/check_candidates_progress.json"

// Main holds the config for the candidates command.
type Main struct {
	Store        string  `help:"Store DSN: sqlite://<dir> or postgres://..."`
	Container    string  `help:"Container (database) to inspect."`
	Parent       string  `help:"Name of the parent table."`
	Threshold    float64 `help:"Relative growth in observation count that makes an object a candidate again."`
	DataDir      string  `help:"Directory holding the history database and candidate queue."`
	ProgressFile string  `help:"File progress snapshots are written to. Empty disables them."`
	Verbose      bool    `help:"Enable debug logging."`
	LogJSON      bool    `help:"Log JSON lines through zap."`
}

// NewMain gets a new Main with default values.
func NewMain() *Main {
	return &Main{
		Store:        "sqlite://./data",
		Container:    "gaiadr2_lc",
		Parent:       lcdk.DefaultParent,
		Threshold:    DefaultThreshold,
		DataDir:      "./data",
		ProgressFile: DefaultProgressFile,
	}
}

// HistoryPath returns the history database used for the container.
func (m *Main) HistoryPath() string {
	return filepath.Join(m.DataDir, "lc_counts_"+m.Container+".db")
}

// QueuePath returns the candidate queue file used for the container.
func (m *Main) QueuePath() string {
	return filepath.Join(m.DataDir, "auto_classify_queue_"+m.Container+".csv")
}

// Run runs one detection pass.
func (m *Main) Run() error {
	_, err := m.Detect(context.Background())
	return err
}

// Detect runs one detection pass and returns its report.
func (m *Main) Detect(ctx context.Context) (*Report, error) {
	log, err := lcdk.OpenLogger("", m.Verbose, m.LogJSON)
	if err != nil {
		return nil, errors.Wrap(err, "setting up logger")
	}
	if err := os.MkdirAll(m.DataDir, 0755); err != nil {
		return nil, errors.Wrap(err, "creating data directory")
	}
	var sink progress.Sink
	if m.ProgressFile != "" {
		sink = progress.FileSink{Path: m.ProgressFile}
		sink.Write(progress.Message(progress.Running, 0, "Connecting to database..."))
	}

	st, err := store.Open(m.Store)
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}
	defer st.Close()
	conn, err := st.Connect(ctx, m.Container)
	if err != nil {
		if sink != nil {
			sink.Write(progress.Message(progress.Error, 0, "Connection failed"))
		}
		return nil, errors.Wrap(err, "connecting")
	}
	defer conn.Close()

	h, err := OpenHistory(m.HistoryPath())
	if err != nil {
		return nil, err
	}
	defer h.Close()

	d := &Detector{
		Counts:    query.NewEngine(conn, nil, m.Parent),
		History:   h,
		Threshold: m.Threshold,
		Queue:     m.QueuePath(),
		Sink:      sink,
		Log:       log,
	}
	rep, err := d.Run(ctx)
	if err != nil {
		return nil, err
	}
	log.Printf("candidates for classification: %d (queue %s)", len(rep.Candidates), d.Queue)
	return rep, nil
}
