package progress

import (
	"encoding/json"
	"io/ioutil"
	"os"
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
)

// Sink receives snapshots. Each Write replaces the previous snapshot.
type Sink interface {
	Write(s Snapshot) error
}

// FileSink writes each snapshot as JSON to a file. The file is replaced
// atomically so that readers never see a partial snapshot.
type FileSink struct {
	Path string
}

// Write implements Sink.
func (f FileSink) Write(s Snapshot) error {
	data, err := json.Marshal(s)
	if err != nil {
		return errors.Wrap(err, "marshaling snapshot")
	}
	dir, base := filepath.Split(f.Path)
	if dir == "" {
		dir = "."
	}
	tmp, err := ioutil.TempFile(dir, "."+base+".")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return errors.Wrap(err, "writing snapshot")
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "closing temp file")
	}
	if err := os.Rename(tmp.Name(), f.Path); err != nil {
		os.Remove(tmp.Name())
		return errors.Wrap(err, "renaming snapshot")
	}
	return nil
}

// Remove deletes the snapshot file if it exists.
func (f FileSink) Remove() error {
	if err := os.Remove(f.Path); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing snapshot")
	}
	return nil
}

// ReadFile returns the snapshot stored at path. A missing file yields an idle
// snapshot.
func ReadFile(path string) (Snapshot, error) {
	data, err := ioutil.ReadFile(path)
	if os.IsNotExist(err) {
		return Message(Idle, 0, "No import in progress"), nil
	} else if err != nil {
		return Snapshot{}, errors.Wrap(err, "reading snapshot")
	}
	var s Snapshot
	if err := json.Unmarshal(data, &s); err != nil {
		return Snapshot{}, errors.Wrap(err, "decoding snapshot")
	}
	return s, nil
}

// MemorySink keeps every snapshot written to it. It is used for testing.
type MemorySink struct {
	mu        sync.Mutex
	snapshots []Snapshot
}

// Write implements Sink.
func (m *MemorySink) Write(s Snapshot) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.snapshots = append(m.snapshots, s)
	return nil
}

// Snapshots returns a copy of everything written.
func (m *MemorySink) Snapshots() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Snapshot(nil), m.snapshots...)
}

// Last returns the most recent snapshot.
func (m *MemorySink) Last() (Snapshot, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if len(m.snapshots) == 0 {
		return Snapshot{}, false
	}
	return m.snapshots[len(m.snapshots)-1], true
}

// StopSignal reports whether a stop has been requested.
type StopSignal interface {
	Requested() bool
}

// FileSentinel requests a stop by the existence of a marker file.
type FileSentinel string

// Requested implements StopSignal.
func (f FileSentinel) Requested() bool {
	_, err := os.Stat(string(f))
	return err == nil
}

// Request creates the marker file.
func (f FileSentinel) Request() error {
	err := ioutil.WriteFile(string(f), []byte("stop"), 0644)
	return errors.Wrap(err, "writing stop marker")
}

// Clear removes a marker left over from an earlier run.
func (f FileSentinel) Clear() error {
	if err := os.Remove(string(f)); err != nil && !os.IsNotExist(err) {
		return errors.Wrap(err, "removing stop marker")
	}
	return nil
}

// Flag is an in-process StopSignal.
type Flag struct {
	mu  sync.Mutex
	set bool
}

// Request sets the flag.
func (f *Flag) Request() {
	f.mu.Lock()
	f.set = true
	f.mu.Unlock()
}

// Requested implements StopSignal.
func (f *Flag) Requested() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.set
}
