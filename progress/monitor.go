package progress

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/pilosa/lcdk"
)

// DefaultInterval is the time between samples.
const DefaultInterval = time.Second

// Monitor samples a Counter until the job finishes or a stop is requested.
// A stop only ends reporting: whoever runs the job decides whether to honor
// it.
type Monitor struct {
	Counter  Counter
	Sink     Sink
	Stop     StopSignal
	Interval time.Duration
	Console  *Console
	Log      lcdk.Logger

	// Start is when the job began. It defaults to when Run is called.
	Start time.Time

	stopped int32
}

// Run samples every Interval until done is closed, ctx is canceled, or the
// stop signal is seen. It writes a final completed, error or stopped
// snapshot and returns that status.
func (m *Monitor) Run(ctx context.Context, done <-chan struct{}) Status {
	interval := m.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	if m.Start.IsZero() {
		m.Start = time.Now()
	}
	tick := time.NewTicker(interval)
	defer tick.Stop()

	last := m.Counter.Counts().Inserted
	lastAt := time.Now()
	for {
		select {
		case <-done:
			c := m.Counter.Counts()
			s := NewSnapshot(Completed, "Import completed", c, time.Since(m.Start))
			s.Percent = 100
			m.write(s)
			if m.Console != nil {
				m.Console.Render(c, 0)
				m.Console.Done()
			}
			return Completed
		case <-ctx.Done():
			m.write(NewSnapshot(Error, "Canceled: "+ctx.Err().Error(), m.Counter.Counts(), time.Since(m.Start)))
			return Error
		case <-tick.C:
		}

		if m.Stop != nil && m.Stop.Requested() {
			atomic.StoreInt32(&m.stopped, 1)
			m.write(Message(Stopped, 0, "Stopped by user"))
			if m.Console != nil {
				m.Console.Done()
			}
			return Stopped
		}

		c := m.Counter.Counts()
		now := time.Now()
		speed := int64(0)
		if secs := now.Sub(lastAt).Seconds(); secs > 0 {
			speed = int64(float64(c.Inserted-last) / secs)
		}
		last, lastAt = c.Inserted, now
		msg := fmt.Sprintf("Processing: %d/%d files, %d rows/s", c.Processed, c.Total, speed)
		m.write(NewSnapshot(Running, msg, c, time.Since(m.Start)))
		if m.Console != nil {
			m.Console.Render(c, speed)
		}
	}
}

// Stopped reports whether Run returned because a stop was requested.
func (m *Monitor) Stopped() bool {
	return atomic.LoadInt32(&m.stopped) == 1
}

func (m *Monitor) write(s Snapshot) {
	if m.Sink == nil {
		return
	}
	if err := m.Sink.Write(s); err != nil && m.Log != nil {
		m.Log.Printf("writing progress: %v", err)
	}
}
