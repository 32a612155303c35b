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

package progress

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

const barWidth = 30

// Console draws a single progress line, rewritten in place with '\r', and
// serializes it with log lines so the two never interleave. Console
// implements lcdk.Logger.
type Console struct {
	lock    sync.Mutex
	out     io.Writer
	drawn   bool
	verbose bool
}

// NewConsole returns a Console writing to out. If verbose is set Debugf
// lines are printed too.
func NewConsole(out io.Writer, verbose bool) *Console {
	return &Console{out: out, verbose: verbose}
}

// Render redraws the progress line.
func (t *Console) Render(c Counts, speed int64) {
	pct := 0.0
	if c.Total > 0 {
		pct = float64(c.Processed) / float64(c.Total) * 100
	}
	filled := int(pct / 100 * barWidth)
	if filled > barWidth {
		filled = barWidth
	}
	bar := strings.Repeat("#", filled) + strings.Repeat("-", barWidth-filled)

	t.lock.Lock()
	defer t.lock.Unlock()
	fmt.Fprintf(t.out, "\r[PROGRESS] [%s] %.1f%% | Files:%d/%d Rows:%d Speed:%d/s    ",
		bar, pct, c.Processed, c.Total, c.Inserted, speed)
	t.drawn = true
}

// Done ends the progress line.
func (t *Console) Done() {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.drawn {
		fmt.Fprintln(t.out)
		t.drawn = false
	}
}

// Printf prints a line, moving past the progress line first.
func (t *Console) Printf(format string, v ...interface{}) {
	t.lock.Lock()
	defer t.lock.Unlock()
	if t.drawn {
		fmt.Fprintln(t.out)
		t.drawn = false
	}
	fmt.Fprintf(t.out, format, v...)
	if !strings.HasSuffix(format, "\n") {
		fmt.Fprintln(t.out)
	}
}

// Debugf prints like Printf if the console is verbose.
func (t *Console) Debugf(format string, v ...interface{}) {
	if t.verbose {
		t.Printf(format, v...)
	}
}
