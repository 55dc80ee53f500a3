// Package logsink is the broker's stderr writer: a single Sink, line
// oriented, fencing every write behind the process signal mask so a
// partially-formatted line is never torn by a signal handler running
// mid-write, grounded on program.cpp's print_log/print_text.
package logsink

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// maxLine caps a single formatted log line. A line that would exceed
// it is dropped rather than truncated or written in pieces, matching
// the silent-drop-on-oversized-line behavior the design calls for.
const maxLine = 4096

// masker is the subset of signalbridge.Bridge the sink fences writes
// with. Satisfied by *signalbridge.Bridge in production; tests can
// pass nil to skip fencing entirely.
type masker interface {
	Block() error
	Unblock() error
}

// Sink is a line-oriented stderr writer. The zero value is not usable;
// construct with New.
type Sink struct {
	mu         sync.Mutex
	w          io.Writer
	mask       masker
	Timestamps bool
	Origin     string
	written    int64
}

// New builds a Sink writing to w (typically os.Stderr), fencing each
// write through mask. mask may be nil, in which case writes are not
// fenced at all — appropriate for tests that never run under a real
// signal handler.
func New(w io.Writer, mask masker) *Sink {
	return &Sink{w: w, mask: mask, Timestamps: true}
}

// NewStderr is the production constructor: writes to os.Stderr with
// timestamps enabled.
func NewStderr(mask masker) *Sink {
	return New(os.Stderr, mask)
}

// Logf formats and writes one line. A trailing newline is always
// appended if the formatted text doesn't already end in one. Lines
// that would exceed maxLine once formatted (including prefixes) are
// dropped silently, per §7(e) of the design.
func (s *Sink) Logf(format string, args ...any) {
	line := fmt.Sprintf(format, args...)

	var prefix string
	if s.Timestamps {
		prefix += time.Now().UTC().Format("2006-01-02 15:04:05") + " :: "
	}
	if s.Origin != "" {
		prefix += s.Origin + ": "
	}

	full := prefix + line
	if len(full) > 0 && full[len(full)-1] != '\n' {
		full += "\n"
	}
	if len(full) > maxLine {
		return
	}

	s.write(full)
}

func (s *Sink) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.mask != nil {
		if err := s.mask.Block(); err == nil {
			defer s.mask.Unblock()
		}
	}

	n, err := io.WriteString(s.w, line)
	if err == nil {
		s.written += int64(n)
	}
}

// BytesWritten returns the running total of bytes successfully
// written, mirroring program.cpp's PROGRAM::log_size.
func (s *Sink) BytesWritten() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.written
}
