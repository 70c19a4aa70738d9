// Package testutil provides in-memory doubles for the trace sink and the
// device under test, so harness behavior can be asserted without hardware
// or real sinks.
package testutil

import (
	"sync"

	"github.com/tvlab/screentest/internal/trace"
)

// LineEvent is one recorded line report.
type LineEvent struct {
	Filename string
	Line     int
}

// RecordingSink captures every sink call in order for assertions.
type RecordingSink struct {
	mu sync.Mutex

	Started []trace.TestMeta
	Lines   []LineEvent
	Ended   int
	Closed  int

	// Errs, when set, is returned from every logging method.
	Errs error
}

var _ trace.Sink = (*RecordingSink)(nil)

func (s *RecordingSink) LogTestStarting(meta trace.TestMeta) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Started = append(s.Started, meta)
	return s.Errs
}

func (s *RecordingSink) LogCurrentLine(filename string, line int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Lines = append(s.Lines, LineEvent{Filename: filename, Line: line})
	return s.Errs
}

func (s *RecordingSink) LogTestEnded() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Ended++
	return s.Errs
}

func (s *RecordingSink) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Closed++
	return nil
}

// LineNumbers flattens the recorded line events for one file.
func (s *RecordingSink) LineNumbers(filename string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []int
	for _, ev := range s.Lines {
		if ev.Filename == filename {
			out = append(out, ev.Line)
		}
	}
	return out
}
