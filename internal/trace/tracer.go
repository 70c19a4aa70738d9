package trace

import (
	"fmt"
	"log/slog"
	"sync"
)

// The line hook is process-wide mutable state with a strict init/teardown
// discipline: installed by exactly one Tracer before the test callable
// runs, removed when it stops, never left installed across runs.
var (
	hookMu sync.Mutex
	hook   *Tracer
)

// EmitLine reports that execution reached filename:line. Called by the
// script engine on every statement and instrumented call site. Events are
// dropped unless a tracer is installed and the file matches the traced
// test's own source file exactly.
func EmitLine(filename string, line int) {
	hookMu.Lock()
	t := hook
	hookMu.Unlock()
	if t == nil || filename != t.filename {
		return
	}
	if err := t.sink.LogCurrentLine(filename, line); err != nil {
		slog.Warn("trace sink rejected line event", "file", filename, "line", line, "error", err)
	}
}

// Tracer scopes the process-wide line hook to one test run.
type Tracer struct {
	sink     Sink
	filename string
	stopOnce sync.Once
}

// Start logs the test_starting event and installs the line hook. The
// filename filter is the test's own absolute source path; lines executed
// in any other file are not reported.
//
// On error the sink is closed: the caller no longer owns it.
func Start(sink Sink, meta TestMeta) (*Tracer, error) {
	t := &Tracer{sink: sink, filename: meta.Filename}

	if err := sink.LogTestStarting(meta); err != nil {
		slog.Warn("trace sink rejected test_starting event", "error", err)
	}

	hookMu.Lock()
	if hook != nil {
		hookMu.Unlock()
		if cerr := sink.Close(); cerr != nil {
			slog.Warn("closing trace sink", "error", cerr)
		}
		return nil, fmt.Errorf("line tracer already installed for %s", hook.filename)
	}
	hook = t
	hookMu.Unlock()
	return t, nil
}

// Stop removes the hook, logs test_ended and closes the sink. It runs its
// teardown exactly once and is safe to defer alongside other cleanup.
func (t *Tracer) Stop() {
	t.stopOnce.Do(func() {
		hookMu.Lock()
		if hook == t {
			hook = nil
		}
		hookMu.Unlock()

		if err := t.sink.LogTestEnded(); err != nil {
			slog.Warn("trace sink rejected test_ended event", "error", err)
		}
		if err := t.sink.Close(); err != nil {
			slog.Warn("closing trace sink", "error", err)
		}
	})
}
