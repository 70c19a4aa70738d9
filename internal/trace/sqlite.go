package trace

import (
	"context"
	"sync"

	"github.com/tvlab/screentest/internal/store"
)

// sqliteSink persists trace events to a SQLite database via the store
// package, so a viewer can follow a run with plain SQL.
type sqliteSink struct {
	cfg   sinkConfig
	clock clock
	st    *store.Store
	once  sync.Once
}

func newSQLiteSink(path string, opts ...SinkOption) (*sqliteSink, error) {
	st, err := store.Open(path)
	if err != nil {
		return nil, err
	}
	return &sqliteSink{cfg: newSinkConfig(opts), st: st}, nil
}

func (s *sqliteSink) emit(rec Record) error {
	return s.st.WriteEvent(context.Background(), store.Event{
		Run:      s.cfg.run,
		Seq:      s.clock.next(),
		Type:     string(rec.Type),
		Script:   rec.Script,
		Filename: rec.Filename,
		Funcname: rec.Funcname,
		Line:     rec.Line,
		At:       s.cfg.now(),
	})
}

func (s *sqliteSink) LogTestStarting(meta TestMeta) error {
	return s.emit(Record{
		Type:     EventTestStarting,
		Script:   meta.Script,
		Filename: meta.Filename,
		Funcname: meta.Funcname,
		Line:     meta.Line,
	})
}

func (s *sqliteSink) LogCurrentLine(filename string, line int) error {
	return s.emit(Record{Type: EventLine, Filename: filename, Line: line})
}

func (s *sqliteSink) LogTestEnded() error {
	return s.emit(Record{Type: EventTestEnded})
}

func (s *sqliteSink) Close() error {
	var err error
	s.once.Do(func() { err = s.st.Close() })
	return err
}
