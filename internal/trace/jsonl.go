package trace

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
)

// JSONLinesSink writes one JSON record per line to an arbitrary writer.
// It backs both the file and TCP trace destinations.
type JSONLinesSink struct {
	cfg   sinkConfig
	clock clock

	mu   sync.Mutex
	w    io.WriteCloser
	enc  *json.Encoder
	once sync.Once
}

// NewJSONLinesSink wraps w in a sink. The sink owns w and closes it.
func NewJSONLinesSink(w io.WriteCloser, opts ...SinkOption) *JSONLinesSink {
	return &JSONLinesSink{
		cfg: newSinkConfig(opts),
		w:   w,
		enc: json.NewEncoder(w),
	}
}

func (s *JSONLinesSink) emit(rec Record) error {
	rec.Run = s.cfg.run
	rec.Seq = s.clock.next()
	rec.Time = s.cfg.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(rec); err != nil {
		return fmt.Errorf("trace sink: %w", err)
	}
	return nil
}

func (s *JSONLinesSink) LogTestStarting(meta TestMeta) error {
	return s.emit(Record{
		Type:     EventTestStarting,
		Script:   meta.Script,
		Filename: meta.Filename,
		Funcname: meta.Funcname,
		Line:     meta.Line,
	})
}

func (s *JSONLinesSink) LogCurrentLine(filename string, line int) error {
	return s.emit(Record{Type: EventLine, Filename: filename, Line: line})
}

func (s *JSONLinesSink) LogTestEnded() error {
	return s.emit(Record{Type: EventTestEnded})
}

// Close closes the underlying writer. Safe to call more than once; only
// the first call takes effect.
func (s *JSONLinesSink) Close() error {
	var err error
	s.once.Do(func() { err = s.w.Close() })
	return err
}
