package trace

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// Sink receives progress events for a running test.
//
// Lifecycle contract: LogTestStarting is called before the first test line
// executes; LogTestEnded and Close are called exactly once after the test
// returns or fails. Sink errors never abort the test; the tracer reports
// them and carries on.
type Sink interface {
	LogTestStarting(meta TestMeta) error
	LogCurrentLine(filename string, line int) error
	LogTestEnded() error
	Close() error
}

// NewSink builds a sink from the raw trace-output destination argument:
//
//	""              no-op sink
//	tcp:host:port   JSON lines over a TCP connection
//	sqlite:path     events written to a SQLite database
//	anything else   JSON lines appended to a file at that path
func NewSink(dest string) (Sink, error) {
	switch {
	case dest == "":
		return NopSink{}, nil
	case strings.HasPrefix(dest, "tcp:"):
		conn, err := net.Dial("tcp", strings.TrimPrefix(dest, "tcp:"))
		if err != nil {
			return nil, fmt.Errorf("trace sink: %w", err)
		}
		return NewJSONLinesSink(conn), nil
	case strings.HasPrefix(dest, "sqlite:"):
		return newSQLiteSink(strings.TrimPrefix(dest, "sqlite:"))
	default:
		f, err := os.OpenFile(dest, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("trace sink: %w", err)
		}
		return NewJSONLinesSink(f), nil
	}
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) LogTestStarting(TestMeta) error   { return nil }
func (NopSink) LogCurrentLine(string, int) error { return nil }
func (NopSink) LogTestEnded() error              { return nil }
func (NopSink) Close() error                     { return nil }

// SinkOption customizes sink construction. Tests use these to pin the run
// token and timestamps for golden comparison.
type SinkOption func(*sinkConfig)

type sinkConfig struct {
	run string
	now func() time.Time
}

// WithRunToken fixes the run token instead of generating a UUIDv7.
func WithRunToken(run string) SinkOption {
	return func(c *sinkConfig) { c.run = run }
}

// WithNow overrides the wall-clock source for record timestamps.
func WithNow(now func() time.Time) SinkOption {
	return func(c *sinkConfig) { c.now = now }
}

func newSinkConfig(opts []SinkOption) sinkConfig {
	c := sinkConfig{run: newRunToken(), now: time.Now}
	for _, o := range opts {
		o(&c)
	}
	return c
}
