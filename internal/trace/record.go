// Package trace streams test progress events to an external sink.
//
// A sink receives three kinds of events for one test run: "test_starting"
// before any test line executes, "line" for every reported source position
// inside the test's own file, and "test_ended" when the test returns or
// fails. The sink is created once per run and closed exactly once, even on
// abnormal exit.
package trace

import "time"

// EventType discriminates trace records.
type EventType string

const (
	EventTestStarting EventType = "test_starting"
	EventLine         EventType = "line"
	EventTestEnded    EventType = "test_ended"
)

// TestMeta describes the test whose execution is being traced.
type TestMeta struct {
	// Script is the identifier exactly as given on the command line.
	Script string
	// Filename is the absolute path of the test's source file.
	Filename string
	// Funcname is empty for whole-file tests.
	Funcname string
	// Line is the first line of the test body.
	Line int
}

// Record is a single trace event as persisted by sinks.
//
// Run is a UUIDv7 token shared by all records of one test run; Seq is a
// strictly increasing sequence number within the run, so downstream viewers
// can order events without trusting timestamps.
type Record struct {
	Type     EventType `json:"type"`
	Run      string    `json:"run"`
	Seq      int64     `json:"seq"`
	Time     time.Time `json:"time"`
	Script   string    `json:"script,omitempty"`
	Filename string    `json:"filename,omitempty"`
	Funcname string    `json:"funcname,omitempty"`
	Line     int       `json:"line,omitempty"`
}
