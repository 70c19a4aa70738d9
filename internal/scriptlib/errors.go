package scriptlib

import (
	"errors"
	"fmt"
	"time"

	"github.com/tvlab/screentest/internal/device"
)

// The error taxonomy mirrors the exit-code contract: failure-class errors
// (assertions, UI test failures, match/motion timeouts) mean "the test ran
// and found a problem" and map to exit code 1; everything else is an
// unexpected error and maps to exit code 2.

// failureClass marks errors belonging to the test-failure category.
type failureClass interface {
	testFailure()
}

// TestFailure is the base failure raised by scripts and primitives when
// the device's UI is not in the expected state.
type TestFailure struct {
	Msg string

	// Frame is the screenshot attached to the failure, if the failing
	// primitive had one in hand. The harness prefers it over re-querying
	// the device.
	Frame device.Frame
}

func (e *TestFailure) Error() string { return e.Msg }
func (e *TestFailure) testFailure()  {}

// Screenshot returns the frame attached to the failure, if any.
func (e *TestFailure) Screenshot() (device.Frame, bool) {
	return e.Frame, e.Frame.OK()
}

// MatchTimeout is raised when wait_for_match gives up.
type MatchTimeout struct {
	TestFailure
	Reference string
	Timeout   time.Duration
}

// MotionTimeout is raised when wait_for_motion gives up.
type MotionTimeout struct {
	TestFailure
	Timeout time.Duration
}

// AssertionError is raised by a failing assert_that. Filename and Line
// locate the failing call so the reporter can quote its source text when
// no message was given.
type AssertionError struct {
	Msg      string
	Filename string
	Line     int
}

func (e *AssertionError) Error() string {
	if e.Msg == "" {
		return "assertion failed"
	}
	return e.Msg
}

func (e *AssertionError) testFailure() {}

// TestError is raised for problems with the test infrastructure itself
// rather than the device under test.
type TestError struct {
	Msg string
}

func (e *TestError) Error() string { return e.Msg }

// ConfigurationError indicates an invalid harness or script configuration.
type ConfigurationError struct {
	Msg string
}

func (e *ConfigurationError) Error() string { return e.Msg }

// IsFailure reports whether err belongs to the test-failure category.
func IsFailure(err error) bool {
	var f failureClass
	return errors.As(err, &f)
}

// Screenshot extracts a frame attached anywhere in err's chain.
func Screenshot(err error) (device.Frame, bool) {
	var carrier interface {
		Screenshot() (device.Frame, bool)
	}
	if errors.As(err, &carrier) {
		return carrier.Screenshot()
	}
	return device.Frame{}, false
}

// TypeName names err's category the way the failure report prints it.
func TypeName(err error) string {
	for _, probe := range []struct {
		name   string
		target any
	}{
		{"AssertionError", new(*AssertionError)},
		{"MatchTimeout", new(*MatchTimeout)},
		{"MotionTimeout", new(*MotionTimeout)},
		{"UITestFailure", new(*TestFailure)},
		{"ConfigurationError", new(*ConfigurationError)},
		{"UITestError", new(*TestError)},
	} {
		if errors.As(err, probe.target) {
			return probe.name
		}
	}
	return fmt.Sprintf("%T", unwrapAll(err))
}

func unwrapAll(err error) error {
	for {
		inner := errors.Unwrap(err)
		if inner == nil {
			return err
		}
		err = inner
	}
}
