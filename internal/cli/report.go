package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"go.starlark.net/starlark"
	"golang.org/x/text/unicode/norm"

	"github.com/tvlab/screentest/internal/scriptlib"
)

var failLineColor = color.New(color.FgRed, color.Bold)

// Report classifies a finished run's outcome, writes the human-readable
// failure report to w, and returns the exit code: 0 for success, 1 for
// test failures, 2 for everything else.
//
// On failure exactly one FAIL line is written, followed by the full
// backtrace. The message is NFC-normalized so non-ASCII text never
// triggers a secondary encoding problem on the way out.
func Report(w io.Writer, script string, err error) int {
	if err == nil {
		return ExitSuccess
	}

	msg := norm.NFC.String(failureMessage(err))
	failLineColor.Fprintf(w, "FAIL: %s: %s: %s\n", script, scriptlib.TypeName(err), msg)
	writeBacktrace(w, err)

	if scriptlib.IsFailure(err) {
		return ExitFailure
	}
	return ExitCommandError
}

// failureMessage derives the message for the FAIL line. A plain assertion
// with no message falls back to the literal source text of the failing
// line; an assertion message that merely looks falsy ("0", "False") is
// still a message and is used as-is.
func failureMessage(err error) string {
	var ae *scriptlib.AssertionError
	if errors.As(err, &ae) && ae.Msg == "" {
		if text := sourceLine(ae.Filename, ae.Line); text != "" {
			return text
		}
		return ae.Error()
	}

	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		return evalErr.Msg
	}
	return err.Error()
}

func writeBacktrace(w io.Writer, err error) {
	var evalErr *starlark.EvalError
	if errors.As(err, &evalErr) {
		fmt.Fprintln(w, evalErr.Backtrace())
		return
	}
	fmt.Fprintf(w, "%v\n", err)
}

// sourceLine returns the trimmed text of one line of a source file, or ""
// when it cannot be read.
func sourceLine(filename string, line int) string {
	if filename == "" || line <= 0 {
		return ""
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return ""
	}
	lines := strings.Split(string(data), "\n")
	if line > len(lines) {
		return ""
	}
	return strings.TrimSpace(lines[line-1])
}
