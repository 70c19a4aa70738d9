package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvlab/screentest/internal/trace"
)

// runCLI executes the root command against testdata and returns the exit
// code and everything written to stderr.
func runCLI(t *testing.T, args ...string) (int, string) {
	t.Helper()
	cmd := NewRootCommand()
	var out, errBuf bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&errBuf)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return GetExitCode(err), errBuf.String()
}

// noCapture keeps test runs from dropping screenshot.png in the package
// directory.
var noCapture = []string{"--save-screenshot", "never", "--save-thumbnail", "never"}

func runArgs(script string, extra ...string) []string {
	args := append([]string{"run", "--device", "null:"}, noCapture...)
	args = append(args, script)
	return append(args, extra...)
}

func TestRun_PassingScript(t *testing.T) {
	code, stderr := runCLI(t, runArgs("testdata/pass.star")...)
	assert.Equal(t, ExitSuccess, code)
	assert.NotContains(t, stderr, "FAIL:")
}

func TestRun_FailingScript(t *testing.T) {
	code, stderr := runCLI(t, runArgs("testdata/fail.star")...)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "FAIL: testdata/fail.star: AssertionError: expected banner missing")
	assert.Equal(t, 1, strings.Count(stderr, "FAIL:"))
}

func TestRun_ErroringScript(t *testing.T) {
	code, stderr := runCLI(t, runArgs("testdata/error.star")...)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "FAIL: testdata/error.star:")
}

func TestRun_FunctionForm(t *testing.T) {
	code, _ := runCLI(t, runArgs("testdata/funcs.star::check_ok")...)
	assert.Equal(t, ExitSuccess, code)

	code, stderr := runCLI(t, runArgs("testdata/funcs.star::check_fail")...)
	assert.Equal(t, ExitFailure, code)
	assert.Contains(t, stderr, "AssertionError: menu missing")

	code, stderr = runCLI(t, runArgs("testdata/funcs.star::check_error")...)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "UITestError: backend unreachable")
}

func TestRun_MissingFunction(t *testing.T) {
	code, stderr := runCLI(t, runArgs("testdata/funcs.star::no_such_test")...)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "cannot load test")
}

func TestRun_BadExtension(t *testing.T) {
	code, stderr := runCLI(t, runArgs("testdata/funcs.py::check_ok")...)
	assert.Equal(t, ExitCommandError, code)
	assert.Contains(t, stderr, "FAIL:")
}

func TestRun_MissingScript(t *testing.T) {
	code, _ := runCLI(t, runArgs("testdata/no_such_script.star")...)
	assert.Equal(t, ExitCommandError, code)
}

func TestRun_ArgvPassthrough(t *testing.T) {
	// Everything after the script identifier goes to the script, even
	// when it looks like our own flags.
	code, stderr := runCLI(t, runArgs("testdata/argv.star", "--channel", "4")...)
	assert.Equal(t, ExitSuccess, code, "stderr: %s", stderr)
}

func TestRun_InvalidCaptureMode(t *testing.T) {
	code, _ := runCLI(t, "run", "--device", "null:", "--save-screenshot", "sometimes", "testdata/pass.star")
	assert.Equal(t, ExitCommandError, code)
}

func TestRun_UnknownDevice(t *testing.T) {
	code, _ := runCLI(t, "run", "--device", "warp:drive", "testdata/pass.star")
	assert.Equal(t, ExitCommandError, code)
}

func TestRun_TraceFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "trace.jsonl")
	args := []string{"run", "--device", "null:", "--save-screenshot", "never",
		"--save-thumbnail", "never", "--save-trace", path, "testdata/pass.star"}

	code, _ := runCLI(t, args...)
	require.Equal(t, ExitSuccess, code)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")

	var records []trace.Record
	for _, line := range lines {
		var rec trace.Record
		require.NoError(t, json.Unmarshal([]byte(line), &rec))
		records = append(records, rec)
	}

	require.GreaterOrEqual(t, len(records), 3)
	assert.Equal(t, trace.EventTestStarting, records[0].Type)
	assert.Equal(t, trace.EventTestEnded, records[len(records)-1].Type)

	var lineNumbers []int
	for _, rec := range records[1 : len(records)-1] {
		require.Equal(t, trace.EventLine, rec.Type)
		lineNumbers = append(lineNumbers, rec.Line)
	}
	// Two top-level statements, each also reported by its builtin call.
	assert.Equal(t, []int{1, 1, 2, 2}, lineNumbers)

	for i, rec := range records {
		assert.Equal(t, int64(i+1), rec.Seq)
		assert.Equal(t, records[0].Run, rec.Run)
	}
}
