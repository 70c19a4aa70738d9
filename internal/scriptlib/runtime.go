// Package scriptlib implements the test-support library exposed to
// Starlark test scripts: remote-control keypresses, frame capture,
// match/motion waits, assertions, and the failure types the harness's
// exit-code contract is built on.
//
// Every builtin reports its call site to the line tracer before doing any
// work, which is what gives an external viewer call-site-granularity
// progress inside function bodies (top-level statements are traced by the
// script loader itself).
package scriptlib

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"os"
	"path/filepath"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/tvlab/screentest/internal/device"
	"github.com/tvlab/screentest/internal/trace"
)

// CompatSymbols is the frozen allow-list of names re-exported bare into a
// whole-file test's namespace, so existing scripts keep working without an
// explicit module qualifier. New API goes on the `screentest` module
// handle only; this list never grows.
var CompatSymbols = []string{
	"press",
	"press_until_match",
	"wait_for_match",
	"wait_for_motion",
	"detect_match",
	"detect_motion",
	"get_frame",
	"save_frame",
	"match_parameters",
	"debug",
	"assert_that",
	"UITestError",
	"UITestFailure",
	"MatchTimeout",
	"MotionTimeout",
	"ConfigurationError",
}

// Runtime binds the script-facing builtins to one device and one run's
// argument vector. A Runtime is created once per process.
type Runtime struct {
	ctx     context.Context
	dev     device.Device
	argv    []string
	matcher Matcher
	stdout  io.Writer

	// dir is the directory of the running script; reference image paths
	// resolve against it. Set by the loader once the script is resolved.
	dir string
}

// Option customizes a Runtime.
type Option func(*Runtime)

// WithMatcher replaces the default mean-difference matcher.
func WithMatcher(m Matcher) Option {
	return func(r *Runtime) { r.matcher = m }
}

// WithStdout redirects script print output.
func WithStdout(w io.Writer) Option {
	return func(r *Runtime) { r.stdout = w }
}

// NewRuntime creates a runtime for one test run. argv is the script
// identifier followed by its trailing arguments, the vector a whole-file
// test observes as its own.
func NewRuntime(ctx context.Context, dev device.Device, argv []string, opts ...Option) *Runtime {
	r := &Runtime{
		ctx:     ctx,
		dev:     dev,
		argv:    argv,
		matcher: meanDiffMatcher{},
		stdout:  os.Stdout,
	}
	for _, o := range opts {
		o(r)
	}
	return r
}

// SetScriptDir records the resolved script's directory for reference image
// lookup. Called by the loader.
func (r *Runtime) SetScriptDir(dir string) {
	r.dir = dir
}

// NewThread creates a Starlark thread with script print output wired up.
func (r *Runtime) NewThread(name string) *starlark.Thread {
	return &starlark.Thread{
		Name: name,
		Print: func(_ *starlark.Thread, msg string) {
			fmt.Fprintln(r.stdout, msg)
		},
	}
}

// Module returns the `screentest` module handle given to every script.
func (r *Runtime) Module() *starlarkstruct.Module {
	members := starlark.StringDict{
		"argv":       r.argvList(),
		"checkpoint": r.checkpointBuiltin(),
	}
	for name, v := range r.compat() {
		members[name] = v
	}
	return &starlarkstruct.Module{Name: "screentest", Members: members}
}

// CompatGlobals returns bare bindings for exactly the names in
// CompatSymbols.
func (r *Runtime) CompatGlobals() starlark.StringDict {
	return r.compat()
}

// ArgvList returns the script's argument vector as a Starlark list.
func (r *Runtime) ArgvList() *starlark.List {
	return r.argvList()
}

func (r *Runtime) argvList() *starlark.List {
	elems := make([]starlark.Value, len(r.argv))
	for i, a := range r.argv {
		elems[i] = starlark.String(a)
	}
	return starlark.NewList(elems)
}

func (r *Runtime) compat() starlark.StringDict {
	d := starlark.StringDict{
		"press":              r.pressBuiltin(),
		"press_until_match":  r.pressUntilMatchBuiltin(),
		"wait_for_match":     r.waitForMatchBuiltin(),
		"wait_for_motion":    r.waitForMotionBuiltin(),
		"detect_match":       r.detectMatchBuiltin(),
		"detect_motion":      r.detectMotionBuiltin(),
		"get_frame":          r.getFrameBuiltin(),
		"save_frame":         r.saveFrameBuiltin(),
		"match_parameters":   r.matchParametersBuiltin(),
		"debug":              r.debugBuiltin(),
		"assert_that":        r.assertThatBuiltin(),
		"UITestError":        raiser("UITestError", func(msg string) error { return &TestError{Msg: msg} }),
		"UITestFailure":      raiser("UITestFailure", func(msg string) error { return &TestFailure{Msg: msg} }),
		"MatchTimeout":       raiser("MatchTimeout", func(msg string) error { return &MatchTimeout{TestFailure: TestFailure{Msg: msg}} }),
		"MotionTimeout":      raiser("MotionTimeout", func(msg string) error { return &MotionTimeout{TestFailure: TestFailure{Msg: msg}} }),
		"ConfigurationError": raiser("ConfigurationError", func(msg string) error { return &ConfigurationError{Msg: msg} }),
	}
	return d
}

// reportCall forwards the caller's source position to the line tracer.
func reportCall(th *starlark.Thread) {
	if th.CallStackDepth() < 2 {
		return
	}
	pos := th.CallFrame(1).Pos
	trace.EmitLine(pos.Filename(), int(pos.Line))
}

// callerPos returns the script position of the frame that called the
// current builtin.
func callerPos(th *starlark.Thread) (string, int) {
	if th.CallStackDepth() < 2 {
		return "", 0
	}
	pos := th.CallFrame(1).Pos
	return pos.Filename(), int(pos.Line)
}

// loadReference decodes a reference image, resolving relative paths
// against the script's own directory.
func (r *Runtime) loadReference(path string) (image.Image, error) {
	resolved := path
	if !filepath.IsAbs(resolved) && r.dir != "" {
		resolved = filepath.Join(r.dir, resolved)
	}
	f, err := os.Open(resolved)
	if err != nil {
		return nil, &TestError{Msg: fmt.Sprintf("reference image: %v", err)}
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return nil, &TestError{Msg: fmt.Sprintf("reference image %s: %v", resolved, err)}
	}
	return img, nil
}

// raiser builds a builtin that constructs and immediately raises an error,
// approximating `raise SomeError("msg")`.
func raiser(name string, mk func(msg string) error) *starlark.Builtin {
	return starlark.NewBuiltin(name, func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		msg := ""
		if err := starlark.UnpackArgs(name, args, kwargs, "msg?", &msg); err != nil {
			return nil, err
		}
		if msg == "" {
			msg = name
		}
		return nil, mk(msg)
	})
}
