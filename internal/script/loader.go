// Package script resolves a test identifier to a callable TestFunction.
//
// Two identifier forms are supported:
//
//	path/to/test.star::check_menu   a single function in a script
//	path/to/test.star               the whole file, run like a program
//
// Whole-file execution is statement-stepped: each top-level statement's
// line is reported to the line tracer before it runs, so an external
// viewer can follow the test's position. Inside function bodies the
// tracer falls back to call-site granularity (see scriptlib).
package script

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/tvlab/screentest/internal/scriptlib"
	"github.com/tvlab/screentest/internal/trace"
)

// Extension is the required suffix for test scripts named with the
// path::function form.
const Extension = ".star"

// TestFunction is the loadable unit of work produced by Load. Created
// once, read-only afterwards; Call is meant to be invoked exactly once
// per process.
type TestFunction struct {
	// Script is the identifier exactly as given by the caller.
	Script string
	// Filename is the absolute path of the script's source file.
	Filename string
	// Funcname is empty for whole-file tests.
	Funcname string
	// Line is the first source line of the test body.
	Line int
	// Call executes the test.
	Call func() error
}

// Meta describes the test to the trace sink.
func (tf *TestFunction) Meta() trace.TestMeta {
	return trace.TestMeta{
		Script:   tf.Script,
		Filename: tf.Filename,
		Funcname: tf.Funcname,
		Line:     tf.Line,
	}
}

// Script dialect: script-like statements are allowed at the top level,
// globals may be reassigned (scripts shadow compat names freely), and
// recursion is permitted the way it is in a general-purpose language.
var fileOptions = &syntax.FileOptions{
	Set:             true,
	While:           true,
	TopLevelControl: true,
	GlobalReassign:  true,
	// load() must bind at module scope so names imported by one top-level
	// statement are visible to the statements stepped after it.
	LoadBindsGlobally: true,
	Recursion:         true,
}

// Load resolves a test identifier into a TestFunction, or fails with a
// *LoadError for the two structural cases (bad extension, missing
// attribute). Errors raised by the script's own top-level code while
// importing propagate unmodified.
func Load(identifier string, rt *scriptlib.Runtime) (*TestFunction, error) {
	if path, funcname, ok := strings.Cut(identifier, "::"); ok {
		return loadFunction(identifier, path, funcname, rt)
	}
	return loadWholeFile(identifier, rt)
}

func loadFunction(identifier, path, funcname string, rt *scriptlib.Runtime) (*TestFunction, error) {
	if filepath.Ext(path) != Extension {
		return nil, &LoadError{
			Kind:   InvalidModule,
			Script: identifier,
			Detail: fmt.Sprintf("%s does not end in %s", path, Extension),
		}
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(abs)
	rt.SetScriptDir(dir)
	load := newLoader(rt, dir)

	// Import the script as a module: its top-level code runs now, before
	// the test proper. Script-raised errors propagate as-is.
	thread := rt.NewThread("import " + identifier)
	thread.Load = load
	globals, err := starlark.ExecFileOptions(fileOptions, thread, abs, src, moduleEnv(rt))
	if err != nil {
		return nil, err
	}

	v, ok := globals[funcname]
	if !ok {
		return nil, &LoadError{
			Kind:   AttributeNotFound,
			Script: identifier,
			Detail: fmt.Sprintf("%s has no function %q", path, funcname),
		}
	}
	callable, ok := v.(starlark.Callable)
	if !ok {
		return nil, &LoadError{
			Kind:   AttributeNotFound,
			Script: identifier,
			Detail: fmt.Sprintf("%s.%s is %s, not a function", path, funcname, v.Type()),
		}
	}

	line := 1
	if fn, ok := v.(*starlark.Function); ok {
		line = int(fn.Position().Line)
	}

	return &TestFunction{
		Script:   identifier,
		Filename: abs,
		Funcname: funcname,
		Line:     line,
		Call: func() error {
			th := rt.NewThread(identifier)
			th.Load = load
			_, err := starlark.Call(th, callable, nil, nil)
			return err
		},
	}, nil
}

func loadWholeFile(identifier string, rt *scriptlib.Runtime) (*TestFunction, error) {
	abs, err := filepath.Abs(identifier)
	if err != nil {
		return nil, err
	}
	// Read eagerly: a TestFunction's filename always names an existing,
	// readable file.
	src, err := os.ReadFile(abs)
	if err != nil {
		return nil, err
	}

	dir := filepath.Dir(abs)
	rt.SetScriptDir(dir)
	load := newLoader(rt, dir)

	return &TestFunction{
		Script:   identifier,
		Filename: abs,
		Funcname: "",
		Line:     1,
		Call: func() error {
			f, err := fileOptions.Parse(abs, src, 0)
			if err != nil {
				return err
			}

			th := rt.NewThread(identifier)
			th.Load = load
			globals := wholeFileEnv(rt, abs)

			// Execute statement by statement so the tracer sees every
			// top-level line in execution order.
			for _, stmt := range f.Stmts {
				start, _ := stmt.Span()
				trace.EmitLine(abs, int(start.Line))
				chunk := &syntax.File{
					Options: f.Options,
					Path:    f.Path,
					Stmts:   []syntax.Stmt{stmt},
				}
				if err := starlark.ExecREPLChunk(chunk, th, globals); err != nil {
					return err
				}
			}
			return nil
		},
	}, nil
}

// moduleEnv is the environment for scripts imported with the
// path::function form: just the library handle, like any other module.
func moduleEnv(rt *scriptlib.Runtime) starlark.StringDict {
	return starlark.StringDict{"screentest": rt.Module()}
}

// wholeFileEnv fabricates the namespace a whole-file test runs in: the
// main-program markers, the library handle, the script's argv, and the
// frozen compatibility re-exports. Nothing else.
func wholeFileEnv(rt *scriptlib.Runtime, abs string) starlark.StringDict {
	env := starlark.StringDict{
		"__name__":   starlark.String("__main__"),
		"__file__":   starlark.String(abs),
		"screentest": rt.Module(),
		"argv":       rt.ArgvList(),
	}
	for name, v := range rt.CompatGlobals() {
		env[name] = v
	}
	return env
}

// newLoader returns a load() implementation resolving module paths
// against the test script's directory, with result caching and cycle
// detection.
func newLoader(rt *scriptlib.Runtime, dir string) func(*starlark.Thread, string) (starlark.StringDict, error) {
	type entry struct {
		globals starlark.StringDict
		err     error
	}
	cache := map[string]*entry{}

	var load func(*starlark.Thread, string) (starlark.StringDict, error)
	load = func(_ *starlark.Thread, module string) (starlark.StringDict, error) {
		path := module
		if !filepath.IsAbs(path) {
			path = filepath.Join(dir, module)
		}

		e, seen := cache[path]
		if e == nil {
			if seen {
				return nil, fmt.Errorf("cycle in load graph at %s", module)
			}
			cache[path] = nil // in progress

			var globals starlark.StringDict
			src, err := os.ReadFile(path)
			if err == nil {
				th := rt.NewThread("load " + module)
				th.Load = load
				globals, err = starlark.ExecFileOptions(fileOptions, th, path, src, moduleEnv(rt))
			}
			e = &entry{globals: globals, err: err}
			cache[path] = e
		}
		return e.globals, e.err
	}
	return load
}
