package script

import "fmt"

// LoadErrorKind distinguishes the two structural ways a test identifier
// can fail to load. Errors raised by the script's own code propagate
// unmodified and are not LoadErrors.
type LoadErrorKind int

const (
	// InvalidModule means the identifier's path does not name a test
	// script (wrong extension).
	InvalidModule LoadErrorKind = iota

	// AttributeNotFound means the named function does not exist in the
	// loaded script, or is not callable.
	AttributeNotFound
)

func (k LoadErrorKind) String() string {
	switch k {
	case InvalidModule:
		return "invalid module"
	case AttributeNotFound:
		return "attribute not found"
	}
	return "unknown"
}

// LoadError is a structural failure to resolve a test identifier. Always
// fatal, reported before any test line executes; the harness never
// attempts screenshot capture for it.
type LoadError struct {
	Kind   LoadErrorKind
	Script string
	Detail string
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("cannot load test %q: %s: %s", e.Script, e.Kind, e.Detail)
}
