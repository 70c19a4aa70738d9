package harness

import "fmt"

// CaptureMode says when a diagnostic artifact should be saved.
type CaptureMode int

const (
	CaptureNever CaptureMode = iota
	CaptureOnFailure
	CaptureAlways
)

func (m CaptureMode) String() string {
	switch m {
	case CaptureNever:
		return "never"
	case CaptureOnFailure:
		return "on_failure"
	case CaptureAlways:
		return "always"
	}
	return fmt.Sprintf("CaptureMode(%d)", int(m))
}

// ParseCaptureMode parses a flag or config value.
func ParseCaptureMode(s string) (CaptureMode, error) {
	switch s {
	case "never":
		return CaptureNever, nil
	case "on_failure":
		return CaptureOnFailure, nil
	case "always":
		return CaptureAlways, nil
	}
	return CaptureNever, fmt.Errorf("invalid capture mode %q: must be never, on_failure or always", s)
}
