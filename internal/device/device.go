// Package device defines the device-under-test handle used by the harness.
//
// A Device is acquired for the lifetime of exactly one test run. The harness
// guarantees that Close is called on every exit path, including when the
// test fails. Concrete implementations are selected by URI scheme, e.g.
// "null:" or "file:frames.png".
package device

import (
	"context"
	"fmt"
	"image"
	"sort"
	"strings"
	"sync"
	"time"
)

// Frame is a single video frame captured from the device.
type Frame struct {
	// Image holds the decoded frame. Nil means "no frame".
	Image image.Image

	// Time is when the frame was captured.
	Time time.Time
}

// OK reports whether the frame holds image data.
func (f Frame) OK() bool {
	return f.Image != nil
}

// Device is the handle to the device under test.
//
// Connect and Close bracket the device's scoped lifetime. LastFrame returns
// the most recently seen frame without touching the device connection, which
// lets diagnostics avoid re-querying a possibly-broken device after a
// failure. CaptureFrame requests a fresh frame.
type Device interface {
	Connect(ctx context.Context) error
	Close() error

	// LastFrame returns the most recent frame if a live display connection
	// exists. The second return value is false when no frame is available.
	LastFrame() (Frame, bool)

	// CaptureFrame grabs a fresh frame from the device.
	CaptureFrame(ctx context.Context) (Frame, error)

	// PressKey sends a remote-control keypress to the device.
	PressKey(ctx context.Context, key string) error
}

// Factory constructs a Device from the remainder of its URI (everything
// after "scheme:").
type Factory func(rest string) (Device, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

// Register associates a URI scheme with a device factory. Typically called
// from an implementation's init.
func Register(scheme string, f Factory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	registry[scheme] = f
}

// New resolves a device URI ("scheme:rest") to a Device.
func New(uri string) (Device, error) {
	scheme, rest, ok := strings.Cut(uri, ":")
	if !ok {
		return nil, fmt.Errorf("device URI %q has no scheme", uri)
	}

	registryMu.RLock()
	f, found := registry[scheme]
	registryMu.RUnlock()
	if !found {
		return nil, fmt.Errorf("unknown device scheme %q (known: %s)", scheme, strings.Join(schemes(), ", "))
	}
	return f(rest)
}

func schemes() []string {
	var out []string
	for s := range registry {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
