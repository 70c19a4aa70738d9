package testutil

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"sync"
	"time"

	"github.com/tvlab/screentest/internal/device"
)

// SolidFrame builds a single-color frame for tests.
func SolidFrame(w, h int, c color.Color) device.Frame {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return device.Frame{Image: img, Time: time.Unix(1700000000, 0)}
}

// FakeDevice is a scripted device double. CaptureFrame serves Frames in
// order, repeating the last one; injected errors let tests exercise the
// harness's broken-device paths.
type FakeDevice struct {
	mu sync.Mutex

	Frames     []device.Frame
	ConnectErr error
	CaptureErr error
	CloseErr   error
	PressErr   error

	connected bool
	idx       int
	last      device.Frame

	Pressed    []string
	CloseCalls int
}

var _ device.Device = (*FakeDevice)(nil)

func (d *FakeDevice) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.ConnectErr != nil {
		return d.ConnectErr
	}
	d.connected = true
	return nil
}

func (d *FakeDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	d.CloseCalls++
	return d.CloseErr
}

func (d *FakeDevice) Connected() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.connected
}

func (d *FakeDevice) LastFrame() (device.Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.last.OK()
}

// SetLastFrame seeds the "most recent frame" without a capture.
func (d *FakeDevice) SetLastFrame(f device.Frame) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.last = f
}

func (d *FakeDevice) CaptureFrame(context.Context) (device.Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.CaptureErr != nil {
		return device.Frame{}, d.CaptureErr
	}
	if len(d.Frames) == 0 {
		return device.Frame{}, fmt.Errorf("fake device has no frames")
	}
	f := d.Frames[d.idx]
	if d.idx < len(d.Frames)-1 {
		d.idx++
	}
	d.last = f
	return f, nil
}

func (d *FakeDevice) PressKey(_ context.Context, key string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.PressErr != nil {
		return d.PressErr
	}
	d.Pressed = append(d.Pressed, key)
	return nil
}
