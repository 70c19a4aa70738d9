package device

import (
	"context"
	"fmt"
	"image"
	"image/color"
	"log/slog"
	"sync"
	"time"
)

func init() {
	Register("null", newNullDevice)
}

// nullDevice is a device with no backing hardware. Keypresses are logged
// and discarded; captured frames are synthetic solid-gray images. Useful
// for dry runs and for exercising the harness without a device.
type nullDevice struct {
	mu        sync.Mutex
	connected bool
	last      Frame
}

func newNullDevice(string) (Device, error) {
	return &nullDevice{}, nil
}

func (d *nullDevice) Connect(context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return fmt.Errorf("null device already connected")
	}
	d.connected = true
	return nil
}

func (d *nullDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *nullDevice) LastFrame() (Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.last.OK()
}

func (d *nullDevice) CaptureFrame(context.Context) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return Frame{}, fmt.Errorf("null device not connected")
	}

	img := image.NewRGBA(image.Rect(0, 0, 1280, 720))
	gray := color.RGBA{R: 0x80, G: 0x80, B: 0x80, A: 0xff}
	for y := 0; y < 720; y++ {
		for x := 0; x < 1280; x++ {
			img.SetRGBA(x, y, gray)
		}
	}
	d.last = Frame{Image: img, Time: time.Now()}
	return d.last, nil
}

func (d *nullDevice) PressKey(_ context.Context, key string) error {
	d.mu.Lock()
	connected := d.connected
	d.mu.Unlock()
	if !connected {
		return fmt.Errorf("null device not connected")
	}
	slog.Debug("discarding keypress", "key", key, "device", "null")
	return nil
}
