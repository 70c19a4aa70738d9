package device

import (
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"os"
	"sync"
	"time"
)

func init() {
	Register("file", newFileDevice)
}

// fileDevice serves frames decoded from a still image on disk. Every
// CaptureFrame re-reads the file, so an external process can update it to
// simulate a changing screen.
type fileDevice struct {
	path string

	mu        sync.Mutex
	connected bool
	last      Frame
}

func newFileDevice(rest string) (Device, error) {
	if rest == "" {
		return nil, fmt.Errorf("file device needs a path, e.g. file:screen.png")
	}
	return &fileDevice{path: rest}, nil
}

func (d *fileDevice) Connect(ctx context.Context) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.connected {
		return fmt.Errorf("file device already connected")
	}
	// Fail at acquisition time if the image is unreadable.
	if _, err := os.Stat(d.path); err != nil {
		return fmt.Errorf("file device: %w", err)
	}
	d.connected = true
	return nil
}

func (d *fileDevice) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.connected = false
	return nil
}

func (d *fileDevice) LastFrame() (Frame, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last, d.last.OK()
}

func (d *fileDevice) CaptureFrame(context.Context) (Frame, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if !d.connected {
		return Frame{}, fmt.Errorf("file device not connected")
	}

	f, err := os.Open(d.path)
	if err != nil {
		return Frame{}, fmt.Errorf("file device: %w", err)
	}
	defer f.Close()

	img, _, err := image.Decode(f)
	if err != nil {
		return Frame{}, fmt.Errorf("file device: decode %s: %w", d.path, err)
	}
	d.last = Frame{Image: img, Time: time.Now()}
	return d.last, nil
}

func (d *fileDevice) PressKey(_ context.Context, key string) error {
	slog.Debug("discarding keypress", "key", key, "device", "file", "path", d.path)
	return nil
}
