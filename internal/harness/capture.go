package harness

import (
	"context"
	"fmt"
	"image"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"

	"golang.org/x/image/draw"

	"github.com/tvlab/screentest/internal/device"
	"github.com/tvlab/screentest/internal/scriptlib"
)

// Artifact filenames are a fixed contract with external tooling.
const (
	ScreenshotName = "screenshot.png"
	ThumbnailName  = "thumbnail.jpg"

	thumbnailWidth   = 640
	thumbnailQuality = 50
)

// CaptureError wraps a failure in the diagnostic capture path. On the
// test-failure path it is always swallowed; it never changes the exit
// code and never suppresses the original condition.
type CaptureError struct {
	Err error
}

func (e *CaptureError) Error() string { return fmt.Sprintf("capture screenshot: %v", e.Err) }
func (e *CaptureError) Unwrap() error { return e.Err }

func saveArtifacts(ctx context.Context, dev device.Device, cause error, cfg Config, savePNG, saveJPG bool) error {
	if !savePNG && !saveJPG {
		return nil
	}

	frame, err := diagnosticFrame(ctx, dev, cause)
	if err != nil {
		return &CaptureError{Err: err}
	}

	if savePNG {
		path := filepath.Join(cfg.ArtifactDir, ScreenshotName)
		if err := writePNG(path, frame.Image); err != nil {
			return &CaptureError{Err: err}
		}
		fmt.Fprintf(os.Stderr, "Saved screenshot to %q.\n", ScreenshotName)
	}
	if saveJPG {
		path := filepath.Join(cfg.ArtifactDir, ThumbnailName)
		if err := writeThumbnail(path, frame.Image); err != nil {
			return &CaptureError{Err: err}
		}
	}
	return nil
}

// diagnosticFrame picks the screenshot source. A frame already attached
// to the failure wins; then the device's last-used frame; only as a last
// resort is the possibly-broken device asked for a fresh one.
func diagnosticFrame(ctx context.Context, dev device.Device, cause error) (device.Frame, error) {
	if cause != nil {
		if f, ok := scriptlib.Screenshot(cause); ok {
			return f, nil
		}
	}
	if f, ok := dev.LastFrame(); ok {
		return f, nil
	}
	return dev.CaptureFrame(ctx)
}

func writePNG(path string, img image.Image) error {
	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := png.Encode(out, img); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}

// writeThumbnail scales to a fixed 640px width, preserving aspect ratio,
// and saves as a quality-50 JPEG.
func writeThumbnail(path string, img image.Image) error {
	b := img.Bounds()
	if b.Dx() == 0 || b.Dy() == 0 {
		return fmt.Errorf("empty frame")
	}
	height := thumbnailWidth * b.Dy() / b.Dx()
	thumb := image.NewRGBA(image.Rect(0, 0, thumbnailWidth, height))
	draw.ApproxBiLinear.Scale(thumb, thumb.Bounds(), img, b, draw.Src, nil)

	out, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := jpeg.Encode(out, thumb, &jpeg.Options{Quality: thumbnailQuality}); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
