package harness

import (
	"image/color"
	"image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvlab/screentest/internal/testutil"
)

func colorRGBA(r, g, b uint8) color.RGBA {
	return color.RGBA{R: r, G: g, B: b, A: 0xff}
}

// pixelAt decodes a PNG and returns one pixel as RGBA.
func pixelAt(t *testing.T, path string, x, y int) color.RGBA {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	return color.RGBAModel.Convert(img.At(x, y)).(color.RGBA)
}

func TestParseCaptureMode(t *testing.T) {
	for _, tc := range []struct {
		in   string
		want CaptureMode
	}{
		{"never", CaptureNever},
		{"on_failure", CaptureOnFailure},
		{"always", CaptureAlways},
	} {
		got, err := ParseCaptureMode(tc.in)
		require.NoError(t, err)
		assert.Equal(t, tc.want, got)
		assert.Equal(t, tc.in, got.String())
	}

	_, err := ParseCaptureMode("sometimes")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "sometimes")
}

func TestWriteThumbnail_ScalesToFixedWidth(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thumb.jpg")
	frame := testutil.SolidFrame(1280, 720, colorRGBA(0x80, 0x80, 0x80))

	require.NoError(t, writeThumbnail(path, frame.Image))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 360, cfg.Height)
}

func TestWriteThumbnail_OddAspectRatio(t *testing.T) {
	path := filepath.Join(t.TempDir(), "thumb.jpg")
	frame := testutil.SolidFrame(300, 100, colorRGBA(0x80, 0x80, 0x80))

	require.NoError(t, writeThumbnail(path, frame.Image))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()
	cfg, err := jpeg.DecodeConfig(f)
	require.NoError(t, err)
	assert.Equal(t, 640, cfg.Width)
	assert.Equal(t, 213, cfg.Height)
}

func TestCaptureError_Unwrap(t *testing.T) {
	inner := assert.AnError
	err := &CaptureError{Err: inner}
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "capture screenshot")
}
