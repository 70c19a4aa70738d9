// Package harness runs one loaded test against the device under test.
//
// The harness owns the device's scoped lifetime: it connects before the
// test runs and releases on every exit path. The test executes under the
// line tracer, and when it fails the harness captures diagnostic
// screenshots on a best-effort basis before re-raising the original
// failure.
package harness

import (
	"context"
	"log/slog"

	"github.com/tvlab/screentest/internal/device"
	"github.com/tvlab/screentest/internal/script"
	"github.com/tvlab/screentest/internal/trace"
)

// Config controls artifact capture for one run.
type Config struct {
	SaveScreenshot CaptureMode
	SaveThumbnail  CaptureMode

	// ArtifactDir is where screenshot.png and thumbnail.jpg land.
	// Empty means the current working directory. The filenames themselves
	// are fixed.
	ArtifactDir string
}

// Run executes the test exactly once and returns its outcome unmodified.
//
// Sequencing: device scope opens, the tracer starts (logging
// test_starting before any test line), the test callable runs, the tracer
// stops and the sink closes, then screenshots are captured while the
// device is still connected. The sink is closed on every path, including
// when the device cannot be acquired at all.
func Run(ctx context.Context, dev device.Device, tf *script.TestFunction, sink trace.Sink, cfg Config) (retErr error) {
	if err := dev.Connect(ctx); err != nil {
		if cerr := sink.Close(); cerr != nil {
			slog.Warn("closing trace sink", "error", cerr)
		}
		return err
	}
	defer func() {
		if cerr := dev.Close(); cerr != nil {
			slog.Warn("releasing device", "error", cerr)
			if retErr == nil {
				retErr = cerr
			}
		}
	}()

	runErr := func() error {
		tracer, err := trace.Start(sink, tf.Meta())
		if err != nil {
			return err
		}
		defer tracer.Stop()
		return tf.Call()
	}()

	if runErr != nil {
		// Best-effort diagnostics: a broken capture path must never mask
		// the test's own failure.
		err := saveArtifacts(ctx, dev, runErr, cfg,
			cfg.SaveScreenshot != CaptureNever,
			cfg.SaveThumbnail != CaptureNever)
		if err != nil {
			slog.Warn("could not save diagnostic screenshot", "error", err)
		}
		return runErr
	}

	// On success only the "always" modes capture. Capture is best-effort
	// here too: a broken screenshot path never changes the exit code.
	err := saveArtifacts(ctx, dev, nil, cfg,
		cfg.SaveScreenshot == CaptureAlways,
		cfg.SaveThumbnail == CaptureAlways)
	if err != nil {
		slog.Warn("could not save screenshot", "error", err)
	}
	return nil
}
