package cli

import (
	"context"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/tvlab/screentest/internal/config"
	"github.com/tvlab/screentest/internal/device"
	"github.com/tvlab/screentest/internal/harness"
	"github.com/tvlab/screentest/internal/script"
	"github.com/tvlab/screentest/internal/scriptlib"
	"github.com/tvlab/screentest/internal/trace"
)

// RunOptions holds flags for the run command. Empty strings mean "not set
// on the command line"; the config layer fills them in.
type RunOptions struct {
	*RootOptions
	Device         string
	SaveScreenshot string
	SaveThumbnail  string
	SaveTrace      string
}

// NewRunCommand creates the run command.
func NewRunCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &RunOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "run <script[::function]> [args...]",
		Short: "Run one test script against the device under test",
		Long: `Run a single test script and exit with a code reflecting its outcome.

The script identifier is either a path to a .star file, executed like a
program, or path::function naming one test function inside it. Everything
after the identifier is passed to the script as its argument vector.

Exit codes:
  0 - Test passed
  1 - Test failed (assertion or UI test failure)
  2 - Unexpected error (including script load errors)

Examples:
  screentest run tests/menu.star
  screentest run tests/menu.star::open_settings
  screentest run --device file:screen.png --save-trace run.jsonl tests/menu.star -- --channel 4`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runScript(opts, args[0], args[1:], cmd)
		},
	}

	// Flags stop at the script identifier so a whole-file test sees
	// exactly the arguments following its own name.
	cmd.Flags().SetInterspersed(false)

	cmd.Flags().StringVar(&opts.Device, "device", "", "device URI (e.g. null:, file:screen.png)")
	cmd.Flags().StringVar(&opts.SaveScreenshot, "save-screenshot", "", "save screenshot.png: never, on_failure or always")
	cmd.Flags().StringVar(&opts.SaveThumbnail, "save-thumbnail", "", "save thumbnail.jpg: never, on_failure or always")
	cmd.Flags().StringVar(&opts.SaveTrace, "save-trace", "", "trace destination (file path, tcp:host:port or sqlite:path)")

	return cmd
}

func runScript(opts *RunOptions, identifier string, args []string, cmd *cobra.Command) error {
	cfg, err := config.Load(opts.ConfigPath)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to load config", err)
	}
	mergeFlags(cfg, opts)

	screenshotMode, err := harness.ParseCaptureMode(cfg.SaveScreenshot)
	if err != nil {
		return WrapExitError(ExitCommandError, "--save-screenshot", err)
	}
	thumbnailMode, err := harness.ParseCaptureMode(cfg.SaveThumbnail)
	if err != nil {
		return WrapExitError(ExitCommandError, "--save-thumbnail", err)
	}

	dev, err := device.New(cfg.Device)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open device", err)
	}
	sink, err := trace.NewSink(cfg.SaveTrace)
	if err != nil {
		return WrapExitError(ExitCommandError, "failed to open trace sink", err)
	}

	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}

	// The script's argument vector is its own identifier followed by the
	// trailing arguments.
	rt := scriptlib.NewRuntime(ctx, dev, append([]string{identifier}, args...),
		scriptlib.WithStdout(cmd.OutOrStdout()))

	tf, err := script.Load(identifier, rt)
	if err != nil {
		// Load failures never reach the harness: no screenshot, and the
		// sink is still ours to close.
		if cerr := sink.Close(); cerr != nil {
			slog.Warn("closing trace sink", "error", cerr)
		}
		code := Report(cmd.ErrOrStderr(), identifier, err)
		return &ExitError{Code: code}
	}
	slog.Debug("test loaded", "script", tf.Script, "file", tf.Filename, "func", tf.Funcname, "line", tf.Line)

	err = harness.Run(ctx, dev, tf, sink, harness.Config{
		SaveScreenshot: screenshotMode,
		SaveThumbnail:  thumbnailMode,
	})
	if code := Report(cmd.ErrOrStderr(), identifier, err); code != ExitSuccess {
		return &ExitError{Code: code}
	}
	return nil
}

func mergeFlags(cfg *config.Config, opts *RunOptions) {
	if opts.Device != "" {
		cfg.Device = opts.Device
	}
	if opts.SaveScreenshot != "" {
		cfg.SaveScreenshot = opts.SaveScreenshot
	}
	if opts.SaveThumbnail != "" {
		cfg.SaveThumbnail = opts.SaveThumbnail
	}
	if opts.SaveTrace != "" {
		cfg.SaveTrace = opts.SaveTrace
	}
}
