package scriptlib

import (
	"errors"
	"fmt"
	"image/png"
	"log/slog"
	"os"
	"time"

	"go.starlark.net/starlark"
	"go.starlark.net/starlarkstruct"

	"github.com/tvlab/screentest/internal/device"
)

const (
	defaultMatchThreshold = 0.95
	defaultNoiseThreshold = 0.05
)

func (r *Runtime) pressBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("press", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		var key string
		if err := starlark.UnpackArgs("press", args, kwargs, "key", &key); err != nil {
			return nil, err
		}
		if err := r.dev.PressKey(r.ctx, key); err != nil {
			return nil, err
		}
		return starlark.None, nil
	})
}

func (r *Runtime) getFrameBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("get_frame", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		if err := starlark.UnpackArgs("get_frame", args, kwargs); err != nil {
			return nil, err
		}
		f, err := r.dev.CaptureFrame(r.ctx)
		if err != nil {
			return nil, err
		}
		return frameValue{frame: f}, nil
	})
}

func (r *Runtime) saveFrameBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("save_frame", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		var frameArg starlark.Value
		var path string
		if err := starlark.UnpackArgs("save_frame", args, kwargs, "frame", &frameArg, "path", &path); err != nil {
			return nil, err
		}
		fv, ok := frameArg.(frameValue)
		if !ok {
			return nil, fmt.Errorf("save_frame: frame argument must be a frame, got %s", frameArg.Type())
		}
		out, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		defer out.Close()
		if err := png.Encode(out, fv.frame.Image); err != nil {
			return nil, fmt.Errorf("save_frame: %w", err)
		}
		return starlark.None, nil
	})
}

func (r *Runtime) matchParametersBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("match_parameters", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		threshold := defaultMatchThreshold
		if err := starlark.UnpackArgs("match_parameters", args, kwargs, "threshold?", &threshold); err != nil {
			return nil, err
		}
		return starlarkstruct.FromStringDict(starlark.String("match_parameters"), starlark.StringDict{
			"threshold": starlark.Float(threshold),
		}), nil
	})
}

func (r *Runtime) detectMatchBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("detect_match", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		var ref string
		var frameArg starlark.Value
		var params starlark.Value
		if err := starlark.UnpackArgs("detect_match", args, kwargs, "image", &ref, "frame?", &frameArg, "params?", &params); err != nil {
			return nil, err
		}

		frame, err := r.frameOrCapture(frameArg)
		if err != nil {
			return nil, err
		}
		refImg, err := r.loadReference(ref)
		if err != nil {
			return nil, err
		}
		threshold, err := thresholdFrom(params)
		if err != nil {
			return nil, err
		}
		res, err := r.matcher.Match(frame.Image, refImg, threshold)
		if err != nil {
			return nil, err
		}
		return matchResultValue(res), nil
	})
}

func (r *Runtime) waitForMatchBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("wait_for_match", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		var ref string
		timeoutSecs := 10.0
		intervalSecs := 1.0
		var params starlark.Value
		if err := starlark.UnpackArgs("wait_for_match", args, kwargs,
			"image", &ref, "timeout_secs?", &timeoutSecs, "interval_secs?", &intervalSecs, "params?", &params); err != nil {
			return nil, err
		}
		threshold, err := thresholdFrom(params)
		if err != nil {
			return nil, err
		}
		res, err := r.waitForMatch(ref, secs(timeoutSecs), secs(intervalSecs), threshold)
		if err != nil {
			return nil, err
		}
		return matchResultValue(res), nil
	})
}

func (r *Runtime) pressUntilMatchBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("press_until_match", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		var key, ref string
		intervalSecs := 3.0
		maxPresses := 10
		var params starlark.Value
		if err := starlark.UnpackArgs("press_until_match", args, kwargs,
			"key", &key, "image", &ref, "interval_secs?", &intervalSecs, "max_presses?", &maxPresses, "params?", &params); err != nil {
			return nil, err
		}
		threshold, err := thresholdFrom(params)
		if err != nil {
			return nil, err
		}

		var lastErr error
		for i := 0; i < maxPresses; i++ {
			if err := r.dev.PressKey(r.ctx, key); err != nil {
				return nil, err
			}
			res, err := r.waitForMatch(ref, secs(intervalSecs), secs(intervalSecs)/4, threshold)
			if err == nil {
				return matchResultValue(res), nil
			}
			var mt *MatchTimeout
			if !errors.As(err, &mt) {
				return nil, err
			}
			lastErr = err
		}
		return nil, lastErr
	})
}

func (r *Runtime) detectMotionBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("detect_motion", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		intervalSecs := 0.1
		noise := defaultNoiseThreshold
		if err := starlark.UnpackArgs("detect_motion", args, kwargs,
			"interval_secs?", &intervalSecs, "noise_threshold?", &noise); err != nil {
			return nil, err
		}
		a, err := r.dev.CaptureFrame(r.ctx)
		if err != nil {
			return nil, err
		}
		time.Sleep(secs(intervalSecs))
		bf, err := r.dev.CaptureFrame(r.ctx)
		if err != nil {
			return nil, err
		}
		diff := meanLumaDiff(a.Image, bf.Image)
		return motionResultValue(diff > noise, diff), nil
	})
}

func (r *Runtime) waitForMotionBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("wait_for_motion", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		timeoutSecs := 10.0
		intervalSecs := 0.1
		noise := defaultNoiseThreshold
		if err := starlark.UnpackArgs("wait_for_motion", args, kwargs,
			"timeout_secs?", &timeoutSecs, "interval_secs?", &intervalSecs, "noise_threshold?", &noise); err != nil {
			return nil, err
		}

		deadline := time.Now().Add(secs(timeoutSecs))
		prev, err := r.dev.CaptureFrame(r.ctx)
		if err != nil {
			return nil, err
		}
		for {
			time.Sleep(secs(intervalSecs))
			cur, err := r.dev.CaptureFrame(r.ctx)
			if err != nil {
				return nil, err
			}
			diff := meanLumaDiff(prev.Image, cur.Image)
			if diff > noise {
				return motionResultValue(true, diff), nil
			}
			if time.Now().After(deadline) {
				return nil, &MotionTimeout{
					TestFailure: TestFailure{
						Msg:   fmt.Sprintf("no motion detected within %gs", timeoutSecs),
						Frame: cur,
					},
					Timeout: secs(timeoutSecs),
				}
			}
			prev = cur
		}
	})
}

func (r *Runtime) debugBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("debug", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		var v starlark.Value
		if err := starlark.UnpackArgs("debug", args, kwargs, "msg", &v); err != nil {
			return nil, err
		}
		slog.Debug("script debug", "msg", stringOf(v))
		return starlark.None, nil
	})
}

func (r *Runtime) checkpointBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("checkpoint", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		return starlark.None, starlark.UnpackArgs("checkpoint", args, kwargs)
	})
}

func (r *Runtime) assertThatBuiltin() *starlark.Builtin {
	return starlark.NewBuiltin("assert_that", func(th *starlark.Thread, b *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
		reportCall(th)
		var cond starlark.Value
		var msg starlark.Value
		if err := starlark.UnpackArgs("assert_that", args, kwargs, "cond", &cond, "msg?", &msg); err != nil {
			return nil, err
		}
		if cond != nil && bool(cond.Truth()) {
			return starlark.None, nil
		}

		file, line := callerPos(th)
		ae := &AssertionError{Filename: file, Line: line}
		// A msg argument counts as "has a message" even when it
		// stringifies to something falsy like 0 or False. Only a missing
		// or None msg leaves the message empty, which makes the reporter
		// fall back to the failing line's source text.
		if msg != nil && msg != starlark.None {
			ae.Msg = stringOf(msg)
		}
		return nil, ae
	})
}

// frameOrCapture interprets an optional frame argument, capturing a fresh
// frame when none was given.
func (r *Runtime) frameOrCapture(v starlark.Value) (device.Frame, error) {
	switch fv := v.(type) {
	case nil:
		return r.dev.CaptureFrame(r.ctx)
	case starlark.NoneType:
		return r.dev.CaptureFrame(r.ctx)
	case frameValue:
		return fv.frame, nil
	default:
		return device.Frame{}, fmt.Errorf("frame argument must be a frame, got %s", v.Type())
	}
}

// waitForMatch polls fresh frames until the reference matches or the
// timeout expires. The first attempt always runs, even with a zero
// timeout. On timeout the last frame seen rides along on the error.
func (r *Runtime) waitForMatch(ref string, timeout, interval time.Duration, threshold float64) (MatchResult, error) {
	refImg, err := r.loadReference(ref)
	if err != nil {
		return MatchResult{}, err
	}

	deadline := time.Now().Add(timeout)
	for {
		frame, err := r.dev.CaptureFrame(r.ctx)
		if err != nil {
			return MatchResult{}, err
		}
		res, err := r.matcher.Match(frame.Image, refImg, threshold)
		if err != nil {
			return MatchResult{}, err
		}
		if res.Matched {
			return res, nil
		}
		if time.Now().After(deadline) {
			return MatchResult{}, &MatchTimeout{
				TestFailure: TestFailure{
					Msg:   fmt.Sprintf("didn't find match for %s within %s", ref, timeout),
					Frame: frame,
				},
				Reference: ref,
				Timeout:   timeout,
			}
		}
		time.Sleep(interval)
	}
}

func matchResultValue(res MatchResult) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("match_result"), starlark.StringDict{
		"match":      starlark.Bool(res.Matched),
		"similarity": starlark.Float(res.Similarity),
		"position": starlark.Tuple{
			starlark.MakeInt(res.Region.Min.X),
			starlark.MakeInt(res.Region.Min.Y),
		},
	})
}

func motionResultValue(motion bool, level float64) starlark.Value {
	return starlarkstruct.FromStringDict(starlark.String("motion_result"), starlark.StringDict{
		"motion": starlark.Bool(motion),
		"level":  starlark.Float(level),
	})
}

// thresholdFrom extracts the match threshold from a match_parameters
// struct, defaulting when params was omitted.
func thresholdFrom(params starlark.Value) (float64, error) {
	if params == nil || params == starlark.None {
		return defaultMatchThreshold, nil
	}
	attrs, ok := params.(starlark.HasAttrs)
	if !ok {
		return 0, fmt.Errorf("params must be match_parameters, got %s", params.Type())
	}
	v, err := attrs.Attr("threshold")
	if err != nil || v == nil {
		return 0, fmt.Errorf("params has no threshold field")
	}
	f, ok := starlark.AsFloat(v)
	if !ok {
		return 0, fmt.Errorf("params.threshold must be a number, got %s", v.Type())
	}
	return f, nil
}

func secs(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}

func stringOf(v starlark.Value) string {
	if s, ok := starlark.AsString(v); ok {
		return s
	}
	return v.String()
}
