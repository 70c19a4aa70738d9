package scriptlib

import (
	"context"
	"errors"
	"fmt"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.starlark.net/starlark"
	"go.starlark.net/syntax"

	"github.com/tvlab/screentest/internal/device"
	"github.com/tvlab/screentest/internal/testutil"
)

func newTestRuntime(dev device.Device, opts ...Option) *Runtime {
	opts = append([]Option{WithStdout(io.Discard)}, opts...)
	return NewRuntime(context.Background(), dev, []string{"chunk.star"}, opts...)
}

// runChunk executes src as a script with the bare compat names bound, the
// way a whole-file test sees them.
func runChunk(t *testing.T, rt *Runtime, src string) error {
	t.Helper()
	th := rt.NewThread("chunk")
	_, err := starlark.ExecFileOptions(&syntax.FileOptions{}, th, "chunk.star", src, rt.CompatGlobals())
	return err
}

func writeRefImage(t *testing.T, dir, name string, f device.Frame) {
	t.Helper()
	out, err := os.Create(filepath.Join(dir, name))
	require.NoError(t, err)
	require.NoError(t, png.Encode(out, f.Image))
	require.NoError(t, out.Close())
}

func TestPress(t *testing.T) {
	dev := &testutil.FakeDevice{}
	rt := newTestRuntime(dev)

	require.NoError(t, runChunk(t, rt, `press("KEY_OK")`))
	assert.Equal(t, []string{"KEY_OK"}, dev.Pressed)
}

func TestPress_DeviceError(t *testing.T) {
	dev := &testutil.FakeDevice{PressErr: assert.AnError}
	rt := newTestRuntime(dev)

	err := runChunk(t, rt, `press("KEY_OK")`)
	require.Error(t, err)
	assert.False(t, IsFailure(err), "a broken device is an error, not a test failure")
}

func TestAssertThat_Truthy(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})
	require.NoError(t, runChunk(t, rt, `assert_that(1 == 1)`))
	require.NoError(t, runChunk(t, rt, `assert_that("nonempty")`))
}

func TestAssertThat_NoMessage(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})

	err := runChunk(t, rt, `assert_that(1 == 2)`)
	require.Error(t, err)

	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Empty(t, ae.Msg)
	assert.Equal(t, "chunk.star", ae.Filename)
	assert.Equal(t, 1, ae.Line)
	assert.True(t, IsFailure(err))
}

func TestAssertThat_FalsyMessageIsStillAMessage(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})

	// 0 stringifies to "0"; the message is present, not empty.
	err := runChunk(t, rt, `assert_that(False, 0)`)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "0", ae.Msg)

	err = runChunk(t, rt, `assert_that(False, False)`)
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "False", ae.Msg)
}

func TestAssertThat_NoneMessageMeansNoMessage(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})

	err := runChunk(t, rt, `assert_that(False, None)`)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Empty(t, ae.Msg)
}

func TestAssertThat_StringMessage(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})

	err := runChunk(t, rt, `assert_that(False, "menu did not appear")`)
	var ae *AssertionError
	require.ErrorAs(t, err, &ae)
	assert.Equal(t, "menu did not appear", ae.Msg)
}

func TestRaisers(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})

	err := runChunk(t, rt, `UITestFailure("banner missing")`)
	var tf *TestFailure
	require.ErrorAs(t, err, &tf)
	assert.Equal(t, "banner missing", tf.Msg)
	assert.True(t, IsFailure(err))

	err = runChunk(t, rt, `UITestError("stb unreachable")`)
	var te *TestError
	require.ErrorAs(t, err, &te)
	assert.False(t, IsFailure(err))

	err = runChunk(t, rt, `MatchTimeout()`)
	var mt *MatchTimeout
	require.ErrorAs(t, err, &mt)
	assert.Equal(t, "MatchTimeout", mt.Msg)

	err = runChunk(t, rt, `ConfigurationError("bad key map")`)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
	assert.False(t, IsFailure(err))
}

func TestGetFrame_Attrs(t *testing.T) {
	dev := &testutil.FakeDevice{Frames: []device.Frame{testutil.SolidFrame(4, 2, white)}}
	rt := newTestRuntime(dev)

	require.NoError(t, runChunk(t, rt, `
f = get_frame()
assert_that(f.width == 4)
assert_that(f.height == 2)
assert_that(f.time > 0)
`))
}

func TestSaveFrame(t *testing.T) {
	dir := t.TempDir()
	out := filepath.Join(dir, "shot.png")
	dev := &testutil.FakeDevice{Frames: []device.Frame{testutil.SolidFrame(6, 3, white)}}
	rt := newTestRuntime(dev)

	require.NoError(t, runChunk(t, rt, fmt.Sprintf(`save_frame(get_frame(), %q)`, out)))

	f, err := os.Open(out)
	require.NoError(t, err)
	defer f.Close()
	img, err := png.Decode(f)
	require.NoError(t, err)
	assert.Equal(t, 6, img.Bounds().Dx())
	assert.Equal(t, 3, img.Bounds().Dy())
}

func TestSaveFrame_WrongType(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})

	err := runChunk(t, rt, `save_frame("not a frame", "out.png")`)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "must be a frame")
}

func TestWaitForMatch_Match(t *testing.T) {
	dir := t.TempDir()
	writeRefImage(t, dir, "ref.png", testutil.SolidFrame(2, 2, white))

	dev := &testutil.FakeDevice{Frames: []device.Frame{testutil.SolidFrame(4, 4, white)}}
	rt := newTestRuntime(dev)
	rt.SetScriptDir(dir)

	require.NoError(t, runChunk(t, rt, `
r = wait_for_match("ref.png", timeout_secs=0)
assert_that(r.match)
assert_that(r.similarity >= 0.95)
`))
}

func TestWaitForMatch_Timeout(t *testing.T) {
	dir := t.TempDir()
	writeRefImage(t, dir, "ref.png", testutil.SolidFrame(2, 2, white))

	dev := &testutil.FakeDevice{Frames: []device.Frame{testutil.SolidFrame(4, 4, black)}}
	rt := newTestRuntime(dev)
	rt.SetScriptDir(dir)

	err := runChunk(t, rt, `wait_for_match("ref.png", timeout_secs=0, interval_secs=0)`)
	require.Error(t, err)

	var mt *MatchTimeout
	require.ErrorAs(t, err, &mt)
	assert.Equal(t, "ref.png", mt.Reference)
	assert.True(t, IsFailure(err))
	assert.Equal(t, "MatchTimeout", TypeName(err))

	// The frame that failed to match rides along for diagnostics.
	frame, ok := Screenshot(err)
	require.True(t, ok)
	assert.Equal(t, 4, frame.Image.Bounds().Dx())
}

func TestWaitForMatch_MissingReference(t *testing.T) {
	dev := &testutil.FakeDevice{Frames: []device.Frame{testutil.SolidFrame(4, 4, white)}}
	rt := newTestRuntime(dev)
	rt.SetScriptDir(t.TempDir())

	err := runChunk(t, rt, `wait_for_match("missing.png", timeout_secs=0)`)
	require.Error(t, err)
	var te *TestError
	require.ErrorAs(t, err, &te)
	assert.False(t, IsFailure(err))
}

func TestWaitForMatch_CustomThreshold(t *testing.T) {
	dir := t.TempDir()
	writeRefImage(t, dir, "ref.png", testutil.SolidFrame(2, 2, white))

	// Mid-gray against white is roughly 0.5 similarity: a miss at the
	// default threshold, a hit at a permissive one.
	gray := testutil.SolidFrame(4, 4, grayColor)
	dev := &testutil.FakeDevice{Frames: []device.Frame{gray}}
	rt := newTestRuntime(dev)
	rt.SetScriptDir(dir)

	require.NoError(t, runChunk(t, rt, `
r = wait_for_match("ref.png", timeout_secs=0, params=match_parameters(threshold=0.2))
assert_that(r.match)
`))

	err := runChunk(t, rt, `wait_for_match("ref.png", timeout_secs=0, interval_secs=0)`)
	var mt *MatchTimeout
	require.ErrorAs(t, err, &mt)
}

func TestPressUntilMatch(t *testing.T) {
	dir := t.TempDir()
	writeRefImage(t, dir, "ref.png", testutil.SolidFrame(2, 2, white))

	// The screen turns white after the second press.
	dev := &testutil.FakeDevice{Frames: []device.Frame{
		testutil.SolidFrame(4, 4, black),
		testutil.SolidFrame(4, 4, white),
	}}
	rt := newTestRuntime(dev)
	rt.SetScriptDir(dir)

	require.NoError(t, runChunk(t, rt, `
r = press_until_match("KEY_RIGHT", "ref.png", interval_secs=0)
assert_that(r.match)
`))
	assert.Equal(t, []string{"KEY_RIGHT", "KEY_RIGHT"}, dev.Pressed)
}

func TestPressUntilMatch_GivesUp(t *testing.T) {
	dir := t.TempDir()
	writeRefImage(t, dir, "ref.png", testutil.SolidFrame(2, 2, white))

	dev := &testutil.FakeDevice{Frames: []device.Frame{testutil.SolidFrame(4, 4, black)}}
	rt := newTestRuntime(dev)
	rt.SetScriptDir(dir)

	err := runChunk(t, rt, `press_until_match("KEY_RIGHT", "ref.png", interval_secs=0, max_presses=3)`)
	require.Error(t, err)
	var mt *MatchTimeout
	require.ErrorAs(t, err, &mt)
	assert.Len(t, dev.Pressed, 3)
}

func TestDetectMatch_ExplicitFrame(t *testing.T) {
	dir := t.TempDir()
	writeRefImage(t, dir, "ref.png", testutil.SolidFrame(2, 2, white))

	dev := &testutil.FakeDevice{Frames: []device.Frame{testutil.SolidFrame(4, 4, white)}}
	rt := newTestRuntime(dev)
	rt.SetScriptDir(dir)

	require.NoError(t, runChunk(t, rt, `
f = get_frame()
r = detect_match("ref.png", frame=f)
assert_that(r.match)
`))
}

func TestDetectMatch_ReferenceLargerThanFrame(t *testing.T) {
	dir := t.TempDir()
	writeRefImage(t, dir, "big.png", testutil.SolidFrame(8, 8, white))

	dev := &testutil.FakeDevice{Frames: []device.Frame{testutil.SolidFrame(4, 4, white)}}
	rt := newTestRuntime(dev)
	rt.SetScriptDir(dir)

	err := runChunk(t, rt, `detect_match("big.png")`)
	require.Error(t, err)
	var ce *ConfigurationError
	require.ErrorAs(t, err, &ce)
}

func TestDetectMotion(t *testing.T) {
	dev := &testutil.FakeDevice{Frames: []device.Frame{
		testutil.SolidFrame(4, 4, black),
		testutil.SolidFrame(4, 4, white),
	}}
	rt := newTestRuntime(dev)

	require.NoError(t, runChunk(t, rt, `
r = detect_motion(interval_secs=0)
assert_that(r.motion)
assert_that(r.level > 0.5)
`))
}

func TestDetectMotion_StaticScreen(t *testing.T) {
	dev := &testutil.FakeDevice{Frames: []device.Frame{testutil.SolidFrame(4, 4, white)}}
	rt := newTestRuntime(dev)

	require.NoError(t, runChunk(t, rt, `
r = detect_motion(interval_secs=0)
assert_that(not r.motion)
`))
}

func TestWaitForMotion_Detects(t *testing.T) {
	dev := &testutil.FakeDevice{Frames: []device.Frame{
		testutil.SolidFrame(4, 4, black),
		testutil.SolidFrame(4, 4, white),
	}}
	rt := newTestRuntime(dev)

	require.NoError(t, runChunk(t, rt, `
r = wait_for_motion(timeout_secs=1, interval_secs=0)
assert_that(r.motion)
`))
}

func TestWaitForMotion_Timeout(t *testing.T) {
	dev := &testutil.FakeDevice{Frames: []device.Frame{testutil.SolidFrame(4, 4, white)}}
	rt := newTestRuntime(dev)

	err := runChunk(t, rt, `wait_for_motion(timeout_secs=0, interval_secs=0)`)
	require.Error(t, err)
	var mt *MotionTimeout
	require.ErrorAs(t, err, &mt)
	assert.True(t, IsFailure(err))

	_, ok := Screenshot(err)
	assert.True(t, ok, "the last frame rides along on the timeout")
}

func TestModuleMembers(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})
	mod := rt.Module()

	assert.Equal(t, "screentest", mod.Name)
	for _, name := range CompatSymbols {
		assert.Contains(t, mod.Members, name)
	}
	assert.Contains(t, mod.Members, "argv")
	assert.Contains(t, mod.Members, "checkpoint")
}

func TestCompatGlobals_ExactlyTheAllowList(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})
	globals := rt.CompatGlobals()

	require.Len(t, globals, len(CompatSymbols))
	for _, name := range CompatSymbols {
		assert.Contains(t, globals, name)
	}
}

func TestCheckpoint(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})
	th := rt.NewThread("chunk")
	_, err := starlark.ExecFileOptions(&syntax.FileOptions{}, th, "chunk.star",
		`screentest.checkpoint()`, starlark.StringDict{"screentest": rt.Module()})
	require.NoError(t, err)
}

func TestRuntimeArgv(t *testing.T) {
	rt := NewRuntime(context.Background(), &testutil.FakeDevice{},
		[]string{"tests/zap.star", "--channel", "4"}, WithStdout(io.Discard))

	lst := rt.ArgvList()
	require.Equal(t, 3, lst.Len())
	assert.Equal(t, starlark.String("tests/zap.star"), lst.Index(0))
	assert.Equal(t, starlark.String("--channel"), lst.Index(1))
}

func TestEvalErrorWrapsOriginal(t *testing.T) {
	rt := newTestRuntime(&testutil.FakeDevice{})

	err := runChunk(t, rt, `assert_that(False, "nope")`)
	var evalErr *starlark.EvalError
	require.ErrorAs(t, err, &evalErr)
	// The script failure is recoverable from inside the eval wrapper.
	var ae *AssertionError
	assert.True(t, errors.As(err, &ae))
}
