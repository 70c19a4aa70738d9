package trace_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tvlab/screentest/internal/testutil"
	"github.com/tvlab/screentest/internal/trace"
)

func TestTracer_Lifecycle(t *testing.T) {
	sink := &testutil.RecordingSink{}
	meta := trace.TestMeta{Script: "tests/menu.star", Filename: "/work/tests/menu.star", Line: 1}

	tracer, err := trace.Start(sink, meta)
	require.NoError(t, err)

	// test_starting is logged before any line can be reported.
	require.Len(t, sink.Started, 1)
	assert.Equal(t, meta, sink.Started[0])

	trace.EmitLine("/work/tests/menu.star", 2)
	trace.EmitLine("/work/tests/menu.star", 3)
	// Lines from other files (loaded helper modules) are not reported.
	trace.EmitLine("/work/tests/helpers.star", 7)

	tracer.Stop()
	assert.Equal(t, 1, sink.Ended)
	assert.Equal(t, 1, sink.Closed)
	assert.Equal(t, []int{2, 3}, sink.LineNumbers("/work/tests/menu.star"))
	assert.Empty(t, sink.LineNumbers("/work/tests/helpers.star"))

	// After Stop the hook is gone; further lines are dropped.
	trace.EmitLine("/work/tests/menu.star", 4)
	assert.Equal(t, []int{2, 3}, sink.LineNumbers("/work/tests/menu.star"))
}

func TestTracer_StopIsIdempotent(t *testing.T) {
	sink := &testutil.RecordingSink{}
	tracer, err := trace.Start(sink, trace.TestMeta{Filename: "/a.star"})
	require.NoError(t, err)

	tracer.Stop()
	tracer.Stop()
	assert.Equal(t, 1, sink.Ended)
	assert.Equal(t, 1, sink.Closed)
}

func TestTracer_SecondStartFails(t *testing.T) {
	first := &testutil.RecordingSink{}
	tracer, err := trace.Start(first, trace.TestMeta{Filename: "/a.star"})
	require.NoError(t, err)
	defer tracer.Stop()

	second := &testutil.RecordingSink{}
	_, err = trace.Start(second, trace.TestMeta{Filename: "/b.star"})
	require.Error(t, err)
	// The rejected sink is closed; the caller no longer owns it.
	assert.Equal(t, 1, second.Closed)

	// The first tracer is unaffected.
	trace.EmitLine("/a.star", 5)
	assert.Equal(t, []int{5}, first.LineNumbers("/a.star"))
}

func TestTracer_SinkErrorsDoNotAbort(t *testing.T) {
	sink := &testutil.RecordingSink{Errs: assert.AnError}
	tracer, err := trace.Start(sink, trace.TestMeta{Filename: "/a.star"})
	require.NoError(t, err, "a rejecting sink must not prevent the test from running")

	trace.EmitLine("/a.star", 2)
	tracer.Stop()

	// Events were still delivered; the tracer just logged the rejections.
	assert.Len(t, sink.Started, 1)
	assert.Equal(t, []int{2}, sink.LineNumbers("/a.star"))
	assert.Equal(t, 1, sink.Ended)
}

func TestEmitLine_NoTracerInstalled(t *testing.T) {
	// Must not panic when no test is running.
	trace.EmitLine("/a.star", 1)
}
