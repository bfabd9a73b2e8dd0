package trace

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

//go:noinline
func explode() {
	var p *Frame
	p.Line = 1
}

//go:noinline
func captureFrom(fn func()) (exc Exception) {
	defer func() {
		if r := recover(); r != nil {
			exc = Capture(r, 0)
		}
	}()
	fn()
	return Exception{}
}

func TestCapture_DropsRecoveryPath(t *testing.T) {
	exc := captureFrom(explode)
	require.NotNil(t, exc.Value)
	require.NotEmpty(t, exc.Frames)

	for _, f := range exc.Frames {
		assert.NotContains(t, f.Function, "captureFrom.func1", "the deferred handler must not appear")
		assert.NotEqual(t, "runtime.gopanic", f.Function)
	}

	s := Extract(exc, Classifier{})
	assert.True(t, strings.HasSuffix(s.Culprit.Function, "trace.explode"), "culprit was %s", s.Culprit.Function)
	assert.True(t, strings.HasSuffix(s.Culprit.File, "capture_test.go"))
	assert.Equal(t, "runtime.errorString", s.Kind)
	assert.Contains(t, s.Message, "nil pointer dereference")
}

func TestCapture_OutermostFirst(t *testing.T) {
	exc := captureFrom(func() { panic("boom") })
	require.GreaterOrEqual(t, len(exc.Frames), 2)

	innermost := exc.Frames[len(exc.Frames)-1]
	assert.Contains(t, innermost.Function, "TestCapture_OutermostFirst.func1")
	assert.Equal(t, "boom", Extract(exc, Classifier{}).Message)
}

func TestTrimRecoveryPath(t *testing.T) {
	t.Parallel()
	handler := Frame{Function: "main.main.func1"}
	panicFr := Frame{Function: "panic"}
	site := Frame{Function: "main.triggerActualPanic"}

	assert.Equal(t, []Frame{site}, trimRecoveryPath([]Frame{handler, panicFr, site}))
	assert.Equal(t, []Frame{handler, site}, trimRecoveryPath([]Frame{handler, site}))
}
