package trace

import (
	"runtime"
)

const maxCaptureDepth = 256

// Capture records the current goroutine's stack for a value obtained from recover().
// It must be called from the deferred function (or a function it calls); skip counts
// additional frames above Capture to omit. Frames belonging to the recovery path,
// i.e. everything innermost of runtime.gopanic, are dropped.
func Capture(value any, skip int) Exception {
	pcs := make([]uintptr, 32)
	for {
		n := runtime.Callers(skip+2, pcs)
		if n < len(pcs) || len(pcs) >= maxCaptureDepth {
			pcs = pcs[:n]
			break
		}
		pcs = make([]uintptr, len(pcs)*2)
	}

	var innermostFirst []Frame
	frames := runtime.CallersFrames(pcs)
	for {
		f, more := frames.Next()
		if f.Function != "" || f.File != "" {
			innermostFirst = append(innermostFirst, Frame{File: f.File, Function: f.Function, Line: f.Line})
		}
		if !more {
			break
		}
	}

	return Exception{Value: value, Frames: outermostFirst(trimRecoveryPath(innermostFirst))}
}

// trimRecoveryPath drops the deferred handler frames that sit on top of a panicking
// stack. It expects frames innermost first.
func trimRecoveryPath(frames []Frame) []Frame {
	for i, f := range frames {
		if f.Function == "runtime.gopanic" || f.Function == "panic" {
			if i+1 < len(frames) {
				return frames[i+1:]
			}
			return frames
		}
	}
	return frames
}

func outermostFirst(innermostFirst []Frame) []Frame {
	out := make([]Frame, len(innermostFirst))
	for i, f := range innermostFirst {
		out[len(innermostFirst)-1-i] = f
	}
	return out
}
