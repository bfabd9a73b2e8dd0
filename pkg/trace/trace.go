// Package trace turns a recovered failure and its call stack into a structured summary,
// choosing the single application frame most likely responsible for it (the culprit).
package trace

import (
	"errors"
	"fmt"
	"path/filepath"
	"reflect"
	"strings"
)

var (
	// ErrNoException is the precondition violation raised when Extract is handed nothing to report.
	ErrNoException = errors.New("no exception occurred, cannot proceed without any exception")
	// ErrNoFrames is the precondition violation raised when an exception carries no stack.
	ErrNoFrames = errors.New("exception carries no stack frames")
)

// Frame is a single call-stack entry.
type Frame struct {
	File     string
	Function string
	Line     int
	// Locals maps a name to its textual representation. Go does not expose another
	// frame's variables, so this holds panic-dump argument words and caller-supplied values.
	Locals map[string]string
}

// Exception is everything the extractor needs about a failure, passed explicitly.
type Exception struct {
	// Kind overrides the kind derived from Value.
	Kind string
	// Value is the recovered panic value or error.
	Value any
	// Frames are ordered outermost call first.
	Frames []Frame
	// Stack is the full formatted stack text. Rendered from Frames when empty.
	Stack string
	// Locals are attached to the culprit frame's snapshot.
	Locals map[string]string
}

// Summary is the read-only result of extraction.
type Summary struct {
	Culprit Frame
	Kind    string
	Message string
	Stack   string
	// Frames are ordered outermost call first.
	Frames []Frame
}

// Extract walks exc's frames from outermost to innermost and selects the innermost
// application frame as the culprit. It panics if exc has no value or no frames: reporting
// only makes sense from inside a failure handler.
func Extract(exc Exception, cls Classifier) *Summary {
	if exc.Value == nil && exc.Kind == "" {
		panic(ErrNoException)
	}
	if len(exc.Frames) == 0 {
		panic(fmt.Errorf("%w: %s", ErrNoFrames, exc.kind()))
	}

	frames := make([]Frame, len(exc.Frames))
	culprit := -1
	for i, f := range exc.Frames {
		frames[i] = f.clone()
		if !cls.IsDependency(f) {
			culprit = i
		}
	}
	if culprit < 0 {
		culprit = cls.fallbackIndex(len(frames))
	}

	c := frames[culprit].clone()
	if len(exc.Locals) > 0 {
		if c.Locals == nil {
			c.Locals = make(map[string]string, len(exc.Locals))
		}
		for k, v := range exc.Locals {
			c.Locals[k] = v
		}
	}

	stack := exc.Stack
	if stack == "" {
		stack = renderStack(exc.kind(), exc.message(), frames)
	}

	return &Summary{
		Culprit: c,
		Kind:    exc.kind(),
		Message: exc.message(),
		Stack:   stack,
		Frames:  frames,
	}
}

// Relativize returns a copy of exc whose absolute frame paths under root are rewritten
// relative to it, so the same failure site yields the same culprit on every host.
func (exc Exception) Relativize(root string) Exception {
	if root == "" {
		return exc
	}
	absRoot, err := filepath.Abs(root)
	if err != nil {
		return exc
	}
	out := exc
	out.Frames = make([]Frame, len(exc.Frames))
	for i, f := range exc.Frames {
		f = f.clone()
		if filepath.IsAbs(f.File) {
			if rel, err := filepath.Rel(absRoot, f.File); err == nil && !strings.HasPrefix(rel, "..") {
				f.File = filepath.ToSlash(rel)
			}
		}
		out.Frames[i] = f
	}
	return out
}

func (exc Exception) kind() string {
	if exc.Kind != "" {
		return exc.Kind
	}
	return KindOf(exc.Value)
}

func (exc Exception) message() string {
	switch v := exc.Value.(type) {
	case nil:
		return ""
	case error:
		return v.Error()
	case fmt.Stringer:
		return v.String()
	default:
		return fmt.Sprint(v)
	}
}

// KindOf names the kind of a failure value. For errors it is the type of the innermost
// error in the Unwrap chain, since wrappers say nothing about what failed.
func KindOf(v any) string {
	if v == nil {
		return ""
	}
	if err, ok := v.(error); ok {
		for {
			next := errors.Unwrap(err)
			if next == nil {
				break
			}
			err = next
		}
		v = err
	}
	return strings.TrimLeft(reflect.TypeOf(v).String(), "*")
}

// ShortFunction strips the import path from a qualified Go symbol:
// "example.com/app/handlers.(*Server).process" becomes "(*Server).process".
func ShortFunction(fn string) string {
	name := fn
	if i := strings.LastIndex(name, "/"); i >= 0 {
		name = name[i+1:]
	}
	if i := strings.Index(name, "."); i >= 0 {
		return name[i+1:]
	}
	return name
}

func (f Frame) clone() Frame {
	if f.Locals == nil {
		return f
	}
	locals := make(map[string]string, len(f.Locals))
	for k, v := range f.Locals {
		locals[k] = v
	}
	f.Locals = locals
	return f
}

// renderStack prints frames innermost first, the way the Go runtime prints a goroutine.
func renderStack(kind, message string, frames []Frame) string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s: %s\n\n", kind, message)
	for i := len(frames) - 1; i >= 0; i-- {
		f := frames[i]
		fmt.Fprintf(&b, "%s()\n\t%s:%d\n", f.Function, f.File, f.Line)
	}
	return strings.TrimRight(b.String(), "\n")
}
