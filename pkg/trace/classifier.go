package trace

import (
	"path/filepath"
	"runtime"
	"strings"
)

// Fallback selects the culprit when a stack holds no application frame at all.
type Fallback int

const (
	// FallbackOutermost blames the outermost frame, the entry point into dependency code.
	FallbackOutermost Fallback = iota
	// FallbackInnermost blames the innermost frame, where the dependency actually failed.
	FallbackInnermost
)

// ParseFallback maps a config string to a Fallback. Unknown values yield FallbackOutermost.
func ParseFallback(s string) Fallback {
	if strings.EqualFold(strings.TrimSpace(s), "innermost") {
		return FallbackInnermost
	}
	return FallbackOutermost
}

// String implements fmt.Stringer.
func (f Fallback) String() string {
	if f == FallbackInnermost {
		return "innermost"
	}
	return "outermost"
}

// defaultDependencyMarkers are path fragments of code the application does not own.
var defaultDependencyMarkers = []string{"/pkg/mod/", "/vendor/"}

// Classifier partitions frames into application and dependency frames.
// The zero value applies the built-in Go rules.
type Classifier struct {
	// AppPackages restricts application code to these import path prefixes.
	// Package main is always application code.
	AppPackages []string
	// DependencyMarkers are extra path substrings identifying dependency files.
	DependencyMarkers []string
	Fallback          Fallback
	// GOROOT overrides runtime.GOROOT() for locating standard library files.
	GOROOT string
}

// IsDependency reports whether f belongs to the runtime, the standard library,
// a module-cache or vendored dependency, or a package outside AppPackages.
func (c Classifier) IsDependency(f Frame) bool {
	file := filepath.ToSlash(f.File)
	pkg := packagePath(f.Function)

	if f.Function == "panic" || strings.HasPrefix(f.Function, "runtime.") {
		return true
	}
	if c.isStdlibFile(file, pkg) {
		return true
	}
	for _, m := range defaultDependencyMarkers {
		if strings.Contains(file, m) {
			return true
		}
	}
	for _, m := range c.DependencyMarkers {
		if m != "" && strings.Contains(file, m) {
			return true
		}
	}
	if len(c.AppPackages) > 0 && pkg != "main" {
		for _, p := range c.AppPackages {
			if pkg == p || strings.HasPrefix(pkg, strings.TrimSuffix(p, "/")+"/") {
				return false
			}
		}
		return true
	}
	return false
}

func (c Classifier) isStdlibFile(file, pkg string) bool {
	goroot := c.GOROOT
	if goroot == "" {
		goroot = runtime.GOROOT()
	}
	if goroot != "" {
		src := strings.TrimSuffix(filepath.ToSlash(goroot), "/") + "/src/"
		if strings.HasPrefix(file, src) {
			return true
		}
	}
	// A file under some other go/src tree is standard library only when its
	// import path has no dot; module paths (github.com/...) always carry one.
	if !strings.Contains(file, "/go/src/") || pkg == "main" {
		return false
	}
	return !strings.Contains(pkg, ".")
}

func (c Classifier) fallbackIndex(n int) int {
	if c.Fallback == FallbackInnermost {
		return n - 1
	}
	return 0
}

// packagePath extracts the import path from a qualified symbol such as
// "github.com/a/b.(*T).M" (github.com/a/b) or "main.main.func1" (main).
func packagePath(fn string) string {
	slash := strings.LastIndex(fn, "/")
	dot := strings.Index(fn[slash+1:], ".")
	if dot < 0 {
		return fn
	}
	return fn[:slash+1+dot]
}
