// File: cmd/exreporter/main.go
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/xkilldash9x/exreporter/cmd"
	"github.com/xkilldash9x/exreporter/internal/observability"
)

// crashLogFile receives the tool's own panics, in the dump format `report`
// and `watch` understand.
const crashLogFile = "exreporter-panic.log"

// Function variables for dependency injection in tests.
var (
	osWriteFile = os.WriteFile
	osExit      = os.Exit
)

func main() {
	defer handlePanic()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := cmd.Execute(ctx); err != nil {
		if errors.Is(err, context.Canceled) {
			osExit(0)
			return
		}
		fmt.Fprintln(os.Stderr, "Error:", err)
		osExit(1)
	}
}

// handlePanic writes a crash of the tool itself to crashLogFile so it can be
// filed with `exreporter report --panic-log`.
func handlePanic() {
	r := recover()
	if r == nil {
		return
	}
	observability.Sync()

	dump := fmt.Sprintf("panic: %v\n\n%s", r, debug.Stack())
	if err := osWriteFile(crashLogFile, []byte(dump), 0o644); err != nil {
		fmt.Fprintf(os.Stderr, "CRITICAL: Failed to write panic log: %v\n", err)
		fmt.Fprintf(os.Stderr, "Panic details:\n%s\n", dump)
		osExit(2)
		return
	}
	fmt.Fprintf(os.Stderr, "exreporter crashed. Details logged to %s\n", crashLogFile)
	osExit(2)
}
