// File: cmd/exreporter/main_test.go
package main

import (
	"errors"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xkilldash9x/exreporter/pkg/trace"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestHandlePanic_WritesParseableDump(t *testing.T) {
	t.Cleanup(resetMocks)

	var written []byte
	var path string
	osWriteFile = func(name string, data []byte, _ os.FileMode) error {
		path, written = name, data
		return nil
	}
	exitCode := -1
	osExit = func(code int) { exitCode = code }

	func() {
		defer handlePanic()
		panic("boom")
	}()

	assert.Equal(t, 2, exitCode)
	assert.Equal(t, crashLogFile, path)

	exc, err := trace.NewParser().ParseString(string(written))
	require.NoError(t, err)
	assert.Equal(t, "boom", exc.Value)
	require.NotEmpty(t, exc.Frames)
	for _, f := range exc.Frames {
		assert.NotEqual(t, "main.handlePanic", f.Function)
	}
}

func TestHandlePanic_WriteFailure(t *testing.T) {
	t.Cleanup(resetMocks)

	osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only file system") }
	exitCode := -1
	osExit = func(code int) { exitCode = code }

	func() {
		defer handlePanic()
		panic("boom")
	}()
	assert.Equal(t, 2, exitCode)
}

func TestHandlePanic_NoPanic(t *testing.T) {
	t.Cleanup(resetMocks)
	osExit = func(int) { t.Fatal("exit without a panic") }

	func() {
		defer handlePanic()
	}()
}
