package main

import (
	"bytes"
	"context"
	"errors"
	"io"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// resetMocks restores the original function implementations.
func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
	stderr = os.Stderr
}

func TestHandlePanic(t *testing.T) {
	defer resetMocks()

	t.Run("writes the panic log", func(t *testing.T) {
		var written []byte
		var exitCode int
		var errOut bytes.Buffer
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			assert.Equal(t, panicLogFile, name)
			written = data
			return nil
		}
		osExit = func(code int) { exitCode = code }
		stderr = &errOut

		func() {
			defer handlePanic()
			panic("boom")
		}()

		assert.Equal(t, 2, exitCode)
		assert.True(t, strings.HasPrefix(string(written), "panic: boom"))
		assert.Contains(t, string(written), "goroutine")
		assert.Contains(t, errOut.String(), panicLogFile)
	})

	t.Run("falls back to stderr", func(t *testing.T) {
		var exitCode int
		var errOut bytes.Buffer
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only") }
		osExit = func(code int) { exitCode = code }
		stderr = &errOut

		func() {
			defer handlePanic()
			panic("kaput")
		}()

		assert.Equal(t, 2, exitCode)
		assert.Contains(t, errOut.String(), "Failed to write panic log")
		assert.Contains(t, errOut.String(), "panic: kaput")
	})

	t.Run("no panic is a no-op", func(t *testing.T) {
		called := false
		osExit = func(int) { called = true }
		func() {
			defer handlePanic()
		}()
		assert.False(t, called)
	})
}

func TestInteractive(t *testing.T) {
	defer resetMocks()
	stderr = io.Discard

	var out bytes.Buffer
	in := strings.NewReader("\nversion\nquit\nversion\n")
	require.NoError(t, interactive(context.Background(), in, &out))

	prompts := strings.Count(out.String(), "droidpilot > ")
	assert.Equal(t, 3, prompts, "reading stops at quit")
	assert.Equal(t, 1, strings.Count(out.String(), "0."), "version printed once")
}
