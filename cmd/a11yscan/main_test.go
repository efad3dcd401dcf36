package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resetMocks() {
	osWriteFile = os.WriteFile
	osExit = os.Exit
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, 0, exitCode(nil))
	assert.Equal(t, 0, exitCode(fmt.Errorf("scan failed: %w", context.Canceled)))
	assert.Equal(t, 1, exitCode(errors.New("boom")))
}

func TestHandlePanic(t *testing.T) {
	t.Cleanup(resetMocks)

	panicAndRecover := func() {
		defer handlePanic()
		panic("something broke")
	}

	t.Run("writes the panic log", func(t *testing.T) {
		var (
			written  string
			path     string
			exitWith = -1
		)
		osWriteFile = func(name string, data []byte, _ os.FileMode) error {
			path, written = name, string(data)
			return nil
		}
		osExit = func(code int) { exitWith = code }

		panicAndRecover()

		assert.Equal(t, panicLogFile, path)
		assert.Contains(t, written, "panic: something broke")
		assert.Contains(t, written, "goroutine", "the stack trace is recorded")
		assert.Equal(t, 2, exitWith)
	})

	t.Run("log write failure still exits", func(t *testing.T) {
		exitWith := -1
		osWriteFile = func(string, []byte, os.FileMode) error { return errors.New("read-only fs") }
		osExit = func(code int) { exitWith = code }

		require.NotPanics(t, panicAndRecover)
		assert.Equal(t, 2, exitWith)
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
