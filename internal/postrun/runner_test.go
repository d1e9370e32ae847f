// File: internal/postrun/runner_test.go
package postrun

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func writeScript(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o755))
	return path
}

func TestRunMissingScript(t *testing.T) {
	r := New(zap.NewNop())
	assert.False(t, r.Run(context.Background(), filepath.Join(t.TempDir(), "absent.sh")))
}

func TestRunEmptyPath(t *testing.T) {
	r := New(zap.NewNop())
	assert.False(t, r.Run(context.Background(), ""))
}

func TestRunUnsupportedExtension(t *testing.T) {
	path := writeScript(t, "script.py", "print('hi')\n")
	r := New(zap.NewNop())
	assert.False(t, r.Run(context.Background(), path))
}

func TestRunShellScript(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("shell scripts are not runnable on windows")
	}

	t.Run("Clean Exit", func(t *testing.T) {
		path := writeScript(t, "ok.sh", "#!/bin/sh\nexit 0\n")
		r := New(zap.NewNop())
		assert.True(t, r.Run(context.Background(), path))
	})

	t.Run("Non-Zero Exit Reports False", func(t *testing.T) {
		path := writeScript(t, "fail.sh", "#!/bin/sh\nexit 3\n")
		r := New(zap.NewNop())
		assert.False(t, r.Run(context.Background(), path))
	})

	t.Run("Cancelled Context Stops The Script", func(t *testing.T) {
		path := writeScript(t, "slow.sh", "#!/bin/sh\nsleep 30\n")
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		r := New(zap.NewNop())
		assert.False(t, r.Run(ctx, path))
	})
}

func TestBatchScriptRequiresWindows(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("only meaningful off windows")
	}
	path := writeScript(t, "display.bat", "@echo off\n")
	r := New(zap.NewNop())
	assert.False(t, r.Run(context.Background(), path))
}
