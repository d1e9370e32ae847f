// File: internal/postrun/runner.go
// Post-pipeline external script execution. The script runs to completion with
// inherited standard streams; its exit code is observed and logged but never
// influences the run outcome.
package postrun

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// Runner launches operator-supplied scripts by file extension.
type Runner struct {
	logger *zap.Logger
}

// New returns a Runner.
func New(logger *zap.Logger) *Runner {
	return &Runner{logger: logger}
}

// Run executes the script at path and waits for it to finish. It reports
// whether the script launched and exited cleanly; a missing file, unknown
// extension, or non-zero exit all return false after logging.
func (r *Runner) Run(ctx context.Context, path string) bool {
	if path == "" {
		return false
	}
	if _, err := os.Stat(path); err != nil {
		r.logger.Warn("Post-run script not found.", zap.String("path", path), zap.Error(err))
		return false
	}

	cmd, err := r.command(ctx, path)
	if err != nil {
		r.logger.Warn("Post-run script skipped.", zap.String("path", path), zap.Error(err))
		return false
	}
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	cmd.Stdin = os.Stdin

	r.logger.Info("Running post-run script.", zap.String("path", path))
	if err := cmd.Run(); err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			r.logger.Warn("Post-run script exited non-zero.",
				zap.String("path", path), zap.Int("exit_code", exitErr.ExitCode()))
		} else {
			r.logger.Warn("Post-run script failed to run.", zap.String("path", path), zap.Error(err))
		}
		return false
	}
	r.logger.Info("Post-run script completed.", zap.String("path", path))
	return true
}

// command maps the script extension to its interpreter.
func (r *Runner) command(ctx context.Context, path string) (*exec.Cmd, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".sh":
		shell := "bash"
		if _, err := exec.LookPath(shell); err != nil {
			shell = "sh"
		}
		return exec.CommandContext(ctx, shell, path), nil
	case ".ps1":
		shell := "pwsh"
		if _, err := exec.LookPath(shell); err != nil {
			shell = "powershell"
		}
		return exec.CommandContext(ctx, shell, "-File", path), nil
	case ".bat", ".cmd":
		if runtime.GOOS != "windows" {
			return nil, fmt.Errorf("batch script %s requires windows", path)
		}
		return exec.CommandContext(ctx, "cmd", "/c", path), nil
	default:
		return nil, fmt.Errorf("unsupported script extension %q", filepath.Ext(path))
	}
}
