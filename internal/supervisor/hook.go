package supervisor

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
)

// RunStartupHook executes the configured one-shot binary to completion with
// its output on nimi's own streams. An empty path is a no-op. It must run
// before the Supervisor starts: the hook's exit status is collected here
// with Run, not by the reaper.
func RunStartupHook(ctx context.Context, path string) error {
	if path == "" {
		return nil
	}

	slog.InfoContext(ctx, "running startup hook", "path", path)
	cmd := exec.CommandContext(ctx, path)
	cmd.Stdout = os.Stdout
	cmd.Stderr = os.Stderr
	if err := cmd.Run(); err != nil {
		return &HookError{Path: path, Err: err}
	}
	slog.InfoContext(ctx, "startup hook finished", "path", path)
	return nil
}
