package supervisor_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myypo/nimi/internal/supervisor"
)

func writeScript(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "hook.sh")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body), 0o755))
	return path
}

func TestStartupHookEmptyPath(t *testing.T) {
	require.NoError(t, supervisor.RunStartupHook(t.Context(), ""))
}

func TestStartupHookSuccess(t *testing.T) {
	requireSh(t)

	path := writeScript(t, "exit 0\n")
	require.NoError(t, supervisor.RunStartupHook(t.Context(), path))
}

func TestStartupHookFailure(t *testing.T) {
	requireSh(t)

	path := writeScript(t, "exit 3\n")
	err := supervisor.RunStartupHook(t.Context(), path)
	require.Error(t, err)

	var hookErr *supervisor.HookError
	require.ErrorAs(t, err, &hookErr)
	require.Equal(t, path, hookErr.Path)
}

func TestStartupHookMissingBinary(t *testing.T) {
	err := supervisor.RunStartupHook(t.Context(), filepath.Join(t.TempDir(), "no-such-hook"))
	require.Error(t, err)

	var hookErr *supervisor.HookError
	require.ErrorAs(t, err, &hookErr)
}
