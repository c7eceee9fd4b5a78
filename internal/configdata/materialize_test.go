package configdata_test

import (
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/myypo/nimi/internal/configdata"
	"github.com/myypo/nimi/internal/model"
)

func descriptorFor(services map[string]model.ServiceSpec) *model.Descriptor {
	return &model.Descriptor{
		Services: services,
		Settings: model.Settings{
			Restart: model.Restart{Mode: model.RestartNever, Time: 100, Count: 1},
		},
	}
}

func TestMaterialize(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	enabled := filepath.Join(dir, "etc", "app", "app.conf")
	disabled := filepath.Join(dir, "etc", "app", "disabled.conf")

	desc := descriptorFor(map[string]model.ServiceSpec{
		"app": {
			Process: model.ProcessSpec{Argv: []string{"/bin/true"}},
			ConfigData: map[string]model.ConfigDataEntry{
				"app.conf":      {Enable: true, Text: "hello", Path: enabled},
				"disabled.conf": {Enable: false, Text: "never written", Path: disabled},
			},
		},
	})

	require.NoError(t, configdata.Materialize(t.Context(), desc))

	got, err := os.ReadFile(enabled)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))

	// Disabled entries create nothing, even with parents now in place.
	_, err = os.Stat(disabled)
	require.ErrorIs(t, err, fs.ErrNotExist)
}

func TestMaterializeIdempotent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "p")

	desc := descriptorFor(map[string]model.ServiceSpec{
		"svc": {
			Process: model.ProcessSpec{Argv: []string{"/bin/true"}},
			ConfigData: map[string]model.ConfigDataEntry{
				"p": {Enable: true, Text: "hello", Path: path},
			},
		},
	})

	require.NoError(t, configdata.Materialize(t.Context(), desc))
	require.NoError(t, configdata.Materialize(t.Context(), desc))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestMaterializeDisabledLeavesExisting(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "keep.conf")
	require.NoError(t, os.WriteFile(path, []byte("original"), 0o644))

	desc := descriptorFor(map[string]model.ServiceSpec{
		"svc": {
			Process: model.ProcessSpec{Argv: []string{"/bin/true"}},
			ConfigData: map[string]model.ConfigDataEntry{
				"keep.conf": {Enable: false, Text: "overwrite attempt", Path: path},
			},
		},
	})

	require.NoError(t, configdata.Materialize(t.Context(), desc))

	got, err := os.ReadFile(path)
	require.NoError(t, err)
	require.Equal(t, "original", string(got))
}

func TestMaterializeWriteError(t *testing.T) {
	t.Parallel()

	// The target path is an existing directory, so the final rename fails.
	dir := t.TempDir()
	target := filepath.Join(dir, "taken")
	require.NoError(t, os.MkdirAll(target, 0o755))

	desc := descriptorFor(map[string]model.ServiceSpec{
		"svc": {
			Process: model.ProcessSpec{Argv: []string{"/bin/true"}},
			ConfigData: map[string]model.ConfigDataEntry{
				"bad": {Enable: true, Text: "x", Path: target},
			},
		},
	})

	err := configdata.Materialize(t.Context(), desc)
	require.Error(t, err)

	var writeErr *configdata.WriteError
	require.ErrorAs(t, err, &writeErr)
	require.Equal(t, "svc", writeErr.Service)
	require.Equal(t, "bad", writeErr.Key)
	require.Equal(t, target, writeErr.Path)
}
