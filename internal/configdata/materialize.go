// Package configdata writes the static configuration files services declare
// in their configData blocks. Materialization is a startup precondition: it
// runs once, for every service, before any service is spawned, and is never
// repeated across restarts.
package configdata

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/myypo/nimi/internal/model"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// WriteError reports a configData entry that could not be written. It is
// fatal: services must not start without their declared files on disk.
type WriteError struct {
	Service string
	Key     string
	Path    string
	Err     error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("materializing configData %s/%s at %s: %v", e.Service, e.Key, e.Path, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// Materialize writes every enabled configData entry of every service to its
// declared path, creating missing parent directories. Disabled entries are
// skipped: no file is created and pre-existing files are left untouched.
// Writes are atomic, so running nimi again with the same input is
// idempotent.
func Materialize(ctx context.Context, desc *model.Descriptor) error {
	for _, id := range desc.ServiceIDs() {
		svc := desc.Services[id]
		for _, key := range svc.ConfigKeys() {
			entry := svc.ConfigData[key]
			if !entry.Enable {
				slog.DebugContext(ctx, "configData entry disabled, skipping",
					"service", id, "key", key, "path", entry.Path)
				continue
			}
			if err := write(entry); err != nil {
				return &WriteError{Service: id, Key: key, Path: entry.Path, Err: err}
			}
			slog.DebugContext(ctx, "configData entry written",
				"service", id, "key", key, "path", entry.Path, "bytes", len(entry.Text))
		}
	}
	return nil
}

func write(entry model.ConfigDataEntry) error {
	if dir := filepath.Dir(entry.Path); dir != "." {
		if err := os.MkdirAll(dir, dirMode); err != nil {
			return err
		}
	}
	return renameio.WriteFile(entry.Path, []byte(entry.Text), fileMode)
}
