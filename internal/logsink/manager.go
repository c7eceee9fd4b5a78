// Package logsink owns the per-service log sinks child output is wired to.
//
// Sinks are raw *os.File handles so they can be attached to a child process
// as inherited file descriptors: the child writes straight to the file and
// no pump goroutine ties the sink's lifetime to a particular spawn. A sink
// is opened once per service and survives its restarts, so one run produces
// one continuous log file per service.
package logsink

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/myypo/nimi/internal/model"
)

const (
	dirMode  = 0o755
	fileMode = 0o644
)

// Manager hands out stdout/stderr destinations for supervised services.
// With log files disabled it passes nimi's own streams through, so normal
// container log collection still sees child output.
type Manager struct {
	enabled bool
	dir     string

	mu    sync.Mutex
	sinks map[string]*os.File
}

// NewManager creates the manager and, when log files are enabled, the logs
// directory. A directory that cannot be created is a logging fault, not a
// supervision fault: the manager logs it and degrades to pass-through.
func NewManager(cfg model.Logging) *Manager {
	m := &Manager{
		enabled: cfg.EnableLogFiles,
		dir:     cfg.LogsDir,
		sinks:   make(map[string]*os.File),
	}
	if m.enabled {
		if err := os.MkdirAll(m.dir, dirMode); err != nil {
			slog.Error("creating logs directory failed, falling back to pass-through",
				"dir", m.dir, "error", err)
			m.enabled = false
		}
	}
	return m
}

// Sink returns the stdout and stderr destinations for the named service.
// Both streams share one append-mode file named <id>.log; repeated calls for
// the same id return the same handle. Open failures fall back to
// pass-through for that service only.
func (m *Manager) Sink(id string) (stdout, stderr *os.File) {
	if !m.enabled {
		return os.Stdout, os.Stderr
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if f, ok := m.sinks[id]; ok {
		return f, f
	}

	path := filepath.Join(m.dir, id+".log")
	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_APPEND, fileMode)
	if err != nil {
		slog.Error("opening log sink failed, falling back to pass-through",
			"service", id, "path", path, "error", err)
		return os.Stdout, os.Stderr
	}
	m.sinks[id] = f
	return f, f
}

// Path returns where the named service's log file lives, whether or not it
// has been opened yet.
func (m *Manager) Path(id string) string {
	return filepath.Join(m.dir, id+".log")
}

// Close releases every open sink. Call once the supervisor has finished.
func (m *Manager) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	var firstErr error
	for id, f := range m.sinks {
		if err := f.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing log sink for %s: %w", id, err)
		}
		delete(m.sinks, id)
	}
	return firstErr
}
