package model

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	cueerrors "cuelang.org/go/cue/errors"
)

// ConfigError reports a descriptor that could not be read, parsed, or
// validated. It is fatal and detected before anything else runs.
type ConfigError struct {
	Path string // file the descriptor was read from
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid descriptor %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }

// CueErrorDetail is a single humanized validation failure.
type CueErrorDetail struct {
	Path    string // settings.restart.time
	Message string
	Pos     CueErrorPosition
}

type CueErrorPosition struct {
	Filename string
	Line     int
	Column   int
}

func (d CueErrorDetail) String() string {
	var b strings.Builder
	if d.Path != "" {
		b.WriteString(d.Path)
		b.WriteString(": ")
	}
	b.WriteString(d.Message)
	if d.Pos.Filename != "" {
		fmt.Fprintf(&b, " (%s:%d:%d)", d.Pos.Filename, d.Pos.Line, d.Pos.Column)
	}
	return b.String()
}

func (d CueErrorDetail) Attr(name string) slog.Attr {
	return slog.Group(
		name,
		"path", d.Path,
		"message", d.Message,
		"file", d.Pos.Filename,
		"line", d.Pos.Line,
	)
}

// CueErrDetails flattens a validation error into one line per distinct
// failure, suitable for the diagnostic stream.
func CueErrDetails(err error) []string {
	details := errDetails(err)
	out := make([]string, 0, len(details))
	for _, d := range details {
		out = append(out, d.String())
	}
	return out
}

func errDetails(err error) []CueErrorDetail {
	if err == nil {
		return nil
	}
	var cfgErr *ConfigError
	if errors.As(err, &cfgErr) {
		err = cfgErr.Err
	}

	type key struct {
		path string
		pos  CueErrorPosition
	}
	seen := make(map[key]struct{})

	var out []CueErrorDetail
	for _, e := range cueerrors.Errors(err) {
		format, args := e.Msg()
		d := CueErrorDetail{
			Path:    normalizePath(e.Path()),
			Message: fmt.Sprintf(format, args...),
			Pos:     position(e),
		}

		k := key{path: d.Path, pos: d.Pos}
		if _, ok := seen[k]; ok {
			continue
		}
		seen[k] = struct{}{}
		out = append(out, d)
	}
	return out
}

func position(err cueerrors.Error) CueErrorPosition {
	for _, r := range cueerrors.Positions(err) {
		if r.Filename() == "" {
			continue
		}
		return CueErrorPosition{
			Filename: r.Filename(),
			Line:     r.Line(),
			Column:   r.Column(),
		}
	}
	var zero CueErrorPosition
	return zero
}

func normalizePath(p []string) string {
	if len(p) == 0 {
		return ""
	}
	// Drop the leading definition (#Descriptor).
	if strings.HasPrefix(p[0], "#") {
		p = p[1:]
	}
	return strings.Join(p, ".")
}
