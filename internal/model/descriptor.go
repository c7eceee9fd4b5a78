package model

import (
	"bytes"
	"fmt"
	"io"
	"path/filepath"
	"slices"
	"time"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	cuejson "cuelang.org/go/encoding/json"
	cueyaml "cuelang.org/go/encoding/yaml"

	_ "embed"
)

// Restart modes.
const (
	RestartNever     = "never"
	RestartUpToCount = "up-to-count"
	RestartAlways    = "always"
)

//go:embed descriptor.cue
var cueSource []byte

var (
	cueCtx *cue.Context
	schema cue.Value
)

func init() {
	if len(cueSource) == 0 {
		panic("variable cueSource is empty")
	}
	cueCtx = cuecontext.New()
	compiled := cueCtx.CompileBytes(cueSource)
	if compiled.Err() != nil {
		panic(compiled.Err())
	}

	if err := compiled.Validate(); err != nil {
		panic(err)
	}

	schema = compiled.LookupPath(cue.ParsePath("#Descriptor"))
	if schema.Err() != nil {
		panic(schema.Err())
	}
	if err := schema.Validate(); err != nil {
		panic(err)
	}
}

// Descriptor is the validated service descriptor nimi runs from. It is
// produced by an external configuration system and immutable for the run.
type Descriptor struct {
	Services map[string]ServiceSpec `json:"services" yaml:"services"`
	Settings Settings               `json:"settings" yaml:"settings"`
}

// ServiceSpec describes one supervised service.
type ServiceSpec struct {
	Process    ProcessSpec                `json:"process" yaml:"process"`
	ConfigData map[string]ConfigDataEntry `json:"configData,omitempty" yaml:"configData,omitempty"`

	// Restart overrides settings.restart for this service when present.
	Restart *Restart `json:"restart,omitempty" yaml:"restart,omitempty"`
}

// ProcessSpec holds the executable and its arguments. Argv is never empty
// after validation.
type ProcessSpec struct {
	Argv []string `json:"argv" yaml:"argv"`
}

// ConfigDataEntry is static file content materialized before the owning
// service first starts.
type ConfigDataEntry struct {
	Enable bool   `json:"enable" yaml:"enable"`
	Text   string `json:"text" yaml:"text"`
	Path   string `json:"path" yaml:"path"`
}

type Settings struct {
	Restart  Restart  `json:"restart" yaml:"restart"`
	Startup  Startup  `json:"startup" yaml:"startup"`
	Logging  Logging  `json:"logging" yaml:"logging"`
	Shutdown Shutdown `json:"shutdown" yaml:"shutdown"`
}

// Restart selects whether and when an exited service is relaunched.
type Restart struct {
	Mode  string `json:"mode" yaml:"mode"`   // "never" | "up-to-count" | "always"
	Time  int64  `json:"time" yaml:"time"`   // delay before respawn, milliseconds
	Count int    `json:"count" yaml:"count"` // restart budget for "up-to-count"
}

// Delay returns the respawn delay as a duration.
func (r Restart) Delay() time.Duration {
	return time.Duration(r.Time) * time.Millisecond
}

type Startup struct {
	// RunOnStartup is a binary executed to completion before any service
	// starts. Empty means no hook.
	RunOnStartup string `json:"runOnStartup,omitempty" yaml:"runOnStartup,omitempty"`
}

type Logging struct {
	EnableLogFiles bool   `json:"enableLogFiles" yaml:"enableLogFiles"`
	LogsDir        string `json:"logsDir" yaml:"logsDir"`
}

type Shutdown struct {
	Grace int64 `json:"grace" yaml:"grace"` // per-process grace period, milliseconds
}

func (s Shutdown) GraceDelay() time.Duration {
	return time.Duration(s.Grace) * time.Millisecond
}

// Load validates a descriptor document against the CUE schema and decodes
// it. JSON and YAML are both accepted; JSON is assumed when filename ends in
// .json or the document starts with '{'. Validation failures are returned as
// a *ConfigError whose detail lines are available via CueErrDetails.
func Load(r io.Reader, filename string) (*Descriptor, error) {
	raw, err := io.ReadAll(r)
	if err != nil {
		return nil, &ConfigError{Path: filename, Err: err}
	}

	var doc cue.Value
	if isJSON(raw, filename) {
		expr, err := cuejson.Extract(filename, raw)
		if err != nil {
			return nil, &ConfigError{Path: filename, Err: err}
		}
		doc = cueCtx.BuildExpr(expr)
	} else {
		file, err := cueyaml.Extract(filename, raw)
		if err != nil {
			return nil, &ConfigError{Path: filename, Err: err}
		}
		doc = cueCtx.BuildFile(file)
	}
	if doc.Err() != nil {
		return nil, &ConfigError{Path: filename, Err: doc.Err()}
	}

	unified := schema.Unify(doc)
	if err := unified.Validate(
		cue.All(),          // all constraints
		cue.Concrete(true), // no incomplete values
	); err != nil {
		return nil, &ConfigError{Path: filename, Err: err}
	}

	var out Descriptor
	if err := unified.Decode(&out); err != nil {
		return nil, &ConfigError{Path: filename, Err: err}
	}

	return &out, nil
}

func isJSON(raw []byte, filename string) bool {
	if filepath.Ext(filename) == ".json" {
		return true
	}
	trimmed := bytes.TrimLeft(raw, " \t\r\n")
	return len(trimmed) > 0 && trimmed[0] == '{'
}

// ServiceIDs returns the service ids in configuration order. JSON objects
// carry no ordering, so configuration order is the sorted id order.
func (d *Descriptor) ServiceIDs() []string {
	ids := make([]string, 0, len(d.Services))
	for id := range d.Services {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// ConfigKeys returns the configData keys of s in configuration order.
func (s ServiceSpec) ConfigKeys() []string {
	keys := make([]string, 0, len(s.ConfigData))
	for k := range s.ConfigData {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}

// EffectiveRestart resolves the restart policy for s: the per-service
// override when present, the global settings otherwise.
func (s ServiceSpec) EffectiveRestart(global Restart) Restart {
	if s.Restart != nil {
		return *s.Restart
	}
	return global
}

// Validate checks the schema's invariants on already decoded values. Load
// output always passes; this guards hand-built descriptors in tests and
// future producers.
func (d *Descriptor) Validate() error {
	if len(d.Services) == 0 {
		return fmt.Errorf("at least one service must be declared")
	}
	for id, svc := range d.Services {
		if id == "" {
			return fmt.Errorf("service ids must not be empty")
		}
		if len(svc.Process.Argv) == 0 {
			return fmt.Errorf("service %q: process.argv must not be empty", id)
		}
		if svc.Restart != nil {
			if err := validateRestart(fmt.Sprintf("service %q restart", id), *svc.Restart); err != nil {
				return err
			}
		}
	}
	return validateRestart("settings.restart", d.Settings.Restart)
}

func validateRestart(scope string, r Restart) error {
	if r.Time <= 0 {
		return fmt.Errorf("%s: time must be positive, got %d", scope, r.Time)
	}
	if r.Count <= 0 {
		return fmt.Errorf("%s: count must be positive, got %d", scope, r.Count)
	}
	return nil
}
