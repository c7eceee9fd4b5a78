package main

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime/debug"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/myypo/nimi/internal/configdata"
	"github.com/myypo/nimi/internal/log"
	"github.com/myypo/nimi/internal/logsink"
	"github.com/myypo/nimi/internal/model"
	"github.com/myypo/nimi/internal/supervisor"
)

// Exit codes per fatal error class. Per-service failures never map here;
// they stay inside the restart-policy state machine.
const (
	exitFatal      = 1 // run ended with failed services, or an unclassified error
	exitConfig     = 2 // malformed or schema-invalid descriptor
	exitHook       = 3 // startup hook missing or exited non-zero
	exitConfigData = 4 // configData could not be materialized
)

var flagVerbose bool

func main() {
	rootCmd.PersistentFlags().BoolVar(&flagVerbose, "verbose", false, "verbose logging")

	// never print messages; main logs the final error itself
	rootCmd.SilenceErrors = true

	rootCmd.PersistentPreRun = func(_ *cobra.Command, _ []string) {
		slog.SetDefault(log.New(flagVerbose))
	}

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(versionCmd)

	if err := rootCmd.Execute(); err != nil {
		slog.Error("nimi failed", "error", err)
		os.Exit(exitCode(err))
	}
}

var rootCmd = &cobra.Command{
	Use:          "nimi",
	Short:        "Minimal PID 1 and service supervisor for containers",
	SilenceUsage: true,
}

var runCmd = &cobra.Command{
	Use:   "run <descriptor>",
	Short: "run supervises the declared services until they finish or a termination request arrives",
	Args:  cobra.ExactArgs(1),
	RunE:  doRun,
}

var validateCmd = &cobra.Command{
	Use:   "validate <descriptor>",
	Short: "validate checks the descriptor against the schema; no side effects",
	Args:  cobra.ExactArgs(1),
	RunE:  doValidate,
}

var showCmd = &cobra.Command{
	Use:   "show <descriptor>",
	Short: "show prints the validated descriptor with defaults applied, as YAML",
	Args:  cobra.ExactArgs(1),
	RunE:  doShow,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "version provides the version of nimi",
	Run: func(cmd *cobra.Command, args []string) {
		info, ok := debug.ReadBuildInfo()
		if !ok {
			fmt.Println("nimi: version info not available")
			return
		}

		fmt.Printf("nimi: %s\n", info.Main.Version)
		fmt.Printf("go:   %s\n", info.GoVersion)
		for _, s := range info.Settings {
			switch s.Key {
			case "vcs.revision":
				fmt.Printf("commit: %s\n", s.Value)
			case "vcs.time":
				fmt.Printf("date:   %s\n", s.Value)
			case "vcs.modified":
				fmt.Printf("dirty:  %s\n", s.Value)
			}
		}
	},
}

func doRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	desc, err := loadDescriptor(args[0])
	if err != nil {
		logConfigDetails(err)
		return err
	}

	attrs := slog.Group("nimi",
		slog.String("run_id", uuid.NewString()),
		slog.Int("pid", os.Getpid()),
	)
	ctx = log.ContextAttrs(ctx, attrs)

	// Strict phase order: hook, then materialization, then spawn. The hook
	// also has to finish before the supervisor installs its SIGCHLD reaper.
	if err := supervisor.RunStartupHook(ctx, desc.Settings.Startup.RunOnStartup); err != nil {
		return err
	}
	if err := configdata.Materialize(ctx, desc); err != nil {
		return err
	}

	sinks := logsink.NewManager(desc.Settings.Logging)
	defer func() {
		_ = sinks.Close()
	}()

	return supervisor.New(desc, sinks).Run(ctx)
}

func doValidate(cmd *cobra.Command, args []string) error {
	desc, err := loadDescriptor(args[0])
	if err != nil {
		logConfigDetails(err)
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "descriptor valid: %d service(s)\n", len(desc.Services))
	return nil
}

func doShow(cmd *cobra.Command, args []string) error {
	desc, err := loadDescriptor(args[0])
	if err != nil {
		logConfigDetails(err)
		return err
	}

	enc := yaml.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent(2)
	if err := enc.Encode(desc); err != nil {
		return fmt.Errorf("encoding descriptor: %w", err)
	}
	return enc.Close()
}

func loadDescriptor(path string) (*model.Descriptor, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, &model.ConfigError{Path: path, Err: err}
	}
	defer func() {
		_ = f.Close()
	}()
	return model.Load(f, filepath.Base(path))
}

func logConfigDetails(err error) {
	for _, d := range model.CueErrDetails(err) {
		slog.Error(d)
	}
}

func exitCode(err error) int {
	var (
		cfgErr  *model.ConfigError
		hookErr *supervisor.HookError
		ioErr   *configdata.WriteError
	)
	switch {
	case errors.As(err, &cfgErr):
		return exitConfig
	case errors.As(err, &hookErr):
		return exitHook
	case errors.As(err, &ioErr):
		return exitConfigData
	}
	return exitFatal
}
