package cli

import (
	"context"
	"io"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/platinummonkey/cadplug/pkg/build"
	"github.com/platinummonkey/cadplug/pkg/config"
	"github.com/platinummonkey/cadplug/pkg/observability"
)

const version = "0.1.0"

// runnerFactory creates the build process runner selected by configuration.
// The returned close function releases the runner's resources.
type runnerFactory func(cfg config.BuildConfig, stdout, stderr io.Writer, logger *logrus.Logger) (build.ProcessRunner, func() error, error)

// app is the state shared by every command of one invocation
type app struct {
	configPath string
	logLevel   string
	logFormat  string

	cfg       *config.Config
	logger    *logrus.Logger
	newRunner runnerFactory
}

// NewRootCommand creates the cadplug command tree
func NewRootCommand() *cobra.Command {
	return newRootCommand(&app{newRunner: defaultRunner})
}

func newRootCommand(a *app) *cobra.Command {
	root := &cobra.Command{
		Use:   "cadplug",
		Short: "cadplug - CAD/CAM plugin build and packaging tool",
		Long: `cadplug builds CAD/CAM host plugin projects, packages them into
.cadplugin archives and verifies the integrity of existing packages.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "", "config file (default is $"+config.EnvConfigFile+")")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (debug, info, warn, error)")
	root.PersistentFlags().StringVar(&a.logFormat, "log-format", "", "log format (text, json)")

	root.SetVersionTemplate(`{{with .Name}}{{printf "%s " .}}{{end}}{{printf "version %s" .Version}}
`)

	root.AddCommand(
		newBuildCommand(a),
		newPackageCommand(a),
		newValidateCommand(a),
		newLintManifestCommand(a),
	)
	return root
}

// setup loads configuration and creates the logger before any subcommand runs
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if a.logFormat != "" {
		cfg.Log.Format = a.logFormat
	}

	logger, err := observability.NewLogger(cfg.Log.Level, cfg.Log.Format, cmd.ErrOrStderr())
	if err != nil {
		return err
	}
	a.cfg = cfg
	a.logger = logger
	return nil
}

// Execute runs the command tree against the process arguments
func Execute(ctx context.Context) error {
	return NewRootCommand().ExecuteContext(ctx)
}

// GetVersion returns the current version
func GetVersion() string {
	return version
}

func defaultRunner(cfg config.BuildConfig, stdout, stderr io.Writer, logger *logrus.Logger) (build.ProcessRunner, func() error, error) {
	if cfg.Runner == config.RunnerDocker {
		runner, err := build.NewDockerRunner(build.DockerConfig{
			Image:       cfg.DockerImage,
			MemoryLimit: cfg.MemoryLimit,
			CPULimit:    cfg.CPULimit,
			Stdout:      stdout,
			Stderr:      stderr,
		}, logger)
		if err != nil {
			return nil, nil, err
		}
		return runner, runner.Close, nil
	}
	return build.NewExecRunner(stdout, stderr), func() error { return nil }, nil
}

// projectDir returns the directory argument, defaulting to the working directory
func projectDir(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return "."
}
