package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/platinummonkey/cadplug/pkg/build"
)

func newBuildCommand(a *app) *cobra.Command {
	var opts build.Options

	cmd := &cobra.Command{
		Use:   "build [dir]",
		Short: "Build a plugin project into dist/",
		Long: `Build detects the project's toolchain (webpack, a package.json build
script, tsc, or a plain copy of src/) and writes the output to dist/.
With --watch the toolchain keeps running until interrupted.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runBuild(cmd, projectDir(args), opts)
		},
	}

	cmd.Flags().BoolVar(&opts.Production, "production", false, "build a minified production bundle")
	cmd.Flags().BoolVarP(&opts.Watch, "watch", "w", false, "rebuild on change until interrupted")
	return cmd
}

func (a *app) runBuild(cmd *cobra.Command, dir string, opts build.Options) error {
	out := cmd.OutOrStdout()

	runner, closeRunner, err := a.newRunner(a.cfg.Build, out, cmd.ErrOrStderr(), a.logger)
	if err != nil {
		return err
	}
	defer closeRunner()

	ctx := cmd.Context()
	if !opts.Watch && a.cfg.Build.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.cfg.Build.Timeout)
		defer cancel()
	}

	outcome, err := build.NewOrchestrator(runner, a.logger).Build(ctx, dir, opts)
	if err != nil {
		return err
	}
	for _, w := range outcome.Warnings {
		fmt.Fprintf(cmd.ErrOrStderr(), "warning: %v\n", w)
	}

	if outcome.Watching {
		fmt.Fprintf(out, "Watching %s with %s, press Ctrl+C to stop\n", dir, outcome.Strategy)
		sigCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
		defer stop()

		select {
		case <-sigCtx.Done():
			return outcome.Session.Stop()
		case <-outcome.Session.Done():
			return outcome.Session.Wait()
		}
	}

	fmt.Fprintf(out, "Built %s with %s in %s -> %s\n", dir, outcome.Strategy, outcome.Duration.Round(time.Millisecond), outcome.OutputDir)
	return nil
}
