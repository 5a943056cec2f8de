package build

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/platinummonkey/cadplug/pkg/plugins"
)

const tracerName = "github.com/platinummonkey/cadplug/pkg/build"

const (
	sourceDir = "src"
	assetsDir = "assets"
)

// Orchestrator builds plugin projects with the toolchain each project uses
type Orchestrator struct {
	runner ProcessRunner
	logger *logrus.Logger
}

// NewOrchestrator creates an orchestrator. A nil runner runs commands locally.
func NewOrchestrator(runner ProcessRunner, logger *logrus.Logger) *Orchestrator {
	if logger == nil {
		logger = logrus.New()
	}
	if runner == nil {
		runner = NewExecRunner(nil, nil)
	}
	return &Orchestrator{runner: runner, logger: logger}
}

// Build compiles the project in projectDir into dist/. In watch mode it
// returns as soon as the toolchain has started; the returned Outcome's
// Session controls the running process.
func (o *Orchestrator) Build(ctx context.Context, projectDir string, opts Options) (*Outcome, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "build.Build")
	defer span.End()

	outcome, err := o.build(ctx, projectDir, opts)
	if outcome != nil {
		span.SetAttributes(
			attribute.String("cadplug.build.id", outcome.ID),
			attribute.String("cadplug.build.strategy", string(outcome.Strategy)),
			attribute.Bool("cadplug.build.watch", outcome.Watching),
		)
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	return outcome, err
}

func (o *Orchestrator) build(ctx context.Context, projectDir string, opts Options) (*Outcome, error) {
	start := time.Now()
	outcome := &Outcome{
		ID:        uuid.New().String(),
		OutputDir: filepath.Join(projectDir, DistDir),
	}
	log := o.logger.WithFields(logrus.Fields{
		"build_id": outcome.ID,
		"project":  projectDir,
	})

	strategy, err := o.resolve(projectDir)
	if err != nil {
		return outcome, err
	}
	outcome.Strategy = strategy.Kind
	outcome.PackageManager = strategy.PackageManager

	log = log.WithField("strategy", strategy.Kind)
	log.Info("Building plugin")

	if strategy.Kind == StrategyCopy {
		if opts.Watch {
			warning := &UnsupportedCapabilityWarning{Capability: "watch mode", Strategy: StrategyCopy}
			outcome.Warnings = append(outcome.Warnings, warning)
			log.Warn(warning.Error())
		}
		if err := o.copySources(ctx, projectDir); err != nil {
			return outcome, err
		}
		if err := finalizeOutput(ctx, projectDir); err != nil {
			return outcome, err
		}
		outcome.Duration = time.Since(start)
		log.WithField("duration", outcome.Duration).Info("Build completed")
		return outcome, nil
	}

	cmd := strategy.Command(opts)
	cmd.Dir = projectDir
	if opts.Production {
		cmd.Env = append(cmd.Env, "NODE_ENV=production")
	}
	outcome.Command = cmd.Args
	log = log.WithField("command", cmd.String())

	if opts.Watch {
		sessionCtx, cancel := context.WithCancel(ctx)
		proc, err := o.runner.Start(sessionCtx, cmd)
		if err != nil {
			cancel()
			return outcome, &BuildError{ProjectDir: projectDir, Message: "failed to start toolchain", Err: err}
		}
		outcome.Watching = true
		outcome.Session = newSession(outcome.ID, cmd, proc, cancel, log)
		outcome.Duration = time.Since(start)
		log.Info("Watching for changes")
		return outcome, nil
	}

	proc, err := o.runner.Start(ctx, cmd)
	if err != nil {
		return outcome, &BuildError{ProjectDir: projectDir, Message: "failed to start toolchain", Err: err}
	}
	code, err := proc.Wait()
	if err != nil {
		return outcome, &BuildError{ProjectDir: projectDir, Message: "toolchain did not complete", Err: err}
	}
	if code != 0 {
		log.WithField("exit_code", code).Error("Toolchain failed")
		return outcome, &BuildProcessError{ExitCode: code, Command: cmd.Args}
	}

	if err := finalizeOutput(ctx, projectDir); err != nil {
		return outcome, err
	}
	outcome.Duration = time.Since(start)
	log.WithField("duration", outcome.Duration).Info("Build completed")
	return outcome, nil
}

// resolve checks build preconditions and detects the strategy
func (o *Orchestrator) resolve(projectDir string) (Strategy, error) {
	info, err := os.Stat(projectDir)
	if errors.Is(err, fs.ErrNotExist) {
		return Strategy{}, &BuildError{ProjectDir: projectDir, Message: fmt.Sprintf("project directory %s not found", projectDir)}
	}
	if err != nil {
		return Strategy{}, &BuildError{ProjectDir: projectDir, Message: "cannot access project directory", Err: err}
	}
	if !info.IsDir() {
		return Strategy{}, &BuildError{ProjectDir: projectDir, Message: fmt.Sprintf("%s is not a directory", projectDir)}
	}
	if !fileExists(filepath.Join(projectDir, plugins.ManifestFileName)) {
		return Strategy{}, &BuildError{ProjectDir: projectDir, Message: fmt.Sprintf("%s not found in project directory", plugins.ManifestFileName)}
	}

	desc, err := ReadProjectDescriptor(projectDir)
	if err != nil {
		return Strategy{}, &BuildError{ProjectDir: projectDir, Message: "invalid project descriptor", Err: err}
	}

	strategy := Strategy{
		Kind:           DetectStrategy(projectDir, desc),
		PackageManager: DetectPackageManager(projectDir),
		Descriptor:     desc,
	}
	if strategy.RequiresDescriptor() && desc == nil {
		return strategy, &BuildError{
			ProjectDir: projectDir,
			Message:    fmt.Sprintf("%s not found, the %s toolchain requires it", ProjectDescriptorFile, strategy.Kind),
		}
	}
	return strategy, nil
}

func (o *Orchestrator) copySources(ctx context.Context, projectDir string) error {
	src := filepath.Join(projectDir, sourceDir)
	if !dirExists(src) {
		return &BuildError{ProjectDir: projectDir, Message: fmt.Sprintf("no build toolchain detected and no %s directory to copy", sourceDir)}
	}
	if err := copyTree(ctx, src, filepath.Join(projectDir, DistDir)); err != nil {
		return &BuildError{ProjectDir: projectDir, Message: "failed to copy sources", Err: err}
	}
	return nil
}

// finalizeOutput places the manifest and static assets next to the build
// output so dist/ is self-contained
func finalizeOutput(ctx context.Context, projectDir string) error {
	if err := ctx.Err(); err != nil {
		return &BuildError{ProjectDir: projectDir, Message: "build cancelled", Err: err}
	}
	dist := filepath.Join(projectDir, DistDir)
	if err := os.MkdirAll(dist, 0755); err != nil {
		return &BuildError{ProjectDir: projectDir, Message: "failed to create build output directory", Err: err}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return copyFile(filepath.Join(projectDir, plugins.ManifestFileName), filepath.Join(dist, plugins.ManifestFileName))
	})
	if assets := filepath.Join(projectDir, assetsDir); dirExists(assets) {
		g.Go(func() error {
			return copyTree(gctx, assets, filepath.Join(dist, assetsDir))
		})
	}
	err := g.Wait()
	if err == nil {
		err = ctx.Err()
	}
	if err != nil {
		return &BuildError{ProjectDir: projectDir, Message: "failed to finalize build output", Err: err}
	}
	return nil
}

// Session is a running watch-mode toolchain
type Session struct {
	ID      string
	Command []string

	proc    Process
	cancel  context.CancelFunc
	logger  *logrus.Entry
	stopped atomic.Bool
	done    chan struct{}
	once    sync.Once
	err     error
}

func newSession(id string, cmd *Command, proc Process, cancel context.CancelFunc, logger *logrus.Entry) *Session {
	s := &Session{
		ID:      id,
		Command: cmd.Args,
		proc:    proc,
		cancel:  cancel,
		logger:  logger,
		done:    make(chan struct{}),
	}
	go s.run()
	return s
}

func (s *Session) run() {
	defer close(s.done)
	defer s.cancel()

	code, err := s.proc.Wait()
	switch {
	case s.stopped.Load():
		s.logger.Info("Watch session stopped")
	case err != nil:
		s.err = &BuildError{Message: "watch process did not complete", Err: err}
	case code != 0:
		s.err = &BuildProcessError{ExitCode: code, Command: s.Command}
	default:
		s.logger.Info("Watch process exited")
	}
	if s.err != nil {
		s.logger.WithError(s.err).Error("Watch session failed")
	}
}

// Done is closed once the watch process has exited
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Wait blocks until the watch process exits and returns its terminal error
func (s *Session) Wait() error {
	<-s.done
	return s.err
}

// Stop terminates the watch process and waits for it to exit
func (s *Session) Stop() error {
	s.once.Do(func() {
		s.stopped.Store(true)
		s.cancel()
	})
	<-s.done
	return s.err
}
