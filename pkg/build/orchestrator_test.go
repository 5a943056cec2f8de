package build

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func newScriptProject(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plugin.json"), testManifest)
	writeFile(t, filepath.Join(dir, ProjectDescriptorFile), `{"name":"toolpath","scripts":{"build":"rollup -c"}}`)
	writeFile(t, filepath.Join(dir, assetsDir, "icon.svg"), "<svg/>")
	writeFile(t, filepath.Join(dir, assetsDir, "img", "logo.png"), "png")
	return dir
}

func TestBuild_Script(t *testing.T) {
	dir := newScriptProject(t)
	runner := &fakeRunner{onStart: writeDistOnStart(t)}
	o := NewOrchestrator(runner, getTestLogger())

	outcome, err := o.Build(context.Background(), dir, Options{Production: true})
	require.NoError(t, err)

	assert.NotEmpty(t, outcome.ID)
	assert.Equal(t, StrategyScript, outcome.Strategy)
	assert.Equal(t, PackageManagerNPM, outcome.PackageManager)
	assert.Equal(t, []string{"npm", "run", "build"}, outcome.Command)
	assert.Equal(t, filepath.Join(dir, DistDir), outcome.OutputDir)
	assert.False(t, outcome.Watching)
	assert.Empty(t, outcome.Warnings)

	calls := runner.calls()
	require.Len(t, calls, 1)
	assert.Equal(t, dir, calls[0].Dir)
	assert.Contains(t, calls[0].Env, "NODE_ENV=production")

	manifest, err := os.ReadFile(filepath.Join(dir, DistDir, "plugin.json"))
	require.NoError(t, err)
	assert.Equal(t, testManifest, string(manifest))
	assert.FileExists(t, filepath.Join(dir, DistDir, "index.js"))
	assert.FileExists(t, filepath.Join(dir, DistDir, assetsDir, "icon.svg"))
	assert.FileExists(t, filepath.Join(dir, DistDir, assetsDir, "img", "logo.png"))
}

func TestBuild_UniqueIDs(t *testing.T) {
	dir := newScriptProject(t)
	o := NewOrchestrator(&fakeRunner{}, getTestLogger())

	first, err := o.Build(context.Background(), dir, Options{})
	require.NoError(t, err)
	second, err := o.Build(context.Background(), dir, Options{})
	require.NoError(t, err)
	assert.NotEqual(t, first.ID, second.ID)
}

func TestBuild_ProcessFailure(t *testing.T) {
	dir := newScriptProject(t)
	o := NewOrchestrator(&fakeRunner{exitCode: 2}, getTestLogger())

	_, err := o.Build(context.Background(), dir, Options{})
	require.Error(t, err)

	var procErr *BuildProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 2, procErr.ExitCode)
	assert.Equal(t, []string{"npm", "run", "build"}, procErr.Command)
	assert.True(t, IsBuildFailedError(err))
	assert.Equal(t, 2, ExitCode(err))
	assert.Equal(t, "build failed: `npm run build` exited with code 2", err.Error())

	assert.NoFileExists(t, filepath.Join(dir, DistDir, "plugin.json"))
}

func TestBuild_StartFailure(t *testing.T) {
	dir := newScriptProject(t)
	startErr := errors.New("exec: \"npm\": executable file not found in $PATH")
	o := NewOrchestrator(&fakeRunner{startErr: startErr}, getTestLogger())

	_, err := o.Build(context.Background(), dir, Options{})
	require.Error(t, err)

	var buildErr *BuildError
	require.ErrorAs(t, err, &buildErr)
	assert.ErrorIs(t, err, startErr)
	assert.True(t, IsBuildFailedError(err))
	assert.Equal(t, -1, ExitCode(err))
}

func TestBuild_Preconditions(t *testing.T) {
	tests := []struct {
		name    string
		setup   func(t *testing.T) string
		message string
	}{
		{
			name: "missing project directory",
			setup: func(t *testing.T) string {
				return filepath.Join(t.TempDir(), "nope")
			},
			message: "not found",
		},
		{
			name: "project path is a file",
			setup: func(t *testing.T) string {
				path := filepath.Join(t.TempDir(), "file")
				writeFile(t, path, "")
				return path
			},
			message: "is not a directory",
		},
		{
			name: "missing manifest",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, filepath.Join(dir, ProjectDescriptorFile), `{"scripts":{"build":"x"}}`)
				return dir
			},
			message: "plugin.json not found in project directory",
		},
		{
			name: "toolchain without package.json",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, filepath.Join(dir, "plugin.json"), testManifest)
				writeFile(t, filepath.Join(dir, "tsconfig.json"), "{}")
				return dir
			},
			message: "package.json not found, the typescript toolchain requires it",
		},
		{
			name: "malformed package.json",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, filepath.Join(dir, "plugin.json"), testManifest)
				writeFile(t, filepath.Join(dir, ProjectDescriptorFile), "{")
				return dir
			},
			message: "invalid project descriptor",
		},
		{
			name: "copy without src",
			setup: func(t *testing.T) string {
				dir := t.TempDir()
				writeFile(t, filepath.Join(dir, "plugin.json"), testManifest)
				return dir
			},
			message: "no src directory to copy",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			runner := &fakeRunner{}
			o := NewOrchestrator(runner, getTestLogger())

			_, err := o.Build(context.Background(), tt.setup(t), Options{})
			require.Error(t, err)

			var buildErr *BuildError
			require.ErrorAs(t, err, &buildErr)
			assert.Contains(t, err.Error(), tt.message)
			assert.True(t, IsBuildFailedError(err))
			assert.Empty(t, runner.calls())
		})
	}
}

func TestBuild_Copy(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plugin.json"), testManifest)
	writeFile(t, filepath.Join(dir, sourceDir, "index.js"), "code")
	writeFile(t, filepath.Join(dir, sourceDir, "views", "panel.html"), "<p/>")
	writeFile(t, filepath.Join(dir, sourceDir, "views", "deep", "more.css"), "p{}")

	runner := &fakeRunner{}
	o := NewOrchestrator(runner, getTestLogger())

	outcome, err := o.Build(context.Background(), dir, Options{})
	require.NoError(t, err)
	assert.Equal(t, StrategyCopy, outcome.Strategy)
	assert.Empty(t, outcome.Command)
	assert.Empty(t, runner.calls())

	for _, rel := range []string{"index.js", "views/panel.html", "views/deep/more.css", "plugin.json"} {
		assert.FileExists(t, filepath.Join(dir, DistDir, filepath.FromSlash(rel)))
	}
	content, err := os.ReadFile(filepath.Join(dir, DistDir, "views", "deep", "more.css"))
	require.NoError(t, err)
	assert.Equal(t, "p{}", string(content))
}

func TestBuild_CopyCancelled(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plugin.json"), testManifest)
	writeFile(t, filepath.Join(dir, sourceDir, "index.js"), "code")
	writeFile(t, filepath.Join(dir, sourceDir, "panel.html"), "<p/>")
	writeFile(t, filepath.Join(dir, sourceDir, "views", "more.css"), "p{}")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	outcome, err := NewOrchestrator(&fakeRunner{}, getTestLogger()).Build(ctx, dir, Options{})
	require.Error(t, err)
	assert.True(t, IsBuildFailedError(err))
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, StrategyCopy, outcome.Strategy)
	assert.NoFileExists(t, filepath.Join(dir, DistDir, "plugin.json"))
}

func TestCopyTree_Cancelled(t *testing.T) {
	src := t.TempDir()
	writeFile(t, filepath.Join(src, "a.js"), "a")
	writeFile(t, filepath.Join(src, "nested", "b.js"), "b")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := copyTree(ctx, src, filepath.Join(t.TempDir(), "out"))
	assert.ErrorIs(t, err, context.Canceled)
}

func TestFinalizeOutput_Cancelled(t *testing.T) {
	dir := newScriptProject(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := finalizeOutput(ctx, dir)
	assert.ErrorIs(t, err, context.Canceled)
	assert.True(t, IsBuildFailedError(err))
	assert.NoDirExists(t, filepath.Join(dir, DistDir))
}

func TestBuild_CopyWatchWarns(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, "plugin.json"), testManifest)
	writeFile(t, filepath.Join(dir, sourceDir, "index.js"), "code")

	outcome, err := NewOrchestrator(&fakeRunner{}, getTestLogger()).Build(context.Background(), dir, Options{Watch: true})
	require.NoError(t, err)
	assert.False(t, outcome.Watching)
	assert.Nil(t, outcome.Session)

	require.Len(t, outcome.Warnings, 1)
	var warning *UnsupportedCapabilityWarning
	require.ErrorAs(t, outcome.Warnings[0], &warning)
	assert.Equal(t, StrategyCopy, warning.Strategy)
	assert.FileExists(t, filepath.Join(dir, DistDir, "index.js"))
}

func TestBuild_Watch(t *testing.T) {
	dir := newScriptProject(t)
	writeFile(t, filepath.Join(dir, ProjectDescriptorFile), `{"scripts":{"build":"rollup -c","dev":"rollup -c -w"}}`)

	runner := &fakeRunner{block: true}
	o := NewOrchestrator(runner, getTestLogger())

	outcome, err := o.Build(context.Background(), dir, Options{Watch: true})
	require.NoError(t, err)
	require.True(t, outcome.Watching)
	require.NotNil(t, outcome.Session)
	assert.Equal(t, []string{"npm", "run", "dev"}, outcome.Session.Command)
	assert.Equal(t, outcome.ID, outcome.Session.ID)

	select {
	case <-outcome.Session.Done():
		t.Fatal("session ended before Stop")
	case <-time.After(50 * time.Millisecond):
	}

	assert.NoError(t, outcome.Session.Stop())
	assert.NoError(t, outcome.Session.Wait())
	assert.NoError(t, outcome.Session.Stop(), "Stop is idempotent")

	// post-build copies only run for one-off builds
	assert.NoFileExists(t, filepath.Join(dir, DistDir, "plugin.json"))
}

func TestBuild_WatchProcessExits(t *testing.T) {
	dir := newScriptProject(t)
	o := NewOrchestrator(&fakeRunner{exitCode: 3}, getTestLogger())

	outcome, err := o.Build(context.Background(), dir, Options{Watch: true})
	require.NoError(t, err)

	err = outcome.Session.Wait()
	var procErr *BuildProcessError
	require.ErrorAs(t, err, &procErr)
	assert.Equal(t, 3, procErr.ExitCode)
	assert.Equal(t, []string{"npm", "run", "build", "--", "--watch"}, procErr.Command)
}

func TestBuild_WatchStopsWithParentContext(t *testing.T) {
	dir := newScriptProject(t)
	ctx, cancel := context.WithCancel(context.Background())
	o := NewOrchestrator(&fakeRunner{block: true}, getTestLogger())

	outcome, err := o.Build(ctx, dir, Options{Watch: true})
	require.NoError(t, err)

	cancel()
	select {
	case <-outcome.Session.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("session did not end after context cancellation")
	}

	var buildErr *BuildError
	require.ErrorAs(t, outcome.Session.Wait(), &buildErr)
	assert.ErrorIs(t, buildErr, context.Canceled)
}

func TestBuild_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	t.Cleanup(func() { otel.SetTracerProvider(previous) })

	dir := newScriptProject(t)
	_, err := NewOrchestrator(&fakeRunner{exitCode: 1}, getTestLogger()).Build(context.Background(), dir, Options{})
	require.Error(t, err)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "build.Build", spans[0].Name())

	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes() {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "script", attrs["cadplug.build.strategy"])
	assert.Len(t, spans[0].Events(), 1, "error recorded on span")
}

func TestExecRunner(t *testing.T) {
	if _, err := os.Stat("/bin/sh"); err != nil {
		t.Skip("requires /bin/sh")
	}

	t.Run("exit code and output", func(t *testing.T) {
		var stdout, stderr bytes.Buffer
		runner := NewExecRunner(&stdout, &stderr)

		proc, err := runner.Start(context.Background(), &Command{
			Args: []string{"/bin/sh", "-c", "echo out; echo err >&2; echo $CADPLUG_TEST; exit 3"},
			Dir:  t.TempDir(),
			Env:  []string{"CADPLUG_TEST=env"},
		})
		require.NoError(t, err)

		code, err := proc.Wait()
		require.NoError(t, err)
		assert.Equal(t, 3, code)
		assert.Equal(t, "out\nenv\n", stdout.String())
		assert.Equal(t, "err\n", stderr.String())
	})

	t.Run("cancellation", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		runner := NewExecRunner(&bytes.Buffer{}, &bytes.Buffer{})

		proc, err := runner.Start(ctx, &Command{Args: []string{"/bin/sh", "-c", "sleep 30"}})
		require.NoError(t, err)
		cancel()

		code, err := proc.Wait()
		assert.Equal(t, -1, code)
		assert.ErrorIs(t, err, context.Canceled)
	})

	t.Run("missing binary", func(t *testing.T) {
		runner := NewExecRunner(nil, nil)
		_, err := runner.Start(context.Background(), &Command{Args: []string{"cadplug-no-such-binary"}})
		require.Error(t, err)
	})

	t.Run("empty command", func(t *testing.T) {
		_, err := NewExecRunner(nil, nil).Start(context.Background(), &Command{})
		require.Error(t, err)
	})
}

func TestContainerSpec(t *testing.T) {
	cfg := DockerConfig{Image: "node:20-alpine", MemoryLimit: 512 * 1024 * 1024, CPULimit: 1.5}
	cmd := &Command{Args: []string{"npm", "run", "build"}, Env: []string{"NODE_ENV=production"}}

	config, hostConfig := containerSpec(cfg, cmd, "/home/dev/plugin")

	assert.Equal(t, "node:20-alpine", config.Image)
	assert.Equal(t, []string{"npm", "run", "build"}, []string(config.Cmd))
	assert.Equal(t, []string{"NODE_ENV=production"}, config.Env)
	assert.Equal(t, "/workspace", config.WorkingDir)
	assert.Equal(t, []string{"/home/dev/plugin:/workspace"}, hostConfig.Binds)
	assert.Equal(t, int64(512*1024*1024), hostConfig.Resources.Memory)
	assert.Equal(t, int64(1_500_000_000), hostConfig.Resources.NanoCPUs)
}
