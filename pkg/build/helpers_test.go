package build

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"
)

func getTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Quiet during tests
	return logger
}

func writeFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

const testManifest = `{"id":"com.example.toolpath","name":"Toolpath","version":"1.0.0","description":"d","author":"a","main":"index.js","engines":{"cadcam":"^2.0.0"}}`

// fakeRunner records commands instead of running them
type fakeRunner struct {
	mu       sync.Mutex
	commands []*Command

	exitCode int
	startErr error
	// block makes processes run until their context is cancelled
	block bool
	// onStart simulates the toolchain's side effects
	onStart func(cmd *Command)
}

func (r *fakeRunner) Start(ctx context.Context, cmd *Command) (Process, error) {
	r.mu.Lock()
	r.commands = append(r.commands, cmd)
	r.mu.Unlock()

	if r.startErr != nil {
		return nil, r.startErr
	}
	if r.onStart != nil {
		r.onStart(cmd)
	}
	return &fakeProcess{ctx: ctx, code: r.exitCode, block: r.block}, nil
}

func (r *fakeRunner) calls() []*Command {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*Command(nil), r.commands...)
}

type fakeProcess struct {
	ctx   context.Context
	code  int
	block bool
}

func (p *fakeProcess) Wait() (int, error) {
	if p.block {
		<-p.ctx.Done()
		return -1, p.ctx.Err()
	}
	return p.code, nil
}

// writeDistOnStart emulates a bundler emitting dist/index.js
func writeDistOnStart(t testing.TB) func(cmd *Command) {
	return func(cmd *Command) {
		writeFile(t, filepath.Join(cmd.Dir, DistDir, "index.js"), "bundle\n")
	}
}
