package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/platinummonkey/cadplug/pkg/archive"
	"github.com/platinummonkey/cadplug/pkg/observability"
)

// packageExtensions are the file types picked up from the inbox
var packageExtensions = []string{archive.Extension, ".zip"}

// InboxHandler is called once per settled package file
type InboxHandler func(ctx context.Context, path string)

type settled struct {
	path string
	gen  uint64
}

type pendingFile struct {
	timer *time.Timer
	gen   uint64
}

// Inbox watches a directory for package files. Writes to the same file are
// debounced so the handler only sees a file once it stops changing.
type Inbox struct {
	dir      string
	debounce time.Duration
	handle   InboxHandler
	logger   *logrus.Logger
	pending  prometheus.Gauge

	watcher *fsnotify.Watcher
	ready   chan settled
	done    chan struct{}

	mu     sync.Mutex
	timers map[string]*pendingFile
	gen    uint64
}

// NewInbox starts watching dir. pending may be nil.
func NewInbox(dir string, debounce time.Duration, handle InboxHandler, logger *logrus.Logger, pending prometheus.Gauge) (*Inbox, error) {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create inbox directory: %w", err)
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("failed to create watcher: %w", err)
	}
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("failed to watch %s: %w", dir, err)
	}

	return &Inbox{
		dir:      dir,
		debounce: debounce,
		handle:   handle,
		logger:   logger,
		pending:  pending,
		watcher:  watcher,
		ready:    make(chan settled),
		done:     make(chan struct{}),
		timers:   make(map[string]*pendingFile),
	}, nil
}

// ScanExisting queues every package already sitting in the inbox
func (in *Inbox) ScanExisting() error {
	entries, err := os.ReadDir(in.dir)
	if err != nil {
		return fmt.Errorf("failed to read inbox: %w", err)
	}
	for _, entry := range entries {
		if entry.Type().IsRegular() && isPackageFile(entry.Name()) {
			in.schedule(filepath.Join(in.dir, entry.Name()))
		}
	}
	return nil
}

// Run dispatches settled files to the handler until ctx is cancelled. The
// watcher is closed on return.
func (in *Inbox) Run(ctx context.Context) error {
	defer in.close()
	in.logger.WithField("dir", in.dir).Info("Watching inbox for plugin packages")

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-in.watcher.Events:
			if !ok {
				return nil
			}
			if !isPackageFile(event.Name) {
				continue
			}
			switch {
			case event.Op&(fsnotify.Create|fsnotify.Write) != 0:
				in.schedule(event.Name)
			case event.Op&(fsnotify.Remove|fsnotify.Rename) != 0:
				in.cancel(event.Name)
			}

		case err, ok := <-in.watcher.Errors:
			if !ok {
				return nil
			}
			in.logger.WithError(err).Warn("Inbox watcher error")

		case s := <-in.ready:
			if in.claim(s) {
				in.dispatch(ctx, s.path)
			}
		}
	}
}

func (in *Inbox) dispatch(ctx context.Context, path string) {
	defer observability.RecoverPanic(in.logger, "inbox handler")

	if _, err := os.Stat(path); err != nil {
		in.logger.WithField("path", path).Debug("Package disappeared before verification")
		return
	}
	in.handle(ctx, path)
}

// schedule (re)starts the debounce timer for path
func (in *Inbox) schedule(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if p, ok := in.timers[path]; ok {
		p.timer.Stop()
	}
	in.gen++
	s := settled{path: path, gen: in.gen}
	in.timers[path] = &pendingFile{
		gen: s.gen,
		timer: time.AfterFunc(in.debounce, func() {
			select {
			case in.ready <- s:
			case <-in.done:
			}
		}),
	}
	in.setPending()
}

// claim removes the pending entry for s and reports whether s is still the
// newest event for its path
func (in *Inbox) claim(s settled) bool {
	in.mu.Lock()
	defer in.mu.Unlock()

	p, ok := in.timers[s.path]
	if !ok || p.gen != s.gen {
		return false
	}
	delete(in.timers, s.path)
	in.setPending()
	return true
}

func (in *Inbox) cancel(path string) {
	in.mu.Lock()
	defer in.mu.Unlock()

	if p, ok := in.timers[path]; ok {
		p.timer.Stop()
		delete(in.timers, path)
		in.setPending()
	}
}

func (in *Inbox) close() {
	close(in.done)

	in.mu.Lock()
	for path, p := range in.timers {
		p.timer.Stop()
		delete(in.timers, path)
	}
	in.setPending()
	in.mu.Unlock()

	if err := in.watcher.Close(); err != nil {
		in.logger.WithError(err).Warn("Failed to close inbox watcher")
	}
}

// setPending must be called with mu held
func (in *Inbox) setPending() {
	if in.pending != nil {
		in.pending.Set(float64(len(in.timers)))
	}
}

func isPackageFile(name string) bool {
	ext := strings.ToLower(filepath.Ext(name))
	for _, want := range packageExtensions {
		if ext == want {
			return true
		}
	}
	return false
}
