package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"

	_ "github.com/mattn/go-sqlite3"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cadplug/pkg/archive"
	"github.com/platinummonkey/cadplug/pkg/observability"
	"github.com/platinummonkey/cadplug/pkg/packager"
	"github.com/platinummonkey/cadplug/pkg/plugins"
)

const testManifest = `{
  "id": "com.example.toolpath",
  "name": "Toolpath Helper",
  "version": "1.2.3",
  "description": "Generates adaptive toolpaths",
  "author": "Example Corp",
  "license": "MIT",
  "main": "index.js",
  "engines": {"cadcam": "^2.0.0"},
  "permissions": ["model:read"]
}`

func getTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Quiet during tests
	return logger
}

type testEnv struct {
	root    string
	db      *sql.DB
	ledger  *plugins.Ledger
	service *VerificationService
	metrics *observability.Metrics
	server  *Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	db, err := sql.Open("sqlite3", ":memory:")
	require.NoError(t, err)
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })

	logger := getTestLogger()
	ledger := plugins.NewLedger(db, plugins.DialectSQLite, logger)
	require.NoError(t, ledger.Migrate(context.Background()))

	registry := prometheus.NewRegistry()
	metrics := observability.NewMetrics(registry)
	service := NewVerificationService(plugins.NewVerifier(logger), ledger, logger,
		WithMetrics(metrics), WithActor("api-test"))

	root := t.TempDir()
	return &testEnv{
		root:    root,
		db:      db,
		ledger:  ledger,
		service: service,
		metrics: metrics,
		server: NewServer(Options{
			Service:  service,
			Ledger:   ledger,
			Health:   observability.NewHealthChecker(db, "test"),
			Metrics:  metrics,
			Registry: registry,
			Root:     root,
			Logger:   logger,
		}),
	}
}

// writePackage builds a valid package into the env root and returns its path
func (e *testEnv) writePackage(t *testing.T, name string) string {
	t.Helper()
	project := t.TempDir()
	writeFile(t, filepath.Join(project, "plugin.json"), testManifest)
	writeFile(t, filepath.Join(project, "dist", "index.js"), "export default {}\n")

	out := filepath.Join(e.root, name)
	_, err := packager.New(getTestLogger()).Package(context.Background(), project, out)
	require.NoError(t, err)
	return out
}

// tamper rewrites index.js inside an existing package without touching
// its metadata
func tamper(t *testing.T, path string) {
	t.Helper()
	pkg, err := archive.Open(path)
	require.NoError(t, err)
	pkg.Put("index.js", []byte("export default { evil: true }\n"))
	_, err = pkg.WriteFile(path)
	require.NoError(t, err)
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

func (e *testEnv) do(t *testing.T, method, target string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, bytes.NewReader(body))
	w := httptest.NewRecorder()
	e.server.ServeHTTP(w, req)
	return w
}

func (e *testEnv) postJSON(t *testing.T, target string, v any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(v)
	require.NoError(t, err)
	return e.do(t, http.MethodPost, target, body)
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &v), w.Body.String())
	return v
}
