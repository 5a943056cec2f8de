package plugins

import (
	"encoding/json"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/require"

	"github.com/platinummonkey/cadplug/pkg/archive"
)

func getTestLogger() *logrus.Logger {
	logger := logrus.New()
	logger.SetLevel(logrus.ErrorLevel) // Quiet during tests
	return logger
}

// validManifestMap returns a fresh manifest document that passes validation
func validManifestMap() map[string]any {
	return map[string]any{
		"id":          "com.example.toolpath",
		"name":        "Toolpath Helper",
		"version":     "1.2.3",
		"description": "Generates adaptive toolpaths",
		"author":      "Example Corp",
		"license":     "MIT",
		"main":        "index.js",
		"engines":     map[string]any{"cadcam": "^2.0.0"},
		"permissions": []any{"model:read", "ui:sidebar", "cam:simulate"},
		"contributes": map[string]any{
			"sidebar": map[string]any{
				"id":    "toolpath.sidebar",
				"title": "Toolpaths",
				"entry": "sidebar.html",
			},
			"commands": []any{
				map[string]any{"id": "toolpath.generate", "title": "Generate"},
			},
			"menus": map[string]any{
				"tools": []any{map[string]any{"command": "toolpath.generate", "group": "cam"}},
			},
			"keybindings": []any{
				map[string]any{"command": "toolpath.generate", "key": "ctrl+shift+g", "mac": "cmd+shift+g"},
			},
			"statusBar": []any{
				map[string]any{"id": "toolpath.status", "text": "Ready", "alignment": "right", "priority": float64(10)},
			},
		},
		"dependencies": map[string]any{"com.example.geometry": ">=1.0.0 <2.0.0"},
		"configuration": map[string]any{
			"title": "Toolpath",
			"properties": map[string]any{
				"stepover": map[string]any{"type": "number", "default": 0.4, "minimum": 0.0, "maximum": 1.0},
				"strategy": map[string]any{"type": "string", "enum": []any{"adaptive", "contour"}},
				"passes": map[string]any{
					"type":  "array",
					"items": map[string]any{"type": "object", "properties": map[string]any{"depth": map[string]any{"type": "integer"}}},
				},
			},
		},
		"marketplace":      map[string]any{"categories": []any{"cam", "productivity"}, "tags": []any{"toolpath"}},
		"activationEvents": []any{"onStartup", "onCommand:toolpath.generate"},
	}
}

func validManifestJSON(t testing.TB) []byte {
	t.Helper()
	data, err := json.Marshal(validManifestMap())
	require.NoError(t, err)
	return data
}

// writeFile creates parent directories and writes content
func writeFile(t testing.TB, path, content string) {
	t.Helper()
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
}

// writeBuiltProject lays out a built plugin project
func writeBuiltProject(t testing.TB, dir string) {
	t.Helper()
	writeFile(t, filepath.Join(dir, ManifestFileName), string(validManifestJSON(t)))
	writeFile(t, filepath.Join(dir, "package.json"), `{"name":"toolpath","scripts":{"build":"webpack"}}`)
	writeFile(t, filepath.Join(dir, "README.md"), "# Toolpath\n")
	writeFile(t, filepath.Join(dir, "dist", "index.js"), "export default {}\n")
	writeFile(t, filepath.Join(dir, "dist", "sidebar.html"), "<div></div>\n")
}

// packageArchive assembles a package the same way the packager does
func packageArchive(t testing.TB, manifest []byte, files map[string]string) *archive.Archive {
	t.Helper()
	a := archive.New()
	require.NoError(t, a.Add(archive.ManifestEntry, manifest))
	for _, name := range sortedFileNames(files) {
		require.NoError(t, a.Add(name, []byte(files[name])))
	}

	checksum, err := archive.Checksum(a)
	require.NoError(t, err)

	var m Manifest
	require.NoError(t, json.Unmarshal(manifest, &m))
	meta := &archive.PackageMetadata{
		ID:       m.ID,
		Version:  m.Version,
		Name:     m.Name,
		Checksum: checksum,
		Files:    a.Names(),
	}
	data, err := meta.Marshal()
	require.NoError(t, err)
	require.NoError(t, a.Add(archive.MetadataEntry, data))
	return a
}

func sortedFileNames(files map[string]string) []string {
	names := make([]string, 0, len(files))
	for name := range files {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func writeArchive(t testing.TB, a *archive.Archive) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "plugin"+archive.Extension)
	_, err := a.WriteFile(path)
	require.NoError(t, err)
	return path
}

var defaultPackageFiles = map[string]string{
	"index.js":     "export default {}\n",
	"sidebar.html": "<div></div>\n",
}
