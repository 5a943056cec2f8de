package plugins

import (
	"archive/zip"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
	"pgregory.net/rapid"

	"github.com/platinummonkey/cadplug/pkg/archive"
)

func problemOf[T error](t *testing.T, result *PackageValidationResult) T {
	t.Helper()
	for _, p := range result.Problems {
		var target T
		if errors.As(p, &target) {
			return target
		}
	}
	var zero T
	t.Fatalf("no %T among problems %v", zero, result.Errors)
	return zero
}

func TestValidateDirectory_Valid(t *testing.T) {
	dir := t.TempDir()
	writeBuiltProject(t, dir)

	result := NewVerifier(getTestLogger()).ValidateDirectory(context.Background(), dir)
	assert.True(t, result.Valid, result.Errors)
	assert.Empty(t, result.Errors)
	assert.Equal(t, ModeDirectory, result.Mode)
	require.NotNil(t, result.Manifest)
	assert.Equal(t, "com.example.toolpath", result.Manifest.ID)
}

func TestValidateDirectory_MissingManifest(t *testing.T) {
	result := NewVerifier(getTestLogger()).ValidateDirectory(context.Background(), t.TempDir())
	assert.False(t, result.Valid)
	assert.Equal(t, []string{"plugin.json: required file not found"}, result.Errors)
	assert.True(t, IsMissingFileError(result.Err()))
}

func TestValidateDirectory_UnparseableManifest(t *testing.T) {
	dir := t.TempDir()
	writeFile(t, filepath.Join(dir, ManifestFileName), "{broken")

	result := NewVerifier(getTestLogger()).ValidateDirectory(context.Background(), dir)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	problemOf[*ManifestParseError](t, result)
}

func TestValidateDirectory_CollectsEverything(t *testing.T) {
	dir := t.TempDir()
	m := validManifestMap()
	m["version"] = "1.0"
	m["contributes"].(map[string]any)["views"] = []any{
		map[string]any{"id": "v", "title": "V", "entry": "views/panel.html"},
	}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	writeFile(t, filepath.Join(dir, ManifestFileName), string(data))
	writeFile(t, filepath.Join(dir, "sidebar.html"), "<div/>")

	result := NewVerifier(getTestLogger()).ValidateDirectory(context.Background(), dir)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{
		`version: must be a semantic version MAJOR.MINOR.PATCH, got "1.0"`,
		`main: file "index.js" not found`,
		`contributes.views.0.entry: file "views/panel.html" not found`,
		"package.json: project descriptor not found",
		"README.md: README not found",
		"dist: build output not found, run build first",
	}, result.Errors)
	problemOf[*SchemaValidationError](t, result)
	problemOf[*MissingRequiredFileError](t, result)
}

func TestValidateArchive_Valid(t *testing.T) {
	path := writeArchive(t, packageArchive(t, validManifestJSON(t), defaultPackageFiles))

	result := NewVerifier(getTestLogger()).ValidateArchive(context.Background(), path)
	assert.True(t, result.Valid, result.Errors)
	assert.Equal(t, StageDone, result.Stage)
	assert.Equal(t, result.Metadata.Checksum, result.Checksum)
	assert.Equal(t, "com.example.toolpath", result.Manifest.ID)
}

func TestValidate_AutoDetectsMode(t *testing.T) {
	v := NewVerifier(getTestLogger())

	dir := t.TempDir()
	writeBuiltProject(t, dir)
	result, err := v.Validate(context.Background(), dir)
	require.NoError(t, err)
	assert.Equal(t, ModeDirectory, result.Mode)

	path := writeArchive(t, packageArchive(t, validManifestJSON(t), defaultPackageFiles))
	result, err = v.Validate(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, ModeArchive, result.Mode)
	assert.True(t, result.Valid)

	_, err = v.Validate(context.Background(), filepath.Join(dir, "nope"))
	assert.True(t, errors.Is(err, os.ErrNotExist))
}

func TestValidateArchive_Unreadable(t *testing.T) {
	path := filepath.Join(t.TempDir(), "junk.cadplugin")
	writeFile(t, path, "this is not a zip")

	result := NewVerifier(getTestLogger()).ValidateArchive(context.Background(), path)
	assert.False(t, result.Valid)
	assert.Equal(t, Stage(""), result.Stage)
	require.Len(t, result.Errors, 1)
	assert.True(t, IsArchiveIntegrityError(result.Err()))
}

func TestValidateArchive_MissingRequiredEntries(t *testing.T) {
	a := archive.New()
	require.NoError(t, a.Add("index.js", []byte("x")))
	path := writeArchive(t, a)

	result := NewVerifier(getTestLogger()).ValidateArchive(context.Background(), path)
	assert.False(t, result.Valid)
	assert.Equal(t, StageOpen, result.Stage)
	assert.Equal(t, []string{
		"plugin.json: required entry missing from archive",
		"metadata.json: required entry missing from archive",
	}, result.Errors)
	assert.Nil(t, result.Manifest)
}

func TestValidateArchive_UnparseableManifest(t *testing.T) {
	a := packageArchive(t, validManifestJSON(t), defaultPackageFiles)
	a.Put(archive.ManifestEntry, []byte("{nope"))

	result := NewVerifier(getTestLogger()).VerifyArchive(context.Background(), a, "memory")
	assert.False(t, result.Valid)
	assert.Equal(t, StageRequiredEntriesPresent, result.Stage)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "plugin.json: invalid JSON"))
}

func TestValidateArchive_MissingReferencedFiles(t *testing.T) {
	files := map[string]string{"index.js": "x"}
	path := writeArchive(t, packageArchive(t, validManifestJSON(t), files))

	result := NewVerifier(getTestLogger()).ValidateArchive(context.Background(), path)
	assert.False(t, result.Valid)
	assert.Equal(t, []string{`contributes.sidebar.entry: file "sidebar.html" not found`}, result.Errors)
	assert.Equal(t, StageManifestSchemaValid, result.Stage)
	missing := problemOf[*MissingRequiredFileError](t, result)
	assert.Equal(t, "sidebar.html", missing.Path)
}

func TestValidateArchive_MetadataProblems(t *testing.T) {
	t.Run("unparseable", func(t *testing.T) {
		a := packageArchive(t, validManifestJSON(t), defaultPackageFiles)
		a.Put(archive.MetadataEntry, []byte("not json"))

		result := NewVerifier(getTestLogger()).VerifyArchive(context.Background(), a, "memory")
		assert.False(t, result.Valid)
		require.Len(t, result.Errors, 1)
		assert.Equal(t, StageReferencedFilesPresent, result.Stage)
		assert.True(t, IsArchiveIntegrityError(result.Err()))
	})

	t.Run("missing fields", func(t *testing.T) {
		a := packageArchive(t, validManifestJSON(t), defaultPackageFiles)
		a.Put(archive.MetadataEntry, []byte(`{"id":"com.example.toolpath","version":"1.2.3"}`))

		result := NewVerifier(getTestLogger()).VerifyArchive(context.Background(), a, "memory")
		assert.False(t, result.Valid)
		joined := strings.Join(result.Errors, "\n")
		assert.Contains(t, joined, "name is required")
		assert.Contains(t, joined, "checksum is required")
		assert.Contains(t, joined, `metadata.name: "" does not match manifest name "Toolpath Helper"`)
		assert.NotContains(t, joined, "checksum: mismatch")
	})
}

func TestValidateArchive_ChecksumMismatch(t *testing.T) {
	a := packageArchive(t, validManifestJSON(t), defaultPackageFiles)
	a.Put("index.js", []byte("export default { evil: true }\n"))
	path := writeArchive(t, a)

	result := NewVerifier(getTestLogger()).ValidateArchive(context.Background(), path)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "checksum: mismatch"))
	mismatch := problemOf[*ChecksumMismatchError](t, result)
	assert.Equal(t, result.Metadata.Checksum, mismatch.Expected)
	assert.Equal(t, result.Checksum, mismatch.Actual)
	assert.Equal(t, StageMetadataParsed, result.Stage)
}

func TestValidateArchive_DamagedEntryCRC(t *testing.T) {
	path := writeArchive(t, packageArchive(t, validManifestJSON(t), defaultPackageFiles))

	zr, err := zip.OpenReader(path)
	require.NoError(t, err)
	crcOffset := int64(-1)
	for _, f := range zr.File {
		if f.Name == "index.js" {
			dataOffset, err := f.DataOffset()
			require.NoError(t, err)
			// data descriptor follows the content: signature, then CRC-32
			crcOffset = dataOffset + int64(f.CompressedSize64) + 4
		}
	}
	require.NoError(t, zr.Close())
	require.GreaterOrEqual(t, crcOffset, int64(0))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[crcOffset] ^= 0xff
	require.NoError(t, os.WriteFile(path, data, 0644))

	result := NewVerifier(getTestLogger()).ValidateArchive(context.Background(), path)
	assert.False(t, result.Valid)
	require.Len(t, result.Errors, 1)
	assert.True(t, strings.HasPrefix(result.Errors[0], "checksum: mismatch"), result.Errors[0])
	mismatch := problemOf[*ChecksumMismatchError](t, result)
	assert.Equal(t, []string{"index.js"}, mismatch.Damaged)
	assert.Equal(t, result.Checksum, mismatch.Actual)
	assert.Equal(t, StageMetadataParsed, result.Stage)
}

func TestValidateArchive_ExtraEntryChangesChecksum(t *testing.T) {
	a := packageArchive(t, validManifestJSON(t), defaultPackageFiles)
	a.Remove(archive.MetadataEntry)
	meta, ok := packageArchive(t, validManifestJSON(t), defaultPackageFiles).Get(archive.MetadataEntry)
	require.True(t, ok)
	require.NoError(t, a.Add("payload.js", []byte("injected")))
	require.NoError(t, a.Add(archive.MetadataEntry, meta))

	result := NewVerifier(getTestLogger()).VerifyArchive(context.Background(), a, "memory")
	assert.False(t, result.Valid)
	problemOf[*ChecksumMismatchError](t, result)
}

func TestValidateArchive_MetadataConsistency(t *testing.T) {
	a := packageArchive(t, validManifestJSON(t), defaultPackageFiles)
	raw, _ := a.Get(archive.MetadataEntry)
	var meta archive.PackageMetadata
	require.NoError(t, json.Unmarshal(raw, &meta))
	meta.ID = "com.example.other"
	meta.Version = "9.9.9"
	data, err := meta.Marshal()
	require.NoError(t, err)
	a.Put(archive.MetadataEntry, data)

	result := NewVerifier(getTestLogger()).VerifyArchive(context.Background(), a, "memory")
	assert.False(t, result.Valid)
	assert.Equal(t, []string{
		`metadata.id: "com.example.other" does not match manifest id "com.example.toolpath"`,
		`metadata.version: "9.9.9" does not match manifest version "1.2.3"`,
	}, result.Errors)
	assert.Equal(t, StageChecksumVerified, result.Stage)
	for _, p := range result.Problems {
		assert.True(t, IsMetadataInconsistentError(p))
	}
}

func TestValidateArchive_SchemaErrorsAreNotFatal(t *testing.T) {
	m := validManifestMap()
	m["permissions"] = []any{"teleport"}
	data, err := json.Marshal(m)
	require.NoError(t, err)
	a := packageArchive(t, data, defaultPackageFiles)

	result := NewVerifier(getTestLogger()).VerifyArchive(context.Background(), a, "memory")
	assert.False(t, result.Valid)
	assert.Equal(t, []string{`permissions.0: unknown permission "teleport"`}, result.Errors)
	assert.Equal(t, StageManifestParsed, result.Stage)
	assert.NotNil(t, result.Metadata)
}

func TestValidateArchive_Tracing(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	provider := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	previous := otel.GetTracerProvider()
	otel.SetTracerProvider(provider)
	defer otel.SetTracerProvider(previous)

	path := writeArchive(t, packageArchive(t, validManifestJSON(t), defaultPackageFiles))
	NewVerifier(getTestLogger()).ValidateArchive(context.Background(), path)

	spans := recorder.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "plugins.ValidateArchive", spans[0].Name())
}

func TestArchiveTamperProperty(t *testing.T) {
	v := NewVerifier(getTestLogger())
	files := map[string]string{
		"index.js":           "export default function activate() { return 42 }\n",
		"sidebar.html":       "<div id=\"root\"></div>\n",
		"assets/logo.svg":    "<svg viewBox=\"0 0 10 10\"></svg>\n",
		"assets/toolbar.png": "\x89PNG\r\n",
		"styles/panel.css":   "body { margin: 0 }\n",
		"locales/en.json":    "{\"hello\":\"Hello\"}\n",
		"workers/cam.js":     "self.onmessage = () => {}\n",
		"README.md":          "# Toolpath\n",
		"CHANGELOG.md":       "## 1.2.3\n",
	}
	original := packageArchive(t, validManifestJSON(t), files)
	names := original.Without(archive.MetadataEntry, archive.ManifestEntry).Names()

	rapid.Check(t, func(rt *rapid.T) {
		name := rapid.SampledFrom(names).Draw(rt, "entry")
		data, _ := original.Get(name)
		offset := rapid.IntRange(0, len(data)-1).Draw(rt, "offset")
		mask := rapid.ByteRange(1, 255).Draw(rt, "mask")

		tampered := original.Without()
		flipped := append([]byte(nil), data...)
		flipped[offset] ^= mask
		tampered.Put(name, flipped)

		result := v.VerifyArchive(context.Background(), tampered, "memory")
		if result.Valid {
			rt.Fatalf("flipping byte %d of %s went undetected", offset, name)
		}
		found := false
		for _, p := range result.Problems {
			if IsChecksumMismatchError(p) {
				found = true
			}
		}
		if !found {
			rt.Fatalf("expected checksum mismatch, got %v", result.Errors)
		}
	})
}
