package archive

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func sampleArchive(t *testing.T) *Archive {
	t.Helper()
	a := New()
	require.NoError(t, a.Add(ManifestEntry, []byte(`{"id":"com.example.tool"}`)))
	require.NoError(t, a.Add("index.js", []byte("console.log('hi')")))
	require.NoError(t, a.Add("assets/icon.svg", []byte("<svg/>")))
	return a
}

func TestArchiveAdd(t *testing.T) {
	a := New()
	require.NoError(t, a.Add("./dist/../index.js", []byte("x")))
	assert.True(t, a.Has("index.js"))
	assert.Equal(t, []string{"index.js"}, a.Names())

	err := a.Add("index.js", []byte("y"))
	assert.ErrorIs(t, err, ErrDuplicateEntry)

	assert.ErrorIs(t, a.Add("../..", nil), ErrInvalidEntryName)
}

func TestArchivePutAndRemove(t *testing.T) {
	a := sampleArchive(t)

	a.Put("index.js", []byte("changed"))
	data, ok := a.Get("index.js")
	require.True(t, ok)
	assert.Equal(t, "changed", string(data))
	assert.Equal(t, []string{ManifestEntry, "index.js", "assets/icon.svg"}, a.Names())

	assert.True(t, a.Remove("index.js"))
	assert.False(t, a.Remove("index.js"))
	assert.Equal(t, []string{ManifestEntry, "assets/icon.svg"}, a.Names())

	data, ok = a.Get("assets/icon.svg")
	require.True(t, ok)
	assert.Equal(t, "<svg/>", string(data))
}

func TestArchiveSerializationIsDeterministic(t *testing.T) {
	first, err := sampleArchive(t).Bytes()
	require.NoError(t, err)
	second, err := sampleArchive(t).Bytes()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestArchiveEntryHeaders(t *testing.T) {
	data, err := sampleArchive(t).Bytes()
	require.NoError(t, err)

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	require.NoError(t, err)
	require.Len(t, zr.File, 3)
	for _, f := range zr.File {
		assert.Equal(t, zip.Deflate, f.Method, f.Name)
		assert.True(t, f.Modified.Equal(FixedZipTime), f.Name)
		assert.Equal(t, os.FileMode(0o644), f.Mode().Perm(), f.Name)
	}
}

func TestChecksumExcludesMetadata(t *testing.T) {
	a := sampleArchive(t)
	before, err := Checksum(a)
	require.NoError(t, err)
	assert.Len(t, before, 64)

	require.NoError(t, a.Add(MetadataEntry, []byte(`{"checksum":"`+before+`"}`)))
	after, err := Checksum(a)
	require.NoError(t, err)
	assert.Equal(t, before, after)

	a.Put("index.js", []byte("tampered"))
	tampered, err := Checksum(a)
	require.NoError(t, err)
	assert.NotEqual(t, before, tampered)
}

func TestWriteFileAndOpen(t *testing.T) {
	a := sampleArchive(t)
	path := filepath.Join(t.TempDir(), "pkg"+Extension)

	n, err := a.WriteFile(path)
	require.NoError(t, err)
	assert.Positive(t, n)

	entries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	assert.Len(t, entries, 1, "temporary file must not be left behind")

	loaded, err := Open(path)
	require.NoError(t, err)
	assert.Equal(t, a.Names(), loaded.Names())
	assert.Empty(t, loaded.Damaged())

	want, err := Checksum(a)
	require.NoError(t, err)
	got, err := Checksum(loaded)
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestReadRejectsGarbage(t *testing.T) {
	data := []byte("definitely not a zip file")
	_, err := Read(bytes.NewReader(data), int64(len(data)))
	assert.True(t, IsNotArchiveError(err))
}

func TestReadReportsDamagedEntries(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	w, err := zw.CreateHeader(&zip.FileHeader{Name: "index.js", Method: zip.Store})
	require.NoError(t, err)
	_, err = w.Write([]byte("original-content"))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	raw := buf.Bytes()
	i := bytes.Index(raw, []byte("original-content"))
	require.GreaterOrEqual(t, i, 0)
	raw[i] ^= 0xff

	a, err := Read(bytes.NewReader(raw), int64(len(raw)))
	require.NoError(t, err)
	assert.Equal(t, []string{"index.js"}, a.Damaged())
	data, ok := a.Get("index.js")
	require.True(t, ok)
	assert.NotEqual(t, "original-content", string(data))
}

func TestSanitizePath(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"index.js", "index.js"},
		{"/abs/path.js", "abs/path.js"},
		{`dir\file.js`, "dir/file.js"},
		{"C:/x/y", "x/y"},
		{"a/./b/../c", "a/c"},
		{"../../escape", "escape"},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, SanitizePath(tt.in))
		})
	}
}

func TestArchiveRoundTripProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		count := rapid.IntRange(1, 8).Draw(t, "count")
		a := New()
		for i := 0; i < count; i++ {
			name := rapid.StringMatching(`[a-z]{1,6}(/[a-z]{1,6}){0,2}\.(js|css|json)`).Draw(t, "name")
			data := rapid.SliceOfN(rapid.Byte(), 0, 256).Draw(t, "data")
			if a.Has(name) {
				continue
			}
			if err := a.Add(name, data); err != nil {
				t.Fatalf("add: %v", err)
			}
		}

		raw, err := a.Bytes()
		if err != nil {
			t.Fatalf("serialize: %v", err)
		}
		loaded, err := Read(bytes.NewReader(raw), int64(len(raw)))
		if err != nil {
			t.Fatalf("read: %v", err)
		}
		again, err := loaded.Bytes()
		if err != nil {
			t.Fatalf("reserialize: %v", err)
		}
		if !bytes.Equal(raw, again) {
			t.Fatalf("reserialized archive differs")
		}
	})
}
