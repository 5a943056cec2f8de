// Package archive implements the .cadplugin package container: an ordered
// set of named entries serialized as a deterministic zip, and the metadata
// record that carries the package checksum.
package archive

import (
	"archive/zip"
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// Well-known entry names
const (
	ManifestEntry = "plugin.json"
	MetadataEntry = "metadata.json"
)

// Extension is the file extension of packaged plugins
const Extension = ".cadplugin"

// FixedZipTime is the modification time stamped on every entry (1980-01-01 UTC)
var FixedZipTime = time.Unix(315532800, 0).UTC()

// Read limits guarding against zip bombs
const (
	MaxEntrySize  = 256 << 20
	MaxTotalSize  = 1 << 30
	MaxEntryCount = 10000
)

// Entry is one named file in a package
type Entry struct {
	Name string
	Data []byte
}

// Archive is an in-memory package. Entries keep insertion order, which is
// also their serialization order.
type Archive struct {
	entries []Entry
	index   map[string]int
	damaged []string
}

// New returns an empty archive
func New() *Archive {
	return &Archive{index: map[string]int{}}
}

// Add appends an entry. Names are normalized with SanitizePath and must be unique.
func (a *Archive) Add(name string, data []byte) error {
	name = SanitizePath(name)
	if name == "" {
		return ErrInvalidEntryName
	}
	if _, exists := a.index[name]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateEntry, name)
	}
	a.index[name] = len(a.entries)
	a.entries = append(a.entries, Entry{Name: name, Data: data})
	return nil
}

// Put replaces the data of an existing entry in place, or appends it
func (a *Archive) Put(name string, data []byte) {
	name = SanitizePath(name)
	if i, exists := a.index[name]; exists {
		a.entries[i].Data = data
		return
	}
	a.index[name] = len(a.entries)
	a.entries = append(a.entries, Entry{Name: name, Data: data})
}

// Remove deletes an entry, keeping the order of the others
func (a *Archive) Remove(name string) bool {
	name = SanitizePath(name)
	i, exists := a.index[name]
	if !exists {
		return false
	}
	a.entries = append(a.entries[:i], a.entries[i+1:]...)
	delete(a.index, name)
	for j := i; j < len(a.entries); j++ {
		a.index[a.entries[j].Name] = j
	}
	return true
}

// Get returns the data of an entry
func (a *Archive) Get(name string) ([]byte, bool) {
	i, exists := a.index[SanitizePath(name)]
	if !exists {
		return nil, false
	}
	return a.entries[i].Data, true
}

// Has reports whether an entry exists
func (a *Archive) Has(name string) bool {
	_, exists := a.index[SanitizePath(name)]
	return exists
}

// Names returns entry names in archive order
func (a *Archive) Names() []string {
	names := make([]string, len(a.entries))
	for i, e := range a.entries {
		names[i] = e.Name
	}
	return names
}

// Len returns the number of entries
func (a *Archive) Len() int { return len(a.entries) }

// Damaged lists entries whose stored CRC did not match their content when
// the archive was read. Their data is whatever could be recovered.
func (a *Archive) Damaged() []string {
	return append([]string(nil), a.damaged...)
}

// Without returns a copy of the archive lacking the named entries. Entry
// data is shared with the receiver.
func (a *Archive) Without(names ...string) *Archive {
	skip := map[string]bool{}
	for _, n := range names {
		skip[SanitizePath(n)] = true
	}
	out := New()
	for _, e := range a.entries {
		if skip[e.Name] {
			continue
		}
		out.index[e.Name] = len(out.entries)
		out.entries = append(out.entries, e)
	}
	return out
}

// WriteTo serializes the archive as a zip. The same entries in the same order
// always produce the same bytes: every entry is deflated with a fixed
// modification time and mode 0644.
func (a *Archive) WriteTo(w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	zw := zip.NewWriter(cw)
	for _, e := range a.entries {
		h := &zip.FileHeader{Name: e.Name, Method: zip.Deflate}
		h.SetMode(0o644)
		h.Modified = FixedZipTime
		fw, err := zw.CreateHeader(h)
		if err != nil {
			return cw.n, fmt.Errorf("create %s: %w", e.Name, err)
		}
		if _, err := fw.Write(e.Data); err != nil {
			return cw.n, fmt.Errorf("write %s: %w", e.Name, err)
		}
	}
	if err := zw.Close(); err != nil {
		return cw.n, fmt.Errorf("finalize archive: %w", err)
	}
	return cw.n, nil
}

// Bytes serializes the archive into memory
func (a *Archive) Bytes() ([]byte, error) {
	var buf bytes.Buffer
	if _, err := a.WriteTo(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Checksum returns the SHA-256 hex digest of the archive serialized without
// its metadata entry. This is the value recorded in metadata.json.
//
// Entries are re-deflated by compress/flate before hashing, so the digest is
// only stable while the deflate output of the Go release doing the verifying
// matches the one that packaged the archive.
func Checksum(a *Archive) (string, error) {
	h := sha256.New()
	if _, err := a.Without(MetadataEntry).WriteTo(h); err != nil {
		return "", fmt.Errorf("hash archive: %w", err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}

// WriteFile writes the archive to path atomically: the bytes go to a
// temporary file in the same directory which is then renamed over path.
func (a *Archive) WriteFile(path string) (int64, error) {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return 0, fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	n, err := a.WriteTo(tmp)
	if err != nil {
		tmp.Close()
		return 0, err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return 0, fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return 0, fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Chmod(tmpName, 0o644); err != nil {
		return 0, fmt.Errorf("chmod temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return 0, fmt.Errorf("rename into place: %w", err)
	}
	return n, nil
}

// Open reads a package from disk
func Open(path string) (*Archive, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return nil, err
	}
	return Read(f, info.Size())
}

// Read parses a zip into an Archive, keeping central directory order.
// Directory entries are skipped. Entries failing their CRC are kept with the
// recovered bytes and reported by Damaged.
func Read(r io.ReaderAt, size int64) (*Archive, error) {
	zr, err := zip.NewReader(r, size)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrNotArchive, err)
	}
	if len(zr.File) > MaxEntryCount {
		return nil, fmt.Errorf("%w: %d entries exceeds limit of %d", ErrTooLarge, len(zr.File), MaxEntryCount)
	}

	a := New()
	var total int64
	for _, f := range zr.File {
		if strings.HasSuffix(f.Name, "/") {
			continue
		}
		data, damaged, err := readEntry(f)
		if err != nil {
			return nil, err
		}
		total += int64(len(data))
		if total > MaxTotalSize {
			return nil, fmt.Errorf("%w: uncompressed content exceeds %d bytes", ErrTooLarge, MaxTotalSize)
		}
		if err := a.Add(f.Name, data); err != nil {
			return nil, err
		}
		if damaged {
			a.damaged = append(a.damaged, SanitizePath(f.Name))
		}
	}
	return a, nil
}

func readEntry(f *zip.File) ([]byte, bool, error) {
	if f.UncompressedSize64 > MaxEntrySize {
		return nil, false, fmt.Errorf("%w: %s is %d bytes", ErrTooLarge, f.Name, f.UncompressedSize64)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", f.Name, err)
	}
	defer rc.Close()

	data, err := io.ReadAll(io.LimitReader(rc, MaxEntrySize+1))
	if len(data) > MaxEntrySize {
		return nil, false, fmt.Errorf("%w: %s exceeds %d bytes", ErrTooLarge, f.Name, MaxEntrySize)
	}
	if err != nil {
		if errors.Is(err, zip.ErrChecksum) || errors.Is(err, io.ErrUnexpectedEOF) || isFlateError(err) {
			return data, true, nil
		}
		return nil, false, fmt.Errorf("read %s: %w", f.Name, err)
	}
	return data, false, nil
}

// SanitizePath normalizes entry names: forward slashes, no drive letter, no
// leading '/', and '.' or '..' segments resolved without escaping the root.
func SanitizePath(p string) string {
	s := strings.ReplaceAll(p, `\`, "/")
	if len(s) > 1 && s[1] == ':' {
		s = s[2:]
	}
	s = strings.TrimLeft(s, "/")
	parts := strings.Split(s, "/")
	stack := make([]string, 0, len(parts))
	for _, part := range parts {
		if part == "" || part == "." {
			continue
		}
		if part == ".." {
			if n := len(stack); n > 0 {
				stack = stack[:n-1]
			}
			continue
		}
		stack = append(stack, part)
	}
	return strings.Join(stack, "/")
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (c *countingWriter) Write(p []byte) (int, error) {
	n, err := c.w.Write(p)
	c.n += int64(n)
	return n, err
}
