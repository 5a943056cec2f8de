package plugins

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/platinummonkey/cadplug/pkg/archive"
)

const tracerName = "github.com/platinummonkey/cadplug/pkg/plugins"

// Stage is a step of archive verification. Stages run in declaration order.
type Stage string

const (
	StageOpen                   Stage = "OPEN"
	StageRequiredEntriesPresent Stage = "REQUIRED_ENTRIES_PRESENT"
	StageManifestParsed         Stage = "MANIFEST_PARSED"
	StageManifestSchemaValid    Stage = "MANIFEST_SCHEMA_VALID"
	StageReferencedFilesPresent Stage = "REFERENCED_FILES_PRESENT"
	StageMetadataParsed         Stage = "METADATA_PARSED"
	StageChecksumVerified       Stage = "CHECKSUM_VERIFIED"
	StageCrossConsistent        Stage = "CROSS_CONSISTENT"
	StageDone                   Stage = "DONE"
)

// Verification modes
const (
	ModeDirectory = "directory"
	ModeArchive   = "archive"
)

// Advisory files checked in directory mode
const (
	ProjectDescriptorFile = "package.json"
	ReadmeFile            = "README.md"
	BuildOutputDir        = "dist"
)

// PackageValidationResult is the outcome of verifying a project directory or
// a package archive. Errors is a flat list; advisory findings such as a
// missing README are listed alongside fatal ones.
type PackageValidationResult struct {
	Valid    bool      `json:"valid"`
	Errors   []string  `json:"errors"`
	Manifest *Manifest `json:"manifest,omitempty"`

	Mode     string                   `json:"mode"`
	Path     string                   `json:"path"`
	Stage    Stage                    `json:"stage,omitempty"` // last archive stage passed
	Metadata *archive.PackageMetadata `json:"metadata,omitempty"`
	Checksum string                   `json:"checksum,omitempty"` // recomputed content digest
	Duration time.Duration            `json:"duration"`

	// Problems holds the typed error behind each failure, for errors.As
	Problems []error `json:"-"`
}

func (r *PackageValidationResult) fail(err error) {
	r.Errors = append(r.Errors, err.Error())
	r.Problems = append(r.Problems, err)
}

func (r *PackageValidationResult) advise(msg string) {
	r.Errors = append(r.Errors, msg)
}

func (r *PackageValidationResult) finish(start time.Time) *PackageValidationResult {
	r.Valid = len(r.Errors) == 0
	if r.Errors == nil {
		r.Errors = []string{}
	}
	r.Duration = time.Since(start)
	return r
}

// Err returns the first typed problem, or nil for a valid result
func (r *PackageValidationResult) Err() error {
	if r.Valid {
		return nil
	}
	if len(r.Problems) > 0 {
		return r.Problems[0]
	}
	return fmt.Errorf("%s", strings.Join(r.Errors, "; "))
}

// Verifier checks plugin projects before packaging and plugin packages
// before installation.
type Verifier struct {
	logger *logrus.Logger
}

// NewVerifier creates a new package verifier
func NewVerifier(logger *logrus.Logger) *Verifier {
	if logger == nil {
		logger = logrus.New()
	}
	return &Verifier{logger: logger}
}

// Validate verifies target in directory mode when it is a directory and in
// archive mode otherwise.
func (v *Verifier) Validate(ctx context.Context, target string) (*PackageValidationResult, error) {
	info, err := os.Stat(target)
	if err != nil {
		return nil, fmt.Errorf("cannot access %s: %w", target, err)
	}
	if info.IsDir() {
		return v.ValidateDirectory(ctx, target), nil
	}
	return v.ValidateArchive(ctx, target), nil
}

// ValidateDirectory checks a plugin source tree. Every problem is collected;
// only a missing or unparseable manifest stops the checks early.
func (v *Verifier) ValidateDirectory(ctx context.Context, dir string) *PackageValidationResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "plugins.ValidateDirectory")
	defer span.End()
	span.SetAttributes(attribute.String("cadplug.path", dir))

	start := time.Now()
	result := &PackageValidationResult{Mode: ModeDirectory, Path: dir}
	defer func() { recordSpanOutcome(span, result) }()

	manifestPath := filepath.Join(dir, ManifestFileName)
	manifest, data, err := LoadManifest(manifestPath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			result.fail(&MissingRequiredFileError{Path: ManifestFileName})
		} else {
			result.fail(err)
		}
		return result.finish(start)
	}
	result.Manifest = manifest

	if schema := ValidateManifest(data); !schema.Valid {
		for _, msg := range schema.Errors {
			result.advise(msg)
		}
		result.Problems = append(result.Problems, &SchemaValidationError{Errors: schema.Errors})
	}

	if ctx.Err() != nil {
		result.fail(ctx.Err())
		return result.finish(start)
	}

	for _, field := range sortedEntryFields(manifest) {
		file := manifest.EntryPoints()[field]
		if !projectFileExists(dir, file) {
			result.fail(&MissingRequiredFileError{Field: field, Path: file})
		}
	}

	if !fileExists(filepath.Join(dir, ProjectDescriptorFile)) {
		result.advise(ProjectDescriptorFile + ": project descriptor not found")
	}
	if !fileExists(filepath.Join(dir, ReadmeFile)) {
		result.advise(ReadmeFile + ": README not found")
	}
	if info, err := os.Stat(filepath.Join(dir, BuildOutputDir)); err != nil || !info.IsDir() {
		result.advise(BuildOutputDir + ": build output not found, run build first")
	}

	v.logger.WithFields(logrus.Fields{
		"path":   dir,
		"errors": len(result.Errors),
	}).Debug("Validated plugin directory")

	return result.finish(start)
}

// ValidateArchive verifies a package through the stages OPEN to DONE.
// Opening the archive, finding its required entries and parsing the manifest
// and metadata are hard gates; the remaining stages collect every failure.
func (v *Verifier) ValidateArchive(ctx context.Context, archivePath string) *PackageValidationResult {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "plugins.ValidateArchive")
	defer span.End()
	span.SetAttributes(attribute.String("cadplug.path", archivePath))

	start := time.Now()
	result := &PackageValidationResult{Mode: ModeArchive, Path: archivePath}
	defer func() { recordSpanOutcome(span, result) }()

	pkg, err := archive.Open(archivePath)
	if err != nil {
		result.fail(&ArchiveIntegrityError{Path: archivePath, Reason: "cannot open archive", Err: err})
		return result.finish(start)
	}
	result.Stage = StageOpen

	return v.verifyArchive(ctx, pkg, result, start)
}

// VerifyArchive runs the archive stages against an archive already in memory
func (v *Verifier) VerifyArchive(ctx context.Context, pkg *archive.Archive, label string) *PackageValidationResult {
	result := &PackageValidationResult{Mode: ModeArchive, Path: label, Stage: StageOpen}
	return v.verifyArchive(ctx, pkg, result, time.Now())
}

func (v *Verifier) verifyArchive(ctx context.Context, pkg *archive.Archive, result *PackageValidationResult, start time.Time) *PackageValidationResult {
	missing := false
	for _, required := range []string{archive.ManifestEntry, archive.MetadataEntry} {
		if !pkg.Has(required) {
			result.fail(&ArchiveIntegrityError{Path: required, Reason: "required entry missing from archive"})
			missing = true
		}
	}
	if missing {
		return result.finish(start)
	}
	result.Stage = StageRequiredEntriesPresent

	manifestData, _ := pkg.Get(archive.ManifestEntry)
	manifest, err := ParseManifest(manifestData)
	if err != nil {
		var parseErr *ManifestParseError
		if errors.As(err, &parseErr) {
			parseErr.Source = archive.ManifestEntry
		}
		result.fail(err)
		return result.finish(start)
	}
	result.Manifest = manifest
	result.Stage = StageManifestParsed

	if schema := ValidateManifest(manifestData); schema.Valid {
		result.Stage = StageManifestSchemaValid
	} else {
		for _, msg := range schema.Errors {
			result.advise(msg)
		}
		result.Problems = append(result.Problems, &SchemaValidationError{Errors: schema.Errors})
	}

	referencesOK := true
	for _, field := range sortedEntryFields(manifest) {
		file := manifest.EntryPoints()[field]
		if !pkg.Has(file) {
			result.fail(&MissingRequiredFileError{Field: field, Path: file})
			referencesOK = false
		}
	}
	if referencesOK && result.Stage == StageManifestSchemaValid {
		result.Stage = StageReferencedFilesPresent
	}

	if ctx.Err() != nil {
		result.fail(ctx.Err())
		return result.finish(start)
	}

	metadataData, _ := pkg.Get(archive.MetadataEntry)
	meta, problems, err := archive.ParseMetadata(metadataData)
	if err != nil {
		result.fail(&ArchiveIntegrityError{Path: archive.MetadataEntry, Reason: "cannot parse metadata", Err: err})
		return result.finish(start)
	}
	result.Metadata = meta
	for _, p := range problems {
		result.fail(&ArchiveIntegrityError{Path: archive.MetadataEntry, Reason: p})
	}
	stagesOK := result.Stage == StageReferencedFilesPresent && len(problems) == 0
	if stagesOK {
		result.Stage = StageMetadataParsed
	}

	checksum, err := archive.Checksum(pkg)
	if err != nil {
		result.fail(&ArchiveIntegrityError{Path: archive.MetadataEntry, Reason: "cannot recompute checksum", Err: err})
		return result.finish(start)
	}
	result.Checksum = checksum
	damaged := pkg.Damaged()
	switch {
	case meta.Checksum != "" && meta.Checksum != checksum, len(damaged) > 0:
		result.fail(&ChecksumMismatchError{Expected: meta.Checksum, Actual: checksum, Damaged: damaged})
		stagesOK = false
	case meta.Checksum != "" && stagesOK:
		result.Stage = StageChecksumVerified
	}

	consistent := true
	for _, pair := range [][3]string{
		{"id", meta.ID, manifest.ID},
		{"version", meta.Version, manifest.Version},
		{"name", meta.Name, manifest.Name},
	} {
		if pair[1] != pair[2] {
			result.fail(&MetadataConsistencyError{Field: pair[0], MetadataValue: pair[1], ManifestValue: pair[2]})
			consistent = false
		}
	}
	if consistent && stagesOK && result.Stage == StageChecksumVerified {
		result.Stage = StageCrossConsistent
	}

	result.finish(start)
	if result.Valid {
		result.Stage = StageDone
	}

	v.logger.WithFields(logrus.Fields{
		"path":      result.Path,
		"plugin_id": manifest.ID,
		"version":   manifest.Version,
		"stage":     result.Stage,
		"errors":    len(result.Errors),
	}).Debug("Verified plugin archive")

	return result
}

func recordSpanOutcome(span trace.Span, result *PackageValidationResult) {
	span.SetAttributes(
		attribute.Bool("cadplug.valid", result.Valid),
		attribute.Int("cadplug.errors", len(result.Errors)),
		attribute.String("cadplug.stage", string(result.Stage)),
	)
	if !result.Valid {
		span.SetStatus(codes.Error, "verification failed")
	}
}

func sortedEntryFields(m *Manifest) []string {
	entries := m.EntryPoints()
	fields := make([]string, 0, len(entries))
	for field := range entries {
		fields = append(fields, field)
	}
	sort.Slice(fields, func(i, j int) bool {
		// main first, then declaration paths alphabetically
		if fields[i] == "main" || fields[j] == "main" {
			return fields[i] == "main"
		}
		return fields[i] < fields[j]
	})
	return fields
}

// projectFileExists resolves a manifest path against the project root, then
// against the build output that is flattened into the package root.
func projectFileExists(dir, file string) bool {
	rel := filepath.FromSlash(path.Clean(strings.ReplaceAll(file, `\`, "/")))
	if strings.HasPrefix(rel, "..") || filepath.IsAbs(rel) {
		return false
	}
	return fileExists(filepath.Join(dir, rel)) || fileExists(filepath.Join(dir, BuildOutputDir, rel))
}

func fileExists(p string) bool {
	info, err := os.Stat(p)
	return err == nil && !info.IsDir()
}
