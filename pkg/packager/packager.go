// Package packager turns a built plugin project into a distributable
// .cadplugin archive.
//
// The archive holds plugin.json, the flattened build output, optional
// README.md, LICENSE and CHANGELOG.md files, the assets/ tree and finally
// metadata.json. The metadata checksum is the SHA-256 of the archive
// serialized without metadata.json, so a verifier can drop that entry,
// re-serialize and compare.
package packager

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/platinummonkey/cadplug/pkg/archive"
	"github.com/platinummonkey/cadplug/pkg/plugins"
)

const tracerName = "github.com/platinummonkey/cadplug/pkg/packager"

const (
	buildOutputDir = "dist"
	assetsDir      = "assets"
)

// optionalFiles are copied from the project root when present, in this order
var optionalFiles = []string{"README.md", "LICENSE", "CHANGELOG.md"}

// Result describes a written package
type Result struct {
	Path     string                   `json:"path"`
	Checksum string                   `json:"checksum"`
	Size     int64                    `json:"size"`
	Metadata *archive.PackageMetadata `json:"metadata"`
}

// Packager assembles plugin packages
type Packager struct {
	logger *logrus.Logger
	now    func() time.Time
}

// New creates a new packager
func New(logger *logrus.Logger) *Packager {
	if logger == nil {
		logger = logrus.New()
	}
	return &Packager{logger: logger, now: time.Now}
}

// DefaultOutputName returns the package file name for a plugin version,
// e.g. com-example-toolpath-1.2.3.cadplugin
func DefaultOutputName(id, version string) string {
	return strings.ReplaceAll(id, ".", "-") + "-" + version + archive.Extension
}

// Package builds the package for projectDir and writes it to outputFile,
// or to the default name inside projectDir when outputFile is empty.
func (p *Packager) Package(ctx context.Context, projectDir, outputFile string) (*Result, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "packager.Package")
	defer span.End()

	result, err := p.pack(ctx, projectDir, outputFile)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.String("cadplug.plugin.id", result.Metadata.ID),
		attribute.String("cadplug.plugin.version", result.Metadata.Version),
		attribute.Int("cadplug.package.files", len(result.Metadata.Files)),
	)
	return result, nil
}

func (p *Packager) pack(ctx context.Context, projectDir, outputFile string) (*Result, error) {
	manifest, raw, err := p.checkPreconditions(projectDir)
	if err != nil {
		return nil, err
	}

	if outputFile == "" {
		outputFile = filepath.Join(projectDir, DefaultOutputName(manifest.ID, manifest.Version))
	}
	log := p.logger.WithFields(logrus.Fields{
		"plugin_id": manifest.ID,
		"version":   manifest.Version,
		"output":    outputFile,
	})

	pkg, err := assemble(ctx, projectDir, raw)
	if err != nil {
		return nil, err
	}

	checksum, err := archive.Checksum(pkg)
	if err != nil {
		return nil, packagingError("failed to compute checksum: %w", err)
	}

	meta := &archive.PackageMetadata{
		ID:          manifest.ID,
		Version:     manifest.Version,
		Name:        manifest.Name,
		Description: manifest.Description,
		Author:      manifest.Author,
		License:     manifest.License,
		CreatedAt:   p.now().UTC(),
		Checksum:    checksum,
		Files:       pkg.Names(),
	}
	metaJSON, err := meta.Marshal()
	if err != nil {
		return nil, packagingError("failed to encode metadata: %w", err)
	}
	if err := pkg.Add(archive.MetadataEntry, metaJSON); err != nil {
		return nil, packagingError("failed to add metadata: %w", err)
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	size, err := pkg.WriteFile(outputFile)
	if err != nil {
		return nil, packagingError("failed to write package: %w", err)
	}

	log.WithFields(logrus.Fields{
		"checksum": checksum,
		"files":    len(meta.Files),
		"size":     size,
	}).Info("Created plugin package")

	return &Result{Path: outputFile, Checksum: checksum, Size: size, Metadata: meta}, nil
}

// checkPreconditions loads and validates the manifest and requires build
// output. It never touches the output location.
func (p *Packager) checkPreconditions(projectDir string) (*plugins.Manifest, []byte, error) {
	manifestPath := filepath.Join(projectDir, plugins.ManifestFileName)
	manifest, raw, err := plugins.LoadManifest(manifestPath)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil, &PackagingPreconditionError{
				ProjectDir: projectDir,
				Reason:     fmt.Sprintf("%s not found", plugins.ManifestFileName),
				Err:        err,
			}
		}
		return nil, nil, &PackagingPreconditionError{ProjectDir: projectDir, Reason: "unreadable manifest", Err: err}
	}

	if result := plugins.ValidateManifest(raw); !result.Valid {
		return nil, nil, &PackagingPreconditionError{
			ProjectDir: projectDir,
			Reason:     "manifest is invalid",
			Err:        &plugins.SchemaValidationError{Errors: result.Errors},
		}
	}

	info, err := os.Stat(filepath.Join(projectDir, buildOutputDir))
	if err != nil || !info.IsDir() {
		return nil, nil, &PackagingPreconditionError{
			ProjectDir: projectDir,
			Reason:     fmt.Sprintf("build output %s/ not found, run build first", buildOutputDir),
		}
	}
	return manifest, raw, nil
}

// assemble collects every package entry except metadata.json in package order
func assemble(ctx context.Context, projectDir string, manifest []byte) (*archive.Archive, error) {
	pkg := archive.New()
	if err := pkg.Add(archive.ManifestEntry, manifest); err != nil {
		return nil, packagingError("failed to add manifest: %w", err)
	}

	// dist/ is flattened into the archive root. A plugin.json copied there
	// by the build is already present.
	if err := addTree(ctx, pkg, filepath.Join(projectDir, buildOutputDir), ""); err != nil {
		return nil, err
	}

	for _, name := range optionalFiles {
		path := filepath.Join(projectDir, name)
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() || pkg.Has(name) {
			continue
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, packagingError("failed to read %s: %w", name, err)
		}
		if err := pkg.Add(name, data); err != nil {
			return nil, packagingError("failed to add %s: %w", name, err)
		}
	}

	assets := filepath.Join(projectDir, assetsDir)
	if info, err := os.Stat(assets); err == nil && info.IsDir() {
		if err := addTree(ctx, pkg, assets, assetsDir); err != nil {
			return nil, err
		}
	}
	return pkg, nil
}

// addTree adds every regular file under root, in lexical walk order, named
// prefix/<relative path>. Names already in the archive are skipped.
func addTree(ctx context.Context, pkg *archive.Archive, root, prefix string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return packagingError("failed to walk %s: %w", path, err)
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if d.IsDir() || !d.Type().IsRegular() {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return packagingError("failed to resolve %s: %w", path, err)
		}
		name := filepath.ToSlash(rel)
		if prefix != "" {
			name = prefix + "/" + name
		}
		if pkg.Has(name) || name == archive.MetadataEntry {
			return nil
		}

		data, err := os.ReadFile(path)
		if err != nil {
			return packagingError("failed to read %s: %w", path, err)
		}
		if err := pkg.Add(name, data); err != nil {
			return packagingError("failed to add %s: %w", name, err)
		}
		return nil
	})
}
