package build

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/sync/errgroup"
)

// maxCopyWorkers bounds parallel subtree copies per directory level
const maxCopyWorkers = 8

// copyTree copies the contents of src into dst. Files at each level are
// copied in order; each subdirectory is copied by its own goroutine since
// subtrees never overlap.
func copyTree(ctx context.Context, src, dst string) error {
	entries, err := os.ReadDir(src)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", src, err)
	}
	if err := os.MkdirAll(dst, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxCopyWorkers)

	for _, entry := range entries {
		if gctx.Err() != nil {
			break
		}
		from := filepath.Join(src, entry.Name())
		to := filepath.Join(dst, entry.Name())

		switch {
		case entry.IsDir():
			g.Go(func() error {
				return copyTree(gctx, from, to)
			})
		case entry.Type().IsRegular():
			if err := copyFile(from, to); err != nil {
				g.Wait()
				return err
			}
		}
		// symlinks and other special files are not part of a plugin's output
	}
	if err := g.Wait(); err != nil {
		return err
	}
	return ctx.Err()
}

// copyFile copies a single regular file, replacing dst
func copyFile(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", src, err)
	}
	defer in.Close()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", filepath.Dir(dst), err)
	}
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0644)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return fmt.Errorf("failed to copy %s: %w", src, err)
	}
	return out.Close()
}
