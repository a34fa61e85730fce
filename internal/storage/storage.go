// Package storage provides filesystem access for resolved dataset
// locations: existence probes during path resolution and the copy
// primitives behind output backups.
package storage

import (
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mwittgen/obs-base/internal/errors"
)

// Interface abstracts the repository tree operations the resolver needs.
// Paths are always relative to the storage root.
type Interface interface {
	// Root returns the absolute repository root.
	Root() string
	// InstanceSearch probes for an existing file at path. A trailing FITS
	// HDU designator like file.fits[1] is stripped before the probe and
	// re-attached on the result. Returns nil when nothing exists.
	InstanceSearch(path string) []string
	// CopyFile copies src to dst inside the repository, creating parent
	// directories as needed.
	CopyFile(src, dst string) error
}

// Posix implements Interface on a local directory tree.
type Posix struct {
	root string
}

// NewPosix returns a Posix storage rooted at the given directory.
func NewPosix(root string) *Posix {
	return &Posix{root: root}
}

// Root returns the repository root.
func (p *Posix) Root() string {
	return p.root
}

// InstanceSearch probes for an existing file at the relative path.
func (p *Posix) InstanceSearch(path string) []string {
	probe, hdu := splitHDU(path)
	if _, err := os.Stat(filepath.Join(p.root, probe)); err != nil {
		return nil
	}
	return []string{probe + hdu}
}

// CopyFile copies one repository file to another repository path.
func (p *Posix) CopyFile(src, dst string) error {
	srcPath := filepath.Join(p.root, src)
	dstPath := filepath.Join(p.root, dst)

	in, err := os.Open(srcPath)
	if err != nil {
		return errors.New(err).
			Component("storage").
			Category(errors.CategoryStorage).
			Context("operation", "copy-file").
			Context("src", src).
			Build()
	}
	defer func() {
		_ = in.Close()
	}()

	if err := os.MkdirAll(filepath.Dir(dstPath), 0o755); err != nil {
		return errors.New(err).
			Component("storage").
			Category(errors.CategoryStorage).
			Context("operation", "copy-file").
			Context("dst", dst).
			Build()
	}

	out, err := os.Create(dstPath)
	if err != nil {
		return errors.New(err).
			Component("storage").
			Category(errors.CategoryStorage).
			Context("operation", "copy-file").
			Context("dst", dst).
			Build()
	}

	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return errors.New(err).
			Component("storage").
			Category(errors.CategoryStorage).
			Context("operation", "copy-file").
			Context("src", src).
			Context("dst", dst).
			Build()
	}
	return out.Close()
}

// splitHDU separates a trailing FITS HDU designator from a path. The
// designator addresses an extension inside the file and is not part of the
// filesystem name.
func splitHDU(path string) (file, hdu string) {
	if strings.HasSuffix(path, "]") {
		if idx := strings.LastIndex(path, "["); idx > 0 {
			return path[:idx], path[idx:]
		}
	}
	return path, ""
}
