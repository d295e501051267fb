// Package ovpack implements export_ovpack/import_ovpack: packaging a URI
// subtree into a portable archive and restoring it (spec.md §6 Core API,
// §8 "Round-trip / idempotence" property 1).
//
// The wire format is a plain tar archive; no dedicated archive/packaging
// library is exercised anywhere else in the retrieval pack (see DESIGN.md),
// so this is the one component in the tree built directly on the standard
// library's archive/tar rather than a third-party dependency.
package ovpack

import (
	"archive/tar"
	"context"
	"errors"
	"io"
	"os"
	"sort"

	"github.com/axiomorient/axiomme/internal/axerr"
	"github.com/axiomorient/axiomme/internal/scopedfs"
	"github.com/axiomorient/axiomme/internal/uri"
)

// ExportResult is export_ovpack's output.
type ExportResult struct {
	ArchivePath string
	RecordCount int
}

// ExportOVPack walks the subtree rooted at root and writes every leaf's
// bytes into a tar archive at destPath. A root that is itself a symlink is
// rejected (spec.md §6 "SecurityViolation on symlink source"); symlinks
// deeper in the subtree are skipped by the listing and not exported.
func ExportOVPack(ctx context.Context, fs *scopedfs.Scoped, root uri.AxiomUri, destPath string) (ExportResult, error) {
	rootPath, err := fs.Resolve(root)
	if err != nil {
		return ExportResult{}, err
	}

	if lst, statErr := os.Lstat(rootPath); statErr == nil && lst.Mode()&os.ModeSymlink != 0 {
		return ExportResult{}, axerr.New(axerr.CodeSecurityViolation, "export_ovpack", errors.New("source is a symlink"), axerr.WithURI(root.String()))
	}

	entries, err := fs.List(ctx, root, true, false)
	if err != nil {
		return ExportResult{}, err
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].URI.String() < entries[j].URI.String() })

	out, err := os.Create(destPath)
	if err != nil {
		return ExportResult{}, axerr.New(axerr.CodeInternalError, "export_ovpack", err)
	}
	defer out.Close()

	tw := tar.NewWriter(out)
	defer tw.Close()

	count := 0

	for _, e := range entries {
		if e.IsDir {
			continue
		}

		data, err := fs.Read(ctx, e.URI)
		if err != nil {
			return ExportResult{}, err
		}

		hdr := &tar.Header{
			Name: e.URI.String(),
			Mode: 0o644,
			Size: int64(len(data)),
		}

		if err := tw.WriteHeader(hdr); err != nil {
			return ExportResult{}, axerr.New(axerr.CodeInternalError, "export_ovpack", err)
		}

		if _, err := tw.Write(data); err != nil {
			return ExportResult{}, axerr.New(axerr.CodeInternalError, "export_ovpack", err)
		}

		count++
	}

	if err := tw.Close(); err != nil {
		return ExportResult{}, axerr.New(axerr.CodeInternalError, "export_ovpack", err)
	}

	return ExportResult{ArchivePath: destPath, RecordCount: count}, nil
}

// ImportResult is import_ovpack's output.
type ImportResult struct {
	RecordCount int
}

// ImportOVPack restores every entry from the archive at srcPath via
// fs.AtomicWrite. When force is false, an entry that already exists on disk
// is left untouched; when force is true, existing entries are overwritten,
// making repeated imports of the same archive idempotent (spec.md §8
// "re-importing is idempotent under force=true").
func ImportOVPack(ctx context.Context, fs *scopedfs.Scoped, srcPath string, force bool) (ImportResult, error) {
	in, err := os.Open(srcPath)
	if err != nil {
		return ImportResult{}, axerr.New(axerr.CodeInternalError, "import_ovpack", err)
	}
	defer in.Close()

	tr := tar.NewReader(in)

	count := 0

	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}

		if err != nil {
			return ImportResult{}, axerr.New(axerr.CodeInternalError, "import_ovpack", err)
		}

		if hdr.Typeflag != tar.TypeReg {
			continue
		}

		u, err := uri.Parse(hdr.Name)
		if err != nil {
			return ImportResult{}, axerr.New(axerr.CodeInvalidURI, "import_ovpack", err)
		}

		if !force {
			if _, readErr := fs.Read(ctx, u); readErr == nil {
				continue
			}
		}

		data, err := io.ReadAll(tr)
		if err != nil {
			return ImportResult{}, axerr.New(axerr.CodeInternalError, "import_ovpack", err)
		}

		if err := fs.AtomicWrite(ctx, u, data, scopedfs.OriginSystem); err != nil {
			return ImportResult{}, err
		}

		count++
	}

	return ImportResult{RecordCount: count}, nil
}
