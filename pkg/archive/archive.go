// Package archive unpacks uploaded gerber zip archives into a scratch
// directory.
//
// Extraction is all-or-nothing: the whole archive is written below
// <scratch>/archive, and any failure part way through removes what was written
// and reports no count. Size and entry limits are checked against the zip
// directory before a single byte is written and enforced again while copying,
// since declared sizes can lie.
package archive

import (
	"context"
	stderrors "errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zip"

	"github.com/matzehuels/gerbershot/pkg/errors"
)

// DirName is the subdirectory of the scratch directory that receives the
// extracted tree.
const DirName = "archive"

// Default extraction limits. A gerber export for a single board is a few
// megabytes at most.
const (
	DefaultMaxArchiveBytes      = 64 << 20
	DefaultMaxFiles             = 256
	DefaultMaxUncompressedBytes = 512 << 20
)

// ErrLimitExceeded is wrapped by extraction errors caused by Limits.
var ErrLimitExceeded = stderrors.New("archive exceeds extraction limits")

// Limits caps how much an archive may expand to. Zero fields use the defaults.
type Limits struct {
	MaxArchiveBytes      int64 `toml:"max_archive_bytes" json:"max_archive_bytes"`
	MaxFiles             int   `toml:"max_files" json:"max_files"`
	MaxUncompressedBytes int64 `toml:"max_uncompressed_bytes" json:"max_uncompressed_bytes"`
}

// WithDefaults returns l with zero fields replaced by the package defaults.
func (l Limits) WithDefaults() Limits {
	if l.MaxArchiveBytes <= 0 {
		l.MaxArchiveBytes = DefaultMaxArchiveBytes
	}
	if l.MaxFiles <= 0 {
		l.MaxFiles = DefaultMaxFiles
	}
	if l.MaxUncompressedBytes <= 0 {
		l.MaxUncompressedBytes = DefaultMaxUncompressedBytes
	}
	return l
}

// Result describes a completed extraction.
type Result struct {
	Dir       string // Root of the extracted tree
	FileCount int    // Regular files written
}

// Extract unpacks archivePath into scratchDir/archive. The scratch directory
// must already exist.
//
// It fails with EXTRACTION when the archive cannot be read, breaks a limit,
// holds an unsafe entry or cannot be written, and with EMPTY_ARCHIVE when it
// contains no regular files.
func Extract(ctx context.Context, archivePath, scratchDir string, limits Limits) (Result, error) {
	limits = limits.WithDefaults()

	info, err := os.Stat(archivePath)
	if err != nil {
		return Result{}, errors.Wrap(errors.ErrCodeExtraction, err, "read archive")
	}
	if info.Size() > limits.MaxArchiveBytes {
		return Result{}, errors.Wrap(errors.ErrCodeExtraction, ErrLimitExceeded,
			"archive is %d bytes, limit is %d", info.Size(), limits.MaxArchiveBytes)
	}

	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return Result{}, errors.Wrap(errors.ErrCodeExtraction, err, "open archive %s", filepath.Base(archivePath))
	}
	defer r.Close()

	if err := checkDeclared(r.File, limits); err != nil {
		return Result{}, err
	}

	dest := filepath.Join(scratchDir, DirName)
	if err := os.Mkdir(dest, 0755); err != nil {
		return Result{}, errors.Wrap(errors.ErrCodeExtraction, err, "create extraction directory")
	}

	count, err := extractAll(ctx, r.File, dest, limits)
	if err != nil {
		// A partial tree is never handed to later stages.
		_ = os.RemoveAll(dest)
		return Result{}, err
	}
	if count == 0 {
		return Result{}, errors.New(errors.ErrCodeEmptyArchive, "no files were extracted from %s", filepath.Base(archivePath))
	}
	return Result{Dir: dest, FileCount: count}, nil
}

// checkDeclared validates the zip directory against limits and path rules.
func checkDeclared(files []*zip.File, limits Limits) error {
	var total uint64
	regular := 0
	for _, f := range files {
		if err := errors.ValidatePath(f.Name); err != nil {
			return errors.Wrap(errors.ErrCodeExtraction, err, "unsafe entry %q", f.Name)
		}
		mode := f.Mode()
		if mode.IsDir() {
			continue
		}
		if !mode.IsRegular() {
			return errors.New(errors.ErrCodeExtraction, "entry %q is not a regular file", f.Name)
		}
		regular++
		total += f.UncompressedSize64
	}
	if regular > limits.MaxFiles {
		return errors.Wrap(errors.ErrCodeExtraction, ErrLimitExceeded,
			"archive holds %d files, limit is %d", regular, limits.MaxFiles)
	}
	if total > uint64(limits.MaxUncompressedBytes) {
		return errors.Wrap(errors.ErrCodeExtraction, ErrLimitExceeded,
			"archive expands to %d bytes, limit is %d", total, limits.MaxUncompressedBytes)
	}
	return nil
}

func extractAll(ctx context.Context, files []*zip.File, dest string, limits Limits) (int, error) {
	remaining := limits.MaxUncompressedBytes
	count := 0
	for _, f := range files {
		if err := ctx.Err(); err != nil {
			return 0, errors.Wrap(errors.ErrCodeExtraction, err, "extraction cancelled")
		}

		target := filepath.Join(dest, filepath.FromSlash(f.Name))
		if f.Mode().IsDir() {
			if err := os.MkdirAll(target, 0755); err != nil {
				return 0, errors.Wrap(errors.ErrCodeExtraction, err, "create %s", f.Name)
			}
			continue
		}

		n, err := extractFile(f, target, remaining)
		if err != nil {
			return 0, err
		}
		remaining -= n
		count++
	}
	return count, nil
}

func extractFile(f *zip.File, target string, remaining int64) (int64, error) {
	if err := os.MkdirAll(filepath.Dir(target), 0755); err != nil {
		return 0, errors.Wrap(errors.ErrCodeExtraction, err, "create parent of %s", f.Name)
	}

	rc, err := f.Open()
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeExtraction, err, "open entry %s", f.Name)
	}
	defer rc.Close()

	out, err := os.OpenFile(target, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeExtraction, err, "create %s", f.Name)
	}

	n, err := io.Copy(out, io.LimitReader(rc, remaining+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeExtraction, err, "write %s", f.Name)
	}
	if n > remaining {
		return 0, errors.Wrap(errors.ErrCodeExtraction, ErrLimitExceeded, "entry %s expands past the size limit", f.Name)
	}
	return n, nil
}

// Count returns the number of regular file entries in archivePath without
// extracting anything.
func Count(archivePath string) (int, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return 0, errors.Wrap(errors.ErrCodeExtraction, err, "open archive %s", filepath.Base(archivePath))
	}
	defer r.Close()

	n := 0
	for _, f := range r.File {
		if f.Mode().IsRegular() {
			n++
		}
	}
	return n, nil
}

// Entries lists the slash-separated names of the regular files in archivePath.
func Entries(archivePath string) ([]string, error) {
	r, err := zip.OpenReader(archivePath)
	if err != nil {
		return nil, errors.Wrap(errors.ErrCodeExtraction, err, "open archive %s", filepath.Base(archivePath))
	}
	defer r.Close()

	var names []string
	for _, f := range r.File {
		if f.Mode().IsRegular() {
			names = append(names, f.Name)
		}
	}
	return names, nil
}

// String implements fmt.Stringer for log output.
func (r Result) String() string {
	return fmt.Sprintf("%d files in %s", r.FileCount, r.Dir)
}
