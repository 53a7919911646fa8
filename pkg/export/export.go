// Package export turns a completed backup directory into a single compressed
// tar archive, for copying a snapshot off the backup destination.
package export

import (
	"archive/tar"
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/klauspost/compress/zstd"
	"github.com/klauspost/pgzip"

	"github.com/rincr/rincr/pkg/plog"
	"github.com/rincr/rincr/pkg/util"
)

const ioBufferSize = 1 << 20

// Exporter writes snapshot archives in a configured format.
type Exporter struct {
	format Format
	dryRun bool
}

func NewExporter(format Format, dryRun bool) *Exporter {
	return &Exporter{format: format, dryRun: dryRun}
}

// ArchiveFileName returns the archive name for a backup directory name,
// e.g. "backup-2024-01-02T03:04:05" and tar.gz give
// "backup-2024-01-02T03:04:05.tar.gz".
func ArchiveFileName(backupName string, format Format) string {
	return backupName + "." + format.String()
}

// Export archives the backup directory at srcDir into archivePath. The
// archive is written to a temp file in the target directory first and moved
// into place with an atomic rename, so a crashed export never leaves a
// half-written archive under the final name.
func (e *Exporter) Export(ctx context.Context, srcDir, archivePath string) (retErr error) {
	if e.dryRun {
		plog.Notice("[DRY RUN] EXPORT", "source", srcDir, "archive", archivePath)
		return nil
	}
	plog.Notice("EXPORT", "source", srcDir, "archive", archivePath)

	trgF, err := os.CreateTemp(filepath.Dir(archivePath), "rincr-export-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp archive: %w", err)
	}
	tempTrgPath := trgF.Name()

	// Ensure cleanup on error
	defer func() {
		if retErr != nil {
			trgF.Close()
			os.Remove(tempTrgPath)
		}
	}()

	if err := e.writeArchive(ctx, srcDir, trgF); err != nil {
		return err
	}

	if err := trgF.Close(); err != nil {
		return fmt.Errorf("failed to close temp file: %w", err)
	}

	if err := os.Rename(tempTrgPath, archivePath); err != nil {
		return fmt.Errorf("failed to rename temp archive to final path: %w", err)
	}

	return nil
}

func (e *Exporter) writeArchive(ctx context.Context, srcDir string, trgF *os.File) (retErr error) {
	bufWriter := bufio.NewWriterSize(trgF, ioBufferSize)

	var compressedWriter io.WriteCloser
	if e.format == TarZst {
		zstdWriter, err := zstd.NewWriter(bufWriter)
		if err != nil {
			return fmt.Errorf("failed to create zstd writer: %w", err)
		}
		compressedWriter = zstdWriter
	} else {
		pgzipWriter, err := pgzip.NewWriterLevel(bufWriter, pgzip.DefaultCompression)
		if err != nil {
			return fmt.Errorf("failed to create gzip writer: %w", err)
		}
		compressedWriter = pgzipWriter
	}

	tarWriter := tar.NewWriter(compressedWriter)

	// Robust cleanup
	defer func() {
		if err := tarWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("tar writer close failed: %w", err)
		}
		if err := compressedWriter.Close(); err != nil && retErr == nil {
			retErr = fmt.Errorf("compressed writer close failed: %w", err)
		}
		if err := bufWriter.Flush(); err != nil && retErr == nil {
			retErr = fmt.Errorf("buffer flush failed: %w", err)
		}
	}()

	buf := make([]byte, ioBufferSize)
	return filepath.WalkDir(srcDir, func(absSrcPath string, d os.DirEntry, walkErr error) error {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		if walkErr != nil {
			return walkErr
		}

		relPathKey, err := filepath.Rel(srcDir, absSrcPath)
		if err != nil {
			return fmt.Errorf("failed to get relative path for %s: %w", absSrcPath, err)
		}
		if relPathKey == "." {
			return nil
		}
		relPathKey = util.NormalizePath(relPathKey)

		info, err := d.Info()
		if err != nil {
			return fmt.Errorf("failed to get file info for %s: %w", absSrcPath, err)
		}

		switch {
		case info.IsDir():
			return e.writeDir(tarWriter, relPathKey, info)
		case info.Mode()&os.ModeSymlink != 0:
			return e.writeSymlink(tarWriter, absSrcPath, relPathKey, info)
		case info.Mode().IsRegular():
			return e.writeFile(tarWriter, absSrcPath, relPathKey, info, buf)
		default:
			// Sockets, fifos and devices cannot be represented faithfully
			// in the archive and are skipped.
			plog.Warn("Skipping irregular file", "file", relPathKey, "mode", info.Mode().String())
			return nil
		}
	})
}

func (e *Exporter) writeDir(tw *tar.Writer, relPathKey string, info os.FileInfo) error {
	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", relPathKey, err)
	}
	header.Name = relPathKey + "/"
	return tw.WriteHeader(header)
}

func (e *Exporter) writeSymlink(tw *tar.Writer, absSrcPath, relPathKey string, info os.FileInfo) error {
	linkTarget, err := os.Readlink(absSrcPath)
	if err != nil {
		return fmt.Errorf("failed to read link %s: %w", absSrcPath, err)
	}

	header, err := tar.FileInfoHeader(info, linkTarget)
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", relPathKey, err)
	}
	header.Name = relPathKey
	return tw.WriteHeader(header)
}

func (e *Exporter) writeFile(tw *tar.Writer, absSrcPath, relPathKey string, info os.FileInfo, buf []byte) error {
	fileToTar, err := secureFileOpen(absSrcPath, info)
	if err != nil {
		return fmt.Errorf("failed to open file %s: %w", absSrcPath, err)
	}
	defer fileToTar.Close()

	header, err := tar.FileInfoHeader(info, "")
	if err != nil {
		return fmt.Errorf("failed to create tar header for %s: %w", relPathKey, err)
	}
	header.Name = relPathKey

	if err := tw.WriteHeader(header); err != nil {
		return fmt.Errorf("failed to write tar header for %s: %w", relPathKey, err)
	}
	_, err = io.CopyBuffer(tw, fileToTar, buf)
	return err
}

// secureFileOpen verifies that the file at path is the same one we expected (TOCTOU check).
// This prevents attacks where a file is swapped for a symlink after discovery,
// and catches size changes that would corrupt the tar header.
func secureFileOpen(absFilePath string, expected os.FileInfo) (*os.File, error) {
	f, err := os.Open(absFilePath)
	if err != nil {
		return nil, err
	}

	openedInfo, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("failed to stat opened file: %w", err)
	}

	if !os.SameFile(expected, openedInfo) {
		f.Close()
		return nil, fmt.Errorf("file changed during export (TOCTOU): %s", absFilePath)
	}

	if openedInfo.Size() != expected.Size() {
		f.Close()
		return nil, fmt.Errorf("file size changed during export: %s", absFilePath)
	}

	return f, nil
}
