// Package preflight provides functions for validation and checks that run before
// a backup run begins. These checks are designed to be stateless and idempotent,
// with the exception of the writability probe, ensuring the system is in a
// suitable state for a run to proceed.
package preflight

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// CheckDestinationAccessible performs pre-flight checks to ensure the backup
// destination is usable. It provides more user-friendly errors than letting
// os.MkdirAll fail.
//
// The checks include:
//  1. On Windows, verifies that the drive or network share (e.g., "Z:", "\\Server\Share") exists.
//  2. If the destination path exists, confirms it is a directory.
//  3. If the destination path does not exist, confirms its parent directory is accessible.
//  4. On Unix, if the path looks like a mount point, it verifies the device is actually mounted
//     to prevent writing to a "ghost" directory on the root filesystem. This is done by walking
//     up from the destination path and checking the highest-level existing directory.
func CheckDestinationAccessible(destPath string) error {
	// --- 1. Check if the Volume/Drive exists, windows only ---
	if err := checkVolumeExists(destPath); err != nil {
		return err
	}

	// --- 2. Check existence and type ---
	info, err := os.Stat(destPath)
	if os.IsNotExist(err) {
		// Destination doesn't exist. We must check the potential parent.
		// If /mnt/backup/my-backup doesn't exist, is /mnt/backup mounted?

		// Find the deepest existing ancestor.
		ancestor := destPath
		for {
			parent := filepath.Dir(ancestor)
			if parent == ancestor {
				break // Hit root
			}
			_, err := os.Stat(parent)
			if err == nil {
				ancestor = parent
				break // Found the deepest directory that actually exists
			}
			if !os.IsNotExist(err) {
				return fmt.Errorf("cannot access ancestor directory %s: %w", parent, err)
			}
			ancestor = parent
		}

		if err := validateMountPoint(ancestor); err != nil {
			return err
		}

		return nil
	} else if err != nil {
		return fmt.Errorf("cannot access destination path: %w", err)
	}

	// --- 3. The destination path exists ---
	if !info.IsDir() {
		return fmt.Errorf("destination path exists but is not a directory: %s", destPath)
	}

	if err := validateMountPoint(destPath); err != nil {
		return err
	}

	return nil
}

// validateMountPoint applies the platform ghost detection only to paths that
// look like they live under a mount point. Ordinary local destinations are
// legitimately on the system disk and must not be rejected.
func validateMountPoint(path string) error {
	if !looksLikeMountPoint(path) {
		return nil
	}
	return platformValidateMountPoint(path)
}

// looksLikeMountPoint reports whether any path component resembles a typical
// external mount location (mnt, media, Volumes, or names containing "mnt").
func looksLikeMountPoint(path string) bool {
	for _, part := range strings.Split(filepath.Clean(path), string(filepath.Separator)) {
		switch {
		case part == "media" || part == "Volumes":
			return true
		case strings.Contains(strings.ToLower(part), "mnt"):
			return true
		}
	}
	return false
}

// CheckSourceAccessible validates that the source path exists and is a directory.
func CheckSourceAccessible(srcPath string) error {
	srcInfo, err := os.Stat(srcPath)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("source directory %s does not exist", srcPath)
		}
		return fmt.Errorf("cannot stat source directory %s: %w", srcPath, err)
	}

	if !srcInfo.IsDir() {
		return fmt.Errorf("source path %s is not a directory", srcPath)
	}

	return nil
}

// CheckDestinationWritable ensures the destination directory can be created and
// supports the filesystem operations a run depends on: plain file writes,
// symlink creation for the current pointer and atomic directory renames for
// promotion. Destinations on filesystems without symlink support (FAT, some
// network shares) are rejected here rather than failing mid-run.
func CheckDestinationWritable(destPath string) error {
	if err := os.MkdirAll(destPath, 0755); err != nil {
		return fmt.Errorf("failed to create destination directory %s: %w", destPath, err)
	}

	// Thorough write check by creating and deleting a temporary file.
	tempFile := filepath.Join(destPath, ".rincr-writetest.tmp")
	f, err := os.Create(tempFile)
	if err != nil {
		return fmt.Errorf("destination directory %s is not writable: %w", destPath, err)
	}
	f.Close()
	defer os.Remove(tempFile)

	// Symlink capability probe.
	tempLink := filepath.Join(destPath, ".rincr-linktest.tmp")
	if err := os.Symlink(filepath.Base(tempFile), tempLink); err != nil {
		return fmt.Errorf("destination directory %s does not support symlinks: %w", destPath, err)
	}
	defer os.Remove(tempLink)

	// Rename capability probe; promotion relies on this being atomic.
	tempRenamed := filepath.Join(destPath, ".rincr-renametest.tmp")
	if err := os.Rename(tempFile, tempRenamed); err != nil {
		return fmt.Errorf("destination directory %s does not support renames: %w", destPath, err)
	}
	if err := os.Rename(tempRenamed, tempFile); err != nil {
		return fmt.Errorf("destination directory %s does not support renames: %w", destPath, err)
	}

	return nil
}
