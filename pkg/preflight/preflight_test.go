package preflight

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestCheckDestinationAccessible(t *testing.T) {
	t.Run("Happy Path - Destination Exists", func(t *testing.T) {
		destDir := t.TempDir()
		err := CheckDestinationAccessible(destDir)
		if err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Happy Path - Destination Does Not Exist, Parent Exists", func(t *testing.T) {
		parentDir := t.TempDir()
		destDir := filepath.Join(parentDir, "new_dir")

		err := CheckDestinationAccessible(destDir)
		if err != nil {
			t.Errorf("expected no error when parent exists, but got: %v", err)
		}
	})

	t.Run("Error - Destination Is a File", func(t *testing.T) {
		destFile := filepath.Join(t.TempDir(), "dest.txt")
		if err := os.WriteFile(destFile, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}

		err := CheckDestinationAccessible(destFile)
		if err == nil {
			t.Fatal("expected an error when destination is a file, but got nil")
		}
		if !strings.Contains(err.Error(), "is not a directory") {
			t.Errorf("expected error to be about 'not a directory', but got: %v", err)
		}
	})
}

func TestCheckSourceAccessible(t *testing.T) {
	t.Run("Happy Path - Source is a directory", func(t *testing.T) {
		srcDir := t.TempDir()
		err := CheckSourceAccessible(srcDir)
		if err != nil {
			t.Errorf("expected no error for existing directory, but got: %v", err)
		}
	})

	t.Run("Error - Source does not exist", func(t *testing.T) {
		nonExistentPath := filepath.Join(t.TempDir(), "nonexistent")
		err := CheckSourceAccessible(nonExistentPath)
		if err == nil {
			t.Fatal("expected an error for non-existent source, but got nil")
		}
		if !strings.Contains(err.Error(), "does not exist") {
			t.Errorf("expected error about non-existent source, but got: %v", err)
		}
	})

	t.Run("Error - Source is a file", func(t *testing.T) {
		srcFile := filepath.Join(t.TempDir(), "source.txt")
		if err := os.WriteFile(srcFile, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		err := CheckSourceAccessible(srcFile)
		if err == nil {
			t.Fatal("expected an error when source is a file, but got nil")
		}
		if !strings.Contains(err.Error(), "is not a directory") {
			t.Errorf("expected error about source not being a directory, but got: %v", err)
		}
	})
}

func TestCheckDestinationWritable(t *testing.T) {
	t.Run("Happy Path - Directory is writable", func(t *testing.T) {
		destDir := t.TempDir()

		err := CheckDestinationWritable(destDir)
		if err != nil {
			t.Errorf("expected no error, but got: %v", err)
		}

		// Probe artifacts must not survive the check.
		entries, readErr := os.ReadDir(destDir)
		if readErr != nil {
			t.Fatalf("failed to read destination: %v", readErr)
		}
		if len(entries) != 0 {
			t.Errorf("probe left artifacts behind: %v", entries)
		}
	})

	t.Run("Happy Path - Directory is created", func(t *testing.T) {
		destDir := filepath.Join(t.TempDir(), "not-yet-there")

		if err := CheckDestinationWritable(destDir); err != nil {
			t.Errorf("expected no error, but got: %v", err)
		}
		if info, err := os.Stat(destDir); err != nil || !info.IsDir() {
			t.Errorf("destination directory was not created: %v", err)
		}
	})

	t.Run("Error - Destination is a file", func(t *testing.T) {
		destFile := filepath.Join(t.TempDir(), "dest.txt")
		if err := os.WriteFile(destFile, []byte("i am a file"), 0644); err != nil {
			t.Fatalf("failed to create test file: %v", err)
		}
		err := CheckDestinationWritable(destFile)
		if err == nil {
			t.Fatal("expected an error when destination is a file, but got nil")
		}
	})
}

func TestLooksLikeMountPoint(t *testing.T) {
	cases := []struct {
		path string
		want bool
	}{
		{"/mnt/backup", true},
		{"/media/user/disk", true},
		{"/Volumes/Backup", true},
		{"/tmp/test-mnt/backup", true},
		{"/tmp/scratch", false},
		{"/home/user/backups", false},
	}
	for _, c := range cases {
		if got := looksLikeMountPoint(c.path); got != c.want {
			t.Errorf("looksLikeMountPoint(%q) = %v, want %v", c.path, got, c.want)
		}
	}
}
