package lockdir

import (
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rincr/rincr/pkg/timestamp"
	"github.com/rincr/rincr/pkg/util"
)

// stubBootTime pins the boot-time seam for the duration of a test.
func stubBootTime(t *testing.T, boot time.Time, err error) {
	t.Helper()
	orig := bootTimeFunc
	bootTimeFunc = func() (time.Time, error) { return boot, err }
	t.Cleanup(func() { bootTimeFunc = orig })
}

// writeLockRecord plants a marker directory with the given record content.
func writeLockRecord(t *testing.T, dir string, record InfoRecord) string {
	t.Helper()
	lockDir := filepath.Join(dir, LockDirName)
	if err := os.Mkdir(lockDir, util.UserWritableDirPerms); err != nil {
		t.Fatalf("failed to create lock directory: %v", err)
	}
	data, err := json.Marshal(record)
	if err != nil {
		t.Fatalf("failed to marshal record: %v", err)
	}
	if err := os.WriteFile(filepath.Join(lockDir, InfoFileName), data, util.UserWritableFilePerms); err != nil {
		t.Fatalf("failed to write record: %v", err)
	}
	return lockDir
}

func TestAcquireAndRelease(t *testing.T) {
	dir := t.TempDir()
	codec := timestamp.Default()
	lockPath := filepath.Join(dir, LockDirName)

	lock, err := Acquire(context.Background(), dir, codec)
	if err != nil {
		t.Fatalf("expected to acquire lock, but got error: %v", err)
	}

	// The marker directory and its record must exist while held.
	info, err := os.Stat(lockPath)
	if err != nil {
		t.Fatalf("lock directory missing after acquire: %v", err)
	}
	if !info.IsDir() {
		t.Fatal("lock marker is not a directory")
	}

	data, err := os.ReadFile(filepath.Join(lockPath, InfoFileName))
	if err != nil {
		t.Fatalf("lock record missing after acquire: %v", err)
	}
	var record InfoRecord
	if err := json.Unmarshal(data, &record); err != nil {
		t.Fatalf("lock record is not valid JSON: %v", err)
	}
	if record.PID != os.Getpid() {
		t.Errorf("lock record PID = %d, want %d", record.PID, os.Getpid())
	}
	if _, ok := codec.ParseSuffix(record.StartTime); !ok {
		t.Errorf("lock record start time %q does not parse", record.StartTime)
	}

	lock.Release()
	if _, err := os.Stat(lockPath); !os.IsNotExist(err) {
		t.Fatal("lock directory was not removed after release")
	}
}

func TestContention(t *testing.T) {
	dir := t.TempDir()
	codec := timestamp.Default()
	stubBootTime(t, time.Now().Add(-time.Hour), nil)

	lock1, err := Acquire(context.Background(), dir, codec)
	if err != nil {
		t.Fatalf("first acquire failed: %v", err)
	}
	defer lock1.Release()

	_, err = Acquire(context.Background(), dir, codec)
	if err == nil {
		t.Fatal("second acquire unexpectedly succeeded while lock is held")
	}

	var held *ErrLockHeld
	if !errors.As(err, &held) {
		t.Fatalf("expected *ErrLockHeld, got %T: %v", err, err)
	}
	if held.PID != os.Getpid() {
		t.Errorf("ErrLockHeld reports PID %d, want %d", held.PID, os.Getpid())
	}
}

func TestStaleLockReclaimed(t *testing.T) {
	dir := t.TempDir()
	codec := timestamp.Default()

	// The record predates the simulated boot, so its owner cannot be alive.
	locked := time.Now().Add(-2 * time.Hour)
	stubBootTime(t, time.Now().Add(-time.Hour), nil)
	writeLockRecord(t, dir, InfoRecord{PID: 12345, StartTime: codec.Format(locked)})

	lock, err := Acquire(context.Background(), dir, codec)
	if err != nil {
		t.Fatalf("expected stale lock to be reclaimed, got error: %v", err)
	}
	defer lock.Release()

	// The fresh record must identify this process, not the stale owner.
	record, err := readInfoRecord(filepath.Join(dir, LockDirName))
	if err != nil {
		t.Fatalf("failed to read fresh record: %v", err)
	}
	if record.PID != os.Getpid() {
		t.Errorf("fresh lock record PID = %d, want %d", record.PID, os.Getpid())
	}
}

func TestLiveLockPreserved(t *testing.T) {
	dir := t.TempDir()
	codec := timestamp.Default()

	// The record postdates the simulated boot, so the owner may be running.
	locked := time.Now().Add(-time.Minute)
	stubBootTime(t, time.Now().Add(-time.Hour), nil)
	lockDir := writeLockRecord(t, dir, InfoRecord{PID: 12345, StartTime: codec.Format(locked)})

	_, err := Acquire(context.Background(), dir, codec)
	var held *ErrLockHeld
	if !errors.As(err, &held) {
		t.Fatalf("expected *ErrLockHeld, got %T: %v", err, err)
	}
	if held.PID != 12345 {
		t.Errorf("ErrLockHeld reports PID %d, want 12345", held.PID)
	}
	if _, err := os.Stat(lockDir); err != nil {
		t.Fatalf("live lock directory was disturbed: %v", err)
	}
}

func TestCorruptRecordIsNeverDestroyed(t *testing.T) {
	dir := t.TempDir()
	codec := timestamp.Default()
	stubBootTime(t, time.Now().Add(-time.Hour), nil)

	lockDir := filepath.Join(dir, LockDirName)
	if err := os.Mkdir(lockDir, util.UserWritableDirPerms); err != nil {
		t.Fatalf("failed to create lock directory: %v", err)
	}
	infoPath := filepath.Join(lockDir, InfoFileName)
	if err := os.WriteFile(infoPath, []byte("{not json"), util.UserWritableFilePerms); err != nil {
		t.Fatalf("failed to write corrupt record: %v", err)
	}

	_, err := Acquire(context.Background(), dir, codec)
	var held *ErrLockHeld
	if !errors.As(err, &held) {
		t.Fatalf("expected *ErrLockHeld for corrupt record, got %T: %v", err, err)
	}
	if !held.Unreadable {
		t.Error("expected ErrLockHeld.Unreadable for corrupt record")
	}

	// Conservative rule: the corrupt marker stays in place.
	if _, err := os.Stat(infoPath); err != nil {
		t.Fatalf("corrupt lock record was disturbed: %v", err)
	}
}

func TestMissingRecordTreatedAsBusy(t *testing.T) {
	dir := t.TempDir()
	codec := timestamp.Default()
	stubBootTime(t, time.Now().Add(-time.Hour), nil)

	// Marker directory without a record: another process may be mid-acquire.
	lockDir := filepath.Join(dir, LockDirName)
	if err := os.Mkdir(lockDir, util.UserWritableDirPerms); err != nil {
		t.Fatalf("failed to create lock directory: %v", err)
	}

	_, err := Acquire(context.Background(), dir, codec)
	var held *ErrLockHeld
	if !errors.As(err, &held) {
		t.Fatalf("expected *ErrLockHeld, got %T: %v", err, err)
	}
	if _, statErr := os.Stat(lockDir); statErr != nil {
		t.Fatalf("recordless marker was disturbed: %v", statErr)
	}
}

func TestUnknownBootTimeIsConservative(t *testing.T) {
	dir := t.TempDir()
	codec := timestamp.Default()

	// Even an ancient lock survives when the boot instant cannot be read.
	locked := time.Now().Add(-1000 * time.Hour)
	stubBootTime(t, time.Time{}, errors.New("no boot time"))
	lockDir := writeLockRecord(t, dir, InfoRecord{PID: 99, StartTime: codec.Format(locked)})

	_, err := Acquire(context.Background(), dir, codec)
	var held *ErrLockHeld
	if !errors.As(err, &held) {
		t.Fatalf("expected *ErrLockHeld, got %T: %v", err, err)
	}
	if _, err := os.Stat(lockDir); err != nil {
		t.Fatalf("lock directory was disturbed: %v", err)
	}
}

func TestReleaseIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	codec := timestamp.Default()

	lock, err := Acquire(context.Background(), dir, codec)
	if err != nil {
		t.Fatalf("acquire failed: %v", err)
	}

	lock.Release()
	lock.Release() // Second release must be a no-op.

	// Release after external removal must also be harmless.
	lock2, err := Acquire(context.Background(), dir, codec)
	if err != nil {
		t.Fatalf("re-acquire failed: %v", err)
	}
	if err := os.RemoveAll(filepath.Join(dir, LockDirName)); err != nil {
		t.Fatalf("external removal failed: %v", err)
	}
	lock2.Release()
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	dir := t.TempDir()
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := Acquire(ctx, dir, timestamp.Default()); !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
