// Package lockdir serializes backup runs against one destination directory.
//
// The lock marker is a directory, not a file: directory creation is atomic
// under POSIX semantics, so os.Mkdir is the actual mutual-exclusion
// primitive. The marker contains a small JSON record describing the owner,
// which lets the next run reclaim the lock after a reboot (a lock taken
// before the current boot cannot belong to a live process) and lets humans
// inspect who holds a destination.
package lockdir

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rincr/rincr/pkg/boottime"
	"github.com/rincr/rincr/pkg/plog"
	"github.com/rincr/rincr/pkg/timestamp"
	"github.com/rincr/rincr/pkg/util"
)

const (
	// LockDirName is the name of the marker directory created in the destination.
	LockDirName = "backup.lock"
	// InfoFileName is the metadata record inside the marker directory.
	InfoFileName = "info"
)

// InfoRecord is the on-disk metadata record of a held lock.
type InfoRecord struct {
	PID       int    `json:"pid"`
	StartTime string `json:"start_time"`
}

// ErrLockHeld is returned when the destination is locked by another run.
// It is contention, not failure: callers exit cleanly when they see it.
type ErrLockHeld struct {
	PID       int
	StartTime time.Time
	// Unreadable marks a marker whose record could not be interpreted.
	// Such markers are never destroyed; only their owner may remove them.
	Unreadable bool
}

// Error implements the error interface for ErrLockHeld.
func (e *ErrLockHeld) Error() string {
	if e.Unreadable {
		return "destination is locked and the lock record is unreadable"
	}
	return fmt.Sprintf("destination is locked by PID %d since %s", e.PID, e.StartTime.Format(time.RFC3339))
}

// Lock is the handle to an acquired lock. Its sole capability is Release.
type Lock struct {
	path string
	mu   sync.Mutex
	held bool
}

// These are vars to allow modification during testing.
var (
	nowFunc      = time.Now
	bootTimeFunc = boottime.Get
)

// Acquire attempts to lock the destination directory.
// It returns a non-nil Lock on success.
// It returns (nil, *ErrLockHeld) if another run holds the destination.
// It returns (nil, error) for any other failure (I/O, permissions).
//
// The stale pre-check is advisory cleanup only; correctness comes from the
// atomic os.Mkdir below, which fails if the marker already exists.
func Acquire(ctx context.Context, destPath string, codec timestamp.Codec) (*Lock, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	lockDir := filepath.Join(destPath, LockDirName)

	// --- 1. Advisory stale-lock cleanup ---
	if _, err := os.Stat(lockDir); err == nil {
		if held := inspectExisting(lockDir, codec); held != nil {
			return nil, held
		}
		// The marker was stale and has been removed; fall through to create
		// a fresh one.
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("failed to inspect lock directory: %w", err)
	}

	// --- 2. Atomic acquisition ---
	if err := os.Mkdir(lockDir, util.UserWritableDirPerms); err != nil {
		if os.IsExist(err) {
			// Lost a race against another run between the pre-check and here.
			return nil, &ErrLockHeld{Unreadable: true}
		}
		return nil, fmt.Errorf("failed to create lock directory: %w", err)
	}

	// --- 3. Write the owner record ---
	record := InfoRecord{
		PID:       os.Getpid(),
		StartTime: codec.Format(nowFunc()),
	}
	if err := writeInfoRecord(lockDir, record); err != nil {
		// We own the marker but cannot describe ourselves in it. Leaving it
		// behind would produce an unreadable lock nobody reclaims until the
		// next reboot, so clean up and fail.
		if rmErr := os.RemoveAll(lockDir); rmErr != nil {
			plog.Warn("Failed to remove lock directory after write failure", "path", lockDir, "error", rmErr)
		}
		return nil, err
	}

	plog.Debug("Lock acquired", "path", lockDir, "pid", record.PID)
	return &Lock{path: lockDir, held: true}, nil
}

// inspectExisting examines a marker directory found during the pre-check.
// It returns a non-nil *ErrLockHeld when the marker must be respected, or
// nil after removing a marker proven stale by the boot-time comparison.
func inspectExisting(lockDir string, codec timestamp.Codec) *ErrLockHeld {
	record, err := readInfoRecord(lockDir)
	if err != nil {
		// Never destroy a lock we cannot interpret.
		plog.Warn("Existing lock record is unreadable, treating destination as busy", "path", lockDir, "error", err)
		return &ErrLockHeld{Unreadable: true}
	}

	started, ok := codec.ParseSuffix(record.StartTime)
	if !ok {
		plog.Warn("Existing lock record has a malformed start time, treating destination as busy", "path", lockDir, "start_time", record.StartTime)
		return &ErrLockHeld{PID: record.PID, Unreadable: true}
	}

	boot, err := bootTimeFunc()
	if err != nil {
		// Without a boot instant staleness cannot be proven; assume live.
		plog.Warn("Cannot determine system boot time, treating existing lock as live", "error", err)
		return &ErrLockHeld{PID: record.PID, StartTime: started}
	}

	if started.Before(boot) {
		plog.Notice("Removing stale lock from before last boot", "locked", started, "booted", boot, "pid", record.PID)
		if err := os.RemoveAll(lockDir); err != nil {
			plog.Warn("Failed to remove stale lock directory", "path", lockDir, "error", err)
			return &ErrLockHeld{PID: record.PID, StartTime: started}
		}
		return nil
	}

	plog.Debug("Existing lock is still valid", "locked", started, "pid", record.PID)
	return &ErrLockHeld{PID: record.PID, StartTime: started}
}

// Release removes the marker directory if it still exists. It is idempotent:
// calling it twice, or after the marker was removed externally, is not an
// error. It is registered on every exit path of a run, including signal
// handling, so reentrancy safety matters here.
func (l *Lock) Release() {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !l.held {
		return
	}
	l.held = false

	if err := os.RemoveAll(l.path); err != nil {
		plog.Warn("Failed to remove lock directory", "path", l.path, "error", err)
		return
	}
	plog.Debug("Lock released", "path", l.path)
}

func writeInfoRecord(lockDir string, record InfoRecord) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal lock record: %w", err)
	}
	infoPath := filepath.Join(lockDir, InfoFileName)
	if err := os.WriteFile(infoPath, data, util.UserWritableFilePerms); err != nil {
		return fmt.Errorf("failed to write lock record: %w", err)
	}
	return nil
}

func readInfoRecord(lockDir string) (InfoRecord, error) {
	data, err := os.ReadFile(filepath.Join(lockDir, InfoFileName))
	if err != nil {
		return InfoRecord{}, fmt.Errorf("failed to read lock record: %w", err)
	}
	var record InfoRecord
	if err := json.Unmarshal(data, &record); err != nil {
		return InfoRecord{}, fmt.Errorf("failed to parse lock record: %w", err)
	}
	return record, nil
}
