//go:build linux

package boottime

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// get derives the boot instant from the kernel uptime counter.
func get() (time.Time, error) {
	var info unix.Sysinfo_t
	if err := unix.Sysinfo(&info); err != nil {
		return time.Time{}, fmt.Errorf("sysinfo failed: %w", err)
	}
	// Truncate to seconds on both sides; sub-second precision is meaningless
	// here and would make comparisons against second-resolution lock
	// timestamps flaky.
	now := time.Now().Truncate(time.Second)
	return now.Add(-time.Duration(info.Uptime) * time.Second), nil
}
