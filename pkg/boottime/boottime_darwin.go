//go:build darwin

package boottime

import (
	"fmt"
	"time"

	"golang.org/x/sys/unix"
)

// get reads the kern.boottime sysctl.
func get() (time.Time, error) {
	tv, err := unix.SysctlTimeval("kern.boottime")
	if err != nil {
		return time.Time{}, fmt.Errorf("sysctl kern.boottime failed: %w", err)
	}
	return time.Unix(tv.Sec, 0), nil
}
