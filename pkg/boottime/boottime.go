// Package boottime reports the instant the operating system last booted.
// The lock manager compares a lock's recorded start time against it: a lock
// taken before the current boot cannot belong to a live process.
package boottime

import (
	"errors"
	"time"
)

// ErrUnavailable is returned on platforms where the boot instant cannot be
// determined. Callers must fail safe: treat existing locks as live.
var ErrUnavailable = errors.New("boot time is not available on this platform")

// Get returns the system boot instant at second resolution.
func Get() (time.Time, error) {
	return get()
}
