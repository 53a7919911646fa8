//go:build !linux && !darwin

package boottime

import "time"

func get() (time.Time, error) {
	return time.Time{}, ErrUnavailable
}
