//go:build linux || darwin

package boottime

import (
	"testing"
	"time"
)

func TestGetIsPlausible(t *testing.T) {
	boot, err := Get()
	if err != nil {
		t.Fatalf("Get returned error: %v", err)
	}

	now := time.Now()
	if boot.After(now) {
		t.Errorf("boot time %v is in the future (now %v)", boot, now)
	}
	// Sanity bound: the machine booted within the last ten years.
	if boot.Before(now.AddDate(-10, 0, 0)) {
		t.Errorf("boot time %v is implausibly old", boot)
	}
}
