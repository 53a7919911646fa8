package main

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/rincr/rincr/pkg/config"
)

func TestRunVersion(t *testing.T) {
	if err := run(context.Background(), []string{"version"}); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
}

func TestRunNoArgsPrintsUsage(t *testing.T) {
	if err := run(context.Background(), nil); err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}
}

func TestRunUnknownCommand(t *testing.T) {
	err := run(context.Background(), []string{"restore"})
	if err == nil || !strings.Contains(err.Error(), "invalid command") {
		t.Fatalf("expected invalid command error, but got: %v", err)
	}
}

func TestRunRequiresDest(t *testing.T) {
	for _, command := range []string{"backup", "list", "prune", "export", "init"} {
		t.Run(command, func(t *testing.T) {
			err := run(context.Background(), []string{command})
			if err == nil || !strings.Contains(err.Error(), "-dest flag is required") {
				t.Fatalf("expected missing dest error, but got: %v", err)
			}
		})
	}
}

func TestRunInit(t *testing.T) {
	dest := t.TempDir()
	source := t.TempDir()

	err := run(context.Background(), []string{"init", "-dest=" + dest, "-source=" + source})
	if err != nil {
		t.Fatalf("expected no error, but got: %v", err)
	}

	configPath := filepath.Join(dest, config.ConfigFileName)
	if _, err := os.Stat(configPath); err != nil {
		t.Fatalf("expected generated config file at %s: %v", configPath, err)
	}

	// A second init without -force must refuse to overwrite.
	err = run(context.Background(), []string{"init", "-dest=" + dest, "-source=" + source})
	if err == nil || !strings.Contains(err.Error(), "already exists") {
		t.Fatalf("expected overwrite refusal, but got: %v", err)
	}

	// With -force the file is replaced.
	if err := run(context.Background(), []string{"init", "-dest=" + dest, "-source=" + source, "-force"}); err != nil {
		t.Fatalf("expected no error with -force, but got: %v", err)
	}
}

func TestRunBackupRequiresSource(t *testing.T) {
	dest := t.TempDir()

	err := run(context.Background(), []string{"backup", "-dest=" + dest})
	if err == nil || !strings.Contains(err.Error(), "source path cannot be empty") {
		t.Fatalf("expected source validation error, but got: %v", err)
	}
}

func TestRunListOnEmptyDestination(t *testing.T) {
	dest := t.TempDir()

	if err := run(context.Background(), []string{"list", "-dest=" + dest}); err != nil {
		t.Fatalf("expected no error listing empty destination, but got: %v", err)
	}
}
