package transfer

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"slices"
	"testing"
)

func TestBuildArgsBasics(t *testing.T) {
	r := NewRsync("")
	args := r.buildArgs(Request{Source: "/src", Dest: "/dst/incomplete-backup-x"})

	for _, want := range []string{
		"--recursive", "--links", "--perms", "--times", "--group",
		"--owner", "--devices", "--specials", "--executability",
		"--itemize-changes", "--human-readable",
	} {
		if !slices.Contains(args, want) {
			t.Errorf("args missing %s: %v", want, args)
		}
	}

	// Source and destination close the argument list, in that order.
	if len(args) < 2 || args[len(args)-2] != "/src" || args[len(args)-1] != "/dst/incomplete-backup-x" {
		t.Errorf("args do not end with source and dest: %v", args)
	}

	if slices.Contains(args, "--dry-run") {
		t.Error("dry-run flag present without DryRun set")
	}
	for _, a := range args {
		if len(a) >= 12 && a[:12] == "--link-dest=" {
			t.Errorf("link-dest present without a link reference: %v", args)
		}
	}
}

func TestBuildArgsPatternsAndDryRun(t *testing.T) {
	r := NewRsync("")
	args := r.buildArgs(Request{
		Source:   "/src",
		Dest:     "/dst/x",
		Excludes: []string{"/tmp/*", "/proc/*"},
		Includes: []string{"/home"},
		DryRun:   true,
	})

	if !slices.Contains(args, "--dry-run") {
		t.Error("dry-run flag missing")
	}

	// Pattern flags keep their pairing and order.
	i := slices.Index(args, "--exclude")
	if i < 0 || args[i+1] != "/tmp/*" {
		t.Errorf("first exclude not forwarded: %v", args)
	}
	j := slices.Index(args[i+2:], "--exclude")
	if j < 0 || args[i+2+j+1] != "/proc/*" {
		t.Errorf("second exclude not forwarded: %v", args)
	}
	k := slices.Index(args, "--include")
	if k < 0 || args[k+1] != "/home" {
		t.Errorf("include not forwarded: %v", args)
	}
}

func TestBuildArgsLinkRefOnlyWhenPresent(t *testing.T) {
	r := NewRsync("")
	existing := t.TempDir()

	args := r.buildArgs(Request{Source: "/src", Dest: "/dst/x", LinkRef: existing})
	if !slices.Contains(args, "--link-dest="+existing) {
		t.Errorf("existing link reference not passed: %v", args)
	}

	args = r.buildArgs(Request{Source: "/src", Dest: "/dst/x", LinkRef: filepath.Join(existing, "missing")})
	for _, a := range args {
		if len(a) >= 12 && a[:12] == "--link-dest=" {
			t.Errorf("missing link reference was passed anyway: %v", args)
		}
	}
}

// writeStubEngine creates an executable script standing in for rsync.
func writeStubEngine(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "stub-engine")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0755); err != nil {
		t.Fatalf("failed to write stub engine: %v", err)
	}
	return path
}

func TestRunSuccess(t *testing.T) {
	engine := NewRsync(writeStubEngine(t, "echo copied something; exit 0"))
	if err := engine.Run(context.Background(), Request{Source: "/src", Dest: "/dst"}); err != nil {
		t.Fatalf("Run returned error for successful engine: %v", err)
	}
}

func TestRunPropagatesExitStatus(t *testing.T) {
	engine := NewRsync(writeStubEngine(t, "echo some transfer error >&2; exit 23"))
	err := engine.Run(context.Background(), Request{Source: "/src", Dest: "/dst"})
	if err == nil {
		t.Fatal("Run returned nil for failing engine")
	}

	code, ok := ExitCode(err)
	if !ok {
		t.Fatalf("ExitCode could not extract a status from %v", err)
	}
	if code != 23 {
		t.Errorf("ExitCode = %d, want 23", code)
	}
}

func TestRunMissingBinary(t *testing.T) {
	engine := NewRsync(filepath.Join(t.TempDir(), "does-not-exist"))
	err := engine.Run(context.Background(), Request{Source: "/src", Dest: "/dst"})
	if err == nil {
		t.Fatal("Run returned nil for missing binary")
	}
	if _, ok := ExitCode(err); ok {
		t.Error("a start failure must not carry an engine exit status")
	}
}

func TestRunCancellation(t *testing.T) {
	engine := NewRsync(writeStubEngine(t, "sleep 30"))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := engine.Run(ctx, Request{Source: "/src", Dest: "/dst"})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
}
