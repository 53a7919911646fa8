// Package transfer invokes the external data-transfer engine. The engine is
// a collaborator, not part of this system: it receives a source, a
// destination, an optional link-reference directory for incremental
// deduplication, and pattern lists, then performs the copy and reports an
// exit status plus a line-oriented log.
package transfer

import (
	"context"
	"errors"
	"os/exec"
)

// Request describes one transfer engine invocation.
type Request struct {
	// Source is the directory tree to copy.
	Source string
	// Dest is the directory the engine writes into.
	Dest string
	// LinkRef, when non-empty, names a previous complete backup the engine
	// may hard-link unchanged files from instead of copying them.
	LinkRef string
	// Excludes and Includes are pattern lists forwarded verbatim.
	Excludes []string
	Includes []string
	// DryRun asks the engine to report its plan without writing.
	DryRun bool
}

// Engine abstracts the subprocess so the orchestrator can be tested with a
// fake. Run blocks until the engine exits; a non-zero exit status surfaces
// as an error from which ExitCode extracts the status.
type Engine interface {
	Run(ctx context.Context, req Request) error
}

// ExitCode extracts the subprocess exit status from a Run error. ok is false
// when the error does not carry one (e.g. the binary was not found, or the
// failure happened before the process ran).
func ExitCode(err error) (int, bool) {
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), true
	}
	return 0, false
}
