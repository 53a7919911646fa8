// Package engine orchestrates a backup run from start to finish: preflight,
// locking, hooks, the rsync transfer into an incomplete directory, atomic
// promotion, the current pointer and retention.
package engine

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/rincr/rincr/pkg/buildinfo"
	"github.com/rincr/rincr/pkg/catalog"
	"github.com/rincr/rincr/pkg/config"
	"github.com/rincr/rincr/pkg/export"
	"github.com/rincr/rincr/pkg/hints"
	"github.com/rincr/rincr/pkg/hook"
	"github.com/rincr/rincr/pkg/lockdir"
	"github.com/rincr/rincr/pkg/metafile"
	"github.com/rincr/rincr/pkg/plog"
	"github.com/rincr/rincr/pkg/preflight"
	"github.com/rincr/rincr/pkg/retention"
	"github.com/rincr/rincr/pkg/timestamp"
	"github.com/rincr/rincr/pkg/transfer"
)

// Runner executes the top-level commands against one destination.
type Runner struct {
	cfg    config.Config
	naming catalog.Naming

	transfer transfer.Engine
	retainer *retention.Retainer
	hooks    *hook.Executor

	// now is a seam for tests that need a deterministic run timestamp.
	now func() time.Time
}

// New creates a Runner wired with the real transfer engine and hook executor.
func New(cfg config.Config) *Runner {
	return &Runner{
		cfg:      cfg,
		naming:   namingFromConfig(cfg),
		transfer: transfer.NewRsync(cfg.Transfer.RsyncPath),
		retainer: retention.NewRetainer(cfg.Retention.DeleteWorkers, cfg.Runtime.DryRun),
		hooks:    hook.NewExecutor(exec.CommandContext),
		now:      time.Now,
	}
}

func namingFromConfig(cfg config.Config) catalog.Naming {
	return catalog.Naming{
		CompletePrefix:   cfg.Naming.BackupDirPrefix,
		IncompletePrefix: cfg.Naming.IncompleteDirPrefix,
		CurrentLinkName:  cfg.Naming.CurrentLinkName,
		Codec:            timestamp.NewCodec(cfg.Naming.TimeLayout),
	}
}

// ExecuteBackup runs one full backup cycle. A destination that is locked by
// another live run is not an error: the run is skipped and nil is returned.
// A transfer failure leaves the incomplete directory in place for the next
// run to supersede and is returned with the engine's exit status attached.
func (r *Runner) ExecuteBackup(ctx context.Context) error {
	// Check for cancellation at the very beginning.
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.runPreflight(true); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	releaseLock, err := r.acquireDestLock(ctx)
	if err != nil {
		return err
	}
	if releaseLock == nil {
		return nil // Lock was already held, exit gracefully.
	}
	defer releaseLock()

	// The run timestamp is captured once the destination is owned, so the
	// directory name reflects the instant this run took the lock.
	runTime := r.now()

	// --- Pre-Backup Hooks ---
	hookPlan := &hook.Plan{
		PreBackupCommands:  r.cfg.Hooks.PreBackup,
		PostBackupCommands: r.cfg.Hooks.PostBackup,
		DryRun:             r.cfg.Runtime.DryRun,
		FailFast:           r.cfg.FailFast,
	}
	if err := r.hooks.RunPreBackup(ctx, hookPlan); err != nil && !hints.IsHint(err) {
		// All pre-backup hook errors are fatal. We wrap the error with a message
		// that distinguishes between a cancellation and a failure.
		errMsg := "pre-backup hook failed"
		if errors.Is(err, context.Canceled) {
			errMsg = "pre-backup hook canceled"
		}
		return fmt.Errorf("%s: %w", errMsg, err)
	}

	// --- Post-Backup Hooks (deferred) ---
	// These run at the end of the function, even if the backup fails.
	defer func() {
		if err := r.hooks.RunPostBackup(ctx, hookPlan); err != nil && !hints.IsHint(err) {
			if errors.Is(err, context.Canceled) {
				plog.Info("Post-backup hooks skipped due to cancellation.")
			} else {
				plog.Warn("Post-backup hook failed", "error", err)
			}
		}
	}()

	plog.Info("Starting backup", "source", r.cfg.Source, "destination", r.cfg.Destination, "dry_run", r.cfg.Runtime.DryRun)

	incompleteName := r.naming.IncompleteDirName(runTime)
	incompletePath := filepath.Join(r.cfg.Destination, incompleteName)
	completeName := r.naming.CompleteDirName(runTime)
	completePath := filepath.Join(r.cfg.Destination, completeName)

	// The destination itself is always excluded. When it lives inside the
	// source, a run would otherwise copy the whole backup history into the
	// new backup.
	excludes := append(r.cfg.Transfer.ExcludePatterns(), r.cfg.Destination)

	req := transfer.Request{
		// A trailing separator makes rsync copy the directory's contents
		// instead of the directory itself.
		Source:   ensureTrailingSeparator(r.cfg.Source),
		Dest:     incompletePath,
		LinkRef:  r.currentBackupPath(),
		Excludes: excludes,
		Includes: r.cfg.Transfer.IncludePatterns,
		DryRun:   r.cfg.Runtime.DryRun,
	}
	if err := r.transfer.Run(ctx, req); err != nil {
		// The incomplete directory stays behind; a later successful run
		// makes it eligible for pruning.
		return fmt.Errorf("transfer failed: %w", err)
	}

	if r.cfg.Runtime.DryRun {
		plog.Notice("[DRY RUN] PROMOTE", "from", incompleteName, "to", completeName)
	} else {
		// The metafile is informational; a backup without one is still valid.
		if err := r.writeRunMetafile(incompletePath, runTime); err != nil {
			plog.Warn("Could not write run metadata", "error", err)
		}

		// Promotion is a single same-filesystem rename: every observer sees
		// either the incomplete name or the complete name, never both.
		if err := os.Rename(incompletePath, completePath); err != nil {
			return fmt.Errorf("failed to promote backup %s: %w", incompleteName, err)
		}
		plog.Notice("PROMOTE", "backup", completeName)

		// A stale current pointer would silently feed the wrong link
		// reference to every following run, so this failure is fatal.
		// The deferred release still unlocks the destination.
		if err := r.repointCurrent(completeName); err != nil {
			return fmt.Errorf("failed to update current pointer: %w", err)
		}
	}

	// Retention sees the destination state after promotion, never a stale view.
	if r.cfg.Retention.Enabled {
		if err := r.applyRetention(ctx, runTime); err != nil {
			if r.cfg.FailFast {
				return fmt.Errorf("error during prune: %w", err)
			}
			plog.Warn("Error during prune, skipping", "error", err)
		}
	}

	plog.Info("Backup completed", "backup", completeName)
	return nil
}

// ExecutePrune applies the retention policy without running a backup.
func (r *Runner) ExecutePrune(ctx context.Context) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	if err := r.runPreflight(false); err != nil {
		return fmt.Errorf("preflight failed: %w", err)
	}

	releaseLock, err := r.acquireDestLock(ctx)
	if err != nil {
		return err
	}
	if releaseLock == nil {
		return nil // Lock was already held, exit gracefully.
	}
	defer releaseLock()

	plog.Info("Starting prune", "destination", r.cfg.Destination)
	if err := r.applyRetention(ctx, r.now()); err != nil {
		return fmt.Errorf("fatal error during prune: %w", err)
	}
	plog.Info("Prune completed")
	return nil
}

// ExecuteList prints the destination's catalog and returns it.
func (r *Runner) ExecuteList(ctx context.Context) ([]catalog.Entry, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	entries, err := catalog.Scan(r.cfg.Destination, r.naming)
	if err != nil {
		return nil, fmt.Errorf("failed to list backups: %w", err)
	}

	currentName := filepath.Base(r.currentBackupPath())
	for _, e := range entries {
		if e.Kind == catalog.KindOther {
			continue
		}
		args := []any{"kind", e.Kind.String()}
		if e.TimestampOK {
			args = append(args, "created", r.naming.Codec.Format(e.Timestamp))
		} else {
			args = append(args, "anomaly", "unparseable timestamp")
		}
		if e.Name == currentName {
			args = append(args, "current", true)
		}
		plog.Notice(e.Name, args...)
	}
	return entries, nil
}

// ExecuteExport archives one complete backup into outDir. An empty backupName
// selects the newest complete backup.
func (r *Runner) ExecuteExport(ctx context.Context, backupName, outDir string) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
	}

	format, err := export.ParseFormat(r.cfg.Export.Format)
	if err != nil {
		return err
	}

	// Export runs under the destination lock so retention cannot delete the
	// backup mid-archive.
	releaseLock, err := r.acquireDestLock(ctx)
	if err != nil {
		return err
	}
	if releaseLock == nil {
		return nil
	}
	defer releaseLock()

	entries, err := catalog.Scan(r.cfg.Destination, r.naming)
	if err != nil {
		return fmt.Errorf("failed to scan destination: %w", err)
	}

	var selected catalog.Entry
	if backupName == "" {
		newest, ok := catalog.NewestComplete(entries)
		if !ok {
			return fmt.Errorf("no complete backup to export in %s", r.cfg.Destination)
		}
		selected = newest
	} else {
		found := false
		for _, e := range entries {
			if e.Name == backupName {
				selected = e
				found = true
				break
			}
		}
		if !found {
			return fmt.Errorf("backup %q not found in %s", backupName, r.cfg.Destination)
		}
		if selected.Kind != catalog.KindComplete {
			return fmt.Errorf("backup %q is not a complete backup", backupName)
		}
	}

	if outDir == "" {
		outDir = "."
	}
	archivePath := filepath.Join(outDir, export.ArchiveFileName(selected.Name, format))

	exporter := export.NewExporter(format, r.cfg.Runtime.DryRun)
	if err := exporter.Export(ctx, selected.Path, archivePath); err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	return nil
}

// runPreflight validates the source and destination before any state changes.
func (r *Runner) runPreflight(checkSource bool) error {
	if checkSource {
		if err := preflight.CheckSourceAccessible(r.cfg.Source); err != nil {
			return err
		}
	}
	if err := preflight.CheckDestinationAccessible(r.cfg.Destination); err != nil {
		return err
	}
	return preflight.CheckDestinationWritable(r.cfg.Destination)
}

// acquireDestLock acquires the destination lock. It returns a release function
// that must be called to unlock, or (nil, nil) when another live run holds the
// lock and this run should exit gracefully.
func (r *Runner) acquireDestLock(ctx context.Context) (func(), error) {
	plog.Debug("Attempting to acquire lock", "path", r.cfg.Destination)
	lock, err := lockdir.Acquire(ctx, r.cfg.Destination, r.naming.Codec)
	if err != nil {
		var lockErr *lockdir.ErrLockHeld
		if errors.As(err, &lockErr) {
			plog.Warn("Another run is active for this destination, skipping run.", "details", lockErr.Error())
			return nil, nil // Graceful exit.
		}
		return nil, fmt.Errorf("failed to acquire lock: %w", err)
	}
	plog.Debug("Lock acquired successfully.")

	return lock.Release, nil
}

// currentBackupPath resolves the current symlink to an absolute path, or
// returns "" when there is no usable pointer (the first-run case).
func (r *Runner) currentBackupPath() string {
	currentPath := filepath.Join(r.cfg.Destination, r.naming.CurrentLinkName)
	target, err := os.Readlink(currentPath)
	if err != nil {
		return "" // Missing or not a symlink; this run starts a fresh chain.
	}
	if !filepath.IsAbs(target) {
		target = filepath.Join(r.cfg.Destination, target)
	}
	return target
}

// repointCurrent atomically retargets the current symlink at the newest
// backup. The link target is relative so the destination tree can be moved
// or remounted without breaking the pointer.
func (r *Runner) repointCurrent(completeName string) error {
	currentPath := filepath.Join(r.cfg.Destination, r.naming.CurrentLinkName)

	tmpPath := currentPath + ".tmp"
	if err := os.Remove(tmpPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("could not clear temporary link %s: %w", tmpPath, err)
	}
	if err := os.Symlink(completeName, tmpPath); err != nil {
		return fmt.Errorf("could not create link to %s: %w", completeName, err)
	}
	if err := os.Rename(tmpPath, currentPath); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("could not replace current pointer: %w", err)
	}
	plog.Info("Current pointer updated", "target", completeName)
	return nil
}

func (r *Runner) writeRunMetafile(dirPath string, runTime time.Time) error {
	hostname, _ := os.Hostname()
	return metafile.Write(dirPath, &metafile.MetafileContent{
		Version:      buildinfo.Version,
		TimestampUTC: runTime.UTC(),
		Hostname:     hostname,
		Source:       r.cfg.Source,
	})
}

// applyRetention rescans the destination and runs both pruning passes.
func (r *Runner) applyRetention(ctx context.Context, runTime time.Time) error {
	entries, err := catalog.Scan(r.cfg.Destination, r.naming)
	if err != nil {
		return fmt.Errorf("failed to scan destination for pruning: %w", err)
	}

	if r.cfg.Retention.DaysToKeep > 0 {
		cutoff := runTime.Add(-time.Duration(r.cfg.Retention.DaysToKeep) * 24 * time.Hour)
		report := r.retainer.PruneAged(ctx, entries, cutoff)
		logReport("age", report)

		// Deletion changed the catalog; the incomplete pass gets a fresh view.
		entries, err = catalog.Scan(r.cfg.Destination, r.naming)
		if err != nil {
			return fmt.Errorf("failed to rescan destination for pruning: %w", err)
		}
	}

	report, err := r.retainer.PruneIncomplete(ctx, entries)
	if err != nil {
		if hints.IsHint(err) {
			plog.Info("Skipping incomplete pruning", "reason", err.Error())
			return nil
		}
		return err
	}
	logReport("incomplete", report)
	return nil
}

func logReport(pass string, report retention.Report) {
	for _, name := range report.Deleted {
		plog.Notice("DELETE", "pass", pass, "backup", name)
	}
	for _, failure := range report.Failures {
		plog.Warn("Could not delete backup", "pass", pass, "backup", failure.Name, "error", failure.Err)
	}
	for _, name := range report.Anomalies {
		plog.Warn("Preserving entry with unparseable timestamp", "pass", pass, "entry", name)
	}
}

// ensureTrailingSeparator appends the OS path separator if the path does not
// already end with one.
func ensureTrailingSeparator(path string) string {
	if strings.HasSuffix(path, string(filepath.Separator)) {
		return path
	}
	return path + string(filepath.Separator)
}
