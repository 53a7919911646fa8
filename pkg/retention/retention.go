// Package retention decides which backup directories to delete and removes
// them. Two independent passes exist: age-based pruning of complete backups
// and pruning of incomplete backups that a later complete run has obsoleted.
// Both passes are idempotent and safe to re-run; both collect per-entry
// failures instead of aborting.
package retention

import (
	"context"
	"os"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/rincr/rincr/pkg/catalog"
	"github.com/rincr/rincr/pkg/hints"
	"github.com/rincr/rincr/pkg/plog"
)

// ErrNoBaseline signals that incomplete pruning found no complete backup to
// compare against. It is a hint, not a failure: expected on a first-ever run,
// suspicious afterwards, never fatal.
var ErrNoBaseline = hints.New("no complete backup found, skipping incomplete pruning")

// removeAll is a seam for tests that need to inject deletion failures.
var removeAll = os.RemoveAll

// Failure records one directory that could not be removed.
type Failure struct {
	Name string
	Err  error
}

// Report summarizes one pruning pass. Anomalies and failures are reported by
// the caller but never change a run's exit status.
type Report struct {
	// Deleted lists the names of removed directories.
	Deleted []string
	// Failures lists directories whose removal failed; the pass continued
	// past each of them.
	Failures []Failure
	// Anomalies lists participant-looking names whose timestamp did not
	// parse. They are preserved: deleting what we cannot date is unsafe.
	Anomalies []string
}

// Retainer deletes pruned backup directories with a bounded worker pool.
// Parallel deletion pays off on network filesystems where unlink latency
// dominates.
type Retainer struct {
	workers int
	dryRun  bool
}

// NewRetainer creates a Retainer. workers values below 1 are clamped to 1.
func NewRetainer(workers int, dryRun bool) *Retainer {
	if workers < 1 {
		workers = 1
	}
	return &Retainer{workers: workers, dryRun: dryRun}
}

// PruneAged removes every complete entry whose timestamp is at or before the
// cutoff. The cutoff comparison is deliberately inclusive; the pinned
// direction is "delete entries at or before the cutoff".
// Incomplete entries and entries without a parseable timestamp are never
// touched by this pass.
func (r *Retainer) PruneAged(ctx context.Context, entries []catalog.Entry, cutoff time.Time) Report {
	plog.Info("Pruning backups at or before cutoff", "cutoff", cutoff)

	var candidates []catalog.Entry
	var anomalies []string
	for _, e := range entries {
		if e.Kind != catalog.KindComplete {
			continue
		}
		if !e.TimestampOK {
			anomalies = append(anomalies, e.Name)
			continue
		}
		if !e.Timestamp.After(cutoff) {
			candidates = append(candidates, e)
		}
	}

	report := r.deleteAll(ctx, candidates)
	report.Anomalies = anomalies
	plog.Info("Age pruning finished", "deleted", len(report.Deleted), "failed", len(report.Failures), "anomalies", len(report.Anomalies))
	return report
}

// PruneIncomplete removes every incomplete entry strictly older than the
// newest complete backup. An incomplete run is presumed abandoned once a
// later run has completed; newer ones may still be in flight and are left
// alone. The comparison is deliberately exclusive: an incomplete entry
// sharing the newest complete timestamp is preserved.
//
// When no complete backup exists the pass is a no-op and ErrNoBaseline is
// returned alongside the empty report.
func (r *Retainer) PruneIncomplete(ctx context.Context, entries []catalog.Entry) (Report, error) {
	newest, ok := catalog.NewestComplete(entries)
	if !ok {
		return Report{}, ErrNoBaseline
	}
	plog.Info("Pruning incomplete backups older than newest complete backup", "newest", newest.Name)

	var candidates []catalog.Entry
	var anomalies []string
	for _, e := range entries {
		if e.Kind != catalog.KindIncomplete {
			continue
		}
		if !e.TimestampOK {
			anomalies = append(anomalies, e.Name)
			continue
		}
		if e.Timestamp.Before(newest.Timestamp) {
			candidates = append(candidates, e)
		}
	}

	report := r.deleteAll(ctx, candidates)
	report.Anomalies = anomalies
	plog.Info("Incomplete pruning finished", "deleted", len(report.Deleted), "failed", len(report.Failures), "anomalies", len(report.Anomalies))
	return report, nil
}

// deleteAll removes candidate directories in parallel. Failures are recorded
// and never stop the remaining candidates; only context cancellation does.
func (r *Retainer) deleteAll(ctx context.Context, candidates []catalog.Entry) Report {
	var report Report
	if len(candidates) == 0 {
		return report
	}

	var mu sync.Mutex
	g := new(errgroup.Group)
	g.SetLimit(r.workers)

	for _, e := range candidates {
		e := e
		select {
		case <-ctx.Done():
			g.Wait()
			return report
		default:
		}

		if r.dryRun {
			plog.Notice("[DRY RUN] DELETE", "path", e.Path)
			continue
		}

		g.Go(func() error {
			plog.Notice("DELETE", "path", e.Path)
			if err := removeAll(e.Path); err != nil {
				mu.Lock()
				report.Failures = append(report.Failures, Failure{Name: e.Name, Err: err})
				mu.Unlock()
				plog.Warn("Failed to delete backup directory", "path", e.Path, "error", err)
				return nil
			}
			mu.Lock()
			report.Deleted = append(report.Deleted, e.Name)
			mu.Unlock()
			return nil
		})
	}

	g.Wait()
	return report
}
