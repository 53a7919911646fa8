// Package catalog derives a read-only view of a backup destination: which
// children are complete backups, which are incomplete, and which are neither.
// The view is recomputed from a directory listing on every run; nothing here
// is persisted.
package catalog

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/rincr/rincr/pkg/timestamp"
)

// Naming is the immutable naming scheme of a destination. It is built from
// configuration once per run and passed to every component that interprets
// directory names.
type Naming struct {
	// CompletePrefix precedes the timestamp of a promoted backup.
	CompletePrefix string
	// IncompletePrefix precedes the timestamp of an in-progress backup.
	IncompletePrefix string
	// CurrentLinkName is the symlink pointing at the latest complete backup.
	CurrentLinkName string
	// Codec parses and renders the name-embedded timestamps.
	Codec timestamp.Codec
}

// DefaultNaming returns the scheme used by the original history layout.
func DefaultNaming() Naming {
	return Naming{
		CompletePrefix:   "backup-",
		IncompletePrefix: "incomplete-backup-",
		CurrentLinkName:  "current",
		Codec:            timestamp.Default(),
	}
}

// CompleteDirName renders the directory name for a promoted backup at t.
func (n Naming) CompleteDirName(t time.Time) string {
	return n.CompletePrefix + n.Codec.Format(t)
}

// IncompleteDirName renders the directory name for an in-progress backup at t.
func (n Naming) IncompleteDirName(t time.Time) string {
	return n.IncompletePrefix + n.Codec.Format(t)
}

// Entry is one classified child of the destination directory.
type Entry struct {
	// Name is the base name of the child.
	Name string
	// Path is the child joined to the destination.
	Path string
	// Kind classifies the child.
	Kind Kind
	// Timestamp is the instant parsed from the name's trailing suffix.
	// Only meaningful when TimestampOK is true.
	Timestamp time.Time
	// TimestampOK is false for entries whose suffix did not parse.
	TimestampOK bool
}

// Scan lists the immediate children of the destination and classifies each
// one. It does not recurse. The result is sorted by name for stable logging
// only; callers must not rely on chronological order.
//
// An entry whose name matches a backup prefix but whose trailing timestamp
// does not parse is still classified by its prefix, with TimestampOK false.
// Such entries are anomalies: reported by callers, never deleted.
func Scan(destPath string, naming Naming) ([]Entry, error) {
	children, err := os.ReadDir(destPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read destination directory %s: %w", destPath, err)
	}

	entries := make([]Entry, 0, len(children))
	for _, child := range children {
		name := child.Name()
		e := Entry{
			Name: name,
			Path: filepath.Join(destPath, name),
			Kind: KindOther,
		}

		// Only real directories participate; symlinks (like the current
		// pointer) and files are debris from the catalog's point of view.
		if child.IsDir() {
			switch {
			case strings.HasPrefix(name, naming.IncompletePrefix):
				e.Kind = KindIncomplete
			case strings.HasPrefix(name, naming.CompletePrefix):
				e.Kind = KindComplete
			}
		}

		if e.Kind != KindOther {
			e.Timestamp, e.TimestampOK = naming.Codec.ParseSuffix(name)
		}

		entries = append(entries, e)
	}

	sort.Slice(entries, func(i, j int) bool { return entries[i].Name < entries[j].Name })
	return entries, nil
}

// NewestComplete returns the complete entry with the greatest timestamp,
// ignoring entries without a parseable timestamp. ok is false when no
// complete entry with a valid timestamp exists.
func NewestComplete(entries []Entry) (Entry, bool) {
	var newest Entry
	found := false
	for _, e := range entries {
		if e.Kind != KindComplete || !e.TimestampOK {
			continue
		}
		if !found || e.Timestamp.After(newest.Timestamp) {
			newest = e
			found = true
		}
	}
	return newest, found
}
