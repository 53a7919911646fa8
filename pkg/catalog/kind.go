package catalog

import "fmt"

// Kind classifies a destination directory entry.
type Kind int

const (
	// KindOther marks entries that take no part in the backup history:
	// non-directories, the lock marker, the current link, and debris.
	KindOther Kind = iota
	// KindComplete marks promoted backup directories.
	KindComplete
	// KindIncomplete marks backup directories whose run never finished.
	KindIncomplete
)

var kindToString = map[Kind]string{
	KindOther:      "other",
	KindComplete:   "complete",
	KindIncomplete: "incomplete",
}

// String returns the string representation of a Kind.
func (k Kind) String() string {
	if str, ok := kindToString[k]; ok {
		return str
	}
	return fmt.Sprintf("unknown_kind(%d)", int(k))
}
