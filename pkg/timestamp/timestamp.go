// Package timestamp formats and parses the fixed-width timestamps embedded in
// backup directory names. The layout is constant-length for every valid
// instant, so lexical ordering of directory names matches chronological
// ordering.
package timestamp

import "time"

// DefaultLayout is the canonical directory-name timestamp layout.
const DefaultLayout = "2006-01-02T15:04:05"

// Codec renders and parses name-embedded timestamps for one fixed layout.
// It is an immutable value; construct it once and pass it to the components
// that need it.
type Codec struct {
	layout string
}

// NewCodec creates a codec for the given layout. The layout must render to
// the same width for all instants; IsFixedWidth reports whether it does.
func NewCodec(layout string) Codec {
	return Codec{layout: layout}
}

// Default returns the codec for DefaultLayout.
func Default() Codec {
	return Codec{layout: DefaultLayout}
}

// Layout returns the codec's time layout string.
func (c Codec) Layout() string {
	return c.layout
}

// Width returns the rendered width of the layout. All supported layouts use
// fixed-width verbs, so the layout's own length is the rendered length.
func (c Codec) Width() int {
	return len(c.layout)
}

// IsFixedWidth reports whether the layout renders at constant length.
// Variable-width verbs (like "1" for month or "3" for hour) break the
// name-suffix parsing contract and are rejected by config validation.
func (c Codec) IsFixedWidth() bool {
	// A reference instant with two-digit components everywhere must render
	// at the same length as one with the smallest components.
	wide := time.Date(2021, 12, 31, 23, 59, 59, 0, time.UTC)
	narrow := time.Date(2021, 1, 2, 3, 4, 5, 0, time.UTC)
	return len(wide.Format(c.layout)) == len(c.layout) &&
		len(narrow.Format(c.layout)) == len(c.layout)
}

// Format renders an instant at second resolution in the codec's layout.
func (c Codec) Format(t time.Time) string {
	return t.Format(c.layout)
}

// ParseSuffix parses the trailing fixed-width substring of a directory name.
// It returns ok=false if the name is too short or the suffix is not a valid
// timestamp. Callers must treat a failed parse distinctly from "too old":
// invalid entries are anomalies, never deletion candidates.
func (c Codec) ParseSuffix(name string) (time.Time, bool) {
	w := c.Width()
	if len(name) < w {
		return time.Time{}, false
	}
	t, err := time.ParseInLocation(c.layout, name[len(name)-w:], time.Local)
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}
