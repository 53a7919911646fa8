package timestamp

import (
	"testing"
	"time"
)

func TestFormatIsFixedWidth(t *testing.T) {
	codec := Default()

	instants := []time.Time{
		time.Date(2020, 1, 1, 0, 0, 0, 0, time.Local),
		time.Date(2020, 1, 2, 3, 4, 5, 0, time.Local),
		time.Date(2021, 12, 31, 23, 59, 59, 0, time.Local),
		time.Date(1999, 9, 9, 9, 9, 9, 0, time.Local),
	}

	for _, in := range instants {
		s := codec.Format(in)
		if len(s) != codec.Width() {
			t.Errorf("Format(%v) = %q has length %d, want %d", in, s, len(s), codec.Width())
		}
	}

	if !codec.IsFixedWidth() {
		t.Error("default layout reported as not fixed-width")
	}
}

func TestVariableWidthLayoutDetected(t *testing.T) {
	// "1" renders months without zero padding, so the width varies.
	codec := NewCodec("2006-1-02")
	if codec.IsFixedWidth() {
		t.Error("variable-width layout reported as fixed-width")
	}
}

func TestRoundTrip(t *testing.T) {
	codec := Default()

	// One-second resolution instants must survive format -> parse exactly.
	base := time.Date(2023, 6, 15, 10, 30, 0, 0, time.Local)
	for i := 0; i < 100; i++ {
		in := base.Add(time.Duration(i*7919) * time.Second) // step through odd offsets
		out, ok := codec.ParseSuffix(codec.Format(in))
		if !ok {
			t.Fatalf("ParseSuffix failed for formatted instant %v", in)
		}
		if !out.Equal(in) {
			t.Fatalf("round trip mismatch: in=%v out=%v", in, out)
		}
	}
}

func TestParseSuffixTrailingSubstring(t *testing.T) {
	codec := Default()
	want := time.Date(2023, 6, 15, 10, 30, 0, 0, time.Local)

	// The codec must parse only the trailing fixed-width suffix, regardless
	// of any prefix in front of it.
	got, ok := codec.ParseSuffix("backup-" + codec.Format(want))
	if !ok {
		t.Fatal("ParseSuffix failed on a valid prefixed name")
	}
	if !got.Equal(want) {
		t.Errorf("ParseSuffix = %v, want %v", got, want)
	}
}

func TestParseSuffixInvalid(t *testing.T) {
	codec := Default()

	cases := []string{
		"",
		"short",
		"backup-",
		"backup-2023-06-15T10:30",    // too short a suffix
		"backup-2023-06-15X10:30:00", // malformed separator
		"backup-2023-13-15T10:30:00", // month out of range
		"backup-9999-99-99T99:99:99",
	}

	for _, name := range cases {
		if _, ok := codec.ParseSuffix(name); ok {
			t.Errorf("ParseSuffix(%q) unexpectedly succeeded", name)
		}
	}
}
