package scheduler

import (
	"fmt"
	"time"
)

// CanonicalLayout is the persisted representation of every instant. It is
// fixed width, so lexical order matches chronological order.
const CanonicalLayout = "2006-01-02T15:04:05Z"

// Window is a half-open interval [Start, End) expressed in canonical UTC.
type Window struct {
	Start time.Time
	End   time.Time
}

// NewWindow canonicalizes both bounds without validating them.
func NewWindow(start, end time.Time) Window {
	return Window{Start: Canonicalize(start), End: Canonicalize(end)}
}

// Duration returns the length of the window.
func (w Window) Duration() time.Duration {
	return w.End.Sub(w.Start)
}

// Overlaps reports whether w and other share at least one instant.
func (w Window) Overlaps(other Window) bool {
	return Overlaps(w, other)
}

// String renders the window using the canonical layout.
func (w Window) String() string {
	return fmt.Sprintf("[%s, %s)", FormatInstant(w.Start), FormatInstant(w.End))
}

// Overlaps implements the strict overlap rule: a.Start < b.End and
// b.Start < a.End. Windows that only touch at an endpoint do not overlap.
func Overlaps(a, b Window) bool {
	return a.Start.Before(b.End) && b.Start.Before(a.End)
}

// Canonicalize converts t to UTC and drops sub-second precision.
func Canonicalize(t time.Time) time.Time {
	return t.UTC().Truncate(time.Second)
}

// FormatInstant renders t in the canonical layout.
func FormatInstant(t time.Time) string {
	return Canonicalize(t).Format(CanonicalLayout)
}

// ParseInstant parses a value previously produced by FormatInstant.
func ParseInstant(value string) (time.Time, error) {
	t, err := time.Parse(CanonicalLayout, value)
	if err != nil {
		t, err = time.Parse(time.RFC3339Nano, value)
		if err != nil {
			return time.Time{}, err
		}
	}
	return Canonicalize(t), nil
}
