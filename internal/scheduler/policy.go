package scheduler

import (
	"fmt"
	"strings"
	"time"
)

// ErrorKind classifies window validation failures.
type ErrorKind string

const (
	InvalidFormat       ErrorKind = "invalid_format"
	InvalidRange        ErrorKind = "invalid_range"
	DurationViolation   ErrorKind = "duration_violation"
	OutsideOpeningHours ErrorKind = "outside_opening_hours"
)

// Field names reported by WindowError.
const (
	FieldStart = "start"
	FieldEnd   = "end"
)

// WindowError describes why a raw start/end pair was rejected.
type WindowError struct {
	Kind  ErrorKind
	Field string
	Value string

	// Populated for DurationViolation.
	Actual time.Duration
	Min    time.Duration
	Max    time.Duration
}

func (e *WindowError) Error() string {
	if e == nil {
		return ""
	}
	switch e.Kind {
	case InvalidFormat:
		if e.Value == "" {
			return fmt.Sprintf("%s is required", e.Field)
		}
		return fmt.Sprintf("%s %q is not a valid date-time", e.Field, e.Value)
	case InvalidRange:
		return "end must be after start"
	case DurationViolation:
		return fmt.Sprintf("duration %s is outside the allowed range [%s, %s]", e.Actual, e.Min, e.Max)
	case OutsideOpeningHours:
		return "window is outside opening hours"
	default:
		return string(e.Kind)
	}
}

// OpeningHours restricts windows to a daily interval measured from local
// midnight. The zero value disables the restriction.
type OpeningHours struct {
	Open     time.Duration
	Close    time.Duration
	Location *time.Location
}

// Enabled reports whether the restriction applies.
func (h OpeningHours) Enabled() bool {
	return h.Close > h.Open
}

// Admits reports whether w starts and ends within the opening hours of the
// day on which it starts.
func (h OpeningHours) Admits(w Window) bool {
	if !h.Enabled() {
		return true
	}
	loc := h.Location
	if loc == nil {
		loc = time.UTC
	}
	start := w.Start.In(loc)
	y, m, d := start.Date()
	midnight := time.Date(y, m, d, 0, 0, 0, 0, loc)
	return !start.Before(midnight.Add(h.Open)) && !w.End.In(loc).After(midnight.Add(h.Close))
}

// Policy holds the rules a reservation window must satisfy.
type Policy struct {
	MinDuration time.Duration
	MaxDuration time.Duration
	// Location interprets inputs that carry no UTC offset.
	Location     *time.Location
	OpeningHours OpeningHours
}

// DefaultPolicy allows windows between one and two hours.
func DefaultPolicy() Policy {
	return Policy{
		MinDuration: time.Hour,
		MaxDuration: 2 * time.Hour,
		Location:    time.UTC,
	}
}

var localLayouts = []string{
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

// ParseInput parses a user supplied date-time. Values without an offset are
// read in the policy location. The result is canonical.
func (p Policy) ParseInput(field, raw string) (time.Time, error) {
	value := strings.TrimSpace(raw)
	if value == "" {
		return time.Time{}, &WindowError{Kind: InvalidFormat, Field: field}
	}
	if t, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return Canonicalize(t), nil
	}
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	for _, layout := range localLayouts {
		if t, err := time.ParseInLocation(layout, value, loc); err == nil {
			return Canonicalize(t), nil
		}
	}
	return time.Time{}, &WindowError{Kind: InvalidFormat, Field: field, Value: value}
}

// Validate parses and checks a raw start/end pair, returning the canonical
// window or a *WindowError.
func (p Policy) Validate(rawStart, rawEnd string) (Window, error) {
	start, err := p.ParseInput(FieldStart, rawStart)
	if err != nil {
		return Window{}, err
	}
	end, err := p.ParseInput(FieldEnd, rawEnd)
	if err != nil {
		return Window{}, err
	}
	w := Window{Start: start, End: end}
	if err := p.Check(w); err != nil {
		return Window{}, err
	}
	return w, nil
}

// Check applies the range, duration and opening hours rules to an already
// parsed window.
func (p Policy) Check(w Window) error {
	if !w.End.After(w.Start) {
		return &WindowError{Kind: InvalidRange, Field: FieldEnd, Value: FormatInstant(w.End)}
	}
	d := w.Duration()
	if (p.MinDuration > 0 && d < p.MinDuration) || (p.MaxDuration > 0 && d > p.MaxDuration) {
		return &WindowError{
			Kind:   DurationViolation,
			Field:  FieldEnd,
			Actual: d,
			Min:    p.MinDuration,
			Max:    p.MaxDuration,
		}
	}
	if !p.OpeningHours.Admits(w) {
		return &WindowError{Kind: OutsideOpeningHours, Field: FieldStart, Value: FormatInstant(w.Start)}
	}
	return nil
}
