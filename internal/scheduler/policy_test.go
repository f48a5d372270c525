package scheduler

import (
	"errors"
	"testing"
	"time"
)

func TestPolicyValidate(t *testing.T) {
	t.Parallel()

	policy := DefaultPolicy()

	tests := []struct {
		name      string
		start     string
		end       string
		wantKind  ErrorKind
		wantField string
		wantStart string
		wantEnd   string
	}{
		{name: "one hour accepted", start: "2024-05-01T09:00:00Z", end: "2024-05-01T10:00:00Z", wantStart: "2024-05-01T09:00:00Z", wantEnd: "2024-05-01T10:00:00Z"},
		{name: "two hours accepted", start: "2024-05-01T09:00:00Z", end: "2024-05-01T11:00:00Z", wantStart: "2024-05-01T09:00:00Z", wantEnd: "2024-05-01T11:00:00Z"},
		{name: "offset normalized to utc", start: "2024-05-01T18:00:00+09:00", end: "2024-05-01T19:30:00+09:00", wantStart: "2024-05-01T09:00:00Z", wantEnd: "2024-05-01T10:30:00Z"},
		{name: "local layout read as utc", start: "2024-05-01 09:00:00", end: "2024-05-01T10:00", wantStart: "2024-05-01T09:00:00Z", wantEnd: "2024-05-01T10:00:00Z"},
		{name: "sub-second precision dropped", start: "2024-05-01T09:00:00.900Z", end: "2024-05-01T10:00:00.100Z", wantStart: "2024-05-01T09:00:00Z", wantEnd: "2024-05-01T10:00:00Z"},
		{name: "missing start", start: "", end: "2024-05-01T10:00:00Z", wantKind: InvalidFormat, wantField: FieldStart},
		{name: "garbage end", start: "2024-05-01T09:00:00Z", end: "tomorrow", wantKind: InvalidFormat, wantField: FieldEnd},
		{name: "end equals start", start: "2024-05-01T09:00:00Z", end: "2024-05-01T09:00:00Z", wantKind: InvalidRange, wantField: FieldEnd},
		{name: "end before start", start: "2024-05-01T10:00:00Z", end: "2024-05-01T09:00:00Z", wantKind: InvalidRange, wantField: FieldEnd},
		{name: "too short", start: "2024-05-01T09:00:00Z", end: "2024-05-01T09:59:59Z", wantKind: DurationViolation, wantField: FieldEnd},
		{name: "too long", start: "2024-05-01T09:00:00Z", end: "2024-05-01T11:00:01Z", wantKind: DurationViolation, wantField: FieldEnd},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			w, err := policy.Validate(tc.start, tc.end)
			if tc.wantKind != "" {
				var wErr *WindowError
				if !errors.As(err, &wErr) {
					t.Fatalf("expected WindowError, got %v", err)
				}
				if wErr.Kind != tc.wantKind {
					t.Fatalf("expected kind %s, got %s", tc.wantKind, wErr.Kind)
				}
				if wErr.Field != tc.wantField {
					t.Fatalf("expected field %s, got %s", tc.wantField, wErr.Field)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got := FormatInstant(w.Start); got != tc.wantStart {
				t.Fatalf("expected start %s, got %s", tc.wantStart, got)
			}
			if got := FormatInstant(w.End); got != tc.wantEnd {
				t.Fatalf("expected end %s, got %s", tc.wantEnd, got)
			}
			if w.Start.Location() != time.UTC {
				t.Fatalf("expected utc location, got %v", w.Start.Location())
			}
		})
	}
}

func TestPolicyValidateReportsDurationBounds(t *testing.T) {
	t.Parallel()

	policy := Policy{MinDuration: 30 * time.Minute, MaxDuration: 90 * time.Minute}
	_, err := policy.Validate("2024-05-01T09:00:00Z", "2024-05-01T09:10:00Z")

	var wErr *WindowError
	if !errors.As(err, &wErr) {
		t.Fatalf("expected WindowError, got %v", err)
	}
	if wErr.Actual != 10*time.Minute || wErr.Min != 30*time.Minute || wErr.Max != 90*time.Minute {
		t.Fatalf("unexpected bounds: actual=%s min=%s max=%s", wErr.Actual, wErr.Min, wErr.Max)
	}
	if wErr.Error() == "" {
		t.Fatal("expected message")
	}
}

func TestOpeningHours(t *testing.T) {
	t.Parallel()

	tokyo := time.FixedZone("JST", 9*60*60)
	policy := DefaultPolicy()
	policy.OpeningHours = OpeningHours{Open: 9 * time.Hour, Close: 16 * time.Hour, Location: tokyo}

	tests := []struct {
		name  string
		start string
		end   string
		ok    bool
	}{
		{name: "inside", start: "2024-05-01T09:00:00+09:00", end: "2024-05-01T10:00:00+09:00", ok: true},
		{name: "ends at close", start: "2024-05-01T14:00:00+09:00", end: "2024-05-01T16:00:00+09:00", ok: true},
		{name: "starts before open", start: "2024-05-01T08:30:00+09:00", end: "2024-05-01T09:30:00+09:00"},
		{name: "ends after close", start: "2024-05-01T15:30:00+09:00", end: "2024-05-01T16:30:00+09:00"},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			_, err := policy.Validate(tc.start, tc.end)
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok {
				var wErr *WindowError
				if !errors.As(err, &wErr) || wErr.Kind != OutsideOpeningHours {
					t.Fatalf("expected outside opening hours, got %v", err)
				}
			}
		})
	}
}

func TestCanonicalizeIsIdempotent(t *testing.T) {
	t.Parallel()

	in := time.Date(2024, 5, 1, 18, 0, 0, 123456789, time.FixedZone("JST", 9*60*60))
	once := Canonicalize(in)
	if !Canonicalize(once).Equal(once) {
		t.Fatal("canonicalize is not idempotent")
	}
	parsed, err := ParseInstant(FormatInstant(in))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if !parsed.Equal(once) {
		t.Fatalf("round trip mismatch: %v vs %v", parsed, once)
	}
}
