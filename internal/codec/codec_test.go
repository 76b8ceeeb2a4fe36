package codec

import (
	"strconv"
	"strings"
	"testing"
	"time"
)

func TestParseSixTokenShape(t *testing.T) {
	recv := time.Date(2025, 6, 18, 14, 30, 25, 0, time.UTC)

	ev, rej := Parse("12 8450 300 2.75 40 22.1", recv)
	if rej.Rejected() {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if ev.SequenceID != 12 || ev.MonotonicTimeMs != 8450 || ev.ADC != 300 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.SourceTimestamp != "" {
		t.Fatalf("6-token shape must not carry a device timestamp, got %q", ev.SourceTimestamp)
	}
	if ev.Humidity != nil || ev.PressureHPa != nil {
		t.Fatalf("6-token shape must not carry environment fields")
	}
	if !ev.ReceivedAt.Equal(recv) {
		t.Fatalf("expected receive time %v, got %v", recv, ev.ReceivedAt)
	}
}

func TestParseSevenTokenShape(t *testing.T) {
	ev, rej := Parse("13 2025-06-18-14-30-26.001 8700 512 3.3 100 21.5", time.Now())
	if rej.Rejected() {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if ev.SourceTimestamp != "2025-06-18-14-30-26.001" {
		t.Fatalf("expected device timestamp preserved, got %q", ev.SourceTimestamp)
	}
	if ev.ADC != 512 || ev.SiPMMilliVolts != 3.3 || ev.DeadtimeMs != 100 || ev.TemperatureC != 21.5 {
		t.Fatalf("unexpected event: %+v", ev)
	}
}

func TestParseNineTokenShapeEndToEnd(t *testing.T) {
	line := "42 2025-06-18-14-30-25.123 1500 512 3.3 100 21.5 45.0 1012.3"

	ev, rej := Parse(line, time.Now())
	if rej.Rejected() {
		t.Fatalf("unexpected rejection: %+v", rej)
	}
	if ev.SequenceID != 42 || ev.ADC != 512 || ev.SiPMMilliVolts != 3.3 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.DeadtimeMs != 100 || ev.TemperatureC != 21.5 {
		t.Fatalf("unexpected event: %+v", ev)
	}
	if ev.Humidity == nil || *ev.Humidity != 45.0 {
		t.Fatalf("expected humidity 45.0, got %v", ev.Humidity)
	}
	if ev.PressureHPa == nil || *ev.PressureHPa != 1012.3 {
		t.Fatalf("expected pressure 1012.3, got %v", ev.PressureHPa)
	}

	// The device timestamp must survive formatting verbatim; numeric tokens
	// must round-trip to equal values.
	got := strings.Split(Format(ev), "\t")
	want := strings.Fields(line)
	if len(got) != len(want) {
		t.Fatalf("token count changed: got %d want %d", len(got), len(want))
	}
	if got[1] != want[1] {
		t.Fatalf("device timestamp rewritten: got %q want %q", got[1], want[1])
	}
	for i := range want {
		if i == 1 {
			continue
		}
		if !tokensNumericallyEqual(t, got[i], want[i]) {
			t.Fatalf("token %d not equivalent: got %q want %q", i, got[i], want[i])
		}
	}
}

func TestFormatRoundTripAllShapes(t *testing.T) {
	lines := []string{
		"1 100 320 2.5 12 20.25",
		"2 2025-01-02-03-04-05.000001 200 640 5.125 7 19.5",
		"3 2025-01-02-03-04-06.000002 300 128 1.75 3 18.25 45.5 1012.25",
	}
	for _, line := range lines {
		ev, rej := Parse(line, time.Now())
		if rej.Rejected() {
			t.Fatalf("line %q rejected: %+v", line, rej)
		}
		want := strings.Join(strings.Fields(line), "\t")
		if got := Format(ev); got != want {
			t.Fatalf("round trip mismatch for %q:\n got %q\nwant %q", line, got, want)
		}
	}
}

func TestParseRejections(t *testing.T) {
	cases := []struct {
		line   string
		reason RejectReason
	}{
		{"# CosmicWatch detector", ReasonComment},
		{"   # indented comment", ReasonComment},
		{"", ReasonEmpty},
		{"   ", ReasonEmpty},
		{"1 2 3", ReasonTokenCount},
		{"1 2 3 4 5 6 7 8", ReasonTokenCount},
		{"x 8450 300 2.75 40 22.1", ReasonBadNumber},
		{"12 8450 abc 2.75 40 22.1", ReasonBadNumber},
		{"42 2025-06-18-14-30-25.123 1500 512 3.3 100 21.5 nan? 1012.3", ReasonBadNumber},
	}
	for _, tc := range cases {
		ev, rej := Parse(tc.line, time.Now())
		if ev != nil {
			t.Fatalf("line %q produced an event, expected rejection", tc.line)
		}
		if rej.Reason != tc.reason {
			t.Fatalf("line %q: got reason %q want %q", tc.line, rej.Reason, tc.reason)
		}
	}
}

func TestValidateShape(t *testing.T) {
	r := ValidateShape("12 8450 300 2.75 40 22.1")
	if !r.Valid || r.ColumnCount != 6 || !r.HasNumericFirstColumn {
		t.Fatalf("unexpected report: %+v", r)
	}

	r = ValidateShape("bogus line here now ok six")
	if r.Valid || r.HasNumericFirstColumn || r.Reason != ReasonBadNumber {
		t.Fatalf("unexpected report for non-numeric line: %+v", r)
	}

	r = ValidateShape("# comment")
	if r.Valid || r.Reason != ReasonComment {
		t.Fatalf("unexpected report for comment: %+v", r)
	}

	r = ValidateShape("1 2 3 4")
	if r.Valid || r.Reason != ReasonTokenCount || r.ColumnCount != 4 {
		t.Fatalf("unexpected report for short line: %+v", r)
	}
}

func TestFormatRaw(t *testing.T) {
	if got := FormatRaw("12   8450\t 300  2.75 40 22.1"); got != "12\t8450\t300\t2.75\t40\t22.1" {
		t.Fatalf("unexpected normalized line: %q", got)
	}
	comment := "# device booting   up"
	if got := FormatRaw(comment); got != comment {
		t.Fatalf("comment line must pass through unchanged, got %q", got)
	}
}

func tokensNumericallyEqual(t *testing.T, a, b string) bool {
	t.Helper()
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA != nil || errB != nil {
		return a == b
	}
	return fa == fb
}
