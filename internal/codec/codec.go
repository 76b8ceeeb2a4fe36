// Package codec parses and renders the detector's text line protocol.
//
// The device prints one line per hit, whitespace separated. Three shapes are
// recognized, keyed on token count:
//
//	6: seq monotonic_ms adc sipm_mv deadtime_ms temperature_c
//	7: seq timestamp monotonic_ms adc sipm_mv deadtime_ms temperature_c
//	9: 7-token shape + humidity pressure_hpa
//
// The 6-token shape omits the device clock; the host receive time stands in.
// Anything else (comment lines, unknown counts, unparseable numbers) is a
// Rejection, which is a normal value, never an error crossing the pipeline.
package codec

import (
	"strconv"
	"strings"
	"time"

	"github.com/yutar0xff/cosmicwatch-app/internal/domain"
)

// RejectReason classifies why a line did not become an event.
type RejectReason string

const (
	ReasonComment     RejectReason = "comment"
	ReasonTokenCount  RejectReason = "token_count"
	ReasonBadNumber   RejectReason = "bad_number"
	ReasonEmpty       RejectReason = "empty"
	ReasonNotRejected RejectReason = ""
)

// Rejection describes a line the codec refused. Zero value means "accepted".
type Rejection struct {
	Reason RejectReason
	Detail string
}

// Rejected reports whether the line was refused.
func (r Rejection) Rejected() bool { return r.Reason != ReasonNotRejected }

// ShapeReport is a cheap structural check used to annotate invalid lines
// without fully parsing them.
type ShapeReport struct {
	Valid                 bool
	ColumnCount           int
	HasNumericFirstColumn bool
	Reason                RejectReason
}

// Parse turns one raw line into an Event, or explains why it could not.
// receivedAt is the host receive time; it substitutes for the device clock on
// the 6-token shape and is always recorded on the event.
func Parse(line string, receivedAt time.Time) (*domain.Event, Rejection) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return nil, Rejection{Reason: ReasonEmpty}
	}
	if strings.HasPrefix(trimmed, "#") {
		return nil, Rejection{Reason: ReasonComment}
	}

	tokens := strings.Fields(trimmed)
	var (
		ev  = &domain.Event{ReceivedAt: receivedAt}
		err error
		pos int
	)

	switch len(tokens) {
	case 6:
		pos = 1
	case 7, 9:
		ev.SourceTimestamp = tokens[1]
		pos = 2
	default:
		return nil, Rejection{Reason: ReasonTokenCount, Detail: strconv.Itoa(len(tokens)) + " tokens"}
	}

	if ev.SequenceID, err = strconv.ParseInt(tokens[0], 10, 64); err != nil {
		return nil, badNumber("seq", tokens[0])
	}
	if ev.MonotonicTimeMs, err = strconv.ParseInt(tokens[pos], 10, 64); err != nil {
		return nil, badNumber("monotonic_ms", tokens[pos])
	}
	adc, err := strconv.ParseInt(tokens[pos+1], 10, 32)
	if err != nil {
		return nil, badNumber("adc", tokens[pos+1])
	}
	ev.ADC = int(adc)
	if ev.SiPMMilliVolts, err = strconv.ParseFloat(tokens[pos+2], 64); err != nil {
		return nil, badNumber("sipm_mv", tokens[pos+2])
	}
	if ev.DeadtimeMs, err = strconv.ParseInt(tokens[pos+3], 10, 64); err != nil {
		return nil, badNumber("deadtime_ms", tokens[pos+3])
	}
	if ev.TemperatureC, err = strconv.ParseFloat(tokens[pos+4], 64); err != nil {
		return nil, badNumber("temperature_c", tokens[pos+4])
	}

	if len(tokens) == 9 {
		hum, err := strconv.ParseFloat(tokens[7], 64)
		if err != nil {
			return nil, badNumber("humidity", tokens[7])
		}
		press, err := strconv.ParseFloat(tokens[8], 64)
		if err != nil {
			return nil, badNumber("pressure_hpa", tokens[8])
		}
		ev.Humidity = &hum
		ev.PressureHPa = &press
	}

	return ev, Rejection{}
}

func badNumber(field, token string) Rejection {
	return Rejection{Reason: ReasonBadNumber, Detail: field + "=" + token}
}

// ValidateShape inspects a line's structure without building an event.
func ValidateShape(line string) ShapeReport {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" {
		return ShapeReport{Reason: ReasonEmpty}
	}
	if strings.HasPrefix(trimmed, "#") {
		return ShapeReport{Reason: ReasonComment}
	}

	tokens := strings.Fields(trimmed)
	report := ShapeReport{ColumnCount: len(tokens)}
	if _, err := strconv.ParseInt(tokens[0], 10, 64); err == nil {
		report.HasNumericFirstColumn = true
	}

	switch len(tokens) {
	case 6, 7, 9:
	default:
		report.Reason = ReasonTokenCount
		return report
	}

	if _, rej := Parse(trimmed, time.Time{}); rej.Rejected() {
		report.Reason = rej.Reason
		return report
	}
	report.Valid = true
	return report
}

// Format renders an event to the canonical tab-separated on-disk form. Field
// order is fixed; the device timestamp and environment fields are emitted
// only when present, reproducing the shape the device sent.
func Format(ev *domain.Event) string {
	fields := make([]string, 0, 9)
	fields = append(fields, strconv.FormatInt(ev.SequenceID, 10))
	if ev.SourceTimestamp != "" {
		fields = append(fields, ev.SourceTimestamp)
	}
	fields = append(fields,
		strconv.FormatInt(ev.MonotonicTimeMs, 10),
		strconv.Itoa(ev.ADC),
		strconv.FormatFloat(ev.SiPMMilliVolts, 'f', -1, 64),
		strconv.FormatInt(ev.DeadtimeMs, 10),
		strconv.FormatFloat(ev.TemperatureC, 'f', -1, 64),
	)
	if ev.Humidity != nil && ev.PressureHPa != nil {
		fields = append(fields,
			strconv.FormatFloat(*ev.Humidity, 'f', -1, 64),
			strconv.FormatFloat(*ev.PressureHPa, 'f', -1, 64),
		)
	}
	return strings.Join(fields, "\t")
}

// FormatRaw normalizes a line that failed to parse so it can still be kept in
// a capture file: internal whitespace runs collapse to single tabs. Comment
// lines pass through untouched.
func FormatRaw(line string) string {
	trimmed := strings.TrimSpace(line)
	if strings.HasPrefix(trimmed, "#") {
		return line
	}
	return strings.Join(strings.Fields(line), "\t")
}
