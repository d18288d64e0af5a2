package archive

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"
)

// referenceDate is the epoch used by the numeric timestamps that older
// exporters wrote: seconds since 2001-01-01T00:00:00Z.
var referenceDate = time.Date(2001, 1, 1, 0, 0, 0, 0, time.UTC)

// Numeric timestamps must land in years 1 through 9999.
var (
	minReferenceSeconds = float64(time.Date(1, 1, 1, 0, 0, 0, 0, time.UTC).Unix() - referenceDate.Unix())
	maxReferenceSeconds = float64(time.Date(9999, 12, 31, 23, 59, 59, 0, time.UTC).Unix() - referenceDate.Unix())
)

// DateStrategy turns a raw JSON date value into a time.
type DateStrategy struct {
	Name  string
	parse func(raw json.RawMessage) (time.Time, error)
}

// ISO8601 reads RFC 3339 strings, with or without fractional seconds.
var ISO8601 = DateStrategy{
	Name: "iso8601",
	parse: func(raw json.RawMessage) (time.Time, error) {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return time.Time{}, fmt.Errorf("date is not a string: %s", raw)
		}
		t, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return time.Time{}, err
		}
		return t.UTC(), nil
	},
}

// ReferenceSeconds reads numeric timestamps relative to referenceDate.
var ReferenceSeconds = DateStrategy{
	Name: "reference-seconds",
	parse: func(raw json.RawMessage) (time.Time, error) {
		var f float64
		if err := json.Unmarshal(raw, &f); err != nil {
			return time.Time{}, fmt.Errorf("date is not a number: %s", raw)
		}
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return time.Time{}, fmt.Errorf("date is not finite: %s", raw)
		}
		sec := math.Floor(f)
		if sec < minReferenceSeconds || sec > maxReferenceSeconds {
			return time.Time{}, fmt.Errorf("date out of range: %s", raw)
		}
		nsec := math.Round((f - sec) * 1e9)
		return time.Unix(referenceDate.Unix()+int64(sec), int64(nsec)).UTC(), nil
	},
}

// decodeStrategies is the order documents are attempted in.
var decodeStrategies = []DateStrategy{ISO8601, ReferenceSeconds}

var errMissingDate = errors.New("missing date")

// Date is a UTC instant. Encoding always writes RFC 3339 with nanoseconds.
// Decoding only captures the raw value; a DateStrategy resolves it afterwards,
// which lets a whole document be retried under a different strategy.
type Date struct {
	time.Time
	raw json.RawMessage
}

// NewDate wraps t, normalised to UTC.
func NewDate(t time.Time) Date {
	return Date{Time: t.UTC()}
}

func (d Date) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.Time.UTC().Format(time.RFC3339Nano))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	d.raw = append(d.raw[:0], b...)
	d.Time = time.Time{}
	return nil
}

func (d *Date) resolve(s DateStrategy) error {
	if len(d.raw) == 0 || string(d.raw) == "null" {
		return errMissingDate
	}
	t, err := s.parse(d.raw)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

// decodeWithFallback unmarshals data into a fresh T once per strategy and
// keeps the first one whose dates all resolve.
func decodeWithFallback[T any](data []byte, resolve func(*T, DateStrategy) error) (T, DateStrategy, error) {
	var zero T
	var errs []error
	for _, s := range decodeStrategies {
		var v T
		if err := json.Unmarshal(data, &v); err != nil {
			return zero, DateStrategy{}, err
		}
		if err := resolve(&v, s); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", s.Name, err))
			continue
		}
		return v, s, nil
	}
	return zero, DateStrategy{}, errors.Join(errs...)
}
