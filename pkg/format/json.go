package format

import (
	"bytes"
	"encoding/json"
	"time"
)

// Date is a calendar date that travels as "YYYY-MM-DD" in JSON. Decoding
// accepts any layout ParseDate understands; null and "" decode to the zero
// date.
type Date struct{ time.Time }

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.Format(ISODateLayout))
}

func (d *Date) UnmarshalJSON(b []byte) error {
	t, err := decodeTime(b)
	if err != nil {
		return err
	}
	if !t.IsZero() {
		y, m, day := t.Date()
		t = time.Date(y, m, day, 0, 0, 0, 0, time.UTC)
	}
	d.Time = t
	return nil
}

// DateTime is a point in time that travels as RFC 3339 and decodes from the
// same lenient layouts as Date, including datetime-local form values.
type DateTime struct{ time.Time }

func (d DateTime) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.UTC().Format(time.RFC3339))
}

func (d *DateTime) UnmarshalJSON(b []byte) error {
	t, err := decodeTime(b)
	if err != nil {
		return err
	}
	d.Time = t
	return nil
}

func decodeTime(b []byte) (time.Time, error) {
	if bytes.Equal(b, []byte("null")) {
		return time.Time{}, nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return time.Time{}, err
	}
	if s == "" {
		return time.Time{}, nil
	}
	return ParseDate(s)
}
