// Package format holds small date and text helpers shared by the domain
// packages and the HTTP layer.
package format

import (
	"errors"
	"math"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"
)

const ISODateLayout = "2006-01-02"

var ErrInvalidDate = errors.New("invalid date")

// dateLayouts are tried in order by ParseDate.
var dateLayouts = []string{
	ISODateLayout,
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"01/02/2006",
}

// ParseDate accepts the date shapes browsers and the database produce.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, ErrInvalidDate
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, ErrInvalidDate
}

// DateForSubmission normalizes a user-entered date to YYYY-MM-DD. It returns
// nil for empty or unparseable input.
func DateForSubmission(s string) *string {
	t, err := ParseDate(s)
	if err != nil {
		return nil
	}
	out := t.Format(ISODateLayout)
	return &out
}

// ISODate formats t as YYYY-MM-DD, or fallback when t is nil or zero.
func ISODate(t *time.Time, fallback string) string {
	if t == nil || t.IsZero() {
		return fallback
	}
	return t.Format(ISODateLayout)
}

// StartOfDay and EndOfDay bound t's calendar day in t's location.
func StartOfDay(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, t.Location())
}

func EndOfDay(t time.Time) time.Time {
	return StartOfDay(t).AddDate(0, 0, 1).Add(-time.Nanosecond)
}

// AvatarText returns up to two initials, one per leading word.
func AvatarText(name string) string {
	var b strings.Builder
	for _, word := range strings.Fields(name) {
		r, _ := utf8.DecodeRuneInString(word)
		b.WriteRune(unicode.ToUpper(r))
		if b.Len() > 0 && utf8.RuneCountInString(b.String()) == 2 {
			break
		}
	}
	return b.String()
}

// OrDefault returns fallback when s is blank.
func OrDefault(s, fallback string) string {
	if strings.TrimSpace(s) == "" {
		return fallback
	}
	return s
}

// Round rounds val to the given number of decimal places.
func Round(val float64, precision uint) float64 {
	ratio := math.Pow(10, float64(precision))
	return math.Round(val*ratio) / ratio
}
