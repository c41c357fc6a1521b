// Package civil wraps cloud.google.com/go/civil dates with the portal's
// conventions: "YYYY-MM-DD" JSON, null for unset dates, and *time.Time for
// nullable DATE columns.
package civil

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	gcivil "cloud.google.com/go/civil"
)

// Date is a day with no time-of-day or zone. The zero Date means "not set".
type Date struct {
	d gcivil.Date
}

// DateOf truncates t to its UTC calendar day.
func DateOf(t time.Time) Date {
	return Date{d: gcivil.DateOf(t.UTC())}
}

// ParseDate parses YYYY-MM-DD.
func ParseDate(s string) (Date, error) {
	d, err := gcivil.ParseDate(strings.TrimSpace(s))
	if err != nil {
		return Date{}, fmt.Errorf("civil: invalid date %q, expected YYYY-MM-DD", s)
	}
	return Date{d: d}, nil
}

func (d Date) IsZero() bool       { return d.d.IsZero() }
func (d Date) String() string     { return d.d.String() }
func (d Date) Before(o Date) bool { return d.d.Before(o.d) }
func (d Date) After(o Date) bool  { return d.d.After(o.d) }
func (d Date) AddDays(n int) Date { return Date{d: d.d.AddDays(n)} }

// Time is UTC midnight of the day, or the zero time for an unset date.
func (d Date) Time() time.Time {
	if d.IsZero() {
		return time.Time{}
	}
	return d.d.In(time.UTC)
}

func (d Date) Weekday() time.Weekday { return d.Time().Weekday() }

// YearsUntil counts whole years from d to other, never negative.
func (d Date) YearsUntil(other Date) int {
	if d.IsZero() || other.Before(d) {
		return 0
	}
	years := other.d.Year - d.d.Year
	if other.d.Month < d.d.Month || (other.d.Month == d.d.Month && other.d.Day < d.d.Day) {
		years--
	}
	return max(years, 0)
}

// Ptr returns the time for nullable columns; zero dates become nil.
func (d *Date) Ptr() *time.Time {
	if d == nil || d.IsZero() {
		return nil
	}
	t := d.Time()
	return &t
}

// FromPtr converts a nullable column value.
func FromPtr(t *time.Time) *Date {
	if t == nil {
		return nil
	}
	d := DateOf(*t)
	return &d
}

func (d Date) MarshalJSON() ([]byte, error) {
	if d.IsZero() {
		return []byte("null"), nil
	}
	return json.Marshal(d.String())
}

func (d *Date) UnmarshalJSON(b []byte) error {
	if string(b) == "null" {
		*d = Date{}
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return fmt.Errorf("civil: date must be a string: %w", err)
	}
	if s == "" {
		*d = Date{}
		return nil
	}
	parsed, err := ParseDate(s)
	if err != nil {
		return err
	}
	*d = parsed
	return nil
}
