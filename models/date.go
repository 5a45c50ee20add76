package models

import (
	"fmt"
	"time"
)

// DateLayout is the ISO calendar-date form used on the wire and in requests.
const DateLayout = "2006-01-02"

// Date is a validated calendar date in ISO form (YYYY-MM-DD).
// Because the form is fixed-width, chronological order equals string order.
type Date string

// ParseDate validates s as an ISO calendar date.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(DateLayout, s)
	if err != nil {
		return "", NewCrawlError(ErrCodeDateFormat, fmt.Sprintf("invalid date %q, expected YYYY-MM-DD", s), err)
	}
	return Date(t.Format(DateLayout)), nil
}

// Time returns the date as midnight UTC. The zero Date yields the zero time.
func (d Date) Time() time.Time {
	t, err := time.Parse(DateLayout, string(d))
	if err != nil {
		return time.Time{}
	}
	return t
}

// Format renders the date with a time layout, e.g. "02.01.2006".
func (d Date) Format(layout string) string {
	if d == "" {
		return ""
	}
	return d.Time().Format(layout)
}

func (d Date) Before(o Date) bool { return d < o }
func (d Date) After(o Date) bool  { return d > o }

// Within reports whether d lies in the inclusive window [start, end].
func (d Date) Within(start, end Date) bool {
	return d >= start && d <= end
}

func (d Date) String() string { return string(d) }
