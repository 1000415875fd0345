package commands

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidDate is wrapped by NormalizeDate failures.
var ErrInvalidDate = errors.New("invalid date")

const isoLayout = "2006-01-02"

var dateLayouts = []string{
	isoLayout,
	"2006/01/02",
	"02/01/2006",
	"2/1/2006",
	"02-01-2006",
	"2-1-2006",
	"02.01.2006",
	time.RFC3339,
}

var frenchMonths = map[string]time.Month{
	"janvier":   time.January,
	"janv":      time.January,
	"février":   time.February,
	"fevrier":   time.February,
	"févr":      time.February,
	"fevr":      time.February,
	"mars":      time.March,
	"avril":     time.April,
	"avr":       time.April,
	"mai":       time.May,
	"juin":      time.June,
	"juillet":   time.July,
	"juil":      time.July,
	"août":      time.August,
	"aout":      time.August,
	"septembre": time.September,
	"sept":      time.September,
	"octobre":   time.October,
	"oct":       time.October,
	"novembre":  time.November,
	"nov":       time.November,
	"décembre":  time.December,
	"decembre":  time.December,
	"déc":       time.December,
	"dec":       time.December,
}

// NormalizeDate converts the date spellings users and models produce into
// YYYY-MM-DD: ISO, day-first numeric forms and "1 juillet 2025".
func NormalizeDate(s string) (string, error) {
	t, err := ParseDate(s)
	if err != nil {
		return "", err
	}
	return t.Format(isoLayout), nil
}

// ParseDate is NormalizeDate returning the parsed day at midnight UTC.
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("%w: empty", ErrInvalidDate)
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC), nil
		}
	}
	if t, ok := parseFrenchDate(s); ok {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDate, s)
}

// parseFrenchDate accepts "1 juillet 2025", "1er juillet 2025" and "01 juil. 2025".
func parseFrenchDate(s string) (time.Time, bool) {
	fields := strings.Fields(strings.ToLower(s))
	if len(fields) != 3 {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(strings.TrimSuffix(fields[0], "er"))
	if err != nil {
		return time.Time{}, false
	}
	month, ok := frenchMonths[strings.TrimSuffix(fields[1], ".")]
	if !ok {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(fields[2])
	if err != nil {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}

// MonthBounds returns the first and last day of the month containing t.
func MonthBounds(t time.Time) (time.Time, time.Time) {
	first := time.Date(t.Year(), t.Month(), 1, 0, 0, 0, 0, time.UTC)
	last := first.AddDate(0, 1, -1)
	return first, last
}
