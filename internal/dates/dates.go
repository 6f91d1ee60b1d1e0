// Package dates provides calendar date keys and week identifiers for the
// day-bucketed task dataset.
//
// Date keys use the format "YYYY-M-D" with no zero padding. This matches the
// format used by existing stored datasets, so it is preserved verbatim even
// though it does not sort lexicographically. ParseDateKey accepts both padded
// and unpadded forms.
//
// A week identifier is the date key of the Monday on or before a given date.
// Two recurring tasks belong to the same logical week only if their week
// identifiers match.
package dates

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// DateKey formats a date as a day-bucket key, e.g. "2024-3-4".
func DateKey(t time.Time) string {
	return fmt.Sprintf("%d-%d-%d", t.Year(), int(t.Month()), t.Day())
}

// ParseDateKey parses a day-bucket key into a date at midnight UTC.
// Both "2024-3-4" and "2024-03-04" are accepted.
func ParseDateKey(key string) (time.Time, error) {
	parts := strings.Split(key, "-")
	if len(parts) != 3 {
		return time.Time{}, fmt.Errorf("invalid date key %q: want YYYY-M-D", key)
	}

	nums := make([]int, 3)
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid date key %q: %w", key, err)
		}
		nums[i] = n
	}

	year, month, day := nums[0], nums[1], nums[2]
	if month < 1 || month > 12 {
		return time.Time{}, fmt.Errorf("invalid date key %q: month out of range", key)
	}

	t := time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)
	// time.Date normalizes overflow (e.g. Feb 30 -> Mar 2); reject keys
	// that don't round-trip.
	if t.Day() != day || int(t.Month()) != month {
		return time.Time{}, fmt.Errorf("invalid date key %q: no such day", key)
	}

	return t, nil
}

// IsDateKey reports whether key parses as a valid day-bucket key.
func IsDateKey(key string) bool {
	_, err := ParseDateKey(key)
	return err == nil
}

// StartOfWeek returns the Monday on or before t, at midnight UTC.
func StartOfWeek(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	// time.Weekday numbers Sunday as 0; shift so Monday is 0.
	offset := (int(day.Weekday()) + 6) % 7
	return day.AddDate(0, 0, -offset)
}

// WeekIdentifier returns the week identifier for a date: the date key of
// the Monday on or before it.
func WeekIdentifier(t time.Time) string {
	return DateKey(StartOfWeek(t))
}

// WeekIdentifierForKey computes the week identifier implied by a day-bucket
// key. Returns an error if the key is malformed.
func WeekIdentifierForKey(key string) (string, error) {
	t, err := ParseDateKey(key)
	if err != nil {
		return "", err
	}
	return WeekIdentifier(t), nil
}

// WeekKeys returns the seven day-bucket keys for the week containing t,
// Monday through Sunday.
func WeekKeys(t time.Time) []string {
	start := StartOfWeek(t)
	keys := make([]string, 7)
	for i := 0; i < 7; i++ {
		keys[i] = DateKey(start.AddDate(0, 0, i))
	}
	return keys
}

// DisplayWeekStart returns the Sunday on or before t, at midnight UTC.
// The calendar UI renders Sunday-first weeks; week identity stays
// Monday-based regardless.
func DisplayWeekStart(t time.Time) time.Time {
	day := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
	return day.AddDate(0, 0, -int(day.Weekday()))
}

// SameDay reports whether two times fall on the same calendar day.
func SameDay(a, b time.Time) bool {
	ay, am, ad := a.Date()
	by, bm, bd := b.Date()
	return ay == by && am == bm && ad == bd
}
