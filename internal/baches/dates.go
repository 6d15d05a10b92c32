package baches

import (
	"strconv"
	"strings"
	"time"
	"unicode"
)

var months = map[string]time.Month{
	"enero":      time.January,
	"febrero":    time.February,
	"marzo":      time.March,
	"abril":      time.April,
	"mayo":       time.May,
	"junio":      time.June,
	"julio":      time.July,
	"agosto":     time.August,
	"septiembre": time.September,
	"octubre":    time.October,
	"noviembre":  time.November,
	"diciembre":  time.December,
}

// ParseSpanishDate parses portal dates such as "Marzo 7, 2023". Punctuation
// is ignored and month names are case-insensitive.
func ParseSpanishDate(s string) (time.Time, bool) {
	clean := strings.Map(func(r rune) rune {
		if unicode.IsLetter(r) || unicode.IsDigit(r) || r == ' ' {
			return r
		}
		return -1
	}, s)
	parts := strings.Fields(clean)
	if len(parts) != 3 {
		return time.Time{}, false
	}
	month, ok := months[strings.ToLower(parts[0])]
	if !ok {
		return time.Time{}, false
	}
	day, err := strconv.Atoi(parts[1])
	if err != nil {
		return time.Time{}, false
	}
	year, err := strconv.Atoi(parts[2])
	if err != nil {
		return time.Time{}, false
	}
	t := time.Date(year, month, day, 0, 0, 0, 0, time.UTC)
	// time.Date normalises overflow; reject dates like "Febrero 30".
	if t.Day() != day || t.Month() != month {
		return time.Time{}, false
	}
	return t, true
}

// ISODate converts a portal date to YYYY-MM-DD, or "" when unparseable.
func ISODate(s string) string {
	t, ok := ParseSpanishDate(s)
	if !ok {
		return ""
	}
	return t.Format(time.DateOnly)
}
