package models

import "regexp"

// clockRe matches 24-hour wall-clock input with one or two digits per
// field. Stored values are always normalized to two digits.
var clockRe = regexp.MustCompile(`^([01]?\d|2[0-3]):([0-5]?\d)$`)

// storedClockRe is the strict grammar every stored AM/PM time satisfies.
var storedClockRe = regexp.MustCompile(`^([01]\d|2[0-3]):([0-5]\d)$`)

// NormalizeClock validates a user-entered time of day and normalizes it
// to strict "HH:MM" form ("0:0" becomes "00:00"). The second return value
// is false for anything outside the 24-hour grammar.
func NormalizeClock(s string) (string, bool) {
	m := clockRe.FindStringSubmatch(s)
	if m == nil {
		return "", false
	}
	hh, mm := m[1], m[2]
	if len(hh) == 1 {
		hh = "0" + hh
	}
	if len(mm) == 1 {
		mm = "0" + mm
	}
	return hh + ":" + mm, true
}

// ValidClock reports whether s is already in strict stored "HH:MM" form.
func ValidClock(s string) bool {
	return storedClockRe.MatchString(s)
}
