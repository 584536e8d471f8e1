package web

import (
	"fmt"
	"time"
)

// RelativeTime renders t relative to now as a short human string ("5
// minutes ago", "in 2 hours"), used throughout the dashboard so operators
// don't have to parse timestamps.
func RelativeTime(t, now time.Time) string {
	if t.IsZero() {
		d := now.Sub(t)
		return pluralize(int(d.Hours()/(24*365)), "year") + " ago"
	}

	d := now.Sub(t)
	future := d < 0

	if future {
		d = -d
	}

	unit, n := magnitude(d)

	if n == 0 {
		return "just now"
	}

	s := pluralize(n, unit)

	if future {
		return "in " + s
	}

	return s + " ago"
}

func magnitude(d time.Duration) (string, int) {
	switch {
	case d <= 2*time.Second:
		return "second", 0
	case d < time.Minute:
		return "second", int(d.Seconds())
	case d < time.Hour:
		return "minute", int(d.Minutes())
	case d < 24*time.Hour:
		return "hour", int(d.Hours())
	case d < 30*24*time.Hour:
		return "day", int(d.Hours() / 24)
	case d < 365*24*time.Hour:
		return "month", int(d.Hours() / (24 * 30))
	default:
		return "year", int(d.Hours() / (24 * 365))
	}
}

func pluralize(n int, unit string) string {
	if n == 1 {
		return fmt.Sprintf("%d %s", n, unit)
	}

	return fmt.Sprintf("%d %ss", n, unit)
}
