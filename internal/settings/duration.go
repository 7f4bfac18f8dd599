package settings

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// isoDurationPattern matches the designator form of an ISO-8601
// duration (PnYnMnWnDTnHnMnS). Fractions are accepted on any component.
var isoDurationPattern = regexp.MustCompile(
	`^P(?:(\d+(?:\.\d+)?)Y)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)W)?(?:(\d+(?:\.\d+)?)D)?` +
		`(?:T(?:(\d+(?:\.\d+)?)H)?(?:(\d+(?:\.\d+)?)M)?(?:(\d+(?:\.\d+)?)S)?)?$`)

// ParseISODuration parses an ISO-8601 duration string into a
// time.Duration. Calendar components use fixed approximations
// (year = 365 days, month = 30 days), which is adequate for the
// inactivity windows this store holds.
func ParseISODuration(s string) (time.Duration, error) {
	s = strings.ToUpper(strings.TrimSpace(s))
	if s == "" || s == "P" || s == "PT" {
		return 0, fmt.Errorf("empty duration")
	}
	m := isoDurationPattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("malformed ISO-8601 duration %q", s)
	}

	units := []time.Duration{
		365 * 24 * time.Hour, // years
		30 * 24 * time.Hour,  // months
		7 * 24 * time.Hour,   // weeks
		24 * time.Hour,       // days
		time.Hour,
		time.Minute,
		time.Second,
	}

	var total time.Duration
	seen := false
	for i, unit := range units {
		field := m[i+1]
		if field == "" {
			continue
		}
		seen = true
		v, err := strconv.ParseFloat(field, 64)
		if err != nil {
			return 0, fmt.Errorf("malformed ISO-8601 duration %q", s)
		}
		total += time.Duration(v * float64(unit))
	}
	if !seen {
		return 0, fmt.Errorf("malformed ISO-8601 duration %q", s)
	}
	return total, nil
}

// FormatISODuration renders a duration in designator form, rounded to
// whole seconds.
func FormatISODuration(d time.Duration) string {
	if d <= 0 {
		return "PT0S"
	}
	d = d.Round(time.Second)

	var b strings.Builder
	b.WriteByte('P')
	if days := d / (24 * time.Hour); days > 0 {
		fmt.Fprintf(&b, "%dD", days)
		d -= days * 24 * time.Hour
	}
	if d > 0 {
		b.WriteByte('T')
		if h := d / time.Hour; h > 0 {
			fmt.Fprintf(&b, "%dH", h)
			d -= h * time.Hour
		}
		if m := d / time.Minute; m > 0 {
			fmt.Fprintf(&b, "%dM", m)
			d -= m * time.Minute
		}
		if s := d / time.Second; s > 0 {
			fmt.Fprintf(&b, "%dS", s)
		}
	}
	out := b.String()
	if out == "P" {
		return "PT0S"
	}
	return out
}
