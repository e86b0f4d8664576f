package util

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseTime tries RFC3339, RFC3339Nano, and unix seconds. Returns (t, true) if any worked.
func ParseTime(s string) (time.Time, bool) {
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(time.RFC3339Nano, s); err == nil {
		return t, true
	}
	if ts, err := strconv.ParseInt(s, 10, 64); err == nil && ts > 0 {
		return time.Unix(ts, 0), true
	}
	return time.Time{}, false
}

// ParseTimeDefault parses time or returns default if empty/invalid.
func ParseTimeDefault(s string, def time.Time) time.Time {
	if t, ok := ParseTime(s); ok {
		return t
	}
	return def
}

// ReportPeriods are the lookback windows used by effectiveness reports.
var ReportPeriods = []string{"1h", "6h", "12h", "24h", "3d", "7d", "14d", "30d", "3mo", "6mo", "1yr"}

// ParsePeriod converts a report period such as "6h", "14d", "3mo" or "1yr"
// into a duration. Months are 30 days and years 365 days.
func ParsePeriod(p string) (time.Duration, error) {
	p = strings.TrimSpace(strings.ToLower(p))
	units := []struct {
		suffix string
		unit   time.Duration
	}{
		{"yr", 365 * 24 * time.Hour},
		{"mo", 30 * 24 * time.Hour},
		{"d", 24 * time.Hour},
		{"h", time.Hour},
		{"m", time.Minute},
	}
	for _, u := range units {
		if !strings.HasSuffix(p, u.suffix) {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSuffix(p, u.suffix))
		if err != nil || n <= 0 {
			return 0, fmt.Errorf("invalid period %q", p)
		}
		return time.Duration(n) * u.unit, nil
	}
	return 0, fmt.Errorf("invalid period %q", p)
}
