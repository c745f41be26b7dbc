package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseDuration accepts everything time.ParseDuration does plus a "d" suffix
// for days, e.g. "7d" or "1.5d".
func ParseDuration(s string) (time.Duration, error) {
	s = strings.TrimSpace(s)

	if strings.HasSuffix(s, "d") {
		daysStr := strings.TrimSuffix(s, "d")
		days, err := strconv.ParseFloat(daysStr, 64)
		if err != nil {
			return 0, fmt.Errorf("invalid duration format: %s", s)
		}
		return time.Duration(days * 24 * float64(time.Hour)), nil
	}

	return time.ParseDuration(s)
}

// cutoffFor turns an --older-than value into the time before which blobs are
// considered stale. An empty value means no cutoff.
func cutoffFor(olderThan string, now time.Time) (time.Time, error) {
	if olderThan == "" {
		return time.Time{}, nil
	}

	d, err := ParseDuration(olderThan)
	if err != nil {
		return time.Time{}, err
	}
	if d <= 0 {
		return time.Time{}, fmt.Errorf("--older-than must be positive")
	}
	return now.Add(-d), nil
}
