// Package timer schedules the timer events of the engine: one-shot delays
// for duration timers, absolute firing for date timers and periodic firing
// for cycle timers on start events.
package timer

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// durationPattern matches ISO-8601 durations such as PT5M, P1DT2H or P2W.
// Fractions are accepted with either a dot or a comma.
var durationPattern = regexp.MustCompile(
	`^P(?:(\d+(?:[.,]\d+)?)Y)?(?:(\d+(?:[.,]\d+)?)M)?(?:(\d+(?:[.,]\d+)?)W)?(?:(\d+(?:[.,]\d+)?)D)?` +
		`(?:T(?:(\d+(?:[.,]\d+)?)H)?(?:(\d+(?:[.,]\d+)?)M)?(?:(\d+(?:[.,]\d+)?)S)?)?$`)

// Calendar components use fixed lengths; timers are delays, not calendar math.
const (
	day   = 24 * time.Hour
	week  = 7 * day
	month = 30 * day
	year  = 365 * day
)

// ParseDuration parses an ISO-8601 duration string into a time.Duration.
func ParseDuration(value string) (time.Duration, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return 0, fmt.Errorf("timer: empty duration")
	}

	match := durationPattern.FindStringSubmatch(trimmed)
	if match == nil {
		return 0, fmt.Errorf("timer: invalid ISO-8601 duration %q", value)
	}

	units := []time.Duration{year, month, week, day, time.Hour, time.Minute, time.Second}
	var total time.Duration
	var anySet bool
	for i, unit := range units {
		component := match[i+1]
		if component == "" {
			continue
		}
		anySet = true
		n, err := strconv.ParseFloat(strings.ReplaceAll(component, ",", "."), 64)
		if err != nil {
			return 0, fmt.Errorf("timer: invalid duration component %q: %w", component, err)
		}
		total += time.Duration(n * float64(unit))
	}

	// "P" and "PT" match the pattern but carry no components.
	if !anySet {
		return 0, fmt.Errorf("timer: invalid ISO-8601 duration %q", value)
	}
	return total, nil
}

// ParseDate parses an ISO-8601 timestamp into a time.Time.
func ParseDate(value string) (time.Time, error) {
	trimmed := strings.TrimSpace(value)
	if trimmed == "" {
		return time.Time{}, fmt.Errorf("timer: empty date")
	}

	t, err := time.Parse(time.RFC3339, trimmed)
	if err != nil {
		return time.Time{}, fmt.Errorf("timer: invalid ISO-8601 date %q: %w", value, err)
	}
	return t, nil
}
