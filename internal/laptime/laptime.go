// Package laptime parses and formats lap/gap time strings per §4.5 of the
// timing spec: "[h:]mm:ss[.fff]", with a plain-numeric-seconds fallback.
package laptime

import (
	"fmt"
	"strconv"
	"strings"
)

// ParseMs parses a lap-time string into milliseconds. Any parse failure
// yields zero (§4.5 "any parse failure yields zero").
func ParseMs(s string) int {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0
	}

	if !strings.Contains(s, ":") {
		// Plain-numeric seconds form, e.g. "95.123".
		secs, err := strconv.ParseFloat(s, 64)
		if err != nil || secs < 0 {
			return 0
		}
		return int(secs*1000 + 0.5)
	}

	parts := strings.Split(s, ":")
	var hours, minutes int
	var secStr string
	switch len(parts) {
	case 2:
		minutes = atoiOrNeg1(parts[0])
		secStr = parts[1]
	case 3:
		hours = atoiOrNeg1(parts[0])
		minutes = atoiOrNeg1(parts[1])
		secStr = parts[2]
	default:
		return 0
	}
	if hours < 0 || minutes < 0 {
		return 0
	}

	secs, err := strconv.ParseFloat(secStr, 64)
	if err != nil || secs < 0 {
		return 0
	}

	totalMs := (hours*3600+minutes*60)*1000 + int(secs*1000+0.5)
	if totalMs < 0 {
		return 0
	}
	return totalMs
}

func atoiOrNeg1(s string) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return -1
	}
	return n
}

// FormatMs renders milliseconds as "s.fff" if under 60 seconds, else
// "m:ss.fff" (§4.6 gap/interval formatting rule).
func FormatMs(ms int) string {
	if ms < 0 {
		ms = 0
	}
	whole := ms / 1000
	frac := ms % 1000
	if whole < 60 {
		return fmt.Sprintf("%d.%03d", whole, frac)
	}
	minutes := whole / 60
	seconds := whole % 60
	return fmt.Sprintf("%d:%02d.%03d", minutes, seconds, frac)
}

// Average returns the mean of ms, ignoring entries that parsed to zero
// (§4.5 "Average of a set of lap times ignores entries that parse to
// zero"). Returns 0 if every entry is zero or the slice is empty.
func Average(ms []int) int {
	sum, n := 0, 0
	for _, v := range ms {
		if v == 0 {
			continue
		}
		sum += v
		n++
	}
	if n == 0 {
		return 0
	}
	return sum / n
}
