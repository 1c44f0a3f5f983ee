package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

var errBadSpan = errors.New("expected [Nw][Nd][Nh][Nm][Ns] [HH:MM:SS]")

var spanUnits = map[byte]time.Duration{
	'w': 7 * 24 * time.Hour,
	'd': 24 * time.Hour,
	'h': time.Hour,
	'm': time.Minute,
	's': time.Second,
}

// ParseSpan parses a RouterOS timeout such as "7d 00:00:00", "08:00:00"
// or "1w2d". The empty string parses to zero, meaning no timeout.
func ParseSpan(s string) (time.Duration, error) {
	var total time.Duration
	for _, tok := range strings.Fields(s) {
		var d time.Duration
		var err error
		if strings.Contains(tok, ":") {
			d, err = parseClock(tok)
		} else {
			d, err = parseUnits(tok)
		}
		if err != nil {
			return 0, fmt.Errorf("%q: %w", s, err)
		}
		total += d
	}
	return total, nil
}

func parseClock(tok string) (time.Duration, error) {
	parts := strings.Split(tok, ":")
	if len(parts) != 3 {
		return 0, errBadSpan
	}
	var d time.Duration
	for i, unit := range []time.Duration{time.Hour, time.Minute, time.Second} {
		n, err := strconv.Atoi(parts[i])
		if err != nil || n < 0 || (i > 0 && n > 59) {
			return 0, errBadSpan
		}
		d += time.Duration(n) * unit
	}
	return d, nil
}

func parseUnits(tok string) (time.Duration, error) {
	var d time.Duration
	start := 0
	for i := 0; i < len(tok); i++ {
		c := tok[i]
		if c >= '0' && c <= '9' {
			continue
		}
		unit, ok := spanUnits[c]
		if !ok || i == start {
			return 0, errBadSpan
		}
		n, err := strconv.Atoi(tok[start:i])
		if err != nil {
			return 0, errBadSpan
		}
		d += time.Duration(n) * unit
		start = i + 1
	}
	if start != len(tok) {
		return 0, errBadSpan
	}
	return d, nil
}
