package storage

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ParseWindow parses a stats window: a plain day count ("7"), a day suffix
// ("7d") or a Go duration ("36h"). Empty means DefaultWindow. The result is
// clamped to MaxWindow.
func ParseWindow(input string) (time.Duration, error) {
	input = strings.ToLower(strings.TrimSpace(input))
	if input == "" {
		return DefaultWindow, nil
	}

	var window time.Duration
	if days, ok := strings.CutSuffix(input, "d"); ok || isDigits(input) {
		if !ok {
			days = input
		}
		n, err := strconv.Atoi(days)
		if err != nil {
			return 0, fmt.Errorf("invalid window %q", input)
		}
		window = time.Duration(n) * 24 * time.Hour
	} else {
		d, err := time.ParseDuration(input)
		if err != nil {
			return 0, fmt.Errorf("invalid window %q", input)
		}
		window = d
	}
	if window <= 0 {
		return 0, fmt.Errorf("window must be positive: %q", input)
	}
	return ClampWindow(window), nil
}

func isDigits(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
