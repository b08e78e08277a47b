package storage

import (
	"testing"
	"time"
)

func TestParseWindow(t *testing.T) {
	day := 24 * time.Hour
	cases := map[string]time.Duration{
		"":     DefaultWindow,
		"7":    7 * day,
		"7d":   7 * day,
		" 3D ": 3 * day,
		"36h":  36 * time.Hour,
		"90d":  MaxWindow,
	}
	for input, want := range cases {
		got, err := ParseWindow(input)
		if err != nil {
			t.Fatalf("parse %q: %v", input, err)
		}
		if got != want {
			t.Fatalf("parse %q: got %s want %s", input, got, want)
		}
	}
	for _, bad := range []string{"0", "-1d", "week", "d", "-5h"} {
		if _, err := ParseWindow(bad); err == nil {
			t.Fatalf("expected error for %q", bad)
		}
	}
}
