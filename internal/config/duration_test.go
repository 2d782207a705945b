package config

import (
	"testing"
	"time"
)

func TestParseDuration(t *testing.T) {
	t.Parallel()
	cases := []struct {
		in   string
		want time.Duration
		ok   bool
	}{
		{"30s", 30 * time.Second, true},
		{"15m", 15 * time.Minute, true},
		{"24h", 24 * time.Hour, true},
		{"180d", 180 * 24 * time.Hour, true},
		{"0s", 0, true},
		{"  7d ", 7 * 24 * time.Hour, true},
		{"", 0, false},
		{"d", 0, false},
		{"10", 0, false},
		{"10w", 0, false},
		{"-5m", 0, false},
		{"1h30m", 0, false},
		{"1.5h", 0, false},
	}
	for _, tc := range cases {
		got, err := ParseDuration(tc.in)
		if tc.ok && err != nil {
			t.Errorf("ParseDuration(%q) err: %v", tc.in, err)
			continue
		}
		if !tc.ok {
			if err == nil {
				t.Errorf("ParseDuration(%q) aceptado, esperaba error", tc.in)
			}
			continue
		}
		if got != tc.want {
			t.Errorf("ParseDuration(%q) = %v, want %v", tc.in, got, tc.want)
		}
	}
}
