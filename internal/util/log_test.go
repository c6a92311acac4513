package util

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestNewLoggerLevels(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := NewLogger(c.in).GetLevel(); got != c.want {
			t.Fatalf("NewLogger(%q) level = %s, want %s", c.in, got, c.want)
		}
	}
}
