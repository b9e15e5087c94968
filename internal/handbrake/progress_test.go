package handbrake

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

// TestParseProgress covers the marker formats HandBrakeCLI emits and
// the drift-tolerant skip behavior.
func TestParseProgress(t *testing.T) {
	cases := []struct {
		line    string
		percent float64
		ok      bool
	}{
		{"Encoding: task 1 of 1, 42.51 %", 42.51, true},
		{"Encoding: task 2 of 2, 99.99 % (24.5 fps, avg 25.1 fps, ETA 00h01m02s)", 99.99, true},
		{"Encoding: task 1 of 1, 7 %", 7, true},
		{"Muxing: this may take awhile...", 0, false},
		{"[10:32:01] scan: 10 previews", 0, false},
		{"", 0, false},
		{"garbage 250.0 % overflow", 0, false},
	}

	for _, tc := range cases {
		percent, ok := ParseProgress(tc.line)
		assert.Equal(t, tc.ok, ok, "line %q", tc.line)
		if tc.ok {
			assert.InDelta(t, tc.percent, percent, 0.001, "line %q", tc.line)
		}
	}
}
