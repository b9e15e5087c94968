package handbrake

import (
	"regexp"
	"strconv"
)

// progressPattern matches the "NN %" / "NN.NN %" markers HandBrakeCLI
// prints while encoding. The surrounding text varies across tool
// versions, so only the percentage is anchored.
var progressPattern = regexp.MustCompile(`(\d+(?:\.\d+)?)\s*%`)

// ParseProgress extracts a percent-complete value from one output
// line. Lines without a recognizable marker report ok=false and are
// expected to be skipped by the caller.
func ParseProgress(line string) (percent float64, ok bool) {
	m := progressPattern.FindStringSubmatch(line)
	if m == nil {
		return 0, false
	}

	v, err := strconv.ParseFloat(m[1], 64)
	if err != nil || v < 0 || v > 100 {
		return 0, false
	}
	return v, true
}
