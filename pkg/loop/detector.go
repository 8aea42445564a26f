// Package loop implements the bounded iteration engine: completion
// detection, the iteration budget policy, and the controller that drives a
// producer/executor pair until the work signals completion or the budget
// runs out. The detection and policy functions are pure; the stop hook
// links the same code so both lifetimes terminate identically.
package loop

import (
	"regexp"
	"strings"
)

// DefaultPromise is the completion phrase used when none is configured.
const DefaultPromise = "LOOP_COMPLETE"

// tailWindow bounds completion scanning to the last N lines of output so
// scratch-work earlier in the transcript cannot trigger a false positive.
const tailWindow = 10

var promisePattern = regexp.MustCompile(`<promise>(.*?)</promise>`)

// Detect reports whether text carries the exact completion phrase inside a
// <promise>...</promise> marker within its final lines. Matching is
// case-sensitive; the extracted value is trimmed of surrounding whitespace
// and must equal promise byte-for-byte.
func Detect(text, promise string) bool {
	if text == "" || promise == "" {
		return false
	}

	lines := strings.Split(text, "\n")
	start := len(lines) - tailWindow
	if start < 0 {
		start = 0
	}

	// Scan from the end toward the start; the most recent marker wins.
	for i := len(lines) - 1; i >= start; i-- {
		match := promisePattern.FindStringSubmatch(lines[i])
		if match == nil {
			continue
		}
		candidate := strings.TrimSpace(match[1])
		if candidate == "" {
			continue
		}
		if candidate == promise {
			return true
		}
	}

	return false
}
