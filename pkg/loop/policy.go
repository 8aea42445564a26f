package loop

// DefaultMaxIterations is the interactive controller's iteration ceiling
// when none is configured.
const DefaultMaxIterations = 10

// ShouldContinue reports whether another iteration may run. A max of zero
// (or below) means the loop is unbounded and only completion detection or
// an external stop ends it.
func ShouldContinue(iteration, max int) bool {
	if max <= 0 {
		return true
	}
	return iteration < max
}
