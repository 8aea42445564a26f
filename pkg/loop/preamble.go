package loop

import "fmt"

// RenderPreamble produces the system preamble handed to the producer on
// every step. The stop hook embeds the same counters in its block reason so
// the producer sees consistent progress regardless of which lifetime drives
// the loop.
func RenderPreamble(iteration, max int, promise string) string {
	var budget string
	if max > 0 {
		budget = fmt.Sprintf("iteration %d of %d", iteration, max)
	} else {
		budget = fmt.Sprintf("iteration %d (no iteration limit)", iteration)
	}

	return fmt.Sprintf(`You are running inside an automated work loop (%s).
Work on the task below. When, and only when, the task is fully complete,
output a line containing exactly:
<promise>%s</promise>
If the task is not complete, do not output that marker.`, budget, promise)
}
