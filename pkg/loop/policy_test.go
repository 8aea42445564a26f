package loop

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestShouldContinue(t *testing.T) {
	tests := []struct {
		name      string
		iteration int
		max       int
		want      bool
	}{
		{"below ceiling", 1, 5, true},
		{"one before ceiling", 4, 5, true},
		{"at ceiling", 5, 5, false},
		{"past ceiling", 6, 5, false},
		{"unbounded zero", 100, 0, true},
		{"unbounded negative", 100, -1, true},
		{"zero iteration", 0, 1, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ShouldContinue(tt.iteration, tt.max))
		})
	}
}
