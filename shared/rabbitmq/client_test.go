package rabbitmq

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestPublishBackoff(t *testing.T) {
	tests := []struct {
		name     string
		base     time.Duration
		mult     float64
		attempt  int
		expected time.Duration
	}{
		{
			name:     "first retry uses the base delay",
			base:     100 * time.Millisecond,
			mult:     2.0,
			attempt:  0,
			expected: 100 * time.Millisecond,
		},
		{
			name:     "doubling multiplier",
			base:     100 * time.Millisecond,
			mult:     2.0,
			attempt:  2,
			expected: 400 * time.Millisecond,
		},
		{
			name:     "fractional multiplier",
			base:     200 * time.Millisecond,
			mult:     1.5,
			attempt:  2,
			expected: 450 * time.Millisecond,
		},
		{
			name:     "multiplier of one keeps the delay constant",
			base:     250 * time.Millisecond,
			mult:     1.0,
			attempt:  5,
			expected: 250 * time.Millisecond,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, publishBackoff(tt.base, tt.mult, tt.attempt))
		})
	}
}
