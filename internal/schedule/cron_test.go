package schedule

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron(t *testing.T) {
	tests := []struct {
		name    string
		expr    string
		wantErr bool
	}{
		{name: "five fields", expr: "0 0 * * *"},
		{name: "six fields ignored tail", expr: "0 0 * * * 2026"},
		{name: "seven fields ignored tail", expr: "0 0 * * * * 2026"},
		{name: "stride", expr: "*/15 * * * *"},
		{name: "range", expr: "0 9-17 * * 1-5"},
		{name: "list", expr: "0 0,12 * * *"},
		{name: "empty", expr: "", wantErr: true},
		{name: "too few fields", expr: "0 0 * *", wantErr: true},
		{name: "too many fields", expr: "0 0 * * * * * *", wantErr: true},
		{name: "zero stride", expr: "*/0 * * * *", wantErr: true},
		{name: "negative stride", expr: "*/-5 * * * *", wantErr: true},
		{name: "inverted range", expr: "0 17-9 * * *", wantErr: true},
		{name: "garbage value", expr: "x 0 * * *", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCron(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				assert.Nil(t, c)
			} else {
				require.NoError(t, err)
				require.NotNil(t, c)
			}
		})
	}
}

func TestCronExpr_Matches(t *testing.T) {
	at := func(hour, minute int) time.Time {
		// 2026-09-07 is a Monday.
		return time.Date(2026, 9, 7, hour, minute, 0, 0, time.UTC)
	}

	tests := []struct {
		name string
		expr string
		t    time.Time
		want bool
	}{
		{name: "daily midnight matches", expr: "0 0 * * *", t: at(0, 0), want: true},
		{name: "daily midnight rejects minute", expr: "0 0 * * *", t: at(0, 1), want: false},
		{name: "daily midnight rejects hour", expr: "0 0 * * *", t: at(12, 0), want: false},
		{name: "quarter hour at 0", expr: "*/15 * * * *", t: at(8, 0), want: true},
		{name: "quarter hour at 15", expr: "*/15 * * * *", t: at(8, 15), want: true},
		{name: "quarter hour at 45", expr: "*/15 * * * *", t: at(8, 45), want: true},
		{name: "quarter hour rejects 20", expr: "*/15 * * * *", t: at(8, 20), want: false},
		{name: "weekday range matches monday", expr: "0 9 * * 1-5", t: at(9, 0), want: true},
		{name: "weekday literal sunday", expr: "0 9 * * 0", t: time.Date(2026, 9, 6, 9, 0, 0, 0, time.UTC), want: true},
		{name: "weekday literal rejects monday", expr: "0 9 * * 0", t: at(9, 0), want: false},
		{name: "list matches second entry", expr: "0 0,12 * * *", t: at(12, 0), want: true},
		{name: "month literal", expr: "0 0 1 1 *", t: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC), want: true},
		{name: "month literal rejects", expr: "0 0 1 1 *", t: time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC), want: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c, err := ParseCron(tt.expr)
			require.NoError(t, err)
			assert.Equal(t, tt.want, c.Matches(tt.t))
		})
	}
}

func TestCronExpr_Next(t *testing.T) {
	from := time.Date(2026, 9, 7, 10, 30, 45, 0, time.UTC)

	t.Run("next daily midnight", func(t *testing.T) {
		c, err := ParseCron("0 0 * * *")
		require.NoError(t, err)

		next, ok := c.Next(from)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 9, 8, 0, 0, 0, 0, time.UTC), next)
	})

	t.Run("next quarter hour", func(t *testing.T) {
		c, err := ParseCron("*/15 * * * *")
		require.NoError(t, err)

		next, ok := c.Next(from)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 9, 7, 10, 45, 0, 0, time.UTC), next)
	})

	t.Run("strictly after from", func(t *testing.T) {
		c, err := ParseCron("*/15 * * * *")
		require.NoError(t, err)

		onBoundary := time.Date(2026, 9, 7, 10, 45, 0, 0, time.UTC)
		next, ok := c.Next(onBoundary)
		require.True(t, ok)
		assert.Equal(t, time.Date(2026, 9, 7, 11, 0, 0, 0, time.UTC), next)
	})

	t.Run("no match in window falls back an hour ahead", func(t *testing.T) {
		// February 30th never exists.
		c, err := ParseCron("0 0 30 2 *")
		require.NoError(t, err)

		next, ok := c.Next(from)
		assert.False(t, ok)
		assert.Equal(t, from.Add(time.Hour), next)
	})
}
