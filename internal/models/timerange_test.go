package models

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseInterval(t *testing.T) {
	tests := []struct {
		token string
		width time.Duration
		valid bool
	}{
		{"1m", time.Minute, true},
		{"5m", 5 * time.Minute, true},
		{"1h", time.Hour, true},
		{"4h", 4 * time.Hour, true},
		{"1d", 24 * time.Hour, true},
		{"1w", 0, false},
		{"2d", 0, false},
		{"", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.token, func(t *testing.T) {
			iv, err := ParseInterval(tt.token)
			if !tt.valid {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.width, iv.Width())
		})
	}
}

func TestIntervalAlign(t *testing.T) {
	t.Run("aligns to hour boundary", func(t *testing.T) {
		iv, _ := ParseInterval("1h")
		off := time.Date(2024, 3, 5, 14, 0, 0, 387*1e6, time.UTC)
		assert.Equal(t, time.Date(2024, 3, 5, 14, 0, 0, 0, time.UTC), iv.Align(off))
	})

	t.Run("aligns slightly-off day boundary", func(t *testing.T) {
		iv, _ := ParseInterval("1d")
		off := time.Date(2024, 3, 5, 0, 0, 0, 999*1e6, time.UTC)
		assert.Equal(t, time.Date(2024, 3, 5, 0, 0, 0, 0, time.UTC), iv.Align(off))
	})

	t.Run("already aligned time is unchanged", func(t *testing.T) {
		iv, _ := ParseInterval("5m")
		aligned := time.Date(2024, 3, 5, 14, 25, 0, 0, time.UTC)
		assert.Equal(t, aligned, iv.Align(aligned))
	})
}

func TestTimeRange(t *testing.T) {
	rng := TimeRange{
		Start:    time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
		End:      time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC),
		Interval: "1h",
	}

	t.Run("contains is half-open", func(t *testing.T) {
		assert.True(t, rng.Contains(rng.Start))
		assert.True(t, rng.Contains(rng.End.Add(-time.Nanosecond)))
		assert.False(t, rng.Contains(rng.End))
		assert.False(t, rng.Contains(rng.Start.Add(-time.Nanosecond)))
	})

	t.Run("slots counts full candle widths", func(t *testing.T) {
		assert.Equal(t, int64(24), rng.Slots())
	})
}
