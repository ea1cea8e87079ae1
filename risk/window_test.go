package risk

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWindowAt(t *testing.T) {
	t.Parallel()

	loc := time.FixedZone("UTC+3", 3*3600)

	tests := []struct {
		name      string
		now       time.Time
		resetHour int
		wantStart time.Time
	}{
		{"after reset", time.Date(2024, 3, 5, 10, 0, 0, 0, loc), 6, time.Date(2024, 3, 5, 6, 0, 0, 0, loc)},
		{"before reset", time.Date(2024, 3, 5, 5, 59, 0, 0, loc), 6, time.Date(2024, 3, 4, 6, 0, 0, 0, loc)},
		{"at reset", time.Date(2024, 3, 5, 6, 0, 0, 0, loc), 6, time.Date(2024, 3, 5, 6, 0, 0, 0, loc)},
		{"midnight reset", time.Date(2024, 3, 1, 0, 30, 0, 0, loc), 0, time.Date(2024, 3, 1, 0, 0, 0, 0, loc)},
		{"month boundary", time.Date(2024, 3, 1, 2, 0, 0, 0, loc), 6, time.Date(2024, 2, 29, 6, 0, 0, 0, loc)},
		{"input in utc", time.Date(2024, 3, 5, 2, 0, 0, 0, time.UTC), 6, time.Date(2024, 3, 4, 6, 0, 0, 0, loc)},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			w := WindowAt(tt.now, tt.resetHour, loc)
			assert.True(t, tt.wantStart.Equal(w.Start), "start %v want %v", w.Start, tt.wantStart)
			assert.True(t, w.Start.AddDate(0, 0, 1).Equal(w.End))
			assert.True(t, w.Contains(tt.now))
			assert.False(t, w.Contains(w.End))
		})
	}
}

func TestWindowAt_DST(t *testing.T) {
	t.Parallel()

	ny, err := time.LoadLocation("America/New_York")
	if err != nil {
		t.Skip("tzdata not available")
	}
	// Clocks go forward on 2024-03-10; the window is 23 hours long.
	w := WindowAt(time.Date(2024, 3, 9, 12, 0, 0, 0, ny), 5, ny)
	require.Equal(t, "2024-03-09", w.Day())
	assert.Equal(t, 23*time.Hour, w.End.Sub(w.Start))
	assert.Equal(t, 5, w.End.In(ny).Hour())
}
