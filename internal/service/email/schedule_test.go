package email

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseScheduledAt(t *testing.T) {
	tests := []struct {
		name  string
		value string
		tz    string
		want  time.Time
	}{
		{"wall clock in zone", "2024-06-01T10:00:00", "Asia/Kolkata", time.Date(2024, 6, 1, 4, 30, 0, 0, time.UTC)},
		{"wall clock defaults to utc", "2024-06-01T10:00", "", time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)},
		{"explicit offset wins over zone", "2024-06-01T10:00:00+02:00", "Asia/Kolkata", time.Date(2024, 6, 1, 8, 0, 0, 0, time.UTC)},
		{"space separated", "2024-01-15 09:30", "America/New_York", time.Date(2024, 1, 15, 14, 30, 0, 0, time.UTC)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseScheduledAt(tt.value, tt.tz)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
			assert.Equal(t, time.UTC, got.Location())
		})
	}
}

func TestParseScheduledAtErrors(t *testing.T) {
	_, err := ParseScheduledAt("", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseScheduledAt("next tuesday", "")
	assert.ErrorIs(t, err, ErrValidation)

	_, err = ParseScheduledAt("2024-06-01T10:00:00", "Mars/Olympus")
	assert.ErrorIs(t, err, ErrValidation)
}

func TestDelayUntil(t *testing.T) {
	now := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	assert.Equal(t, time.Hour, delayUntil(now.Add(time.Hour), now))
	assert.Equal(t, time.Duration(0), delayUntil(now, now))
	assert.Equal(t, time.Duration(0), delayUntil(now.Add(-time.Minute), now))
}
