package scheduler

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseCron_Errors(t *testing.T) {
	tests := []struct {
		name string
		expr string
		tz   string
	}{
		{"too few fields", "0 2 * *", "UTC"},
		{"out of range", "61 * * * *", "UTC"},
		{"interval descriptor", "@every 1h", "UTC"},
		{"unknown timezone", "0 2 * * *", "Mars/Olympus_Mons"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseCron(tt.expr, tt.tz)
			assert.Error(t, err)
		})
	}
}

func TestCronSpec_Matches(t *testing.T) {
	tests := []struct {
		name string
		expr string
		tz   string
		at   time.Time
		want bool
	}{
		{"exact minute", "0 2 * * *", "UTC", time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC), true},
		{"within the minute", "0 2 * * *", "UTC", time.Date(2024, 1, 15, 2, 0, 45, 0, time.UTC), true},
		{"next minute", "0 2 * * *", "UTC", time.Date(2024, 1, 15, 2, 1, 0, 0, time.UTC), false},
		{"every minute", "* * * * *", "UTC", time.Date(2024, 1, 15, 13, 37, 12, 0, time.UTC), true},
		{"weekday only on sunday", "30 6 * * 1-5", "UTC", time.Date(2024, 1, 14, 6, 30, 0, 0, time.UTC), false},
		{"local timezone", "0 2 * * *", "Europe/Berlin", time.Date(2024, 1, 15, 1, 0, 20, 0, time.UTC), true},
		{"utc hour in local timezone", "0 2 * * *", "Europe/Berlin", time.Date(2024, 1, 15, 2, 0, 0, 0, time.UTC), false},
		{"descriptor", "@daily", "UTC", time.Date(2024, 1, 15, 0, 0, 5, 0, time.UTC), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			spec, err := ParseCron(tt.expr, tt.tz)
			require.NoError(t, err)
			assert.Equal(t, tt.want, spec.Matches(tt.at))
		})
	}
}

func TestCronSpec_Next(t *testing.T) {
	spec, err := ParseCron("0 2 * * *", "Europe/Berlin")
	require.NoError(t, err)

	next := spec.Next(time.Date(2024, 1, 15, 1, 30, 0, 0, time.UTC))
	assert.Equal(t, time.Date(2024, 1, 16, 1, 0, 0, 0, time.UTC), next)
	assert.Equal(t, time.UTC, next.Location())
}

func TestCronSpec_Minute(t *testing.T) {
	spec, err := ParseCron("* * * * *", "Asia/Kolkata")
	require.NoError(t, err)

	at := time.Date(2024, 1, 15, 10, 15, 42, 0, time.UTC)
	assert.Equal(t, time.Date(2024, 1, 15, 10, 15, 0, 0, time.UTC).Unix(), spec.Minute(at).Unix())
}
