package timespec

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func TestParse(t *testing.T) {
	tests := []struct {
		name    string
		spec    string
		want    time.Time
		wantErr string
	}{
		{"duration", "1h30m", now.Add(-90 * time.Minute), ""},
		{"rfc3339", "2026-02-28T08:00:00Z", time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC), ""},
		{"rfc3339 with offset", "2026-02-28T09:00:00+01:00", time.Date(2026, 2, 28, 8, 0, 0, 0, time.UTC), ""},
		{"empty", "", time.Time{}, "empty time specification"},
		{"negative", "-5m", time.Time{}, "cannot be negative"},
		{"garbage", "yesterday", time.Time{}, "invalid time specification: yesterday"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Parse(tt.spec, now)
			if tt.wantErr != "" {
				assert.ErrorContains(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestParseRange(t *testing.T) {
	from, to, err := ParseRange("2h", "1h", now)
	require.NoError(t, err)
	assert.Equal(t, now.Add(-2*time.Hour), from)
	assert.Equal(t, now.Add(-time.Hour), to)

	from, to, err = ParseRange("", "", now)
	require.NoError(t, err)
	assert.True(t, from.IsZero())
	assert.True(t, to.IsZero())

	_, _, err = ParseRange("1h", "2h", now)
	assert.EqualError(t, err, "--since must be before --until")

	_, _, err = ParseRange("soon", "", now)
	assert.ErrorContains(t, err, "invalid --since")

	_, _, err = ParseRange("", "later", now)
	assert.ErrorContains(t, err, "invalid --until")
}
