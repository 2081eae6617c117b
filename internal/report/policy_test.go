package report

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRollingWindow(t *testing.T) {
	p := RollingWindow{Window: time.Hour}
	now := time.Date(2024, 5, 1, 10, 40, 0, 0, time.UTC)

	assert.True(t, p.Due(now, Report{}, false))
	assert.False(t, p.Due(now, Report{CreatedAt: now.Add(-59 * time.Minute)}, true))
	assert.True(t, p.Due(now, Report{CreatedAt: now.Add(-time.Hour)}, true))
	assert.Equal(t, "2024-05-01T10:00", p.PeriodKey(now))
}

func TestDailyHour(t *testing.T) {
	kst := time.FixedZone("KST", 9*60*60)
	p := DailyHour{Hour: 17, Location: kst}

	at1730 := time.Date(2024, 5, 1, 17, 30, 0, 0, kst)
	at1630 := time.Date(2024, 5, 1, 16, 30, 0, 0, kst)

	assert.False(t, p.Due(at1630, Report{}, false))
	assert.True(t, p.Due(at1730, Report{}, false))
	assert.True(t, p.Due(at1730, Report{CreatedAt: time.Date(2024, 4, 30, 17, 5, 0, 0, kst)}, true))
	assert.False(t, p.Due(at1730, Report{CreatedAt: time.Date(2024, 5, 1, 17, 5, 0, 0, kst)}, true))
	// UTC input is interpreted in the policy's timezone.
	assert.True(t, p.Due(at1730.UTC(), Report{}, false))
	assert.Equal(t, "2024-05-01", p.PeriodKey(at1730.UTC()))
}

func TestNewPolicy(t *testing.T) {
	p, err := NewPolicy("rolling", time.Hour, 17, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "rolling", p.Name())

	p, err = NewPolicy("daily_hour", 0, 17, time.UTC)
	require.NoError(t, err)
	assert.Equal(t, "daily_hour", p.Name())

	_, err = NewPolicy("daily_hour", 0, 24, time.UTC)
	assert.Error(t, err)
	_, err = NewPolicy("weekly", time.Hour, 0, time.UTC)
	assert.Error(t, err)
}
