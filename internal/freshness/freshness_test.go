package freshness

import (
	"testing"
	"time"

	"wisefido-supervisor/internal/models"

	"github.com/stretchr/testify/assert"
)

func at(h, m int) time.Time {
	return time.Date(2026, 10, 18, h, m, 0, 0, time.Local)
}

func ptr(t time.Time) *time.Time { return &t }

func TestClassify_Absent(t *testing.T) {
	assert.Equal(t, models.StatusOffline, Classify(nil, at(9, 0)))
	assert.Equal(t, models.StatusOffline, Classify(&time.Time{}, at(9, 0)))
}

func TestClassify_Windows(t *testing.T) {
	now := at(12, 0)

	tests := []struct {
		name string
		last time.Time
		want models.Status
	}{
		{"just now", now, models.StatusOnline},
		{"9m59s ago", now.Add(-(10*time.Minute - time.Second)), models.StatusOnline},
		{"exactly 10m ago", now.Add(-10 * time.Minute), models.StatusAway},
		{"3h ago", now.Add(-3 * time.Hour), models.StatusAway},
		{"start of day", at(0, 0), models.StatusAway},
		{"yesterday 23:59", at(0, 0).Add(-time.Minute), models.StatusOffline},
		{"a week ago", now.AddDate(0, 0, -7), models.StatusOffline},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Classify(ptr(tt.last), now))
		})
	}
}

func TestClassify_NotTodayIsOfflineRegardlessOfDelta(t *testing.T) {
	// 23:58 读数，00:01 时只过了 3 分钟，但已经不是同一天
	last := time.Date(2026, 10, 17, 23, 58, 0, 0, time.Local)
	now := time.Date(2026, 10, 18, 0, 1, 0, 0, time.Local)
	assert.Equal(t, models.StatusOffline, Classify(&last, now))
}

func TestClassify_AwayForAllOldTodayTimestamps(t *testing.T) {
	now := at(18, 0)
	for d := 10 * time.Minute; d <= 18*time.Hour; d += 17 * time.Minute {
		last := now.Add(-d)
		assert.Equal(t, models.StatusAway, Classify(&last, now), "delta %s", d)
	}
	for d := time.Duration(0); d < 10*time.Minute; d += 7 * time.Second {
		last := now.Add(-d)
		assert.Equal(t, models.StatusOnline, Classify(&last, now), "delta %s", d)
	}
}

func TestClassify_UsesNowLocation(t *testing.T) {
	loc := time.FixedZone("UTC+8", 8*3600)
	now := time.Date(2026, 10, 18, 7, 0, 0, 0, loc)
	// UTC 17 日 22:55 即本地 18 日 06:55：按 now 的时区算仍是今天
	last := time.Date(2026, 10, 17, 22, 55, 0, 0, time.UTC)
	assert.Equal(t, models.StatusOnline, Classify(&last, now))

	last = time.Date(2026, 10, 17, 15, 55, 0, 0, time.UTC) // 本地 17 日 23:55
	assert.Equal(t, models.StatusOffline, Classify(&last, now))
}

func TestRecentlySeen(t *testing.T) {
	now := at(9, 30)
	assert.True(t, RecentlySeen(ptr(now.Add(-4*time.Minute)), now))
	assert.False(t, RecentlySeen(ptr(now.Add(-5*time.Minute)), now))
	assert.False(t, RecentlySeen(nil, now))

	midnight := at(0, 0)
	assert.False(t, RecentlySeen(ptr(midnight.Add(-time.Minute)), midnight.Add(time.Minute)))
}

func TestScenarioA_OnlineThenAway(t *testing.T) {
	vitalAt := at(9, 0)
	assert.Equal(t, models.StatusOnline, Classify(&vitalAt, at(9, 5)))
	assert.Equal(t, models.StatusAway, Classify(&vitalAt, at(9, 20)))
}

func TestStartOfDay(t *testing.T) {
	assert.Equal(t, at(0, 0), StartOfDay(at(17, 45)))
}
