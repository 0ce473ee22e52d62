package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"masar/queue-service/internal/models"
)

func at(t *testing.T, value string) *Clock {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	require.NoError(t, err)
	return &Clock{Location: time.UTC, Now: func() time.Time { return ts }}
}

func TestBusinessDate(t *testing.T) {
	c := at(t, "2026-03-10T09:15:00Z")
	assert.Equal(t, "2026-03-10", c.BusinessDate())
}

func TestWithinWorkHours(t *testing.T) {
	hours := models.WorkHours{
		Enabled:   true,
		StartTime: "07:30",
		EndTime:   "14:30",
		Days:      []int{0, 1, 2, 3, 4},
	}

	// 2026-03-10 is a Tuesday.
	assert.True(t, at(t, "2026-03-10T09:00:00Z").WithinWorkHours(hours))
	assert.False(t, at(t, "2026-03-10T06:00:00Z").WithinWorkHours(hours))
	assert.False(t, at(t, "2026-03-10T15:00:00Z").WithinWorkHours(hours))

	// 2026-03-13 is a Friday, outside the working week.
	assert.False(t, at(t, "2026-03-13T09:00:00Z").WithinWorkHours(hours))
}

func TestWithinWorkHoursDisabled(t *testing.T) {
	assert.True(t, at(t, "2026-03-13T03:00:00Z").WithinWorkHours(models.WorkHours{}))
}

func TestWithinWorkHoursOvernight(t *testing.T) {
	hours := models.WorkHours{Enabled: true, StartTime: "22:00", EndTime: "02:00"}
	assert.True(t, at(t, "2026-03-10T23:30:00Z").WithinWorkHours(hours))
	assert.True(t, at(t, "2026-03-10T01:00:00Z").WithinWorkHours(hours))
	assert.False(t, at(t, "2026-03-10T12:00:00Z").WithinWorkHours(hours))
}

func TestWeekdayOf(t *testing.T) {
	assert.Equal(t, 0, WeekdayOf("2026-03-08")) // Sunday
	assert.Equal(t, 4, WeekdayOf("2026-03-12")) // Thursday
	assert.Equal(t, -1, WeekdayOf("not-a-date"))
}
