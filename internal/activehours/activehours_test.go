package activehours

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestActive_EmptyWindowAlwaysActive(t *testing.T) {
	w := Window{}
	active, err := w.Active(time.Now())
	require.NoError(t, err)
	assert.True(t, active)
}

func TestActive_SimpleDaytimeWindow(t *testing.T) {
	w := Window{Start: "08:00", End: "22:00", Timezone: "UTC"}

	noon := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	active, err := w.Active(noon)
	require.NoError(t, err)
	assert.True(t, active)

	midnight := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	active, err = w.Active(midnight)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestActive_OvernightWindowWraps(t *testing.T) {
	w := Window{Start: "22:00", End: "06:00", Timezone: "UTC"}

	lateNight := time.Date(2026, 1, 1, 23, 30, 0, 0, time.UTC)
	active, err := w.Active(lateNight)
	require.NoError(t, err)
	assert.True(t, active)

	earlyMorning := time.Date(2026, 1, 1, 3, 0, 0, 0, time.UTC)
	active, err = w.Active(earlyMorning)
	require.NoError(t, err)
	assert.True(t, active)

	midday := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	active, err = w.Active(midday)
	require.NoError(t, err)
	assert.False(t, active)
}

func TestActive_InvalidTimezone(t *testing.T) {
	w := Window{Start: "08:00", End: "22:00", Timezone: "Not/A_Zone"}
	_, err := w.Active(time.Now())
	assert.Error(t, err)
}
