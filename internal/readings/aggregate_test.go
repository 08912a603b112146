package readings

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/sensor-dashboard/internal/common"
)

func TestSummarizeLatestForRelativeWindows(t *testing.T) {
	key := SeriesKey{Entity: "Den", Source: SourceSensibo}
	empty := SeriesKey{Entity: "Attic", Source: SourceGovee}
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	result := MergedResult{
		key: {
			{Entity: "Den", Source: SourceSensibo, Timestamp: t0, Temperature: common.Ptr(68.0)},
			{Entity: "Den", Source: SourceSensibo, Timestamp: t0.Add(time.Hour), Temperature: common.Ptr(71.6)},
		},
		empty: {},
	}

	summary := Summarize(result, false)

	require.Len(t, summary, 2)
	require.NotNil(t, summary[key])
	assert.Equal(t, 71.6, *summary[key].Temperature)
	assert.Nil(t, summary[empty])
}

func TestSummarizeAveragesCustomWindows(t *testing.T) {
	key := SeriesKey{Entity: "Den", Source: SourceSensibo}
	t0 := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)

	result := MergedResult{key: {
		{Timestamp: t0, Temperature: CelsiusToFahrenheit(common.Ptr(20.0)), CO2: common.Ptr(600.0)},
		{Timestamp: t0.Add(time.Hour), Temperature: CelsiusToFahrenheit(common.Ptr(22.0))},
	}}

	summary := Summarize(result, true)

	avg := summary[key]
	require.NotNil(t, avg)
	assert.InDelta(t, 69.8, *avg.Temperature, 1e-9)
	assert.Equal(t, 600.0, *avg.CO2, "nulls are ignored, not counted as zero")
	assert.Nil(t, avg.Humidity)
	assert.Equal(t, t0.Add(time.Hour), avg.Timestamp)
}

func TestAverageReadingsSingle(t *testing.T) {
	ts := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	avg := AverageReadings([]Reading{{Entity: "Solar", Source: SourceEnphase, Timestamp: ts, ProductionW: common.Ptr(3200.0)}})

	assert.Equal(t, SeriesKey{Entity: "Solar", Source: SourceEnphase}, avg.Key())
	assert.Equal(t, 3200.0, *avg.ProductionW)
	assert.Nil(t, avg.ConsumptionW)
}
