package readings_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/sensor-dashboard/internal/common"
	"github.com/i474232898/sensor-dashboard/internal/logging"
	"github.com/i474232898/sensor-dashboard/internal/readings"
	"github.com/i474232898/sensor-dashboard/internal/store"
)

var now = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func newStore(t *testing.T, rows ...readings.Row) *store.MemoryStore {
	t.Helper()
	st := store.NewMemoryStore()
	require.NoError(t, st.Append(context.Background(), rows))
	return st
}

func sensibo(ts, room string, c float64) readings.Row {
	return readings.NewSensiboRow(readings.SensiboRow{Timestamp: ts, Room: room, TemperatureC: common.Ptr(c)})
}

func govee(ts, room string, c float64) readings.Row {
	return readings.NewGoveeRow(readings.GoveeRow{Timestamp: ts, MAC: "A4:C1", Room: room, TemperatureC: common.Ptr(c)})
}

func query(t *testing.T, st readings.Store, w readings.TimeWindow, loc *time.Location) readings.MergedResult {
	t.Helper()
	result, err := readings.NewEngine(st.Tables(), logging.Discard()).Query(context.Background(), w, loc)
	require.NoError(t, err)
	return result
}

func TestQueryKeepsKnownSeriesOutsideWindow(t *testing.T) {
	st := newStore(t,
		sensibo("2024-03-01T11:00:00Z", "Den", 20),
		sensibo("2024-02-20T11:00:00Z", "Bedroom", 19),
	)

	result := query(t, st, readings.Since(now, 24*time.Hour), time.UTC)

	den := readings.SeriesKey{Entity: "Den", Source: readings.SourceSensibo}
	bedroom := readings.SeriesKey{Entity: "Bedroom", Source: readings.SourceSensibo}
	require.Len(t, result, 2)
	require.Len(t, result[den], 1)
	assert.Equal(t, 68.0, *result[den][0].Temperature)
	assert.NotNil(t, result[bedroom])
	assert.Empty(t, result[bedroom])
}

func TestQueryKeySetMatchesAllAcrossWindows(t *testing.T) {
	st := newStore(t,
		sensibo("2024-03-01T11:00:00Z", "Den", 20),
		govee("2023-01-01T00:00:00Z", "Attic", 5),
		readings.NewWeatherRow(readings.WeatherRow{Timestamp: "2024-02-01T00:00:00Z", TemperatureF: common.Ptr(50.0)}),
		readings.NewSolarRow(readings.SolarRow{Timestamp: "2024-03-01T11:59:00Z", ProductionW: common.Ptr(10.0)}),
	)

	all := query(t, st, readings.Unbounded(), time.UTC)
	windows := []readings.TimeWindow{
		readings.Since(now, time.Hour),
		readings.Since(now, 7*24*time.Hour),
		readings.Between(now.Add(-time.Minute), now),
		readings.Between(time.Date(2020, 1, 1, 0, 0, 0, 0, time.UTC), time.Date(2020, 1, 2, 0, 0, 0, 0, time.UTC)),
	}
	for _, w := range windows {
		assert.ElementsMatch(t, all.Keys(), query(t, st, w, time.UTC).Keys(), w.String())
	}
	assert.Equal(t, []readings.SeriesKey{
		{Entity: "Attic", Source: readings.SourceGovee},
		{Entity: "Den", Source: readings.SourceSensibo},
		{Entity: readings.EntityOutside, Source: readings.SourceWeather},
		{Entity: readings.EntitySolar, Source: readings.SourceEnphase},
	}, all.Keys())
}

func TestQueryAbsoluteWindowIsHalfOpen(t *testing.T) {
	st := newStore(t,
		sensibo("2024-03-01T10:00:00Z", "Den", 20),
		sensibo("2024-03-01T11:00:00Z", "Den", 21),
	)
	start := time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC)
	end := time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC)

	result := query(t, st, readings.Between(start, end), time.UTC)

	series := result[readings.SeriesKey{Entity: "Den", Source: readings.SourceSensibo}]
	require.Len(t, series, 1)
	assert.True(t, start.Equal(series[0].Timestamp))
}

func TestQuerySeparatesSourcesForSameEntity(t *testing.T) {
	st := newStore(t,
		sensibo("2024-03-01T10:00:00Z", "Den", 20),
		govee("2024-03-01T10:00:00Z", "Den", 21),
	)

	result := query(t, st, readings.Unbounded(), time.UTC)

	assert.Len(t, result, 2)
	assert.Len(t, result[readings.SeriesKey{Entity: "Den", Source: readings.SourceSensibo}], 1)
	assert.Len(t, result[readings.SeriesKey{Entity: "Den", Source: readings.SourceGovee}], 1)
}

func TestQueryOrdersChronologicallyAndConvertsTimezone(t *testing.T) {
	st := newStore(t,
		sensibo("2024-03-01T11:00:00Z", "Den", 21),
		sensibo("2024-03-01T09:00:00", "Den", 19),
		sensibo("2024-03-01T10:00:00.500000Z", "Den", 20),
	)
	la, err := time.LoadLocation("America/Los_Angeles")
	require.NoError(t, err)

	series := query(t, st, readings.Unbounded(), la)[readings.SeriesKey{Entity: "Den", Source: readings.SourceSensibo}]

	require.Len(t, series, 3)
	for i := 1; i < len(series); i++ {
		assert.True(t, series[i-1].Timestamp.Before(series[i].Timestamp))
	}
	assert.Equal(t, "America/Los_Angeles", series[0].Timestamp.Location().String())
	assert.Equal(t, 1, series[0].Timestamp.Hour(), "09:00 UTC is 01:00 PST")
}

func TestQuerySkipsMalformedTimestamps(t *testing.T) {
	st := newStore(t,
		sensibo("not a time", "Den", 30),
		sensibo("2024-03-01T10:00:00Z", "Den", 20),
	)

	result := query(t, st, readings.Unbounded(), time.UTC)

	series := result[readings.SeriesKey{Entity: "Den", Source: readings.SourceSensibo}]
	require.Len(t, series, 1)
	assert.Equal(t, 68.0, *series[0].Temperature)
}

func TestQueryIsIdempotent(t *testing.T) {
	st := newStore(t,
		sensibo("2024-03-01T10:00:00Z", "Den", 20),
		govee("2024-03-01T10:30:00Z", "Attic", 15),
	)
	w := readings.Since(now, 24*time.Hour)

	assert.Equal(t, query(t, st, w, time.UTC), query(t, st, w, time.UTC))
}

type failingTable struct{ source readings.Source }

func (f failingTable) Source() readings.Source { return f.source }

func (f failingTable) Entities(context.Context) ([]string, error) {
	return []string{"Den"}, nil
}

func (f failingTable) Rows(context.Context, readings.TimeWindow) ([]readings.Row, error) {
	return nil, errors.New("disk I/O error")
}

// unorderedTable returns its rows exactly as given.
type unorderedTable struct{ rows []readings.Row }

func (u unorderedTable) Source() readings.Source { return readings.SourceGovee }

func (u unorderedTable) Entities(context.Context) ([]string, error) {
	return []string{"Attic"}, nil
}

func (u unorderedTable) Rows(context.Context, readings.TimeWindow) ([]readings.Row, error) {
	return u.rows, nil
}

func TestQueryOrdersSeriesAcrossTimestampLayouts(t *testing.T) {
	table := unorderedTable{rows: []readings.Row{
		govee("2024-03-01 11:00:00", "Attic", 21),
		govee("2024-03-01T10:30:00", "Attic", 20),
		govee("2024-03-01T10:00:00Z", "Attic", 19),
	}}

	result, err := readings.NewEngine([]readings.SourceTable{table}, nil).
		Query(context.Background(), readings.Since(now.Add(-time.Hour), time.Hour), time.UTC)
	require.NoError(t, err)

	attic := result[readings.SeriesKey{Entity: "Attic", Source: readings.SourceGovee}]
	require.Len(t, attic, 3)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC), attic[0].Timestamp)
	assert.Equal(t, time.Date(2024, 3, 1, 10, 30, 0, 0, time.UTC), attic[1].Timestamp)
	assert.Equal(t, time.Date(2024, 3, 1, 11, 0, 0, 0, time.UTC), attic[2].Timestamp)
}

func TestQueryFailsWholeWhenOneSourceFails(t *testing.T) {
	st := newStore(t, sensibo("2024-03-01T10:00:00Z", "Den", 20))
	tables := append(st.Tables(), failingTable{source: "Nest"})

	result, err := readings.NewEngine(tables, nil).Query(context.Background(), readings.Unbounded(), time.UTC)

	assert.Nil(t, result)
	require.Error(t, err)
	assert.ErrorIs(t, err, readings.ErrSourceUnavailable)

	var unavailable *readings.SourceUnavailableError
	require.ErrorAs(t, err, &unavailable)
	assert.Equal(t, readings.Source("Nest"), unavailable.Source)
}

func TestKnownSeries(t *testing.T) {
	st := newStore(t,
		sensibo("2024-03-01T10:00:00Z", "Den", 20),
		sensibo("2020-03-01T10:00:00Z", "Bedroom", 20),
		readings.NewSolarRow(readings.SolarRow{Timestamp: "2024-03-01T10:00:00Z"}),
	)

	keys, err := readings.NewEngine(st.Tables(), nil).KnownSeries(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []readings.SeriesKey{
		{Entity: "Bedroom", Source: readings.SourceSensibo},
		{Entity: "Den", Source: readings.SourceSensibo},
		{Entity: readings.EntitySolar, Source: readings.SourceEnphase},
	}, keys)
}
