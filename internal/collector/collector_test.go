package collector

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/kelvins/geocoder"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/i474232898/sensor-dashboard/internal/common"
	"github.com/i474232898/sensor-dashboard/internal/logging"
	"github.com/i474232898/sensor-dashboard/internal/readings"
)

var fastBackoff = BackoffConfig{MaxRetries: 2, InitialInterval: time.Millisecond, MaxInterval: 5 * time.Millisecond}

func TestSensiboCollect(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/users/me/pods", func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "key", r.URL.Query().Get("apiKey"))
		assert.Equal(t, "id,room", r.URL.Query().Get("fields"))
		w.Write([]byte(`{"result":[{"id":"p1","room":{"name":"Office"}},{"id":"p2","room":{"name":"Garage"}}]}`))
	})
	mux.HandleFunc("/pods/p1/measurements", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[{"time":{"time":"2024-03-01T10:00:00.000000Z"},"temperature":21.5,"humidity":40,"co2":600}]}`))
	})
	mux.HandleFunc("/pods/p2/measurements", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":[]}`))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	c := NewSensiboCollector(srv.Client(), "key", logging.Discard())
	c.baseURL = srv.URL

	rows, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	r := rows[0]
	assert.Equal(t, readings.SourceSensibo, r.Source)
	assert.Equal(t, "Office", r.Entity())
	assert.Equal(t, "p1", r.Sensibo.DeviceID)
	assert.Equal(t, "2024-03-01T10:00:00.000000Z", r.RawTimestamp())
	assert.Equal(t, 21.5, *r.Sensibo.TemperatureC)
	assert.Nil(t, r.Sensibo.TVOC)
}

func TestSensiboCollectRequiresKey(t *testing.T) {
	c := NewSensiboCollector(http.DefaultClient, "", nil)
	_, err := c.Collect(context.Background())
	assert.ErrorIs(t, err, errNotConfigured)
}

func TestWeatherCollectWithAirQuality(t *testing.T) {
	wu := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "KCA1", r.URL.Query().Get("stationId"))
		assert.Equal(t, "e", r.URL.Query().Get("units"))
		w.Write([]byte(`{"observations":[{"obsTimeUtc":"2024-03-01T10:00:00Z","stationID":"KCA1","humidity":55,"winddir":270,
			"uv":3,"lat":37.5,"lon":-122.1,"imperial":{"temp":61.2,"dewpt":45,"windSpeed":4,"windGust":9,"pressure":30.01,"precipRate":0,"precipTotal":0.1}}]}`))
	}))
	defer wu.Close()

	var gotLat string
	aqi := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotLat = r.URL.Query().Get("latitude")
		assert.Equal(t, "us_aqi,pm2_5,pm10", r.URL.Query().Get("current"))
		w.Write([]byte(`{"current":{"us_aqi":42,"pm2_5":8.1,"pm10":12.3}}`))
	}))
	defer aqi.Close()

	air := NewOpenMeteoAirQuality(aqi.Client())
	air.baseURL = aqi.URL

	c := NewWeatherCollector(wu.Client(), "KCA1", "secret", logging.Discard()).WithAirQuality(air, nil)
	c.baseURL = wu.URL

	rows, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	row := rows[0].Weather
	require.NotNil(t, row)
	assert.Equal(t, readings.EntityOutside, rows[0].Entity())
	assert.Equal(t, 61.2, *row.TemperatureF)
	assert.Equal(t, 270.0, *row.WindDir)
	assert.Equal(t, 42.0, *row.AQI)
	assert.Equal(t, 8.1, *row.PM25)
	assert.Nil(t, row.SolarRadiation)
	assert.Equal(t, "37.500000", gotLat)
}

func TestWeatherCollectToleratesAirQualityFailure(t *testing.T) {
	wu := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"observations":[{"obsTimeUtc":"2024-03-01T10:00:00Z","stationID":"KCA1","lat":1,"lon":2,"imperial":{"temp":50}}]}`))
	}))
	defer wu.Close()
	aqi := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer aqi.Close()

	air := NewOpenMeteoAirQuality(aqi.Client())
	air.baseURL = aqi.URL
	c := NewWeatherCollector(wu.Client(), "KCA1", "secret", nil).WithAirQuality(air, nil)
	c.baseURL = wu.URL

	rows, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Nil(t, rows[0].Weather.AQI)
	assert.Equal(t, 50.0, *rows[0].Weather.TemperatureF)
}

func TestWeatherCollectGeocodesWhenStationHasNoPosition(t *testing.T) {
	orig := geocode
	defer func() { geocode = orig }()
	var calls int
	geocode = func(apiKey string, addr geocoder.Address) (geocoder.Location, error) {
		calls++
		assert.Equal(t, "Oakland", addr.City)
		return geocoder.Location{Latitude: 37.8, Longitude: -122.27}, nil
	}

	wu := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"observations":[{"obsTimeUtc":"2024-03-01T10:00:00Z","imperial":{"temp":50}}]}`))
	}))
	defer wu.Close()
	aqi := &stubAirQuality{aq: AirQuality{AQI: common.Ptr(17.0)}}

	g := &AddressGeocoder{City: "Oakland", State: "CA", Country: "US", APIKey: "k"}
	c := NewWeatherCollector(wu.Client(), "KCA1", "secret", nil).WithAirQuality(aqi, g)
	c.baseURL = wu.URL

	for i := 0; i < 2; i++ {
		rows, err := c.Collect(context.Background())
		require.NoError(t, err)
		assert.Equal(t, 17.0, *rows[0].Weather.AQI)
		assert.Equal(t, "KCA1", rows[0].Weather.StationID)
	}
	assert.Equal(t, 1, calls, "coordinates are cached")
	assert.Equal(t, Coordinates{Lat: 37.8, Lon: -122.27}, aqi.at)
}

func TestWeatherCollectNoObservation(t *testing.T) {
	wu := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"observations":[]}`))
	}))
	defer wu.Close()

	c := NewWeatherCollector(wu.Client(), "KCA1", "secret", nil)
	c.baseURL = wu.URL
	_, err := c.Collect(context.Background())
	assert.ErrorIs(t, err, errNoObservation)
}

func TestEnphaseCollect(t *testing.T) {
	orig := nowUTC
	defer func() { nowUTC = orig }()
	nowUTC = func() time.Time { return time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC) }

	srv := httptest.NewTLSServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/production.json", r.URL.Path)
		assert.Equal(t, "1", r.URL.Query().Get("details"))
		assert.Equal(t, "Bearer tok", r.Header.Get("Authorization"))
		w.Write([]byte(`{
			"production":[{"measurementType":"inverters","wNow":1},{"measurementType":"production","wNow":3200,"whToday":12000,"whLifetime":9000000}],
			"consumption":[
				{"measurementType":"total-consumption","wNow":1500,"whToday":999,"lines":[{"whToday":4000},{"whToday":3500}]},
				{"measurementType":"net-consumption","wNow":-1700}
			]}`))
	}))
	defer srv.Close()

	c := NewEnphaseCollector("unused", "tok", time.Second)
	c.baseURL = srv.URL

	rows, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)

	solar := rows[0].Solar
	assert.Equal(t, readings.EntitySolar, rows[0].Entity())
	assert.Equal(t, "2024-03-01T12:00:00Z", solar.Timestamp)
	assert.Equal(t, 3200.0, *solar.ProductionW)
	assert.Equal(t, 12000.0, *solar.ProductionWhToday)
	assert.Equal(t, 9000000.0, *solar.ProductionWhLifetime)
	assert.Equal(t, 1500.0, *solar.ConsumptionW)
	assert.Equal(t, 7500.0, *solar.ConsumptionWhToday)
	assert.Equal(t, -1700.0, *solar.NetConsumptionW)
}

func TestConsumptionTodayFallsBackToMeterTotal(t *testing.T) {
	total := 999.0
	assert.Equal(t, &total, consumptionToday(envoyMeter{WhToday: &total}))
}

func TestDecodeH5074(t *testing.T) {
	// 0x0898 = 2200 -> 22.00C, 0x1388 = 5000 -> 50.00%
	temp, hum, ok := DecodeH5074([]byte{0x00, 0x98, 0x08, 0x88, 0x13, 0x64, 0x02})
	require.True(t, ok)
	assert.InDelta(t, 22.0, temp, 1e-9)
	assert.InDelta(t, 50.0, hum, 1e-9)

	// Negative temperatures are two's complement: 0xFF38 = -200 -> -2.00C.
	temp, _, ok = DecodeH5074([]byte{0x00, 0x38, 0xFF, 0x00, 0x00})
	require.True(t, ok)
	assert.InDelta(t, -2.0, temp, 1e-9)

	_, _, ok = DecodeH5074([]byte{0x00, 0x01})
	assert.False(t, ok)
}

type stubScanner struct {
	ads []Advertisement
	err error
}

func (s stubScanner) Scan(context.Context, time.Duration) ([]Advertisement, error) {
	return s.ads, s.err
}

func TestGoveeCollectFiltersWhitelist(t *testing.T) {
	scanner := stubScanner{ads: []Advertisement{
		{Address: "a4:c1:38:00:00:01", ManufacturerData: map[uint16][]byte{GoveeCompanyID: {0, 0x98, 0x08, 0x88, 0x13}}},
		{Address: "A4:C1:38:00:00:01", ManufacturerData: map[uint16][]byte{GoveeCompanyID: {0, 0xD0, 0x07, 0x88, 0x13}}},
		{Address: "A4:C1:38:00:00:02", ManufacturerData: map[uint16][]byte{0x004C: {1, 2, 3, 4, 5}}},
		{Address: "FF:FF:FF:FF:FF:FF", ManufacturerData: map[uint16][]byte{GoveeCompanyID: {0, 0x98, 0x08, 0x88, 0x13}}},
	}}
	c := NewGoveeCollector(scanner, map[string]string{
		"a4:c1:38:00:00:01": "Bedroom",
		"A4:C1:38:00:00:02": "Attic",
	}, time.Second, nil)

	rows, err := c.Collect(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "Bedroom", rows[0].Entity())
	assert.Equal(t, "A4:C1:38:00:00:01", rows[0].Govee.MAC)
	assert.InDelta(t, 20.0, *rows[0].Govee.TemperatureC, 1e-9, "latest advertisement wins")
}

func TestGoveeCollectScanError(t *testing.T) {
	c := NewGoveeCollector(stubScanner{err: errors.New("adapter busy")}, map[string]string{"AA": "Den"}, time.Second, nil)
	_, err := c.Collect(context.Background())
	assert.ErrorContains(t, err, "adapter busy")
}

func TestDoRequestWithResilienceRetriesServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{}`))
	}))
	defer srv.Close()

	cfg := HTTPClientConfig{Client: srv.Client(), Backoff: fastBackoff}
	resp, err := doRequestWithResilience(context.Background(), cfg, newBreaker("test-retry"), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, int32(3), hits.Load())
}

func TestDoRequestWithResilienceDoesNotRetryClientErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	cfg := HTTPClientConfig{Client: srv.Client(), Backoff: fastBackoff}
	_, err := doRequestWithResilience(context.Background(), cfg, newBreaker("test-4xx"), func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, srv.URL, nil)
	})
	assert.ErrorIs(t, err, errUnexpected)
	assert.Equal(t, int32(1), hits.Load())
}

func TestRequestBudgetCoversEveryRetry(t *testing.T) {
	assert.Equal(t, 500*time.Millisecond, retryDelay(defaultBackoff, 0))
	assert.Equal(t, 2*time.Second, retryDelay(defaultBackoff, 2))
	assert.Equal(t, 5*time.Second, retryDelay(defaultBackoff, 6), "capped")

	// Four attempts of 10s plus pauses of 0.5s, 1s and 2s.
	assert.Equal(t, 43500*time.Millisecond, RequestBudget(10*time.Second))
}

func TestDoRequestWithResilienceRequiresClient(t *testing.T) {
	_, err := doRequestWithResilience(context.Background(), HTTPClientConfig{Backoff: fastBackoff}, newBreaker("test-nil"), nil)
	assert.ErrorIs(t, err, errNoHTTPClient)
}

type stubAirQuality struct {
	aq AirQuality
	at Coordinates
}

func (s *stubAirQuality) Fetch(_ context.Context, at Coordinates) (AirQuality, error) {
	s.at = at
	return s.aq, nil
}
