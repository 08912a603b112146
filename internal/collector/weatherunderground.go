package collector

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/i474232898/sensor-dashboard/internal/readings"
)

var _ readings.Collector = (*WeatherCollector)(nil)

var errNoObservation = errors.New("station returned no observation")

// AirQualityProvider supplies the air-quality fields stored next to each
// station observation.
type AirQualityProvider interface {
	Fetch(ctx context.Context, at Coordinates) (AirQuality, error)
}

// WeatherCollector reads the current observation of a Weather Underground
// personal weather station in imperial units and enriches it with AQI.
type WeatherCollector struct {
	name      string
	baseURL   string
	stationID string
	apiKey    string
	httpCfg   HTTPClientConfig
	circuit   *gobreaker.CircuitBreaker
	logger    *logrus.Logger

	airQuality AirQualityProvider
	geocoder   *AddressGeocoder
}

func NewWeatherCollector(client *http.Client, stationID, apiKey string, logger *logrus.Logger) *WeatherCollector {
	return &WeatherCollector{
		name:      "weatherunderground",
		baseURL:   "https://api.weather.com/v2/pws/observations/current",
		stationID: stationID,
		apiKey:    apiKey,
		httpCfg:   HTTPClientConfig{Client: client, Backoff: defaultBackoff},
		circuit:   newBreaker("weatherunderground"),
		logger:    orDiscard(logger),
	}
}

// WithAirQuality attaches an AQI provider and an optional geocoder used when
// the station does not report coordinates.
func (c *WeatherCollector) WithAirQuality(p AirQualityProvider, g *AddressGeocoder) *WeatherCollector {
	c.airQuality = p
	c.geocoder = g
	return c
}

func (c *WeatherCollector) Name() string { return c.name }

func (c *WeatherCollector) Source() readings.Source { return readings.SourceWeather }

type wuObservation struct {
	ObsTimeUtc     string   `json:"obsTimeUtc"`
	StationID      string   `json:"stationID"`
	Humidity       *float64 `json:"humidity"`
	WindDir        *float64 `json:"winddir"`
	SolarRadiation *float64 `json:"solarRadiation"`
	UV             *float64 `json:"uv"`
	Lat            *float64 `json:"lat"`
	Lon            *float64 `json:"lon"`
	Imperial       struct {
		Temp        *float64 `json:"temp"`
		Dewpt       *float64 `json:"dewpt"`
		WindSpeed   *float64 `json:"windSpeed"`
		WindGust    *float64 `json:"windGust"`
		Pressure    *float64 `json:"pressure"`
		PrecipRate  *float64 `json:"precipRate"`
		PrecipTotal *float64 `json:"precipTotal"`
	} `json:"imperial"`
}

func (c *WeatherCollector) Collect(ctx context.Context) ([]readings.Row, error) {
	if c.stationID == "" || c.apiKey == "" {
		return nil, fmt.Errorf("weatherunderground: %w", errNotConfigured)
	}

	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("stationId", c.stationID)
		values.Set("format", "json")
		values.Set("units", "e")
		values.Set("numericPrecision", "decimal")
		values.Set("apiKey", c.apiKey)
		return http.NewRequest(http.MethodGet, fmt.Sprintf("%s?%s", c.baseURL, values.Encode()), nil)
	}

	var payload struct {
		Observations []wuObservation `json:"observations"`
	}
	if err := getJSON(ctx, c.httpCfg, c.circuit, buildRequest, &payload); err != nil {
		return nil, fmt.Errorf("weatherunderground: %w", err)
	}
	if len(payload.Observations) == 0 {
		return nil, fmt.Errorf("weatherunderground: %w", errNoObservation)
	}

	obs := payload.Observations[0]
	aq := c.fetchAirQuality(ctx, obs)

	ts := obs.ObsTimeUtc
	if ts == "" {
		ts = stamp(nowUTC())
	}
	station := obs.StationID
	if station == "" {
		station = c.stationID
	}

	return []readings.Row{readings.NewWeatherRow(readings.WeatherRow{
		Timestamp:      ts,
		StationID:      station,
		TemperatureF:   obs.Imperial.Temp,
		Humidity:       obs.Humidity,
		Dewpoint:       obs.Imperial.Dewpt,
		WindSpeed:      obs.Imperial.WindSpeed,
		WindGust:       obs.Imperial.WindGust,
		WindDir:        obs.WindDir,
		Pressure:       obs.Imperial.Pressure,
		PrecipRate:     obs.Imperial.PrecipRate,
		PrecipTotal:    obs.Imperial.PrecipTotal,
		SolarRadiation: obs.SolarRadiation,
		UV:             obs.UV,
		AQI:            aq.AQI,
		PM25:           aq.PM25,
		PM10:           aq.PM10,
	})}, nil
}

// fetchAirQuality never fails the observation; missing AQI is stored as NULL.
func (c *WeatherCollector) fetchAirQuality(ctx context.Context, obs wuObservation) AirQuality {
	if c.airQuality == nil {
		return AirQuality{}
	}

	var at Coordinates
	switch {
	case obs.Lat != nil && obs.Lon != nil:
		at = Coordinates{Lat: *obs.Lat, Lon: *obs.Lon}
	case c.geocoder.Configured():
		var err error
		if at, err = c.geocoder.Locate(); err != nil {
			c.logger.WithError(err).Warn("weather: cannot locate station for AQI")
			return AirQuality{}
		}
	default:
		c.logger.Debug("weather: station has no coordinates, skipping AQI")
		return AirQuality{}
	}

	aq, err := c.airQuality.Fetch(ctx, at)
	if err != nil {
		c.logger.WithError(err).Warn("weather: AQI fetch failed")
		return AirQuality{}
	}
	return aq
}
