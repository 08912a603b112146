package readings

import (
	"fmt"
	"sort"
	"time"

	"github.com/i474232898/sensor-dashboard/internal/common"
)

// CelsiusToFahrenheit converts and rounds to one decimal. Nil passes through.
func CelsiusToFahrenheit(c *float64) *float64 {
	if c == nil {
		return nil
	}
	return common.Ptr(common.Round(*c*9/5+32, 1))
}

// WattHoursToKilowattHours converts and rounds to two decimals.
// Zero and nil both yield nil so that "no data" never reads as "no energy".
func WattHoursToKilowattHours(wh *float64) *float64 {
	if wh == nil || *wh == 0 {
		return nil
	}
	return common.Ptr(common.Round(*wh/1000, 2))
}

// Normalize translates one stored row into the canonical Reading shape.
// The timestamp is left for the caller to fill in.
func Normalize(row Row) (Reading, error) {
	out := Reading{Entity: row.Entity(), Source: row.Source}

	switch row.Source {
	case SourceSensibo:
		r := row.Sensibo
		if r == nil {
			return Reading{}, fmt.Errorf("sensibo row has no payload")
		}
		out.Temperature = CelsiusToFahrenheit(r.TemperatureC)
		out.Humidity = r.Humidity
		out.CO2 = r.CO2
		out.TVOC = r.TVOC
		out.IAQ = r.IAQ

	case SourceGovee:
		r := row.Govee
		if r == nil {
			return Reading{}, fmt.Errorf("govee row has no payload")
		}
		out.Temperature = CelsiusToFahrenheit(r.TemperatureC)
		out.Humidity = r.Humidity

	case SourceWeather:
		r := row.Weather
		if r == nil {
			return Reading{}, fmt.Errorf("weather row has no payload")
		}
		// The station reports imperial units already.
		out.Temperature = r.TemperatureF
		out.Humidity = r.Humidity
		out.IAQ = r.AQI
		out.Dewpoint = r.Dewpoint
		out.WindSpeed = r.WindSpeed
		out.WindGust = r.WindGust
		out.WindDir = r.WindDir
		out.Pressure = r.Pressure
		out.PrecipRate = r.PrecipRate
		out.PrecipTotal = r.PrecipTotal
		out.UV = r.UV
		out.SolarRadiation = r.SolarRadiation
		out.PM25 = r.PM25
		out.PM10 = r.PM10

	case SourceEnphase:
		r := row.Solar
		if r == nil {
			return Reading{}, fmt.Errorf("solar row has no payload")
		}
		out.ProductionW = r.ProductionW
		out.ConsumptionW = r.ConsumptionW
		out.NetConsumptionW = r.NetConsumptionW
		out.ProductionWhToday = WattHoursToKilowattHours(r.ProductionWhToday)
		out.ConsumptionWhToday = WattHoursToKilowattHours(r.ConsumptionWhToday)

	default:
		return Reading{}, fmt.Errorf("unknown source %q", row.Source)
	}

	return out, nil
}

// storedTimestampLayouts are tried in order. Collectors write RFC3339 UTC, but
// vendor timestamps and older rows may be naive or space-separated.
var storedTimestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseStoredTimestamp parses a stored timestamp as a UTC instant.
// Naive timestamps are interpreted as UTC.
func ParseStoredTimestamp(s string) (time.Time, error) {
	for _, layout := range storedTimestampLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", s)
}

// SortKeys orders series keys by their text form.
func SortKeys(keys []SeriesKey) {
	sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
}
