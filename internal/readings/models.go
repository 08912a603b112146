package readings

import (
	"fmt"
	"strings"
	"time"
)

// Source identifies which collector produced a row.
type Source string

const (
	SourceSensibo Source = "Sensibo"
	SourceGovee   Source = "Govee"
	SourceWeather Source = "Weather"
	SourceEnphase Source = "Enphase"
)

// Fixed entity names for sources that report a single series.
const (
	EntityOutside = "Outside"
	EntitySolar   = "Solar"
)

// AllSources lists the sources in display order.
var AllSources = []Source{SourceSensibo, SourceGovee, SourceWeather, SourceEnphase}

// SeriesKey identifies one chart series: a single entity as reported by a single source.
type SeriesKey struct {
	Entity string
	Source Source
}

const keySeparator = "|"

// String returns the canonical "entity|source" form.
func (k SeriesKey) String() string {
	return k.Entity + keySeparator + string(k.Source)
}

// MarshalText lets SeriesKey be used as a JSON object key.
func (k SeriesKey) MarshalText() ([]byte, error) {
	return []byte(k.String()), nil
}

// UnmarshalText parses the "entity|source" form.
func (k *SeriesKey) UnmarshalText(b []byte) error {
	parsed, err := ParseSeriesKey(string(b))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// ParseSeriesKey splits on the last separator; entity names come from a
// controlled vocabulary and never contain it.
func ParseSeriesKey(s string) (SeriesKey, error) {
	i := strings.LastIndex(s, keySeparator)
	if i <= 0 || i == len(s)-1 {
		return SeriesKey{}, fmt.Errorf("invalid series key %q", s)
	}
	return SeriesKey{Entity: s[:i], Source: Source(s[i+1:])}, nil
}

// Reading is the canonical, normalized observation served to the dashboard.
// Every field is always present on the wire; fields a source cannot report are null.
type Reading struct {
	Entity    string    `json:"-"`
	Source    Source    `json:"-"`
	Timestamp time.Time `json:"timestamp"`

	Temperature *float64 `json:"temperature"` // °F
	Humidity    *float64 `json:"humidity"`
	CO2         *float64 `json:"co2"`
	TVOC        *float64 `json:"tvoc"`
	IAQ         *float64 `json:"iaq"`

	Dewpoint       *float64 `json:"dewpoint"`
	WindSpeed      *float64 `json:"wind_speed"`
	WindGust       *float64 `json:"wind_gust"`
	WindDir        *float64 `json:"wind_dir"`
	Pressure       *float64 `json:"pressure"`
	PrecipRate     *float64 `json:"precip_rate"`
	PrecipTotal    *float64 `json:"precip_total"`
	UV             *float64 `json:"uv"`
	SolarRadiation *float64 `json:"solar_radiation"`
	PM25           *float64 `json:"pm25"`
	PM10           *float64 `json:"pm10"`

	ProductionW     *float64 `json:"production_w"`
	ConsumptionW    *float64 `json:"consumption_w"`
	NetConsumptionW *float64 `json:"net_consumption_w"`
	// Daily energy totals keep their historical wire names but are expressed in kWh.
	ProductionWhToday  *float64 `json:"production_wh_today"`
	ConsumptionWhToday *float64 `json:"consumption_wh_today"`
}

// Key returns the series this reading belongs to.
func (r Reading) Key() SeriesKey {
	return SeriesKey{Entity: r.Entity, Source: r.Source}
}

// fields returns addressable pointers to every numeric field, in a fixed order.
func (r *Reading) fields() []**float64 {
	return []**float64{
		&r.Temperature, &r.Humidity, &r.CO2, &r.TVOC, &r.IAQ,
		&r.Dewpoint, &r.WindSpeed, &r.WindGust, &r.WindDir, &r.Pressure,
		&r.PrecipRate, &r.PrecipTotal, &r.UV, &r.SolarRadiation, &r.PM25, &r.PM10,
		&r.ProductionW, &r.ConsumptionW, &r.NetConsumptionW,
		&r.ProductionWhToday, &r.ConsumptionWhToday,
	}
}

// MergedResult maps each known series to its chronological readings.
// A series with no readings in the window maps to an empty, non-nil slice.
type MergedResult map[SeriesKey][]Reading

// Keys returns the series keys sorted by their text form.
func (m MergedResult) Keys() []SeriesKey {
	keys := make([]SeriesKey, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	SortKeys(keys)
	return keys
}
