package readings

// SensiboRow is one stored row of the HVAC cloud source. Temperature is Celsius.
type SensiboRow struct {
	Timestamp    string
	DeviceID     string
	Room         string
	TemperatureC *float64
	Humidity     *float64
	CO2          *float64
	TVOC         *float64
	IAQ          *float64
}

// GoveeRow is one stored row of the BLE beacon source. Temperature is Celsius.
type GoveeRow struct {
	Timestamp    string
	MAC          string
	Room         string
	TemperatureC *float64
	Humidity     *float64
}

// WeatherRow is one stored row of the personal weather station, in imperial units.
type WeatherRow struct {
	Timestamp      string
	StationID      string
	TemperatureF   *float64
	Humidity       *float64
	Dewpoint       *float64
	WindSpeed      *float64
	WindGust       *float64
	WindDir        *float64
	Pressure       *float64
	PrecipRate     *float64
	PrecipTotal    *float64
	SolarRadiation *float64
	UV             *float64
	AQI            *float64
	PM25           *float64
	PM10           *float64
}

// SolarRow is one stored row of the solar gateway. Power is W, energy is Wh.
type SolarRow struct {
	Timestamp            string
	ProductionW          *float64
	ConsumptionW         *float64
	NetConsumptionW      *float64
	ProductionWhToday    *float64
	ConsumptionWhToday   *float64
	ProductionWhLifetime *float64
}

// Row is a tagged union over the per-source stored shapes. Exactly one of the
// pointers matching Source is set.
type Row struct {
	Source  Source
	Sensibo *SensiboRow
	Govee   *GoveeRow
	Weather *WeatherRow
	Solar   *SolarRow
}

// Entity returns the entity the row reports for, or "" for a malformed row.
func (r Row) Entity() string {
	switch {
	case r.Source == SourceSensibo && r.Sensibo != nil:
		return r.Sensibo.Room
	case r.Source == SourceGovee && r.Govee != nil:
		return r.Govee.Room
	case r.Source == SourceWeather && r.Weather != nil:
		return EntityOutside
	case r.Source == SourceEnphase && r.Solar != nil:
		return EntitySolar
	default:
		return ""
	}
}

// RawTimestamp returns the stored timestamp text.
func (r Row) RawTimestamp() string {
	switch {
	case r.Sensibo != nil:
		return r.Sensibo.Timestamp
	case r.Govee != nil:
		return r.Govee.Timestamp
	case r.Weather != nil:
		return r.Weather.Timestamp
	case r.Solar != nil:
		return r.Solar.Timestamp
	default:
		return ""
	}
}

// Key returns the series key for the row.
func (r Row) Key() SeriesKey {
	return SeriesKey{Entity: r.Entity(), Source: r.Source}
}

// NewSensiboRow and friends build correctly tagged rows.
func NewSensiboRow(r SensiboRow) Row { return Row{Source: SourceSensibo, Sensibo: &r} }

func NewGoveeRow(r GoveeRow) Row { return Row{Source: SourceGovee, Govee: &r} }

func NewWeatherRow(r WeatherRow) Row { return Row{Source: SourceWeather, Weather: &r} }

func NewSolarRow(r SolarRow) Row { return Row{Source: SourceEnphase, Solar: &r} }
