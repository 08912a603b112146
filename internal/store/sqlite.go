package store

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	_ "github.com/mattn/go-sqlite3"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/sensor-dashboard/internal/readings"
)

var _ readings.Store = (*SQLiteStore)(nil)

// TimestampLayout is the fixed-width UTC layout new rows are written with.
const TimestampLayout = "2006-01-02T15:04:05.000000Z07:00"

// SQLiteStore persists readings in one append-only table per source.
// The database is opened in WAL mode so dashboard reads never block on a
// collector's write.
type SQLiteStore struct {
	db     *sql.DB
	logger *logrus.Logger
}

// NewSQLiteStore opens (or creates) the database at path and migrates the schema.
func NewSQLiteStore(path string, logger *logrus.Logger) (*SQLiteStore, error) {
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	if path == ":memory:" {
		dsn = path
	}
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		// Every connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	s := &SQLiteStore{db: db, logger: logger}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		device_id TEXT NOT NULL,
		room_name TEXT NOT NULL,
		temperature REAL,
		humidity REAL,
		co2 INTEGER,
		tvoc INTEGER,
		iaq INTEGER
	);
	CREATE INDEX IF NOT EXISTS idx_readings_timestamp ON readings (timestamp);

	CREATE TABLE IF NOT EXISTS govee_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		mac TEXT NOT NULL,
		room_name TEXT NOT NULL,
		temperature REAL,
		humidity REAL
	);
	CREATE INDEX IF NOT EXISTS idx_govee_timestamp ON govee_readings (timestamp);

	CREATE TABLE IF NOT EXISTS weather_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		station_id TEXT NOT NULL,
		temperature REAL,
		humidity REAL,
		dewpoint REAL,
		wind_speed REAL,
		wind_gust REAL,
		wind_dir INTEGER,
		pressure REAL,
		precip_rate REAL,
		precip_total REAL,
		solar_radiation REAL,
		uv REAL,
		aqi INTEGER,
		pm25 REAL,
		pm10 REAL
	);
	CREATE INDEX IF NOT EXISTS idx_weather_timestamp ON weather_readings (timestamp);

	CREATE TABLE IF NOT EXISTS solar_readings (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		timestamp TEXT NOT NULL,
		production_w REAL,
		consumption_w REAL,
		net_consumption_w REAL,
		production_wh_today REAL,
		consumption_wh_today REAL,
		production_wh_lifetime REAL
	);
	CREATE INDEX IF NOT EXISTS idx_solar_timestamp ON solar_readings (timestamp);
	`
	_, err := s.db.Exec(schema)
	return err
}

// canonicalTimestamp rewrites a parseable timestamp in TimestampLayout. An
// unparseable one is kept verbatim; the merge engine skips it on read.
func (s *SQLiteStore) canonicalTimestamp(row readings.Row) string {
	raw := row.RawTimestamp()
	ts, err := readings.ParseStoredTimestamp(raw)
	if err != nil {
		if s.logger != nil {
			s.logger.WithFields(logrus.Fields{
				"source":    row.Source,
				"timestamp": raw,
			}).Warn("store: writing row with unparseable timestamp")
		}
		return raw
	}
	return ts.UTC().Format(TimestampLayout)
}

// Append writes rows in a single transaction.
func (s *SQLiteStore) Append(ctx context.Context, rows []readings.Row) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback()

	for _, row := range rows {
		if err := s.insert(ctx, tx, row); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

func (s *SQLiteStore) insert(ctx context.Context, tx *sql.Tx, row readings.Row) error {
	ts := s.canonicalTimestamp(row)

	var err error
	switch {
	case row.Source == readings.SourceSensibo && row.Sensibo != nil:
		r := row.Sensibo
		_, err = tx.ExecContext(ctx, `INSERT INTO readings
			(timestamp, device_id, room_name, temperature, humidity, co2, tvoc, iaq)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			ts, r.DeviceID, r.Room, r.TemperatureC, r.Humidity, r.CO2, r.TVOC, r.IAQ)
	case row.Source == readings.SourceGovee && row.Govee != nil:
		r := row.Govee
		_, err = tx.ExecContext(ctx, `INSERT INTO govee_readings
			(timestamp, mac, room_name, temperature, humidity)
			VALUES (?, ?, ?, ?, ?)`,
			ts, r.MAC, r.Room, r.TemperatureC, r.Humidity)
	case row.Source == readings.SourceWeather && row.Weather != nil:
		r := row.Weather
		_, err = tx.ExecContext(ctx, `INSERT INTO weather_readings
			(timestamp, station_id, temperature, humidity, dewpoint,
			 wind_speed, wind_gust, wind_dir, pressure,
			 precip_rate, precip_total, solar_radiation, uv,
			 aqi, pm25, pm10)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			ts, r.StationID, r.TemperatureF, r.Humidity, r.Dewpoint,
			r.WindSpeed, r.WindGust, r.WindDir, r.Pressure,
			r.PrecipRate, r.PrecipTotal, r.SolarRadiation, r.UV,
			r.AQI, r.PM25, r.PM10)
	case row.Source == readings.SourceEnphase && row.Solar != nil:
		r := row.Solar
		_, err = tx.ExecContext(ctx, `INSERT INTO solar_readings
			(timestamp, production_w, consumption_w, net_consumption_w,
			 production_wh_today, consumption_wh_today, production_wh_lifetime)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			ts, r.ProductionW, r.ConsumptionW, r.NetConsumptionW,
			r.ProductionWhToday, r.ConsumptionWhToday, r.ProductionWhLifetime)
	default:
		return fmt.Errorf("row for source %q has no payload", row.Source)
	}
	if err != nil {
		return fmt.Errorf("insert %s row: %w", row.Source, err)
	}
	return nil
}

// Tables returns one read view per source table.
func (s *SQLiteStore) Tables() []readings.SourceTable {
	return []readings.SourceTable{
		&sqliteTable{db: s.db, def: sensiboTable},
		&sqliteTable{db: s.db, def: goveeTable},
		&sqliteTable{db: s.db, def: weatherTable},
		&sqliteTable{db: s.db, def: solarTable},
	}
}

type rowScanner interface {
	Scan(dest ...any) error
}

// tableDef describes how one source table is read.
type tableDef struct {
	source   readings.Source
	table    string
	entities string
	columns  string
	scan     func(rowScanner) (readings.Row, error)
}

type sqliteTable struct {
	db  *sql.DB
	def tableDef
}

func (t *sqliteTable) Source() readings.Source { return t.def.source }

func (t *sqliteTable) Entities(ctx context.Context) ([]string, error) {
	rows, err := t.db.QueryContext(ctx, t.def.entities)
	if err != nil {
		return nil, fmt.Errorf("list %s entities: %w", t.def.table, err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var entity string
		if err := rows.Scan(&entity); err != nil {
			return nil, fmt.Errorf("scan %s entity: %w", t.def.table, err)
		}
		out = append(out, entity)
	}
	return out, rows.Err()
}

// Rows returns rows inside w ordered by timestamp.
//
// Older databases hold rows written in other layouts (space separated, no
// zone), so SQL compares julianday() values rather than text. julianday
// rounds to the millisecond, which makes the SQL bounds inclusive on both
// ends; the exact half-open check and the final ordering happen in Go.
func (t *sqliteTable) Rows(ctx context.Context, w readings.TimeWindow) ([]readings.Row, error) {
	var (
		where []string
		args  []any
	)
	if lower := w.Lower(); lower != nil {
		where = append(where, "julianday(timestamp) >= julianday(?)")
		args = append(args, lower.UTC().Format(TimestampLayout))
	}
	if upper := w.Upper(); upper != nil {
		where = append(where, "julianday(timestamp) <= julianday(?)")
		args = append(args, upper.UTC().Format(TimestampLayout))
	}

	query := "SELECT " + t.def.columns + " FROM " + t.def.table
	if len(where) > 0 {
		query += " WHERE " + strings.Join(where, " AND ")
	}
	query += " ORDER BY julianday(timestamp), id"

	rows, err := t.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query %s: %w", t.def.table, err)
	}
	defer rows.Close()

	var out []readings.Row
	for rows.Next() {
		row, err := t.def.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scan %s: %w", t.def.table, err)
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate %s: %w", t.def.table, err)
	}
	return inWindow(out, w), nil
}

func nullable(n sql.NullFloat64) *float64 {
	if !n.Valid {
		return nil
	}
	v := n.Float64
	return &v
}

var sensiboTable = tableDef{
	source:   readings.SourceSensibo,
	table:    "readings",
	entities: "SELECT DISTINCT room_name FROM readings ORDER BY room_name",
	columns:  "timestamp, device_id, room_name, temperature, humidity, co2, tvoc, iaq",
	scan: func(sc rowScanner) (readings.Row, error) {
		var (
			r                         readings.SensiboRow
			temp, hum, co2, tvoc, iaq sql.NullFloat64
		)
		if err := sc.Scan(&r.Timestamp, &r.DeviceID, &r.Room, &temp, &hum, &co2, &tvoc, &iaq); err != nil {
			return readings.Row{}, err
		}
		r.TemperatureC = nullable(temp)
		r.Humidity = nullable(hum)
		r.CO2 = nullable(co2)
		r.TVOC = nullable(tvoc)
		r.IAQ = nullable(iaq)
		return readings.NewSensiboRow(r), nil
	},
}

var goveeTable = tableDef{
	source:   readings.SourceGovee,
	table:    "govee_readings",
	entities: "SELECT DISTINCT room_name FROM govee_readings ORDER BY room_name",
	columns:  "timestamp, mac, room_name, temperature, humidity",
	scan: func(sc rowScanner) (readings.Row, error) {
		var (
			r         readings.GoveeRow
			temp, hum sql.NullFloat64
		)
		if err := sc.Scan(&r.Timestamp, &r.MAC, &r.Room, &temp, &hum); err != nil {
			return readings.Row{}, err
		}
		r.TemperatureC = nullable(temp)
		r.Humidity = nullable(hum)
		return readings.NewGoveeRow(r), nil
	},
}

var weatherTable = tableDef{
	source:   readings.SourceWeather,
	table:    "weather_readings",
	entities: "SELECT DISTINCT '" + readings.EntityOutside + "' FROM weather_readings",
	columns: "timestamp, station_id, temperature, humidity, dewpoint, wind_speed, wind_gust, wind_dir, " +
		"pressure, precip_rate, precip_total, solar_radiation, uv, aqi, pm25, pm10",
	scan: func(sc rowScanner) (readings.Row, error) {
		var (
			r readings.WeatherRow
			n [14]sql.NullFloat64
		)
		dest := []any{&r.Timestamp, &r.StationID}
		for i := range n {
			dest = append(dest, &n[i])
		}
		if err := sc.Scan(dest...); err != nil {
			return readings.Row{}, err
		}
		r.TemperatureF = nullable(n[0])
		r.Humidity = nullable(n[1])
		r.Dewpoint = nullable(n[2])
		r.WindSpeed = nullable(n[3])
		r.WindGust = nullable(n[4])
		r.WindDir = nullable(n[5])
		r.Pressure = nullable(n[6])
		r.PrecipRate = nullable(n[7])
		r.PrecipTotal = nullable(n[8])
		r.SolarRadiation = nullable(n[9])
		r.UV = nullable(n[10])
		r.AQI = nullable(n[11])
		r.PM25 = nullable(n[12])
		r.PM10 = nullable(n[13])
		return readings.NewWeatherRow(r), nil
	},
}

var solarTable = tableDef{
	source:   readings.SourceEnphase,
	table:    "solar_readings",
	entities: "SELECT DISTINCT '" + readings.EntitySolar + "' FROM solar_readings",
	columns: "timestamp, production_w, consumption_w, net_consumption_w, " +
		"production_wh_today, consumption_wh_today, production_wh_lifetime",
	scan: func(sc rowScanner) (readings.Row, error) {
		var (
			r readings.SolarRow
			n [6]sql.NullFloat64
		)
		if err := sc.Scan(&r.Timestamp, &n[0], &n[1], &n[2], &n[3], &n[4], &n[5]); err != nil {
			return readings.Row{}, err
		}
		r.ProductionW = nullable(n[0])
		r.ConsumptionW = nullable(n[1])
		r.NetConsumptionW = nullable(n[2])
		r.ProductionWhToday = nullable(n[3])
		r.ConsumptionWhToday = nullable(n[4])
		r.ProductionWhLifetime = nullable(n[5])
		return readings.NewSolarRow(r), nil
	},
}
