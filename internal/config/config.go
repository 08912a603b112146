package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
)

const DefaultDisplayTimezone = "America/Los_Angeles"

type AppConfig struct {
	Port   string `validate:"required,numeric"`
	DBPath string `validate:"required"`

	// DisplayTimezone is the IANA zone every served timestamp is converted to.
	DisplayTimezone string `validate:"required"`
	Location        *time.Location

	// StrictRange rejects unknown range tokens and malformed bounds instead of
	// falling back to "all".
	StrictRange bool

	HTTPTimeout time.Duration `validate:"gt=0"`
	LogLevel    string
	LogFormat   string `validate:"oneof=text json"`

	Sensibo SensiboConfig
	Govee   GoveeConfig
	Weather WeatherConfig
	Enphase EnphaseConfig
	MQTT    MQTTConfig
	Backoff BackoffConfig
}

type SensiboConfig struct {
	APIKey   string
	Interval time.Duration `validate:"gt=0"`
}

// Enabled reports whether the collector has what it needs to run.
func (c SensiboConfig) Enabled() bool { return c.APIKey != "" }

type GoveeConfig struct {
	// Devices maps upper-case MAC address to room name.
	Devices      map[string]string
	Interval     time.Duration `validate:"gt=0"`
	ScanDuration time.Duration `validate:"gt=0"`
}

func (c GoveeConfig) Enabled() bool { return len(c.Devices) > 0 }

type WeatherConfig struct {
	StationID string
	APIKey    string
	Interval  time.Duration `validate:"gt=0"`

	// Optional address used to geocode air-quality lookups when the station
	// does not report its coordinates.
	AQICity        string
	AQIState       string
	AQICountry     string
	GeocoderAPIKey string
}

func (c WeatherConfig) Enabled() bool { return c.StationID != "" && c.APIKey != "" }

type EnphaseConfig struct {
	Host     string
	Token    string
	Interval time.Duration `validate:"gt=0"`
}

func (c EnphaseConfig) Enabled() bool { return c.Host != "" && c.Token != "" }

type MQTTConfig struct {
	URL         string `validate:"omitempty,url"`
	TopicPrefix string `validate:"required"`
}

func (c MQTTConfig) Enabled() bool { return c.URL != "" }

// BackoffConfig controls how long a failing collector is paused.
type BackoffConfig struct {
	Base time.Duration `validate:"gt=0"`
	Max  time.Duration `validate:"gtefield=Base"`
}

var validate = validator.New()

// Load reads configuration from environment (and an optional .env file) with sensible defaults.
func Load() (*AppConfig, error) {
	// A missing .env file is normal in production.
	_ = godotenv.Load()

	cfg := &AppConfig{
		Port:            getenvDefault("PORT", "8080"),
		DBPath:          getenvDefault("DB_PATH", "sensors.db"),
		DisplayTimezone: getenvDefault("DISPLAY_TIMEZONE", DefaultDisplayTimezone),
		StrictRange:     getenvBool("STRICT_RANGE", false),
		LogLevel:        getenvDefault("LOG_LEVEL", "info"),
		LogFormat:       getenvDefault("LOG_FORMAT", "text"),
	}

	var err error
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", "10s"); err != nil {
		return nil, err
	}

	loc, err := time.LoadLocation(cfg.DisplayTimezone)
	if err != nil {
		return nil, fmt.Errorf("invalid DISPLAY_TIMEZONE: %w", err)
	}
	cfg.Location = loc

	cfg.Sensibo.APIKey = os.Getenv("SENSIBO_API_KEY")
	if cfg.Sensibo.Interval, err = getenvDuration("SENSIBO_INTERVAL", "5m"); err != nil {
		return nil, err
	}

	if cfg.Govee.Devices, err = parseDevices(os.Getenv("GOVEE_DEVICES")); err != nil {
		return nil, fmt.Errorf("invalid GOVEE_DEVICES: %w", err)
	}
	if cfg.Govee.Interval, err = getenvDuration("GOVEE_INTERVAL", "5m"); err != nil {
		return nil, err
	}
	if cfg.Govee.ScanDuration, err = getenvDuration("GOVEE_SCAN_DURATION", "10s"); err != nil {
		return nil, err
	}

	cfg.Weather = WeatherConfig{
		StationID:      os.Getenv("WU_STATION_ID"),
		APIKey:         os.Getenv("WU_API_KEY"),
		AQICity:        os.Getenv("AQI_CITY"),
		AQIState:       os.Getenv("AQI_STATE"),
		AQICountry:     os.Getenv("AQI_COUNTRY"),
		GeocoderAPIKey: os.Getenv("GEOCODER_API_KEY"),
	}
	if cfg.Weather.Interval, err = getenvDuration("WU_INTERVAL", "5m"); err != nil {
		return nil, err
	}

	cfg.Enphase.Host = os.Getenv("ENPHASE_HOST")
	cfg.Enphase.Token = os.Getenv("ENPHASE_TOKEN")
	if cfg.Enphase.Interval, err = getenvDuration("ENPHASE_INTERVAL", "1m"); err != nil {
		return nil, err
	}

	cfg.MQTT = MQTTConfig{
		URL:         os.Getenv("MQTT_URL"),
		TopicPrefix: getenvDefault("MQTT_TOPIC_PREFIX", "sensors"),
	}

	if cfg.Backoff.Base, err = getenvDuration("BACKOFF_BASE", "30s"); err != nil {
		return nil, err
	}
	if cfg.Backoff.Max, err = getenvDuration("BACKOFF_MAX", "30m"); err != nil {
		return nil, err
	}

	if err := validate.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// parseDevices reads "MAC=Room,MAC=Room". MACs are upper-cased.
func parseDevices(s string) (map[string]string, error) {
	devices := make(map[string]string)
	if strings.TrimSpace(s) == "" {
		return devices, nil
	}
	for _, pair := range strings.Split(s, ",") {
		mac, room, ok := strings.Cut(pair, "=")
		mac = strings.ToUpper(strings.TrimSpace(mac))
		room = strings.TrimSpace(room)
		if !ok || mac == "" || room == "" {
			return nil, fmt.Errorf("expected MAC=Room, got %q", pair)
		}
		devices[mac] = room
	}
	return devices, nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvBool(key string, def bool) bool {
	if v := os.Getenv(key); v != "" {
		b, err := strconv.ParseBool(v)
		if err == nil {
			return b
		}
	}
	return def
}

func getenvDuration(key, def string) (time.Duration, error) {
	d, err := time.ParseDuration(getenvDefault(key, def))
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
