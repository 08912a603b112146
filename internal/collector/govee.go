package collector

import (
	"context"
	"encoding/binary"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/i474232898/sensor-dashboard/internal/readings"
)

var _ readings.Collector = (*GoveeCollector)(nil)

// GoveeCompanyID is the manufacturer-data key H5074 beacons advertise under.
const GoveeCompanyID uint16 = 0xEC88

// Advertisement is one BLE advertisement seen during a scan.
type Advertisement struct {
	Address          string
	ManufacturerData map[uint16][]byte
}

// Scanner listens for BLE advertisements for a bounded time.
type Scanner interface {
	Scan(ctx context.Context, d time.Duration) ([]Advertisement, error)
}

// GoveeCollector decodes temperature and humidity beacons from whitelisted
// Govee H5074 thermometers.
type GoveeCollector struct {
	name     string
	scanner  Scanner
	devices  map[string]string
	duration time.Duration
	logger   *logrus.Logger
}

// NewGoveeCollector only reports devices present in devices (MAC to room).
func NewGoveeCollector(scanner Scanner, devices map[string]string, duration time.Duration, logger *logrus.Logger) *GoveeCollector {
	whitelist := make(map[string]string, len(devices))
	for mac, room := range devices {
		whitelist[strings.ToUpper(mac)] = room
	}
	return &GoveeCollector{
		name:     "govee",
		scanner:  scanner,
		devices:  whitelist,
		duration: duration,
		logger:   orDiscard(logger),
	}
}

func (c *GoveeCollector) Name() string { return c.name }

func (c *GoveeCollector) Source() readings.Source { return readings.SourceGovee }

func (c *GoveeCollector) Collect(ctx context.Context) ([]readings.Row, error) {
	if c.scanner == nil || len(c.devices) == 0 {
		return nil, fmt.Errorf("govee: %w", errNotConfigured)
	}

	ads, err := c.scanner.Scan(ctx, c.duration)
	if err != nil {
		return nil, fmt.Errorf("govee: scan: %w", err)
	}

	// Later advertisements from the same device overwrite earlier ones.
	type decoded struct{ temp, humidity float64 }
	latest := make(map[string]decoded)
	for _, ad := range ads {
		mac := strings.ToUpper(ad.Address)
		if _, ok := c.devices[mac]; !ok {
			continue
		}
		temp, humidity, ok := DecodeH5074(ad.ManufacturerData[GoveeCompanyID])
		if !ok {
			continue
		}
		latest[mac] = decoded{temp: temp, humidity: humidity}
	}

	if len(latest) == 0 {
		c.logger.Info("govee: no devices found")
		return nil, nil
	}

	macs := make([]string, 0, len(latest))
	for mac := range latest {
		macs = append(macs, mac)
	}
	sort.Strings(macs)

	now := stamp(nowUTC())
	rows := make([]readings.Row, 0, len(macs))
	for _, mac := range macs {
		d := latest[mac]
		rows = append(rows, readings.NewGoveeRow(readings.GoveeRow{
			Timestamp:    now,
			MAC:          mac,
			Room:         c.devices[mac],
			TemperatureC: &d.temp,
			Humidity:     &d.humidity,
		}))
	}
	return rows, nil
}

// DecodeH5074 reads a little-endian int16 temperature at offset 1 and a
// uint16 humidity at offset 3, both in hundredths.
func DecodeH5074(data []byte) (tempC, humidity float64, ok bool) {
	if len(data) < 5 {
		return 0, 0, false
	}
	tempC = float64(int16(binary.LittleEndian.Uint16(data[1:3]))) / 100
	humidity = float64(binary.LittleEndian.Uint16(data[3:5])) / 100
	return tempC, humidity, true
}
