package collector

import (
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/sirupsen/logrus"
	"github.com/sony/gobreaker"

	"github.com/i474232898/sensor-dashboard/internal/readings"
)

var _ readings.Collector = (*SensiboCollector)(nil)

// SensiboCollector polls the Sensibo cloud for the latest measurement of every
// pod on the account.
type SensiboCollector struct {
	name    string
	baseURL string
	apiKey  string
	httpCfg HTTPClientConfig
	circuit *gobreaker.CircuitBreaker
	logger  *logrus.Logger
}

func NewSensiboCollector(client *http.Client, apiKey string, logger *logrus.Logger) *SensiboCollector {
	return &SensiboCollector{
		name:    "sensibo",
		baseURL: "https://home.sensibo.com/api/v2",
		apiKey:  apiKey,
		httpCfg: HTTPClientConfig{Client: client, Backoff: defaultBackoff},
		circuit: newBreaker("sensibo"),
		logger:  orDiscard(logger),
	}
}

func (c *SensiboCollector) Name() string { return c.name }

func (c *SensiboCollector) Source() readings.Source { return readings.SourceSensibo }

type sensiboPod struct {
	ID   string `json:"id"`
	Room struct {
		Name string `json:"name"`
	} `json:"room"`
}

type sensiboMeasurement struct {
	Time struct {
		Time string `json:"time"`
	} `json:"time"`
	Temperature *float64 `json:"temperature"`
	Humidity    *float64 `json:"humidity"`
	CO2         *float64 `json:"co2"`
	TVOC        *float64 `json:"tvoc"`
	IAQ         *float64 `json:"iaq"`
}

func (c *SensiboCollector) Collect(ctx context.Context) ([]readings.Row, error) {
	if c.apiKey == "" {
		return nil, fmt.Errorf("sensibo: %w", errNotConfigured)
	}

	pods, err := c.pods(ctx)
	if err != nil {
		return nil, err
	}

	var rows []readings.Row
	for _, pod := range pods {
		m, err := c.latest(ctx, pod.ID)
		if err != nil {
			return nil, err
		}
		if m == nil {
			c.logger.WithField("room", pod.Room.Name).Info("sensibo: no data for pod")
			continue
		}
		rows = append(rows, readings.NewSensiboRow(readings.SensiboRow{
			Timestamp:    m.Time.Time,
			DeviceID:     pod.ID,
			Room:         pod.Room.Name,
			TemperatureC: m.Temperature,
			Humidity:     m.Humidity,
			CO2:          m.CO2,
			TVOC:         m.TVOC,
			IAQ:          m.IAQ,
		}))
	}
	return rows, nil
}

func (c *SensiboCollector) pods(ctx context.Context) ([]sensiboPod, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("apiKey", c.apiKey)
		values.Set("fields", "id,room")
		return http.NewRequest(http.MethodGet, fmt.Sprintf("%s/users/me/pods?%s", c.baseURL, values.Encode()), nil)
	}

	var payload struct {
		Result []sensiboPod `json:"result"`
	}
	if err := getJSON(ctx, c.httpCfg, c.circuit, buildRequest, &payload); err != nil {
		return nil, fmt.Errorf("sensibo: list pods: %w", err)
	}
	return payload.Result, nil
}

// latest returns the newest measurement of a pod, or nil when it has none.
func (c *SensiboCollector) latest(ctx context.Context, podID string) (*sensiboMeasurement, error) {
	buildRequest := func() (*http.Request, error) {
		values := url.Values{}
		values.Set("apiKey", c.apiKey)
		u := fmt.Sprintf("%s/pods/%s/measurements?%s", c.baseURL, url.PathEscape(podID), values.Encode())
		return http.NewRequest(http.MethodGet, u, nil)
	}

	var payload struct {
		Result []sensiboMeasurement `json:"result"`
	}
	if err := getJSON(ctx, c.httpCfg, c.circuit, buildRequest, &payload); err != nil {
		return nil, fmt.Errorf("sensibo: measurements for %s: %w", podID, err)
	}
	if len(payload.Result) == 0 {
		return nil, nil
	}
	return &payload.Result[0], nil
}
