package publish

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/i474232898/sensor-dashboard/internal/metrics"
	"github.com/i474232898/sensor-dashboard/internal/readings"
)

var _ readings.Sink = (*MQTTSink)(nil)

// Publisher sends one message. *Client implements it.
type Publisher interface {
	Publish(topic string, payload []byte, retained bool) error
}

// MQTTSink mirrors freshly collected readings to
// <prefix>/<source>/<entity>/state as retained JSON.
type MQTTSink struct {
	publisher Publisher
	prefix    string
}

func NewMQTTSink(publisher Publisher, prefix string) *MQTTSink {
	return &MQTTSink{publisher: publisher, prefix: prefix}
}

// Topic returns the state topic for a series.
func (s *MQTTSink) Topic(key readings.SeriesKey) string {
	return BuildTopic(s.prefix, string(key.Source), key.Entity, "state")
}

// Publish sends every reading and reports all failures together.
func (s *MQTTSink) Publish(ctx context.Context, batch []readings.Reading) error {
	var errs []error
	for _, r := range batch {
		if err := ctx.Err(); err != nil {
			return err
		}
		payload, err := json.Marshal(r)
		if err != nil {
			metrics.MirrorPublishes.WithLabelValues("error").Inc()
			errs = append(errs, fmt.Errorf("encode %s: %w", r.Key(), err))
			continue
		}
		if err := s.publisher.Publish(s.Topic(r.Key()), payload, true); err != nil {
			metrics.MirrorPublishes.WithLabelValues("error").Inc()
			errs = append(errs, err)
			continue
		}
		metrics.MirrorPublishes.WithLabelValues("ok").Inc()
	}
	return errors.Join(errs...)
}
