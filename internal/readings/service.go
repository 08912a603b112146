package readings

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/i474232898/sensor-dashboard/internal/logging"
	"github.com/i474232898/sensor-dashboard/internal/metrics"
)

// Service orchestrates collectors, the reading store and the merge engine.
type Service struct {
	store    Store
	engine   *Engine
	resolver *RangeResolver
	location *time.Location
	sink     Sink
	logger   *logrus.Logger
}

// NewService creates a new Service. displayTZ is applied to every query result.
func NewService(store Store, resolver *RangeResolver, displayTZ *time.Location, logger *logrus.Logger) *Service {
	if displayTZ == nil {
		displayTZ = time.UTC
	}
	if logger == nil {
		logger = logging.Discard()
	}
	return &Service{
		store:    store,
		engine:   NewEngine(store.Tables(), logger),
		resolver: resolver,
		location: displayTZ,
		logger:   logger,
	}
}

// SetSink mirrors every freshly stored batch to sink. A nil sink disables mirroring.
func (s *Service) SetSink(sink Sink) {
	s.sink = sink
}

// CollectAndStore runs one collection cycle for c and appends the rows it
// produced. Errors are returned, never retried here; retry policy belongs to
// the scheduler.
func (s *Service) CollectAndStore(ctx context.Context, c Collector) error {
	log := s.logger.WithFields(logrus.Fields{
		"collector": c.Name(),
		"run_id":    uuid.NewString(),
	})
	log.Debug("collect: starting run")

	rows, err := c.Collect(ctx)
	if err != nil {
		return fmt.Errorf("collect %s: %w", c.Name(), err)
	}
	if len(rows) == 0 {
		log.Info("collect: no readings this cycle")
		return nil
	}

	if err := s.store.Append(ctx, rows); err != nil {
		return fmt.Errorf("store %s readings: %w", c.Name(), err)
	}
	metrics.CollectedRows.WithLabelValues(string(c.Source())).Add(float64(len(rows)))

	for _, row := range rows {
		log.WithField("entity", row.Entity()).Debug("collect: stored reading")
	}
	log.WithField("rows", len(rows)).Info("collect: run complete")

	if s.sink != nil {
		s.mirror(ctx, rows, log)
	}
	return nil
}

// mirror publishes normalized copies of rows. Failures are logged only; the
// rows are already persisted.
func (s *Service) mirror(ctx context.Context, rows []Row, log *logrus.Entry) {
	out := make([]Reading, 0, len(rows))
	for _, row := range rows {
		ts, err := ParseStoredTimestamp(row.RawTimestamp())
		if err != nil {
			continue
		}
		reading, err := Normalize(row)
		if err != nil {
			continue
		}
		reading.Timestamp = ts.In(s.location)
		out = append(out, reading)
	}
	if len(out) == 0 {
		return
	}
	if err := s.sink.Publish(ctx, out); err != nil {
		log.WithError(err).Warn("collect: mirror publish failed")
	}
}

// StrictRange reports whether malformed range requests are rejected.
func (s *Service) StrictRange() bool {
	return s.resolver.Strict()
}

// Query resolves q and returns the merged view of every source.
func (s *Service) Query(ctx context.Context, q RangeQuery) (MergedResult, TimeWindow, error) {
	w, err := s.resolver.Resolve(q)
	if err != nil {
		metrics.Queries.WithLabelValues("invalid_range").Inc()
		return nil, TimeWindow{}, err
	}

	start := time.Now()
	result, err := s.engine.Query(ctx, w, s.location)
	metrics.QueryDuration.WithLabelValues(w.Kind.String()).Observe(time.Since(start).Seconds())
	if err != nil {
		var unavailable *SourceUnavailableError
		if errors.As(err, &unavailable) {
			metrics.Queries.WithLabelValues("source_unavailable").Inc()
			s.logger.WithError(err).WithField("source", unavailable.Source).Error("query: source table read failed")
		} else {
			metrics.Queries.WithLabelValues("error").Inc()
		}
		return nil, w, err
	}

	metrics.Queries.WithLabelValues("ok").Inc()
	s.logger.WithFields(logrus.Fields{
		"window": w.String(),
		"series": len(result),
	}).Debug("query: merged readings")
	return result, w, nil
}

// Current returns the summary reading per series for q: the latest reading
// for relative windows, the window average for custom ones.
func (s *Service) Current(ctx context.Context, q RangeQuery) (map[SeriesKey]*Reading, TimeWindow, error) {
	result, w, err := s.Query(ctx, q)
	if err != nil {
		return nil, w, err
	}
	return Summarize(result, w.IsCustom()), w, nil
}

// Series lists every series the store has ever recorded.
func (s *Service) Series(ctx context.Context) ([]SeriesKey, error) {
	return s.engine.KnownSeries(ctx)
}
