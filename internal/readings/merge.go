package readings

import (
	"context"
	"sort"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/i474232898/sensor-dashboard/internal/metrics"
)

// Engine merges every source table into one per-series view of a window.
// It holds no state between queries and is safe for concurrent use.
type Engine struct {
	tables []SourceTable
	logger *logrus.Logger
}

// NewEngine creates an Engine over the given tables.
func NewEngine(tables []SourceTable, logger *logrus.Logger) *Engine {
	return &Engine{tables: tables, logger: logger}
}

type tableSnapshot struct {
	entities []string
	rows     []Row
}

// Query returns every known series with its readings inside w, timestamps
// converted to loc. Series that exist in the store but have nothing in the
// window map to an empty slice. A failure reading any table fails the query.
func (e *Engine) Query(ctx context.Context, w TimeWindow, loc *time.Location) (MergedResult, error) {
	if loc == nil {
		loc = time.UTC
	}

	snapshots := make([]tableSnapshot, len(e.tables))
	g, gctx := errgroup.WithContext(ctx)
	for i, table := range e.tables {
		i, table := i, table
		g.Go(func() error {
			entities, err := table.Entities(gctx)
			if err != nil {
				return &SourceUnavailableError{Source: table.Source(), Err: err}
			}
			rows, err := table.Rows(gctx, w)
			if err != nil {
				return &SourceUnavailableError{Source: table.Source(), Err: err}
			}
			snapshots[i] = tableSnapshot{entities: entities, rows: rows}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	result := make(MergedResult)
	for i, table := range e.tables {
		for _, entity := range snapshots[i].entities {
			result[SeriesKey{Entity: entity, Source: table.Source()}] = []Reading{}
		}
	}

	for i, table := range e.tables {
		for _, row := range snapshots[i].rows {
			reading, ok := e.normalizeRow(table.Source(), row, w, loc)
			if !ok {
				continue
			}
			key := reading.Key()
			result[key] = append(result[key], reading)
		}
	}

	for _, series := range result {
		sort.SliceStable(series, func(i, j int) bool {
			return series[i].Timestamp.Before(series[j].Timestamp)
		})
	}

	return result, nil
}

// normalizeRow parses, bounds-checks and normalizes one row. Corrupt rows are
// skipped so a single bad write cannot take the dashboard down.
func (e *Engine) normalizeRow(source Source, row Row, w TimeWindow, loc *time.Location) (Reading, bool) {
	raw := row.RawTimestamp()
	ts, err := ParseStoredTimestamp(raw)
	if err != nil {
		e.skip(source, "bad_timestamp", raw, err)
		return Reading{}, false
	}
	if !w.Contains(ts) {
		return Reading{}, false
	}

	reading, err := Normalize(row)
	if err != nil {
		e.skip(source, "bad_row", raw, err)
		return Reading{}, false
	}
	if reading.Entity == "" {
		e.skip(source, "no_entity", raw, nil)
		return Reading{}, false
	}
	reading.Timestamp = ts.In(loc)
	return reading, true
}

func (e *Engine) skip(source Source, reason, raw string, err error) {
	metrics.SkippedRows.WithLabelValues(string(source), reason).Inc()
	if e.logger == nil {
		return
	}
	entry := e.logger.WithFields(logrus.Fields{
		"source":    source,
		"reason":    reason,
		"timestamp": raw,
	})
	if err != nil {
		entry = entry.WithError(err)
	}
	entry.Warn("merge: skipping stored row")
}

// KnownSeries lists every series ever recorded, without fetching any rows.
func (e *Engine) KnownSeries(ctx context.Context) ([]SeriesKey, error) {
	var keys []SeriesKey
	for _, table := range e.tables {
		entities, err := table.Entities(ctx)
		if err != nil {
			return nil, &SourceUnavailableError{Source: table.Source(), Err: err}
		}
		for _, entity := range entities {
			keys = append(keys, SeriesKey{Entity: entity, Source: table.Source()})
		}
	}
	SortKeys(keys)
	return keys, nil
}
