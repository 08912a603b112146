package readings

import (
	"context"
)

// Collector abstracts one polled source (HVAC cloud, BLE beacons, weather
// station, solar gateway). A collector only produces rows; persisting them is
// the Service's job.
type Collector interface {
	Name() string
	Source() Source
	Collect(ctx context.Context) ([]Row, error)
}

// SourceTable is the read contract the merge engine needs from one source's
// append-only table.
type SourceTable interface {
	Source() Source
	// Entities lists every entity the table has ever recorded, regardless of time.
	Entities(ctx context.Context) ([]string, error)
	// Rows returns the rows inside w ordered by timestamp ascending.
	Rows(ctx context.Context, w TimeWindow) ([]Row, error)
}

// Writer is the write contract collectors' output is persisted through.
type Writer interface {
	Append(ctx context.Context, rows []Row) error
}

// Store is what the Service needs from a reading store.
type Store interface {
	Writer
	Tables() []SourceTable
}

// Sink receives freshly collected, normalized readings (e.g. an MQTT mirror).
type Sink interface {
	Publish(ctx context.Context, readings []Reading) error
}
