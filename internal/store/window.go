package store

import (
	"sort"
	"time"

	"github.com/i474232898/sensor-dashboard/internal/readings"
)

// inWindow keeps the rows inside w and orders them by parsed timestamp.
// Rows whose timestamp does not parse are passed through at the end;
// filtering them is the caller's job.
func inWindow(rows []readings.Row, w readings.TimeWindow) []readings.Row {
	type timed struct {
		row readings.Row
		ts  time.Time
		ok  bool
	}

	kept := make([]timed, 0, len(rows))
	for _, row := range rows {
		ts, err := readings.ParseStoredTimestamp(row.RawTimestamp())
		if err != nil {
			kept = append(kept, timed{row: row})
			continue
		}
		if w.Contains(ts) {
			kept = append(kept, timed{row: row, ts: ts, ok: true})
		}
	}

	sort.SliceStable(kept, func(i, j int) bool {
		if kept[i].ok != kept[j].ok {
			return kept[i].ok
		}
		return kept[i].ts.Before(kept[j].ts)
	})

	out := make([]readings.Row, 0, len(kept))
	for _, k := range kept {
		out = append(out, k.row)
	}
	return out
}
