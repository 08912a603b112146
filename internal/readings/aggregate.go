package readings

// Summarize picks the "current" reading for every series.
//
// For relative and unbounded windows the current reading is the latest one.
// For custom (absolute) windows every numeric field is averaged independently
// over its non-null values, paired with the timestamp of the last reading.
// Series without readings map to nil.
func Summarize(result MergedResult, custom bool) map[SeriesKey]*Reading {
	out := make(map[SeriesKey]*Reading, len(result))
	for key, series := range result {
		if len(series) == 0 {
			out[key] = nil
			continue
		}
		if !custom {
			latest := series[len(series)-1]
			out[key] = &latest
			continue
		}
		avg := AverageReadings(series)
		out[key] = &avg
	}
	return out
}

// AverageReadings averages each numeric field across readings. A field with
// no non-null values stays nil. readings must not be empty.
func AverageReadings(readings []Reading) Reading {
	last := readings[len(readings)-1]
	avg := Reading{
		Entity:    last.Entity,
		Source:    last.Source,
		Timestamp: last.Timestamp,
	}

	targets := avg.fields()
	sums := make([]float64, len(targets))
	counts := make([]int, len(targets))

	for i := range readings {
		for j, f := range readings[i].fields() {
			if *f == nil {
				continue
			}
			sums[j] += **f
			counts[j]++
		}
	}

	for j, target := range targets {
		if counts[j] == 0 {
			continue
		}
		mean := sums[j] / float64(counts[j])
		*target = &mean
	}
	return avg
}
