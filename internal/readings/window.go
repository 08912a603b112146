package readings

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidRange is returned by a strict resolver for a request it cannot
// map to a window. The default resolver never returns it.
var ErrInvalidRange = errors.New("invalid range")

// WindowKind distinguishes the three window shapes.
type WindowKind int

const (
	WindowUnbounded WindowKind = iota
	WindowRelative
	WindowAbsolute
)

func (k WindowKind) String() string {
	switch k {
	case WindowRelative:
		return "relative"
	case WindowAbsolute:
		return "absolute"
	default:
		return "unbounded"
	}
}

// TimeWindow is a resolved query window in UTC.
//
// Relative windows are "since Start" with no upper bound. Absolute windows
// are half-open: Start inclusive, End exclusive.
type TimeWindow struct {
	Kind     WindowKind
	Duration time.Duration
	Start    time.Time
	End      time.Time
}

// Unbounded returns the "all time" window.
func Unbounded() TimeWindow { return TimeWindow{Kind: WindowUnbounded} }

// Since returns a relative window of length d ending at now.
func Since(now time.Time, d time.Duration) TimeWindow {
	return TimeWindow{Kind: WindowRelative, Duration: d, Start: now.Add(-d).UTC()}
}

// Between returns the absolute window [start, end).
func Between(start, end time.Time) TimeWindow {
	return TimeWindow{Kind: WindowAbsolute, Start: start.UTC(), End: end.UTC()}
}

// IsCustom reports whether the window came from explicit bounds.
func (w TimeWindow) IsCustom() bool { return w.Kind == WindowAbsolute }

// Lower returns the inclusive lower bound, or nil when there is none.
func (w TimeWindow) Lower() *time.Time {
	if w.Kind == WindowUnbounded {
		return nil
	}
	start := w.Start
	return &start
}

// Upper returns the exclusive upper bound, or nil when there is none.
func (w TimeWindow) Upper() *time.Time {
	if w.Kind != WindowAbsolute {
		return nil
	}
	end := w.End
	return &end
}

// Contains reports whether ts falls inside the window.
func (w TimeWindow) Contains(ts time.Time) bool {
	switch w.Kind {
	case WindowRelative:
		return !ts.Before(w.Start)
	case WindowAbsolute:
		return !ts.Before(w.Start) && ts.Before(w.End)
	default:
		return true
	}
}

func (w TimeWindow) String() string {
	switch w.Kind {
	case WindowRelative:
		return fmt.Sprintf("since %s", w.Start.Format(time.RFC3339))
	case WindowAbsolute:
		return fmt.Sprintf("[%s, %s)", w.Start.Format(time.RFC3339), w.End.Format(time.RFC3339))
	default:
		return "all"
	}
}

// RangeAll is the token for the unbounded window.
const RangeAll = "all"

// DefaultRange applies when a request names neither a token nor bounds.
const DefaultRange = "24h"

// relativeRanges are the recognized relative tokens in display order.
var relativeRanges = []struct {
	token    string
	duration time.Duration
}{
	{"1h", time.Hour},
	{"6h", 6 * time.Hour},
	{"24h", 24 * time.Hour},
	{"7d", 7 * 24 * time.Hour},
	{"30d", 30 * 24 * time.Hour},
	{"1y", 365 * 24 * time.Hour},
}

func rangeDuration(token string) (time.Duration, bool) {
	for _, r := range relativeRanges {
		if r.token == token {
			return r.duration, true
		}
	}
	return 0, false
}

// RangeQuery is the raw window request as received from a client.
type RangeQuery struct {
	Range string
	Start string
	End   string
}

// RangeResolver maps range requests to windows.
//
// A request with no token and no bounds gets DefaultRange. Otherwise, by
// default, an unknown token or malformed explicit bounds fall back to the
// unbounded window, which is what existing dashboards rely on. A strict
// resolver rejects them with ErrInvalidRange instead.
type RangeResolver struct {
	strict bool
	now    func() time.Time
}

// NewRangeResolver creates a resolver. now may be nil to use the wall clock.
func NewRangeResolver(strict bool, now func() time.Time) *RangeResolver {
	if now == nil {
		now = time.Now
	}
	return &RangeResolver{strict: strict, now: now}
}

// Strict reports whether the resolver rejects malformed requests.
func (r *RangeResolver) Strict() bool { return r.strict }

// Resolve maps q to a window. Explicit bounds win over the token when both parse.
func (r *RangeResolver) Resolve(q RangeQuery) (TimeWindow, error) {
	if q.Start != "" || q.End != "" {
		start, startErr := parseInstant(q.Start)
		end, endErr := parseInstant(q.End)
		switch {
		case startErr == nil && endErr == nil:
			if r.strict && !start.Before(end) {
				return TimeWindow{}, fmt.Errorf("%w: start must be before end", ErrInvalidRange)
			}
			return Between(start, end), nil
		case r.strict:
			return TimeWindow{}, fmt.Errorf("%w: start and end must both be valid instants", ErrInvalidRange)
		}
	}

	token := q.Range
	if token == "" && q.Start == "" && q.End == "" {
		token = DefaultRange
	}
	if d, ok := rangeDuration(token); ok {
		return Since(r.now(), d), nil
	}

	if r.strict && token != "" && token != RangeAll {
		return TimeWindow{}, fmt.Errorf("%w: unknown range %q, want one of %s",
			ErrInvalidRange, token, strings.Join(RangeTokens(), ", "))
	}
	return Unbounded(), nil
}

// RangeTokens returns the recognized relative tokens plus "all".
func RangeTokens() []string {
	out := make([]string, 0, len(relativeRanges)+1)
	for _, r := range relativeRanges {
		out = append(out, r.token)
	}
	return append(out, RangeAll)
}

// parseInstant accepts RFC3339 or unix seconds.
func parseInstant(s string) (time.Time, error) {
	if s == "" {
		return time.Time{}, errors.New("empty instant")
	}
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
