package kline

import (
	"sort"
	"strconv"
	"time"

	"github.com/terrylica/kline-fcp/internal/timegrid"
)

// Frame is an ordered sequence of Row values sharing one (symbol, interval)
// series. Rows are kept sorted by OpenTime once Concat or Sort has run.
type Frame struct {
	Interval timegrid.Interval
	Rows     []Row
}

// Empty returns a zero-row frame for the given interval.
func Empty(iv timegrid.Interval) Frame {
	return Frame{Interval: iv, Rows: nil}
}

// Reason enumerates why Validate rejected a frame.
type Reason string

const (
	ReasonSchemaMismatch     Reason = "SchemaMismatch"
	ReasonNonMonotonicIndex  Reason = "NonMonotonicIndex"
	ReasonUnalignedTimestamp Reason = "UnalignedTimestamp"
	ReasonTimezoneNotUTC     Reason = "TimezoneNotUTC"
	ReasonInvariantViolation Reason = "InvariantViolation"
	ReasonDuplicateIndex     Reason = "DuplicateIndex"
)

// ValidationError reports why Validate rejected a frame.
type ValidationError struct {
	Reason Reason
	Detail string
}

func (e *ValidationError) Error() string {
	if e.Detail == "" {
		return "kline: validation failed: " + string(e.Reason)
	}
	return "kline: validation failed: " + string(e.Reason) + ": " + e.Detail
}

// Validate checks every invariant from the data model: monotone index,
// grid alignment, UTC timezone, and no duplicate/invalid rows.
func Validate(f Frame) error {
	var prev *time.Time
	seen := make(map[int64]struct{}, len(f.Rows))
	for i, r := range f.Rows {
		if r.OpenTime.Location() != time.UTC {
			return &ValidationError{Reason: ReasonTimezoneNotUTC, Detail: "row " + strconv.Itoa(i)}
		}
		if !timegrid.IsCalendar(f.Interval) {
			m := timegrid.Micros(f.Interval)
			if r.OpenTime.UnixMicro()%m != 0 {
				return &ValidationError{Reason: ReasonUnalignedTimestamp, Detail: "row " + strconv.Itoa(i)}
			}
		} else if !r.OpenTime.Equal(timegrid.Floor(r.OpenTime, f.Interval)) {
			return &ValidationError{Reason: ReasonUnalignedTimestamp, Detail: "row " + strconv.Itoa(i)}
		}
		key := r.OpenTime.UnixMicro()
		if _, dup := seen[key]; dup {
			return &ValidationError{Reason: ReasonDuplicateIndex, Detail: "row " + strconv.Itoa(i)}
		}
		seen[key] = struct{}{}
		if prev != nil && !r.OpenTime.After(*prev) {
			return &ValidationError{Reason: ReasonNonMonotonicIndex, Detail: "row " + strconv.Itoa(i)}
		}
		if !r.Valid() {
			return &ValidationError{Reason: ReasonInvariantViolation, Detail: "row " + strconv.Itoa(i)}
		}
		t := r.OpenTime
		prev = &t
	}
	return nil
}

// Concat merges frames, sorts by OpenTime, and de-duplicates keeping the
// row from the highest-precedence source (REST > VISION > CACHE).
func Concat(frames ...Frame) Frame {
	var iv timegrid.Interval
	total := 0
	for _, f := range frames {
		if f.Interval != "" {
			iv = f.Interval
		}
		total += len(f.Rows)
	}
	byTime := make(map[int64]Row, total)
	order := make([]int64, 0, total)
	for _, f := range frames {
		for _, r := range f.Rows {
			key := r.OpenTime.UnixMicro()
			existing, ok := byTime[key]
			if !ok {
				order = append(order, key)
				byTime[key] = r
				continue
			}
			if Precedence(r.Source) >= Precedence(existing.Source) {
				byTime[key] = r
			}
		}
	}
	sort.Slice(order, func(i, j int) bool { return order[i] < order[j] })
	out := make([]Row, len(order))
	for i, key := range order {
		out[i] = byTime[key]
	}
	return Frame{Interval: iv, Rows: out}
}

// Filter returns the subset of rows with start <= OpenTime < end.
func Filter(f Frame, start, end time.Time) Frame {
	out := make([]Row, 0, len(f.Rows))
	for _, r := range f.Rows {
		if !r.OpenTime.Before(start) && r.OpenTime.Before(end) {
			out = append(out, r)
		}
	}
	return Frame{Interval: f.Interval, Rows: out}
}
