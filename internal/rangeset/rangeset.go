// Package rangeset implements half-open interval algebra over the grid
// points of a kline interval, used to compute the still-missing portion
// of a requested window after each FCP stage.
package rangeset

import (
	"sort"
	"time"

	"github.com/terrylica/kline-fcp/internal/timegrid"
)

// Range is a half-open [Start, End) interval, grid-aligned on both ends.
type Range struct {
	Start time.Time
	End   time.Time
}

// Set is an ordered, non-overlapping list of Range values.
type Set []Range

// Empty reports whether the set covers no grid points.
func (s Set) Empty() bool {
	return len(s) == 0
}

// Missing computes the set of grid-aligned sub-ranges of r that have no
// row present at that grid point in sorted, the list of already-obtained
// open_time instants. sorted need not be de-duplicated or pre-filtered to
// r; Missing performs both.
func Missing(r Range, sorted []time.Time, iv timegrid.Interval) Set {
	if len(sorted) == 0 {
		return Set{r}
	}
	present := make(map[int64]struct{}, len(sorted))
	for _, t := range sorted {
		if t.Before(r.Start) || !t.Before(r.End) {
			continue
		}
		present[t.UnixMicro()] = struct{}{}
	}
	if len(present) == 0 {
		return Set{r}
	}

	var out Set
	var gapStart *time.Time
	cur := r.Start
	for cur.Before(r.End) {
		_, ok := present[cur.UnixMicro()]
		if !ok {
			if gapStart == nil {
				t := cur
				gapStart = &t
			}
		} else if gapStart != nil {
			out = append(out, Range{Start: *gapStart, End: cur})
			gapStart = nil
		}
		cur = nextGridPoint(cur, iv)
	}
	if gapStart != nil {
		out = append(out, Range{Start: *gapStart, End: r.End})
	}
	return out
}

func nextGridPoint(t time.Time, iv timegrid.Interval) time.Time {
	if timegrid.IsCalendar(iv) {
		return timegrid.Step(iv, t)
	}
	return time.UnixMicro(t.UnixMicro() + timegrid.Micros(iv)).UTC()
}

// Union merges and sorts possibly-overlapping ranges into a minimal
// non-overlapping covering set.
func Union(ranges ...Range) Set {
	if len(ranges) == 0 {
		return nil
	}
	sorted := make([]Range, len(ranges))
	copy(sorted, ranges)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Start.Before(sorted[j].Start) })

	out := Set{sorted[0]}
	for _, r := range sorted[1:] {
		last := &out[len(out)-1]
		if !r.Start.After(last.End) {
			if r.End.After(last.End) {
				last.End = r.End
			}
			continue
		}
		out = append(out, r)
	}
	return out
}
