package rangeset

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrylica/kline-fcp/internal/timegrid"
)

func h(n int) time.Time {
	return time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC).Add(time.Duration(n) * time.Hour)
}

func TestMissingEmptyFrameReturnsWholeRange(t *testing.T) {
	r := Range{Start: h(0), End: h(5)}
	out := Missing(r, nil, timegrid.I1h)
	require.Len(t, out, 1)
	assert.Equal(t, r, out[0])
}

func TestMissingFullyCoveredReturnsEmpty(t *testing.T) {
	r := Range{Start: h(0), End: h(3)}
	present := []time.Time{h(0), h(1), h(2)}
	out := Missing(r, present, timegrid.I1h)
	assert.Empty(t, out)
}

func TestMissingPartialGapInMiddle(t *testing.T) {
	r := Range{Start: h(0), End: h(5)}
	present := []time.Time{h(0), h(1), h(4)}
	out := Missing(r, present, timegrid.I1h)
	require.Len(t, out, 1)
	assert.Equal(t, Range{Start: h(2), End: h(4)}, out[0])
}

func TestMissingIgnoresRowsOutsideRange(t *testing.T) {
	r := Range{Start: h(1), End: h(3)}
	present := []time.Time{h(0), h(1), h(5)}
	out := Missing(r, present, timegrid.I1h)
	require.Len(t, out, 1)
	assert.Equal(t, Range{Start: h(2), End: h(3)}, out[0])
}

func TestMissingCompleteness(t *testing.T) {
	// union(missing) and covered_by(F) are disjoint and together cover R.
	r := Range{Start: h(0), End: h(10)}
	present := []time.Time{h(1), h(2), h(7)}
	out := Missing(r, present, timegrid.I1h)

	coveredCount := 0
	for cur := r.Start; cur.Before(r.End); cur = cur.Add(time.Hour) {
		isPresent := false
		for _, p := range present {
			if p.Equal(cur) {
				isPresent = true
				break
			}
		}
		isMissing := false
		for _, g := range out {
			if !cur.Before(g.Start) && cur.Before(g.End) {
				isMissing = true
				break
			}
		}
		assert.True(t, isPresent != isMissing, "grid point %v must be exactly one of present/missing", cur)
		if isPresent {
			coveredCount++
		}
	}
	assert.Equal(t, len(present), coveredCount)
}

func TestUnionMergesOverlapping(t *testing.T) {
	out := Union(Range{Start: h(0), End: h(3)}, Range{Start: h(2), End: h(5)})
	require.Len(t, out, 1)
	assert.Equal(t, Range{Start: h(0), End: h(5)}, out[0])
}

func TestUnionKeepsDisjoint(t *testing.T) {
	out := Union(Range{Start: h(0), End: h(1)}, Range{Start: h(5), End: h(6)})
	require.Len(t, out, 2)
}
