package kline

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrylica/kline-fcp/internal/timegrid"
)

func mkRow(t time.Time, src Source) Row {
	return Row{
		OpenTime:  t,
		Open:      100,
		High:      110,
		Low:       90,
		Close:     105,
		Volume:    10,
		CloseTime: t.Add(time.Hour - time.Microsecond),
		Source:    src,
	}
}

func TestValidateEmptyFrame(t *testing.T) {
	f := Empty(timegrid.I1h)
	require.NoError(t, Validate(f))
}

func TestValidateDetectsNonMonotonic(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Frame{Interval: timegrid.I1h, Rows: []Row{
		mkRow(base.Add(time.Hour), SourceCache),
		mkRow(base, SourceCache),
	}}
	err := Validate(f)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonNonMonotonicIndex, verr.Reason)
}

func TestValidateDetectsUnaligned(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 1, 0, time.UTC)
	f := Frame{Interval: timegrid.I1h, Rows: []Row{mkRow(base, SourceCache)}}
	err := Validate(f)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonUnalignedTimestamp, verr.Reason)
}

func TestValidateDetectsNonUTC(t *testing.T) {
	loc := time.FixedZone("X", 3600)
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, loc)
	f := Frame{Interval: timegrid.I1h, Rows: []Row{mkRow(base, SourceCache)}}
	err := Validate(f)
	require.Error(t, err)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, ReasonTimezoneNotUTC, verr.Reason)
}

func TestConcatDedupKeepsHighestPrecedence(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Frame{Interval: timegrid.I1h, Rows: []Row{mkRow(base, SourceCache)}}
	b := Frame{Interval: timegrid.I1h, Rows: []Row{mkRow(base, SourceREST)}}
	merged := Concat(a, b)
	require.Len(t, merged.Rows, 1)
	assert.Equal(t, SourceREST, merged.Rows[0].Source)
}

func TestConcatSortsByOpenTime(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	a := Frame{Interval: timegrid.I1h, Rows: []Row{mkRow(base.Add(2*time.Hour), SourceCache)}}
	b := Frame{Interval: timegrid.I1h, Rows: []Row{mkRow(base, SourceCache), mkRow(base.Add(time.Hour), SourceCache)}}
	merged := Concat(a, b)
	require.Len(t, merged.Rows, 3)
	assert.True(t, merged.Rows[0].OpenTime.Before(merged.Rows[1].OpenTime))
	assert.True(t, merged.Rows[1].OpenTime.Before(merged.Rows[2].OpenTime))
}

func TestFilterWindowContainment(t *testing.T) {
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := Frame{Interval: timegrid.I1h, Rows: []Row{
		mkRow(base, SourceCache),
		mkRow(base.Add(time.Hour), SourceCache),
		mkRow(base.Add(2*time.Hour), SourceCache),
	}}
	out := Filter(f, base.Add(time.Hour), base.Add(2*time.Hour))
	require.Len(t, out.Rows, 1)
	assert.Equal(t, base.Add(time.Hour), out.Rows[0].OpenTime)
}

func TestDetectAndConvertMilliseconds(t *testing.T) {
	tm, err := DetectAndConvert(1704067200000)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), tm)
}

func TestDetectAndConvertRejectsUnknownWidth(t *testing.T) {
	_, err := DetectAndConvert(170406)
	require.Error(t, err)
}
