package cachestore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrylica/kline-fcp/internal/kline"
	"github.com/terrylica/kline-fcp/internal/timegrid"
)

func testKey(day time.Time) Key {
	return Key{Provider: "binance", Market: "spot", Symbol: "BTCUSDT", Interval: timegrid.I1h, Day: day}
}

func testRows(day time.Time) []kline.Row {
	rows := make([]kline.Row, 0, 3)
	for i := 0; i < 3; i++ {
		t := day.Add(time.Duration(i) * time.Hour)
		rows = append(rows, kline.Row{
			OpenTime: t, Open: 100, High: 110, Low: 90, Close: 105, Volume: 10,
			CloseTime: t.Add(time.Hour - time.Microsecond), QuoteVolume: 1000, Trades: 5,
		})
	}
	return rows
}

func TestWriteThenReadRoundTrips(t *testing.T) {
	dir := t.TempDir()
	store := New(Config{Root: dir})
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	key := testKey(day)
	rows := testRows(day)

	require.NoError(t, store.Write(context.Background(), key, rows))
	got, ok := store.Read(context.Background(), key)
	require.True(t, ok)
	require.Len(t, got, 3)
	assert.Equal(t, rows[0].OpenTime, got[0].OpenTime)
	assert.Equal(t, rows[0].Close, got[0].Close)
	assert.Equal(t, kline.SourceCache, got[0].Source)
}

func TestReadMissingFileIsCacheMiss(t *testing.T) {
	dir := t.TempDir()
	store := New(Config{Root: dir})
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	_, ok := store.Read(context.Background(), testKey(day))
	assert.False(t, ok)
}

func TestReadQuarantinesOnChecksumMismatch(t *testing.T) {
	dir := t.TempDir()
	store := New(Config{Root: dir})
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	key := testKey(day)
	rows := testRows(day)
	require.NoError(t, store.Write(context.Background(), key, rows))

	// Corrupt the data file in place.
	dataPath := store.dataPath(key)
	require.NoError(t, os.WriteFile(dataPath, []byte("corrupted"), 0o644))

	_, ok := store.Read(context.Background(), key)
	assert.False(t, ok)

	// The original path should be gone (renamed aside).
	_, err := os.Stat(dataPath)
	assert.True(t, os.IsNotExist(err))
}

type fakeNotifier struct {
	called bool
	reason string
}

func (f *fakeNotifier) NotifyQuarantine(ctx context.Context, key Key, reason, path string) {
	f.called = true
	f.reason = reason
}

func TestQuarantineNotifiesAuditSink(t *testing.T) {
	dir := t.TempDir()
	notifier := &fakeNotifier{}
	store := New(Config{Root: dir, Notifier: notifier})
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	key := testKey(day)
	require.NoError(t, store.Write(context.Background(), key, testRows(day)))
	require.NoError(t, os.WriteFile(store.dataPath(key), []byte("bad"), 0o644))

	_, ok := store.Read(context.Background(), key)
	require.False(t, ok)
	assert.True(t, notifier.called)
	assert.Contains(t, notifier.reason, "checksum")
}

func TestOrphanMetaWithoutDataIsCleanedUp(t *testing.T) {
	dir := t.TempDir()
	store := New(Config{Root: dir})
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	key := testKey(day)
	require.NoError(t, store.Write(context.Background(), key, testRows(day)))

	require.NoError(t, os.Remove(store.dataPath(key)))
	_, ok := store.Read(context.Background(), key)
	assert.False(t, ok)
	_, err := os.Stat(store.metaPath(key))
	assert.True(t, os.IsNotExist(err))
}
