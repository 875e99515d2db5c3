package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/terrylica/kline-fcp/internal/cachestore"
	"github.com/terrylica/kline-fcp/internal/timegrid"
)

func newMockRepo(t *testing.T) (*Repo, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return New(sqlx.NewDb(db, "postgres"), time.Second), mock
}

func TestNotifyQuarantineInsertsRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO cache_quarantines").
		WithArgs("binance", "SPOT", "BTCUSDT", "1h", day, "checksum mismatch", "/q/path").
		WillReturnResult(sqlmock.NewResult(1, 1))

	repo.NotifyQuarantine(context.Background(), cachestore.Key{
		Provider: "binance", Market: "SPOT", Symbol: "BTCUSDT", Interval: timegrid.I1h, Day: day,
	}, "checksum mismatch", "/q/path")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRecordFetchInsertsRow(t *testing.T) {
	repo, mock := newMockRepo(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

	mock.ExpectExec("INSERT INTO fetch_audit").
		WithArgs("req-1", "binance", "SPOT", "BTCUSDT", "1h", 100, "done", "", start, start.Add(time.Second)).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := repo.RecordFetch(context.Background(), FetchRecord{
		RequestID: "req-1", Provider: "binance", Market: "SPOT", Symbol: "BTCUSDT", Interval: "1h",
		RowsReturned: 100, Outcome: "done", StartedAt: start, FinishedAt: start.Add(time.Second),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestQuarantinesBySymbolQueries(t *testing.T) {
	repo, mock := newMockRepo(t)
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	rows := sqlmock.NewRows([]string{"id", "provider", "market", "symbol", "interval", "day", "reason", "quarantined_path", "detected_at"}).
		AddRow(1, "binance", "SPOT", "BTCUSDT", "1h", day, "checksum mismatch", "/q/path", day)

	mock.ExpectQuery("SELECT (.+) FROM cache_quarantines").
		WithArgs("BTCUSDT", 10).
		WillReturnRows(rows)

	out, err := repo.QuarantinesBySymbol(context.Background(), "BTCUSDT", 10)
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "checksum mismatch", out[0].Reason)
	require.NoError(t, mock.ExpectationsWereMet())
}
