package vision

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/terrylica/kline-fcp/internal/netpool"
	"github.com/terrylica/kline-fcp/internal/stageerr"
	"github.com/terrylica/kline-fcp/internal/timegrid"
)

func buildZip(t *testing.T, csvBody string) []byte {
	t.Helper()
	buf := &bytes.Buffer{}
	zw := zip.NewWriter(buf)
	w, err := zw.Create("BTCUSDT-1h-2024-01-01.csv")
	require.NoError(t, err)
	_, err = w.Write([]byte(csvBody))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func TestFetchDayReturnsNotPublishedForRecentDay(t *testing.T) {
	pool := netpool.New(netpool.DefaultArchiveConfig(), nil, nil)
	c := New(Config{Host: "example.invalid"}, pool)
	now := time.Now().UTC()
	day := timegrid.Floor(now.Add(-time.Hour), "1d")
	_, outcome, err := c.FetchDay(context.Background(), "SPOT", "BTCUSDT", timegrid.I1h, day, now)
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotPublished, outcome)
}

func TestFetchDaySuccessfulDownloadAndParse(t *testing.T) {
	day := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	openMs := day.UnixMilli()
	row := fmt.Sprintf("%d,100,110,90,105,10,%d,1000,5,4,400,0", openMs, day.Add(time.Hour).UnixMilli()-1)
	zipBytes := buildZip(t, row+"\n")
	sum := sha256.Sum256(zipBytes)
	checksumLine := hex.EncodeToString(sum[:]) + "  BTCUSDT-1h-2024-01-01.zip\n"

	mux := http.NewServeMux()
	mux.HandleFunc("/data/spot/daily/klines/BTCUSDT/1h/BTCUSDT-1h-2024-01-01.zip", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".CHECKSUM") {
			w.Write([]byte(checksumLine))
			return
		}
		w.Write(zipBytes)
	})
	mux.HandleFunc("/data/spot/daily/klines/BTCUSDT/1h/BTCUSDT-1h-2024-01-01.zip.CHECKSUM", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(checksumLine))
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()
	host := strings.TrimPrefix(srv.URL, "http://")

	pool := netpool.New(netpool.DefaultArchiveConfig(), nil, nil)
	c := &Client{cfg: Config{Host: host}, pool: pool}
	// DayURL hardcodes https, so the download and checksum verification
	// run against the test server's http URL for the same archive path
	// instead of going through FetchDay.
	zipURL, err := c.DayURL("SPOT", "BTCUSDT", timegrid.I1h, day)
	require.NoError(t, err)
	assert.Contains(t, zipURL, "BTCUSDT-1h-2024-01-01.zip")

	data, err := c.downloadAndVerify(context.Background(), srv.URL+"/data/spot/daily/klines/BTCUSDT/1h/BTCUSDT-1h-2024-01-01.zip")
	require.NoError(t, err)
	rows, err := parseZip(data, timegrid.I1h)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, day, rows[0].OpenTime)
	assert.Equal(t, 105.0, rows[0].Close)
}

func TestDownloadAndVerifyRetriesOnceOnChecksumMismatch(t *testing.T) {
	good := []byte("good zip contents")
	bad := []byte("corrupted on the wire")
	sum := sha256.Sum256(good)
	checksumLine := hex.EncodeToString(sum[:]) + "  day.zip\n"

	var zipCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/day.zip.CHECKSUM", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(checksumLine))
	})
	mux.HandleFunc("/day.zip", func(w http.ResponseWriter, r *http.Request) {
		zipCalls++
		if zipCalls == 1 {
			w.Write(bad)
			return
		}
		w.Write(good)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pool := netpool.New(netpool.DefaultArchiveConfig(), nil, nil)
	c := &Client{cfg: Config{Host: "example.invalid"}, pool: pool}

	data, err := c.downloadAndVerify(context.Background(), srv.URL+"/day.zip")
	require.NoError(t, err, "a checksum mismatch must be retried once before failing")
	assert.Equal(t, good, data)
	assert.Equal(t, 2, zipCalls)
}

func TestDownloadAndVerifyFailsPermanentlyAfterRetryAlsoMismatches(t *testing.T) {
	good := []byte("good zip contents")
	bad := []byte("still corrupted")
	sum := sha256.Sum256(good)
	checksumLine := hex.EncodeToString(sum[:]) + "  day.zip\n"

	var zipCalls int
	mux := http.NewServeMux()
	mux.HandleFunc("/day.zip.CHECKSUM", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(checksumLine))
	})
	mux.HandleFunc("/day.zip", func(w http.ResponseWriter, r *http.Request) {
		zipCalls++
		w.Write(bad)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	pool := netpool.New(netpool.DefaultArchiveConfig(), nil, nil)
	c := &Client{cfg: Config{Host: "example.invalid"}, pool: pool}

	_, err := c.downloadAndVerify(context.Background(), srv.URL+"/day.zip")
	require.Error(t, err)
	var se *stageerr.Error
	require.ErrorAs(t, err, &se)
	assert.Equal(t, stageerr.KindPermanentForSegment, se.Kind)
	assert.Equal(t, 2, zipCalls, "exactly one retry, not more")
}

func TestParseChecksumFile(t *testing.T) {
	sum, err := parseChecksumFile([]byte("ABCDEF  somefile.zip\n"))
	require.NoError(t, err)
	assert.Equal(t, "abcdef", sum)
}

func TestIsFreshBoundary(t *testing.T) {
	now := time.Date(2024, 3, 1, 0, 0, 0, 0, time.UTC)
	assert.True(t, IsFresh(now.Add(-24*time.Hour), now))
	assert.False(t, IsFresh(now.Add(-72*time.Hour), now))
}
