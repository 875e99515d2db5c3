// Package vision implements the bulk-archive HTTP source: deterministic
// URL construction, checksummed zip download, CSV parsing into the
// canonical frame, and the 48-hour publication-freshness policy.
package vision

import (
	"archive/zip"
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/csv"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/terrylica/kline-fcp/internal/kline"
	"github.com/terrylica/kline-fcp/internal/netpool"
	"github.com/terrylica/kline-fcp/internal/stageerr"
	"github.com/terrylica/kline-fcp/internal/timegrid"
)

// FreshnessThreshold is the time the archive needs to consolidate and
// publish a day's data after market close, recovered from the original
// implementation's CONSOLIDATION_DELAY constant.
const FreshnessThreshold = 48 * time.Hour

// Outcome classifies the result of fetching one archive day.
type Outcome int

const (
	OutcomeFilled Outcome = iota
	OutcomeNotPublished
	OutcomeNotFound
)

// Config addresses the archive host and market path mapping.
type Config struct {
	Host string // e.g. "data.binance.vision"
}

// Client fetches Vision archive day-files.
type Client struct {
	cfg  Config
	pool *netpool.Pool
}

// New constructs a Client backed by pool for transport.
func New(cfg Config, pool *netpool.Pool) *Client {
	return &Client{cfg: cfg, pool: pool}
}

// marketPath maps a market identifier to the archive's URL segment.
func marketPath(market string) (string, error) {
	switch strings.ToUpper(market) {
	case "SPOT":
		return "spot", nil
	case "FUTURES_UM":
		return "futures/um", nil
	case "FUTURES_CM":
		return "futures/cm", nil
	default:
		return "", fmt.Errorf("vision: unknown market %q", market)
	}
}

// DayURL builds the deterministic archive URL for one day's zip file.
func (c *Client) DayURL(market, symbol string, iv timegrid.Interval, day time.Time) (string, error) {
	mp, err := marketPath(market)
	if err != nil {
		return "", err
	}
	d := day.Format("2006-01-02")
	return fmt.Sprintf("https://%s/data/%s/daily/klines/%s/%s/%s-%s-%s.zip",
		c.cfg.Host, mp, symbol, iv, symbol, iv, d), nil
}

// IsFresh reports whether day is recent enough that the archive is known
// not to have published it yet.
func IsFresh(day time.Time, now time.Time) bool {
	return now.Sub(day) < FreshnessThreshold
}

// FetchDay downloads, verifies, and parses one archive day. When the day
// is younger than FreshnessThreshold it returns OutcomeNotPublished
// without attempting a download, so the orchestrator can forward the
// sub-range to REST directly.
func (c *Client) FetchDay(ctx context.Context, market, symbol string, iv timegrid.Interval, day time.Time, now time.Time) (kline.Frame, Outcome, error) {
	if IsFresh(day, now) {
		return kline.Empty(iv), OutcomeNotPublished, nil
	}

	zipURL, err := c.DayURL(market, symbol, iv, day)
	if err != nil {
		return kline.Empty(iv), OutcomeNotFound, stageerr.UserInput(err.Error())
	}

	zipData, err := c.downloadAndVerify(ctx, zipURL)
	if err != nil {
		var se *stageerr.Error
		if ok := stageErr(err, &se); ok && se.Kind == stageerr.KindPermanentForSegment {
			return kline.Empty(iv), OutcomeNotFound, nil
		}
		return kline.Empty(iv), OutcomeNotFound, err
	}

	rows, err := parseZip(zipData, iv)
	if err != nil {
		return kline.Empty(iv), OutcomeNotFound, stageerr.PermanentForSegment("vision: parse failure", err)
	}
	return kline.Frame{Interval: iv, Rows: rows}, OutcomeFilled, nil
}

// downloadAndVerify fetches zipURL and its checksum sidecar. A checksum
// mismatch is retried once with a fresh download before being treated as
// fatal for the segment, per the retryable-once-then-fatal classification
// of ChecksumFailed.
func (c *Client) downloadAndVerify(ctx context.Context, zipURL string) ([]byte, error) {
	zipData, err := c.attemptDownloadAndVerify(ctx, zipURL)
	if err == nil {
		return zipData, nil
	}
	var se *stageerr.Error
	if !stageErr(err, &se) || se.Kind != stageerr.KindIntegrity {
		return nil, err
	}
	zipData, retryErr := c.attemptDownloadAndVerify(ctx, zipURL)
	if retryErr != nil {
		if stageErr(retryErr, &se) && se.Kind == stageerr.KindIntegrity {
			return nil, stageerr.PermanentForSegment("vision: checksum mismatch persisted after retry", retryErr)
		}
		return nil, retryErr
	}
	return zipData, nil
}

func (c *Client) attemptDownloadAndVerify(ctx context.Context, zipURL string) ([]byte, error) {
	zipData, err := c.get(ctx, zipURL)
	if err != nil {
		return nil, err
	}
	checksumData, err := c.get(ctx, zipURL+".CHECKSUM")
	if err != nil {
		// No checksum sidecar means the file itself is absent for this
		// request shape; treat as a permanent gap for this segment.
		return nil, stageerr.PermanentForSegment("vision: checksum file unavailable", err)
	}
	wantHex, err := parseChecksumFile(checksumData)
	if err != nil {
		return nil, stageerr.PermanentForSegment("vision: malformed checksum file", err)
	}
	sum := sha256.Sum256(zipData)
	if hex.EncodeToString(sum[:]) != wantHex {
		return nil, stageerr.Integrity("vision: checksum mismatch", nil)
	}
	return zipData, nil
}

func parseChecksumFile(data []byte) (string, error) {
	line := strings.TrimSpace(strings.SplitN(string(data), "\n", 2)[0])
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return "", fmt.Errorf("empty checksum file")
	}
	return strings.ToLower(fields[0]), nil
}

func (c *Client) get(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, url, nil)
	if err != nil {
		return nil, stageerr.UserInput(err.Error())
	}
	resp, err := c.pool.Do(ctx, req, "vision")
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode == http.StatusNotFound {
		return nil, stageerr.PermanentForSegment("vision: 404", nil)
	}
	if resp.StatusCode >= 400 {
		return nil, stageerr.Transient("vision: unexpected status", fmt.Errorf("status %d", resp.StatusCode))
	}
	return io.ReadAll(resp.Body)
}

func parseZip(zipData []byte, iv timegrid.Interval) ([]kline.Row, error) {
	zr, err := zip.NewReader(bytes.NewReader(zipData), int64(len(zipData)))
	if err != nil {
		return nil, err
	}
	if len(zr.File) == 0 {
		return nil, fmt.Errorf("vision: zip archive is empty")
	}
	f, err := zr.File[0].Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return parseCSV(f, iv)
}

func parseCSV(r io.Reader, iv timegrid.Interval) ([]kline.Row, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	rows := make([]kline.Row, 0, 1440)
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, err
		}
		if len(rec) < 11 {
			continue
		}
		if !isNumeric(rec[0]) {
			// header row
			continue
		}
		row, err := parseCSVRow(rec, iv)
		if err != nil {
			return nil, err
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func isNumeric(s string) bool {
	_, err := strconv.ParseInt(s, 10, 64)
	return err == nil
}

func parseCSVRow(rec []string, iv timegrid.Interval) (kline.Row, error) {
	rawOpen, err := strconv.ParseInt(rec[0], 10, 64)
	if err != nil {
		return kline.Row{}, err
	}
	openTime, err := kline.DetectAndConvert(rawOpen)
	if err != nil {
		return kline.Row{}, err
	}
	openTime = timegrid.Floor(openTime, iv)

	open, _ := strconv.ParseFloat(rec[1], 64)
	high, _ := strconv.ParseFloat(rec[2], 64)
	low, _ := strconv.ParseFloat(rec[3], 64)
	cl, _ := strconv.ParseFloat(rec[4], 64)
	vol, _ := strconv.ParseFloat(rec[5], 64)
	quoteVol, _ := strconv.ParseFloat(rec[7], 64)
	trades, _ := strconv.ParseInt(rec[8], 10, 64)
	takerBuyVol, _ := strconv.ParseFloat(rec[9], 64)
	takerBuyQuoteVol, _ := strconv.ParseFloat(rec[10], 64)

	var closeTime time.Time
	if timegrid.IsCalendar(iv) {
		closeTime = timegrid.Step(iv, openTime).Add(-time.Microsecond)
	} else {
		closeTime = openTime.Add(time.Duration(timegrid.Micros(iv))*time.Microsecond - time.Microsecond)
	}

	return kline.Row{
		OpenTime: openTime, Open: open, High: high, Low: low, Close: cl,
		Volume: vol, CloseTime: closeTime, QuoteVolume: quoteVol, Trades: trades,
		TakerBuyVolume: takerBuyVol, TakerBuyQuoteVolume: takerBuyQuoteVol,
		Source: kline.SourceVision,
	}, nil
}

func stageErr(err error, out **stageerr.Error) bool {
	se, ok := err.(*stageerr.Error)
	if ok {
		*out = se
	}
	return ok
}
