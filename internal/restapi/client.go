// Package restapi implements the paginated REST client: request chunking
// bounded by the provider's per-page row cap, concurrent page dispatch,
// and partial-bar exclusion. Response weight headers are parsed but do not
// throttle or otherwise change any request.
package restapi

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/terrylica/kline-fcp/internal/kline"
	"github.com/terrylica/kline-fcp/internal/netpool"
	"github.com/terrylica/kline-fcp/internal/reqcache"
	"github.com/terrylica/kline-fcp/internal/stageerr"
	"github.com/terrylica/kline-fcp/internal/timegrid"
)

// Config addresses the REST base URL per market and the per-page cap.
type Config struct {
	BaseURLByMarket map[string]string // e.g. {"SPOT": "https://api.binance.com/api/v3"}
	PageLimit       int               // rows per page, typically 500-1500
	Concurrency     int
}

// DefaultConfig matches the spec's documented REST defaults.
func DefaultConfig(baseURLByMarket map[string]string) Config {
	return Config{BaseURLByMarket: baseURLByMarket, PageLimit: 1000, Concurrency: 8}
}

// Client fetches kline pages from the provider's REST API.
type Client struct {
	cfg   Config
	pool  *netpool.Pool
	cache reqcache.Cache // optional, short-lived page response cache
}

// New constructs a Client backed by pool for transport.
func New(cfg Config, pool *netpool.Pool) *Client {
	return &Client{cfg: cfg, pool: pool}
}

// WithCache attaches an optional response cache, returning c for chaining.
// A page response already served within the cache's TTL is replayed without
// another network round trip; this never substitutes for the on-disk cache
// store and carries no durability guarantee.
func (c *Client) WithCache(cache reqcache.Cache) *Client {
	c.cache = cache
	return c
}

// page is one [start,end) chunk sized to the provider's row cap.
type page struct {
	start, end time.Time
}

func (c *Client) pages(start, end time.Time, iv timegrid.Interval) []page {
	var pages []page
	pageSpan := time.Duration(c.cfg.PageLimit)
	cur := start
	for cur.Before(end) {
		var next time.Time
		if timegrid.IsCalendar(iv) {
			next = cur
			for i := int64(0); i < int64(c.cfg.PageLimit) && next.Before(end); i++ {
				next = timegrid.Step(iv, next)
			}
		} else {
			next = cur.Add(time.Duration(timegrid.Micros(iv)) * time.Microsecond * pageSpan)
		}
		if next.After(end) {
			next = end
		}
		pages = append(pages, page{start: cur, end: next})
		cur = next
	}
	return pages
}

// Fetch retrieves all rows for [start,end) on iv, dispatching pages
// concurrently bounded by cfg.Concurrency. The currently-open bar (whose
// close_time has not yet elapsed) is dropped, per the partial-bar
// exclusion policy; now is passed explicitly so callers control the
// exclusion boundary (important for deterministic tests).
func (c *Client) Fetch(ctx context.Context, market, symbol string, iv timegrid.Interval, start, end, now time.Time) (kline.Frame, error) {
	pages := c.pages(start, end, iv)
	if len(pages) == 0 {
		return kline.Empty(iv), nil
	}

	sem := make(chan struct{}, c.cfg.Concurrency)
	var wg sync.WaitGroup
	results := make([]kline.Frame, len(pages))
	errs := make([]error, len(pages))

	for i, p := range pages {
		wg.Add(1)
		go func(i int, p page) {
			defer wg.Done()
			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				errs[i] = stageerr.Cancelled()
				return
			}
			defer func() { <-sem }()
			f, err := c.fetchPage(ctx, market, symbol, iv, p.start, p.end)
			results[i] = f
			errs[i] = err
		}(i, p)
	}
	wg.Wait()

	var frames []kline.Frame
	for i, err := range errs {
		if err != nil {
			var se *stageerr.Error
			if ok := asStageErr(err, &se); ok && (se.Kind == stageerr.KindRateLimited || se.Kind == stageerr.KindCancelled) {
				return kline.Empty(iv), err
			}
			// HTTPError4xx and other fatal-for-this-chunk errors are
			// recorded but do not block the other pages.
			continue
		}
		frames = append(frames, results[i])
	}

	merged := kline.Concat(frames...)
	merged.Rows = dropPartialBar(merged.Rows, now)
	return merged, nil
}

func dropPartialBar(rows []kline.Row, now time.Time) []kline.Row {
	out := rows[:0:0]
	for _, r := range rows {
		if r.CloseTime.After(now) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func (c *Client) fetchPage(ctx context.Context, market, symbol string, iv timegrid.Interval, start, end time.Time) (kline.Frame, error) {
	base, ok := c.cfg.BaseURLByMarket[market]
	if !ok {
		return kline.Empty(iv), stageerr.UserInput(fmt.Sprintf("restapi: no base URL configured for market %q", market))
	}
	cacheKey := pageCacheKey(market, symbol, iv, start, end)

	var body []byte
	if c.cache != nil {
		if cached, hit, err := c.cache.Get(ctx, cacheKey); err == nil && hit {
			body = cached
		}
	}

	if body == nil {
		q := url.Values{}
		q.Set("symbol", symbol)
		q.Set("interval", string(iv))
		q.Set("startTime", strconv.FormatInt(start.UnixMilli(), 10))
		q.Set("endTime", strconv.FormatInt(end.UnixMilli(), 10))
		q.Set("limit", strconv.Itoa(c.cfg.PageLimit))

		req, err := http.NewRequest(http.MethodGet, base+"/klines?"+q.Encode(), nil)
		if err != nil {
			return kline.Empty(iv), stageerr.UserInput(err.Error())
		}

		resp, err := c.pool.Do(ctx, req, "restapi")
		if err != nil {
			return kline.Empty(iv), err
		}
		defer resp.Body.Close()

		weight := ReadWeightHeaders(resp.Header)
		_ = weight // parsed but not acted on; nothing downstream receives it

		if resp.StatusCode >= 400 && resp.StatusCode < 500 {
			return kline.Empty(iv), stageerr.PermanentForSegment("restapi: client error", fmt.Errorf("status %d", resp.StatusCode))
		}
		if resp.StatusCode >= 500 {
			return kline.Empty(iv), stageerr.Transient("restapi: server error", fmt.Errorf("status %d", resp.StatusCode))
		}

		read, err := io.ReadAll(resp.Body)
		if err != nil {
			return kline.Empty(iv), stageerr.Transient("restapi: read response failed", err)
		}
		body = read

		if c.cache != nil {
			_ = c.cache.Set(ctx, cacheKey, body, 0)
		}
	}

	var raw [][]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return kline.Empty(iv), stageerr.Transient("restapi: json decode failed", err)
	}
	if len(raw) == 0 {
		return kline.Empty(iv), nil
	}

	rows := make([]kline.Row, 0, len(raw))
	for _, rec := range raw {
		row, err := parseRow(rec, iv)
		if err != nil {
			return kline.Empty(iv), stageerr.PermanentForSegment("restapi: malformed row", err)
		}
		rows = append(rows, row)
	}
	return kline.Frame{Interval: iv, Rows: rows}, nil
}

func parseRow(rec []json.RawMessage, iv timegrid.Interval) (kline.Row, error) {
	if len(rec) < 11 {
		return kline.Row{}, fmt.Errorf("restapi: expected at least 11 fields, got %d", len(rec))
	}
	var openMs int64
	if err := json.Unmarshal(rec[0], &openMs); err != nil {
		return kline.Row{}, err
	}
	var open, high, low, cl, vol, quoteVol, takerBuyVol, takerBuyQuoteVol string
	var trades int64
	var closeMs int64
	if err := json.Unmarshal(rec[1], &open); err != nil {
		return kline.Row{}, err
	}
	json.Unmarshal(rec[2], &high)
	json.Unmarshal(rec[3], &low)
	json.Unmarshal(rec[4], &cl)
	json.Unmarshal(rec[5], &vol)
	json.Unmarshal(rec[6], &closeMs)
	json.Unmarshal(rec[7], &quoteVol)
	json.Unmarshal(rec[8], &trades)
	json.Unmarshal(rec[9], &takerBuyVol)
	json.Unmarshal(rec[10], &takerBuyQuoteVol)

	// REST is authoritative; no manual alignment is applied to its
	// response timestamps.
	openTime := time.UnixMilli(openMs).UTC()
	closeTime := time.UnixMilli(closeMs).UTC()

	return kline.Row{
		OpenTime:            openTime,
		Open:                parseFloat(open),
		High:                parseFloat(high),
		Low:                 parseFloat(low),
		Close:               parseFloat(cl),
		Volume:              parseFloat(vol),
		CloseTime:           closeTime,
		QuoteVolume:         parseFloat(quoteVol),
		Trades:              trades,
		TakerBuyVolume:      parseFloat(takerBuyVol),
		TakerBuyQuoteVolume: parseFloat(takerBuyQuoteVol),
		Source:              kline.SourceREST,
	}, nil
}

func parseFloat(s string) float64 {
	v, _ := strconv.ParseFloat(s, 64)
	return v
}

func pageCacheKey(market, symbol string, iv timegrid.Interval, start, end time.Time) string {
	return fmt.Sprintf("restapi:%s:%s:%s:%d:%d", market, symbol, iv, start.UnixMilli(), end.UnixMilli())
}

func asStageErr(err error, out **stageerr.Error) bool {
	se, ok := err.(*stageerr.Error)
	if ok {
		*out = se
	}
	return ok
}
