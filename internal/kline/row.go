// Package kline defines the canonical kline row schema and the Frame type
// that enforces it. The schema is the ABI between the cache, Vision and
// REST sources: every source, however it fetches data, converges on Row.
package kline

import "time"

// Source tags which stage of the Failover Control Protocol produced a
// row, used for the optional provenance column.
type Source string

const (
	SourceCache  Source = "CACHE"
	SourceVision Source = "VISION"
	SourceREST   Source = "REST"
)

// precedence ranks sources for dedup: higher wins. Freshness beats
// cheapness, per FCP merge policy.
var precedence = map[Source]int{
	SourceCache:  0,
	SourceVision: 1,
	SourceREST:   2,
}

// Precedence reports the merge precedence rank of s; higher wins ties.
func Precedence(s Source) int {
	return precedence[s]
}

// Row is one aggregated kline record. Field order here is the fixed
// canonical column order referenced throughout the frame validators.
type Row struct {
	OpenTime            time.Time
	Open                float64
	High                float64
	Low                 float64
	Close               float64
	Volume              float64
	CloseTime           time.Time
	QuoteVolume         float64
	Trades              int64
	TakerBuyVolume      float64
	TakerBuyQuoteVolume float64
	// Source is populated only when the caller requested provenance
	// (include_source_info); otherwise it is the zero value and ignored
	// by validation and equality checks that matter for the schema.
	Source Source
}

// Valid reports whether r satisfies the per-row numeric invariants from
// the data model: non-negative magnitudes and the OHLC ordering
// constraint low <= min(open,close) <= max(open,close) <= high.
func (r Row) Valid() bool {
	if r.Open < 0 || r.High < 0 || r.Low < 0 || r.Close < 0 || r.Volume < 0 ||
		r.QuoteVolume < 0 || r.Trades < 0 || r.TakerBuyVolume < 0 || r.TakerBuyQuoteVolume < 0 {
		return false
	}
	lo := min(r.Open, r.Close)
	hi := max(r.Open, r.Close)
	if r.Low > lo || hi > r.High {
		return false
	}
	if r.TakerBuyVolume > r.Volume || r.TakerBuyQuoteVolume > r.QuoteVolume {
		return false
	}
	return true
}
