// Package fcp implements the Failover Control Protocol orchestrator: the
// Cache -> Vision -> REST state machine that narrows a missing-range set
// stage by stage and merges the results into one canonical frame,
// following the structural shape of the teacher's provider fallback
// chain (health-gated, ordered fallback with per-stage classification).
package fcp

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/terrylica/kline-fcp/internal/cachestore"
	"github.com/terrylica/kline-fcp/internal/kline"
	"github.com/terrylica/kline-fcp/internal/obsmetrics"
	"github.com/terrylica/kline-fcp/internal/rangeset"
	"github.com/terrylica/kline-fcp/internal/restapi"
	"github.com/terrylica/kline-fcp/internal/stageerr"
	"github.com/terrylica/kline-fcp/internal/timegrid"
	"github.com/terrylica/kline-fcp/internal/vision"
)

// State names one node of the orchestrator's state machine.
type State string

const (
	StateInit   State = "INIT"
	StateCache  State = "CACHE"
	StateVision State = "VISION"
	StateREST   State = "REST"
	StateMerge  State = "MERGE"
	StateDone   State = "DONE"
	StateFailed State = "FAILED"
)

// Request is one FCP invocation.
type Request struct {
	Provider          string
	Market            string
	Symbol            string
	Interval          timegrid.Interval
	Start, End        time.Time
	Now               time.Time
	IncludeProvenance bool
	WritebackREST     bool // opportunistically cache REST-sourced rows
	// OnlyStage restricts execution to a single stage (CACHE, VISION, or
	// REST), bypassing the rest of the fallback chain. The zero value
	// runs the full chain.
	OnlyStage State
	// SkipCache bypasses the cache read while leaving the Vision->REST
	// failover chain intact. Distinct from OnlyStage: it narrows which
	// source may ANSWER the request, not how many stages run.
	SkipCache bool
}

// Result is the outcome of one FCP run.
type Result struct {
	Frame       kline.Frame
	State       State
	Cancelled   bool
	Unresolved  rangeset.Set // sub-ranges accepted as "data does not exist"
}

// Orchestrator wires the three stages together.
type Orchestrator struct {
	Cache   *cachestore.Store
	Vision  *vision.Client
	REST    *restapi.Client
	Metrics *obsmetrics.Registry // optional
}

// New constructs an Orchestrator from its three stage clients.
func New(cache *cachestore.Store, visionClient *vision.Client, restClient *restapi.Client) *Orchestrator {
	return &Orchestrator{Cache: cache, Vision: visionClient, REST: restClient}
}

func (o *Orchestrator) observe(stage State, outcome string, d time.Duration) {
	if o.Metrics == nil {
		return
	}
	o.Metrics.StageDuration.WithLabelValues(string(stage)).Observe(d.Seconds())
	o.Metrics.StageOutcomes.WithLabelValues(string(stage), outcome).Inc()
}

// Run executes the full INIT->CACHE->VISION->REST->MERGE->DONE/FAILED
// pipeline for req.
func (o *Orchestrator) Run(ctx context.Context, req Request) (Result, error) {
	requestID := uuid.New().String()
	logger := log.With().Str("request_id", requestID).Str("symbol", req.Symbol).Str("interval", string(req.Interval)).Logger()

	whole := rangeset.Range{Start: timegrid.Floor(req.Start, req.Interval), End: timegrid.Ceil(req.End, req.Interval)}
	missing := rangeset.Set{whole}
	var collected []kline.Frame
	var unresolved rangeset.Set

	logger.Debug().Str("state", string(StateInit)).Msg("fcp: starting request")

	// CACHE
	if (req.OnlyStage == "" && !req.SkipCache) || req.OnlyStage == StateCache {
		if ctx.Err() != nil {
			return Result{State: StateFailed, Cancelled: true}, stageerr.Cancelled()
		}
		stageStart := time.Now()
		collected, missing = o.runCacheStage(ctx, req, missing, collected)
		outcome := "partial"
		if missing.Empty() {
			outcome = "hit"
		}
		o.observe(StateCache, outcome, time.Since(stageStart))
		logger.Debug().Str("state", string(StateCache)).Int("missing_ranges", len(missing)).Msg("fcp: stage complete")
		if missing.Empty() || req.OnlyStage == StateCache {
			return o.merge(req, collected, missing)
		}
	}

	// VISION
	if req.OnlyStage == "" || req.OnlyStage == StateVision {
		if ctx.Err() != nil {
			return Result{State: StateFailed, Cancelled: true}, stageerr.Cancelled()
		}
		stageStart := time.Now()
		var forwardToREST rangeset.Set
		collected, missing, forwardToREST = o.runVisionStage(ctx, req, missing, collected)
		outcome := "partial"
		if missing.Empty() {
			outcome = "hit"
		}
		o.observe(StateVision, outcome, time.Since(stageStart))
		logger.Debug().Str("state", string(StateVision)).Int("missing_ranges", len(missing)).Msg("fcp: stage complete")
		if req.OnlyStage == StateVision {
			return o.merge(req, collected, append(missing, forwardToREST...))
		}
		missing = append(missing, forwardToREST...)
		if missing.Empty() {
			return o.merge(req, collected, unresolved)
		}
	}

	// REST
	if ctx.Err() != nil {
		return Result{State: StateFailed, Cancelled: true}, stageerr.Cancelled()
	}
	restStart := time.Now()
	var err error
	collected, unresolved, err = o.runRESTStage(ctx, req, missing, collected)
	if err != nil {
		var se *stageerr.Error
		if asStageErr(err, &se) && se.Kind == stageerr.KindCancelled {
			o.observe(StateREST, "cancelled", time.Since(restStart))
			return Result{State: StateFailed, Cancelled: true}, err
		}
		if asStageErr(err, &se) && se.Kind == stageerr.KindRateLimited {
			o.observe(StateREST, "rate_limited", time.Since(restStart))
			return Result{State: StateFailed}, err
		}
	}
	restOutcome := "hit"
	if len(unresolved) > 0 {
		restOutcome = "unresolved"
		if o.Metrics != nil {
			o.Metrics.UnresolvedRanges.Add(float64(len(unresolved)))
		}
	}
	o.observe(StateREST, restOutcome, time.Since(restStart))
	logger.Debug().Str("state", string(StateREST)).Int("unresolved_ranges", len(unresolved)).Msg("fcp: stage complete")

	return o.merge(req, collected, unresolved)
}

func (o *Orchestrator) runCacheStage(ctx context.Context, req Request, missing rangeset.Set, collected []kline.Frame) ([]kline.Frame, rangeset.Set) {
	days := daysOverlapping(req.Start, req.End)
	for _, day := range days {
		rows, ok := o.Cache.Read(ctx, cachestore.Key{
			Provider: req.Provider, Market: req.Market, Symbol: req.Symbol, Interval: req.Interval, Day: day,
		})
		if !ok {
			if o.Metrics != nil {
				o.Metrics.CacheMisses.Inc()
			}
			continue
		}
		if o.Metrics != nil {
			o.Metrics.CacheHits.Inc()
		}
		collected = append(collected, kline.Frame{Interval: req.Interval, Rows: rows})
	}
	return collected, recomputeMissing(missing, collected, req.Interval)
}

func (o *Orchestrator) runVisionStage(ctx context.Context, req Request, missing rangeset.Set, collected []kline.Frame) ([]kline.Frame, rangeset.Set, rangeset.Set) {
	days := daysForRanges(missing)
	var toFetch []time.Time
	var forwardToREST rangeset.Set
	for _, day := range days {
		if vision.IsFresh(day, req.Now) {
			forwardToREST = append(forwardToREST, rangeset.Range{Start: day, End: day.AddDate(0, 0, 1)})
			continue
		}
		toFetch = append(toFetch, day)
	}

	type dayResult struct {
		frame   kline.Frame
		outcome vision.Outcome
		err     error
	}
	results := make([]dayResult, len(toFetch))
	sem := make(chan struct{}, 32)
	done := make(chan int, len(toFetch))
	for i, day := range toFetch {
		go func(i int, day time.Time) {
			sem <- struct{}{}
			defer func() { <-sem }()
			f, outcome, err := o.Vision.FetchDay(ctx, req.Market, req.Symbol, req.Interval, day, req.Now)
			results[i] = dayResult{frame: f, outcome: outcome, err: err}
			done <- i
		}(i, day)
	}
	for range toFetch {
		<-done
	}

	for i, day := range toFetch {
		r := results[i]
		if r.err != nil || r.outcome != vision.OutcomeFilled {
			continue
		}
		collected = append(collected, r.frame)
		key := cachestore.Key{Provider: req.Provider, Market: req.Market, Symbol: req.Symbol, Interval: req.Interval, Day: day}
		if err := o.Cache.Write(ctx, key, r.frame.Rows); err != nil {
			log.Warn().Err(err).Msg("fcp: opportunistic cache write after vision fetch failed")
		}
	}

	return collected, recomputeMissing(missing, collected, req.Interval), forwardToREST
}

func (o *Orchestrator) runRESTStage(ctx context.Context, req Request, missing rangeset.Set, collected []kline.Frame) ([]kline.Frame, rangeset.Set, error) {
	var unresolved rangeset.Set
	for _, r := range missing {
		f, err := o.REST.Fetch(ctx, req.Market, req.Symbol, req.Interval, r.Start, r.End, req.Now)
		if err != nil {
			var se *stageerr.Error
			if asStageErr(err, &se) && (se.Kind == stageerr.KindCancelled || se.Kind == stageerr.KindRateLimited) {
				return collected, unresolved, err
			}
			unresolved = append(unresolved, r)
			continue
		}
		collected = append(collected, f)
		if req.WritebackREST {
			o.writebackREST(ctx, req, f)
		}
	}
	// After REST, any range still not fully covered is accepted as
	// "data does not exist" rather than re-retried.
	stillMissing := recomputeMissing(missing, collected, req.Interval)
	unresolved = append(unresolved, stillMissing...)
	return collected, unresolved, nil
}

func (o *Orchestrator) writebackREST(ctx context.Context, req Request, f kline.Frame) {
	byDay := make(map[string][]kline.Row)
	for _, r := range f.Rows {
		d := r.OpenTime.Format("2006-01-02")
		byDay[d] = append(byDay[d], r)
	}
	for d, rows := range byDay {
		day, _ := time.Parse("2006-01-02", d)
		key := cachestore.Key{Provider: req.Provider, Market: req.Market, Symbol: req.Symbol, Interval: req.Interval, Day: day.UTC()}
		if err := o.Cache.Write(ctx, key, rows); err != nil {
			log.Warn().Err(err).Msg("fcp: opportunistic cache write after rest fetch failed")
		}
	}
}

func (o *Orchestrator) merge(req Request, collected []kline.Frame, unresolved rangeset.Set) (Result, error) {
	merged := kline.Concat(collected...)
	merged = kline.Filter(merged, req.Start, req.End)
	if !req.IncludeProvenance {
		for i := range merged.Rows {
			merged.Rows[i].Source = ""
		}
	}
	if err := kline.Validate(merged); err != nil {
		return Result{State: StateFailed}, stageerr.SchemaViolation("fcp: final frame failed validation", err)
	}
	return Result{Frame: merged, State: StateDone, Unresolved: unresolved}, nil
}

func recomputeMissing(prev rangeset.Set, collected []kline.Frame, iv timegrid.Interval) rangeset.Set {
	var present []time.Time
	for _, f := range collected {
		for _, r := range f.Rows {
			present = append(present, r.OpenTime)
		}
	}
	var out rangeset.Set
	for _, r := range prev {
		out = append(out, rangeset.Missing(r, present, iv)...)
	}
	return out
}

func daysOverlapping(start, end time.Time) []time.Time {
	var days []time.Time
	d := time.Date(start.Year(), start.Month(), start.Day(), 0, 0, 0, 0, time.UTC)
	for d.Before(end) {
		days = append(days, d)
		d = d.AddDate(0, 0, 1)
	}
	return days
}

func daysForRanges(ranges rangeset.Set) []time.Time {
	seen := make(map[string]time.Time)
	for _, r := range ranges {
		for _, d := range daysOverlapping(r.Start, r.End) {
			seen[d.Format("2006-01-02")] = d
		}
	}
	out := make([]time.Time, 0, len(seen))
	for _, d := range seen {
		out = append(out, d)
	}
	return out
}

func asStageErr(err error, out **stageerr.Error) bool {
	se, ok := err.(*stageerr.Error)
	if ok {
		*out = se
	}
	return ok
}
