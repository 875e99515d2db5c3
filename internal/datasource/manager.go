// Package datasource is the public façade (C9): input validation, pipeline
// construction, and final canonical-form enforcement around the FCP
// orchestrator, following the teacher's Manager/Pipeline entrypoint shape.
package datasource

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/terrylica/kline-fcp/internal/cachestore"
	"github.com/terrylica/kline-fcp/internal/fcp"
	"github.com/terrylica/kline-fcp/internal/kline"
	"github.com/terrylica/kline-fcp/internal/netpool"
	"github.com/terrylica/kline-fcp/internal/netpool/circuit"
	"github.com/terrylica/kline-fcp/internal/netpool/ratelimit"
	"github.com/terrylica/kline-fcp/internal/obsmetrics"
	"github.com/terrylica/kline-fcp/internal/reqcache"
	"github.com/terrylica/kline-fcp/internal/restapi"
	"github.com/terrylica/kline-fcp/internal/timegrid"
	"github.com/terrylica/kline-fcp/internal/vision"
)

// symbolPattern enforces length and character-class defence in depth
// against downstream use of the symbol in file paths and URLs.
var symbolPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{1,30}$`)

// AuditRecord describes one completed GetData invocation for the optional
// fetch audit trail, addressed per SPEC_FULL.md §3 (the request UUID is the
// audit-log foreign key).
type AuditRecord struct {
	RequestID    string
	Provider     string
	Market       string
	Symbol       string
	Interval     string
	RowsReturned int
	Outcome      string // done, failed, cancelled
	ErrorDetail  string
	StartedAt    time.Time
	FinishedAt   time.Time
}

// FetchAuditor persists one AuditRecord per GetData call. Implementations
// must not block the caller on a slow or unreachable audit store; errors are
// logged, never surfaced to GetData's caller.
type FetchAuditor interface {
	RecordFetch(ctx context.Context, rec AuditRecord) error
}

// Config wires together everything Manager needs to construct a pipeline.
// All fields are read-only after New.
type Config struct {
	Provider         string
	CacheRoot        string
	CacheMaxAge      time.Duration
	VisionHost       string
	RESTBaseURL      map[string]string // by market
	RESTPageLimit    int
	RESTConcurrency  int
	ArchivePool      netpool.Config
	RESTPool         netpool.Config
	RateLimits       *ratelimit.Manager   // optional
	Breakers         *circuit.Manager     // optional
	Metrics          *obsmetrics.Registry // optional
	ResponseCache    reqcache.Cache       // optional, fronts REST page fetches
	QuarantineNotify cachestore.QuarantineNotifier
	FetchAudit       FetchAuditor // optional
}

// Manager is the public entrypoint: GetData is its one callable.
type Manager struct {
	cfg   Config
	store *cachestore.Store
	orch  *fcp.Orchestrator
}

// New constructs a Manager and the pipeline it owns (cache store, HTTP
// pools, Vision and REST clients, orchestrator).
func New(cfg Config) *Manager {
	store := cachestore.New(cachestore.Config{
		Root:     cfg.CacheRoot,
		MaxAge:   cfg.CacheMaxAge,
		Notifier: cfg.QuarantineNotify,
	})

	var archiveLimiter, restLimiter *ratelimit.Limiter
	if cfg.RateLimits != nil {
		archiveLimiter = cfg.RateLimits.For("vision")
		restLimiter = cfg.RateLimits.For("restapi")
	}
	archivePool := netpool.New(cfg.ArchivePool, archiveLimiter, cfg.Breakers)
	restPool := netpool.New(cfg.RESTPool, restLimiter, cfg.Breakers)

	pageLimit := cfg.RESTPageLimit
	if pageLimit <= 0 {
		pageLimit = 1000
	}
	concurrency := cfg.RESTConcurrency
	if concurrency <= 0 {
		concurrency = 8
	}
	visionClient := vision.New(vision.Config{Host: cfg.VisionHost}, archivePool)
	restClient := restapi.New(restapi.Config{
		BaseURLByMarket: cfg.RESTBaseURL,
		PageLimit:       pageLimit,
		Concurrency:     concurrency,
	}, restPool)
	if cfg.ResponseCache != nil {
		restClient = restClient.WithCache(cfg.ResponseCache)
	}

	orch := fcp.New(store, visionClient, restClient)
	orch.Metrics = cfg.Metrics

	return &Manager{
		cfg:   cfg,
		store: store,
		orch:  orch,
	}
}

// Request is one GetData invocation, addressed per spec.md §6.
type Request struct {
	Symbol   string
	Market   string
	Interval string
	Start    time.Time
	End      time.Time
}

// GetData is the primary callable: validates inputs, invokes the
// orchestrator, and final-validates the resulting frame.
func (m *Manager) GetData(ctx context.Context, req Request, opts Options) (frame kline.Frame, err error) {
	requestID := uuid.New().String()
	logger := log.With().Str("request_id", requestID).Str("symbol", req.Symbol).Logger()
	startedAt := time.Now().UTC()

	if m.cfg.FetchAudit != nil {
		defer func() {
			m.recordFetchAudit(requestID, req, startedAt, frame, err, logger)
		}()
	}

	iv, err := validateInterval(req.Interval, req.Market)
	if err != nil {
		return kline.Frame{}, newError(ErrorUserInput, map[string]any{"interval": req.Interval}, err)
	}
	if err := validateSymbol(req.Symbol); err != nil {
		return kline.Frame{}, newError(ErrorUserInput, map[string]any{"symbol": req.Symbol}, err)
	}
	if !req.Start.Before(req.End) {
		return kline.Frame{}, newError(ErrorUserInput, map[string]any{"start": req.Start, "end": req.End}, fmt.Errorf("start must be before end"))
	}

	now := time.Now().UTC()
	end := req.End
	if end.After(now) {
		switch opts.FutureDatePolicy {
		case FutureError:
			return kline.Frame{}, newError(ErrorUserInput, map[string]any{"end": end, "now": now}, fmt.Errorf("end is in the future"))
		case FutureAllow:
			// leave end as requested
		default: // FutureTruncate, and the zero value
			end = now
		}
	}

	var onlyStage fcp.State
	switch opts.EnforceSource {
	case EnforceCache:
		onlyStage = fcp.StateCache
	case EnforceVision:
		onlyStage = fcp.StateVision
	case EnforceREST:
		onlyStage = fcp.StateREST
	}

	fcpReq := fcp.Request{
		Provider:          m.cfg.Provider,
		Market:            req.Market,
		Symbol:            req.Symbol,
		Interval:          iv,
		Start:             req.Start,
		End:               end,
		Now:               now,
		IncludeProvenance: opts.IncludeSourceInfo,
		WritebackREST:     opts.WritebackREST,
		OnlyStage:         onlyStage,
		SkipCache:         !opts.UseCache,
	}

	logger.Debug().Str("market", req.Market).Str("interval", req.Interval).Msg("datasource: get_data starting")

	result, err := m.orch.Run(ctx, fcpReq)
	if err != nil {
		return kline.Frame{}, fromStageErr(err)
	}
	if result.State == fcp.StateFailed {
		return kline.Frame{}, newError(ErrorSchemaViolation, nil, fmt.Errorf("orchestrator reached FAILED state"))
	}

	frame = result.Frame
	if opts.HandlePartial {
		frame.Rows = dropPartial(frame.Rows, now)
	}
	if err := kline.Validate(frame); err != nil {
		return kline.Frame{}, newError(ErrorSchemaViolation, nil, err)
	}
	return frame, nil
}

// recordFetchAudit persists one AuditRecord for a completed GetData call.
// It runs on a detached context so a caller-cancelled request still gets
// audited, and never propagates a failure back to GetData's caller: an
// audit-log outage must not affect the pipeline's own correctness.
func (m *Manager) recordFetchAudit(requestID string, req Request, startedAt time.Time, frame kline.Frame, callErr error, logger zerolog.Logger) {
	rec := AuditRecord{
		RequestID:    requestID,
		Provider:     m.cfg.Provider,
		Market:       req.Market,
		Symbol:       req.Symbol,
		Interval:     req.Interval,
		RowsReturned: len(frame.Rows),
		Outcome:      "done",
		StartedAt:    startedAt,
		FinishedAt:   time.Now().UTC(),
	}
	if callErr != nil {
		rec.ErrorDetail = callErr.Error()
		rec.Outcome = "failed"
		var dsErr *Error
		if errors.As(callErr, &dsErr) && dsErr.Kind == ErrorCancelled {
			rec.Outcome = "cancelled"
		}
	}

	auditCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.cfg.FetchAudit.RecordFetch(auditCtx, rec); err != nil {
		logger.Warn().Err(err).Msg("datasource: fetch audit write failed")
	}
}

func dropPartial(rows []kline.Row, now time.Time) []kline.Row {
	out := rows[:0:0]
	for _, r := range rows {
		if r.CloseTime.After(now) {
			continue
		}
		out = append(out, r)
	}
	return out
}

func validateSymbol(symbol string) error {
	if !symbolPattern.MatchString(symbol) {
		return fmt.Errorf("datasource: invalid symbol %q", symbol)
	}
	return nil
}

func validateInterval(token, market string) (timegrid.Interval, error) {
	iv, err := timegrid.Parse(token)
	if err != nil {
		return "", err
	}
	if iv == timegrid.I1s && market != "SPOT" {
		return "", fmt.Errorf("datasource: interval %q is only valid for the SPOT market", token)
	}
	return iv, nil
}
