package main

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/terrylica/kline-fcp/internal/auditlog/postgres"
	"github.com/terrylica/kline-fcp/internal/cachestore"
	"github.com/terrylica/kline-fcp/internal/config"
	"github.com/terrylica/kline-fcp/internal/datasource"
	"github.com/terrylica/kline-fcp/internal/netpool/circuit"
	"github.com/terrylica/kline-fcp/internal/netpool/ratelimit"
)

// buildProviderLimits turns the configured per-provider envelopes into the
// shared rate-limit and circuit-breaker managers datasource.Manager
// optionally consumes.
func buildProviderLimits(cfg config.Config) (*ratelimit.Manager, *circuit.Manager) {
	if len(cfg.Providers) == 0 {
		return nil, nil
	}
	limits := ratelimit.NewManager()
	breakers := circuit.NewManager()
	for name, p := range cfg.Providers {
		limits.Register(name, ratelimit.New(p.RPS, p.Burst))
		breakerCfg := circuit.DefaultConfig(name)
		if p.Circuit.ConsecutiveFailures > 0 {
			breakerCfg.ConsecutiveFailures = p.Circuit.ConsecutiveFailures
		}
		if p.Circuit.ErrorRateThreshold > 0 {
			breakerCfg.ErrorRateThreshold = p.Circuit.ErrorRateThreshold
		}
		if p.Circuit.IntervalSec > 0 {
			breakerCfg.Interval = p.Circuit.Interval()
		}
		if p.Circuit.TimeoutSec > 0 {
			breakerCfg.Timeout = p.Circuit.Timeout()
		}
		breakers.Register(breakerCfg)
	}
	return limits, breakers
}

// buildAuditNotifier opens the optional Postgres audit trail when a DSN is
// configured, returning both the quarantine notifier and the per-request
// fetch auditor datasource.Manager consumes. Nil values (and nil close
// func) are returned otherwise, which datasource.Manager treats as a
// silent no-op.
func buildAuditNotifier(cfg config.Config) (cachestore.QuarantineNotifier, datasource.FetchAuditor, func() error, error) {
	if cfg.Audit.DSN == "" {
		return nil, nil, nil, nil
	}
	db, err := postgres.Open(cfg.Audit.DSN)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("klinefcp: opening audit database: %w", err)
	}
	repo := postgres.New(db, 0)
	log.Info().Msg("klinefcp: audit trail enabled")
	return repo, fetchAuditAdapter{repo}, repo.Close, nil
}

// fetchAuditAdapter translates datasource's audit record shape into the
// postgres repo's persistence-tagged FetchRecord, keeping internal/datasource
// free of a direct dependency on the Postgres driver.
type fetchAuditAdapter struct {
	repo *postgres.Repo
}

func (a fetchAuditAdapter) RecordFetch(ctx context.Context, rec datasource.AuditRecord) error {
	return a.repo.RecordFetch(ctx, postgres.FetchRecord{
		RequestID:    rec.RequestID,
		Provider:     rec.Provider,
		Market:       rec.Market,
		Symbol:       rec.Symbol,
		Interval:     rec.Interval,
		RowsReturned: rec.RowsReturned,
		Outcome:      rec.Outcome,
		ErrorDetail:  rec.ErrorDetail,
		StartedAt:    rec.StartedAt,
		FinishedAt:   rec.FinishedAt,
	})
}
