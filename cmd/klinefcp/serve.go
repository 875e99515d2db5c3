package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/terrylica/kline-fcp/internal/datasource"
	"github.com/terrylica/kline-fcp/internal/httpapi"
	"github.com/terrylica/kline-fcp/internal/netpool"
	"github.com/terrylica/kline-fcp/internal/obsmetrics"
)

func newServeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the ops HTTP surface (/healthz, /metrics, /v1/klines)",
		RunE:  runServe,
	}
	cmd.Flags().String("addr", "127.0.0.1:8090", "listen address")
	cmd.Flags().String("provider", "binance", "upstream provider name")
	cmd.Flags().String("cache-root", "./cache-data", "on-disk cache root directory")
	cmd.Flags().String("vision-host", "data.binance.vision", "Vision archive host")
	cmd.Flags().StringToString("rest-base-url", map[string]string{"SPOT": "https://api.binance.com/api/v3"},
		"market=base-url pairs, e.g. SPOT=https://api.binance.com/api/v3")
	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	addr, _ := cmd.Flags().GetString("addr")
	provider, _ := cmd.Flags().GetString("provider")

	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	cacheRoot := cfg.Cache.Root
	if cmd.Flags().Changed("cache-root") {
		cacheRoot, _ = cmd.Flags().GetString("cache-root")
	}
	visionHost := cfg.Vision.Host
	if cmd.Flags().Changed("vision-host") {
		visionHost, _ = cmd.Flags().GetString("vision-host")
	}
	restBaseURL := cfg.REST.BaseURLByMarket
	if cmd.Flags().Changed("rest-base-url") || len(restBaseURL) == 0 {
		restBaseURL, _ = cmd.Flags().GetStringToString("rest-base-url")
	}

	limits, breakers := buildProviderLimits(cfg)
	notifier, fetchAudit, closeAudit, err := buildAuditNotifier(cfg)
	if err != nil {
		return err
	}
	if closeAudit != nil {
		defer closeAudit()
	}

	metrics := obsmetrics.New(prometheus.DefaultRegisterer)
	manager := datasource.New(datasource.Config{
		Provider:         provider,
		CacheRoot:        cacheRoot,
		CacheMaxAge:      cfg.Cache.MaxAge(),
		VisionHost:       visionHost,
		RESTBaseURL:      restBaseURL,
		RESTPageLimit:    cfg.REST.PageLimit,
		RESTConcurrency:  cfg.REST.Concurrency,
		ArchivePool:      netpool.DefaultArchiveConfig(),
		RESTPool:         netpool.DefaultRESTConfig(),
		RateLimits:       limits,
		Breakers:         breakers,
		QuarantineNotify: notifier,
		FetchAudit:       fetchAudit,
		Metrics:          metrics,
	})

	httpCfg := httpapi.DefaultConfig()
	httpCfg.Addr = addr
	server := httpapi.New(httpCfg, manager, metrics)

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("healthz", fmt.Sprintf("http://%s/healthz", addr)).
			Str("metrics", fmt.Sprintf("http://%s/metrics", addr)).
			Str("klines", fmt.Sprintf("http://%s/v1/klines", addr)).
			Msg("klinefcp: ops surface available")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case <-quit:
		log.Info().Msg("klinefcp: shutdown signal received")
	case err := <-serverErr:
		return fmt.Errorf("httpapi: listen failed: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}
