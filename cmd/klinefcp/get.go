package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/terrylica/kline-fcp/internal/datasource"
	"github.com/terrylica/kline-fcp/internal/kline"
	"github.com/terrylica/kline-fcp/internal/netpool"
)

func newGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Fetch a kline window, merging cache, Vision, and REST",
		RunE:  runGet,
	}
	cmd.Flags().String("symbol", "", "trading symbol, e.g. BTCUSDT (required)")
	cmd.Flags().String("market", "SPOT", "market segment (SPOT, FUTURES_UM, FUTURES_CM)")
	cmd.Flags().String("interval", "1h", "kline interval, e.g. 1m, 1h, 1d, 1w, 1M")
	cmd.Flags().String("start", "", "RFC3339 start time (required)")
	cmd.Flags().String("end", "", "RFC3339 end time (required)")
	cmd.Flags().String("output", "table", "output format: table or json")
	cmd.Flags().String("enforce-source", "", "restrict to one stage: CACHE, VISION, or REST")
	cmd.Flags().String("provider", "binance", "upstream provider name")
	cmd.Flags().String("cache-root", "./cache-data", "on-disk cache root directory")
	cmd.Flags().String("vision-host", "data.binance.vision", "Vision archive host")
	cmd.Flags().String("rest-base-url", "https://api.binance.com/api/v3", "REST base URL for the market")
	_ = cmd.MarkFlagRequired("symbol")
	_ = cmd.MarkFlagRequired("start")
	_ = cmd.MarkFlagRequired("end")
	return cmd
}

func runGet(cmd *cobra.Command, args []string) error {
	symbol, _ := cmd.Flags().GetString("symbol")
	market, _ := cmd.Flags().GetString("market")
	interval, _ := cmd.Flags().GetString("interval")
	startStr, _ := cmd.Flags().GetString("start")
	endStr, _ := cmd.Flags().GetString("end")
	output, _ := cmd.Flags().GetString("output")
	enforce, _ := cmd.Flags().GetString("enforce-source")
	provider, _ := cmd.Flags().GetString("provider")

	start, err := time.Parse(time.RFC3339, startStr)
	if err != nil {
		return fatalf("invalid --start: %w", err)
	}
	end, err := time.Parse(time.RFC3339, endStr)
	if err != nil {
		return fatalf("invalid --end: %w", err)
	}

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
	restBaseURL := cfg.REST.BaseURLByMarket[market]
	if cmd.Flags().Changed("rest-base-url") || restBaseURL == "" {
		restBaseURL, _ = cmd.Flags().GetString("rest-base-url")
	}

	limits, breakers := buildProviderLimits(cfg)
	notifier, fetchAudit, closeAudit, err := buildAuditNotifier(cfg)
	if err != nil {
		return err
	}
	if closeAudit != nil {
		defer closeAudit()
	}

	manager := datasource.New(datasource.Config{
		Provider:         provider,
		CacheRoot:        cacheRoot,
		CacheMaxAge:      cfg.Cache.MaxAge(),
		VisionHost:       visionHost,
		RESTBaseURL:      map[string]string{market: restBaseURL},
		RESTPageLimit:    cfg.REST.PageLimit,
		RESTConcurrency:  cfg.REST.Concurrency,
		ArchivePool:      netpool.DefaultArchiveConfig(),
		RESTPool:         netpool.DefaultRESTConfig(),
		RateLimits:       limits,
		Breakers:         breakers,
		QuarantineNotify: notifier,
		FetchAudit:       fetchAudit,
	})

	opts := datasource.DefaultOptions()
	switch enforce {
	case "CACHE":
		opts.EnforceSource = datasource.EnforceCache
	case "VISION":
		opts.EnforceSource = datasource.EnforceVision
	case "REST":
		opts.EnforceSource = datasource.EnforceREST
	case "":
		// ANY, the default
	default:
		return fatalf("invalid --enforce-source %q: want CACHE, VISION, or REST", enforce)
	}

	frame, err := manager.GetData(context.Background(), datasource.Request{
		Symbol: symbol, Market: market, Interval: interval, Start: start, End: end,
	}, opts)
	if err != nil {
		return err
	}

	if output == "json" {
		return json.NewEncoder(os.Stdout).Encode(frame)
	}
	return printTable(frame)
}

func printTable(frame kline.Frame) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	header := "OPEN_TIME\tOPEN\tHIGH\tLOW\tCLOSE\tVOLUME\tTRADES"
	if len(frame.Rows) > 0 && frame.Rows[0].Source != "" {
		header += "\tSOURCE"
	}
	fmt.Fprintln(w, header)
	for _, r := range frame.Rows {
		line := fmt.Sprintf("%s\t%g\t%g\t%g\t%g\t%g\t%d",
			r.OpenTime.Format(time.RFC3339), r.Open, r.High, r.Low, r.Close, r.Volume, r.Trades)
		if r.Source != "" {
			line += "\t" + string(r.Source)
		}
		fmt.Fprintln(w, line)
	}
	return w.Flush()
}
