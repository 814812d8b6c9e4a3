package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/snowflakedb/gosnowflake" // snowflake database/sql driver

	"github.com/wikitrends/pageview-ingest/internal/archive"
	"github.com/wikitrends/pageview-ingest/internal/catalog"
	"github.com/wikitrends/pageview-ingest/internal/config"
	"github.com/wikitrends/pageview-ingest/internal/download"
	"github.com/wikitrends/pageview-ingest/internal/extract"
	"github.com/wikitrends/pageview-ingest/internal/ingest"
	"github.com/wikitrends/pageview-ingest/internal/logging"
	"github.com/wikitrends/pageview-ingest/internal/metrics"
	"github.com/wikitrends/pageview-ingest/internal/resolver"
	"github.com/wikitrends/pageview-ingest/internal/warehouse"
)

// Version information (set via ldflags)
var (
	Version = "v0.1.0"
	GitSHA  = "unknown"
)

func main() {
	os.Exit(run())
}

func run() int {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration error: %v\n", err)
		return 2
	}

	log := logging.Setup(logging.Config(cfg.Logging))
	log.Info("pageview ingester starting", "version", Version, "git_sha", GitSHA)

	metrics.Init("pageview_ingest")
	metrics.Serve(metrics.Config(cfg.Metrics), log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Graceful shutdown handler
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		sig := <-ch
		log.Info("received signal, canceling run", "signal", sig.String())
		cancel()
	}()

	wh, err := warehouse.NewSnowflake(ctx, cfg.Snowflake, logging.Component(log, "warehouse"))
	if err != nil {
		log.Error("failed to connect to warehouse", "error", err)
		return 1
	}
	defer wh.Close()

	mirror, err := archive.New(ctx, cfg.Archive.BucketURL, logging.Component(log, "archive"))
	if err != nil {
		log.Error("failed to open archive bucket", "error", err)
		return 1
	}
	defer mirror.Close()

	cat, err := catalog.NewWriter(ctx, cfg.Catalog.PostgresDSN)
	if err != nil {
		// The catalog is audit-only; a broken catalog should not block loads.
		log.Warn("load-history catalog unavailable", "error", err)
		cat, _ = catalog.NewWriter(ctx, "")
	}
	defer cat.Close()

	res := resolver.New(cfg.Ingest.BaseURL, cfg.Ingest.WorkDir)
	fetcher := download.New(cfg.Ingest.DownloadTimeout, logging.Component(log, "download"))
	extractor := extract.New(logging.Component(log, "extract"))

	driver := ingest.New(cfg, res, fetcher, extractor, wh, mirror, cat,
		logging.Component(log, "driver"))

	report, err := driver.Run(ctx)
	if err != nil {
		log.Error("run aborted", "error", err)
		return 1
	}

	if !report.OK() {
		return 1
	}
	return 0
}
