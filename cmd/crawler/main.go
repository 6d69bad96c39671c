package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/catalogkit/storefront-scraper/internal/artifacts"
	"github.com/catalogkit/storefront-scraper/internal/browser"
	"github.com/catalogkit/storefront-scraper/internal/config"
	"github.com/catalogkit/storefront-scraper/internal/crawler"
	"github.com/catalogkit/storefront-scraper/internal/dataset"
	"github.com/catalogkit/storefront-scraper/internal/fetcher"
	"github.com/catalogkit/storefront-scraper/internal/models"
	"github.com/catalogkit/storefront-scraper/internal/parser"
	"github.com/catalogkit/storefront-scraper/internal/pipeline"
	"github.com/catalogkit/storefront-scraper/internal/ratelimit"
	"github.com/catalogkit/storefront-scraper/internal/session"
	"github.com/catalogkit/storefront-scraper/pkg/logger"
)

func main() {
	var (
		mode     = flag.String("mode", "", "Pipeline stage: download, parse, details, merge")
		output   = flag.String("output", "output", "Directory for artifacts and datasets")
		source   = flag.String("source", "", "Directory with previously downloaded artifacts (defaults to -output)")
		overview = flag.String("overview", "", "Path to a prior overview dataset file")
		maxPages = flag.Int("max-pages", 0, "Maximum number of listing pages to fetch (0 = until end of listing)")
		skip     = flag.Int("skip", 0, "How many leading listing pages to skip")
		timeout  = flag.Int("timeout", 0, "Per-request timeout in milliseconds (0 = configured default)")
	)
	flag.Parse()

	if *mode == "" {
		fmt.Println("Usage: crawler -mode download|parse|details|merge [flags]")
		flag.Usage()
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if *timeout > 0 {
		cfg.Fetcher.Timeout = time.Duration(*timeout) * time.Millisecond
	}

	logg := logger.New(cfg.Logging.Level, cfg.Logging.Format)
	logg.Info("starting storefront crawler", "mode", *mode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sigChan
		logg.Info("shutdown signal received")
		cancel()
	}()

	artifactDir := *output
	if *source != "" {
		artifactDir = *source
	}
	store, err := artifacts.NewStore(artifactDir)
	if err != nil {
		logg.Error("failed to open artifact store", "error", err)
		os.Exit(1)
	}

	limiter := ratelimit.New(cfg.Fetcher.MaxConcurrency, cfg.Fetcher.MinInterval)
	sessions := session.NewManager(session.Config{
		BaseURL:    cfg.Site.BaseURL,
		LoginURL:   cfg.Site.LoginURL(),
		Timeout:    cfg.Fetcher.Timeout,
		UserAgents: cfg.Fetcher.UserAgents,
	}, limiter, logg)

	httpFetcher := fetcher.New(limiter, fetcher.Options{
		Timeout:    cfg.Fetcher.Timeout,
		MaxRetries: cfg.Fetcher.MaxRetries,
		RetryDelay: cfg.Fetcher.RetryDelay,
		UserAgents: cfg.Fetcher.UserAgents,
	}, logg)

	var detailFetcher crawler.PageFetcher = httpFetcher
	if cfg.Browser.Enabled {
		b, err := browser.New(&browser.Options{
			Headless: cfg.Browser.Headless,
			Timeout:  cfg.Browser.Timeout,
			BaseURL:  cfg.Site.BaseURL,
		}, limiter, logg)
		if err != nil {
			logg.Error("failed to initialize browser", "error", err)
			os.Exit(1)
		}
		defer b.Close()
		detailFetcher = b
	}

	status, err := dataset.NewStatusStore(filepath.Join(*output, "detail_status.json"))
	if err != nil {
		logg.Error("failed to open status store", "error", err)
		os.Exit(1)
	}

	structural := parser.New()
	pipe := pipeline.New(
		crawler.NewPagination(httpFetcher, structural, store, sessions, cfg.Site, logg),
		crawler.NewDetailCrawler(detailFetcher, store, status, sessions, cfg.Fetcher.MaxConcurrency, logg),
		structural, store, logg,
	)

	if err := run(ctx, *mode, cfg, pipe, sessions, *output, *overview, *skip, *maxPages, logg); err != nil {
		logg.Error("pipeline stage failed", "mode", *mode, "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, mode string, cfg *config.Config, pipe *pipeline.Service, sessions *session.Manager, output, overviewPath string, skip, maxPages int, logg *slog.Logger) error {
	creds := credentials(cfg)

	switch mode {
	case "download":
		sess, err := sessions.Open(ctx, creds)
		if err != nil {
			return err
		}
		result, err := pipe.DownloadListings(ctx, sess, crawler.CrawlOptions{Skip: skip, MaxPages: maxPages})
		if result != nil {
			logg.Info("listing crawl finished",
				"pages", len(result.Pages), "failed_pages", len(result.Errors),
				"total_products", result.TotalProducts)
			for _, pageErr := range result.Errors {
				logg.Info("failed page", "page", pageErr.Page, "error", pageErr.Err.Error())
			}
		}
		return err

	case "parse":
		out := pipeline.DatasetPath(output, "products")
		result, err := pipe.ParseListings(ctx, out)
		if result != nil {
			logg.Info("listing parse finished",
				"products", len(result.Overviews), "failed_pages", len(result.Errors), "dataset", out)
		}
		return err

	case "details":
		overviews, err := loadOverviews(ctx, pipe, overviewPath)
		if err != nil {
			return err
		}
		sess, err := sessions.Open(ctx, creds)
		if err != nil {
			return err
		}
		result, err := pipe.FetchDetails(ctx, sess, overviews)
		if result != nil {
			logg.Info("detail fetch finished",
				"fetched", len(result.Fetched), "skipped", len(result.Skipped), "failed", len(result.Errors))
			for _, prodErr := range result.Errors {
				logg.Info("failed product", "product_id", prodErr.ProductID, "error", prodErr.Err.Error())
			}
		}
		return err

	case "merge":
		overviews, err := loadOverviews(ctx, pipe, overviewPath)
		if err != nil {
			return err
		}
		out := pipeline.DatasetPath(output, "merged")
		result, err := pipe.ParseAndMerge(ctx, overviews, out)
		if result != nil {
			logg.Info("merge finished",
				"products", len(result.Products), "unmatched", len(result.Unmatched),
				"failed", len(result.Errors), "dataset", out)
		}
		return err

	default:
		return fmt.Errorf("unknown mode %q", mode)
	}
}

func loadOverviews(ctx context.Context, pipe *pipeline.Service, path string) ([]models.ProductOverview, error) {
	if path != "" {
		return dataset.ReadOverviews(path)
	}
	// No prior dataset given: parse the stored listing artifacts.
	result, err := pipe.ParseListings(ctx, "")
	if err != nil {
		return nil, err
	}
	return result.Overviews, nil
}

func credentials(cfg *config.Config) *session.Credentials {
	if cfg.Auth.Username == "" {
		return nil
	}
	return &session.Credentials{
		Username: cfg.Auth.Username,
		Password: cfg.Auth.Password,
	}
}
