package jobs

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/catalogkit/storefront-scraper/internal/crawler"
	"github.com/catalogkit/storefront-scraper/internal/pipeline"
	"github.com/catalogkit/storefront-scraper/internal/publish"
	"github.com/catalogkit/storefront-scraper/internal/session"
)

// Worker polls for pending jobs and runs the full pipeline for each:
// listing crawl, listing parse, detail fetch, parse-and-merge, then
// store and publish.
type Worker struct {
	manager   *Manager
	pipeline  *pipeline.Service
	sessions  *session.Manager
	creds     *session.Credentials
	publisher *publish.Publisher
	outputDir string
	interval  time.Duration
	logger    *slog.Logger
}

func NewWorker(manager *Manager, pipe *pipeline.Service, sessions *session.Manager, creds *session.Credentials, publisher *publish.Publisher, outputDir string, logger *slog.Logger) *Worker {
	return &Worker{
		manager:   manager,
		pipeline:  pipe,
		sessions:  sessions,
		creds:     creds,
		publisher: publisher,
		outputDir: outputDir,
		interval:  5 * time.Second,
		logger:    logger.With("component", "job_worker"),
	}
}

// Run polls until ctx is cancelled.
func (w *Worker) Run(ctx context.Context) error {
	w.logger.Info("job worker started", "poll_interval", w.interval)

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("job worker stopped")
			return ctx.Err()
		case <-ticker.C:
			job, err := w.manager.claimNext(ctx)
			if errors.Is(err, ErrJobNotFound) {
				continue
			}
			if err != nil {
				w.logger.Error("failed to claim job", "error", err)
				continue
			}
			w.runJob(ctx, job)
		}
	}
}

func (w *Worker) runJob(ctx context.Context, job *Job) {
	w.logger.Info("job started", "id", job.ID, "skip", job.Skip, "max_pages", job.MaxPages)

	err := w.execute(ctx, job)
	if err != nil {
		w.logger.Error("job failed", "id", job.ID, "error", err)
	} else {
		w.logger.Info("job completed", "id", job.ID,
			"pages", job.PagesFetched, "products", job.ProductsMerged)
	}

	// The run context may already be cancelled when shutdown interrupted
	// the job. The status row must still be written or the job would stay
	// "running" forever, so the final update gets its own short context.
	finishCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if finishErr := w.manager.finishJob(finishCtx, job, err); finishErr != nil {
		w.logger.Error("failed to record job result", "id", job.ID, "error", finishErr)
	}
}

func (w *Worker) execute(ctx context.Context, job *Job) error {
	sess, err := w.sessions.Open(ctx, w.creds)
	if err != nil {
		// Nothing can proceed without a session.
		return err
	}

	crawlResult, err := w.pipeline.DownloadListings(ctx, sess, crawler.CrawlOptions{
		Skip:     job.Skip,
		MaxPages: job.MaxPages,
	})
	if err != nil {
		return err
	}
	job.PagesFetched = len(crawlResult.Pages)
	job.FailedItems += len(crawlResult.Errors)

	overviewPath := pipeline.DatasetPath(w.outputDir, "products")
	parsed, err := w.pipeline.ParseListings(ctx, overviewPath)
	if err != nil {
		return err
	}
	job.ProductsFound = len(parsed.Overviews)
	job.FailedItems += len(parsed.Errors)

	detailResult, err := w.pipeline.FetchDetails(ctx, sess, parsed.Overviews)
	if err != nil {
		return err
	}
	job.FailedItems += len(detailResult.Errors)

	mergedPath := pipeline.DatasetPath(w.outputDir, "merged")
	merged, err := w.pipeline.ParseAndMerge(ctx, parsed.Overviews, mergedPath)
	if err != nil {
		return err
	}
	job.ProductsMerged = len(merged.Products)
	job.FailedItems += len(merged.Errors) + len(merged.Unmatched)

	if err := w.manager.products.UpsertBatch(ctx, merged.Products); err != nil {
		return err
	}
	if w.publisher != nil {
		if _, err := w.publisher.PublishProducts(ctx, merged.Products); err != nil {
			return err
		}
	}
	return nil
}
