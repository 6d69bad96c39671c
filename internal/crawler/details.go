package crawler

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/catalogkit/storefront-scraper/internal/artifacts"
	"github.com/catalogkit/storefront-scraper/internal/dataset"
	"github.com/catalogkit/storefront-scraper/internal/fetcher"
	"github.com/catalogkit/storefront-scraper/internal/models"
	"github.com/catalogkit/storefront-scraper/internal/queue"
	"github.com/catalogkit/storefront-scraper/internal/session"
)

// DetailResult reports a detail crawl: which products were fetched,
// which were skipped because their artifact already existed, and the
// per-product failures.
type DetailResult struct {
	Fetched []string
	Skipped []string
	Errors  []*ProductError
}

// DetailCrawler drives per-product detail retrieval from a prior
// overview dataset. Detail fetches are independent of each other, so
// they run at the limiter's full concurrency with no reassembly.
type DetailCrawler struct {
	fetch    PageFetcher
	store    *artifacts.Store
	status   *dataset.StatusStore
	sessions *session.Manager
	workers  int
	logger   *slog.Logger
}

func NewDetailCrawler(fetch PageFetcher, store *artifacts.Store, status *dataset.StatusStore, sessions *session.Manager, workers int, logger *slog.Logger) *DetailCrawler {
	if workers < 1 {
		workers = 1
	}
	return &DetailCrawler{
		fetch:    fetch,
		store:    store,
		status:   status,
		sessions: sessions,
		workers:  workers,
		logger:   logger.With("component", "details"),
	}
}

// FetchDetails fetches one detail page per overview entry, in overview
// order, skipping products whose artifact is already on disk. A
// per-product failure is recorded and the batch continues; a second
// session expiry after the one refresh-and-retry aborts the batch.
func (c *DetailCrawler) FetchDetails(ctx context.Context, sess *session.Session, overviews []models.ProductOverview) (*DetailResult, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := &DetailResult{}
	tasks := queue.NewInMemoryQueue()

	for _, overview := range overviews {
		if c.store.HasDetail(overview.ID) && c.status.IsCompleted(overview.ID) {
			result.Skipped = append(result.Skipped, overview.ID)
			continue
		}
		// Queue is unbounded, Push cannot block here.
		_ = tasks.Push(&queue.Task{
			ProductID: overview.ID,
			URL:       overview.URL,
			CreatedAt: time.Now(),
		})
	}
	tasks.Close()

	c.logger.Info("fetching detail pages",
		"products", len(overviews), "queued", tasks.Size(), "skipped", len(result.Skipped))

	var (
		mu       sync.Mutex
		wg       sync.WaitGroup
		fatalErr error
	)
	fatal := func(err error) {
		mu.Lock()
		if fatalErr == nil {
			fatalErr = err
		}
		mu.Unlock()
		cancel()
	}

	sessRef := &sessionRef{sess: sess}

	for i := 0; i < c.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				task, err := tasks.Pop(ctx)
				if err != nil {
					return
				}
				c.fetchOne(ctx, sessRef, task, result, &mu, fatal)
			}
		}()
	}

	wg.Wait()

	if fatalErr != nil {
		return result, fatalErr
	}
	if ctx.Err() != nil {
		return result, ctx.Err()
	}
	return result, nil
}

func (c *DetailCrawler) fetchOne(ctx context.Context, sessRef *sessionRef, task *queue.Task, result *DetailResult, mu *sync.Mutex, fatal func(error)) {
	record := func(err error) {
		mu.Lock()
		result.Errors = append(result.Errors, &ProductError{ProductID: task.ProductID, Err: err})
		mu.Unlock()
		if statusErr := c.status.Set(task.ProductID, dataset.StatusFailed, err.Error()); statusErr != nil {
			c.logger.Error("failed to record fetch status", "product_id", task.ProductID, "error", statusErr)
		}
		c.logger.Warn("detail fetch failed", "product_id", task.ProductID, "error", err)
	}

	artifact, err := c.fetchDetail(ctx, sessRef, task)
	if err != nil {
		switch {
		case errors.Is(err, ErrSessionNotRecovered):
			fatal(err)
		case errors.Is(err, context.Canceled):
		default:
			record(err)
		}
		return
	}

	if err := c.store.SaveDetail(artifact); err != nil {
		record(err)
		return
	}
	if err := c.status.Set(task.ProductID, dataset.StatusCompleted, ""); err != nil {
		c.logger.Error("failed to record fetch status", "product_id", task.ProductID, "error", err)
	}

	mu.Lock()
	result.Fetched = append(result.Fetched, task.ProductID)
	mu.Unlock()
	c.logger.Info("detail page saved", "product_id", task.ProductID)
}

// fetchDetail retrieves one product page, allowing a single session
// refresh-and-retry on expiry.
func (c *DetailCrawler) fetchDetail(ctx context.Context, sessRef *sessionRef, task *queue.Task) (*models.PageArtifact, error) {
	req := models.FetchRequest{
		URL:       task.URL,
		ProductID: task.ProductID,
	}

	sess := sessRef.get()
	artifact, err := c.fetch.Fetch(ctx, req, sess)
	if !errors.Is(err, fetcher.ErrSessionExpired) {
		return artifact, err
	}

	c.logger.Warn("session expired, refreshing once", "product_id", task.ProductID)
	sess, err = c.sessions.Refresh(ctx, sess)
	if err != nil {
		return nil, err
	}
	sessRef.put(sess)

	artifact, err = c.fetch.Fetch(ctx, req, sess)
	if errors.Is(err, fetcher.ErrSessionExpired) {
		return nil, ErrSessionNotRecovered
	}
	return artifact, err
}
