package crawler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"sync/atomic"

	"github.com/catalogkit/storefront-scraper/internal/artifacts"
	"github.com/catalogkit/storefront-scraper/internal/config"
	"github.com/catalogkit/storefront-scraper/internal/fetcher"
	"github.com/catalogkit/storefront-scraper/internal/models"
	"github.com/catalogkit/storefront-scraper/internal/parser"
	"github.com/catalogkit/storefront-scraper/internal/session"
)

// ErrSessionNotRecovered means a page still saw an expired session
// after its one refresh-and-retry; the remaining batch cannot be
// trusted without a working session.
var ErrSessionNotRecovered = errors.New("session expired again after refresh")

// CrawlOptions bound a listing crawl. Skip discards that many leading
// pages without fetching them; MaxPages, when > 0, caps how many pages
// are fetched after skipping.
type CrawlOptions struct {
	Skip     int
	MaxPages int
}

// CrawlResult reports a listing crawl: the page indices persisted, the
// catalog size the site advertised, and per-page failures.
type CrawlResult struct {
	Pages         []int
	TotalProducts int
	TotalPages    int
	Errors        []*PageError
}

// Pagination drives the listing crawl across a bounded page range,
// persisting one artifact per page index. Fetch completion order never
// scrambles page numbering because artifacts are addressed by index.
type Pagination struct {
	fetch    PageFetcher
	parser   *parser.Structural
	store    *artifacts.Store
	sessions *session.Manager
	site     config.SiteConfig
	logger   *slog.Logger
}

func NewPagination(fetch PageFetcher, p *parser.Structural, store *artifacts.Store, sessions *session.Manager, site config.SiteConfig, logger *slog.Logger) *Pagination {
	return &Pagination{
		fetch:    fetch,
		parser:   p,
		store:    store,
		sessions: sessions,
		site:     site,
		logger:   logger.With("component", "pagination"),
	}
}

// Crawl fetches listing pages Skip+1 through Skip+MaxPages (or through
// the last page the catalog size implies). The first target page is
// fetched alone to learn the catalog size; the rest are dispatched in
// ascending order, concurrently up to the rate limiter's ceiling.
// Per-page failures are collected; a second session expiry after the
// one refresh-and-retry aborts the remaining batch.
func (c *Pagination) Crawl(ctx context.Context, sess *session.Session, opts CrawlOptions) (*CrawlResult, error) {
	if opts.Skip < 0 {
		return nil, fmt.Errorf("skip must be >= 0, got %d", opts.Skip)
	}
	if opts.MaxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 1 when set, got %d", opts.MaxPages)
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	result := &CrawlResult{}
	first := opts.Skip + 1

	c.logger.Info("fetching first listing page", "page", first)
	artifact, sess, err := c.fetchPage(ctx, sess, first)
	if err != nil {
		return nil, fmt.Errorf("first listing page: %w", err)
	}

	total, err := c.parser.TotalProducts(string(artifact.Body))
	if err != nil {
		if opts.MaxPages == 0 {
			// Without the catalog size there is no way to bound an
			// unbounded crawl.
			return nil, fmt.Errorf("first listing page: %w", err)
		}
		c.logger.Warn("catalog size header missing, relying on max pages bound", "error", err)
		total = 0
	}

	totalPages := 0
	if total > 0 {
		totalPages = (total + c.site.PageSize - 1) / c.site.PageSize
	}
	result.TotalProducts = total
	result.TotalPages = totalPages

	end := totalPages
	if opts.MaxPages > 0 {
		if bounded := opts.Skip + opts.MaxPages; end == 0 || bounded < end {
			end = bounded
		}
	}
	if end < first {
		// The skip walked past the end of the catalog.
		return result, nil
	}

	if err := c.store.SaveListing(artifact); err != nil {
		return nil, err
	}
	result.Pages = append(result.Pages, first)

	c.logger.Info("crawling listing pages",
		"from", first, "to", end, "total_products", total)

	var (
		mu         sync.Mutex
		wg         sync.WaitGroup
		fatalErr   error
		endReached atomic.Bool
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

	for page := first + 1; page <= end; page++ {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(page int) {
			defer wg.Done()

			artifact, newSess, err := c.fetchPage(ctx, sessRef.get(), page)
			if err != nil {
				switch {
				case errors.Is(err, ErrSessionNotRecovered):
					fatal(err)
				case errors.Is(err, context.Canceled):
					// Cancelled by the caller or by an earlier empty
					// page; nothing to record for this page.
				default:
					mu.Lock()
					result.Errors = append(result.Errors, &PageError{Page: page, Err: err})
					mu.Unlock()
					c.logger.Warn("listing page failed", "page", page, "error", err)
				}
				return
			}
			sessRef.put(newSess)

			if !c.hasProducts(artifact) {
				// End of listing reached earlier than the catalog
				// size implied.
				c.logger.Info("empty listing page, ending crawl", "page", page)
				endReached.Store(true)
				cancel()
				return
			}

			if err := c.store.SaveListing(artifact); err != nil {
				mu.Lock()
				result.Errors = append(result.Errors, &PageError{Page: page, Err: err})
				mu.Unlock()
				return
			}

			mu.Lock()
			result.Pages = append(result.Pages, page)
			mu.Unlock()
			c.logger.Info("listing page saved", "page", page)
		}(page)
	}

	wg.Wait()
	sort.Ints(result.Pages)

	if fatalErr != nil {
		return result, fatalErr
	}
	if ctx.Err() != nil && !endReached.Load() {
		// Caller-initiated cancellation, as opposed to the internal
		// cancel on an empty page.
		return result, ctx.Err()
	}

	return result, nil
}

// fetchPage retrieves one listing page, allowing a single session
// refresh-and-retry when the session expired mid-crawl.
func (c *Pagination) fetchPage(ctx context.Context, sess *session.Session, page int) (*models.PageArtifact, *session.Session, error) {
	req := models.FetchRequest{
		URL:       c.site.ListingURL(page),
		PageIndex: page,
	}

	artifact, err := c.fetch.Fetch(ctx, req, sess)
	if !errors.Is(err, fetcher.ErrSessionExpired) {
		return artifact, sess, err
	}

	c.logger.Warn("session expired, refreshing once", "page", page)
	sess, err = c.sessions.Refresh(ctx, sess)
	if err != nil {
		return nil, sess, fmt.Errorf("session refresh: %w", err)
	}

	artifact, err = c.fetch.Fetch(ctx, req, sess)
	if errors.Is(err, fetcher.ErrSessionExpired) {
		return nil, sess, ErrSessionNotRecovered
	}
	return artifact, sess, err
}

func (c *Pagination) hasProducts(artifact *models.PageArtifact) bool {
	overviews, err := c.parser.ParseListing(artifact)
	return err == nil && len(overviews) > 0
}

// sessionRef shares the freshest session between page goroutines.
type sessionRef struct {
	mu   sync.Mutex
	sess *session.Session
}

func (r *sessionRef) get() *session.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sess
}

func (r *sessionRef) put(sess *session.Session) {
	r.mu.Lock()
	if sess.Generation() > r.sess.Generation() {
		r.sess = sess
	}
	r.mu.Unlock()
}
