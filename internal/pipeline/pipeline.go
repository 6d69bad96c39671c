package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/catalogkit/storefront-scraper/internal/artifacts"
	"github.com/catalogkit/storefront-scraper/internal/crawler"
	"github.com/catalogkit/storefront-scraper/internal/dataset"
	"github.com/catalogkit/storefront-scraper/internal/merge"
	"github.com/catalogkit/storefront-scraper/internal/models"
	"github.com/catalogkit/storefront-scraper/internal/parser"
	"github.com/catalogkit/storefront-scraper/internal/session"
)

// Service wires the fetch and parse stages into the four pipeline
// operations the CLI and the job worker invoke. Each stage checkpoints
// through files, so reruns resume instead of re-fetching.
type Service struct {
	pagination *crawler.Pagination
	details    *crawler.DetailCrawler
	parser     *parser.Structural
	store      *artifacts.Store
	logger     *slog.Logger
}

func New(pagination *crawler.Pagination, details *crawler.DetailCrawler, p *parser.Structural, store *artifacts.Store, logger *slog.Logger) *Service {
	return &Service{
		pagination: pagination,
		details:    details,
		parser:     p,
		store:      store,
		logger:     logger.With("component", "pipeline"),
	}
}

// DownloadListings crawls the listing pages into the artifact store.
func (s *Service) DownloadListings(ctx context.Context, sess *session.Session, opts crawler.CrawlOptions) (*crawler.CrawlResult, error) {
	return s.pagination.Crawl(ctx, sess, opts)
}

// ParseListingsResult carries the overview records alongside per-page
// parse failures.
type ParseListingsResult struct {
	Overviews []models.ProductOverview
	Errors    []*crawler.PageError
}

// ParseListings parses every stored listing artifact, in ascending
// page order, into an overview dataset written to outputPath. A page
// that fails to parse is reported and skipped; it never aborts the
// healthy pages.
func (s *Service) ParseListings(ctx context.Context, outputPath string) (*ParseListingsResult, error) {
	pages, err := s.store.ListingPages()
	if err != nil {
		return nil, err
	}
	if len(pages) == 0 {
		return nil, fmt.Errorf("no listing artifacts in %s", s.store.Dir())
	}

	result := &ParseListingsResult{}
	seen := make(map[string]bool)
	for _, page := range pages {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		artifact, err := s.store.LoadListing(page)
		if err != nil {
			result.Errors = append(result.Errors, &crawler.PageError{Page: page, Err: err})
			continue
		}

		overviews, err := s.parser.ParseListing(artifact)
		if err != nil {
			result.Errors = append(result.Errors, &crawler.PageError{Page: page, Err: err})
			s.logger.Warn("listing page failed to parse", "page", page, "error", err)
			continue
		}

		// Monotonic page numbering makes duplicate cards across page
		// boundaries safe to drop.
		for _, overview := range overviews {
			if seen[overview.ID] {
				continue
			}
			seen[overview.ID] = true
			result.Overviews = append(result.Overviews, overview)
		}
	}

	if outputPath != "" {
		if err := dataset.WriteOverviews(outputPath, result.Overviews); err != nil {
			return nil, err
		}
		s.logger.Info("overview dataset written",
			"path", outputPath, "products", len(result.Overviews))
	}

	return result, nil
}

// FetchDetails retrieves the detail page for every overview entry.
func (s *Service) FetchDetails(ctx context.Context, sess *session.Session, overviews []models.ProductOverview) (*crawler.DetailResult, error) {
	return s.details.FetchDetails(ctx, sess, overviews)
}

// MergeResult carries the merged dataset plus everything that went
// wrong per item.
type MergeResult struct {
	Products  []models.Product
	Unmatched []*merge.UnmatchedDetail
	Errors    []*crawler.ProductError
}

// ParseAndMerge parses every stored detail artifact and merges the
// detail records onto the overview dataset, writing the merged dataset
// to outputPath. Parse failures and unmatched details are collected
// per item.
func (s *Service) ParseAndMerge(ctx context.Context, overviews []models.ProductOverview, outputPath string) (*MergeResult, error) {
	ids, err := s.store.DetailIDs()
	if err != nil {
		return nil, err
	}

	result := &MergeResult{}
	var details []models.ProductDetail
	for _, id := range ids {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		artifact, err := s.store.LoadDetail(id)
		if err != nil {
			result.Errors = append(result.Errors, &crawler.ProductError{ProductID: id, Err: err})
			continue
		}

		detail, err := s.parser.ParseDetail(artifact)
		if err != nil {
			result.Errors = append(result.Errors, &crawler.ProductError{ProductID: id, Err: err})
			s.logger.Warn("detail page failed to parse", "product_id", id, "error", err)
			continue
		}
		details = append(details, detail)
	}

	result.Products, result.Unmatched = merge.Merge(overviews, details)
	for _, u := range result.Unmatched {
		s.logger.Warn("unmatched detail record", "product_id", u.ProductID)
	}

	if outputPath != "" {
		if err := dataset.WriteProducts(outputPath, result.Products); err != nil {
			return nil, err
		}
		s.logger.Info("merged dataset written",
			"path", outputPath, "products", len(result.Products))
	}

	return result, nil
}

// DatasetPath is a convenience for timestamped dataset files under a
// directory.
func DatasetPath(dir, suffix string) string {
	return filepath.Join(dir, dataset.TimestampedName(suffix))
}
