package crawler

import (
	"context"
	"fmt"

	"github.com/catalogkit/storefront-scraper/internal/models"
	"github.com/catalogkit/storefront-scraper/internal/session"
)

// PageFetcher is the single-page retrieval contract both controllers
// drive. The HTTP fetcher and the browser fetcher both satisfy it.
type PageFetcher interface {
	Fetch(ctx context.Context, req models.FetchRequest, sess *session.Session) (*models.PageArtifact, error)
}

// PageError records one failed listing page without aborting the rest
// of the batch.
type PageError struct {
	Page int
	Err  error
}

func (e *PageError) Error() string {
	return fmt.Sprintf("page %d: %v", e.Page, e.Err)
}

func (e *PageError) Unwrap() error { return e.Err }

// ProductError records one failed detail fetch.
type ProductError struct {
	ProductID string
	Err       error
}

func (e *ProductError) Error() string {
	return fmt.Sprintf("product %s: %v", e.ProductID, e.Err)
}

func (e *ProductError) Unwrap() error { return e.Err }
