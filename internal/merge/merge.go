package merge

import (
	"fmt"
	"time"

	"github.com/catalogkit/storefront-scraper/internal/models"
)

// UnmatchedDetail reports a detail record whose identity key has no
// overview counterpart. These are collected per batch, never silently
// dropped and never emitted as a Product with blank overview fields.
type UnmatchedDetail struct {
	ProductID string
}

func (e *UnmatchedDetail) Error() string {
	return fmt.Sprintf("detail record %s has no matching overview entry", e.ProductID)
}

// Merge joins detail records onto overview records by identity key.
// Overview order is preserved. Overviews without a detail pass through
// with Detail unset; details without an overview come back as
// UnmatchedDetail diagnostics.
func Merge(overviews []models.ProductOverview, details []models.ProductDetail) ([]models.Product, []*UnmatchedDetail) {
	byID := make(map[string]*models.ProductDetail, len(details))
	matched := make(map[string]bool, len(details))
	for i := range details {
		byID[details[i].ID] = &details[i]
	}

	now := time.Now()
	products := make([]models.Product, 0, len(overviews))
	for _, overview := range overviews {
		product := models.Product{ProductOverview: overview}
		if detail, ok := byID[overview.ID]; ok {
			product.Detail = detail
			product.MergedAt = now
			matched[overview.ID] = true
		}
		products = append(products, product)
	}

	var unmatched []*UnmatchedDetail
	reported := make(map[string]bool)
	for _, detail := range details {
		if matched[detail.ID] || reported[detail.ID] {
			continue
		}
		reported[detail.ID] = true
		unmatched = append(unmatched, &UnmatchedDetail{ProductID: detail.ID})
	}

	return products, unmatched
}
