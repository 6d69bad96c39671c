package models

import (
	"time"
)

// ProductOverview is one product card extracted from a listing page.
// ID is the site-assigned product identifier and is the only field
// guaranteed stable between the listing pass and the detail pass.
type ProductOverview struct {
	ID          string `json:"product_id"`
	Name        string `json:"name"`
	URL         string `json:"product_url"`
	Brand       string `json:"brand,omitempty"`
	SKU         string `json:"sku,omitempty"`
	Contents    string `json:"contents,omitempty"`
	ImageURL    string `json:"image_url,omitempty"`
	ListPrice   *Price `json:"list_price,omitempty"`
	StockStatus string `json:"stock_status,omitempty"`
}

// ProductDetail is the data extracted from a single product page.
type ProductDetail struct {
	ID          string            `json:"product_id"`
	Price       Price             `json:"price"`
	InStock     bool              `json:"in_stock"`
	Description string            `json:"description,omitempty"`
	Categories  []string          `json:"categories,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	PriceTiers  []PriceTier       `json:"price_tiers,omitempty"`
}

// Price is a normalized amount with its currency tag.
type Price struct {
	Amount   float64 `json:"amount"`
	Currency string  `json:"currency"`
}

// PriceTier is one row of a bulk-pricing table on a detail page.
type PriceTier struct {
	Quantity      string `json:"quantity"`
	PricePerPiece Price  `json:"price_per_piece"`
	PricePerBox   Price  `json:"price_per_box"`
}

// Product is the merged record for one identity key. Detail is nil for
// overview entries whose detail page has not been fetched yet; that is
// a valid Product, not an error.
type Product struct {
	ProductOverview
	Detail   *ProductDetail `json:"detail,omitempty"`
	MergedAt time.Time      `json:"merged_at,omitzero"`
}

// PageArtifact is a raw page persisted by the fetch stage. Listing
// artifacts carry PageIndex, detail artifacts carry ProductID. An
// artifact is never mutated after creation.
type PageArtifact struct {
	Body      []byte
	PageIndex int
	ProductID string
	URL       string
	FetchedAt time.Time
}

// FetchRequest describes one page retrieval. Transient, one per call.
type FetchRequest struct {
	URL        string
	PageIndex  int
	ProductID  string
	Timeout    time.Duration
	MaxRetries int
}

func (p *ProductOverview) Validate() []string {
	var errs []string
	if p.ID == "" {
		errs = append(errs, "product ID is required")
	}
	if p.Name == "" {
		errs = append(errs, "name is required")
	}
	if p.URL == "" {
		errs = append(errs, "product URL is required")
	}
	return errs
}

func (p Price) IsValid() bool {
	return p.Amount >= 0 && p.Currency != ""
}
