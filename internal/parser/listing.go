package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/catalogkit/storefront-scraper/internal/models"
)

// ParseListing extracts the product cards from a listing page
// artifact. A page without the product list, or a card missing its
// identity key or name, is a ParseError for the whole page.
func (p *Structural) ParseListing(artifact *models.PageArtifact) ([]models.ProductOverview, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(artifact.Body))
	if err != nil {
		return nil, fmt.Errorf("failed to parse HTML: %w", err)
	}

	list := doc.Find("ol.products.list.items.product-items")
	if list.Length() == 0 {
		return nil, &ParseError{Field: "product list (ol.products.list.items.product-items)"}
	}

	var (
		overviews []models.ProductOverview
		parseErr  error
	)
	list.Find("div.product-item-info").EachWithBreak(func(i int, card *goquery.Selection) bool {
		overview, err := parseCard(card)
		if err != nil {
			parseErr = fmt.Errorf("product card %d on page %d: %w", i+1, artifact.PageIndex, err)
			return false
		}
		overviews = append(overviews, overview)
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}

	return overviews, nil
}

func parseCard(card *goquery.Selection) (models.ProductOverview, error) {
	id, ok := card.Attr("data-product-id")
	if !ok || strings.TrimSpace(id) == "" {
		return models.ProductOverview{}, &ParseError{Field: "product ID (data-product-id)"}
	}

	overview := models.ProductOverview{
		ID:          strings.TrimSpace(id),
		Name:        text(card.Find("a.product-item-link")),
		Brand:       text(card.Find("div.product-item-brand")),
		SKU:         text(card.Find(`span[itemprop="sku"]`)),
		Contents:    text(card.Find("div.product-item-unit")),
		StockStatus: text(card.Find(`div[class^="stock"]`)),
	}

	if overview.Name == "" {
		return models.ProductOverview{}, &ParseError{Field: "product name (a.product-item-link)"}
	}

	if href, ok := card.Find("a.product-item-photo").Attr("href"); ok {
		overview.URL = strings.TrimSpace(href)
	}
	if overview.URL == "" {
		return models.ProductOverview{}, &ParseError{Field: "product URL (a.product-item-photo)"}
	}

	if src, ok := card.Find("img.product-image-photo").Attr("src"); ok {
		overview.ImageURL = strings.TrimSpace(src)
	}

	// The card price is optional; it only exists for customers who may
	// see prices. When present it must still parse cleanly.
	if priceText := text(card.Find("span.price.initialized-price")); priceText != "" {
		price, err := ParsePrice(priceText)
		if err != nil {
			return models.ProductOverview{}, err
		}
		overview.ListPrice = &price
	}

	return overview, nil
}

// text flattens a selection to a single-space-joined string the way
// the storefront renders nested markup.
func text(sel *goquery.Selection) string {
	return strings.Join(strings.Fields(sel.Text()), " ")
}
