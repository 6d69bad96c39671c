package parser

import (
	"bytes"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/catalogkit/storefront-scraper/internal/models"
)

// ParseDetail extracts the full record from a product detail page
// artifact. The identity key and price are mandatory; their absence is
// a ParseError, not a blank or zero value.
func (p *Structural) ParseDetail(artifact *models.PageArtifact) (models.ProductDetail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(artifact.Body))
	if err != nil {
		return models.ProductDetail{}, fmt.Errorf("failed to parse HTML: %w", err)
	}

	detail := models.ProductDetail{ID: artifact.ProductID}
	if detail.ID == "" {
		// Detail pages carry the product ID in the add-to-cart form.
		detail.ID = strings.TrimSpace(doc.Find(`input[name="product"]`).AttrOr("value", ""))
	}
	if detail.ID == "" {
		return models.ProductDetail{}, &ParseError{Field: `product ID (input[name="product"])`}
	}

	priceText := text(doc.Find(".product-info-price span.price").First())
	if priceText == "" {
		priceText = text(doc.Find("span.price").First())
	}
	if priceText == "" {
		return models.ProductDetail{}, &ParseError{Field: "price (span.price)"}
	}
	price, err := ParsePrice(priceText)
	if err != nil {
		return models.ProductDetail{}, err
	}
	detail.Price = price

	detail.InStock = parseStock(doc)
	detail.Categories = parseBreadcrumbs(doc)
	detail.Description = parseDescription(doc)
	detail.Attributes = parseSpecifications(doc)

	tiers, err := parsePriceTiers(doc)
	if err != nil {
		return models.ProductDetail{}, err
	}
	detail.PriceTiers = tiers

	return detail, nil
}

func parseStock(doc *goquery.Document) bool {
	status := strings.ToLower(text(doc.Find(`div[class^="stock"]`).First()))
	return strings.Contains(status, "in stock")
}

// parseBreadcrumbs collects the category trail, dropping the Home and
// Products roots the way the site nests every product under them.
func parseBreadcrumbs(doc *goquery.Document) []string {
	var categories []string
	doc.Find(`div.breadcrumbs span[itemprop="name"]`).Each(func(_ int, sel *goquery.Selection) {
		name := text(sel)
		if name == "" || name == "Home" || name == "Products" {
			return
		}
		categories = append(categories, name)
	})
	return categories
}

func parseDescription(doc *goquery.Document) string {
	var parts []string
	items := doc.Find("div.product-description-wrapper li")
	if items.Length() > 0 {
		items.Each(func(_ int, sel *goquery.Selection) {
			if t := text(sel); t != "" {
				parts = append(parts, t)
			}
		})
		return strings.Join(parts, " | ")
	}
	return text(doc.Find("div.product-description-wrapper"))
}

func parseSpecifications(doc *goquery.Document) map[string]string {
	specs := make(map[string]string)
	doc.Find("div.product-specifications-wrapper dl").Each(func(_ int, dl *goquery.Selection) {
		labels := dl.Find("dt")
		values := dl.Find("dd")
		labels.Each(func(i int, dt *goquery.Selection) {
			label := text(dt)
			if label == "" || i >= values.Length() {
				return
			}
			if value := text(values.Eq(i)); value != "" {
				specs[label] = value
			}
		})
	})
	if len(specs) == 0 {
		return nil
	}
	return specs
}

// parsePriceTiers reads the bulk pricing table. Rows keep quantity,
// per-piece and per-box cells; action, hidden and icon cells are
// skipped like the storefront's own script does.
func parsePriceTiers(doc *goquery.Document) ([]models.PriceTier, error) {
	var (
		tiers    []models.PriceTier
		parseErr error
	)
	doc.Find("table#tier-price-table tr").EachWithBreak(func(_ int, row *goquery.Selection) bool {
		var cells []string
		row.Find("td").Each(func(_ int, td *goquery.Selection) {
			class := td.AttrOr("class", "")
			if strings.Contains(class, "hidden") ||
				strings.Contains(class, "icon") ||
				strings.Contains(class, "action") {
				return
			}
			cells = append(cells, text(td))
		})
		if len(cells) < 3 {
			return true // header or spacer row
		}

		perPiece, err := ParsePrice(cells[1])
		if err != nil {
			parseErr = err
			return false
		}
		perBox, err := ParsePrice(cells[2])
		if err != nil {
			parseErr = err
			return false
		}
		tiers = append(tiers, models.PriceTier{
			Quantity:      cells[0],
			PricePerPiece: perPiece,
			PricePerBox:   perBox,
		})
		return true
	})
	if parseErr != nil {
		return nil, parseErr
	}
	return tiers, nil
}
