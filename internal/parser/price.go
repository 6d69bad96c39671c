package parser

import (
	"strconv"
	"strings"

	"github.com/catalogkit/storefront-scraper/internal/models"
)

var currencySymbols = map[string]string{
	"€":   "EUR",
	"$":   "USD",
	"£":   "GBP",
	"EUR": "EUR",
	"USD": "USD",
	"GBP": "GBP",
}

// ParsePrice normalizes locale-formatted price text ("€ 1.234,56",
// "$1,234.56", "1 234,56 €") into an amount plus currency tag. Text
// that does not look like a price is a ParseError, never a zero.
func ParsePrice(text string) (models.Price, error) {
	raw := strings.TrimSpace(text)
	if raw == "" {
		return models.Price{}, &ParseError{Field: "price"}
	}

	currency := ""
	for symbol, code := range currencySymbols {
		if strings.Contains(raw, symbol) {
			currency = code
			raw = strings.ReplaceAll(raw, symbol, "")
			break
		}
	}
	if currency == "" {
		return models.Price{}, &ParseError{Field: "price currency", Detail: text}
	}

	// Keep digits and separators only; spaces and NBSPs are thousands
	// grouping.
	raw = strings.Map(func(r rune) rune {
		switch {
		case r >= '0' && r <= '9', r == '.', r == ',':
			return r
		default:
			return -1
		}
	}, raw)
	if raw == "" {
		return models.Price{}, &ParseError{Field: "price amount", Detail: text}
	}

	normalized, err := normalizeSeparators(raw)
	if err != nil {
		return models.Price{}, &ParseError{Field: "price amount", Detail: text}
	}

	amount, err := strconv.ParseFloat(normalized, 64)
	if err != nil {
		return models.Price{}, &ParseError{Field: "price amount", Detail: text}
	}

	return models.Price{Amount: amount, Currency: currency}, nil
}

// normalizeSeparators rewrites a digit string with locale separators
// into ParseFloat form. When both separators appear, the one further
// right is the decimal mark. A lone comma is a decimal mark; repeated
// separators of one kind are thousands grouping.
func normalizeSeparators(raw string) (string, error) {
	lastDot := strings.LastIndex(raw, ".")
	lastComma := strings.LastIndex(raw, ",")

	switch {
	case lastDot >= 0 && lastComma >= 0:
		if lastComma > lastDot {
			raw = strings.ReplaceAll(raw, ".", "")
			raw = strings.Replace(raw, ",", ".", 1)
		} else {
			raw = strings.ReplaceAll(raw, ",", "")
		}
	case lastComma >= 0:
		if strings.Count(raw, ",") > 1 {
			raw = strings.ReplaceAll(raw, ",", "")
		} else {
			raw = strings.Replace(raw, ",", ".", 1)
		}
	case lastDot >= 0:
		if strings.Count(raw, ".") > 1 {
			raw = strings.ReplaceAll(raw, ".", "")
		}
	}

	if raw == "" || strings.ContainsAny(raw, ",") {
		return "", &ParseError{Field: "price amount"}
	}
	return raw, nil
}
