package dataset

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/catalogkit/storefront-scraper/internal/models"
)

// Dataset files are ordered JSON arrays, one document per file. The
// overview dataset is the checkpoint between the listing pass and the
// detail pass.

// TimestampedName builds a dataset file name like
// 20260830_154500_products.json.
func TimestampedName(suffix string) string {
	return time.Now().Format("20060102_150405") + "_" + suffix + ".json"
}

// WriteOverviews persists an overview dataset, preserving order.
func WriteOverviews(path string, overviews []models.ProductOverview) error {
	return write(path, overviews)
}

// ReadOverviews loads a previously written overview dataset.
func ReadOverviews(path string) ([]models.ProductOverview, error) {
	var overviews []models.ProductOverview
	if err := read(path, &overviews); err != nil {
		return nil, err
	}
	return overviews, nil
}

// WriteProducts persists a merged product dataset, preserving order.
func WriteProducts(path string, products []models.Product) error {
	return write(path, products)
}

// ReadProducts loads a merged product dataset.
func ReadProducts(path string) ([]models.Product, error) {
	var products []models.Product
	if err := read(path, &products); err != nil {
		return nil, err
	}
	return products, nil
}

func write(path string, v any) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create dataset dir: %w", err)
	}

	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode dataset: %w", err)
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write dataset: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("failed to move dataset into place: %w", err)
	}
	return nil
}

func read(path string, v any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read dataset %s: %w", filepath.Base(path), err)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("failed to decode dataset %s: %w", filepath.Base(path), err)
	}
	return nil
}
