package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/catalogkit/storefront-scraper/internal/models"
)

// ProductRepository persists merged product records for downstream
// price and catalog analysis.
type ProductRepository struct {
	db *DB
}

func NewProductRepository(db *DB) *ProductRepository {
	return &ProductRepository{db: db}
}

// execer is satisfied by both the pool and a transaction.
type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Upsert writes one merged product, replacing any previous snapshot of
// the same identity key.
func (r *ProductRepository) Upsert(ctx context.Context, product *models.Product) error {
	return r.upsert(ctx, r.db, product)
}

// UpsertBatch writes a merged dataset in one transaction: either the
// whole batch lands or none of it does.
func (r *ProductRepository) UpsertBatch(ctx context.Context, products []models.Product) error {
	return r.db.Transaction(ctx, func(tx pgx.Tx) error {
		for i := range products {
			if err := r.upsert(ctx, tx, &products[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *ProductRepository) upsert(ctx context.Context, e execer, product *models.Product) error {
	detail, err := json.Marshal(product.Detail)
	if err != nil {
		return fmt.Errorf("failed to encode detail fields: %w", err)
	}

	query := `
		INSERT INTO products (
			product_id, name, url, brand, sku, contents, image_url,
			stock_status, detail, has_detail, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (product_id) DO UPDATE SET
			name = EXCLUDED.name,
			url = EXCLUDED.url,
			brand = EXCLUDED.brand,
			sku = EXCLUDED.sku,
			contents = EXCLUDED.contents,
			image_url = EXCLUDED.image_url,
			stock_status = EXCLUDED.stock_status,
			detail = EXCLUDED.detail,
			has_detail = EXCLUDED.has_detail,
			updated_at = EXCLUDED.updated_at`

	_, err = e.Exec(ctx, query,
		product.ID, product.Name, product.URL, product.Brand, product.SKU,
		product.Contents, product.ImageURL, product.StockStatus,
		detail, product.Detail != nil, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to upsert product %s: %w", product.ID, err)
	}
	return nil
}

// Count reports how many products are stored, and how many carry
// detail fields.
func (r *ProductRepository) Count(ctx context.Context) (total, withDetail int, err error) {
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE has_detail)
		FROM products`
	if err := r.db.QueryRow(ctx, query).Scan(&total, &withDetail); err != nil {
		return 0, 0, fmt.Errorf("failed to count products: %w", err)
	}
	return total, withDetail, nil
}
