package publish

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/catalogkit/storefront-scraper/internal/models"
)

// RedisClient is the slice of go-redis the publisher needs; tests
// substitute it.
type RedisClient interface {
	XAdd(ctx context.Context, args *redis.XAddArgs) *redis.StringCmd
	Close() error
}

// Publisher ships merged product records onto a Redis stream for
// downstream price and catalog analysis consumers.
type Publisher struct {
	redis  RedisClient
	stream string
	logger *slog.Logger
}

func New(client RedisClient, stream string, logger *slog.Logger) *Publisher {
	if stream == "" {
		stream = "stream:catalog_products"
	}
	return &Publisher{
		redis:  client,
		stream: stream,
		logger: logger.With("component", "publisher"),
	}
}

// PublishProducts adds one stream entry per product. A failed entry
// stops the batch so the caller can retry from a consistent point.
func (p *Publisher) PublishProducts(ctx context.Context, products []models.Product) (int, error) {
	published := 0
	for i := range products {
		payload, err := json.Marshal(&products[i])
		if err != nil {
			return published, fmt.Errorf("failed to encode product %s: %w", products[i].ID, err)
		}

		err = p.redis.XAdd(ctx, &redis.XAddArgs{
			Stream: p.stream,
			Values: map[string]any{
				"product_id":   products[i].ID,
				"has_detail":   products[i].Detail != nil,
				"published_at": time.Now().Format(time.RFC3339),
				"payload":      string(payload),
			},
		}).Err()
		if err != nil {
			return published, fmt.Errorf("failed to publish product %s: %w", products[i].ID, err)
		}
		published++
	}

	p.logger.Info("published products", "stream", p.stream, "count", published)
	return published, nil
}
