package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/catalogkit/storefront-scraper/internal/database"
)

const (
	StatusPending   = "pending"
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
)

var ErrJobNotFound = errors.New("job not found")

// Job is one crawl request: a listing crawl, detail fetch and merge
// executed as a unit.
type Job struct {
	ID             string     `json:"id"`
	Skip           int        `json:"skip"`
	MaxPages       int        `json:"max_pages"`
	Status         string     `json:"status"`
	PagesFetched   int        `json:"pages_fetched"`
	ProductsFound  int        `json:"products_found"`
	ProductsMerged int        `json:"products_merged"`
	FailedItems    int        `json:"failed_items"`
	CreatedAt      time.Time  `json:"created_at"`
	StartedAt      *time.Time `json:"started_at,omitempty"`
	CompletedAt    *time.Time `json:"completed_at,omitempty"`
	Error          string     `json:"error,omitempty"`
}

// Stats summarizes the job table for the stats endpoint.
type Stats struct {
	TotalJobs     int     `json:"total_jobs"`
	PendingJobs   int     `json:"pending_jobs"`
	RunningJobs   int     `json:"running_jobs"`
	CompletedJobs int     `json:"completed_jobs"`
	FailedJobs    int     `json:"failed_jobs"`
	TotalProducts int     `json:"total_products"`
	WithDetail    int     `json:"products_with_detail"`
	SuccessRate   float64 `json:"success_rate"`
}

// Manager persists crawl jobs and hands them to the worker.
type Manager struct {
	db       *database.DB
	products *database.ProductRepository
	logger   *slog.Logger
}

func NewManager(db *database.DB, products *database.ProductRepository, logger *slog.Logger) *Manager {
	return &Manager{
		db:       db,
		products: products,
		logger:   logger.With("component", "job_manager"),
	}
}

func (m *Manager) CreateJob(ctx context.Context, skip, maxPages int) (*Job, error) {
	if skip < 0 {
		return nil, fmt.Errorf("skip must be >= 0")
	}
	if maxPages < 0 {
		return nil, fmt.Errorf("max pages must be >= 1 when set")
	}

	job := &Job{
		ID:        uuid.New().String(),
		Skip:      skip,
		MaxPages:  maxPages,
		Status:    StatusPending,
		CreatedAt: time.Now(),
	}

	query := `
		INSERT INTO crawl_jobs (id, skip_pages, max_pages, status, created_at)
		VALUES ($1, $2, $3, $4, $5)`

	_, err := m.db.Exec(ctx, query, job.ID, job.Skip, job.MaxPages, job.Status, job.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to create job: %w", err)
	}

	m.logger.Info("job created", "id", job.ID, "skip", skip, "max_pages", maxPages)
	return job, nil
}

func (m *Manager) GetJob(ctx context.Context, jobID string) (*Job, error) {
	query := `
		SELECT id, skip_pages, max_pages, status, pages_fetched,
		       products_found, products_merged, failed_items,
		       created_at, started_at, completed_at, COALESCE(error, '')
		FROM crawl_jobs
		WHERE id = $1`

	job := &Job{}
	err := m.db.QueryRow(ctx, query, jobID).Scan(
		&job.ID, &job.Skip, &job.MaxPages, &job.Status, &job.PagesFetched,
		&job.ProductsFound, &job.ProductsMerged, &job.FailedItems,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get job: %w", err)
	}
	return job, nil
}

func (m *Manager) ListJobs(ctx context.Context, limit int) ([]*Job, error) {
	if limit <= 0 {
		limit = 50
	}

	query := `
		SELECT id, skip_pages, max_pages, status, pages_fetched,
		       products_found, products_merged, failed_items,
		       created_at, started_at, completed_at, COALESCE(error, '')
		FROM crawl_jobs
		ORDER BY created_at DESC
		LIMIT $1`

	rows, err := m.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []*Job
	for rows.Next() {
		job := &Job{}
		if err := rows.Scan(
			&job.ID, &job.Skip, &job.MaxPages, &job.Status, &job.PagesFetched,
			&job.ProductsFound, &job.ProductsMerged, &job.FailedItems,
			&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.Error,
		); err != nil {
			return nil, fmt.Errorf("failed to scan job: %w", err)
		}
		jobs = append(jobs, job)
	}
	return jobs, rows.Err()
}

func (m *Manager) GetStats(ctx context.Context) (*Stats, error) {
	stats := &Stats{}
	query := `
		SELECT COUNT(*),
		       COUNT(*) FILTER (WHERE status = 'pending'),
		       COUNT(*) FILTER (WHERE status = 'running'),
		       COUNT(*) FILTER (WHERE status = 'completed'),
		       COUNT(*) FILTER (WHERE status = 'failed')
		FROM crawl_jobs`
	err := m.db.QueryRow(ctx, query).Scan(
		&stats.TotalJobs, &stats.PendingJobs, &stats.RunningJobs,
		&stats.CompletedJobs, &stats.FailedJobs,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get job stats: %w", err)
	}

	stats.TotalProducts, stats.WithDetail, err = m.products.Count(ctx)
	if err != nil {
		return nil, err
	}

	finished := stats.CompletedJobs + stats.FailedJobs
	if finished > 0 {
		stats.SuccessRate = float64(stats.CompletedJobs) / float64(finished)
	}
	return stats, nil
}

// claimNext marks the oldest pending job as running and returns it.
func (m *Manager) claimNext(ctx context.Context) (*Job, error) {
	query := `
		UPDATE crawl_jobs
		SET status = 'running', started_at = NOW()
		WHERE id = (
			SELECT id FROM crawl_jobs
			WHERE status = 'pending'
			ORDER BY created_at
			LIMIT 1
			FOR UPDATE SKIP LOCKED
		)
		RETURNING id, skip_pages, max_pages, status, pages_fetched,
		          products_found, products_merged, failed_items,
		          created_at, started_at, completed_at, COALESCE(error, '')`

	job := &Job{}
	err := m.db.QueryRow(ctx, query).Scan(
		&job.ID, &job.Skip, &job.MaxPages, &job.Status, &job.PagesFetched,
		&job.ProductsFound, &job.ProductsMerged, &job.FailedItems,
		&job.CreatedAt, &job.StartedAt, &job.CompletedAt, &job.Error,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to claim job: %w", err)
	}
	return job, nil
}

func (m *Manager) finishJob(ctx context.Context, job *Job, jobErr error) error {
	status := StatusCompleted
	errMsg := ""
	if jobErr != nil {
		status = StatusFailed
		errMsg = jobErr.Error()
	}

	query := `
		UPDATE crawl_jobs
		SET status = $2, pages_fetched = $3, products_found = $4,
		    products_merged = $5, failed_items = $6, error = NULLIF($7, ''),
		    completed_at = NOW()
		WHERE id = $1`

	_, err := m.db.Exec(ctx, query, job.ID, status, job.PagesFetched,
		job.ProductsFound, job.ProductsMerged, job.FailedItems, errMsg)
	if err != nil {
		return fmt.Errorf("failed to finish job: %w", err)
	}
	return nil
}
