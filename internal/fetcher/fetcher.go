package fetcher

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/catalogkit/storefront-scraper/internal/models"
	"github.com/catalogkit/storefront-scraper/internal/ratelimit"
	"github.com/catalogkit/storefront-scraper/internal/session"
)

// Options tune retry behavior for all fetches issued by one Fetcher.
type Options struct {
	Timeout    time.Duration
	MaxRetries int
	RetryDelay time.Duration
	UserAgents []string
}

// Fetcher retrieves single pages through a session's HTTP client,
// holding exactly one rate limiter permit per in-flight attempt.
type Fetcher struct {
	limiter *ratelimit.Limiter
	opts    Options
	logger  *slog.Logger
}

func New(limiter *ratelimit.Limiter, opts Options, logger *slog.Logger) *Fetcher {
	if opts.Timeout == 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.RetryDelay == 0 {
		opts.RetryDelay = 5 * time.Second
	}
	return &Fetcher{
		limiter: limiter,
		opts:    opts,
		logger:  logger.With("component", "fetcher"),
	}
}

// Fetch retrieves one page. Transient failures (connection errors,
// 5xx) are retried up to the budget, each attempt paced by the rate
// limiter. Timeouts, expired sessions and exhausted retries surface as
// *TimeoutError, ErrSessionExpired and *FetchError respectively.
func (f *Fetcher) Fetch(ctx context.Context, req models.FetchRequest, sess *session.Session) (*models.PageArtifact, error) {
	timeout := req.Timeout
	if timeout == 0 {
		timeout = f.opts.Timeout
	}
	maxRetries := req.MaxRetries
	if maxRetries == 0 {
		maxRetries = f.opts.MaxRetries
	}

	var lastErr error
	attempts := 0
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			// Back off linearly between retries; the limiter's
			// interval gate still applies on re-acquisition.
			select {
			case <-ctx.Done():
				return nil, ctx.Err()
			case <-time.After(time.Duration(attempt) * f.opts.RetryDelay):
			}
		}

		attempts++
		artifact, err := f.attempt(ctx, req, sess, timeout)
		if err == nil {
			return artifact, nil
		}

		var (
			timeoutErr *TimeoutError
			fetchErr   *FetchError
		)
		switch {
		case errors.Is(err, context.Canceled):
			return nil, err
		case errors.As(err, &timeoutErr):
			return nil, err
		case errors.Is(err, ErrSessionExpired):
			return nil, err
		case errors.As(err, &fetchErr):
			// Non-transient HTTP failure, retrying cannot help.
			return nil, err
		}

		lastErr = err
		f.logger.Warn("fetch attempt failed",
			"url", req.URL, "attempt", attempt+1, "error", err)
	}

	return nil, &FetchError{URL: req.URL, Attempts: attempts, Cause: lastErr}
}

func (f *Fetcher) attempt(ctx context.Context, req models.FetchRequest, sess *session.Session, timeout time.Duration) (*models.PageArtifact, error) {
	release, err := f.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	attemptCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	httpReq, err := http.NewRequestWithContext(attemptCtx, http.MethodGet, req.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("User-Agent", f.userAgent())
	httpReq.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")

	resp, err := sess.Client().Do(httpReq)
	if err != nil {
		if isTimeout(ctx, attemptCtx, err) {
			return nil, &TimeoutError{URL: req.URL, Budget: timeout}
		}
		return nil, err
	}
	defer resp.Body.Close()

	if expired(sess, resp) {
		return nil, fmt.Errorf("%w: %s answered %d at %s",
			ErrSessionExpired, req.URL, resp.StatusCode, resp.Request.URL)
	}

	if resp.StatusCode >= 500 {
		return nil, fmt.Errorf("server error: status %d", resp.StatusCode)
	}
	if resp.StatusCode >= 400 {
		// Client errors are not transient, fail the request outright.
		return nil, &FetchError{
			URL:      req.URL,
			Attempts: 1,
			Cause:    fmt.Errorf("status %d", resp.StatusCode),
		}
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		if isTimeout(ctx, attemptCtx, err) {
			return nil, &TimeoutError{URL: req.URL, Budget: timeout}
		}
		return nil, fmt.Errorf("failed to read response body: %w", err)
	}

	return &models.PageArtifact{
		Body:      body,
		PageIndex: req.PageIndex,
		ProductID: req.ProductID,
		URL:       req.URL,
		FetchedAt: time.Now(),
	}, nil
}

// expired detects an unauthenticated response for a session that was
// authenticated: either an explicit 401/403 or a redirect onto the
// login page.
func expired(sess *session.Session, resp *http.Response) bool {
	if sess.State() != session.Authenticated {
		return false
	}
	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return true
	}
	return strings.Contains(resp.Request.URL.Path, "/customer/account/login")
}

func isTimeout(ctx, attemptCtx context.Context, err error) bool {
	if ctx.Err() != nil {
		// The caller's context expired or was cancelled, not the
		// per-request budget.
		return false
	}
	if attemptCtx.Err() == context.DeadlineExceeded {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr) && netErr.Timeout()
}

func (f *Fetcher) userAgent() string {
	if len(f.opts.UserAgents) == 0 {
		return "storefront-scraper/1.0"
	}
	return f.opts.UserAgents[rand.Intn(len(f.opts.UserAgents))]
}
