package browser

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/playwright-community/playwright-go"

	"github.com/catalogkit/storefront-scraper/internal/models"
	"github.com/catalogkit/storefront-scraper/internal/ratelimit"
	"github.com/catalogkit/storefront-scraper/internal/session"
)

// Fetcher retrieves pages through a real browser. The storefront
// renders parts of the detail page (tier prices, stock badge) with
// Javascript and gates them behind a logged-in browser session, which
// a plain HTTP client cannot reproduce.
type Fetcher struct {
	pw      *playwright.Playwright
	browser playwright.Browser
	page    playwright.Page
	limiter *ratelimit.Limiter
	opts    Options
	logger  *slog.Logger
}

type Options struct {
	Headless  bool
	Timeout   time.Duration
	BaseURL   string
	UserAgent string
}

func DefaultOptions() *Options {
	return &Options{
		Headless:  true,
		Timeout:   60 * time.Second,
		UserAgent: "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
	}
}

func New(opts *Options, limiter *ratelimit.Limiter, logger *slog.Logger) (*Fetcher, error) {
	if opts == nil {
		opts = DefaultOptions()
	}

	pw, err := playwright.Run()
	if err != nil {
		return nil, fmt.Errorf("failed to start playwright: %w", err)
	}

	browser, err := pw.Chromium.Launch(playwright.BrowserTypeLaunchOptions{
		Headless: playwright.Bool(opts.Headless),
		Args: []string{
			"--disable-blink-features=AutomationControlled",
			"--disable-dev-shm-usage",
			"--no-sandbox",
		},
	})
	if err != nil {
		pw.Stop()
		return nil, fmt.Errorf("failed to launch browser: %w", err)
	}

	browserCtx, err := browser.NewContext(playwright.BrowserNewContextOptions{
		UserAgent: playwright.String(opts.UserAgent),
	})
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to create browser context: %w", err)
	}

	page, err := browserCtx.NewPage()
	if err != nil {
		browser.Close()
		pw.Stop()
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	return &Fetcher{
		pw:      pw,
		browser: browser,
		page:    page,
		limiter: limiter,
		opts:    *opts,
		logger:  logger.With("component", "browser"),
	}, nil
}

// Login walks the storefront's interactive login form. The ajax login
// endpoint the HTTP session manager uses does not exist for the
// browser flow.
func (f *Fetcher) Login(ctx context.Context, creds *session.Credentials) error {
	release, err := f.limiter.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	if _, err := f.page.Goto(f.opts.BaseURL); err != nil {
		return fmt.Errorf("failed to open storefront: %w", err)
	}

	steps := []func() error{
		func() error {
			return f.page.GetByRole("link", playwright.PageGetByRoleOptions{Name: "Inloggen"}).Click()
		},
		func() error {
			return f.page.GetByRole("textbox", playwright.PageGetByRoleOptions{Name: "E-mail"}).Fill(creds.Username)
		},
		func() error {
			return f.page.GetByRole("textbox", playwright.PageGetByRoleOptions{Name: "Wachtwoord"}).Fill(creds.Password)
		},
		func() error {
			return f.page.GetByRole("button", playwright.PageGetByRoleOptions{Name: "Inloggen"}).Click()
		},
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return fmt.Errorf("%w: %v", session.ErrAuthFailed, err)
		}
	}

	f.logger.Info("browser login completed", "username", creds.Username)
	return nil
}

// Fetch satisfies crawler.PageFetcher: it navigates to the requested
// URL and returns the rendered page content as an artifact. The
// session argument only scopes the request; browser cookie state lives
// in the browser context.
func (f *Fetcher) Fetch(ctx context.Context, req models.FetchRequest, _ *session.Session) (*models.PageArtifact, error) {
	release, err := f.limiter.Acquire(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	timeout := req.Timeout
	if timeout == 0 {
		timeout = f.opts.Timeout
	}

	if _, err := f.page.Goto(req.URL, playwright.PageGotoOptions{
		Timeout:   playwright.Float(float64(timeout.Milliseconds())),
		WaitUntil: playwright.WaitUntilStateDomcontentloaded,
	}); err != nil {
		return nil, fmt.Errorf("failed to load %s: %w", req.URL, err)
	}

	content, err := f.page.Content()
	if err != nil {
		return nil, fmt.Errorf("failed to read page content: %w", err)
	}

	return &models.PageArtifact{
		Body:      []byte(content),
		PageIndex: req.PageIndex,
		ProductID: req.ProductID,
		URL:       req.URL,
		FetchedAt: time.Now(),
	}, nil
}

func (f *Fetcher) Close() error {
	if err := f.browser.Close(); err != nil {
		return err
	}
	return f.pw.Stop()
}
