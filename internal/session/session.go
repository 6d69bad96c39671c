package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/rand"
	"net/http"
	"net/http/cookiejar"
	"strings"
	"time"

	"github.com/catalogkit/storefront-scraper/internal/ratelimit"
)

// ErrAuthFailed means the storefront rejected the supplied credentials.
// It is distinct from transport failures during the login handshake.
var ErrAuthFailed = errors.New("authentication rejected by storefront")

// State tags a session as anonymous or authenticated so callers cannot
// mistake one for the other.
type State int

const (
	Anonymous State = iota
	Authenticated
)

func (s State) String() string {
	if s == Authenticated {
		return "authenticated"
	}
	return "anonymous"
}

type Credentials struct {
	Username string
	Password string
}

// Session carries the cookie state of one login (or none). The
// generation counter orders sessions produced by the same Manager so
// concurrent refresh attempts collapse into one.
type Session struct {
	state      State
	client     *http.Client
	creds      *Credentials
	generation uint64
	openedAt   time.Time
}

func (s *Session) State() State         { return s.state }
func (s *Session) Client() *http.Client { return s.client }
func (s *Session) Generation() uint64   { return s.generation }

// Config points the Manager at the storefront's login endpoint.
type Config struct {
	BaseURL    string
	LoginURL   string
	Timeout    time.Duration
	UserAgents []string
}

// Manager establishes sessions and serializes refresh attempts.
type Manager struct {
	cfg     Config
	limiter *ratelimit.Limiter
	logger  *slog.Logger

	mu      chan struct{} // held across the whole refresh handshake
	current *Session
	lastGen uint64
}

func NewManager(cfg Config, limiter *ratelimit.Limiter, logger *slog.Logger) *Manager {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	mu := make(chan struct{}, 1)
	return &Manager{
		cfg:     cfg,
		limiter: limiter,
		logger:  logger.With("component", "session"),
		mu:      mu,
	}
}

// Open establishes a session. Nil credentials produce an anonymous
// session without touching the login endpoint. With credentials, the
// login handshake runs through the rate limiter like any other request;
// rejected credentials surface as ErrAuthFailed.
func (m *Manager) Open(ctx context.Context, creds *Credentials) (*Session, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	sess, err := m.open(ctx, creds)
	if err != nil {
		return nil, err
	}
	m.lastGen++
	sess.generation = m.lastGen
	m.current = sess
	return sess, nil
}

// Refresh replaces an expired session. Callers racing on the same
// session generation share a single login: whoever arrives after the
// refresh completed gets the already-refreshed session back.
func (m *Manager) Refresh(ctx context.Context, old *Session) (*Session, error) {
	if err := m.lock(ctx); err != nil {
		return nil, err
	}
	defer m.unlock()

	if m.current != nil && m.current.generation > old.generation {
		return m.current, nil
	}

	m.logger.Info("refreshing session", "state", old.state.String(), "generation", old.generation)

	sess, err := m.open(ctx, old.creds)
	if err != nil {
		return nil, err
	}
	m.lastGen++
	sess.generation = m.lastGen
	m.current = sess
	return sess, nil
}

func (m *Manager) open(ctx context.Context, creds *Credentials) (*Session, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create cookie jar: %w", err)
	}

	client := &http.Client{
		Jar:     jar,
		Timeout: m.cfg.Timeout,
	}

	// Warm-up request so the site hands out its baseline cookies
	// before we attempt a login.
	if err := m.get(ctx, client, m.cfg.BaseURL); err != nil {
		return nil, fmt.Errorf("failed to reach storefront: %w", err)
	}

	if creds == nil {
		m.logger.Info("missing credentials, opening anonymous session")
		return &Session{state: Anonymous, client: client, openedAt: time.Now()}, nil
	}

	if err := m.login(ctx, client, creds); err != nil {
		return nil, err
	}

	m.logger.Info("logged in", "username", creds.Username)
	return &Session{state: Authenticated, client: client, creds: creds, openedAt: time.Now()}, nil
}

func (m *Manager) login(ctx context.Context, client *http.Client, creds *Credentials) error {
	release, err := m.limiter.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	payload, err := json.Marshal(map[string]string{
		"username":        creds.Username,
		"password":        creds.Password,
		"captcha_form_id": "user_login",
		"context":         "checkout",
	})
	if err != nil {
		return fmt.Errorf("failed to encode login payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, m.cfg.LoginURL, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build login request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("User-Agent", m.userAgent())

	resp, err := client.Do(req)
	if err != nil {
		return fmt.Errorf("login request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%w: status %d", ErrAuthFailed, resp.StatusCode)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("login request returned status %d", resp.StatusCode)
	}

	// The storefront answers the ajax login with 200 plus an error
	// flag in the body when credentials are wrong.
	var body struct {
		Errors  bool   `json:"errors"`
		Message string `json:"message"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Errors {
		msg := strings.TrimSpace(body.Message)
		if msg == "" {
			msg = "login rejected"
		}
		return fmt.Errorf("%w: %s", ErrAuthFailed, msg)
	}

	return nil
}

func (m *Manager) get(ctx context.Context, client *http.Client, url string) error {
	release, err := m.limiter.Acquire(ctx)
	if err != nil {
		return err
	}
	defer release()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", m.userAgent())

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("status %d from %s", resp.StatusCode, url)
	}
	return nil
}

func (m *Manager) userAgent() string {
	if len(m.cfg.UserAgents) == 0 {
		return "storefront-scraper/1.0"
	}
	return m.cfg.UserAgents[rand.Intn(len(m.cfg.UserAgents))]
}

func (m *Manager) lock(ctx context.Context) error {
	select {
	case m.mu <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) unlock() {
	<-m.mu
}
