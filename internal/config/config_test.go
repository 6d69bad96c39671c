package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://order.asiaexpressfood.nl", cfg.Site.BaseURL)
	assert.Equal(t, 48, cfg.Site.PageSize)
	assert.Equal(t, 4, cfg.Fetcher.MaxConcurrency)
	assert.Equal(t, 2*time.Second, cfg.Fetcher.MinInterval)
	assert.Equal(t, 3, cfg.Fetcher.MaxRetries)
	assert.NotEmpty(t, cfg.Fetcher.UserAgents)
	assert.Equal(t, 8080, cfg.Server.Port)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SITE_BASE_URL", "https://shop.example")
	t.Setenv("SITE_PAGE_SIZE", "24")
	t.Setenv("FETCHER_MAX_CONCURRENCY", "2")
	t.Setenv("FETCHER_MIN_INTERVAL", "500ms")
	t.Setenv("FETCHER_USER_AGENTS", "agent-a,agent-b")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "https://shop.example", cfg.Site.BaseURL)
	assert.Equal(t, 24, cfg.Site.PageSize)
	assert.Equal(t, 2, cfg.Fetcher.MaxConcurrency)
	assert.Equal(t, 500*time.Millisecond, cfg.Fetcher.MinInterval)
	assert.Equal(t, []string{"agent-a", "agent-b"}, cfg.Fetcher.UserAgents)
}

func TestListingURL(t *testing.T) {
	site := SiteConfig{
		BaseURL:       "https://shop.example/",
		Language:      "en",
		ListingPath:   "/assortiment.html",
		PageSize:      48,
		PageSizeParam: "product_list_limit",
		PageParam:     "p",
	}

	// Page 1 carries no page parameter.
	assert.Equal(t,
		"https://shop.example/en/assortiment.html?product_list_limit=48",
		site.ListingURL(1))
	assert.Equal(t,
		"https://shop.example/en/assortiment.html?product_list_limit=48&p=3",
		site.ListingURL(3))
}

func TestLoginURL(t *testing.T) {
	site := SiteConfig{
		BaseURL:   "https://shop.example/",
		LoginPath: "/customer/ajax/login",
	}
	assert.Equal(t, "https://shop.example/customer/ajax/login", site.LoginURL())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"defaults are valid", func(c *Config) {}, false},
		{"zero concurrency", func(c *Config) { c.Fetcher.MaxConcurrency = 0 }, true},
		{"username without password", func(c *Config) { c.Auth.Username = "u" }, true},
		{"password without username", func(c *Config) { c.Auth.Password = "p" }, true},
		{"full credentials", func(c *Config) {
			c.Auth.Username = "u"
			c.Auth.Password = "p"
		}, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Load()
			require.NoError(t, err)
			tt.mutate(cfg)

			err = cfg.Validate()
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}
