package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Site     SiteConfig
	Fetcher  FetcherConfig
	Auth     AuthConfig
	Server   ServerConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Browser  BrowserConfig
	Logging  LoggingConfig
}

type SiteConfig struct {
	BaseURL       string
	Language      string
	ListingPath   string
	PageSize      int
	PageSizeParam string
	PageParam     string
	LoginPath     string
}

type FetcherConfig struct {
	MaxConcurrency int
	MinInterval    time.Duration
	Timeout        time.Duration
	MaxRetries     int
	RetryDelay     time.Duration
	UserAgents     []string
}

type AuthConfig struct {
	Username string
	Password string
}

type ServerConfig struct {
	Port            int
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
}

type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Name     string
	MaxConns int32
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Stream   string
}

type BrowserConfig struct {
	Enabled  bool
	Headless bool
	Timeout  time.Duration
}

type LoggingConfig struct {
	Level  string
	Format string
}

func Load() (*Config, error) {
	// Missing .env is fine, env vars may come from the environment.
	_ = godotenv.Load()

	cfg := &Config{
		Site: SiteConfig{
			BaseURL:       getEnvOrDefault("SITE_BASE_URL", "https://order.asiaexpressfood.nl"),
			Language:      getEnvOrDefault("SITE_LANGUAGE", "en"),
			ListingPath:   getEnvOrDefault("SITE_LISTING_PATH", "/assortiment.html"),
			PageSize:      getIntOrDefault("SITE_PAGE_SIZE", 48),
			PageSizeParam: getEnvOrDefault("SITE_PAGE_SIZE_PARAM", "product_list_limit"),
			PageParam:     getEnvOrDefault("SITE_PAGE_PARAM", "p"),
			LoginPath:     getEnvOrDefault("SITE_LOGIN_PATH", "/customer/ajax/login"),
		},
		Fetcher: FetcherConfig{
			MaxConcurrency: getIntOrDefault("FETCHER_MAX_CONCURRENCY", 4),
			MinInterval:    getDurationOrDefault("FETCHER_MIN_INTERVAL", 2*time.Second),
			Timeout:        getDurationOrDefault("FETCHER_TIMEOUT", 30*time.Second),
			MaxRetries:     getIntOrDefault("FETCHER_MAX_RETRIES", 3),
			RetryDelay:     getDurationOrDefault("FETCHER_RETRY_DELAY", 5*time.Second),
			UserAgents:     getStringSliceOrDefault("FETCHER_USER_AGENTS", defaultUserAgents()),
		},
		Auth: AuthConfig{
			Username: os.Getenv("SITE_USERNAME"),
			Password: os.Getenv("SITE_PASSWORD"),
		},
		Server: ServerConfig{
			Port:            getIntOrDefault("SERVER_PORT", 8080),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 15*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 60*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 30*time.Second),
		},
		Database: DatabaseConfig{
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			Name:     getEnvOrDefault("DB_NAME", "storefront"),
			MaxConns: int32(getIntOrDefault("DB_MAX_CONNS", 10)),
		},
		Redis: RedisConfig{
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:catalog_products"),
		},
		Browser: BrowserConfig{
			Enabled:  getBoolOrDefault("BROWSER_ENABLED", false),
			Headless: getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:  getDurationOrDefault("BROWSER_TIMEOUT", 60*time.Second),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	return cfg, nil
}

func (c *Config) Validate() error {
	if c.Fetcher.MaxConcurrency < 1 {
		return fmt.Errorf("FETCHER_MAX_CONCURRENCY must be at least 1")
	}
	if c.Fetcher.MinInterval < 0 {
		return fmt.Errorf("FETCHER_MIN_INTERVAL cannot be negative")
	}
	if c.Fetcher.MaxRetries < 0 {
		return fmt.Errorf("FETCHER_MAX_RETRIES cannot be negative")
	}
	if c.Site.BaseURL == "" {
		return fmt.Errorf("SITE_BASE_URL is required")
	}
	if (c.Auth.Username == "") != (c.Auth.Password == "") {
		return fmt.Errorf("SITE_USERNAME and SITE_PASSWORD must be set together")
	}
	return nil
}

// ListingURL builds the listing URL for one page index. Page 1 carries
// no page parameter, matching the storefront's own pagination links.
func (c *SiteConfig) ListingURL(page int) string {
	url := fmt.Sprintf("%s/%s%s?%s=%d",
		strings.TrimRight(c.BaseURL, "/"), c.Language, c.ListingPath,
		c.PageSizeParam, c.PageSize)
	if page > 1 {
		url = fmt.Sprintf("%s&%s=%d", url, c.PageParam, page)
	}
	return url
}

func (c *SiteConfig) LoginURL() string {
	return strings.TrimRight(c.BaseURL, "/") + c.LoginPath
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if i, err := strconv.Atoi(value); err == nil {
			return i
		}
	}
	return defaultValue
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func getStringSliceOrDefault(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}

func defaultUserAgents() []string {
	return []string{
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
		"Mozilla/5.0 (Windows NT 10.0; Win64; x64; rv:136.0) Gecko/20100101 Firefox/136.0",
		"Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/605.1.15 (KHTML, like Gecko) Version/17.10 Safari/605.1.15",
		"Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/134.0.0.0 Safari/537.36",
	}
}
