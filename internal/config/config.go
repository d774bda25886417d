package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	Site     SiteConfig
	Scraper  ScraperConfig
	Browser  BrowserConfig
	Database DatabaseConfig
	Redis    RedisConfig
	Server   ServerConfig
	Logging  LoggingConfig
}

type SiteConfig struct {
	BaseURL       string
	SearchPath    string
	SelectorsFile string
	Selectors     Selectors
}

type ScraperConfig struct {
	MarkerTimeout     time.Duration
	NavigationTimeout time.Duration
	ConsentTimeout    time.Duration
	PageDelay         time.Duration
	ScrollStep        int
	ScrollStepDelay   time.Duration
	SettleDelay       time.Duration
	MaxScrollRounds   int
	DefaultMaxPages   int
	JobIntervalMin    time.Duration
	JobIntervalMax    time.Duration
	JobRetention      int
	QueueSize         int
}

type BrowserConfig struct {
	Headless       bool
	Timeout        time.Duration
	ViewportWidth  int
	ViewportHeight int
	AcceptLanguage string
	TimezoneID     string
	Locale         string
	UserAgent      string
	MaxRetries     int
}

type DatabaseConfig struct {
	Enabled  bool
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

type RedisConfig struct {
	Enabled  bool
	Addr     string
	Password string
	DB       int
	Stream   string
	// RequestStream carries search requests submitted through Redis
	// instead of the HTTP API. Empty disables the intake.
	RequestStream string
	RequestGroup  string
}

type ServerConfig struct {
	Port            string
	Host            string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	ShutdownTimeout time.Duration
	SubmitRate      float64
	SubmitBurst     int
}

type LoggingConfig struct {
	Level  string
	Format string
}

// Load reads the configuration from the environment. A .env file in the
// working directory is loaded first when present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Site: SiteConfig{
			BaseURL:       getEnvOrDefault("SITE_BASE_URL", "https://www.daraz.com.bd"),
			SearchPath:    getEnvOrDefault("SITE_SEARCH_PATH", "/catalog/?q="),
			SelectorsFile: getEnvOrDefault("SELECTORS_FILE", ""),
		},
		Scraper: ScraperConfig{
			MarkerTimeout:     getDurationOrDefault("SCRAPER_MARKER_TIMEOUT", 10*time.Second),
			NavigationTimeout: getDurationOrDefault("SCRAPER_NAVIGATION_TIMEOUT", 10*time.Second),
			ConsentTimeout:    getDurationOrDefault("SCRAPER_CONSENT_TIMEOUT", 3*time.Second),
			PageDelay:         getDurationOrDefault("SCRAPER_PAGE_DELAY", 2*time.Second),
			ScrollStep:        getIntOrDefault("SCRAPER_SCROLL_STEP", 300),
			ScrollStepDelay:   getDurationOrDefault("SCRAPER_SCROLL_STEP_DELAY", 100*time.Millisecond),
			SettleDelay:       getDurationOrDefault("SCRAPER_SETTLE_DELAY", 2*time.Second),
			MaxScrollRounds:   getIntOrDefault("SCRAPER_MAX_SCROLL_ROUNDS", 25),
			DefaultMaxPages:   getIntOrDefault("SCRAPER_DEFAULT_MAX_PAGES", 5),
			JobIntervalMin:    getDurationOrDefault("SCRAPER_JOB_INTERVAL_MIN", 5*time.Second),
			JobIntervalMax:    getDurationOrDefault("SCRAPER_JOB_INTERVAL_MAX", 15*time.Second),
			JobRetention:      getIntOrDefault("SCRAPER_JOB_RETENTION", 100),
			QueueSize:         getIntOrDefault("SCRAPER_QUEUE_SIZE", 100),
		},
		Browser: BrowserConfig{
			Headless:       getBoolOrDefault("BROWSER_HEADLESS", true),
			Timeout:        getDurationOrDefault("BROWSER_TIMEOUT", 30*time.Second),
			ViewportWidth:  getIntOrDefault("BROWSER_VIEWPORT_WIDTH", 1920),
			ViewportHeight: getIntOrDefault("BROWSER_VIEWPORT_HEIGHT", 1080),
			AcceptLanguage: getEnvOrDefault("BROWSER_ACCEPT_LANGUAGE", "en-US,en;q=0.9,bn;q=0.8"),
			TimezoneID:     getEnvOrDefault("BROWSER_TIMEZONE", "Asia/Dhaka"),
			Locale:         getEnvOrDefault("BROWSER_LOCALE", "en-US"),
			UserAgent:      getEnvOrDefault("BROWSER_USER_AGENT", ""),
			MaxRetries:     getIntOrDefault("BROWSER_MAX_RETRIES", 3),
		},
		Database: DatabaseConfig{
			Enabled:  getBoolOrDefault("DB_ENABLED", false),
			Host:     getEnvOrDefault("DB_HOST", "localhost"),
			Port:     getIntOrDefault("DB_PORT", 5432),
			User:     getEnvOrDefault("DB_USER", "postgres"),
			Password: getEnvOrDefault("DB_PASSWORD", ""),
			DBName:   getEnvOrDefault("DB_NAME", "listing_scraper"),
			SSLMode:  getEnvOrDefault("DB_SSL_MODE", "disable"),
		},
		Redis: RedisConfig{
			Enabled:  getBoolOrDefault("REDIS_ENABLED", false),
			Addr:     getEnvOrDefault("REDIS_ADDR", "localhost:6379"),
			Password: getEnvOrDefault("REDIS_PASSWORD", ""),
			DB:       getIntOrDefault("REDIS_DB", 0),
			Stream:   getEnvOrDefault("REDIS_STREAM", "stream:listing_searches"),

			RequestStream: getEnvOrDefault("REDIS_REQUEST_STREAM", "stream:listing_requests"),
			RequestGroup:  getEnvOrDefault("REDIS_REQUEST_GROUP", "listing-api"),
		},
		Server: ServerConfig{
			Port:            getEnvOrDefault("SERVER_PORT", "8080"),
			Host:            getEnvOrDefault("SERVER_HOST", "0.0.0.0"),
			ReadTimeout:     getDurationOrDefault("SERVER_READ_TIMEOUT", 30*time.Second),
			WriteTimeout:    getDurationOrDefault("SERVER_WRITE_TIMEOUT", 30*time.Second),
			ShutdownTimeout: getDurationOrDefault("SERVER_SHUTDOWN_TIMEOUT", 10*time.Second),
			SubmitRate:      getFloatOrDefault("SERVER_SUBMIT_RATE", 1),
			SubmitBurst:     getIntOrDefault("SERVER_SUBMIT_BURST", 5),
		},
		Logging: LoggingConfig{
			Level:  getEnvOrDefault("LOG_LEVEL", "info"),
			Format: getEnvOrDefault("LOG_FORMAT", "json"),
		},
	}

	selectors, err := LoadSelectors(cfg.Site.SelectorsFile)
	if err != nil {
		return nil, err
	}
	cfg.Site.Selectors = selectors

	return cfg, nil
}

func (c *Config) Validate() error {
	u, err := url.Parse(c.Site.BaseURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("SITE_BASE_URL must be an absolute URL, got %q", c.Site.BaseURL)
	}

	if c.Scraper.ScrollStep < 1 {
		return fmt.Errorf("SCRAPER_SCROLL_STEP must be at least 1")
	}

	if c.Scraper.MaxScrollRounds < 1 {
		return fmt.Errorf("SCRAPER_MAX_SCROLL_ROUNDS must be at least 1")
	}

	if c.Scraper.DefaultMaxPages < 1 {
		return fmt.Errorf("SCRAPER_DEFAULT_MAX_PAGES must be at least 1")
	}

	if c.Scraper.JobIntervalMin > c.Scraper.JobIntervalMax {
		return fmt.Errorf("SCRAPER_JOB_INTERVAL_MIN cannot be greater than SCRAPER_JOB_INTERVAL_MAX")
	}

	if c.Scraper.JobRetention < 1 {
		return fmt.Errorf("SCRAPER_JOB_RETENTION must be at least 1")
	}

	if c.Server.SubmitBurst < 1 {
		return fmt.Errorf("SERVER_SUBMIT_BURST must be at least 1")
	}

	return c.Site.Selectors.Validate()
}

// SearchURL builds the result page URL for query.
func (s SiteConfig) SearchURL(query string) string {
	return strings.TrimRight(s.BaseURL, "/") + s.SearchPath + url.QueryEscape(query)
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

func getFloatOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
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
