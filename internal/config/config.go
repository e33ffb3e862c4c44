package config

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Environment variables that override the file. They are read after an
// optional .env file in the working directory has been loaded.
const (
	EnvBaseURL      = "EVENTCAL_BASE_URL"
	EnvGeocodeKey   = "EVENTCAL_GEOCODE_API_KEY"
	EnvListen       = "EVENTCAL_LISTEN"
	EnvResolverMode = "EVENTCAL_RESOLVER"
)

// Resolver strategies. Exactly one is active per deployment.
const (
	StrategyRedirect = "redirect"
	StrategyGeocode  = "geocode"
)

const (
	defaultListen           = "127.0.0.1:8080"
	defaultTimezone         = "Asia/Bangkok"
	defaultRefreshCron      = "*/15 * * * *"
	defaultCacheTTL         = 5 * time.Minute
	defaultUpstreamTimeout  = 15 * time.Second
	defaultResolveTimeout   = 5 * time.Second
	defaultMaxConcurrency   = 8
	defaultStartingSoonDays = 7
	defaultGeocodeEndpoint  = "https://maps.googleapis.com/maps/api/geocode/json"
	defaultGeocodeRate      = 10.0
	defaultGeocodeBurst     = 10
	defaultResolveCacheTTL  = 24 * time.Hour
)

// ResolverConfig controls how map links are turned into coordinates.
type ResolverConfig struct {
	// Strategy is "redirect" (follow short links and read @lat,lon from the
	// final URL) or "geocode" (ask a geocoding API).
	Strategy string `yaml:"strategy" json:"strategy"`

	// Timeout bounds each resolution request.
	Timeout time.Duration `yaml:"timeout" json:"timeout"`

	// MaxConcurrency caps in-flight resolutions within one batch.
	MaxConcurrency int `yaml:"max_concurrency" json:"max_concurrency"`

	// CacheTTL is how long a successful resolution is reused.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	GeocodeEndpoint string  `yaml:"geocode_endpoint" json:"geocode_endpoint"`
	GeocodeAPIKey   string  `yaml:"geocode_api_key" json:"-"`
	GeocodeRate     float64 `yaml:"geocode_rate" json:"geocode_rate"`
	GeocodeBurst    int     `yaml:"geocode_burst" json:"geocode_burst"`
}

// Config is the top-level application configuration.
type Config struct {
	// Listen is the HTTP listen address.
	Listen string `yaml:"listen" json:"listen"`

	// BaseURL is the upstream API root; "event/" and "business/" are
	// appended to it.
	BaseURL string `yaml:"base_url" json:"base_url"`

	// Timezone is the IANA zone used for zone-less upstream dates and the
	// calendar grid.
	Timezone string `yaml:"timezone" json:"timezone"`

	// RefreshCron is a cron-style schedule for background catalog refresh.
	RefreshCron string `yaml:"refresh" json:"refresh"`

	// CacheTTL is how long a catalog snapshot is served before refetching.
	CacheTTL time.Duration `yaml:"cache_ttl" json:"cache_ttl"`

	// UpstreamTimeout bounds each upstream API request.
	UpstreamTimeout time.Duration `yaml:"upstream_timeout" json:"upstream_timeout"`

	// StartingSoonDays is the window in which an upcoming event is labeled
	// as starting soon.
	StartingSoonDays int `yaml:"starting_soon_days" json:"starting_soon_days"`

	// FeedDomain is the right-hand side of iCalendar UIDs.
	FeedDomain string `yaml:"feed_domain" json:"feed_domain"`

	LogLevel string `yaml:"log_level" json:"log_level"`

	Resolver ResolverConfig `yaml:"resolver" json:"resolver"`
}

// DefaultConfig returns an in-memory default configuration.
func DefaultConfig() *Config {
	c := &Config{}
	c.Normalize()
	return c
}

// Normalize fills in missing/zero values with sensible defaults so that
// partially-filled configs still behave correctly.
func (c *Config) Normalize() {
	if c.Listen == "" {
		c.Listen = defaultListen
	}
	if c.BaseURL != "" && !strings.HasSuffix(c.BaseURL, "/") {
		c.BaseURL += "/"
	}
	if c.Timezone == "" {
		c.Timezone = defaultTimezone
	}
	if c.RefreshCron == "" {
		c.RefreshCron = defaultRefreshCron
	}
	if c.CacheTTL <= 0 {
		c.CacheTTL = defaultCacheTTL
	}
	if c.UpstreamTimeout <= 0 {
		c.UpstreamTimeout = defaultUpstreamTimeout
	}
	if c.StartingSoonDays <= 0 {
		c.StartingSoonDays = defaultStartingSoonDays
	}
	if c.FeedDomain == "" {
		c.FeedDomain = "eventcal.local"
	}
	if c.LogLevel == "" {
		c.LogLevel = "info"
	}

	r := &c.Resolver
	switch strings.ToLower(r.Strategy) {
	case StrategyRedirect, StrategyGeocode:
		r.Strategy = strings.ToLower(r.Strategy)
	default:
		// Unknown or empty; redirect-follow needs no credentials.
		r.Strategy = StrategyRedirect
	}
	if r.Timeout <= 0 {
		r.Timeout = defaultResolveTimeout
	}
	if r.MaxConcurrency <= 0 {
		r.MaxConcurrency = defaultMaxConcurrency
	}
	if r.CacheTTL <= 0 {
		r.CacheTTL = defaultResolveCacheTTL
	}
	if r.GeocodeEndpoint == "" {
		r.GeocodeEndpoint = defaultGeocodeEndpoint
	}
	if r.GeocodeRate <= 0 {
		r.GeocodeRate = defaultGeocodeRate
	}
	if r.GeocodeBurst <= 0 {
		r.GeocodeBurst = defaultGeocodeBurst
	}
}

// Validate reports configuration that cannot work at runtime.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return errors.New("config: base_url is required (or set " + EnvBaseURL + ")")
	}
	if c.Resolver.Strategy == StrategyGeocode && c.Resolver.GeocodeAPIKey == "" {
		return errors.New("config: resolver.geocode_api_key is required for the geocode strategy (or set " + EnvGeocodeKey + ")")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		return errors.New("config: unknown timezone " + c.Timezone)
	}
	return nil
}

// Location returns the configured display timezone, falling back to
// time.Local when it cannot be loaded.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.Local
	}
	return loc
}

// ApplyEnv loads an optional .env file and applies environment overrides.
// A missing .env is not an error.
func (c *Config) ApplyEnv() {
	_ = godotenv.Load()

	if v := os.Getenv(EnvBaseURL); v != "" {
		c.BaseURL = v
	}
	if v := os.Getenv(EnvGeocodeKey); v != "" {
		c.Resolver.GeocodeAPIKey = v
	}
	if v := os.Getenv(EnvListen); v != "" {
		c.Listen = v
	}
	if v := os.Getenv(EnvResolverMode); v != "" {
		c.Resolver.Strategy = v
	}
	c.Normalize()
}

// Load loads configuration from the given YAML path.
//
// Behavior:
//   - If the file does not exist, a default config is written with 0600
//     perms and returned.
//   - If the file exists, it is unmarshaled and normalized.
func Load(path string) (*Config, error) {
	if path == "" {
		return nil, errors.New("config path is empty")
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			// First run: create default config file.
			cfg := DefaultConfig()
			if err := Save(path, cfg); err != nil {
				// Even if save fails, return cfg with error so caller can decide.
				return cfg, err
			}
			return cfg, nil
		}
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.Normalize()

	return &cfg, nil
}

// Save writes cfg to path atomically (temp file + rename) with 0600 perms.
// The geocoding key is written too, hence the restrictive mode.
func Save(path string, cfg *Config) error {
	if path == "" {
		return errors.New("config path is empty")
	}
	if cfg == nil {
		return errors.New("config is nil")
	}

	cfg.Normalize()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return err
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}

	tmp, err := os.CreateTemp(dir, ".eventcal-config-*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return err
	}

	if err := os.Chmod(tmpName, 0o600); err != nil {
		return err
	}

	return os.Rename(tmpName, path)
}

func (c *Config) Save(path string) error {
	return Save(path, c)
}
