// Package config loads the client configuration from a YAML file, a .env
// file and TANDEM_* environment variables, in that order of precedence
// (environment wins).
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/mcdev12/tandem/go/clients"
	"github.com/mcdev12/tandem/go/internal/checkin"
	"github.com/mcdev12/tandem/go/internal/countdown"
	"github.com/mcdev12/tandem/go/internal/events"
	"github.com/mcdev12/tandem/go/internal/location"
	"github.com/mcdev12/tandem/go/internal/peak"
	"github.com/mcdev12/tandem/go/internal/presence"
)

var ErrInvalidConfig = errors.New("invalid config")

type Config struct {
	LogLevel string `yaml:"log_level"`
	// Salt keys every identifier derived from the anonymous device id.
	Salt string `yaml:"salt"`

	Backend struct {
		URL     string        `yaml:"url"`
		Timeout time.Duration `yaml:"timeout"`
	} `yaml:"backend"`

	Geo struct {
		FirstPartyURL     string        `yaml:"first_party_url"`
		FirstPartyTimeout time.Duration `yaml:"first_party_timeout"`
		ThirdPartyTimeout time.Duration `yaml:"third_party_timeout"`
		Freshness         time.Duration `yaml:"freshness"`
		Sources           []string      `yaml:"sources"`
	} `yaml:"geo"`

	Presence struct {
		Interval          time.Duration `yaml:"interval"`
		RetryInterval     time.Duration `yaml:"retry_interval"`
		MaxInitialRetries int           `yaml:"max_initial_retries"`
	} `yaml:"presence"`

	Peak struct {
		Interval time.Duration `yaml:"interval"`
	} `yaml:"peak"`

	Countdown struct {
		TickInterval time.Duration `yaml:"tick_interval"`
		RetryDelay   time.Duration `yaml:"retry_delay"`
	} `yaml:"countdown"`

	Checkin struct {
		CountsTTL time.Duration `yaml:"counts_ttl"`
	} `yaml:"checkin"`

	Gateway struct {
		Addr           string   `yaml:"addr"`
		AllowedOrigins []string `yaml:"allowed_origins"`
	} `yaml:"gateway"`

	NATS struct {
		Enabled       bool   `yaml:"enabled"`
		URL           string `yaml:"url"`
		SubjectPrefix string `yaml:"subject_prefix"`
	} `yaml:"nats"`

	Store struct {
		Path string `yaml:"path"`
	} `yaml:"store"`
}

// Default returns a config with every component default filled in.
func Default() *Config {
	var c Config
	c.LogLevel = "info"

	c.Backend.URL = "http://localhost:8080"
	c.Backend.Timeout = 10 * time.Second

	loc := location.DefaultConfig()
	c.Geo.FirstPartyTimeout = loc.FirstPartyTimeout
	c.Geo.ThirdPartyTimeout = loc.ThirdPartyTimeout
	c.Geo.Freshness = loc.Freshness
	for _, src := range clients.SourcesInTier(clients.TierThirdParty) {
		c.Geo.Sources = append(c.Geo.Sources, string(src.Source))
	}

	p := presence.DefaultConfig()
	c.Presence.Interval = p.Interval
	c.Presence.RetryInterval = p.RetryInterval
	c.Presence.MaxInitialRetries = p.MaxInitialRetries

	c.Peak.Interval = peak.DefaultConfig().Interval

	cd := countdown.DefaultConfig()
	c.Countdown.TickInterval = cd.TickInterval
	c.Countdown.RetryDelay = cd.RetryDelay

	c.Checkin.CountsTTL = checkin.DefaultConfig().CountsTTL

	c.Gateway.Addr = ":8090"
	c.Gateway.AllowedOrigins = []string{"http://localhost:3000", "http://localhost:5173"}

	nc := events.DefaultNATSConfig()
	c.NATS.URL = nc.URL
	c.NATS.SubjectPrefix = nc.SubjectPrefix

	c.Store.Path = "tandem.db"
	return &c
}

// LoadDotEnv loads .env files; missing files are ignored.
func LoadDotEnv(paths ...string) error {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		if err := godotenv.Load(p); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", p, err)
		}
	}
	return nil
}

// Load reads path over the defaults, then applies environment overrides.
// An empty path skips the file.
func Load(path string) (*Config, error) {
	c := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, c); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
	}

	c.applyEnv()
	return c, nil
}

func (c *Config) applyEnv() {
	c.LogLevel = getEnv("TANDEM_LOG_LEVEL", c.LogLevel)
	c.Salt = getEnv("TANDEM_SALT", c.Salt)
	c.Backend.URL = getEnv("TANDEM_BACKEND_URL", c.Backend.URL)
	c.Backend.Timeout = getEnvAsDuration("TANDEM_BACKEND_TIMEOUT", c.Backend.Timeout)
	c.Geo.FirstPartyURL = getEnv("TANDEM_GEO_FIRST_PARTY_URL", c.Geo.FirstPartyURL)
	if v := getEnv("TANDEM_GEO_SOURCES", ""); v != "" {
		c.Geo.Sources = splitList(v)
	}
	c.Presence.Interval = getEnvAsDuration("TANDEM_PRESENCE_INTERVAL", c.Presence.Interval)
	c.Presence.MaxInitialRetries = getEnvAsInt("TANDEM_PRESENCE_MAX_RETRIES", c.Presence.MaxInitialRetries)
	c.Peak.Interval = getEnvAsDuration("TANDEM_PEAK_INTERVAL", c.Peak.Interval)
	c.Gateway.Addr = getEnv("TANDEM_GATEWAY_ADDR", c.Gateway.Addr)
	if v := getEnv("TANDEM_ALLOWED_ORIGINS", ""); v != "" {
		c.Gateway.AllowedOrigins = splitList(v)
	}
	c.NATS.Enabled = getEnvAsBool("TANDEM_NATS_ENABLED", c.NATS.Enabled)
	c.NATS.URL = getEnv("TANDEM_NATS_URL", c.NATS.URL)
	c.Store.Path = getEnv("TANDEM_STORE_PATH", c.Store.Path)
}

// Validate checks what the run command needs.
func (c *Config) Validate() error {
	var errs []error
	if c.Salt == "" {
		errs = append(errs, errors.New("salt is required"))
	}
	if u, err := url.Parse(c.Backend.URL); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("backend.url %q is not an absolute URL", c.Backend.URL))
	}
	thirdParty := make(map[string]bool)
	for _, src := range clients.SourcesInTier(clients.TierThirdParty) {
		thirdParty[string(src.Source)] = true
	}
	for _, src := range c.Geo.Sources {
		if !thirdParty[src] {
			errs = append(errs, fmt.Errorf("unknown third party geo source %q", src))
		}
	}
	for _, d := range []struct {
		name  string
		value time.Duration
	}{
		{"backend.timeout", c.Backend.Timeout},
		{"geo.freshness", c.Geo.Freshness},
		{"presence.interval", c.Presence.Interval},
		{"presence.retry_interval", c.Presence.RetryInterval},
		{"peak.interval", c.Peak.Interval},
		{"countdown.tick_interval", c.Countdown.TickInterval},
	} {
		if d.value <= 0 {
			errs = append(errs, fmt.Errorf("%s must be positive", d.name))
		}
	}
	if c.Presence.MaxInitialRetries < 0 {
		errs = append(errs, errors.New("presence.max_initial_retries must not be negative"))
	}
	if len(errs) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidConfig, errors.Join(errs...))
	}
	return nil
}

func (c *Config) LocationConfig() location.Config {
	return location.Config{
		FirstPartyTimeout: c.Geo.FirstPartyTimeout,
		ThirdPartyTimeout: c.Geo.ThirdPartyTimeout,
		Freshness:         c.Geo.Freshness,
	}
}

func (c *Config) PresenceConfig() presence.Config {
	p := presence.DefaultConfig()
	p.Interval = c.Presence.Interval
	p.RetryInterval = c.Presence.RetryInterval
	p.MaxInitialRetries = c.Presence.MaxInitialRetries
	p.CallTimeout = c.Backend.Timeout
	p.Salt = c.Salt
	return p
}

func (c *Config) PeakConfig() peak.Config {
	return peak.Config{Interval: c.Peak.Interval, CallTimeout: c.Backend.Timeout}
}

func (c *Config) CountdownConfig() countdown.Config {
	cd := countdown.DefaultConfig()
	cd.TickInterval = c.Countdown.TickInterval
	cd.RetryDelay = c.Countdown.RetryDelay
	cd.FetchTimeout = c.Backend.Timeout
	return cd
}

func (c *Config) CheckinConfig() checkin.Config {
	return checkin.Config{Salt: c.Salt, CountsTTL: c.Checkin.CountsTTL, CallTimeout: c.Backend.Timeout}
}

func (c *Config) NATSConfig() events.NATSConfig {
	nc := events.DefaultNATSConfig()
	nc.URL = c.NATS.URL
	nc.SubjectPrefix = c.NATS.SubjectPrefix
	return nc
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitList(v string) []string {
	var out []string
	for _, part := range strings.Split(v, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
