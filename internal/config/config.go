package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds service configuration loaded from YAML, .env and the environment.
type Config struct {
	ServerPort string `validate:"required,numeric"`

	WeatherAPIURL                  string        `validate:"required,url"`
	WeatherAPITimeout              time.Duration `validate:"gt=0"`
	WeatherAPIRateLimitRPS         float64       `validate:"gte=0"`
	WeatherAPIRateLimitBurst       int           `validate:"gte=0"`
	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int           `validate:"gte=1"`
	CircuitBreakerTimeout          time.Duration `validate:"gt=0"`

	CacheBackend          string        `validate:"oneof=in_memory memcached"`
	CacheTTL              time.Duration `validate:"gt=0"`
	CacheMaxEntries       int           `validate:"gte=1"`
	CacheWarmOnStart      bool
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int

	PropagationRadiusMeters float64 `validate:"gt=0"`

	SchedulerEnabled   bool
	SchedulerInterval  time.Duration `validate:"gt=0"`
	SchedulerStaleness time.Duration `validate:"gt=0"`

	HubNearbyMaxDistanceMeters float64 `validate:"gte=0"`
	HubConnectRateLimitRPS     float64 `validate:"gte=0"`
	HubConnectRateLimitBurst   int     `validate:"gte=0"`
	HubAllowedOrigins          []string
	HubFanOut                  int `validate:"gte=1"`

	StoreBackend      string `validate:"oneof=memory mysql"`
	StoreSeedFile     string
	StoreDSN          string `validate:"required_if=StoreBackend mysql"`
	StoreMaxOpenConns int

	JWTSecret string `validate:"required"`

	DegradedWindow   time.Duration `validate:"gt=0"`
	DegradedErrorPct int           `validate:"gte=1,lte=100"`

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	WeatherAPI struct {
		URL            string  `yaml:"url"`
		Timeout        string  `yaml:"timeout"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst"`
		CircuitBreaker struct {
			Enabled          *bool  `yaml:"enabled"`
			FailureThreshold int    `yaml:"failure_threshold"`
			Timeout          string `yaml:"timeout"`
		} `yaml:"circuit_breaker"`
	} `yaml:"weather_api"`

	Cache struct {
		Backend     string `yaml:"backend"`
		TTL         string `yaml:"ttl"`
		MaxEntries  int    `yaml:"max_entries"`
		WarmOnStart bool   `yaml:"warm_on_start"`
		Memcached   struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
	} `yaml:"cache"`

	Propagation struct {
		RadiusMeters float64 `yaml:"radius_meters"`
	} `yaml:"propagation"`

	Scheduler struct {
		Enabled   *bool  `yaml:"enabled"`
		Interval  string `yaml:"interval"`
		Staleness string `yaml:"staleness"`
	} `yaml:"scheduler"`

	Hub struct {
		NearbyMaxDistanceMeters float64  `yaml:"nearby_max_distance_meters"`
		ConnectRateLimitRPS     float64  `yaml:"connect_rate_limit_rps"`
		ConnectRateLimitBurst   int      `yaml:"connect_rate_limit_burst"`
		AllowedOrigins          []string `yaml:"allowed_origins"`
		FanOut                  int      `yaml:"fan_out"`
	} `yaml:"hub"`

	Store struct {
		Backend      string `yaml:"backend"`
		SeedFile     string `yaml:"seed_file"`
		MaxOpenConns int    `yaml:"max_open_conns"`
	} `yaml:"store"`

	Health struct {
		DegradedWindow   string `yaml:"degraded_window"`
		DegradedErrorPct int    `yaml:"degraded_error_pct"`
	} `yaml:"health"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`
}

type secretsFile struct {
	JWTSecret string `yaml:"jwt_secret"`
	StoreDSN  string `yaml:"store_dsn"`
}

var validate = validator.New()

// Load reads configuration from config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml.
// A .env file in the working directory is loaded first; it never overrides variables already
// set. JWT_SECRET and STORE_DSN come from env or the secrets file. Call from project root.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	env := os.Getenv("ENV_NAME")
	if env == "" {
		env = "dev"
	}

	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	configPath := filepath.Join(cwd, "config", env+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	sec, err := loadSecrets(filepath.Join(cwd, "config", "secrets.yaml"))
	if err != nil {
		return nil, err
	}

	cfg := &Config{}
	cfg.ServerPort = firstNonEmpty(os.Getenv("PORT"), fc.Server.Port, "8080")

	cfg.WeatherAPIURL = firstNonEmpty(os.Getenv("WEATHER_API_URL"), fc.WeatherAPI.URL, "https://api.open-meteo.com/v1/forecast")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.WeatherAPI.Timeout, 5*time.Second)
	cfg.WeatherAPIRateLimitRPS = fc.WeatherAPI.RateLimitRPS
	cfg.WeatherAPIRateLimitBurst = fc.WeatherAPI.RateLimitBurst
	if cfg.WeatherAPIRateLimitRPS > 0 && cfg.WeatherAPIRateLimitBurst <= 0 {
		cfg.WeatherAPIRateLimitBurst = 1
	}
	cfg.CircuitBreakerEnabled = true
	if fc.WeatherAPI.CircuitBreaker.Enabled != nil {
		cfg.CircuitBreakerEnabled = *fc.WeatherAPI.CircuitBreaker.Enabled
	}
	cfg.CircuitBreakerFailureThreshold = fc.WeatherAPI.CircuitBreaker.FailureThreshold
	if cfg.CircuitBreakerFailureThreshold <= 0 {
		cfg.CircuitBreakerFailureThreshold = 5
	}
	cfg.CircuitBreakerTimeout = parseDuration(fc.WeatherAPI.CircuitBreaker.Timeout, 30*time.Second)

	cfg.CacheBackend = normalize(firstNonEmpty(os.Getenv("CACHE_BACKEND"), fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 15*time.Minute)
	cfg.CacheMaxEntries = fc.Cache.MaxEntries
	if cfg.CacheMaxEntries <= 0 {
		cfg.CacheMaxEntries = 100
	}
	cfg.CacheWarmOnStart = fc.Cache.WarmOnStart
	cfg.MemcachedAddrs = firstNonEmpty(strings.TrimSpace(os.Getenv("MEMCACHED_ADDRS")), strings.TrimSpace(fc.Cache.Memcached.Addrs), "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = fc.Cache.Memcached.MaxIdleConns
	if cfg.MemcachedMaxIdleConns <= 0 {
		cfg.MemcachedMaxIdleConns = 2
	}

	cfg.PropagationRadiusMeters = fc.Propagation.RadiusMeters
	if cfg.PropagationRadiusMeters == 0 {
		cfg.PropagationRadiusMeters = 1000
	}

	cfg.SchedulerEnabled = true
	if fc.Scheduler.Enabled != nil {
		cfg.SchedulerEnabled = *fc.Scheduler.Enabled
	}
	cfg.SchedulerInterval = parseDuration(fc.Scheduler.Interval, 10*time.Second)
	cfg.SchedulerStaleness = parseDuration(fc.Scheduler.Staleness, 10*time.Second)

	cfg.HubNearbyMaxDistanceMeters = fc.Hub.NearbyMaxDistanceMeters
	cfg.HubConnectRateLimitRPS = fc.Hub.ConnectRateLimitRPS
	cfg.HubConnectRateLimitBurst = fc.Hub.ConnectRateLimitBurst
	if cfg.HubConnectRateLimitRPS > 0 && cfg.HubConnectRateLimitBurst <= 0 {
		cfg.HubConnectRateLimitBurst = int(cfg.HubConnectRateLimitRPS) + 1
	}
	cfg.HubAllowedOrigins = fc.Hub.AllowedOrigins
	cfg.HubFanOut = fc.Hub.FanOut
	if cfg.HubFanOut <= 0 {
		cfg.HubFanOut = 8
	}

	cfg.StoreBackend = normalize(firstNonEmpty(os.Getenv("STORE_BACKEND"), fc.Store.Backend, "memory"))
	cfg.StoreSeedFile = fc.Store.SeedFile
	if cfg.StoreSeedFile != "" && !filepath.IsAbs(cfg.StoreSeedFile) {
		cfg.StoreSeedFile = filepath.Join(cwd, cfg.StoreSeedFile)
	}
	cfg.StoreDSN = firstNonEmpty(os.Getenv("STORE_DSN"), sec.StoreDSN)
	cfg.StoreMaxOpenConns = fc.Store.MaxOpenConns

	cfg.JWTSecret = firstNonEmpty(os.Getenv("JWT_SECRET"), sec.JWTSecret)

	cfg.DegradedWindow = parseDuration(fc.Health.DegradedWindow, 60*time.Second)
	cfg.DegradedErrorPct = fc.Health.DegradedErrorPct
	if cfg.DegradedErrorPct == 0 {
		cfg.DegradedErrorPct = 50
	}

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func loadSecrets(path string) (secretsFile, error) {
	var sec secretsFile
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return sec, nil
		}
		return sec, fmt.Errorf("read secrets file: %w", err)
	}
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return sec, fmt.Errorf("parse secrets file: %w", err)
	}
	return sec, nil
}

// validate runs struct-tag checks and cross-field fixups.
func (c *Config) validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) && len(verrs) > 0 {
			return fmt.Errorf("invalid config: %s", describe(verrs[0]))
		}
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.SchedulerStaleness < c.SchedulerInterval/2 {
		// A threshold far below the tick interval would refresh every garden on every tick.
		c.SchedulerStaleness = c.SchedulerInterval
	}
	return nil
}

// describe names the offending field the way it is set, so errors point at the fix.
func describe(fe validator.FieldError) string {
	switch fe.StructField() {
	case "JWTSecret":
		return "JWT_SECRET required (set env or config/secrets.yaml jwt_secret)"
	case "StoreDSN":
		return "STORE_DSN required when store.backend is mysql"
	case "CacheBackend":
		return fmt.Sprintf("cache.backend must be in_memory or memcached, got %q", fe.Value())
	case "StoreBackend":
		return fmt.Sprintf("store.backend must be memory or mysql, got %q", fe.Value())
	case "WeatherAPITimeout":
		return "weather_api.timeout must be positive"
	}
	return fmt.Sprintf("%s failed %q (value %v)", fe.StructField(), fe.Tag(), fe.Value())
}

// parseDuration parses a duration string and returns defaultVal if parsing fails or result is <= 0.
// Used for parsing duration fields from YAML config with safe fallback to defaults.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses a duration string, returning defaultVal on empty string or parse error.
// Returns zero or negative durations as-is (caller should handle fallback).
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
