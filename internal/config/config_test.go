package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoad_FailsWhenNoJWTSecret(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	t.Chdir(dir)

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error when no JWT_SECRET and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Errorf("Load() error = %v, want message containing JWT_SECRET", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "jwt_secret: from-secrets-file\nstore_dsn: user:pw@tcp(db:3306)/gardens\n")
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.JWTSecret != "from-secrets-file" {
		t.Errorf("JWTSecret = %q, want secret from secrets file", cfg.JWTSecret)
	}
	if cfg.StoreDSN != "user:pw@tcp(db:3306)/gardens" {
		t.Errorf("StoreDSN = %q, want dsn from secrets file", cfg.StoreDSN)
	}
}

func TestLoad_EnvOverridesSecretsFile(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "from-env")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "jwt_secret: from-secrets-file\n")
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.JWTSecret != "from-env" {
		t.Errorf("JWTSecret = %q, want env value", cfg.JWTSecret)
	}
}

func TestLoad_DotEnvFile(t *testing.T) {
	isolateEnv(t)
	// godotenv only fills variables that are not present at all.
	os.Unsetenv("JWT_SECRET")
	t.Cleanup(func() { os.Unsetenv("JWT_SECRET") })
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("JWT_SECRET=from-dotenv\n"), 0644); err != nil {
		t.Fatalf("write .env: %v", err)
	}
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.JWTSecret != "from-dotenv" {
		t.Errorf("JWTSecret = %q, want value from .env", cfg.JWTSecret)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	isolateEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")
	t.Chdir(findProjectRoot(t))

	cfg, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("Load() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("Load() error = %v, want message about config file not found", err)
	}
}

func TestLoad_Defaults(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "secret")
	dir := t.TempDir()
	writeEnvFile(t, dir, "server:\n  port: \"9090\"\n")
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	tests := []struct {
		name string
		got  any
		want any
	}{
		{"ServerPort", cfg.ServerPort, "9090"},
		{"WeatherAPIURL", cfg.WeatherAPIURL, "https://api.open-meteo.com/v1/forecast"},
		{"WeatherAPITimeout", cfg.WeatherAPITimeout, 5 * time.Second},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, true},
		{"CircuitBreakerFailureThreshold", cfg.CircuitBreakerFailureThreshold, 5},
		{"CacheBackend", cfg.CacheBackend, "in_memory"},
		{"CacheTTL", cfg.CacheTTL, 15 * time.Minute},
		{"CacheMaxEntries", cfg.CacheMaxEntries, 100},
		{"PropagationRadiusMeters", cfg.PropagationRadiusMeters, 1000.0},
		{"SchedulerEnabled", cfg.SchedulerEnabled, true},
		{"SchedulerInterval", cfg.SchedulerInterval, 10 * time.Second},
		{"SchedulerStaleness", cfg.SchedulerStaleness, 10 * time.Second},
		{"HubFanOut", cfg.HubFanOut, 8},
		{"StoreBackend", cfg.StoreBackend, "memory"},
		{"DegradedErrorPct", cfg.DegradedErrorPct, 50},
		{"ShutdownTimeout", cfg.ShutdownTimeout, 30 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("%s = %v, want %v", tt.name, tt.got, tt.want)
			}
		})
	}
}

func TestLoad_EmptyDurationFallsBackToDefault(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "secret")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: ""
scheduler:
  interval: ""
`)
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPITimeout != 5*time.Second {
		t.Errorf("WeatherAPITimeout = %v, want 5s default", cfg.WeatherAPITimeout)
	}
	if cfg.SchedulerInterval != 10*time.Second {
		t.Errorf("SchedulerInterval = %v, want 10s default", cfg.SchedulerInterval)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "secret")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
cache:
  ttl: "fifteen minutes"
`)
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CacheTTL != 15*time.Minute {
		t.Errorf("CacheTTL = %v, want 15m default", cfg.CacheTTL)
	}
}

func TestLoad_ValidationFailsWhenWeatherAPITimeoutNegative(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "secret")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  timeout: "-1s"
`)
	t.Chdir(dir)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for negative weather_api.timeout")
	}
	if !strings.Contains(err.Error(), "weather_api.timeout") {
		t.Errorf("Load() error = %v, want weather_api.timeout message", err)
	}
}

func TestLoad_ValidationErrors(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr string
	}{
		{"unknown cache backend", "cache:\n  backend: redis\n", "cache.backend"},
		{"unknown store backend", "store:\n  backend: postgres\n", "store.backend"},
		{"mysql without dsn", "store:\n  backend: mysql\n", "STORE_DSN"},
		{"bad port", "server:\n  port: \"http\"\n", "ServerPort"},
		{"bad url", "weather_api:\n  url: \"not a url\"\n", "WeatherAPIURL"},
		{"negative radius", "propagation:\n  radius_meters: -5\n", "PropagationRadiusMeters"},
		{"error pct above 100", "health:\n  degraded_error_pct: 150\n", "DegradedErrorPct"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			isolateEnv(t)
			t.Setenv("JWT_SECRET", "secret")
			dir := t.TempDir()
			writeEnvFile(t, dir, tt.yaml)
			t.Chdir(dir)

			cfg, err := Load()
			if err == nil {
				t.Fatalf("Load() = %+v, want error", cfg)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Load() error = %v, want message containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestLoad_StalenessBelowHalfIntervalClamped(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "secret")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
scheduler:
  interval: "10s"
  staleness: "1s"
`)
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.SchedulerStaleness != 10*time.Second {
		t.Errorf("SchedulerStaleness = %v, want clamped to interval", cfg.SchedulerStaleness)
	}
}

func TestLoad_DisableToggles(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "secret")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
weather_api:
  circuit_breaker:
    enabled: false
scheduler:
  enabled: false
`)
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.CircuitBreakerEnabled {
		t.Error("CircuitBreakerEnabled = true, want false")
	}
	if cfg.SchedulerEnabled {
		t.Error("SchedulerEnabled = true, want false")
	}
}

func TestLoad_SeedFileResolvedAgainstWorkingDir(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "secret")
	dir := t.TempDir()
	writeEnvFile(t, dir, "store:\n  seed_file: config/gardens.yaml\n")
	t.Chdir(dir)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	wd, _ := os.Getwd()
	want := filepath.Join(wd, "config", "gardens.yaml")
	if cfg.StoreSeedFile != want {
		t.Errorf("StoreSeedFile = %q, want %q", cfg.StoreSeedFile, want)
	}
}

func TestLoad_InvalidSecretsYAML(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "jwt_secret: [unterminated\n")
	t.Chdir(dir)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid secrets YAML")
	}
	if !strings.Contains(err.Error(), "secrets") {
		t.Errorf("Load() error = %v, want secrets parse error", err)
	}
}

func TestLoad_InvalidConfigYAML(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "secret")
	dir := t.TempDir()
	writeEnvFile(t, dir, "server: [\n")
	t.Chdir(dir)

	_, err := Load()
	if err == nil {
		t.Fatal("Load() expected error for invalid config YAML")
	}
	if !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("Load() error = %v, want parse config file error", err)
	}
}

func TestLoad_ProjectDevConfig(t *testing.T) {
	isolateEnv(t)
	t.Setenv("JWT_SECRET", "secret")
	root := findProjectRoot(t)
	t.Chdir(root)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.WeatherAPIURL == "" || cfg.ServerPort == "" {
		t.Errorf("Load() did not populate config from config/dev.yaml")
	}
	if _, err := os.Stat(cfg.StoreSeedFile); err != nil {
		t.Errorf("seed file %q: %v", cfg.StoreSeedFile, err)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", time.Second},
		{"  ", time.Second},
		{"250ms", 250 * time.Millisecond},
		{"0s", time.Second},
		{"-3s", time.Second},
		{"bogus", time.Second},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, time.Second); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := parseDurationOrZero("-3s", time.Second); got != -3*time.Second {
		t.Errorf("parseDurationOrZero(-3s) = %v, want -3s", got)
	}
}

const minimalEnvYAML = `
server:
  port: "8080"
weather_api:
  url: "https://api.example.com/v1/forecast"
  timeout: "2s"
cache:
  ttl: "15m"
  max_entries: 100
propagation:
  radius_meters: 1000
shutdown:
  timeout: "10s"
`

// isolateEnv blanks every variable Load reads so the host environment cannot leak in.
func isolateEnv(t *testing.T) {
	t.Helper()
	for _, k := range []string{"ENV_NAME", "PORT", "WEATHER_API_URL", "CACHE_BACKEND", "MEMCACHED_ADDRS", "STORE_BACKEND", "STORE_DSN", "JWT_SECRET"} {
		t.Setenv(k, "")
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, "dev.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write config file: %v", err)
	}
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	secretsDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(secretsDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(secretsDir, "secrets.yaml"), []byte(content), 0644); err != nil {
		t.Fatalf("write secrets file: %v", err)
	}
}

func findProjectRoot(t *testing.T) string {
	t.Helper()
	dir, err := os.Getwd()
	if err != nil {
		t.Fatalf("getwd: %v", err)
	}
	for {
		if _, err := os.Stat(filepath.Join(dir, "config", "dev.yaml")); err == nil {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			t.Fatal("config/dev.yaml not found (run tests from project root)")
		}
		dir = parent
	}
}
