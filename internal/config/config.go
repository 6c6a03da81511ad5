package config

import (
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	RedisURL           string
	BackendBaseURL     string
	BackendTimeout     time.Duration
	JWTSecret          string
	JWTIssuer          string
	JWTAudience        string
	CORSAllowedOrigins []string

	CurrencyCode          string
	FreeShippingThreshold int64
	FlatShippingFee       int64
	QuoteDebounceWindow   time.Duration

	GatewayKeyID      string
	GatewayKeySecret  string
	GatewayOpenWait   time.Duration
	VerifyWaitMax     time.Duration
	PaymentLockTTL    time.Duration
	SessionTTL        time.Duration
	IdempotencyTTL    time.Duration
	CallbackReplayTTL time.Duration
	CountriesCacheTTL time.Duration

	LogLevel        string
	LogFormat       string
	OTELEndpoint    string
	OTELSampleRatio float64
	MetricsBuckets  string

	SubmitRateLimit  string
	RetryMaxAttempts int
	RetryBase        time.Duration
	RetryJitter      float64
	CircuitMinReq    int
	CircuitFailRate  float64
	CircuitOpenFor   time.Duration
}

// Load reads configuration from environment variables and optional .env files.
func Load() (*Config, error) {
	_ = godotenv.Load()

	k := koanf.New(".")
	if err := k.Load(env.Provider("", ".", func(s string) string { return s }), nil); err != nil {
		return nil, fmt.Errorf("load env: %w", err)
	}

	cfg := &Config{
		AppEnv:             valueOrDefault(k.String("APP_ENV"), "development"),
		Port:               valueOrDefault(k.String("PORT"), "8080"),
		RedisURL:           k.String("REDIS_URL"),
		BackendBaseURL:     k.String("BACKEND_BASE_URL"),
		BackendTimeout:     parseDuration(k.String("BACKEND_TIMEOUT"), "5s"),
		JWTSecret:          k.String("JWT_SECRET"),
		JWTIssuer:          strings.TrimSpace(k.String("JWT_ISSUER")),
		JWTAudience:        strings.TrimSpace(k.String("JWT_AUDIENCE")),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),

		CurrencyCode:          valueOrDefault(k.String("CURRENCY_CODE"), "INR"),
		FreeShippingThreshold: k.Int64("PRICING_FREE_SHIPPING_THRESHOLD"),
		FlatShippingFee:       k.Int64("PRICING_FLAT_SHIPPING_FEE"),
		QuoteDebounceWindow:   parseDuration(k.String("PRICING_DEBOUNCE_WINDOW"), "400ms"),

		GatewayKeyID:      k.String("GATEWAY_KEY_ID"),
		GatewayKeySecret:  k.String("GATEWAY_KEY_SECRET"),
		GatewayOpenWait:   parseDuration(k.String("GATEWAY_OPEN_WAIT"), "10m"),
		VerifyWaitMax:     parseDuration(k.String("PAYMENT_VERIFY_WAIT_MAX"), "20s"),
		PaymentLockTTL:    parseDuration(k.String("PAYMENT_LOCK_TTL"), "15m"),
		SessionTTL:        parseDuration(k.String("CHECKOUT_SESSION_TTL"), "2h"),
		IdempotencyTTL:    parseDuration(k.String("IDEMPOTENCY_TTL"), "10m"),
		CallbackReplayTTL: parseDuration(k.String("CALLBACK_REPLAY_TTL"), "24h"),
		CountriesCacheTTL: parseDuration(k.String("COUNTRIES_CACHE_TTL"), "12h"),

		LogLevel:        valueOrDefault(k.String("LOG_LEVEL"), "info"),
		LogFormat:       valueOrDefault(k.String("LOG_FORMAT"), "json"),
		OTELEndpoint:    strings.TrimSpace(k.String("OTEL_EXPORTER_OTLP_ENDPOINT")),
		OTELSampleRatio: floatOrDefault(k.Float64("OTEL_SAMPLE_RATIO"), 1),
		MetricsBuckets:  k.String("METRICS_BUCKETS_MS"),

		SubmitRateLimit:  valueOrDefault(k.String("SUBMIT_RATE_LIMIT"), "10-M"),
		RetryMaxAttempts: intOrDefault(k.Int("RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:        parseDuration(k.String("RETRY_BASE"), "100ms"),
		RetryJitter:      floatOrDefault(k.Float64("RETRY_JITTER_PCT"), 0.2),
		CircuitMinReq:    intOrDefault(k.Int("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailRate:  floatOrDefault(k.Float64("CIRCUIT_FAILURE_RATE"), 0.5),
		CircuitOpenFor:   parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),
	}

	if cfg.FreeShippingThreshold <= 0 {
		cfg.FreeShippingThreshold = 50_000
	}
	if cfg.FlatShippingFee <= 0 {
		cfg.FlatShippingFee = 4_900
	}

	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.BackendBaseURL == "" {
		return nil, errors.New("BACKEND_BASE_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	if cfg.GatewayKeySecret == "" {
		return nil, errors.New("GATEWAY_KEY_SECRET is required")
	}

	return cfg, nil
}

// HTTPAddr returns the address the HTTP server should bind to.
func (c *Config) HTTPAddr() string {
	port := strings.TrimSpace(c.Port)
	if port == "" {
		port = "8080"
	}
	if strings.HasPrefix(port, ":") {
		return port
	}
	return ":" + port
}

func splitAndTrim(value string) []string {
	if value == "" {
		return nil
	}
	parts := strings.Split(value, ",")
	result := make([]string, 0, len(parts))
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			result = append(result, trimmed)
		}
	}
	return result
}

func valueOrDefault(value, fallback string) string {
	if strings.TrimSpace(value) != "" {
		return value
	}
	return fallback
}

func intOrDefault(value, fallback int) int {
	if value > 0 {
		return value
	}
	return fallback
}

func floatOrDefault(value, fallback float64) float64 {
	if value > 0 {
		return value
	}
	return fallback
}

func parseDuration(value, fallback string) time.Duration {
	base := strings.TrimSpace(value)
	if base == "" {
		base = fallback
	}
	d, err := time.ParseDuration(base)
	if err != nil {
		d, _ = time.ParseDuration(fallback)
	}
	return d
}

// LoadForTests allows tests to override environment variables without touching the real environment.
func LoadForTests(env map[string]string) (*Config, error) {
	original := make(map[string]string, len(env))
	for key := range env {
		original[key] = os.Getenv(key)
		if err := setEnvVar(key, env[key]); err != nil {
			return nil, err
		}
	}
	cfg, err := Load()
	restoreErr := restoreEnv(original)
	if err != nil {
		return nil, err
	}
	return cfg, restoreErr
}

func setEnvVar(key, value string) error {
	if value == "" {
		return os.Unsetenv(key)
	}
	return os.Setenv(key, value)
}

func restoreEnv(values map[string]string) error {
	var errs []string
	for key, value := range values {
		if err := setEnvVar(key, value); err != nil {
			errs = append(errs, fmt.Sprintf("%s: %v", key, err))
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("restore env: %s", strings.Join(errs, "; "))
	}
	return nil
}
