package config

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/v2"
)

// TierFallback names how the pricing engine behaves when no tier covers a quantity.
type TierFallback string

const (
	TierFallbackError TierFallback = "error"
	TierFallbackFirst TierFallback = "first"
)

// Config holds application configuration loaded from the environment.
type Config struct {
	AppEnv             string
	Port               string
	DatabaseURL        string
	RedisURL           string
	JWTSecret          string
	CORSAllowedOrigins []string
	MigrateOnStart     bool
	PublicBaseURL      string

	AccessTokenTTL    time.Duration
	RefreshTokenTTL   time.Duration
	PasswordResetTTL  time.Duration
	RefreshCookieName string
	CookieDomain      string
	CookieSecure      bool
	CookieSameSite    http.SameSite

	CatalogCacheTTL     time.Duration
	CatalogDefaultLimit int
	CatalogMaxLimit     int
	LowStockThreshold   int
	IdempotencyTTL      time.Duration

	PricingTierFallback      TierFallback
	PricingMaxLines          int
	PricingDefaultTaxPercent float64

	PaymentProvider        string
	PhonePeMerchantID      string
	PhonePeSaltKey         string
	PhonePeSaltIndex       string
	PhonePeBaseURL         string
	PaymentCallbackBaseURL string
	PaymentRedirectURL     string
	PaymentIntentTTL       time.Duration
	WebhookReplayTTL       time.Duration

	OutboundTimeout     time.Duration
	RetryMaxAttempts    int
	RetryBase           time.Duration
	CircuitMinRequests  int
	CircuitFailureRatio float64
	CircuitOpenFor      time.Duration

	AnalyticsCacheTTL         time.Duration
	AnalyticsDefaultRangeDays int

	RateLimitAuthMax      int
	RateLimitAuthWindow   time.Duration
	RateLimitQuoteMax     int
	RateLimitQuoteWindow  time.Duration
	BodyLimitBytes        int64
	SecurityHeadersEnable bool

	WorkerConcurrency  int
	OfferExpiryCron    string
	LockTTL            time.Duration
	NotifyEmailEnabled bool
	NotifyEmailFrom    string
	WorkerMetricsAddr  string

	ObsLogFormat        string
	ObsLogLevel         string
	ObsMetricsNamespace string
	ObsEnablePrometheus bool
	ObsEnableTracing    bool
	ObsOTLPEndpoint     string
	ObsTracingSampling  float64
	ObsEnablePprof      bool
	ObsHTTPBuckets      string
	ObsServiceName      string
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
		DatabaseURL:        k.String("DATABASE_URL"),
		RedisURL:           k.String("REDIS_URL"),
		JWTSecret:          k.String("JWT_SECRET"),
		CORSAllowedOrigins: splitAndTrim(k.String("CORS_ALLOWED_ORIGINS")),
		MigrateOnStart:     parseBool(k.String("MIGRATE_ON_START"), false),
		PublicBaseURL:      strings.TrimRight(k.String("PUBLIC_BASE_URL"), "/"),

		AccessTokenTTL:    parseDuration(k.String("ACCESS_TOKEN_TTL"), "15m"),
		RefreshTokenTTL:   parseDuration(k.String("REFRESH_TOKEN_TTL"), "720h"),
		PasswordResetTTL:  parseDuration(k.String("PASSWORD_RESET_TTL"), "1h"),
		RefreshCookieName: valueOrDefault(k.String("REFRESH_COOKIE_NAME"), "refresh_token"),
		CookieDomain:      strings.TrimSpace(k.String("COOKIE_DOMAIN")),
		CookieSecure:      parseBool(k.String("COOKIE_SECURE"), false),
		CookieSameSite:    parseSameSite(k.String("COOKIE_SAMESITE")),

		CatalogCacheTTL:     parseDuration(k.String("CATALOG_CACHE_TTL"), "60s"),
		CatalogDefaultLimit: parseInt(k.String("CATALOG_DEFAULT_LIMIT"), 20),
		CatalogMaxLimit:     parseInt(k.String("CATALOG_MAX_LIMIT"), 100),
		LowStockThreshold:   parseInt(k.String("LOW_STOCK_THRESHOLD"), 10),
		IdempotencyTTL:      parseDuration(k.String("IDEMPOTENCY_TTL"), "24h"),

		PricingTierFallback:      TierFallback(strings.ToLower(valueOrDefault(k.String("PRICING_TIER_FALLBACK"), string(TierFallbackError)))),
		PricingMaxLines:          parseInt(k.String("PRICING_MAX_LINES"), 100),
		PricingDefaultTaxPercent: parseFloat(k.String("PRICING_DEFAULT_TAX_PERCENT"), 18),

		PaymentProvider:        strings.ToLower(valueOrDefault(k.String("PAYMENT_PROVIDER"), "phonepe")),
		PhonePeMerchantID:      k.String("PHONEPE_MERCHANT_ID"),
		PhonePeSaltKey:         k.String("PHONEPE_SALT_KEY"),
		PhonePeSaltIndex:       valueOrDefault(k.String("PHONEPE_SALT_INDEX"), "1"),
		PhonePeBaseURL:         valueOrDefault(k.String("PHONEPE_BASE_URL"), "https://api-preprod.phonepe.com/apis/pg-sandbox"),
		PaymentCallbackBaseURL: strings.TrimRight(k.String("PAYMENT_CALLBACK_BASE_URL"), "/"),
		PaymentRedirectURL:     k.String("PAYMENT_REDIRECT_URL"),
		PaymentIntentTTL:       parseDuration(k.String("PAYMENT_INTENT_TTL"), "15m"),
		WebhookReplayTTL:       parseDuration(k.String("WEBHOOK_REPLAY_TTL"), "24h"),

		OutboundTimeout:     parseDuration(k.String("OUTBOUND_TIMEOUT"), "5s"),
		RetryMaxAttempts:    parseInt(k.String("RETRY_MAX_ATTEMPTS"), 3),
		RetryBase:           parseDuration(k.String("RETRY_BASE"), "200ms"),
		CircuitMinRequests:  parseInt(k.String("CIRCUIT_MIN_REQUESTS"), 5),
		CircuitFailureRatio: parseFloat(k.String("CIRCUIT_FAILURE_RATIO"), 0.5),
		CircuitOpenFor:      parseDuration(k.String("CIRCUIT_OPEN_FOR"), "30s"),

		AnalyticsCacheTTL:         parseDuration(k.String("ANALYTICS_CACHE_TTL"), "5m"),
		AnalyticsDefaultRangeDays: parseInt(k.String("ANALYTICS_DEFAULT_RANGE_DAYS"), 30),

		RateLimitAuthMax:      parseInt(k.String("RATE_LIMIT_AUTH_MAX"), 10),
		RateLimitAuthWindow:   parseDuration(k.String("RATE_LIMIT_AUTH_WINDOW"), "1m"),
		RateLimitQuoteMax:     parseInt(k.String("RATE_LIMIT_QUOTE_MAX"), 60),
		RateLimitQuoteWindow:  parseDuration(k.String("RATE_LIMIT_QUOTE_WINDOW"), "1m"),
		BodyLimitBytes:        int64(parseInt(k.String("BODY_LIMIT_BYTES"), 1<<20)),
		SecurityHeadersEnable: parseBool(k.String("SECURITY_HEADERS"), true),

		WorkerConcurrency:  parseInt(k.String("WORKER_CONCURRENCY"), 10),
		OfferExpiryCron:    valueOrDefault(k.String("OFFER_EXPIRY_CRON"), "@every 5m"),
		LockTTL:            parseDuration(k.String("LOCK_TTL"), "30s"),
		NotifyEmailEnabled: parseBool(k.String("NOTIFY_EMAIL_ENABLED"), true),
		NotifyEmailFrom:    valueOrDefault(k.String("NOTIFY_EMAIL_FROM"), "orders@market.local"),
		WorkerMetricsAddr:  valueOrDefault(k.String("WORKER_METRICS_ADDR"), ":9091"),

		ObsLogFormat:        valueOrDefault(k.String("OBS_LOG_FORMAT"), "json"),
		ObsLogLevel:         valueOrDefault(k.String("OBS_LOG_LEVEL"), "info"),
		ObsMetricsNamespace: valueOrDefault(k.String("OBS_METRICS_NAMESPACE"), "market"),
		ObsEnablePrometheus: parseBool(k.String("OBS_ENABLE_PROMETHEUS"), true),
		ObsEnableTracing:    parseBool(k.String("OBS_ENABLE_TRACING"), false),
		ObsOTLPEndpoint:     k.String("OBS_OTLP_ENDPOINT"),
		ObsTracingSampling:  parseFloat(k.String("OBS_TRACING_SAMPLING_RATIO"), 0.1),
		ObsEnablePprof:      parseBool(k.String("OBS_ENABLE_PPROF"), false),
		ObsHTTPBuckets:      k.String("OBS_HTTP_DURATION_BUCKETS"),
		ObsServiceName:      valueOrDefault(k.String("OBS_SERVICE_NAME"), "market-server"),
	}

	if cfg.CookieSameSite == http.SameSiteDefaultMode {
		cfg.CookieSameSite = http.SameSiteLaxMode
	}

	if cfg.DatabaseURL == "" {
		return nil, errors.New("DATABASE_URL is required")
	}
	if cfg.RedisURL == "" {
		return nil, errors.New("REDIS_URL is required")
	}
	if cfg.JWTSecret == "" {
		return nil, errors.New("JWT_SECRET is required")
	}
	switch cfg.PricingTierFallback {
	case TierFallbackError, TierFallbackFirst:
	default:
		return nil, fmt.Errorf("PRICING_TIER_FALLBACK must be %q or %q", TierFallbackError, TierFallbackFirst)
	}
	if cfg.PaymentProvider != "phonepe" {
		return nil, fmt.Errorf("PAYMENT_PROVIDER %q is not supported", cfg.PaymentProvider)
	}
	if cfg.PricingMaxLines < 1 {
		return nil, errors.New("PRICING_MAX_LINES must be positive")
	}
	if cfg.CatalogDefaultLimit > cfg.CatalogMaxLimit {
		cfg.CatalogDefaultLimit = cfg.CatalogMaxLimit
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

func parseBool(value string, fallback bool) bool {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "1", "true", "yes", "on":
		return true
	case "0", "false", "no", "off":
		return false
	default:
		return fallback
	}
}

func parseInt(value string, fallback int) int {
	n, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		return fallback
	}
	return n
}

func parseFloat(value string, fallback float64) float64 {
	f, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
	if err != nil {
		return fallback
	}
	return f
}

func parseSameSite(value string) http.SameSite {
	switch strings.ToLower(strings.TrimSpace(value)) {
	case "strict":
		return http.SameSiteStrictMode
	case "none":
		return http.SameSiteNoneMode
	case "lax":
		return http.SameSiteLaxMode
	default:
		return http.SameSiteDefaultMode
	}
}

// MustLoad behaves like Load but panics on error. Useful for tests and command entrypoints.
func MustLoad() *Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
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
