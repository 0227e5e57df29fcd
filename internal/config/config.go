package config

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	Environment string
	HTTPAddr    string
	DatabaseURL string
	RedisAddr   string

	// SigningSecret is required. Startup fails without it; there is no
	// development default.
	SigningSecret string
	TokenIssuer   string
	TokenAudience string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	SessionTTL    time.Duration

	TeacherPortalHosts []string
	StudentPortalHosts []string

	GoogleClientID     string
	GoogleClientSecret string
	GoogleRedirectURL  string
	ProviderTimeout    time.Duration

	AuthRateLimitRPM int

	OTELMetricsEnabled        bool
	OTELTracingEnabled        bool
	OTELLogsEnabled           bool
	OTELExporterOTLPEndpoint  string
	OTELExporterOTLPInsecure  bool
	OTELServiceName           string
	OTELEnvironment           string
	OTELMetricsExportInterval time.Duration
}

// IsDevelopment gates the dev-bypass verification branch. Anything other
// than an explicit development environment is treated as production.
func (c *Config) IsDevelopment() bool { return c.Environment == "development" }

func Load() (*Config, error) {
	cfg := &Config{
		Environment:               getEnv("APP_ENV", "production"),
		HTTPAddr:                  getEnv("HTTP_ADDR", ":8080"),
		DatabaseURL:               getEnv("DATABASE_URL", ""),
		RedisAddr:                 getEnv("REDIS_ADDR", ""),
		SigningSecret:             os.Getenv("AUTH_SIGNING_SECRET"),
		TokenIssuer:               getEnv("TOKEN_ISSUER", "classlane-auth"),
		TokenAudience:             getEnv("TOKEN_AUDIENCE", "classlane"),
		AccessTTL:                 getDuration("ACCESS_TOKEN_TTL", 15*time.Minute),
		RefreshTTL:                getDuration("REFRESH_TOKEN_TTL", 7*24*time.Hour),
		SessionTTL:                getDuration("SESSION_TTL", 24*time.Hour),
		TeacherPortalHosts:        getList("TEACHER_PORTAL_HOSTS", "app.classlane.com"),
		StudentPortalHosts:        getList("STUDENT_PORTAL_HOSTS", "play.classlane.com"),
		GoogleClientID:            getEnv("GOOGLE_CLIENT_ID", ""),
		GoogleClientSecret:        getEnv("GOOGLE_CLIENT_SECRET", ""),
		GoogleRedirectURL:         getEnv("GOOGLE_REDIRECT_URL", ""),
		ProviderTimeout:           getDuration("PROVIDER_TIMEOUT", 5*time.Second),
		AuthRateLimitRPM:          getInt("AUTH_RATE_LIMIT_RPM", 60),
		OTELMetricsEnabled:        getBool("OTEL_METRICS_ENABLED", false),
		OTELTracingEnabled:        getBool("OTEL_TRACING_ENABLED", false),
		OTELLogsEnabled:           getBool("OTEL_LOGS_ENABLED", false),
		OTELExporterOTLPEndpoint:  getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure:  getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:           getEnv("OTEL_SERVICE_NAME", "portal-auth-service"),
		OTELEnvironment:           getEnv("OTEL_ENVIRONMENT", getEnv("APP_ENV", "production")),
		OTELMetricsExportInterval: getDuration("OTEL_METRICS_EXPORT_INTERVAL", 30*time.Second),
	}
	if err := cfg.validate(); err != nil {
		recordConfigValidationEvent(context.Background(), cfg.Environment, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.Environment, "success", "none")
	return cfg, nil
}

func (c *Config) validate() error {
	if strings.TrimSpace(c.SigningSecret) == "" {
		return fmt.Errorf("validate config: AUTH_SIGNING_SECRET is required")
	}
	if len(c.SigningSecret) < 32 {
		return fmt.Errorf("validate config: AUTH_SIGNING_SECRET must be at least 32 bytes")
	}
	if c.AccessTTL <= 0 || c.RefreshTTL <= 0 || c.SessionTTL <= 0 {
		return fmt.Errorf("validate config: token and session lifetimes must be positive")
	}
	if c.AccessTTL >= c.RefreshTTL {
		return fmt.Errorf("validate config: ACCESS_TOKEN_TTL must be shorter than REFRESH_TOKEN_TTL")
	}
	return nil
}

func getEnv(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func getDuration(key string, fallback time.Duration) time.Duration {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

func getInt(key string, fallback int) int {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}

func getList(key, fallback string) []string {
	raw := getEnv(key, fallback)
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}
