package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

const minSecretLength = 32

// Config carries everything the server needs at startup. Values come from the
// environment, optionally seeded from a .env file in development.
type Config struct {
	Env        string
	ListenAddr string

	DatabaseURL string

	AccessSecret       string
	RefreshTokenPepper string
	JWTIssuer          string
	JWTAudience        string
	AccessTokenTTL     time.Duration
	RefreshTokenTTL    time.Duration

	RedisAddr     string
	RedisPassword string

	WeatherAPIKey  string
	WeatherBaseURL string
	WeatherTTL     time.Duration

	APIRateLimitRPM  int
	AuthRateLimitRPM int

	OTELMetricsEnabled       bool
	OTELExporterOTLPEndpoint string
	OTELExporterOTLPInsecure bool
	OTELServiceName          string

	ShutdownTimeout time.Duration
}

// Load reads configuration from the environment. A missing .env file is not
// an error; existing environment variables win over file values.
func Load() (*Config, error) {
	_ = godotenv.Load()

	cfg := &Config{
		Env:                      getEnv("APP_ENV", "development"),
		ListenAddr:               ":" + getEnv("PORT", "8080"),
		DatabaseURL:              os.Getenv("DATABASE_URL"),
		AccessSecret:             os.Getenv("ACCESS_SECRET"),
		RefreshTokenPepper:       os.Getenv("REFRESH_TOKEN_PEPPER"),
		JWTIssuer:                getEnv("JWT_ISSUER", "skycast"),
		JWTAudience:              getEnv("JWT_AUDIENCE", "skycast-api"),
		AccessTokenTTL:           getDuration("ACCESS_TOKEN_TTL", 10*time.Minute),
		RefreshTokenTTL:          getDuration("REFRESH_TOKEN_TTL", 14*24*time.Hour),
		RedisAddr:                getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword:            os.Getenv("REDIS_PASSWORD"),
		WeatherAPIKey:            os.Getenv("WEATHER_API_KEY"),
		WeatherBaseURL:           getEnv("WEATHER_BASE_URL", "https://api.openweathermap.org"),
		WeatherTTL:               time.Duration(getInt("WEATHER_TTL_SECONDS", 600)) * time.Second,
		APIRateLimitRPM:          getInt("API_RATE_LIMIT_RPM", 300),
		AuthRateLimitRPM:         getInt("AUTH_RATE_LIMIT_RPM", 30),
		OTELMetricsEnabled:       getBool("OTEL_METRICS_ENABLED", false),
		OTELExporterOTLPEndpoint: getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
		OTELExporterOTLPInsecure: getBool("OTEL_EXPORTER_OTLP_INSECURE", true),
		OTELServiceName:          getEnv("OTEL_SERVICE_NAME", "skycast"),
		ShutdownTimeout:          getDuration("SHUTDOWN_TIMEOUT", 15*time.Second),
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

func (c *Config) validate() error {
	var errs []error
	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if len(c.AccessSecret) < minSecretLength {
		errs = append(errs, fmt.Errorf("ACCESS_SECRET must be at least %d bytes", minSecretLength))
	}
	if c.WeatherAPIKey == "" {
		errs = append(errs, errors.New("WEATHER_API_KEY is required"))
	}
	if c.AccessTokenTTL <= 0 || c.RefreshTokenTTL <= 0 {
		errs = append(errs, errors.New("token TTLs must be positive"))
	}
	if c.AccessTokenTTL >= c.RefreshTokenTTL {
		errs = append(errs, errors.New("access token TTL must be shorter than refresh token TTL"))
	}
	return errors.Join(errs...)
}

// IsProduction gates cookie Secure flags and similar hardening.
func (c *Config) IsProduction() bool {
	return strings.EqualFold(c.Env, "production")
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getInt(key string, fallback int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return fallback
	}
	return n
}

func getBool(key string, fallback bool) bool {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	b, err := strconv.ParseBool(raw)
	if err != nil {
		return fallback
	}
	return b
}

func getDuration(key string, fallback time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return fallback
	}
	return d
}
