package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// ServerConfig captures every tunable of the dispatch API process. Values are
// loaded from environment variables with defaults that let the binary run
// locally against an OSRM container and nothing else.
type ServerConfig struct {
	HTTPAddr        string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration

	PGDSN string

	RedisAddr     string
	RedisPassword string
	RedisGeoKey   string

	KafkaBrokers []string
	KafkaTopic   string

	OSRMBaseURL  string
	RouteTimeout time.Duration

	// Pricing constants are process-wide configuration, never derived
	// per request.
	BaseFare   float64
	PerKmRate  float64
	PerMinRate float64
	Currency   string

	StripeAPIKey string

	LogLevel      string
	RunMigrations bool
}

func defaultServerConfig() ServerConfig {
	return ServerConfig{
		HTTPAddr:        ":8080",
		ReadTimeout:     5 * time.Second,
		WriteTimeout:    10 * time.Second,
		IdleTimeout:     120 * time.Second,
		ShutdownTimeout: 15 * time.Second,
		RedisGeoKey:     "drivers_geo",
		KafkaTopic:      "driver-locations",
		OSRMBaseURL:     "http://localhost:5000",
		RouteTimeout:    3 * time.Second,
		BaseFare:        4.00,
		PerKmRate:       1.60,
		PerMinRate:      0.30,
		Currency:        "brl",
		LogLevel:        "info",
	}
}

// LoadServerConfig reads the environment. Invalid values are reported
// together via errors.Join so the process can fail fast before serving.
func LoadServerConfig() (ServerConfig, error) {
	cfg := defaultServerConfig()
	var errs []error

	setStringFromEnv(&cfg.HTTPAddr, "HTTP_ADDR")
	setDurationFromEnv(&cfg.ReadTimeout, "HTTP_READ_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.WriteTimeout, "HTTP_WRITE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.IdleTimeout, "HTTP_IDLE_TIMEOUT", &errs)
	setDurationFromEnv(&cfg.ShutdownTimeout, "HTTP_SHUTDOWN_TIMEOUT", &errs)

	cfg.PGDSN = os.Getenv("PG_DSN")

	cfg.RedisAddr = strings.TrimSpace(os.Getenv("REDIS_ADDR"))
	cfg.RedisPassword = os.Getenv("REDIS_PASSWORD")
	setStringFromEnv(&cfg.RedisGeoKey, "REDIS_GEO_KEY")

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.KafkaBrokers = splitAndTrim(brokers)
	}
	setStringFromEnv(&cfg.KafkaTopic, "KAFKA_TOPIC")

	setStringFromEnv(&cfg.OSRMBaseURL, "OSRM_URL")
	setDurationFromEnv(&cfg.RouteTimeout, "OSRM_TIMEOUT", &errs)

	setFloatFromEnv(&cfg.BaseFare, "PRICE_BASE", &errs)
	setFloatFromEnv(&cfg.PerKmRate, "PRICE_PER_KM", &errs)
	setFloatFromEnv(&cfg.PerMinRate, "PRICE_PER_MIN", &errs)
	setStringFromEnv(&cfg.Currency, "PRICE_CURRENCY")

	cfg.StripeAPIKey = os.Getenv("STRIPE_API_KEY")

	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = strings.ToLower(v)
	}
	cfg.RunMigrations = strings.EqualFold(os.Getenv("MIGRATE"), "true")

	if cfg.OSRMBaseURL == "" {
		errs = append(errs, fmt.Errorf("OSRM_URL must not be empty"))
	}
	if cfg.RouteTimeout <= 0 {
		errs = append(errs, fmt.Errorf("OSRM_TIMEOUT must be > 0"))
	}
	if cfg.BaseFare < 0 || cfg.PerKmRate < 0 || cfg.PerMinRate < 0 {
		errs = append(errs, fmt.Errorf("pricing rates must be >= 0"))
	}

	return cfg, errors.Join(errs...)
}

func setDurationFromEnv(target *time.Duration, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = d
	}
}

func setFloatFromEnv(target *float64, key string, errs *[]error) {
	if v := os.Getenv(key); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			*errs = append(*errs, fmt.Errorf("invalid %s: %w", key, err))
			return
		}
		*target = f
	}
}

func setStringFromEnv(target *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*target = v
	}
}

func splitAndTrim(v string) []string {
	raw := strings.Split(v, ",")
	out := make([]string, 0, len(raw))
	for _, r := range raw {
		r = strings.TrimSpace(r)
		if r == "" {
			continue
		}
		out = append(out, r)
	}
	return out
}
