package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	HTTPAddr     string
	LogLevel     string
	CRDBDSN      string
	MongoURI     string
	MongoDB      string
	RedisAddr    string
	RabbitURL    string
	OTLPEndpoint string
	Environment  string
	// TraceSampleRatio is the share of root traces kept, between 0 and 1.
	TraceSampleRatio float64

	StripeSecretKey     string
	StripeWebhookSecret string
	Currency            string
	ClientURL           string

	ReservationTTL      time.Duration
	SweepInterval       time.Duration
	PublishPollInterval time.Duration
	PublishJobLease     time.Duration
	OutboxInterval      time.Duration
	IdempotencyTTL      time.Duration
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	return &Config{
		HTTPAddr:     getEnv("HTTP_ADDR", ":8080"),
		LogLevel:     getEnv("LOG_LEVEL", "info"),
		CRDBDSN:      os.Getenv("CRDB_DSN"),
		MongoURI:     os.Getenv("MONGO_URI"),
		MongoDB:      getEnv("MONGO_DB", "ticketing"),
		RedisAddr:    os.Getenv("REDIS_ADDR"),
		RabbitURL:    os.Getenv("RABBIT_URL"),
		OTLPEndpoint: os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
		Environment:  getEnv("APP_ENV", "development"),

		TraceSampleRatio: getRatio("OTEL_TRACES_SAMPLER_ARG", 1),

		StripeSecretKey:     os.Getenv("STRIPE_SECRET_KEY"),
		StripeWebhookSecret: os.Getenv("STRIPE_WEBHOOK_SECRET"),
		Currency:            getEnv("CURRENCY", "usd"),
		ClientURL:           getEnv("CLIENT_URL", "http://localhost:3000"),

		ReservationTTL:      getDuration("RESERVATION_TTL", 15*time.Minute),
		SweepInterval:       getDuration("SWEEP_INTERVAL", time.Minute),
		PublishPollInterval: getDuration("PUBLISH_POLL_INTERVAL", time.Second),
		PublishJobLease:     getDuration("PUBLISH_JOB_LEASE", 30*time.Second),
		OutboxInterval:      getDuration("OUTBOX_INTERVAL", 5*time.Second),
		IdempotencyTTL:      getDuration("IDEMPOTENCY_TTL", time.Hour),
	}, nil
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getDuration(key string, def time.Duration) time.Duration {
	d, _ := time.ParseDuration(os.Getenv(key))
	if d <= 0 {
		return def
	}
	return d
}

func getRatio(key string, def float64) float64 {
	f, err := strconv.ParseFloat(os.Getenv(key), 64)
	if err != nil || f < 0 || f > 1 {
		return def
	}
	return f
}
