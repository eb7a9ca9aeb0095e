package config

import (
	"os"
	"time"

	"github.com/cockroachdb/errors"
	"github.com/joho/godotenv"
)

type Config struct {
	ListenAddr      string
	DBDSN           string
	MongoURI        string
	RedisAddr       string
	RabbitURL       string
	TicketSecret    string
	ScannerCacheTTL time.Duration
	IdempotencyTTL  time.Duration
	OTLPEndpoint    string
}

func Load() (*Config, error) {
	_ = godotenv.Load()

	scannerTTL, _ := time.ParseDuration(os.Getenv("SCANNER_CACHE_TTL"))
	if scannerTTL == 0 {
		scannerTTL = 5 * time.Minute
	}
	idempTTL, _ := time.ParseDuration(os.Getenv("IDEMPOTENCY_TTL"))
	if idempTTL == 0 {
		idempTTL = time.Hour
	}

	listenAddr := os.Getenv("LISTEN_ADDR")
	if listenAddr == "" {
		listenAddr = ":8080"
	}

	// The signing secret has no safe default; issuance and validation both
	// refuse to start without it.
	secret := os.Getenv("TICKET_SECRET")
	if secret == "" {
		return nil, errors.New("TICKET_SECRET must be set")
	}

	return &Config{
		ListenAddr:      listenAddr,
		DBDSN:           os.Getenv("DB_DSN"),
		MongoURI:        os.Getenv("MONGO_URI"),
		RedisAddr:       os.Getenv("REDIS_ADDR"),
		RabbitURL:       os.Getenv("RABBIT_URL"),
		TicketSecret:    secret,
		ScannerCacheTTL: scannerTTL,
		IdempotencyTTL:  idempTTL,
		OTLPEndpoint:    os.Getenv("OTEL_EXPORTER_OTLP_ENDPOINT"),
	}, nil
}
