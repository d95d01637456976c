// Package config reads the process configuration from environment variables
// so the mains stay lean.
package config

import (
	"os"
	"strconv"
	"time"
)

// Issuer carries the identity the service issues credentials under.
type Issuer struct {
	Did           string
	Bpn           string
	StatusListURL string
	MaxPageSize   int
}

// Encryption configures the cipher used for holder wallet secrets.
type Encryption struct {
	ActiveIndex int
	HexKey      string
	Passphrase  string
	Salt        string
}

// Endpoint is one authenticated external service.
type Endpoint struct {
	BaseURL      string
	TokenURL     string
	ClientID     string
	ClientSecret string
}

// Worker tunes the process worker loop.
type Worker struct {
	Interval     time.Duration
	LockDuration time.Duration
	BatchSize    int
	Parallelism  int
}

// Expiry tunes the expiry sweep.
type Expiry struct {
	Interval               time.Duration
	InactiveRetentionWeeks int
	ExpiredRetentionMonths int
}

// Renewal tunes the reissuance sweep.
type Renewal struct {
	Interval       time.Duration
	AheadDays      int
	ValidityMonths int
}

// Config is the full configuration of one issuant process.
type Config struct {
	Addr        string
	DatabaseURL string
	// JWTSigningKey verifies inbound bearer tokens.
	JWTSigningKey string

	Issuer     Issuer
	Encryption Encryption
	Wallet     Endpoint
	Portal     Endpoint
	Callback   Endpoint
	Worker     Worker
	Expiry     Expiry
	Renewal    Renewal
}

// FromEnv builds a Config from ISSUANT_* environment variables, falling back
// to development defaults where safe.
func FromEnv() Config {
	return Config{
		Addr:        envOr("ISSUANT_ADDR", ":8080"),
		DatabaseURL: os.Getenv("ISSUANT_DATABASE_URL"),
		// development fallback, override in every deployment
		JWTSigningKey: envOr("ISSUANT_JWT_SIGNING_KEY", "dev-secret-key-change-in-production"),
		Issuer: Issuer{
			Did:           os.Getenv("ISSUANT_ISSUER_DID"),
			Bpn:           os.Getenv("ISSUANT_ISSUER_BPN"),
			StatusListURL: os.Getenv("ISSUANT_STATUS_LIST_URL"),
			MaxPageSize:   envInt("ISSUANT_MAX_PAGE_SIZE", 100),
		},
		Encryption: Encryption{
			ActiveIndex: envInt("ISSUANT_ENCRYPTION_ACTIVE_INDEX", 0),
			HexKey:      os.Getenv("ISSUANT_ENCRYPTION_KEY"),
			Passphrase:  os.Getenv("ISSUANT_ENCRYPTION_PASSPHRASE"),
			Salt:        os.Getenv("ISSUANT_ENCRYPTION_SALT"),
		},
		Wallet:   endpointFromEnv("ISSUANT_WALLET"),
		Portal:   endpointFromEnv("ISSUANT_PORTAL"),
		Callback: endpointFromEnv("ISSUANT_CALLBACK"),
		Worker: Worker{
			Interval:     envDuration("ISSUANT_WORKER_INTERVAL", 30*time.Second),
			LockDuration: envDuration("ISSUANT_WORKER_LOCK_DURATION", 5*time.Minute),
			BatchSize:    envInt("ISSUANT_WORKER_BATCH_SIZE", 20),
			Parallelism:  envInt("ISSUANT_WORKER_PARALLELISM", 4),
		},
		Expiry: Expiry{
			Interval:               envDuration("ISSUANT_EXPIRY_INTERVAL", time.Hour),
			InactiveRetentionWeeks: envInt("ISSUANT_EXPIRY_INACTIVE_RETENTION_WEEKS", 12),
			ExpiredRetentionMonths: envInt("ISSUANT_EXPIRY_EXPIRED_RETENTION_MONTHS", 3),
		},
		Renewal: Renewal{
			Interval:       envDuration("ISSUANT_RENEWAL_INTERVAL", time.Hour),
			AheadDays:      envInt("ISSUANT_RENEWAL_AHEAD_DAYS", 1),
			ValidityMonths: envInt("ISSUANT_RENEWAL_VALIDITY_MONTHS", 12),
		},
	}
}

func endpointFromEnv(prefix string) Endpoint {
	return Endpoint{
		BaseURL:      os.Getenv(prefix + "_BASE_URL"),
		TokenURL:     os.Getenv(prefix + "_TOKEN_URL"),
		ClientID:     os.Getenv(prefix + "_CLIENT_ID"),
		ClientSecret: os.Getenv(prefix + "_CLIENT_SECRET"),
	}
}

func envOr(name, fallback string) string {
	if value := os.Getenv(name); value != "" {
		return value
	}
	return fallback
}

func envInt(name string, fallback int) int {
	if value := os.Getenv(name); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return fallback
}

func envDuration(name string, fallback time.Duration) time.Duration {
	if value := os.Getenv(name); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return fallback
}
