// Package config collects the engine's environment-driven settings into one
// explicit record constructed at startup. No other package reads the
// environment.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"
)

// Config is the full runtime configuration.
type Config struct {
	Port        string
	Environment string // "development" | "production"
	DatabaseURL string

	// Gates
	GpsMaxAccuracyM float64
	SpeedLimitMps   float64
	Moratorium      time.Duration

	// Confidence
	AcceptanceThreshold int
	RequireAttestation  bool

	// Attestation
	AndroidPackageName string
	IOSBundleID        string
	AttestationJWKSURL string
	AppAttestURL       string
	AttestationTimeout time.Duration

	// Cell tower lookup
	CellLookupURL         string
	CellLookupFallbackURL string
	CellLookupAPIKey      string
	CellLookupTimeout     time.Duration

	// HTTP boundary
	AllowedOrigins  string
	RateLimitPerMin int
	RateLimitBurst  int
	RequestTimeout  time.Duration

	// Startup
	StartupDBWait time.Duration
	MeshSeedIDs   string // comma-separated triangle ids to materialize
}

// FromEnv reads every key, applying defaults for the non-secret ones. Only
// the database DSN is unconditionally required; attestation app ids are
// required once attestation is mandatory.
func FromEnv() (*Config, error) {
	cfg := &Config{
		Port:        getEnvOrDefault("PORT", "5500"),
		Environment: getEnvOrDefault("ENVIRONMENT", "development"),
		DatabaseURL: os.Getenv("DATABASE_URL"),

		GpsMaxAccuracyM: getEnvFloat("GPS_MAX_ACCURACY_M", 50),
		SpeedLimitMps:   getEnvFloat("PROOF_SPEED_LIMIT_MPS", 15),
		Moratorium:      getEnvMillis("PROOF_MORATORIUM_MS", 10000),

		AcceptanceThreshold: getEnvInt("CONFIDENCE_ACCEPTANCE_THRESHOLD", 70),
		RequireAttestation:  getEnvBool("CONFIDENCE_REQUIRE_ATTESTATION", false),

		AndroidPackageName: os.Getenv("ANDROID_PACKAGE_NAME"),
		IOSBundleID:        os.Getenv("IOS_BUNDLE_ID"),
		AttestationJWKSURL: os.Getenv("ATTESTATION_JWKS_URL"),
		AppAttestURL:       os.Getenv("APP_ATTEST_URL"),
		AttestationTimeout: getEnvMillis("ATTESTATION_TIMEOUT_MS", 500),

		CellLookupURL:         os.Getenv("CELL_LOOKUP_URL"),
		CellLookupFallbackURL: os.Getenv("CELL_LOOKUP_FALLBACK_URL"),
		CellLookupAPIKey:      os.Getenv("CELL_LOOKUP_API_KEY"),
		CellLookupTimeout:     getEnvMillis("CELL_LOOKUP_TIMEOUT_MS", 400),

		AllowedOrigins:  os.Getenv("ALLOWED_ORIGINS"),
		RateLimitPerMin: getEnvInt("RATE_LIMIT_PER_MIN", 120),
		RateLimitBurst:  getEnvInt("RATE_LIMIT_BURST", 30),
		RequestTimeout:  getEnvMillis("REQUEST_TIMEOUT_MS", 30000),

		StartupDBWait: getEnvMillis("STARTUP_DB_WAIT_MS", 15000),
		MeshSeedIDs:   os.Getenv("MESH_SEED_IDS"),
	}

	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("required environment variable DATABASE_URL is not set")
	}
	if cfg.RequireAttestation && cfg.AndroidPackageName == "" && cfg.IOSBundleID == "" {
		return nil, fmt.Errorf("CONFIDENCE_REQUIRE_ATTESTATION is set but neither ANDROID_PACKAGE_NAME nor IOS_BUNDLE_ID is configured")
	}
	return cfg, nil
}

func getEnvOrDefault(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		if n, err := strconv.Atoi(val); err == nil {
			return n
		}
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if val := os.Getenv(key); val != "" {
		if f, err := strconv.ParseFloat(val, 64); err == nil {
			return f
		}
	}
	return fallback
}

func getEnvBool(key string, fallback bool) bool {
	if val := os.Getenv(key); val != "" {
		if b, err := strconv.ParseBool(val); err == nil {
			return b
		}
	}
	return fallback
}

func getEnvMillis(key string, fallbackMs int) time.Duration {
	return time.Duration(getEnvInt(key, fallbackMs)) * time.Millisecond
}
