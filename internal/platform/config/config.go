package config

import (
	"os"
	"strconv"
	"strings"
	"time"

	platformstrings "civreg/pkg/platform/strings"
)

// Config captures everything the registry core reads from the environment so
// main stays lean. Domain thresholds default to behavioral-parity values and
// are overridable per deployment.
type Config struct {
	// APIAddr serves the registry JSON API.
	APIAddr string
	// OpsAddr serves health and metrics.
	OpsAddr string
	// RequestTimeout bounds each API request's lifetime.
	RequestTimeout time.Duration

	// PivotThreshold is the certification level at or above which the full
	// pivot attribute set must be present and uniformly certified.
	PivotThreshold int
	// SuspicionLockTTL bounds how long an advisory suspicion lock is held.
	SuspicionLockTTL time.Duration
	// ScanBatchSize bounds how many identities one duplicate-scan batch loads.
	ScanBatchSize int
	// ScanInterval is how often the population duplicate scan runs. Zero
	// disables the scan.
	ScanInterval time.Duration
	// DomesticCountryCode is the birth-country code for which a birthplace
	// code is required alongside the other pivot attributes.
	DomesticCountryCode string
	// MatchMismatchPenalty is the score fraction withheld when a queried
	// attribute is present but its value differs.
	MatchMismatchPenalty float64
	// LockSweepInterval is how often expired suspicion locks are purged.
	LockSweepInterval time.Duration
	// CertifierLevels seeds the static certification source: certifier name
	// to the level it certifies every catalog attribute at.
	CertifierLevels map[string]int

	// GeoURL points at the reference-data service that resolves birth place
	// and country codes. Empty disables resolution.
	GeoURL string

	PostgresDSN string
	Redis       RedisConfig
	Kafka       KafkaConfig
}

// RedisConfig holds connection settings for the Redis-backed lock store.
type RedisConfig struct {
	URL          string
	PoolSize     int
	MinIdleConns int
	DialTimeout  time.Duration
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

// KafkaConfig holds broker settings for the notification sink.
type KafkaConfig struct {
	Brokers []string
	Topic   string
}

const (
	defaultPivotThreshold       = 400
	defaultSuspicionLockTTL     = 1800 * time.Second
	defaultScanBatchSize        = 500
	defaultScanInterval         = time.Hour
	defaultLockSweepInterval    = 5 * time.Minute
	defaultMatchMismatchPenalty = 0.5
	defaultDomesticCountryCode  = "250"
	defaultRequestTimeout       = 30 * time.Second
)

// FromEnv builds a Config from environment variables.
func FromEnv() Config {
	cfg := Config{
		APIAddr:              envOr("CIVREG_API_ADDR", ":8080"),
		OpsAddr:              envOr("CIVREG_OPS_ADDR", ":9090"),
		RequestTimeout:       envDurationOr("CIVREG_REQUEST_TIMEOUT", defaultRequestTimeout),
		PivotThreshold:       envIntOr("CIVREG_PIVOT_THRESHOLD", defaultPivotThreshold),
		SuspicionLockTTL:     envDurationOr("CIVREG_SUSPICION_LOCK_TTL", defaultSuspicionLockTTL),
		ScanBatchSize:        envIntOr("CIVREG_SCAN_BATCH_SIZE", defaultScanBatchSize),
		ScanInterval:         envDurationOr("CIVREG_SCAN_INTERVAL", defaultScanInterval),
		DomesticCountryCode:  envOr("CIVREG_DOMESTIC_COUNTRY_CODE", defaultDomesticCountryCode),
		MatchMismatchPenalty: envFloatOr("CIVREG_MATCH_MISMATCH_PENALTY", defaultMatchMismatchPenalty),
		LockSweepInterval:    envDurationOr("CIVREG_LOCK_SWEEP_INTERVAL", defaultLockSweepInterval),
		CertifierLevels:      envCertifiers("CIVREG_CERTIFIERS"),
		GeoURL:               os.Getenv("CIVREG_GEO_URL"),
		PostgresDSN:          os.Getenv("CIVREG_POSTGRES_DSN"),
		Redis: RedisConfig{
			URL:          os.Getenv("CIVREG_REDIS_URL"),
			PoolSize:     envIntOr("CIVREG_REDIS_POOL_SIZE", 10),
			MinIdleConns: envIntOr("CIVREG_REDIS_MIN_IDLE", 2),
			DialTimeout:  envDurationOr("CIVREG_REDIS_DIAL_TIMEOUT", 5*time.Second),
			ReadTimeout:  envDurationOr("CIVREG_REDIS_READ_TIMEOUT", 3*time.Second),
			WriteTimeout: envDurationOr("CIVREG_REDIS_WRITE_TIMEOUT", 3*time.Second),
		},
	}

	if brokers := os.Getenv("CIVREG_KAFKA_BROKERS"); brokers != "" {
		cfg.Kafka = KafkaConfig{
			Brokers: platformstrings.DedupeAndTrim(strings.Split(brokers, ",")),
			Topic:   envOr("CIVREG_KAFKA_TOPIC", "civreg.identity-events"),
		}
	}

	return cfg
}

// envCertifiers parses "name:level,name:level" pairs. An empty or malformed
// variable yields the standard three-tier setup.
func envCertifiers(key string) map[string]int {
	fallback := map[string]int{
		"civil-status": 500,
		"partner":      200,
		"self":         100,
	}
	raw := os.Getenv(key)
	if raw == "" {
		return fallback
	}
	out := make(map[string]int)
	for _, pair := range strings.Split(raw, ",") {
		name, level, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if !ok {
			return fallback
		}
		n, err := strconv.Atoi(level)
		if err != nil || name == "" {
			return fallback
		}
		out[name] = n
	}
	return out
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envIntOr(key string, fallback int) int {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func envFloatOr(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func envDurationOr(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		// Plain integers are read as seconds for parity with the legacy
		// configuration format.
		if n, nerr := strconv.Atoi(v); nerr == nil {
			return time.Duration(n) * time.Second
		}
		return fallback
	}
	return d
}
