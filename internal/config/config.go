package config

import (
	"encoding/hex"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

const (
	defaultAppName         = "FedWallet"
	defaultAppEnv          = "development"
	defaultPort            = "8080"
	defaultLogLevel        = "info"
	defaultStoreBackend    = BackendMemory
	defaultStoreNamespace  = "fedwallet"
	defaultShutdownDelay   = 10 * time.Second
	defaultIdempotencyTTL  = 24 * time.Hour
	defaultReceiveTimeout  = 10 * time.Second
	defaultKafkaTopic      = "wallet.balance"
	idemTTLSecondsEnvVar   = "IDEMPOTENCY_TTL_SECONDS"
	idemTTLDurEnvVar       = "IDEMPOTENCY_TTL"
	shutdownSecondsEnvVar  = "SHUTDOWN_TIMEOUT_SECONDS"
	shutdownDurationEnvVar = "SHUTDOWN_TIMEOUT"

	// Development defaults. ROOT_SECRET has no default outside development.
	devRootSecret   = "6465762d726f6f742d736563726574"
	devFederationKS = "dev-federation-issuance"
	devBrokenKS     = "dev-federation-broken"
)

// Store backends.
const (
	BackendMemory   = "memory"
	BackendPostgres = "postgres"
	BackendRedis    = "redis"
)

// Config captures application runtime configuration loaded from environment variables.
type Config struct {
	AppName        string
	AppEnv         string
	Port           string
	LogLevel       string
	// StoreBackend holds both the wallet and the simulated federation's
	// journal, so the two restart from the same point.
	StoreBackend   string
	DatabaseURL    string
	RedisURL       string
	StoreNamespace string
	ShutdownPeriod time.Duration
	IdempotencyTTL time.Duration

	RootSecret              []byte
	FederationKeySeed       string
	BrokenFederationKeySeed string
	TxFee                   uint64
	ReceiveTimeout          time.Duration
	SimulatorDelay          time.Duration

	KafkaBrokers []string
	KafkaTopic   string
}

// Load reads configuration values from the environment and populates a Config instance.
func Load() (Config, error) {
	cfg := Config{
		AppName:                 getEnv("APP_NAME", defaultAppName),
		AppEnv:                  getEnv("APP_ENV", defaultAppEnv),
		Port:                    getEnv("PORT", defaultPort),
		LogLevel:                strings.ToLower(getEnv("LOG_LEVEL", defaultLogLevel)),
		StoreBackend:            strings.ToLower(getEnv("STORE_BACKEND", defaultStoreBackend)),
		DatabaseURL:             os.Getenv("DATABASE_URL"),
		RedisURL:                os.Getenv("REDIS_URL"),
		StoreNamespace:          getEnv("STORE_NAMESPACE", defaultStoreNamespace),
		ShutdownPeriod:          defaultShutdownDelay,
		IdempotencyTTL:          defaultIdempotencyTTL,
		FederationKeySeed:       getEnv("FEDERATION_KEY_SEED", devFederationKS),
		BrokenFederationKeySeed: getEnv("BROKEN_FEDERATION_KEY_SEED", devBrokenKS),
		ReceiveTimeout:          defaultReceiveTimeout,
		KafkaTopic:              getEnv("KAFKA_TOPIC", defaultKafkaTopic),
	}

	if v := os.Getenv(shutdownSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownSecondsEnvVar, err)
		}
		cfg.ShutdownPeriod = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(shutdownDurationEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", shutdownDurationEnvVar, err)
		}
		cfg.ShutdownPeriod = d
	}

	if v := os.Getenv(idemTTLSecondsEnvVar); v != "" {
		seconds, err := strconv.Atoi(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLSecondsEnvVar, err)
		}
		cfg.IdempotencyTTL = time.Duration(seconds) * time.Second
	} else if v := os.Getenv(idemTTLDurEnvVar); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid %s: %w", idemTTLDurEnvVar, err)
		}
		cfg.IdempotencyTTL = d
	}

	if v := os.Getenv("RECEIVE_TIMEOUT"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid RECEIVE_TIMEOUT: %w", err)
		}
		cfg.ReceiveTimeout = d
	}

	if v := os.Getenv("SIMULATOR_DELAY"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return Config{}, fmt.Errorf("invalid SIMULATOR_DELAY: %w", err)
		}
		cfg.SimulatorDelay = d
	}

	if v := os.Getenv("TX_FEE"); v != "" {
		fee, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return Config{}, fmt.Errorf("invalid TX_FEE: %w", err)
		}
		cfg.TxFee = fee
	}

	secret := os.Getenv("ROOT_SECRET")
	if secret == "" {
		if !cfg.IsDevelopment() {
			return Config{}, fmt.Errorf("ROOT_SECRET must be set when APP_ENV=%s", cfg.AppEnv)
		}
		secret = devRootSecret
	}
	raw, err := hex.DecodeString(secret)
	if err != nil || len(raw) == 0 {
		return Config{}, fmt.Errorf("ROOT_SECRET must be non-empty hex")
	}
	cfg.RootSecret = raw

	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		for _, b := range strings.Split(v, ",") {
			if b = strings.TrimSpace(b); b != "" {
				cfg.KafkaBrokers = append(cfg.KafkaBrokers, b)
			}
		}
	}

	switch cfg.StoreBackend {
	case BackendMemory:
	case BackendPostgres:
		if cfg.DatabaseURL == "" {
			return Config{}, fmt.Errorf("DATABASE_URL must be set")
		}
	case BackendRedis:
		if cfg.RedisURL == "" {
			return Config{}, fmt.Errorf("REDIS_URL must be set")
		}
	default:
		return Config{}, fmt.Errorf("unsupported STORE_BACKEND %q", cfg.StoreBackend)
	}

	return cfg, nil
}

// Address returns the listen address in the format Fiber expects.
func (c Config) Address() string {
	if strings.HasPrefix(c.Port, ":") {
		return c.Port
	}
	return fmt.Sprintf(":%s", c.Port)
}

// IsDevelopment reports whether development defaults are allowed.
func (c Config) IsDevelopment() bool {
	switch strings.ToLower(c.AppEnv) {
	case "dev", "development", "local", "test":
		return true
	default:
		return false
	}
}

func getEnv(key, fallback string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return fallback
}
