package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config contains all runtime settings for the txlens service.
type Config struct {
	BindAddr         string
	ShutdownTimeout  time.Duration
	MetricsNamespace string
	AllowAnyOrigin   bool

	LogLevel  string
	LogFormat string

	PairingMode        string
	PairingBridgeURL   string
	PairingKillTimeout time.Duration

	DatabaseURL     string
	SessionStoreDir string

	RiskCheckURL     string
	RiskCheckTimeout time.Duration
	RiskCheckRPS     float64

	GasEstimateURL string
	GasAPIKey      string

	NetworksFile   string
	DefaultNetwork string
}

// Load reads environment variables and applies safe defaults.
func Load() (Config, error) {
	cfg := Config{
		BindAddr:         envOrDefault("APP_BIND_ADDR", ":8080"),
		MetricsNamespace: envOrDefault("APP_METRICS_NAMESPACE", "txlens"),
		LogLevel:         strings.ToLower(envOrDefault("LOG_LEVEL", "info")),
		LogFormat:        strings.ToLower(envOrDefault("LOG_FORMAT", "json")),
		PairingMode:      strings.ToLower(envOrDefault("PAIRING_MODE", "bridge")),
		PairingBridgeURL: envOrDefault("PAIRING_BRIDGE_URL", "ws://127.0.0.1:8787/v1/pairing"),
		DatabaseURL:      stringsTrimSpace("DATABASE_URL"),
		SessionStoreDir:  stringsTrimSpace("SESSION_STORE_DIR"),
		RiskCheckURL:     envOrDefault("RISK_CHECK_URL", "https://ledger-insight.vercel.app/api/check/transaction"),
		GasEstimateURL:   envOrDefault("GAS_ESTIMATE_URL", "https://api.blocknative.com/gasprices/blockprices"),
		GasAPIKey:        stringsTrimSpace("GAS_API_KEY"),
		NetworksFile:     stringsTrimSpace("NETWORKS_FILE"),
		DefaultNetwork:   strings.ToLower(envOrDefault("DEFAULT_NETWORK", "ethereum")),

		ShutdownTimeout:    15 * time.Second,
		PairingKillTimeout: 5 * time.Second,
		RiskCheckTimeout:   30 * time.Second,
		RiskCheckRPS:       2,
	}

	var err error
	cfg.ShutdownTimeout, err = durationFromEnv("APP_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.PairingKillTimeout, err = durationFromEnv("PAIRING_KILL_TIMEOUT", cfg.PairingKillTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RiskCheckTimeout, err = durationFromEnv("RISK_CHECK_TIMEOUT", cfg.RiskCheckTimeout)
	if err != nil {
		return Config{}, err
	}
	cfg.RiskCheckRPS, err = floatFromEnv("RISK_CHECK_RPS", cfg.RiskCheckRPS)
	if err != nil {
		return Config{}, err
	}
	cfg.AllowAnyOrigin, err = boolFromEnv("APP_ALLOW_ANY_ORIGIN", cfg.AllowAnyOrigin)
	if err != nil {
		return Config{}, err
	}

	switch cfg.PairingMode {
	case "bridge", "mock":
	default:
		return Config{}, fmt.Errorf("PAIRING_MODE must be bridge or mock, got %q", cfg.PairingMode)
	}
	if cfg.PairingMode == "bridge" && cfg.PairingBridgeURL == "" {
		return Config{}, fmt.Errorf("PAIRING_BRIDGE_URL is required for bridge mode")
	}
	switch cfg.LogFormat {
	case "json", "text":
	default:
		return Config{}, fmt.Errorf("LOG_FORMAT must be json or text, got %q", cfg.LogFormat)
	}
	if cfg.PairingKillTimeout <= 0 {
		return Config{}, fmt.Errorf("PAIRING_KILL_TIMEOUT must be positive")
	}
	if cfg.RiskCheckTimeout <= 0 {
		return Config{}, fmt.Errorf("RISK_CHECK_TIMEOUT must be positive")
	}
	if cfg.RiskCheckRPS <= 0 {
		return Config{}, fmt.Errorf("RISK_CHECK_RPS must be positive")
	}

	return cfg, nil
}

func envOrDefault(key, fallback string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return fallback
	}
	return v
}

func stringsTrimSpace(key string) string {
	return strings.TrimSpace(os.Getenv(key))
}

func durationFromEnv(key string, fallback time.Duration) (time.Duration, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return d, nil
}

func floatFromEnv(key string, fallback float64) (float64, error) {
	v := stringsTrimSpace(key)
	if v == "" {
		return fallback, nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return 0, fmt.Errorf("%s parse error: %w", key, err)
	}
	return f, nil
}

func boolFromEnv(key string, fallback bool) (bool, error) {
	v := strings.ToLower(stringsTrimSpace(key))
	if v == "" {
		return fallback, nil
	}
	switch v {
	case "1", "true", "t", "yes", "y", "on":
		return true, nil
	case "0", "false", "f", "no", "n", "off":
		return false, nil
	default:
		return false, fmt.Errorf("%s parse error: expected bool", key)
	}
}
