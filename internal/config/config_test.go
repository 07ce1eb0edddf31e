package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	setCoreEnvEmpty(t)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PairingMode != "bridge" {
		t.Fatalf("PairingMode = %q, want %q", cfg.PairingMode, "bridge")
	}
	if cfg.DefaultNetwork != "ethereum" {
		t.Fatalf("DefaultNetwork = %q, want %q", cfg.DefaultNetwork, "ethereum")
	}
	if cfg.RiskCheckURL != "https://ledger-insight.vercel.app/api/check/transaction" {
		t.Fatalf("RiskCheckURL = %q, want default endpoint", cfg.RiskCheckURL)
	}
	if cfg.PairingKillTimeout != 5*time.Second {
		t.Fatalf("PairingKillTimeout = %v, want 5s", cfg.PairingKillTimeout)
	}
	if cfg.DatabaseURL != "" || cfg.SessionStoreDir != "" {
		t.Fatalf("store settings should default empty: %+v", cfg)
	}
}

func TestLoadExplicitValues(t *testing.T) {
	setCoreEnvEmpty(t)
	t.Setenv("PAIRING_MODE", "MOCK")
	t.Setenv("RISK_CHECK_RPS", "0.5")
	t.Setenv("PAIRING_KILL_TIMEOUT", "750ms")
	t.Setenv("SESSION_STORE_DIR", " /var/lib/txlens ")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.PairingMode != "mock" {
		t.Fatalf("PairingMode = %q, want mock", cfg.PairingMode)
	}
	if cfg.RiskCheckRPS != 0.5 {
		t.Fatalf("RiskCheckRPS = %v, want 0.5", cfg.RiskCheckRPS)
	}
	if cfg.PairingKillTimeout != 750*time.Millisecond {
		t.Fatalf("PairingKillTimeout = %v, want 750ms", cfg.PairingKillTimeout)
	}
	if cfg.SessionStoreDir != "/var/lib/txlens" {
		t.Fatalf("SessionStoreDir = %q, want trimmed path", cfg.SessionStoreDir)
	}
}

func TestLoadRejectsInvalidValues(t *testing.T) {
	cases := map[string]string{
		"PAIRING_MODE":         "carrier-pigeon",
		"LOG_FORMAT":           "xml",
		"RISK_CHECK_RPS":       "0",
		"RISK_CHECK_TIMEOUT":   "soon",
		"APP_ALLOW_ANY_ORIGIN": "maybe",
	}
	for key, value := range cases {
		t.Run(key, func(t *testing.T) {
			setCoreEnvEmpty(t)
			t.Setenv(key, value)
			if _, err := Load(); err == nil {
				t.Fatalf("Load() expected error for %s=%q", key, value)
			}
		})
	}
}

func setCoreEnvEmpty(t *testing.T) {
	t.Helper()
	keys := []string{
		"APP_BIND_ADDR",
		"APP_SHUTDOWN_TIMEOUT",
		"APP_METRICS_NAMESPACE",
		"APP_ALLOW_ANY_ORIGIN",
		"LOG_LEVEL",
		"LOG_FORMAT",
		"PAIRING_MODE",
		"PAIRING_BRIDGE_URL",
		"PAIRING_KILL_TIMEOUT",
		"DATABASE_URL",
		"SESSION_STORE_DIR",
		"RISK_CHECK_URL",
		"RISK_CHECK_TIMEOUT",
		"RISK_CHECK_RPS",
		"GAS_ESTIMATE_URL",
		"GAS_API_KEY",
		"NETWORKS_FILE",
		"DEFAULT_NETWORK",
	}
	for _, key := range keys {
		t.Setenv(key, "")
	}
}
