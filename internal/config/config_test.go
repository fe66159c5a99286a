package config

import (
	"os"
	"path/filepath"
	"testing"
)

const sampleYAML = `
bot:
  name: test-bot
  dry_run: true
  capital: 10000
api:
  clob_base_url: https://clob.example.com
  exchanges:
    - name: binance
      ws_url: wss://stream.example.com/ws
      symbols: [BTCUSDT]
risk:
  max_daily_loss: 500
  max_position_size: 2000
`

func writeTempConfig(t *testing.T, contents string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	if err := os.WriteFile(path, []byte(contents), 0o600); err != nil {
		t.Fatalf("write temp config: %v", err)
	}
	return path
}

func TestLoadAndValidateDryRun(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Bot.Name != "test-bot" {
		t.Errorf("Bot.Name = %q, want test-bot", cfg.Bot.Name)
	}
	if !cfg.Bot.DryRun {
		t.Error("Bot.DryRun = false, want true")
	}
	if len(cfg.API.Exchanges) != 1 || cfg.API.Exchanges[0].Name != "binance" {
		t.Errorf("API.Exchanges = %+v", cfg.API.Exchanges)
	}

	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil", err)
	}
}

func TestValidateRequiresCredentialsOutsideDryRun(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	cfg.Bot.DryRun = false

	if err := cfg.Validate(); err == nil {
		t.Error("Validate() error = nil, want error for missing credentials in live mode")
	}
}

func TestEnvOverridesSensitiveFields(t *testing.T) {
	path := writeTempConfig(t, sampleYAML)

	t.Setenv("ARB_API_KEY", "env-key")
	t.Setenv("ARB_API_SECRET", "env-secret")
	t.Setenv("ARB_PASSPHRASE", "env-pass")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.API.ApiKey != "env-key" || cfg.API.Secret != "env-secret" || cfg.API.Passphrase != "env-pass" {
		t.Errorf("API creds = %+v, want env overrides applied", cfg.API)
	}

	cfg.Bot.DryRun = false
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v, want nil with env creds set", err)
	}
}

func TestValidateRejectsMissingRiskLimits(t *testing.T) {
	path := writeTempConfig(t, `
bot:
  dry_run: true
  capital: 1000
api:
  clob_base_url: https://clob.example.com
`)
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if err := cfg.Validate(); err == nil {
		t.Error("Validate() error = nil, want error for missing risk limits")
	}
}
