package senderclient

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/viper"
)

// Config is the sender's persisted top-level configuration, loaded with
// viper from config.json under the platform config directory.
type Config struct {
	Contract    string `json:"contract" mapstructure:"contract"`
	ProviderURL string `json:"provider_url" mapstructure:"provider_url"`
	ArbiterURL  string `json:"arbiter_url" mapstructure:"arbiter_url"`
	Network     string `json:"network" mapstructure:"network"`
	AccountID   string `json:"account_id" mapstructure:"account_id"`
}

// DefaultConfig mirrors the original CLI's bundled defaults: a staging
// contract account and the project's hosted provider.
func DefaultConfig() Config {
	return Config{
		Contract:    "staging.paymentchannel.near",
		ProviderURL: "https://payperprompt.near.ai",
		ArbiterURL:  "http://localhost:8090",
		Network:     "mainnet",
	}
}

// DataDir returns the platform config directory for sender state, e.g.
// ~/.config/near_payment_channel on Linux.
func DataDir() (string, error) {
	base, err := os.UserConfigDir()
	if err != nil {
		return "", fmt.Errorf("senderclient: resolve config dir: %w", err)
	}
	return filepath.Join(base, "near_payment_channel"), nil
}

func configFilePath() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.json"), nil
}

// LoadConfig reads config.json, creating it with DefaultConfig on first run.
func LoadConfig() (Config, error) {
	path, err := configFilePath()
	if err != nil {
		return Config{}, err
	}

	if _, err := os.Stat(path); os.IsNotExist(err) {
		cfg := DefaultConfig()
		if err := SaveConfig(cfg); err != nil {
			return Config{}, err
		}
		return cfg, nil
	}

	v := viper.New()
	v.SetConfigFile(path)
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		return Config{}, fmt.Errorf("senderclient: read config: %w", err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("senderclient: parse config: %w", err)
	}
	return cfg, nil
}

// SaveConfig persists cfg to config.json, creating the directory tree if
// necessary.
func SaveConfig(cfg Config) error {
	dir, err := DataDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("senderclient: create config dir: %w", err)
	}

	v := viper.New()
	v.Set("contract", cfg.Contract)
	v.Set("provider_url", cfg.ProviderURL)
	v.Set("arbiter_url", cfg.ArbiterURL)
	v.Set("network", cfg.Network)
	v.Set("account_id", cfg.AccountID)

	path := filepath.Join(dir, "config.json")
	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("senderclient: write config: %w", err)
	}
	return nil
}

// RequireAccountID returns cfg.AccountID or an error telling the caller to
// run `config account_id` first, mirroring the original CLI's fatal prompt.
func (c Config) RequireAccountID() (string, error) {
	if c.AccountID == "" {
		return "", fmt.Errorf("senderclient: account id not set; run `config account_id <account_id>` first")
	}
	return c.AccountID, nil
}
