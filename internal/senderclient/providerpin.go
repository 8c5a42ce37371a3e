package senderclient

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// ErrProviderIdentityMismatch is returned when a receiver's public key no
// longer matches what this device previously pinned for that account id.
var ErrProviderIdentityMismatch = fmt.Errorf("senderclient: receiver identity does not match the pinned record")

// PinnedProvider is the on-disk record of a receiver identity this device
// has previously trusted, keyed by account id.
type PinnedProvider struct {
	AccountID string `json:"account_id"`
	PublicKey string `json:"public_key"`
}

func providersDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "providers"), nil
}

func pinnedProviderPath(accountID string) (string, error) {
	dir, err := providersDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, accountID+".json"), nil
}

// LoadPinnedProvider reads providers/<account_id>.json. found is false if
// this device has never pinned that account id.
func LoadPinnedProvider(accountID string) (pin PinnedProvider, found bool, err error) {
	path, err := pinnedProviderPath(accountID)
	if err != nil {
		return PinnedProvider{}, false, err
	}
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return PinnedProvider{}, false, nil
	}
	if err != nil {
		return PinnedProvider{}, false, fmt.Errorf("senderclient: read pinned provider: %w", err)
	}
	if err := json.Unmarshal(raw, &pin); err != nil {
		return PinnedProvider{}, false, fmt.Errorf("senderclient: parse pinned provider: %w", err)
	}
	return pin, true, nil
}

// SavePinnedProvider writes providers/<account_id>.json, creating the
// directory if necessary.
func SavePinnedProvider(pin PinnedProvider) error {
	dir, err := providersDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("senderclient: create providers dir: %w", err)
	}
	path, err := pinnedProviderPath(pin.AccountID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(pin, "", "  ")
	if err != nil {
		return fmt.Errorf("senderclient: marshal pinned provider: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("senderclient: write pinned provider: %w", err)
	}
	return nil
}

// pinProvider enforces trust-on-first-use for a receiver identity: the
// first time this device talks to account_id, its public key is pinned;
// every later sighting must match exactly.
func pinProvider(info ProviderInfo) error {
	existing, found, err := LoadPinnedProvider(info.AccountID)
	if err != nil {
		return err
	}
	if !found {
		return SavePinnedProvider(PinnedProvider{AccountID: info.AccountID, PublicKey: info.PublicKey})
	}
	if existing.PublicKey != info.PublicKey {
		return ErrProviderIdentityMismatch
	}
	return nil
}
