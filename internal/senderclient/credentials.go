package senderclient

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/mr-tron/base58"

	"github.com/nearai/pay-per-prompt/internal/codec"
)

// nearCredentialFile is the on-disk shape NEAR wallets and near-cli write
// under ~/.near-credentials/<network>/<account_id>.json.
type nearCredentialFile struct {
	AccountID string `json:"account_id"`
	PublicKey string `json:"public_key"`
	// PrivateKey is "ed25519:<base58 of the 64-byte seed+pubkey pair>",
	// the same convention the NEAR CLI uses for full ed25519 keypairs.
	PrivateKey string `json:"private_key"`
}

// CredentialsDir returns ~/.near-credentials/<network>.
func CredentialsDir(network string) (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("senderclient: resolve home dir: %w", err)
	}
	return filepath.Join(home, ".near-credentials", network), nil
}

// LoadCredentials reads the ed25519 keypair for accountID on network from
// the standard NEAR credentials tree.
func LoadCredentials(network, accountID string) (ed25519.PublicKey, ed25519.PrivateKey, error) {
	dir, err := CredentialsDir(network)
	if err != nil {
		return nil, nil, err
	}
	path := filepath.Join(dir, accountID+".json")

	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("senderclient: read credentials for %s: %w", accountID, err)
	}
	var cred nearCredentialFile
	if err := json.Unmarshal(raw, &cred); err != nil {
		return nil, nil, fmt.Errorf("senderclient: parse credentials for %s: %w", accountID, err)
	}

	priv, err := decodePrivateKey(cred.PrivateKey)
	if err != nil {
		return nil, nil, fmt.Errorf("senderclient: decode private key for %s: %w", accountID, err)
	}
	pub, err := codec.DecodePublicKey(cred.PublicKey)
	if err != nil {
		return nil, nil, fmt.Errorf("senderclient: decode public key for %s: %w", accountID, err)
	}
	return pub, priv, nil
}

func decodePrivateKey(s string) (ed25519.PrivateKey, error) {
	const prefix = "ed25519:"
	if len(s) <= len(prefix) || s[:len(prefix)] != prefix {
		return nil, fmt.Errorf("private key missing ed25519 prefix")
	}
	raw, err := base58.Decode(s[len(prefix):])
	if err != nil {
		return nil, fmt.Errorf("invalid base58 private key")
	}
	if len(raw) != ed25519.PrivateKeySize {
		return nil, fmt.Errorf("private key has wrong length")
	}
	return ed25519.PrivateKey(raw), nil
}
