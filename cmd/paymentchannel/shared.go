package main

import (
	"fmt"
	"math/big"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/arbiterrpc"
	"github.com/nearai/pay-per-prompt/internal/senderclient"
)

// buildClient loads the persisted config and wires a senderclient.Client
// against it. Every command that touches channel state goes through this.
func buildClient() (*senderclient.Client, senderclient.Config, error) {
	cfg, err := senderclient.LoadConfig()
	if err != nil {
		return nil, senderclient.Config{}, err
	}
	arb := arbiterrpc.NewClient(cfg.ArbiterURL)
	provider := senderclient.NewProviderClient(cfg.ProviderURL)
	return senderclient.NewClient(cfg, arb, provider), cfg, nil
}

// buildArbiterClient is used by the advanced commands that need arbiter
// operations senderclient.Client does not expose directly (raw withdraw).
func buildArbiterClient(cfg senderclient.Config) *arbiterrpc.Client {
	return arbiterrpc.NewClient(cfg.ArbiterURL)
}

// buildProviderClient is used by advanced commands that talk to the
// receiver's HTTP surface directly rather than through senderclient.Client.
func buildProviderClient(cfg senderclient.Config) *senderclient.ProviderClient {
	return senderclient.NewProviderClient(cfg.ProviderURL)
}

// resolveChannelID returns explicit if non-empty, otherwise falls back to
// the single active channel record on disk. It errors if zero or more
// than one record exists, since the CLI has no other way to disambiguate.
func resolveChannelID(explicit string) (string, error) {
	if explicit != "" {
		return explicit, nil
	}
	ids, err := activeChannelIDs()
	if err != nil {
		return "", err
	}
	switch len(ids) {
	case 0:
		return "", fmt.Errorf("no active channel found; run `open <amount>` first")
	case 1:
		return ids[0], nil
	default:
		return "", fmt.Errorf("multiple active channels found (%s); pass channel_id explicitly", strings.Join(ids, ", "))
	}
}

func activeChannelIDs() ([]string, error) {
	dir, err := senderclient.DataDir()
	if err != nil {
		return nil, err
	}
	channelsDir := filepath.Join(dir, "channels")
	entries, err := os.ReadDir(channelsDir)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("list active channels: %w", err)
	}
	var ids []string
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".json") {
			continue
		}
		ids = append(ids, strings.TrimSuffix(e.Name(), ".json"))
	}
	sort.Strings(ids)
	return ids, nil
}

func parseBalance(raw string) (arbiter.Balance, error) {
	n, ok := new(big.Int).SetString(raw, 10)
	if !ok {
		return arbiter.Balance{}, fmt.Errorf("invalid amount %q: must be a decimal yoctoNEAR integer", raw)
	}
	if n.Sign() < 0 {
		return arbiter.Balance{}, fmt.Errorf("invalid amount %q: must not be negative", raw)
	}
	return arbiter.BalanceFromBigInt(n), nil
}
