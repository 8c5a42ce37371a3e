package senderclient

import (
	"crypto/ed25519"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/nearai/pay-per-prompt/internal/arbiter"
	"github.com/nearai/pay-per-prompt/internal/codec"
)

// Record is the sender's local view of one channel: everything the arbiter
// knows plus the channel-scoped secret key only the sender holds. One
// Record is persisted as one JSON file under channels/.
type Record struct {
	ChannelID         string             `json:"channel_id"`
	Receiver          arbiter.Account    `json:"receiver"`
	Sender            arbiter.Account    `json:"sender"`
	SenderSecretKey   ed25519.PrivateKey `json:"sender_secret_key"`
	SpentBalance      arbiter.Balance    `json:"spent_balance"`
	AddedBalance      arbiter.Balance    `json:"added_balance"`
	WithdrawnBalance  arbiter.Balance    `json:"withdrawn_balance"`
	ForceCloseStarted *time.Time         `json:"force_close_started,omitempty"`
}

// Available is the balance the sender may still spend off-chain.
func (r Record) Available() arbiter.Balance {
	return r.AddedBalance.SaturatingSub(r.SpentBalance)
}

// Sign produces a SignedState for the next spent_balance using the
// channel's secret key.
func (r Record) Sign(spent arbiter.Balance) (codec.SignedState, error) {
	state := codec.State{ChannelID: r.ChannelID, SpentBalance: spent.Int()}
	sig, err := codec.Sign(r.SenderSecretKey, state)
	if err != nil {
		return codec.SignedState{}, err
	}
	return codec.SignedState{State: state, Signature: sig}, nil
}

func channelsDir() (string, error) {
	dir, err := DataDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "channels"), nil
}

func closedChannelsDir() (string, error) {
	dir, err := channelsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "closed"), nil
}

func recordPath(channelID string) (string, error) {
	dir, err := channelsDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, channelID+".json"), nil
}

// SaveRecord writes r to channels/<channel_id>.json, creating the directory
// if necessary. The process must never silently lose a local record, so
// this is the only write path every mutating operation funnels through.
func SaveRecord(r Record) error {
	dir, err := channelsDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("senderclient: create channels dir: %w", err)
	}
	path, err := recordPath(r.ChannelID)
	if err != nil {
		return err
	}
	raw, err := json.MarshalIndent(r, "", "  ")
	if err != nil {
		return fmt.Errorf("senderclient: marshal record: %w", err)
	}
	if err := os.WriteFile(path, raw, 0600); err != nil {
		return fmt.Errorf("senderclient: write record: %w", err)
	}
	return nil
}

// LoadRecord reads channels/<channel_id>.json.
func LoadRecord(channelID string) (Record, error) {
	path, err := recordPath(channelID)
	if err != nil {
		return Record{}, err
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return Record{}, fmt.Errorf("senderclient: read record: %w", err)
	}
	var r Record
	if err := json.Unmarshal(raw, &r); err != nil {
		return Record{}, fmt.Errorf("senderclient: parse record: %w", err)
	}
	return r, nil
}

// ArchiveRecord moves a record from channels/ to channels/closed/, per
// §4.3.1: once the arbiter reports the closed sentinel, the sender must
// stop using the local record.
func ArchiveRecord(r Record) error {
	closedDir, err := closedChannelsDir()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(closedDir, 0700); err != nil {
		return fmt.Errorf("senderclient: create closed channels dir: %w", err)
	}
	src, err := recordPath(r.ChannelID)
	if err != nil {
		return err
	}
	dst := filepath.Join(closedDir, r.ChannelID+".json")
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("senderclient: archive record: %w", err)
	}
	return nil
}

// RedactedRecord is the JSON-safe projection of Record used for any log or
// CLI output: the secret key is replaced by a sentinel, never printed.
type RedactedRecord struct {
	ChannelID         string          `json:"channel_id"`
	Receiver          arbiter.Account `json:"receiver"`
	Sender            arbiter.Account `json:"sender"`
	SenderSecretKey   string          `json:"sender_secret_key"`
	SpentBalance      arbiter.Balance `json:"spent_balance"`
	AddedBalance      arbiter.Balance `json:"added_balance"`
	WithdrawnBalance  arbiter.Balance `json:"withdrawn_balance"`
	ForceCloseStarted *time.Time      `json:"force_close_started,omitempty"`
}

// redactedSentinel replaces secret material in any printed or logged
// representation of a Record, per the redaction rule in spec.md §9.
const redactedSentinel = "<redacted>"

// Redacted strips the secret key before the record is ever marshalled for
// logging or CLI output.
func (r Record) Redacted() RedactedRecord {
	return RedactedRecord{
		ChannelID:         r.ChannelID,
		Receiver:          r.Receiver,
		Sender:            r.Sender,
		SenderSecretKey:   redactedSentinel,
		SpentBalance:      r.SpentBalance,
		AddedBalance:      r.AddedBalance,
		WithdrawnBalance:  r.WithdrawnBalance,
		ForceCloseStarted: r.ForceCloseStarted,
	}
}
