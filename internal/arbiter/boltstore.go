package arbiter

import (
	"encoding/json"
	"fmt"

	"github.com/google/uuid"
	bolt "go.etcd.io/bbolt"
)

// channelsBucket holds one JSON-encoded Channel per channel_id key.
var channelsBucket = []byte("channels")

// BoltStore is a Store backed by a single-writer bbolt database file,
// giving the arbiter's channel map durability across restarts without
// pulling in a full SQL engine — the arbiter is a keyed map, not a
// relational workload, so an embedded KV store is the better fit
// (mirrors lnd's channeldb use of bbolt for exactly this shape of
// state: a single authoritative map guarded by one writer).
type BoltStore struct {
	db *bolt.DB
}

// OpenBoltStore opens (creating if necessary) a bbolt database at
// path and ensures the channels bucket exists.
func OpenBoltStore(path string) (*BoltStore, error) {
	db, err := bolt.Open(path, 0600, nil)
	if err != nil {
		return nil, fmt.Errorf("arbiter: open bolt store: %w", err)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(channelsBucket)
		return err
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("arbiter: init bolt store: %w", err)
	}
	return &BoltStore{db: db}, nil
}

// Close releases the underlying bbolt file handle.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

// Get implements Store.
func (s *BoltStore) Get(id string) (Channel, bool, error) {
	var ch Channel
	found := false
	err := s.db.View(func(tx *bolt.Tx) error {
		raw := tx.Bucket(channelsBucket).Get([]byte(id))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &ch)
	})
	if err != nil {
		return Channel{}, false, fmt.Errorf("arbiter: get channel %s: %w", id, err)
	}
	return ch, found, nil
}

// Put implements Store.
func (s *BoltStore) Put(id string, ch Channel) error {
	raw, err := json.Marshal(ch)
	if err != nil {
		return fmt.Errorf("arbiter: marshal channel %s: %w", id, err)
	}
	err = s.db.Update(func(tx *bolt.Tx) error {
		return tx.Bucket(channelsBucket).Put([]byte(id), raw)
	})
	if err != nil {
		return fmt.Errorf("arbiter: put channel %s: %w", id, err)
	}
	return nil
}

// NewChannelID implements Store, rerolling on the negligible chance a
// freshly generated UUID already keys an entry in this bucket.
func (s *BoltStore) NewChannelID() (string, error) {
	var id string
	err := s.db.Update(func(tx *bolt.Tx) error {
		b := tx.Bucket(channelsBucket)
		for {
			candidate := uuid.NewString()
			if b.Get([]byte(candidate)) == nil {
				id = candidate
				return nil
			}
		}
	})
	if err != nil {
		return "", fmt.Errorf("arbiter: allocate channel id: %w", err)
	}
	return id, nil
}
