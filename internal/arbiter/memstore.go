package arbiter

import (
	"sync"

	"github.com/google/uuid"
)

// MemStore is an in-memory Store, suitable for tests and for the
// single-process demo runtime. Every method takes MemStore's own
// mutex, so it is safe for concurrent use.
type MemStore struct {
	mu       sync.Mutex
	channels map[string]Channel
	seen     map[string]struct{}
}

// NewMemStore builds an empty MemStore.
func NewMemStore() *MemStore {
	return &MemStore{
		channels: make(map[string]Channel),
		seen:     make(map[string]struct{}),
	}
}

// Get implements Store.
func (m *MemStore) Get(id string) (Channel, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ch, ok := m.channels[id]
	return ch, ok, nil
}

// Put implements Store.
func (m *MemStore) Put(id string, ch Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.channels[id] = ch
	m.seen[id] = struct{}{}
	return nil
}

// NewChannelID implements Store, returning a fresh UUIDv4 and
// re-rolling on the astronomically unlikely event of a collision with
// an id this store has ever issued or stored.
func (m *MemStore) NewChannelID() (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for {
		id := uuid.NewString()
		if _, exists := m.seen[id]; !exists {
			m.seen[id] = struct{}{}
			return id, nil
		}
	}
}
