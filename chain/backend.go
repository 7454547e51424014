package chain

import (
	"context"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// SlotWrite is one committed storage slot.
type SlotWrite struct {
	Address common.Address
	Key     common.Hash
	Value   common.Hash
}

// Backend holds committed contract storage. Commit applies every write of
// one unit of work atomically.
type Backend interface {
	Load(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error)
	Commit(ctx context.Context, unitID string, writes []SlotWrite) error
}

type slotKey struct {
	addr common.Address
	key  common.Hash
}

type MemoryBackend struct {
	mu      sync.RWMutex
	slots   map[slotKey]common.Hash
	commits int
}

func NewMemoryBackend() *MemoryBackend {
	return &MemoryBackend{slots: map[slotKey]common.Hash{}}
}

func (b *MemoryBackend) Load(_ context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.slots[slotKey{addr: addr, key: key}], nil
}

func (b *MemoryBackend) Commit(_ context.Context, _ string, writes []SlotWrite) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, write := range writes {
		k := slotKey{addr: write.Address, key: write.Key}
		if write.Value == (common.Hash{}) {
			delete(b.slots, k)
			continue
		}
		b.slots[k] = write.Value
	}
	b.commits++
	return nil
}

// Commits reports how many units of work were committed.
func (b *MemoryBackend) Commits() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.commits
}

// Snapshot returns the committed non-zero slots ordered by address and key.
func (b *MemoryBackend) Snapshot() []SlotWrite {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]SlotWrite, 0, len(b.slots))
	for k, value := range b.slots {
		out = append(out, SlotWrite{Address: k.addr, Key: k.key, Value: value})
	}
	sortWrites(out)
	return out
}

func sortWrites(writes []SlotWrite) {
	sort.Slice(writes, func(i, j int) bool {
		if writes[i].Address != writes[j].Address {
			return writes[i].Address.Cmp(writes[j].Address) < 0
		}
		return writes[i].Key.Cmp(writes[j].Key) < 0
	})
}
