package chain

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
)

type journalEntry struct {
	transient bool
	key       slotKey
	prev      common.Hash
}

// State is the journaled working state of one unit of work. Persistent
// slots are read through from the backend; transient slots start empty.
type State struct {
	backend   Backend
	storage   map[slotKey]common.Hash
	dirty     map[slotKey]struct{}
	transient map[slotKey]common.Hash
	journal   []journalEntry
}

func newState(backend Backend) *State {
	return &State{
		backend:   backend,
		storage:   map[slotKey]common.Hash{},
		dirty:     map[slotKey]struct{}{},
		transient: map[slotKey]common.Hash{},
	}
}

func (s *State) snapshot() int {
	return len(s.journal)
}

func (s *State) revertTo(id int) {
	for idx := len(s.journal) - 1; idx >= id; idx-- {
		entry := s.journal[idx]
		if entry.transient {
			s.transient[entry.key] = entry.prev
			continue
		}
		s.storage[entry.key] = entry.prev
	}
	s.journal = s.journal[:id]
}

func (s *State) load(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	k := slotKey{addr: addr, key: key}
	if value, ok := s.storage[k]; ok {
		return value, nil
	}
	value, err := s.backend.Load(ctx, addr, key)
	if err != nil {
		return common.Hash{}, err
	}
	s.storage[k] = value
	return value, nil
}

func (s *State) store(ctx context.Context, addr common.Address, key common.Hash, value common.Hash) error {
	prev, err := s.load(ctx, addr, key)
	if err != nil {
		return err
	}
	k := slotKey{addr: addr, key: key}
	s.journal = append(s.journal, journalEntry{key: k, prev: prev})
	s.storage[k] = value
	s.dirty[k] = struct{}{}
	return nil
}

func (s *State) transientLoad(addr common.Address, key common.Hash) common.Hash {
	return s.transient[slotKey{addr: addr, key: key}]
}

func (s *State) transientStore(addr common.Address, key common.Hash, value common.Hash) {
	k := slotKey{addr: addr, key: key}
	s.journal = append(s.journal, journalEntry{transient: true, key: k, prev: s.transient[k]})
	s.transient[k] = value
}

func (s *State) clearTransient() {
	s.transient = map[slotKey]common.Hash{}
}

func (s *State) writes() []SlotWrite {
	out := make([]SlotWrite, 0, len(s.dirty))
	for k := range s.dirty {
		out = append(out, SlotWrite{Address: k.addr, Key: k.key, Value: s.storage[k]})
	}
	sortWrites(out)
	return out
}
