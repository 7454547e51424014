package core

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

var (
	slotVenue    = crypto.Keccak256Hash([]byte("flashroute.context.venue"))
	slotAsset    = crypto.Keccak256Hash([]byte("flashroute.context.asset"))
	slotAmount   = crypto.Keccak256Hash([]byte("flashroute.context.amount"))
	slotActive   = crypto.Keccak256Hash([]byte("flashroute.context.active"))
	slotConsumed = crypto.Keccak256Hash([]byte("flashroute.context.consumed"))

	flagSet = common.BigToHash(big.NewInt(1))
)

// ContextStore keeps the request context in the host's transient storage,
// so it is visible to the nested callback and gone when the unit of work
// ends.
type ContextStore struct {
	exec  Executor
	owner Address
}

func NewContextStore(frame Frame) ContextStore {
	return ContextStore{exec: frame.Executor, owner: frame.Self}
}

func (s ContextStore) Record(rc RequestContext) {
	if s.exec == nil {
		return
	}
	s.exec.TransientStore(s.owner, slotVenue, common.BytesToHash(rc.Venue.Bytes()))
	if !IsZeroAddress(rc.Asset) {
		s.exec.TransientStore(s.owner, slotAsset, common.BytesToHash(rc.Asset.Bytes()))
	}
	if rc.Amount != nil {
		s.exec.TransientStore(s.owner, slotAmount, common.BigToHash(rc.Amount))
	}
	s.exec.TransientStore(s.owner, slotActive, flagSet)
	s.exec.TransientStore(s.owner, slotConsumed, Hash{})
}

func (s ContextStore) Load() RequestContext {
	if s.exec == nil {
		return RequestContext{}
	}
	rc := RequestContext{
		Venue: common.BytesToAddress(s.exec.TransientLoad(s.owner, slotVenue).Bytes()),
		Asset: common.BytesToAddress(s.exec.TransientLoad(s.owner, slotAsset).Bytes()),
	}
	if amount := s.exec.TransientLoad(s.owner, slotAmount); amount != (Hash{}) {
		rc.Amount = amount.Big()
	}
	return rc
}

func (s ContextStore) Active() bool {
	if s.exec == nil {
		return false
	}
	return s.exec.TransientLoad(s.owner, slotActive) == flagSet
}

// Consume marks the context as used by a callback. It reports false when a
// callback already consumed it.
func (s ContextStore) Consume() bool {
	if s.exec == nil {
		return false
	}
	if s.exec.TransientLoad(s.owner, slotConsumed) == flagSet {
		return false
	}
	s.exec.TransientStore(s.owner, slotConsumed, flagSet)
	return true
}

func (s ContextStore) Clear() {
	if s.exec == nil {
		return
	}
	for _, slot := range []Hash{slotVenue, slotAsset, slotAmount, slotActive, slotConsumed} {
		s.exec.TransientStore(s.owner, slot, Hash{})
	}
}

// SavedContext is a copy of the store taken before a nested request
// overwrites it.
type SavedContext struct {
	Context  RequestContext
	Active   bool
	Consumed bool
}

func (s ContextStore) Save() SavedContext {
	if s.exec == nil {
		return SavedContext{}
	}
	return SavedContext{
		Context:  s.Load(),
		Active:   s.Active(),
		Consumed: s.exec.TransientLoad(s.owner, slotConsumed) == flagSet,
	}
}

// Restore puts back a saved context, or clears the store when nothing was
// active.
func (s ContextStore) Restore(saved SavedContext) {
	s.Clear()
	if s.exec == nil || !saved.Active {
		return
	}
	s.Record(saved.Context)
	if saved.Consumed {
		s.exec.TransientStore(s.owner, slotConsumed, flagSet)
	}
}
