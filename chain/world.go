package chain

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
)

const maxCallDepth = 64

// Revert is a failed call carrying its reason.
type Revert struct {
	Reason string
}

func (r *Revert) Error() string {
	if r == nil || r.Reason == "" {
		return "execution reverted"
	}
	return "execution reverted: " + r.Reason
}

func Reverted(format string, args ...any) error {
	return &Revert{Reason: fmt.Sprintf(format, args...)}
}

func IsRevert(err error) bool {
	var revert *Revert
	return errors.As(err, &revert)
}

// Message is one call frame's input.
type Message struct {
	From   common.Address
	To     common.Address
	Data   []byte
	Static bool
}

func (m Message) Selector() [4]byte {
	var tag [4]byte
	copy(tag[:], m.Data)
	return tag
}

type Contract interface {
	Call(ctx context.Context, env *Env, msg Message) ([]byte, error)
}

type ContractFunc func(ctx context.Context, env *Env, msg Message) ([]byte, error)

func (fn ContractFunc) Call(ctx context.Context, env *Env, msg Message) ([]byte, error) {
	return fn(ctx, env, msg)
}

// TraceEntry records one call issued during the last unit of work.
type TraceEntry struct {
	From     common.Address
	To       common.Address
	Selector [4]byte
	Static   bool
	Depth    int
	Failed   bool
}

// World is an in-process, journaled contract world. Each Transact is one
// indivisible unit of work: it commits every storage write or none.
type World struct {
	mu        sync.Mutex
	backend   Backend
	contracts map[common.Address]Contract
	trace     []TraceEntry
}

func NewWorld(backend Backend) *World {
	if backend == nil {
		backend = NewMemoryBackend()
	}
	return &World{
		backend:   backend,
		contracts: map[common.Address]Contract{},
	}
}

func (w *World) Backend() Backend {
	return w.backend
}

func (w *World) Deploy(addr common.Address, contract Contract) error {
	if contract == nil {
		return fmt.Errorf("chain: contract is required")
	}
	if addr == (common.Address{}) {
		return fmt.Errorf("chain: cannot deploy at the zero address")
	}
	w.mu.Lock()
	defer w.mu.Unlock()
	if _, exists := w.contracts[addr]; exists {
		return fmt.Errorf("chain: address %s already has code", addr.Hex())
	}
	w.contracts[addr] = contract
	return nil
}

func (w *World) HasCode(addr common.Address) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	_, ok := w.contracts[addr]
	return ok
}

// Transact runs one top-level call as an indivisible unit of work.
func (w *World) Transact(ctx context.Context, from common.Address, to common.Address, data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	unitID := uuid.NewString()
	state := newState(w.backend)
	w.trace = nil
	env := &Env{world: w, state: state, unitID: unitID, self: from}

	ret, err := env.call(ctx, Message{From: from, To: to, Data: data})
	state.clearTransient()
	if err != nil {
		return nil, err
	}
	if err := w.backend.Commit(ctx, unitID, state.writes()); err != nil {
		return nil, fmt.Errorf("chain: commit unit %s: %w", unitID, err)
	}
	return ret, nil
}

// View runs a static call against committed state and discards it.
func (w *World) View(ctx context.Context, from common.Address, to common.Address, data []byte) ([]byte, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	env := &Env{world: w, state: newState(w.backend), unitID: "view", self: from, static: true}
	return env.call(ctx, Message{From: from, To: to, Data: data, Static: true})
}

// Trace returns the calls issued by the last Transact.
func (w *World) Trace() []TraceEntry {
	w.mu.Lock()
	defer w.mu.Unlock()
	out := make([]TraceEntry, len(w.trace))
	copy(out, w.trace)
	return out
}

// Env is the execution environment of one call frame.
type Env struct {
	world  *World
	state  *State
	unitID string
	self   common.Address
	depth  int
	static bool
	// fault is set by a write the frame was not allowed to make. It reverts
	// the frame once the contract returns.
	fault error
}

// Self is the address whose code is executing in this frame.
func (e *Env) Self() common.Address {
	return e.self
}

func (e *Env) UnitID() string {
	return e.unitID
}

func (e *Env) Static() bool {
	return e.static
}

func (e *Env) Call(ctx context.Context, from common.Address, to common.Address, data []byte) ([]byte, error) {
	return e.call(ctx, Message{From: from, To: to, Data: data, Static: e.static})
}

func (e *Env) StaticCall(ctx context.Context, from common.Address, to common.Address, data []byte) ([]byte, error) {
	return e.call(ctx, Message{From: from, To: to, Data: data, Static: true})
}

func (e *Env) call(ctx context.Context, msg Message) ([]byte, error) {
	entry := len(e.world.trace)
	e.world.trace = append(e.world.trace, TraceEntry{
		From:     msg.From,
		To:       msg.To,
		Selector: msg.Selector(),
		Static:   msg.Static,
		Depth:    e.depth,
	})
	if e.depth >= maxCallDepth {
		e.world.trace[entry].Failed = true
		return nil, Reverted("call depth exceeded")
	}
	contract, ok := e.world.contracts[msg.To]
	if !ok {
		e.world.trace[entry].Failed = true
		return nil, Reverted("call to non-contract %s", msg.To.Hex())
	}

	snapshot := e.state.snapshot()
	child := &Env{
		world:  e.world,
		state:  e.state,
		unitID: e.unitID,
		self:   msg.To,
		depth:  e.depth + 1,
		static: msg.Static,
	}
	ret, err := contract.Call(ctx, child, msg)
	if err == nil && child.fault != nil {
		err = child.fault
	}
	if err != nil {
		e.state.revertTo(snapshot)
		e.world.trace[entry].Failed = true
		return nil, err
	}
	return ret, nil
}

// Load reads a persistent slot of the executing contract.
func (e *Env) Load(ctx context.Context, key common.Hash) (common.Hash, error) {
	return e.state.load(ctx, e.self, key)
}

// Store writes a persistent slot of the executing contract.
func (e *Env) Store(ctx context.Context, key common.Hash, value common.Hash) error {
	if e.static {
		return Reverted("write protection")
	}
	return e.state.store(ctx, e.self, key, value)
}

func (e *Env) TransientLoad(owner common.Address, key common.Hash) common.Hash {
	return e.state.transientLoad(owner, key)
}

// TransientStore writes a transient slot. Inside a static frame the write is
// dropped and the frame reverts when its contract returns.
func (e *Env) TransientStore(owner common.Address, key common.Hash, value common.Hash) {
	if e.static {
		if e.fault == nil {
			e.fault = Reverted("transient write protection")
		}
		return
	}
	e.state.transientStore(owner, key, value)
}
