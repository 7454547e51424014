package chain

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/goliatone/go-flashroute/protocol"
)

const (
	balancesSlot    = 0
	allowancesSlot  = 1
	totalSupplySlot = 2
)

// TokenQuirks reproduces non-standard token behavior seen in the wild.
type TokenQuirks struct {
	// NoReturnValue returns empty data from transfer, transferFrom and approve.
	NoReturnValue bool
	// ApproveRequiresZero reverts when changing a non-zero allowance to
	// another non-zero value.
	ApproveRequiresZero bool
	// ReturnFalse reports failed transfers with false instead of reverting.
	ReturnFalse bool
}

// Token is a fungible token contract. Minting is open to any caller.
type Token struct {
	Symbol string
	Quirks TokenQuirks
}

func NewToken(symbol string, quirks TokenQuirks) *Token {
	return &Token{Symbol: symbol, Quirks: quirks}
}

func (t *Token) Call(ctx context.Context, env *Env, msg Message) ([]byte, error) {
	method, err := protocol.ERC20ABI.MethodById(msg.Data)
	if err != nil {
		return nil, Reverted("%s: unknown function", t.Symbol)
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, Reverted("%s: malformed %s arguments", t.Symbol, method.Name)
	}

	switch method.Name {
	case "balanceOf":
		balance, err := t.balance(ctx, env, args[0].(common.Address))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(balance)
	case "allowance":
		allowance, err := t.allowance(ctx, env, args[0].(common.Address), args[1].(common.Address))
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(allowance)
	}

	if msg.Static {
		return nil, Reverted("write protection")
	}

	switch method.Name {
	case "transfer":
		ok, err := t.move(ctx, env, msg.From, args[0].(common.Address), args[1].(*big.Int))
		return t.result(method.Outputs.Pack, ok, err)
	case "transferFrom":
		from, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		ok, err := t.spend(ctx, env, from, msg.From, amount)
		if err == nil && ok {
			ok, err = t.move(ctx, env, from, to, amount)
		}
		return t.result(method.Outputs.Pack, ok, err)
	case "approve":
		spender, amount := args[0].(common.Address), args[1].(*big.Int)
		if t.Quirks.ApproveRequiresZero && amount.Sign() > 0 {
			current, err := t.allowance(ctx, env, msg.From, spender)
			if err != nil {
				return nil, err
			}
			if current.Sign() > 0 {
				return nil, Reverted("%s: approve from non-zero allowance", t.Symbol)
			}
		}
		err := env.Store(ctx, allowanceKey(msg.From, spender), common.BigToHash(amount))
		return t.result(method.Outputs.Pack, true, err)
	case "mint":
		to, amount := args[0].(common.Address), args[1].(*big.Int)
		if err := t.credit(ctx, env, to, amount); err != nil {
			return nil, err
		}
		supply, err := env.Load(ctx, common.BigToHash(big.NewInt(totalSupplySlot)))
		if err != nil {
			return nil, err
		}
		next := new(big.Int).Add(supply.Big(), amount)
		return nil, env.Store(ctx, common.BigToHash(big.NewInt(totalSupplySlot)), common.BigToHash(next))
	}
	return nil, Reverted("%s: unsupported function %s", t.Symbol, method.Name)
}

func (t *Token) result(pack func(...any) ([]byte, error), ok bool, err error) ([]byte, error) {
	if err != nil {
		return nil, err
	}
	if !ok {
		if t.Quirks.ReturnFalse && !t.Quirks.NoReturnValue {
			return pack(false)
		}
		return nil, Reverted("%s: transfer failed", t.Symbol)
	}
	if t.Quirks.NoReturnValue {
		return nil, nil
	}
	return pack(true)
}

func (t *Token) spend(ctx context.Context, env *Env, owner common.Address, spender common.Address, amount *big.Int) (bool, error) {
	current, err := t.allowance(ctx, env, owner, spender)
	if err != nil {
		return false, err
	}
	if current.Cmp(amount) < 0 {
		if t.Quirks.ReturnFalse {
			return false, nil
		}
		return false, Reverted("%s: insufficient allowance", t.Symbol)
	}
	next := new(big.Int).Sub(current, amount)
	return true, env.Store(ctx, allowanceKey(owner, spender), common.BigToHash(next))
}

func (t *Token) move(ctx context.Context, env *Env, from common.Address, to common.Address, amount *big.Int) (bool, error) {
	balance, err := t.balance(ctx, env, from)
	if err != nil {
		return false, err
	}
	if balance.Cmp(amount) < 0 {
		if t.Quirks.ReturnFalse {
			return false, nil
		}
		return false, Reverted("%s: insufficient balance", t.Symbol)
	}
	next := new(big.Int).Sub(balance, amount)
	if err := env.Store(ctx, balanceKey(from), common.BigToHash(next)); err != nil {
		return false, err
	}
	return true, t.credit(ctx, env, to, amount)
}

func (t *Token) credit(ctx context.Context, env *Env, to common.Address, amount *big.Int) error {
	balance, err := t.balance(ctx, env, to)
	if err != nil {
		return err
	}
	next := new(big.Int).Add(balance, amount)
	return env.Store(ctx, balanceKey(to), common.BigToHash(next))
}

func (t *Token) balance(ctx context.Context, env *Env, holder common.Address) (*big.Int, error) {
	value, err := env.Load(ctx, balanceKey(holder))
	if err != nil {
		return nil, err
	}
	return value.Big(), nil
}

func (t *Token) allowance(ctx context.Context, env *Env, owner common.Address, spender common.Address) (*big.Int, error) {
	value, err := env.Load(ctx, allowanceKey(owner, spender))
	if err != nil {
		return nil, err
	}
	return value.Big(), nil
}

// mappingSlot follows the Solidity layout keccak256(pad(key) ++ pad(slot)).
func mappingSlot(key []byte, slot common.Hash) common.Hash {
	return crypto.Keccak256Hash(common.LeftPadBytes(key, 32), slot.Bytes())
}

func balanceKey(holder common.Address) common.Hash {
	return mappingSlot(holder.Bytes(), common.BigToHash(big.NewInt(balancesSlot)))
}

func allowanceKey(owner common.Address, spender common.Address) common.Hash {
	inner := mappingSlot(owner.Bytes(), common.BigToHash(big.NewInt(allowancesSlot)))
	return mappingSlot(spender.Bytes(), inner)
}

// BalanceOf reads a committed token balance.
func BalanceOf(ctx context.Context, w *World, token common.Address, holder common.Address) (*big.Int, error) {
	data, err := protocol.PackBalanceOf(holder)
	if err != nil {
		return nil, err
	}
	ret, err := w.View(ctx, holder, token, data)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeUint256(ret)
}

// Allowance reads a committed token allowance.
func Allowance(ctx context.Context, w *World, token common.Address, owner common.Address, spender common.Address) (*big.Int, error) {
	data, err := protocol.PackAllowance(owner, spender)
	if err != nil {
		return nil, err
	}
	ret, err := w.View(ctx, owner, token, data)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeUint256(ret)
}

// Mint credits holder in its own unit of work.
func Mint(ctx context.Context, w *World, token common.Address, holder common.Address, amount *big.Int) error {
	data, err := protocol.PackMint(holder, amount)
	if err != nil {
		return err
	}
	_, err = w.Transact(ctx, holder, token, data)
	return err
}
