package devkit

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/goliatone/go-flashroute/chain"
	"github.com/goliatone/go-flashroute/protocol"
)

// Address derives a stable fixture address from name.
func Address(name string) common.Address {
	return common.BytesToAddress(crypto.Keccak256([]byte("flashroute.devkit." + name))[12:])
}

func transfer(ctx context.Context, env *chain.Env, token common.Address, to common.Address, amount *big.Int) error {
	data, err := protocol.PackTransfer(to, amount)
	if err != nil {
		return err
	}
	ret, err := env.Call(ctx, env.Self(), token, data)
	if err != nil {
		return err
	}
	if !protocol.TokenCallSucceeded(ret) {
		return chain.Reverted("transfer failed")
	}
	return nil
}

func transferFrom(ctx context.Context, env *chain.Env, token common.Address, from common.Address, to common.Address, amount *big.Int) error {
	data, err := protocol.PackTransferFrom(from, to, amount)
	if err != nil {
		return err
	}
	ret, err := env.Call(ctx, env.Self(), token, data)
	if err != nil {
		return err
	}
	if !protocol.TokenCallSucceeded(ret) {
		return chain.Reverted("transferFrom failed")
	}
	return nil
}

func balanceOf(ctx context.Context, env *chain.Env, token common.Address, holder common.Address) (*big.Int, error) {
	data, err := protocol.PackBalanceOf(holder)
	if err != nil {
		return nil, err
	}
	ret, err := env.StaticCall(ctx, env.Self(), token, data)
	if err != nil {
		return nil, err
	}
	return protocol.DecodeUint256(ret)
}

func mint(ctx context.Context, env *chain.Env, token common.Address, to common.Address, amount *big.Int) error {
	data, err := protocol.PackMint(to, amount)
	if err != nil {
		return err
	}
	_, err = env.Call(ctx, env.Self(), token, data)
	return err
}

// decodeCall resolves msg against contract and unpacks its arguments.
func decodeCall(contract abi.ABI, msg chain.Message) (*abi.Method, []any, error) {
	method, err := contract.MethodById(msg.Data)
	if err != nil {
		return nil, nil, chain.Reverted("unknown function")
	}
	args, err := method.Inputs.Unpack(msg.Data[4:])
	if err != nil {
		return nil, nil, chain.Reverted("malformed %s arguments", method.Name)
	}
	return method, args, nil
}

func feeBps(amount *big.Int, bps uint64) *big.Int {
	fee := new(big.Int).Mul(amount, new(big.Int).SetUint64(bps))
	return fee.Quo(fee, big.NewInt(10_000))
}
