package protocol

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
)

func PackBalanceOf(owner common.Address) ([]byte, error) {
	return ERC20ABI.Pack("balanceOf", owner)
}

func PackAllowance(owner common.Address, spender common.Address) ([]byte, error) {
	return ERC20ABI.Pack("allowance", owner, spender)
}

func PackTransfer(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transfer", to, amount)
}

func PackTransferFrom(from common.Address, to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("transferFrom", from, to, amount)
}

func PackApprove(spender common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("approve", spender, amount)
}

func PackMint(to common.Address, amount *big.Int) ([]byte, error) {
	return ERC20ABI.Pack("mint", to, amount)
}

// DecodeUint256 decodes a single uint256 return value.
func DecodeUint256(ret []byte) (*big.Int, error) {
	if len(ret) == 0 {
		return nil, fmt.Errorf("protocol: empty uint256 return data")
	}
	value := new(big.Int)
	if err := ERC20ABI.UnpackIntoInterface(&value, "balanceOf", ret); err != nil {
		return nil, fmt.Errorf("protocol: unpack uint256: %w", err)
	}
	return value, nil
}

// DecodeAddress decodes a single address return value.
func DecodeAddress(ret []byte) (common.Address, error) {
	if len(ret) < 32 {
		return common.Address{}, fmt.Errorf("protocol: short address return data (%d bytes)", len(ret))
	}
	var addr common.Address
	if err := UniswapV2PairABI.UnpackIntoInterface(&addr, "token0", ret); err != nil {
		return common.Address{}, fmt.Errorf("protocol: unpack address: %w", err)
	}
	return addr, nil
}

// TokenCallSucceeded interprets the return data of a token call that did not
// revert. Tokens that return nothing count as success.
func TokenCallSucceeded(ret []byte) bool {
	if len(ret) == 0 {
		return true
	}
	var ok bool
	if err := ERC20ABI.UnpackIntoInterface(&ok, "transfer", ret); err != nil {
		return false
	}
	return ok
}
