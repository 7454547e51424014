package settlement

import (
	"context"
	"math/big"

	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/protocol"
)

// Repayer moves repayment funds out of the executing identity. Every token
// call is issued from frame.Self.
type Repayer struct{}

func NewRepayer() Repayer {
	return Repayer{}
}

// CheckBalance fails with InsufficientBalance when frame.Self holds less
// than owed of asset.
func (Repayer) CheckBalance(ctx context.Context, frame core.Frame, asset core.Address, owed *big.Int) error {
	held, err := balanceOf(ctx, frame, asset)
	if err != nil {
		return err
	}
	if held.Cmp(owed) < 0 {
		return core.ErrInsufficientBalance(asset, owed.String(), held.String())
	}
	return nil
}

// GrantAllowance sets spender's allowance to owed. When the direct set is
// rejected it resets the allowance to zero and sets it again.
func (r Repayer) GrantAllowance(ctx context.Context, frame core.Frame, asset core.Address, spender core.Address, owed *big.Int) error {
	if approve(ctx, frame, asset, spender, owed) {
		return nil
	}
	if !approve(ctx, frame, asset, spender, new(big.Int)) {
		return core.ErrRepaymentFailed(asset, "approve_reset")
	}
	if !approve(ctx, frame, asset, spender, owed) {
		return core.ErrRepaymentFailed(asset, "approve")
	}
	return nil
}

// PushTransfer sends owed of asset to the venue.
func (Repayer) PushTransfer(ctx context.Context, frame core.Frame, asset core.Address, venue core.Address, owed *big.Int) error {
	data, err := protocol.PackTransfer(venue, owed)
	if err != nil {
		return core.ErrInternal("pack transfer", err)
	}
	ret, err := frame.Executor.Call(ctx, frame.Self, asset, data)
	if err != nil || !protocol.TokenCallSucceeded(ret) {
		return core.ErrRepaymentFailed(asset, "transfer")
	}
	return nil
}

// Receive pulls amount of asset from a vault that lends by explicit send.
// Vault failures pass through unchanged.
func (Repayer) Receive(ctx context.Context, frame core.Frame, vault core.Address, asset core.Address, amount *big.Int) error {
	data, err := protocol.PackBalancerV3SendTo(asset, frame.Self, amount)
	if err != nil {
		return core.ErrInternal("pack sendTo", err)
	}
	_, err = frame.Executor.Call(ctx, frame.Self, vault, data)
	return err
}

// Settle tells the vault that owed of asset was pushed back. Vault failures
// pass through unchanged.
func (Repayer) Settle(ctx context.Context, frame core.Frame, vault core.Address, asset core.Address, owed *big.Int) error {
	data, err := protocol.PackBalancerV3Settle(asset, owed)
	if err != nil {
		return core.ErrInternal("pack settle", err)
	}
	_, err = frame.Executor.Call(ctx, frame.Self, vault, data)
	return err
}

// Repay checks the balance and settles terms with venue in the style the
// descriptor names.
func (r Repayer) Repay(ctx context.Context, frame core.Frame, desc protocol.Descriptor, venue core.Address, terms protocol.Terms) error {
	if err := r.CheckBalance(ctx, frame, terms.Asset, terms.Owed); err != nil {
		return err
	}
	switch desc.Settlement {
	case core.SettlementGrantAllowance:
		return r.GrantAllowance(ctx, frame, terms.Asset, venue, terms.Owed)
	case core.SettlementPushTransfer:
		if err := r.PushTransfer(ctx, frame, terms.Asset, venue, terms.Owed); err != nil {
			return err
		}
		if desc.Handshake {
			return r.Settle(ctx, frame, venue, terms.Asset, terms.Owed)
		}
		return nil
	default:
		return core.ErrInternal("unknown settlement style "+string(desc.Settlement), nil)
	}
}

func balanceOf(ctx context.Context, frame core.Frame, asset core.Address) (*big.Int, error) {
	data, err := protocol.PackBalanceOf(frame.Self)
	if err != nil {
		return nil, core.ErrInternal("pack balanceOf", err)
	}
	ret, err := frame.Executor.StaticCall(ctx, frame.Self, asset, data)
	if err != nil {
		return nil, core.ErrRepaymentFailed(asset, "balance_of")
	}
	held, err := protocol.DecodeUint256(ret)
	if err != nil {
		return nil, core.ErrRepaymentFailed(asset, "balance_of")
	}
	return held, nil
}

func approve(ctx context.Context, frame core.Frame, asset core.Address, spender core.Address, amount *big.Int) bool {
	data, err := protocol.PackApprove(spender, amount)
	if err != nil {
		return false
	}
	ret, err := frame.Executor.Call(ctx, frame.Self, asset, data)
	return err == nil && protocol.TokenCallSucceeded(ret)
}
