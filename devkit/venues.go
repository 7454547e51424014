package devkit

import (
	"bytes"
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"github.com/goliatone/go-flashroute/chain"
	"github.com/goliatone/go-flashroute/protocol"
)

// AavePool lends through flashLoan and flashLoanSimple and pulls repayment
// through the receiver's allowance.
type AavePool struct {
	PremiumBps uint64
	// ForgeInitiator, when set, replaces the initiator reported to the
	// receiver.
	ForgeInitiator common.Address
}

func (p *AavePool) Call(ctx context.Context, env *chain.Env, msg chain.Message) ([]byte, error) {
	method, args, err := decodeCall(protocol.AaveV3PoolABI, msg)
	if err != nil {
		return nil, err
	}
	initiator := msg.From
	if p.ForgeInitiator != (common.Address{}) {
		initiator = p.ForgeInitiator
	}

	switch method.Name {
	case "flashLoan":
		receiver := args[0].(common.Address)
		assets := args[1].([]common.Address)
		amounts := args[2].([]*big.Int)
		params := args[5].([]byte)
		if len(assets) != len(amounts) {
			return nil, chain.Reverted("inconsistent flashloan params")
		}
		premiums := make([]*big.Int, len(amounts))
		for idx := range assets {
			premiums[idx] = feeBps(amounts[idx], p.PremiumBps)
			if err := transfer(ctx, env, assets[idx], receiver, amounts[idx]); err != nil {
				return nil, err
			}
		}
		data, err := protocol.AaveV3ReceiverABI.Pack("executeOperation", assets, amounts, premiums, initiator, params)
		if err != nil {
			return nil, err
		}
		if err := p.execute(ctx, env, receiver, data); err != nil {
			return nil, err
		}
		for idx := range assets {
			owed := new(big.Int).Add(amounts[idx], premiums[idx])
			if err := transferFrom(ctx, env, assets[idx], receiver, env.Self(), owed); err != nil {
				return nil, err
			}
		}
		return nil, nil
	case "flashLoanSimple":
		receiver := args[0].(common.Address)
		asset := args[1].(common.Address)
		amount := args[2].(*big.Int)
		params := args[3].([]byte)
		premium := feeBps(amount, p.PremiumBps)
		if err := transfer(ctx, env, asset, receiver, amount); err != nil {
			return nil, err
		}
		data, err := protocol.AaveV3SimpleReceiverABI.Pack("executeOperation", asset, amount, premium, initiator, params)
		if err != nil {
			return nil, err
		}
		if err := p.execute(ctx, env, receiver, data); err != nil {
			return nil, err
		}
		return nil, transferFrom(ctx, env, asset, receiver, env.Self(), new(big.Int).Add(amount, premium))
	}
	return nil, chain.Reverted("unsupported function %s", method.Name)
}

func (p *AavePool) execute(ctx context.Context, env *chain.Env, receiver common.Address, data []byte) error {
	ret, err := env.Call(ctx, env.Self(), receiver, data)
	if err != nil {
		return err
	}
	var ok bool
	if err := protocol.AaveV3ReceiverABI.UnpackIntoInterface(&ok, "executeOperation", ret); err != nil || !ok {
		return chain.Reverted("invalid flashloan executor return")
	}
	return nil
}

// BalancerV2Vault pushes funds to the recipient and checks that its balance
// grew by at least the fee once the recipient returns.
type BalancerV2Vault struct {
	FeeBps uint64
}

func (v *BalancerV2Vault) Call(ctx context.Context, env *chain.Env, msg chain.Message) ([]byte, error) {
	method, args, err := decodeCall(protocol.BalancerV2VaultABI, msg)
	if err != nil {
		return nil, err
	}
	if method.Name != "flashLoan" {
		return nil, chain.Reverted("unsupported function %s", method.Name)
	}
	recipient := args[0].(common.Address)
	tokens := args[1].([]common.Address)
	amounts := args[2].([]*big.Int)
	userData := args[3].([]byte)
	if len(tokens) != len(amounts) {
		return nil, chain.Reverted("BAL#103")
	}

	before := make([]*big.Int, len(tokens))
	fees := make([]*big.Int, len(tokens))
	for idx, token := range tokens {
		held, err := balanceOf(ctx, env, token, env.Self())
		if err != nil {
			return nil, err
		}
		if held.Cmp(amounts[idx]) < 0 {
			return nil, chain.Reverted("BAL#528")
		}
		before[idx] = held
		fees[idx] = feeBps(amounts[idx], v.FeeBps)
		if err := transfer(ctx, env, token, recipient, amounts[idx]); err != nil {
			return nil, err
		}
	}
	data, err := protocol.BalancerV2RecipientABI.Pack("receiveFlashLoan", tokens, amounts, fees, userData)
	if err != nil {
		return nil, err
	}
	if _, err := env.Call(ctx, env.Self(), recipient, data); err != nil {
		return nil, err
	}
	for idx, token := range tokens {
		after, err := balanceOf(ctx, env, token, env.Self())
		if err != nil {
			return nil, err
		}
		if after.Cmp(new(big.Int).Add(before[idx], fees[idx])) < 0 {
			return nil, chain.Reverted("BAL#602")
		}
	}
	return nil, nil
}

var (
	v3Unlocked   = crypto.Keccak256Hash([]byte("devkit.balancer_v3.unlocked"))
	v3TokenCount = crypto.Keccak256Hash([]byte("devkit.balancer_v3.token_count"))
	v3DebtTag    = []byte("devkit.balancer_v3.debt")
	v3ReserveTag = []byte("devkit.balancer_v3.reserve")
	v3SeenTag    = []byte("devkit.balancer_v3.reserve_seen")
	flagOn       = common.BigToHash(big.NewInt(1))
)

// BalancerV3Vault lends inside unlock. Funds leave only through sendTo and
// come back through a transfer followed by settle; unlock fails while any
// debt is open.
type BalancerV3Vault struct{}

func (v *BalancerV3Vault) Call(ctx context.Context, env *chain.Env, msg chain.Message) ([]byte, error) {
	method, args, err := decodeCall(protocol.BalancerV3VaultABI, msg)
	if err != nil {
		return nil, err
	}
	self := env.Self()
	switch method.Name {
	case "unlock":
		if env.TransientLoad(self, v3Unlocked) == flagOn {
			return nil, chain.Reverted("VaultIsUnlocked")
		}
		env.TransientStore(self, v3Unlocked, flagOn)
		ret, err := env.Call(ctx, self, msg.From, args[0].([]byte))
		if err != nil {
			return nil, err
		}
		for _, debt := range v.openDebts(env) {
			if debt.Sign() != 0 {
				return nil, chain.Reverted("BalanceNotSettled")
			}
		}
		env.TransientStore(self, v3Unlocked, common.Hash{})
		return method.Outputs.Pack(ret)
	case "sendTo":
		if env.TransientLoad(self, v3Unlocked) != flagOn {
			return nil, chain.Reverted("VaultIsNotUnlocked")
		}
		token, to, amount := args[0].(common.Address), args[1].(common.Address), args[2].(*big.Int)
		if err := v.ensureReserve(ctx, env, token); err != nil {
			return nil, err
		}
		if err := transfer(ctx, env, token, to, amount); err != nil {
			return nil, err
		}
		reserve := env.TransientLoad(self, tagged(v3ReserveTag, token)).Big()
		env.TransientStore(self, tagged(v3ReserveTag, token), common.BigToHash(reserve.Sub(reserve, amount)))
		debt := env.TransientLoad(self, tagged(v3DebtTag, token)).Big()
		env.TransientStore(self, tagged(v3DebtTag, token), common.BigToHash(debt.Add(debt, amount)))
		v.track(env, token)
		return nil, nil
	case "settle":
		if env.TransientLoad(self, v3Unlocked) != flagOn {
			return nil, chain.Reverted("VaultIsNotUnlocked")
		}
		token := args[0].(common.Address)
		if err := v.ensureReserve(ctx, env, token); err != nil {
			return nil, err
		}
		held, err := balanceOf(ctx, env, token, self)
		if err != nil {
			return nil, err
		}
		reserve := env.TransientLoad(self, tagged(v3ReserveTag, token)).Big()
		credit := new(big.Int).Sub(held, reserve)
		if credit.Sign() < 0 {
			credit.SetInt64(0)
		}
		env.TransientStore(self, tagged(v3ReserveTag, token), common.BigToHash(held))
		debt := env.TransientLoad(self, tagged(v3DebtTag, token)).Big()
		debt.Sub(debt, credit)
		if debt.Sign() < 0 {
			debt.SetInt64(0)
		}
		env.TransientStore(self, tagged(v3DebtTag, token), common.BigToHash(debt))
		return method.Outputs.Pack(credit)
	}
	return nil, chain.Reverted("unsupported function %s", method.Name)
}

func (v *BalancerV3Vault) ensureReserve(ctx context.Context, env *chain.Env, token common.Address) error {
	if env.TransientLoad(env.Self(), tagged(v3SeenTag, token)) == flagOn {
		return nil
	}
	held, err := balanceOf(ctx, env, token, env.Self())
	if err != nil {
		return err
	}
	env.TransientStore(env.Self(), tagged(v3ReserveTag, token), common.BigToHash(held))
	env.TransientStore(env.Self(), tagged(v3SeenTag, token), flagOn)
	return nil
}

func (v *BalancerV3Vault) track(env *chain.Env, token common.Address) {
	count := env.TransientLoad(env.Self(), v3TokenCount).Big().Uint64()
	for idx := uint64(0); idx < count; idx++ {
		if common.BytesToAddress(env.TransientLoad(env.Self(), indexed(idx)).Bytes()) == token {
			return
		}
	}
	env.TransientStore(env.Self(), indexed(count), common.BytesToHash(token.Bytes()))
	env.TransientStore(env.Self(), v3TokenCount, common.BigToHash(new(big.Int).SetUint64(count+1)))
}

func (v *BalancerV3Vault) openDebts(env *chain.Env) []*big.Int {
	count := env.TransientLoad(env.Self(), v3TokenCount).Big().Uint64()
	out := make([]*big.Int, 0, count)
	for idx := uint64(0); idx < count; idx++ {
		token := common.BytesToAddress(env.TransientLoad(env.Self(), indexed(idx)).Bytes())
		out = append(out, env.TransientLoad(env.Self(), tagged(v3DebtTag, token)).Big())
	}
	return out
}

func tagged(tag []byte, token common.Address) common.Hash {
	return crypto.Keccak256Hash(tag, token.Bytes())
}

func indexed(idx uint64) common.Hash {
	return crypto.Keccak256Hash([]byte("devkit.balancer_v3.token"), new(big.Int).SetUint64(idx).Bytes())
}

var (
	pairReserve0 = common.BigToHash(big.NewInt(8))
	pairReserve1 = common.BigToHash(big.NewInt(9))
)

// UniswapPair is a constant-product pair with optimistic transfers and the
// 0.3% fee-adjusted invariant check.
type UniswapPair struct {
	Token0 common.Address
	Token1 common.Address
}

func (p *UniswapPair) Call(ctx context.Context, env *chain.Env, msg chain.Message) ([]byte, error) {
	method, args, err := decodeCall(protocol.UniswapV2PairABI, msg)
	if err != nil {
		return nil, err
	}
	switch method.Name {
	case "token0":
		return method.Outputs.Pack(p.Token0)
	case "token1":
		return method.Outputs.Pack(p.Token1)
	case "getReserves":
		r0, r1, err := p.reserves(ctx, env)
		if err != nil {
			return nil, err
		}
		return method.Outputs.Pack(r0, r1, uint32(0))
	case "sync":
		b0, b1, err := p.balances(ctx, env)
		if err != nil {
			return nil, err
		}
		return nil, p.update(ctx, env, b0, b1)
	case "swap":
		return nil, p.swap(ctx, env, msg, args[0].(*big.Int), args[1].(*big.Int), args[2].(common.Address), args[3].([]byte))
	}
	return nil, chain.Reverted("unsupported function %s", method.Name)
}

func (p *UniswapPair) swap(ctx context.Context, env *chain.Env, msg chain.Message, out0, out1 *big.Int, to common.Address, data []byte) error {
	if out0.Sign() == 0 && out1.Sign() == 0 {
		return chain.Reverted("UniswapV2: INSUFFICIENT_OUTPUT_AMOUNT")
	}
	r0, r1, err := p.reserves(ctx, env)
	if err != nil {
		return err
	}
	if out0.Cmp(r0) >= 0 || out1.Cmp(r1) >= 0 {
		return chain.Reverted("UniswapV2: INSUFFICIENT_LIQUIDITY")
	}
	if out0.Sign() > 0 {
		if err := transfer(ctx, env, p.Token0, to, out0); err != nil {
			return err
		}
	}
	if out1.Sign() > 0 {
		if err := transfer(ctx, env, p.Token1, to, out1); err != nil {
			return err
		}
	}
	if len(data) > 0 {
		callback, err := protocol.UniswapV2CalleeABI.Pack("uniswapV2Call", msg.From, out0, out1, data)
		if err != nil {
			return err
		}
		if _, err := env.Call(ctx, env.Self(), to, callback); err != nil {
			return err
		}
	}
	b0, b1, err := p.balances(ctx, env)
	if err != nil {
		return err
	}
	in0 := amountIn(b0, r0, out0)
	in1 := amountIn(b1, r1, out1)
	if in0.Sign() == 0 && in1.Sign() == 0 {
		return chain.Reverted("UniswapV2: INSUFFICIENT_INPUT_AMOUNT")
	}
	thousand := big.NewInt(1000)
	three := big.NewInt(3)
	adj0 := new(big.Int).Sub(new(big.Int).Mul(b0, thousand), new(big.Int).Mul(in0, three))
	adj1 := new(big.Int).Sub(new(big.Int).Mul(b1, thousand), new(big.Int).Mul(in1, three))
	k := new(big.Int).Mul(new(big.Int).Mul(r0, r1), big.NewInt(1_000_000))
	if new(big.Int).Mul(adj0, adj1).Cmp(k) < 0 {
		return chain.Reverted("UniswapV2: K")
	}
	return p.update(ctx, env, b0, b1)
}

func amountIn(balance, reserve, out *big.Int) *big.Int {
	floor := new(big.Int).Sub(reserve, out)
	if balance.Cmp(floor) > 0 {
		return new(big.Int).Sub(balance, floor)
	}
	return new(big.Int)
}

func (p *UniswapPair) reserves(ctx context.Context, env *chain.Env) (*big.Int, *big.Int, error) {
	r0, err := env.Load(ctx, pairReserve0)
	if err != nil {
		return nil, nil, err
	}
	r1, err := env.Load(ctx, pairReserve1)
	if err != nil {
		return nil, nil, err
	}
	return r0.Big(), r1.Big(), nil
}

func (p *UniswapPair) balances(ctx context.Context, env *chain.Env) (*big.Int, *big.Int, error) {
	b0, err := balanceOf(ctx, env, p.Token0, env.Self())
	if err != nil {
		return nil, nil, err
	}
	b1, err := balanceOf(ctx, env, p.Token1, env.Self())
	if err != nil {
		return nil, nil, err
	}
	return b0, b1, nil
}

func (p *UniswapPair) update(ctx context.Context, env *chain.Env, b0, b1 *big.Int) error {
	if err := env.Store(ctx, pairReserve0, common.BigToHash(b0)); err != nil {
		return err
	}
	return env.Store(ctx, pairReserve1, common.BigToHash(b1))
}

// ERC3156Lender lends under the ERC-3156 interface and requires the magic
// acknowledgement before pulling repayment.
type ERC3156Lender struct {
	FeeBps uint64
}

func (l *ERC3156Lender) Call(ctx context.Context, env *chain.Env, msg chain.Message) ([]byte, error) {
	method, args, err := decodeCall(protocol.ERC3156LenderABI, msg)
	if err != nil {
		return nil, err
	}
	if method.Name != "flashLoan" {
		return nil, chain.Reverted("unsupported function %s", method.Name)
	}
	receiver, token := args[0].(common.Address), args[1].(common.Address)
	amount, data := args[2].(*big.Int), args[3].([]byte)
	fee := feeBps(amount, l.FeeBps)
	if err := transfer(ctx, env, token, receiver, amount); err != nil {
		return nil, err
	}
	callback, err := protocol.ERC3156BorrowerABI.Pack("onFlashLoan", msg.From, token, amount, fee, data)
	if err != nil {
		return nil, err
	}
	ret, err := env.Call(ctx, env.Self(), receiver, callback)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(ret, protocol.ERC3156CallbackSuccess.Bytes()) {
		return nil, chain.Reverted("ERC3156: callback failed")
	}
	if err := transferFrom(ctx, env, token, receiver, env.Self(), new(big.Int).Add(amount, fee)); err != nil {
		return nil, err
	}
	return method.Outputs.Pack(true)
}

// Morpho lends for free and pulls the principal back through allowance.
type Morpho struct {
	// CallbackTwice replays the callback before pulling repayment.
	CallbackTwice bool
}

func (m *Morpho) Call(ctx context.Context, env *chain.Env, msg chain.Message) ([]byte, error) {
	method, args, err := decodeCall(protocol.MorphoABI, msg)
	if err != nil {
		return nil, err
	}
	if method.Name != "flashLoan" {
		return nil, chain.Reverted("unsupported function %s", method.Name)
	}
	token, assets, data := args[0].(common.Address), args[1].(*big.Int), args[2].([]byte)
	if assets.Sign() == 0 {
		return nil, chain.Reverted("zero assets")
	}
	if err := transfer(ctx, env, token, msg.From, assets); err != nil {
		return nil, err
	}
	callback, err := protocol.MorphoCallbackABI.Pack("onMorphoFlashLoan", assets, data)
	if err != nil {
		return nil, err
	}
	rounds := 1
	if m.CallbackTwice {
		rounds = 2
	}
	for idx := 0; idx < rounds; idx++ {
		if _, err := env.Call(ctx, env.Self(), msg.From, callback); err != nil {
			return nil, err
		}
	}
	return nil, transferFrom(ctx, env, token, msg.From, env.Self(), assets)
}

// Relay forwards its calldata to Target, so the target sees the relay as
// the caller.
type Relay struct {
	Target common.Address
}

func (r *Relay) Call(ctx context.Context, env *chain.Env, msg chain.Message) ([]byte, error) {
	return env.Call(ctx, env.Self(), r.Target, msg.Data)
}
