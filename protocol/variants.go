package protocol

import (
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/goliatone/go-flashroute/core"
)

const referralCode uint16 = 0

var interestRateModeNone = big.NewInt(0)

type aaveV3 struct{}

func (aaveV3) sealed() {}

func (aaveV3) Descriptor() Descriptor {
	return Descriptor{
		ID:               core.ProtocolAaveV3,
		Name:             core.ProtocolAaveV3.String(),
		Venue:            AaveV3PoolABI,
		OutboundMethod:   "flashLoan",
		Receiver:         AaveV3ReceiverABI,
		CallbackMethod:   "executeOperation",
		Settlement:       core.SettlementGrantAllowance,
		Arrayed:          true,
		CarriesInitiator: true,
		Ack:              AckTrue,
		FeeModel:         "amounts[0] + premiums[0]",
	}
}

func (aaveV3) EncodeOutbound(self core.Address, req core.BorrowRequest, _ Slot) ([]byte, error) {
	return AaveV3PoolABI.Pack("flashLoan",
		self,
		[]common.Address{req.Asset},
		[]*big.Int{req.Amount},
		[]*big.Int{interestRateModeNone},
		self,
		req.Payload,
		referralCode,
	)
}

func (v aaveV3) DecodeCallback(calldata []byte) (Callback, error) {
	args, err := UnpackInputs(AaveV3ReceiverABI, "executeOperation", calldata)
	if err != nil {
		return Callback{}, err
	}
	var cb Callback
	var initiator common.Address
	decode := argDecoder{args: args}
	cb.Assets = decode.addresses(0)
	cb.Amounts = decode.bigs(1)
	cb.Fees = decode.bigs(2)
	initiator = decode.address(3)
	cb.Payload = decode.bytes(4)
	if decode.err != nil {
		return Callback{}, decode.err
	}
	cb.Protocol = core.ProtocolAaveV3
	cb.Initiator = &initiator
	return cb, nil
}

func (aaveV3) Terms(cb Callback, _ core.RequestContext) (Terms, error) {
	return echoedTerms(cb)
}

func (aaveV3) Ack() ([]byte, error) {
	return PackOutputs(AaveV3ReceiverABI, "executeOperation", true)
}

type aaveV3Simple struct{}

func (aaveV3Simple) sealed() {}

func (aaveV3Simple) Descriptor() Descriptor {
	return Descriptor{
		ID:               core.ProtocolAaveV3Simple,
		Name:             core.ProtocolAaveV3Simple.String(),
		Venue:            AaveV3PoolABI,
		OutboundMethod:   "flashLoanSimple",
		Receiver:         AaveV3SimpleReceiverABI,
		CallbackMethod:   "executeOperation",
		Settlement:       core.SettlementGrantAllowance,
		CarriesInitiator: true,
		Ack:              AckTrue,
		FeeModel:         "amount + premium",
	}
}

func (aaveV3Simple) EncodeOutbound(self core.Address, req core.BorrowRequest, _ Slot) ([]byte, error) {
	return AaveV3PoolABI.Pack("flashLoanSimple", self, req.Asset, req.Amount, req.Payload, referralCode)
}

func (aaveV3Simple) DecodeCallback(calldata []byte) (Callback, error) {
	args, err := UnpackInputs(AaveV3SimpleReceiverABI, "executeOperation", calldata)
	if err != nil {
		return Callback{}, err
	}
	decode := argDecoder{args: args}
	asset := decode.address(0)
	amount := decode.big(1)
	premium := decode.big(2)
	initiator := decode.address(3)
	payload := decode.bytes(4)
	if decode.err != nil {
		return Callback{}, decode.err
	}
	return Callback{
		Protocol:  core.ProtocolAaveV3Simple,
		Assets:    []core.Address{asset},
		Amounts:   []*big.Int{amount},
		Fees:      []*big.Int{premium},
		Initiator: &initiator,
		Payload:   payload,
	}, nil
}

func (aaveV3Simple) Terms(cb Callback, _ core.RequestContext) (Terms, error) {
	return echoedTerms(cb)
}

func (aaveV3Simple) Ack() ([]byte, error) {
	return PackOutputs(AaveV3SimpleReceiverABI, "executeOperation", true)
}

type balancerV2 struct{}

func (balancerV2) sealed() {}

func (balancerV2) Descriptor() Descriptor {
	return Descriptor{
		ID:             core.ProtocolBalancerV2,
		Name:           core.ProtocolBalancerV2.String(),
		Venue:          BalancerV2VaultABI,
		OutboundMethod: "flashLoan",
		Receiver:       BalancerV2RecipientABI,
		CallbackMethod: "receiveFlashLoan",
		Settlement:     core.SettlementPushTransfer,
		Arrayed:        true,
		Ack:            AckNone,
		FeeModel:       "amounts[0] + feeAmounts[0]",
	}
}

func (balancerV2) EncodeOutbound(self core.Address, req core.BorrowRequest, _ Slot) ([]byte, error) {
	return BalancerV2VaultABI.Pack("flashLoan",
		self,
		[]common.Address{req.Asset},
		[]*big.Int{req.Amount},
		req.Payload,
	)
}

func (balancerV2) DecodeCallback(calldata []byte) (Callback, error) {
	args, err := UnpackInputs(BalancerV2RecipientABI, "receiveFlashLoan", calldata)
	if err != nil {
		return Callback{}, err
	}
	decode := argDecoder{args: args}
	cb := Callback{
		Protocol: core.ProtocolBalancerV2,
		Assets:   decode.addresses(0),
		Amounts:  decode.bigs(1),
		Fees:     decode.bigs(2),
		Payload:  decode.bytes(3),
	}
	if decode.err != nil {
		return Callback{}, decode.err
	}
	return cb, nil
}

func (balancerV2) Terms(cb Callback, _ core.RequestContext) (Terms, error) {
	return echoedTerms(cb)
}

func (balancerV2) Ack() ([]byte, error) {
	return nil, nil
}

type balancerV3 struct{}

func (balancerV3) sealed() {}

func (balancerV3) Descriptor() Descriptor {
	return Descriptor{
		ID:             core.ProtocolBalancerV3,
		Name:           core.ProtocolBalancerV3.String(),
		Venue:          BalancerV3VaultABI,
		OutboundMethod: "unlock",
		Receiver:       BalancerV3ReceiverABI,
		CallbackMethod: "receiveBalancerV3FlashLoan",
		Settlement:     core.SettlementPushTransfer,
		Handshake:      true,
		Ack:            AckNone,
		FeeModel:       "amount",
	}
}

// EncodeOutbound wraps the engine's own callback in unlock, which the vault
// replays against the caller.
func (balancerV3) EncodeOutbound(_ core.Address, req core.BorrowRequest, _ Slot) ([]byte, error) {
	inner, err := BalancerV3ReceiverABI.Pack("receiveBalancerV3FlashLoan", req.Asset, req.Amount, req.Payload)
	if err != nil {
		return nil, err
	}
	return BalancerV3VaultABI.Pack("unlock", inner)
}

func (balancerV3) DecodeCallback(calldata []byte) (Callback, error) {
	args, err := UnpackInputs(BalancerV3ReceiverABI, "receiveBalancerV3FlashLoan", calldata)
	if err != nil {
		return Callback{}, err
	}
	decode := argDecoder{args: args}
	asset := decode.address(0)
	amount := decode.big(1)
	payload := decode.bytes(2)
	if decode.err != nil {
		return Callback{}, decode.err
	}
	return Callback{
		Protocol: core.ProtocolBalancerV3,
		Assets:   []core.Address{asset},
		Amounts:  []*big.Int{amount},
		Payload:  payload,
	}, nil
}

func (balancerV3) Terms(cb Callback, _ core.RequestContext) (Terms, error) {
	return echoedTerms(cb)
}

func (balancerV3) Ack() ([]byte, error) {
	return nil, nil
}

func PackBalancerV3SendTo(token core.Address, to core.Address, amount *big.Int) ([]byte, error) {
	return BalancerV3VaultABI.Pack("sendTo", token, to, amount)
}

func PackBalancerV3Settle(token core.Address, amountHint *big.Int) ([]byte, error) {
	return BalancerV3VaultABI.Pack("settle", token, amountHint)
}

type uniswapV2 struct{}

func (uniswapV2) sealed() {}

func (uniswapV2) Descriptor() Descriptor {
	return Descriptor{
		ID:                core.ProtocolUniswapV2,
		Name:              core.ProtocolUniswapV2.String(),
		Venue:             UniswapV2PairABI,
		OutboundMethod:    "swap",
		Receiver:          UniswapV2CalleeABI,
		CallbackMethod:    "uniswapV2Call",
		Settlement:        core.SettlementPushTransfer,
		Introspect:        true,
		StoresAssetAmount: true,
		Ack:               AckNone,
		FeeModel:          "amount + amount*3/997 + 1",
	}
}

func (uniswapV2) EncodeOutbound(self core.Address, req core.BorrowRequest, slot Slot) ([]byte, error) {
	amount0Out, amount1Out := new(big.Int), new(big.Int)
	switch slot {
	case SlotToken0:
		amount0Out.Set(req.Amount)
	case SlotToken1:
		amount1Out.Set(req.Amount)
	default:
		return nil, fmt.Errorf("protocol: uniswap_v2 requires a resolved output slot")
	}
	return UniswapV2PairABI.Pack("swap", amount0Out, amount1Out, self, req.Payload)
}

// ResolveSlot queries token0 and token1, always both, and selects the output
// slot matching asset.
func (uniswapV2) ResolveSlot(ctx context.Context, exec core.Executor, self core.Address, venue core.Address, asset core.Address) (Slot, error) {
	token0, err := queryAddress(ctx, exec, self, venue, "token0")
	if err != nil {
		return SlotNone, err
	}
	token1, err := queryAddress(ctx, exec, self, venue, "token1")
	if err != nil {
		return SlotNone, err
	}
	switch asset {
	case token0:
		return SlotToken0, nil
	case token1:
		return SlotToken1, nil
	default:
		return SlotNone, core.ErrInvalidAsset(asset)
	}
}

func queryAddress(ctx context.Context, exec core.Executor, self core.Address, venue core.Address, method string) (core.Address, error) {
	data, err := UniswapV2PairABI.Pack(method)
	if err != nil {
		return core.Address{}, err
	}
	ret, err := exec.StaticCall(ctx, self, venue, data)
	if err != nil {
		return core.Address{}, err
	}
	return DecodeAddress(ret)
}

func (uniswapV2) DecodeCallback(calldata []byte) (Callback, error) {
	args, err := UnpackInputs(UniswapV2CalleeABI, "uniswapV2Call", calldata)
	if err != nil {
		return Callback{}, err
	}
	decode := argDecoder{args: args}
	decode.address(0)
	amount0 := decode.big(1)
	amount1 := decode.big(2)
	payload := decode.bytes(3)
	if decode.err != nil {
		return Callback{}, decode.err
	}
	return Callback{
		Protocol: core.ProtocolUniswapV2,
		Amounts:  []*big.Int{new(big.Int).Add(amount0, amount1)},
		Payload:  payload,
	}, nil
}

// Terms reads asset and principal from the request context, since the pair
// reports only positional amounts.
func (uniswapV2) Terms(_ Callback, rc core.RequestContext) (Terms, error) {
	if core.IsZeroAddress(rc.Asset) || rc.Amount == nil {
		return Terms{}, core.ErrInternal("uniswap_v2 request context is incomplete", nil)
	}
	fee := UniswapV2Fee(rc.Amount)
	return Terms{
		Asset:     rc.Asset,
		Principal: core.CloneAmount(rc.Amount),
		Fee:       fee,
		Owed:      owed(rc.Amount, fee),
	}, nil
}

func (uniswapV2) Ack() ([]byte, error) {
	return nil, nil
}

type erc3156 struct{}

func (erc3156) sealed() {}

func (erc3156) Descriptor() Descriptor {
	return Descriptor{
		ID:               core.ProtocolERC3156,
		Name:             core.ProtocolERC3156.String(),
		Venue:            ERC3156LenderABI,
		OutboundMethod:   "flashLoan",
		Receiver:         ERC3156BorrowerABI,
		CallbackMethod:   "onFlashLoan",
		Settlement:       core.SettlementGrantAllowance,
		CarriesInitiator: true,
		Ack:              AckMagic,
		FeeModel:         "amount + fee",
	}
}

func (erc3156) EncodeOutbound(self core.Address, req core.BorrowRequest, _ Slot) ([]byte, error) {
	return ERC3156LenderABI.Pack("flashLoan", self, req.Asset, req.Amount, req.Payload)
}

func (erc3156) DecodeCallback(calldata []byte) (Callback, error) {
	args, err := UnpackInputs(ERC3156BorrowerABI, "onFlashLoan", calldata)
	if err != nil {
		return Callback{}, err
	}
	decode := argDecoder{args: args}
	initiator := decode.address(0)
	asset := decode.address(1)
	amount := decode.big(2)
	fee := decode.big(3)
	payload := decode.bytes(4)
	if decode.err != nil {
		return Callback{}, decode.err
	}
	return Callback{
		Protocol:  core.ProtocolERC3156,
		Assets:    []core.Address{asset},
		Amounts:   []*big.Int{amount},
		Fees:      []*big.Int{fee},
		Initiator: &initiator,
		Payload:   payload,
	}, nil
}

func (erc3156) Terms(cb Callback, _ core.RequestContext) (Terms, error) {
	return echoedTerms(cb)
}

func (erc3156) Ack() ([]byte, error) {
	return PackOutputs(ERC3156BorrowerABI, "onFlashLoan", [32]byte(ERC3156CallbackSuccess))
}

type morpho struct{}

func (morpho) sealed() {}

func (morpho) Descriptor() Descriptor {
	return Descriptor{
		ID:                core.ProtocolMorpho,
		Name:              core.ProtocolMorpho.String(),
		Venue:             MorphoABI,
		OutboundMethod:    "flashLoan",
		Receiver:          MorphoCallbackABI,
		CallbackMethod:    "onMorphoFlashLoan",
		Settlement:        core.SettlementGrantAllowance,
		StoresAssetAmount: true,
		Ack:               AckNone,
		FeeModel:          "assets",
	}
}

func (morpho) EncodeOutbound(_ core.Address, req core.BorrowRequest, _ Slot) ([]byte, error) {
	return MorphoABI.Pack("flashLoan", req.Asset, req.Amount, req.Payload)
}

func (morpho) DecodeCallback(calldata []byte) (Callback, error) {
	args, err := UnpackInputs(MorphoCallbackABI, "onMorphoFlashLoan", calldata)
	if err != nil {
		return Callback{}, err
	}
	decode := argDecoder{args: args}
	amount := decode.big(0)
	payload := decode.bytes(1)
	if decode.err != nil {
		return Callback{}, decode.err
	}
	return Callback{
		Protocol: core.ProtocolMorpho,
		Amounts:  []*big.Int{amount},
		Payload:  payload,
	}, nil
}

// Terms takes the asset from the request context. Morpho charges no fee.
func (morpho) Terms(cb Callback, rc core.RequestContext) (Terms, error) {
	if core.IsZeroAddress(rc.Asset) || len(cb.Amounts) == 0 {
		return Terms{}, core.ErrInternal("morpho request context is incomplete", nil)
	}
	fee := new(big.Int)
	return Terms{
		Asset:     rc.Asset,
		Principal: core.CloneAmount(cb.Amounts[0]),
		Fee:       fee,
		Owed:      owed(cb.Amounts[0], fee),
	}, nil
}

func (morpho) Ack() ([]byte, error) {
	return nil, nil
}

func echoedTerms(cb Callback) (Terms, error) {
	if len(cb.Assets) == 0 || len(cb.Amounts) == 0 {
		return Terms{}, core.ErrInvalidParametersLength(0)
	}
	var fees []*big.Int
	if len(cb.Fees) > 0 {
		fees = append(fees, cb.Fees[0])
	}
	fee := sumFees(fees...)
	return Terms{
		Asset:     cb.Assets[0],
		Principal: core.CloneAmount(cb.Amounts[0]),
		Fee:       fee,
		Owed:      owed(cb.Amounts[0], fee),
	}, nil
}

// argDecoder pulls typed values out of unpacked ABI arguments, keeping the
// first mismatch.
type argDecoder struct {
	args []any
	err  error
}

func (d *argDecoder) at(idx int) any {
	if d.err != nil {
		return nil
	}
	if idx >= len(d.args) {
		d.err = fmt.Errorf("protocol: missing argument %d", idx)
		return nil
	}
	return d.args[idx]
}

func (d *argDecoder) fail(idx int, want string, got any) {
	if d.err == nil {
		d.err = fmt.Errorf("protocol: argument %d: expected %s, got %T", idx, want, got)
	}
}

func (d *argDecoder) address(idx int) common.Address {
	raw := d.at(idx)
	if d.err != nil {
		return common.Address{}
	}
	value, ok := raw.(common.Address)
	if !ok {
		d.fail(idx, "address", raw)
	}
	return value
}

func (d *argDecoder) addresses(idx int) []common.Address {
	raw := d.at(idx)
	if d.err != nil {
		return nil
	}
	value, ok := raw.([]common.Address)
	if !ok {
		d.fail(idx, "address[]", raw)
	}
	return value
}

func (d *argDecoder) big(idx int) *big.Int {
	raw := d.at(idx)
	if d.err != nil {
		return nil
	}
	value, ok := raw.(*big.Int)
	if !ok || value == nil {
		d.fail(idx, "uint256", raw)
		return nil
	}
	return value
}

func (d *argDecoder) bigs(idx int) []*big.Int {
	raw := d.at(idx)
	if d.err != nil {
		return nil
	}
	value, ok := raw.([]*big.Int)
	if !ok {
		d.fail(idx, "uint256[]", raw)
	}
	return value
}

func (d *argDecoder) bytes(idx int) []byte {
	raw := d.at(idx)
	if d.err != nil {
		return nil
	}
	value, ok := raw.([]byte)
	if !ok {
		d.fail(idx, "bytes", raw)
	}
	return value
}
