package protocol

import (
	"context"
	"math/big"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/goliatone/go-flashroute/core"
)

// Slot is the positional output slot selected by pair introspection.
type Slot uint8

const (
	SlotNone Slot = iota
	SlotToken0
	SlotToken1
)

type AckKind string

const (
	AckNone  AckKind = "none"
	AckTrue  AckKind = "true"
	AckMagic AckKind = "magic"
)

// ERC3156CallbackSuccess is the value an ERC-3156 borrower must return.
var ERC3156CallbackSuccess = crypto.Keccak256Hash([]byte("ERC3156FlashBorrower.onFlashLoan"))

// Descriptor is the static knowledge about one venue convention.
type Descriptor struct {
	ID                core.ProtocolID
	Name              string
	Venue             abi.ABI
	OutboundMethod    string
	Receiver          abi.ABI
	CallbackMethod    string
	Settlement        core.SettlementStyle
	Handshake         bool
	Introspect        bool
	StoresAssetAmount bool
	Arrayed           bool
	CarriesInitiator  bool
	Ack               AckKind
	FeeModel          string
}

func (d Descriptor) CallbackSelector() [4]byte {
	return Selector(d.Receiver, d.CallbackMethod)
}

func (d Descriptor) OutboundSelector() [4]byte {
	return Selector(d.Venue, d.OutboundMethod)
}

// Callback is one decoded inbound repayment demand. Non-array shapes decode
// into single-element slices; shapes that do not echo a field leave it nil.
type Callback struct {
	Protocol  core.ProtocolID
	Assets    []core.Address
	Amounts   []*big.Int
	Fees      []*big.Int
	Initiator *core.Address
	Payload   []byte
}

// Terms are the settlement terms of one callback.
type Terms struct {
	Asset     core.Address
	Principal *big.Int
	Fee       *big.Int
	Owed      *big.Int
}

// Variant is the closed set of venue conventions.
type Variant interface {
	Descriptor() Descriptor
	EncodeOutbound(self core.Address, req core.BorrowRequest, slot Slot) ([]byte, error)
	DecodeCallback(calldata []byte) (Callback, error)
	Terms(cb Callback, rc core.RequestContext) (Terms, error)
	Ack() ([]byte, error)
	sealed()
}

// Introspector is implemented by variants that must query the venue before
// the outbound request can be encoded.
type Introspector interface {
	ResolveSlot(ctx context.Context, exec core.Executor, self core.Address, venue core.Address, asset core.Address) (Slot, error)
}

var (
	aaveV3Variant       = aaveV3{}
	aaveV3SimpleVariant = aaveV3Simple{}
	balancerV2Variant   = balancerV2{}
	balancerV3Variant   = balancerV3{}
	uniswapV2Variant    = uniswapV2{}
	erc3156Variant      = erc3156{}
	morphoVariant       = morpho{}
)

var (
	selectorAaveV3       = aaveV3Variant.Descriptor().CallbackSelector()
	selectorAaveV3Simple = aaveV3SimpleVariant.Descriptor().CallbackSelector()
	selectorBalancerV2   = balancerV2Variant.Descriptor().CallbackSelector()
	selectorBalancerV3   = balancerV3Variant.Descriptor().CallbackSelector()
	selectorUniswapV2    = uniswapV2Variant.Descriptor().CallbackSelector()
	selectorERC3156      = erc3156Variant.Descriptor().CallbackSelector()
	selectorMorpho       = morphoVariant.Descriptor().CallbackSelector()
)

// Lookup returns the variant for id.
func Lookup(id core.ProtocolID) (Variant, bool) {
	switch id {
	case core.ProtocolAaveV3:
		return aaveV3Variant, true
	case core.ProtocolAaveV3Simple:
		return aaveV3SimpleVariant, true
	case core.ProtocolBalancerV2:
		return balancerV2Variant, true
	case core.ProtocolBalancerV3:
		return balancerV3Variant, true
	case core.ProtocolUniswapV2:
		return uniswapV2Variant, true
	case core.ProtocolERC3156:
		return erc3156Variant, true
	case core.ProtocolMorpho:
		return morphoVariant, true
	default:
		return nil, false
	}
}

// ShapeForSelector demultiplexes an inbound callback by its function tag.
func ShapeForSelector(tag [4]byte) (Variant, bool) {
	switch tag {
	case selectorAaveV3:
		return aaveV3Variant, true
	case selectorAaveV3Simple:
		return aaveV3SimpleVariant, true
	case selectorBalancerV2:
		return balancerV2Variant, true
	case selectorBalancerV3:
		return balancerV3Variant, true
	case selectorUniswapV2:
		return uniswapV2Variant, true
	case selectorERC3156:
		return erc3156Variant, true
	case selectorMorpho:
		return morphoVariant, true
	default:
		return nil, false
	}
}

// Descriptors lists the table in id order.
func Descriptors() []Descriptor {
	out := make([]Descriptor, 0, core.ProtocolCount)
	for idx := 0; idx < core.ProtocolCount; idx++ {
		variant, ok := Lookup(core.ProtocolID(idx))
		if !ok {
			continue
		}
		out = append(out, variant.Descriptor())
	}
	return out
}

// Info is the printable summary of one descriptor.
type Info struct {
	ID                core.ProtocolID      `json:"id"`
	Name              string               `json:"name"`
	Enabled           bool                 `json:"enabled"`
	OutboundMethod    string               `json:"outbound_method"`
	OutboundSelector  string               `json:"outbound_selector"`
	CallbackMethod    string               `json:"callback_method"`
	CallbackSelector  string               `json:"callback_selector"`
	Settlement        core.SettlementStyle `json:"settlement"`
	Ack               AckKind              `json:"ack"`
	FeeModel          string               `json:"fee_model"`
	Handshake         bool                 `json:"handshake"`
	Introspect        bool                 `json:"introspect"`
	StoresAssetAmount bool                 `json:"stores_asset_amount"`
	Arrayed           bool                 `json:"arrayed"`
	CarriesInitiator  bool                 `json:"carries_initiator"`
}

func (d Descriptor) Info(enabled bool) Info {
	outbound := d.OutboundSelector()
	callback := d.CallbackSelector()
	return Info{
		ID:                d.ID,
		Name:              d.Name,
		Enabled:           enabled,
		OutboundMethod:    d.OutboundMethod,
		OutboundSelector:  hexutil.Encode(outbound[:]),
		CallbackMethod:    d.CallbackMethod,
		CallbackSelector:  hexutil.Encode(callback[:]),
		Settlement:        d.Settlement,
		Ack:               d.Ack,
		FeeModel:          d.FeeModel,
		Handshake:         d.Handshake,
		Introspect:        d.Introspect,
		StoresAssetAmount: d.StoresAssetAmount,
		Arrayed:           d.Arrayed,
		CarriesInitiator:  d.CarriesInitiator,
	}
}

// UniswapV2Fee is the minimum same-token repayment surcharge that keeps the
// pair's fee-adjusted constant product intact.
func UniswapV2Fee(amount *big.Int) *big.Int {
	fee := new(big.Int).Mul(amount, big.NewInt(3))
	fee.Quo(fee, big.NewInt(997))
	return fee.Add(fee, big.NewInt(1))
}

func owed(principal *big.Int, fees ...*big.Int) *big.Int {
	total := new(big.Int).Set(principal)
	for _, fee := range fees {
		if fee != nil {
			total.Add(total, fee)
		}
	}
	return total
}

func sumFees(fees ...*big.Int) *big.Int {
	return owed(new(big.Int), fees...)
}
