package core

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

type Address = common.Address

type Hash = common.Hash

// ProtocolID selects one venue convention from the descriptor table.
type ProtocolID uint8

const (
	ProtocolAaveV3 ProtocolID = iota
	ProtocolAaveV3Simple
	ProtocolBalancerV2
	ProtocolBalancerV3
	ProtocolUniswapV2
	ProtocolERC3156
	ProtocolMorpho
)

// ProtocolCount is the size of the closed protocol set.
const ProtocolCount = 7

var protocolNames = [ProtocolCount]string{
	ProtocolAaveV3:       "aave_v3",
	ProtocolAaveV3Simple: "aave_v3_simple",
	ProtocolBalancerV2:   "balancer_v2",
	ProtocolBalancerV3:   "balancer_v3",
	ProtocolUniswapV2:    "uniswap_v2",
	ProtocolERC3156:      "erc3156",
	ProtocolMorpho:       "morpho",
}

func (id ProtocolID) Known() bool {
	return int(id) < ProtocolCount
}

func (id ProtocolID) String() string {
	if !id.Known() {
		return fmt.Sprintf("unknown(%d)", uint8(id))
	}
	return protocolNames[id]
}

// ParseProtocol accepts a protocol name or its numeric id.
func ParseProtocol(value string) (ProtocolID, error) {
	normalized := strings.TrimSpace(strings.ToLower(value))
	if normalized == "" {
		return 0, fmt.Errorf("core: protocol is required")
	}
	for idx, name := range protocolNames {
		if name == normalized {
			return ProtocolID(idx), nil
		}
	}
	var numeric uint8
	if _, err := fmt.Sscanf(normalized, "%d", &numeric); err == nil && fmt.Sprint(numeric) == normalized {
		return ProtocolID(numeric), nil
	}
	return 0, fmt.Errorf("core: unknown protocol %q", value)
}

func ProtocolNames() []string {
	out := make([]string, 0, ProtocolCount)
	out = append(out, protocolNames[:]...)
	return out
}

type SettlementStyle string

const (
	SettlementGrantAllowance SettlementStyle = "grant_allowance"
	SettlementPushTransfer   SettlementStyle = "push_transfer"
)

// BorrowRequest is the input to the dispatch entry point.
type BorrowRequest struct {
	Protocol ProtocolID
	Venue    Address
	Asset    Address
	Amount   *big.Int
	Payload  []byte
}

// Loan is what the host's repayment logic receives for one callback.
type Loan struct {
	Protocol   ProtocolID
	Venue      Address
	Asset      Address
	Principal  *big.Int
	Fee        *big.Int
	AmountOwed *big.Int
	Payload    []byte
}

// BorrowReceipt is the observable result of one executed borrow: the
// host's balance of the borrowed asset around it and the loans host logic
// saw.
type BorrowReceipt struct {
	Request       BorrowRequest
	Loans         []Loan
	BalanceBefore *big.Int
	BalanceAfter  *big.Int
}

// Delta is the host's net balance change.
func (r BorrowReceipt) Delta() *big.Int {
	if r.BalanceBefore == nil || r.BalanceAfter == nil {
		return new(big.Int)
	}
	return new(big.Int).Sub(r.BalanceAfter, r.BalanceBefore)
}

// RequestContext is the correlation state recorded before the outbound call.
type RequestContext struct {
	Venue  Address
	Asset  Address
	Amount *big.Int
}

func (rc RequestContext) Empty() bool {
	return rc.Venue == (Address{})
}

func IsZeroAddress(addr Address) bool {
	return addr == (Address{})
}

func CloneAmount(value *big.Int) *big.Int {
	if value == nil {
		return nil
	}
	return new(big.Int).Set(value)
}

func ClonePayload(payload []byte) []byte {
	if payload == nil {
		return nil
	}
	return append([]byte(nil), payload...)
}
