package protocol

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/accounts/abi"
)

const erc20JSON = `[
	{"type":"function","name":"balanceOf","stateMutability":"view","inputs":[{"name":"owner","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"allowance","stateMutability":"view","inputs":[{"name":"owner","type":"address"},{"name":"spender","type":"address"}],"outputs":[{"name":"","type":"uint256"}]},
	{"type":"function","name":"transfer","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"transferFrom","stateMutability":"nonpayable","inputs":[{"name":"from","type":"address"},{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"approve","stateMutability":"nonpayable","inputs":[{"name":"spender","type":"address"},{"name":"value","type":"uint256"}],"outputs":[{"name":"","type":"bool"}]},
	{"type":"function","name":"mint","stateMutability":"nonpayable","inputs":[{"name":"to","type":"address"},{"name":"value","type":"uint256"}],"outputs":[]}
]`

const engineJSON = `[
	{"type":"function","name":"initiate","stateMutability":"nonpayable","inputs":[{"name":"protocolId","type":"uint8"},{"name":"venue","type":"address"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"payload","type":"bytes"}],"outputs":[]}
]`

const aaveV3PoolJSON = `[
	{"type":"function","name":"flashLoan","stateMutability":"nonpayable","inputs":[{"name":"receiverAddress","type":"address"},{"name":"assets","type":"address[]"},{"name":"amounts","type":"uint256[]"},{"name":"interestRateModes","type":"uint256[]"},{"name":"onBehalfOf","type":"address"},{"name":"params","type":"bytes"},{"name":"referralCode","type":"uint16"}],"outputs":[]},
	{"type":"function","name":"flashLoanSimple","stateMutability":"nonpayable","inputs":[{"name":"receiverAddress","type":"address"},{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"params","type":"bytes"},{"name":"referralCode","type":"uint16"}],"outputs":[]}
]`

const aaveV3ReceiverJSON = `[
	{"type":"function","name":"executeOperation","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"address[]"},{"name":"amounts","type":"uint256[]"},{"name":"premiums","type":"uint256[]"},{"name":"initiator","type":"address"},{"name":"params","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]}
]`

const aaveV3SimpleReceiverJSON = `[
	{"type":"function","name":"executeOperation","stateMutability":"nonpayable","inputs":[{"name":"asset","type":"address"},{"name":"amount","type":"uint256"},{"name":"premium","type":"uint256"},{"name":"initiator","type":"address"},{"name":"params","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]}
]`

const balancerV2VaultJSON = `[
	{"type":"function","name":"flashLoan","stateMutability":"nonpayable","inputs":[{"name":"recipient","type":"address"},{"name":"tokens","type":"address[]"},{"name":"amounts","type":"uint256[]"},{"name":"userData","type":"bytes"}],"outputs":[]}
]`

const balancerV2RecipientJSON = `[
	{"type":"function","name":"receiveFlashLoan","stateMutability":"nonpayable","inputs":[{"name":"tokens","type":"address[]"},{"name":"amounts","type":"uint256[]"},{"name":"feeAmounts","type":"uint256[]"},{"name":"userData","type":"bytes"}],"outputs":[]}
]`

const balancerV3VaultJSON = `[
	{"type":"function","name":"unlock","stateMutability":"nonpayable","inputs":[{"name":"data","type":"bytes"}],"outputs":[{"name":"result","type":"bytes"}]},
	{"type":"function","name":"sendTo","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"to","type":"address"},{"name":"amount","type":"uint256"}],"outputs":[]},
	{"type":"function","name":"settle","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amountHint","type":"uint256"}],"outputs":[{"name":"credit","type":"uint256"}]}
]`

const balancerV3ReceiverJSON = `[
	{"type":"function","name":"receiveBalancerV3FlashLoan","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"userData","type":"bytes"}],"outputs":[]}
]`

const uniswapV2PairJSON = `[
	{"type":"function","name":"token0","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"token1","stateMutability":"view","inputs":[],"outputs":[{"name":"","type":"address"}]},
	{"type":"function","name":"getReserves","stateMutability":"view","inputs":[],"outputs":[{"name":"reserve0","type":"uint112"},{"name":"reserve1","type":"uint112"},{"name":"blockTimestampLast","type":"uint32"}]},
	{"type":"function","name":"swap","stateMutability":"nonpayable","inputs":[{"name":"amount0Out","type":"uint256"},{"name":"amount1Out","type":"uint256"},{"name":"to","type":"address"},{"name":"data","type":"bytes"}],"outputs":[]},
	{"type":"function","name":"sync","stateMutability":"nonpayable","inputs":[],"outputs":[]}
]`

const uniswapV2CalleeJSON = `[
	{"type":"function","name":"uniswapV2Call","stateMutability":"nonpayable","inputs":[{"name":"sender","type":"address"},{"name":"amount0","type":"uint256"},{"name":"amount1","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

const erc3156LenderJSON = `[
	{"type":"function","name":"flashLoan","stateMutability":"nonpayable","inputs":[{"name":"receiver","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bool"}]}
]`

const erc3156BorrowerJSON = `[
	{"type":"function","name":"onFlashLoan","stateMutability":"nonpayable","inputs":[{"name":"initiator","type":"address"},{"name":"token","type":"address"},{"name":"amount","type":"uint256"},{"name":"fee","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[{"name":"","type":"bytes32"}]}
]`

const morphoJSON = `[
	{"type":"function","name":"flashLoan","stateMutability":"nonpayable","inputs":[{"name":"token","type":"address"},{"name":"assets","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

const morphoCallbackJSON = `[
	{"type":"function","name":"onMorphoFlashLoan","stateMutability":"nonpayable","inputs":[{"name":"assets","type":"uint256"},{"name":"data","type":"bytes"}],"outputs":[]}
]`

// Parsed contract interfaces. Venue side and receiver side are kept apart
// because both Aave receivers share the executeOperation name.
var (
	ERC20ABI                = mustParseABI("erc20", erc20JSON)
	EngineABI               = mustParseABI("engine", engineJSON)
	AaveV3PoolABI           = mustParseABI("aave_v3_pool", aaveV3PoolJSON)
	AaveV3ReceiverABI       = mustParseABI("aave_v3_receiver", aaveV3ReceiverJSON)
	AaveV3SimpleReceiverABI = mustParseABI("aave_v3_simple_receiver", aaveV3SimpleReceiverJSON)
	BalancerV2VaultABI      = mustParseABI("balancer_v2_vault", balancerV2VaultJSON)
	BalancerV2RecipientABI  = mustParseABI("balancer_v2_recipient", balancerV2RecipientJSON)
	BalancerV3VaultABI      = mustParseABI("balancer_v3_vault", balancerV3VaultJSON)
	BalancerV3ReceiverABI   = mustParseABI("balancer_v3_receiver", balancerV3ReceiverJSON)
	UniswapV2PairABI        = mustParseABI("uniswap_v2_pair", uniswapV2PairJSON)
	UniswapV2CalleeABI      = mustParseABI("uniswap_v2_callee", uniswapV2CalleeJSON)
	ERC3156LenderABI        = mustParseABI("erc3156_lender", erc3156LenderJSON)
	ERC3156BorrowerABI      = mustParseABI("erc3156_borrower", erc3156BorrowerJSON)
	MorphoABI               = mustParseABI("morpho", morphoJSON)
	MorphoCallbackABI       = mustParseABI("morpho_callback", morphoCallbackJSON)
)

func mustParseABI(name string, raw string) abi.ABI {
	parsed, err := abi.JSON(strings.NewReader(raw))
	if err != nil {
		panic(fmt.Sprintf("protocol: parse %s abi: %v", name, err))
	}
	return parsed
}

// Selector returns the 4-byte function tag of method in contract.
func Selector(contract abi.ABI, method string) [4]byte {
	var tag [4]byte
	if m, ok := contract.Methods[method]; ok {
		copy(tag[:], m.ID)
	}
	return tag
}

// SelectorOf returns the leading function tag of calldata.
func SelectorOf(calldata []byte) ([4]byte, bool) {
	var tag [4]byte
	if len(calldata) < 4 {
		return tag, false
	}
	copy(tag[:], calldata[:4])
	return tag, true
}

// UnpackInputs decodes the arguments of method from full calldata.
func UnpackInputs(contract abi.ABI, method string, calldata []byte) ([]any, error) {
	m, ok := contract.Methods[method]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown method %q", method)
	}
	if len(calldata) < 4 {
		return nil, fmt.Errorf("protocol: calldata shorter than selector")
	}
	return m.Inputs.Unpack(calldata[4:])
}

// PackOutputs encodes return values of method.
func PackOutputs(contract abi.ABI, method string, values ...any) ([]byte, error) {
	m, ok := contract.Methods[method]
	if !ok {
		return nil, fmt.Errorf("protocol: unknown method %q", method)
	}
	return m.Outputs.Pack(values...)
}
