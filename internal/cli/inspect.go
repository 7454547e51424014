package cli

import (
	"context"
	"fmt"
	"io"
	"math/big"
	"strings"
	"time"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/spf13/cobra"

	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/protocol"
)

type inspectOptions struct {
	RPC     string
	Pair    string
	Asset   string
	Timeout time.Duration
}

// PairReport is the inspect-pair command's output.
type PairReport struct {
	Pair      string `json:"pair"`
	Token0    string `json:"token0"`
	Token1    string `json:"token1"`
	Reserve0  string `json:"reserve0"`
	Reserve1  string `json:"reserve1"`
	Asset     string `json:"asset,omitempty"`
	OutputFor string `json:"output_slot,omitempty"`
	Owed      string `json:"owed_per_unit_million,omitempty"`
}

func NewInspectPairCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &inspectOptions{}
	cmd := &cobra.Command{
		Use:   "inspect-pair",
		Short: "Read a live Uniswap V2 pair over JSON-RPC",
		Long: `Read token0, token1 and reserves of a Uniswap V2 pair with read-only
calls. With --asset, resolve the output slot a borrow of that asset would
use, exactly as dispatch does before encoding the swap.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runInspectPair(cmd, rootOpts, *opts)
		},
	}
	cmd.Flags().StringVar(&opts.RPC, "rpc", "", "JSON-RPC endpoint")
	cmd.Flags().StringVar(&opts.Pair, "pair", "", "pair address")
	cmd.Flags().StringVar(&opts.Asset, "asset", "", "asset to resolve against the pair")
	cmd.Flags().DurationVar(&opts.Timeout, "timeout", 15*time.Second, "RPC timeout")
	return cmd
}

// rpcExecutor serves the engine's read-only call surface from a node.
// Mutating calls are refused.
type rpcExecutor struct {
	client *ethclient.Client
}

func (e rpcExecutor) Call(context.Context, core.Address, core.Address, []byte) ([]byte, error) {
	return nil, fmt.Errorf("rpc executor is read-only")
}

func (e rpcExecutor) StaticCall(ctx context.Context, from core.Address, to core.Address, data []byte) ([]byte, error) {
	return e.client.CallContract(ctx, ethereum.CallMsg{From: from, To: &to, Data: data}, nil)
}

func (rpcExecutor) TransientLoad(core.Address, core.Hash) core.Hash { return core.Hash{} }

func (rpcExecutor) TransientStore(core.Address, core.Hash, core.Hash) {}

func runInspectPair(cmd *cobra.Command, rootOpts *RootOptions, opts inspectOptions) error {
	formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	if strings.TrimSpace(opts.RPC) == "" {
		return formatter.Failure(ExitCommandError, "--rpc is required", nil, nil)
	}
	pair, err := parseAddress("pair", opts.Pair)
	if err != nil {
		return formatter.Failure(ExitCommandError, "parse pair", err, nil)
	}

	ctx, cancel := context.WithTimeout(cmd.Context(), opts.Timeout)
	defer cancel()

	client, err := ethclient.DialContext(ctx, opts.RPC)
	if err != nil {
		return formatter.Failure(ExitCommandError, "dial rpc", err, nil)
	}
	defer client.Close()
	exec := rpcExecutor{client: client}
	formatter.VerboseLog("connected to %s", opts.RPC)

	report, err := inspectPair(ctx, exec, pair)
	if err != nil {
		return formatter.Failure(ExitCommandError, "read pair", err, nil)
	}

	if strings.TrimSpace(opts.Asset) != "" {
		asset, err := parseAddress("asset", opts.Asset)
		if err != nil {
			return formatter.Failure(ExitCommandError, "parse asset", err, nil)
		}
		slot, err := resolvePairSlot(ctx, exec, pair, asset)
		if err != nil {
			return formatter.Failure(ExitFailure, "resolve slot", err, report)
		}
		report.Asset = asset.Hex()
		report.OutputFor = fmt.Sprintf("token%d", slot-protocol.SlotToken0)
		report.Owed = new(big.Int).Add(big.NewInt(1_000_000), protocol.UniswapV2Fee(big.NewInt(1_000_000))).String()
	}

	return formatter.Success(report, func(w io.Writer) {
		fmt.Fprintf(w, "pair      %s\n", report.Pair)
		fmt.Fprintf(w, "token0    %s  reserve %s\n", report.Token0, report.Reserve0)
		fmt.Fprintf(w, "token1    %s  reserve %s\n", report.Token1, report.Reserve1)
		if report.Asset != "" {
			fmt.Fprintf(w, "asset     %s -> %s (owed %s per 1000000 borrowed)\n", report.Asset, report.OutputFor, report.Owed)
		}
	})
}

func inspectPair(ctx context.Context, exec core.Executor, pair common.Address) (PairReport, error) {
	report := PairReport{Pair: pair.Hex()}
	for _, method := range []string{"token0", "token1"} {
		data, err := protocol.UniswapV2PairABI.Pack(method)
		if err != nil {
			return report, err
		}
		ret, err := exec.StaticCall(ctx, common.Address{}, pair, data)
		if err != nil {
			return report, fmt.Errorf("%s: %w", method, err)
		}
		addr, err := protocol.DecodeAddress(ret)
		if err != nil {
			return report, fmt.Errorf("%s: %w", method, err)
		}
		if method == "token0" {
			report.Token0 = addr.Hex()
		} else {
			report.Token1 = addr.Hex()
		}
	}

	data, err := protocol.UniswapV2PairABI.Pack("getReserves")
	if err != nil {
		return report, err
	}
	ret, err := exec.StaticCall(ctx, common.Address{}, pair, data)
	if err != nil {
		return report, fmt.Errorf("getReserves: %w", err)
	}
	values, err := protocol.UniswapV2PairABI.Unpack("getReserves", ret)
	if err != nil || len(values) < 2 {
		return report, fmt.Errorf("getReserves: unexpected return data")
	}
	reserve0, ok0 := values[0].(*big.Int)
	reserve1, ok1 := values[1].(*big.Int)
	if !ok0 || !ok1 {
		return report, fmt.Errorf("getReserves: unexpected reserve types")
	}
	report.Reserve0, report.Reserve1 = reserve0.String(), reserve1.String()
	return report, nil
}

func resolvePairSlot(ctx context.Context, exec core.Executor, pair common.Address, asset common.Address) (protocol.Slot, error) {
	variant, ok := protocol.Lookup(core.ProtocolUniswapV2)
	if !ok {
		return protocol.SlotNone, core.ErrUnsupportedProtocol(core.ProtocolUniswapV2)
	}
	introspector, ok := variant.(protocol.Introspector)
	if !ok {
		return protocol.SlotNone, core.ErrInternal("uniswap v2 variant does not introspect", nil)
	}
	return introspector.ResolveSlot(ctx, exec, common.Address{}, pair, asset)
}
