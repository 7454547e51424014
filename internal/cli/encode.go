package cli

import (
	"fmt"
	"io"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/spf13/cobra"

	flashroute "github.com/goliatone/go-flashroute"
	"github.com/goliatone/go-flashroute/adapters/gojob"
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/outbound"
)

// requestFlags are the borrow request fields shared by encode and simulate.
type requestFlags struct {
	Protocol string
	Venue    string
	Asset    string
	Amount   string
	Payload  string
}

func (f *requestFlags) bind(cmd *cobra.Command) {
	cmd.Flags().StringVarP(&f.Protocol, "protocol", "p", "", "protocol name or id")
	cmd.Flags().StringVar(&f.Venue, "venue", "", "venue address")
	cmd.Flags().StringVar(&f.Asset, "asset", "", "asset address")
	cmd.Flags().StringVar(&f.Amount, "amount", "", "principal in base units")
	cmd.Flags().StringVar(&f.Payload, "payload", "0x", "opaque payload (hex)")
}

func (f requestFlags) request() (core.BorrowRequest, error) {
	id, err := core.ParseProtocol(f.Protocol)
	if err != nil {
		return core.BorrowRequest{}, err
	}
	venue, err := parseAddress("venue", f.Venue)
	if err != nil {
		return core.BorrowRequest{}, err
	}
	asset, err := parseAddress("asset", f.Asset)
	if err != nil {
		return core.BorrowRequest{}, err
	}
	amount, err := parseAmount(f.Amount)
	if err != nil {
		return core.BorrowRequest{}, err
	}
	payload, err := hexutil.Decode(strings.TrimSpace(f.Payload))
	if err != nil {
		return core.BorrowRequest{}, fmt.Errorf("invalid payload: %w", err)
	}
	return core.BorrowRequest{
		Protocol: id,
		Venue:    venue,
		Asset:    asset,
		Amount:   amount,
		Payload:  payload,
	}, nil
}

func parseAddress(field string, value string) (common.Address, error) {
	value = strings.TrimSpace(value)
	if !common.IsHexAddress(value) {
		return common.Address{}, fmt.Errorf("invalid %s address %q", field, value)
	}
	return common.HexToAddress(value), nil
}

func parseAmount(value string) (*big.Int, error) {
	amount, ok := new(big.Int).SetString(strings.TrimSpace(value), 0)
	if !ok || amount.Sign() < 0 {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	return amount, nil
}

// EncodeResult is the encode command's output.
type EncodeResult struct {
	Protocol       string `json:"protocol"`
	Selector       string `json:"selector"`
	Calldata       string `json:"calldata"`
	IdempotencyKey string `json:"idempotency_key"`
}

func NewEncodeCommand(rootOpts *RootOptions) *cobra.Command {
	flags := &requestFlags{}
	cmd := &cobra.Command{
		Use:   "encode",
		Short: "Encode initiate calldata for a borrow request",
		Long: `Validate a borrow request and print the calldata that submits it to a
host's initiate entry point, together with the job idempotency key.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runEncode(cmd, rootOpts, *flags)
		},
	}
	flags.bind(cmd)
	return cmd
}

func runEncode(cmd *cobra.Command, opts *RootOptions, flags requestFlags) error {
	formatter := newFormatter(opts, cmd.OutOrStdout(), cmd.ErrOrStderr())
	req, err := flags.request()
	if err != nil {
		return formatter.Failure(ExitCommandError, "parse request", err, nil)
	}
	if err := outbound.Validate(req); err != nil {
		return formatter.Failure(ExitCommandError, "validate request", err, nil)
	}
	data, err := flashroute.PackInitiate(req)
	if err != nil {
		return formatter.Failure(ExitCommandError, "encode request", err, nil)
	}
	key, err := gojob.IdempotencyKey(req)
	if err != nil {
		return formatter.Failure(ExitCommandError, "idempotency key", err, nil)
	}
	result := EncodeResult{
		Protocol:       req.Protocol.String(),
		Selector:       hexutil.Encode(data[:4]),
		Calldata:       hexutil.Encode(data),
		IdempotencyKey: key,
	}
	return formatter.Success(result, func(w io.Writer) {
		fmt.Fprintf(w, "protocol         %s\n", result.Protocol)
		fmt.Fprintf(w, "selector         %s\n", result.Selector)
		fmt.Fprintf(w, "idempotency key  %s\n", result.IdempotencyKey)
		fmt.Fprintln(w, result.Calldata)
	})
}
