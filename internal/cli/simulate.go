package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/big"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/ethereum/go-ethereum/common/hexutil"
	job "github.com/goliatone/go-job"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/goliatone/go-flashroute/adapters/gocommand"
	"github.com/goliatone/go-flashroute/adapters/gojob"
	"github.com/goliatone/go-flashroute/adapters/gologger"
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/devkit"
)

type simulateOptions struct {
	Protocols   []string
	Amount      string
	HostFunding string
	Requests    string
	Store       string
	DSN         string
}

// SimulationPlan is the YAML shape accepted by --requests.
type SimulationPlan struct {
	HostFunding string          `yaml:"host_funding"`
	Borrows     []PlannedBorrow `yaml:"borrows"`
}

type PlannedBorrow struct {
	Protocol string `yaml:"protocol"`
	Amount   string `yaml:"amount"`
	Payload  string `yaml:"payload"`
}

// SimulationResult is one borrow's outcome.
type SimulationResult struct {
	Protocol  string `json:"protocol"`
	Amount    string `json:"amount"`
	Fee       string `json:"fee,omitempty"`
	Owed      string `json:"owed,omitempty"`
	Delta     string `json:"delta"`
	Succeeded bool   `json:"succeeded"`
	ErrorCode string `json:"error_code,omitempty"`
	Error     string `json:"error,omitempty"`
}

type SimulationReport struct {
	Store      string             `json:"store"`
	Results    []SimulationResult `json:"results"`
	Duplicates int                `json:"duplicates_dropped,omitempty"`
	Units      int                `json:"committed_units,omitempty"`
}

func NewSimulateCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &simulateOptions{}
	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Run borrows against fixture venues",
		Long: `Deploy one fixture venue per protocol, a host and the engine into a
simulated world, then run each borrow as one unit of work through the job
queue and command bus. The world's committed state lives in memory or in a
SQL ledger (sqlite or postgres). Identical borrows are deduplicated.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runSimulate(cmd, rootOpts, *opts)
		},
	}
	cmd.Flags().StringSliceVarP(&opts.Protocols, "protocol", "p", nil, "protocols to borrow through (default all)")
	cmd.Flags().StringVar(&opts.Amount, "amount", "1000000", "principal per borrow in base units")
	cmd.Flags().StringVar(&opts.HostFunding, "host-funding", "", "host balance minted before the first borrow")
	cmd.Flags().StringVar(&opts.Requests, "requests", "", "yaml plan of borrows (overrides --protocol and --amount)")
	cmd.Flags().StringVar(&opts.Store, "store", StoreMemory, "ledger store (memory|sqlite|postgres)")
	cmd.Flags().StringVar(&opts.DSN, "dsn", "", "ledger database DSN")
	return cmd
}

// busBorrowService routes queued borrows through the command bus.
type busBorrowService struct{}

func (busBorrowService) InitiateBorrow(ctx context.Context, req core.BorrowRequest) (core.BorrowReceipt, error) {
	return gocommand.DispatchBorrow(ctx, req)
}

func runSimulate(cmd *cobra.Command, rootOpts *RootOptions, opts simulateOptions) error {
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	formatter := newFormatter(rootOpts, cmd.OutOrStdout(), cmd.ErrOrStderr())

	plan, err := resolvePlan(opts)
	if err != nil {
		return formatter.Failure(ExitCommandError, "resolve plan", err, nil)
	}
	engineOpts, err := engineOptions(rootOpts, cmd.ErrOrStderr())
	if err != nil {
		return formatter.Failure(ExitCommandError, "load configuration", err, nil)
	}

	led, err := openLedger(ctx, opts.Store, opts.DSN, rootOpts.Verbose)
	if err != nil {
		return formatter.Failure(ExitCommandError, "open ledger", err, nil)
	}
	defer led.close()
	formatter.VerboseLog("ledger store: %s", opts.Store)

	scenarioOpts := devkit.DefaultScenarioOptions()
	scenarioOpts.Backend = led.backend
	scenarioOpts.EngineOptions = engineOpts
	if strings.TrimSpace(plan.HostFunding) != "" {
		funding, err := parseAmount(plan.HostFunding)
		if err != nil {
			return formatter.Failure(ExitCommandError, "parse host funding", err, nil)
		}
		scenarioOpts.HostFunding = funding
	}
	scenario, err := devkit.NewScenario(ctx, scenarioOpts)
	if err != nil {
		return formatter.Failure(ExitCommandError, "build scenario", err, nil)
	}

	bus, err := gocommand.NewBus(nil, scenario, scenario.Engine)
	if err != nil {
		return formatter.Failure(ExitCommandError, "build command bus", err, nil)
	}
	defer bus.Close()

	queue := gojob.NewMemoryQueue()
	enqueuer := gojob.NewEnqueuerAdapter(queue)
	report := SimulationReport{Store: opts.Store}
	for _, planned := range plan.Borrows {
		req, err := plannedRequest(scenario, planned)
		if err != nil {
			return formatter.Failure(ExitCommandError, "parse borrow", err, nil)
		}
		if _, err := enqueuer.EnqueueBorrow(ctx, req); err != nil {
			if errors.Is(err, job.ErrIdempotentDrop) {
				report.Duplicates++
				continue
			}
			report.Results = append(report.Results, failedResult(req, err))
		}
	}

	logger, _ := gologger.ForComponent(scenario.Engine.Dependencies(), "flashroute.jobs")
	worker := gojob.NewBorrowWorker(queue, busBorrowService{},
		gojob.WithLogger(logger),
		gojob.WithRetryPolicy(gojob.RetryPolicy{MaxAttempts: 1, DeadLetterOnMax: true}),
	)
	for queue.Len() > 0 {
		receipt, err := worker.ProcessNext(ctx)
		if errors.Is(err, gojob.ErrQueueEmpty) {
			break
		}
		report.Results = append(report.Results, receiptResult(receipt, err))
	}

	if led.store != nil {
		if _, total, err := led.store.Units(ctx, 1, 0); err == nil {
			report.Units = total
		}
	}

	failed := 0
	for _, result := range report.Results {
		if !result.Succeeded {
			failed++
		}
	}
	if err := formatter.Success(report, func(w io.Writer) { printSimulation(w, report) }); err != nil {
		return err
	}
	if failed > 0 {
		return NewExitError(ExitFailure, fmt.Sprintf("%d of %d borrows failed", failed, len(report.Results)))
	}
	return nil
}

func resolvePlan(opts simulateOptions) (SimulationPlan, error) {
	if path := strings.TrimSpace(opts.Requests); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return SimulationPlan{}, err
		}
		var plan SimulationPlan
		if err := yaml.Unmarshal(data, &plan); err != nil {
			return SimulationPlan{}, fmt.Errorf("parse %s: %w", path, err)
		}
		if len(plan.Borrows) == 0 {
			return SimulationPlan{}, fmt.Errorf("%s has no borrows", path)
		}
		if strings.TrimSpace(opts.HostFunding) != "" {
			plan.HostFunding = opts.HostFunding
		}
		return plan, nil
	}

	names := opts.Protocols
	if len(names) == 0 {
		names = core.ProtocolNames()
	}
	plan := SimulationPlan{HostFunding: opts.HostFunding}
	for _, name := range names {
		plan.Borrows = append(plan.Borrows, PlannedBorrow{Protocol: name, Amount: opts.Amount})
	}
	return plan, nil
}

func plannedRequest(scenario *devkit.Scenario, planned PlannedBorrow) (core.BorrowRequest, error) {
	id, err := core.ParseProtocol(planned.Protocol)
	if err != nil {
		return core.BorrowRequest{}, err
	}
	amount, err := parseAmount(planned.Amount)
	if err != nil {
		return core.BorrowRequest{}, err
	}
	req := scenario.Request(id, amount)
	if payload := strings.TrimSpace(planned.Payload); payload != "" {
		decoded, err := hexutil.Decode(payload)
		if err != nil {
			return core.BorrowRequest{}, fmt.Errorf("invalid payload: %w", err)
		}
		req.Payload = decoded
	}
	return req, nil
}

func receiptResult(receipt core.BorrowReceipt, err error) SimulationResult {
	if err != nil {
		return failedResult(receipt.Request, err)
	}
	result := SimulationResult{
		Protocol:  receipt.Request.Protocol.String(),
		Amount:    bigString(receipt.Request.Amount),
		Delta:     receipt.Delta().String(),
		Succeeded: true,
	}
	fee, owed := new(big.Int), new(big.Int)
	for _, loan := range receipt.Loans {
		if loan.Fee != nil {
			fee.Add(fee, loan.Fee)
		}
		if loan.AmountOwed != nil {
			owed.Add(owed, loan.AmountOwed)
		}
	}
	result.Fee, result.Owed = fee.String(), owed.String()
	return result
}

func failedResult(req core.BorrowRequest, err error) SimulationResult {
	return SimulationResult{
		Protocol:  req.Protocol.String(),
		Amount:    bigString(req.Amount),
		Delta:     "0",
		ErrorCode: core.TextCode(err),
		Error:     err.Error(),
	}
}

func bigString(value *big.Int) string {
	if value == nil {
		return "0"
	}
	return value.String()
}

func printSimulation(w io.Writer, report SimulationReport) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "PROTOCOL\tAMOUNT\tFEE\tOWED\tDELTA\tRESULT")
	for _, result := range report.Results {
		outcome := "ok"
		if !result.Succeeded {
			outcome = result.ErrorCode
			if outcome == "" {
				outcome = result.Error
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\n",
			result.Protocol, result.Amount, result.Fee, result.Owed, result.Delta, outcome)
	}
	_ = tw.Flush()
	if report.Duplicates > 0 {
		fmt.Fprintf(w, "%d duplicate borrows dropped\n", report.Duplicates)
	}
	if report.Units > 0 {
		fmt.Fprintf(w, "%s ledger: %d committed units\n", report.Store, report.Units)
	}
}
