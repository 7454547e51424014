package engine_test

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"sync"
	"testing"

	"github.com/goliatone/go-flashroute/chain"
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/devkit"
	"github.com/goliatone/go-flashroute/engine"
	"github.com/goliatone/go-flashroute/protocol"
)

func newScenario(t *testing.T, mutate func(*devkit.ScenarioOptions)) *devkit.Scenario {
	t.Helper()
	opts := devkit.DefaultScenarioOptions()
	opts.Backend = chain.NewMemoryBackend()
	if mutate != nil {
		mutate(&opts)
	}
	scenario, err := devkit.NewScenario(context.Background(), opts)
	if err != nil {
		t.Fatalf("new scenario: %v", err)
	}
	return scenario
}

func commits(t *testing.T, scenario *devkit.Scenario) int {
	t.Helper()
	backend, ok := scenario.World.Backend().(*chain.MemoryBackend)
	if !ok {
		t.Fatalf("expected memory backend")
	}
	return backend.Commits()
}

func TestEngine_AllProtocolsRoundTrip(t *testing.T) {
	amount := big.NewInt(1_000_000)
	fees := map[core.ProtocolID]int64{
		core.ProtocolAaveV3:       500,
		core.ProtocolAaveV3Simple: 500,
		core.ProtocolBalancerV2:   0,
		core.ProtocolBalancerV3:   0,
		core.ProtocolUniswapV2:    3010,
		core.ProtocolERC3156:      900,
		core.ProtocolMorpho:       0,
	}
	for id := core.ProtocolID(0); id < core.ProtocolCount; id++ {
		t.Run(id.String(), func(t *testing.T) {
			scenario := newScenario(t, nil)
			outcome, err := scenario.RoundTrip(context.Background(), id, amount)
			if err != nil {
				t.Fatalf("borrow through %s: %v", id, err)
			}
			if len(outcome.Loans) != 1 {
				t.Fatalf("expected one loan, got %d", len(outcome.Loans))
			}
			loan := outcome.Loans[0]
			if loan.Asset != devkit.AssetAddress {
				t.Fatalf("expected asset %s, got %s", devkit.AssetAddress.Hex(), loan.Asset.Hex())
			}
			if loan.Venue != scenario.Venues[id] {
				t.Fatalf("expected venue %s, got %s", scenario.Venues[id].Hex(), loan.Venue.Hex())
			}
			if loan.Fee.Int64() != fees[id] {
				t.Fatalf("expected fee %d, got %s", fees[id], loan.Fee)
			}
			if string(loan.Payload) != string(devkit.DefaultPayload) {
				t.Fatalf("expected payload to reach host logic verbatim, got %q", loan.Payload)
			}
			want := new(big.Int).Sub(amount, loan.AmountOwed)
			if outcome.Delta().Cmp(want) != 0 {
				t.Fatalf("expected host delta %s, got %s", want, outcome.Delta())
			}
			if err := devkit.ValidateVenueConformance(context.Background(), scenario, id, amount); err != nil {
				t.Fatalf("conformance: %v", err)
			}
		})
	}
}

func TestEngine_ZeroAmountFailsBeforeAnyCall(t *testing.T) {
	scenario := newScenario(t, nil)
	before := commits(t, scenario)
	for id := core.ProtocolID(0); id < core.ProtocolCount; id++ {
		err := scenario.Borrow(context.Background(), scenario.Request(id, big.NewInt(0)))
		if !core.HasTextCode(err, core.ErrorInsufficientAmount) {
			t.Fatalf("%s: expected insufficient amount, got %v", id, err)
		}
		if trace := scenario.World.Trace(); len(trace) != 1 {
			t.Fatalf("%s: expected only the host call, got %d calls", id, len(trace))
		}
	}
	if after := commits(t, scenario); after != before {
		t.Fatalf("expected no commits, got %d", after-before)
	}
}

func TestEngine_ValidationOrder(t *testing.T) {
	scenario := newScenario(t, nil)
	base := scenario.Request(core.ProtocolMorpho, big.NewInt(10))
	cases := []struct {
		name   string
		mutate func(*core.BorrowRequest)
		code   string
	}{
		{"empty venue wins over everything", func(r *core.BorrowRequest) {
			r.Venue = core.Address{}
			r.Asset = core.Address{}
			r.Amount = big.NewInt(0)
			r.Payload = nil
			r.Protocol = 9
		}, core.ErrorInvalidProvider},
		{"empty asset", func(r *core.BorrowRequest) {
			r.Asset = core.Address{}
			r.Amount = big.NewInt(0)
		}, core.ErrorInvalidAsset},
		{"zero amount", func(r *core.BorrowRequest) {
			r.Amount = big.NewInt(0)
			r.Payload = nil
		}, core.ErrorInsufficientAmount},
		{"empty payload", func(r *core.BorrowRequest) {
			r.Payload = nil
			r.Protocol = 9
		}, core.ErrorInvalidDataLength},
		{"unknown protocol", func(r *core.BorrowRequest) {
			r.Protocol = 7
		}, core.ErrorUnsupportedProtocol},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			req := base
			tc.mutate(&req)
			err := scenario.Borrow(context.Background(), req)
			if !core.HasTextCode(err, tc.code) {
				t.Fatalf("expected %s, got %v", tc.code, err)
			}
		})
	}
}

func TestEngine_UnknownProtocolHasNoSideEffects(t *testing.T) {
	scenario := newScenario(t, nil)
	before := commits(t, scenario)
	err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolID(7), big.NewInt(100)))
	if !core.HasTextCode(err, core.ErrorUnsupportedProtocol) {
		t.Fatalf("expected unsupported protocol, got %v", err)
	}
	if !strings.Contains(err.Error(), "UnsupportedProtocol(7)") {
		t.Fatalf("expected protocol id in message, got %q", err.Error())
	}
	if len(scenario.World.Trace()) != 1 {
		t.Fatalf("expected no outbound call")
	}
	if after := commits(t, scenario); after != before {
		t.Fatalf("expected no commits")
	}
}

func TestEngine_DisabledProtocolIsUnsupported(t *testing.T) {
	scenario := newScenario(t, func(opts *devkit.ScenarioOptions) {
		opts.EngineOptions = []core.Option{core.WithConfig(core.Config{
			Protocols: core.ProtocolsConfig{Enabled: []string{"morpho"}},
		})}
	})
	err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolAaveV3, big.NewInt(100)))
	if !core.HasTextCode(err, core.ErrorUnsupportedProtocol) {
		t.Fatalf("expected disabled protocol to be unsupported, got %v", err)
	}
	if err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolMorpho, big.NewInt(100))); err != nil {
		t.Fatalf("expected enabled protocol to succeed: %v", err)
	}
}

func TestEngine_DirectCallIsNotDelegated(t *testing.T) {
	scenario := newScenario(t, nil)
	if err := scenario.World.Deploy(devkit.EngineAddress, devkit.NewHost(scenario.Engine, nil)); err != nil {
		t.Fatalf("deploy engine: %v", err)
	}

	req := scenario.Request(core.ProtocolMorpho, big.NewInt(100))
	data, err := engine.PackInitiate(req)
	if err != nil {
		t.Fatalf("pack initiate: %v", err)
	}
	_, err = scenario.World.Transact(context.Background(), devkit.CallerAddress, devkit.EngineAddress, data)
	if !core.HasTextCode(err, core.ErrorNotDelegated) {
		t.Fatalf("expected not delegated on initiate, got %v", err)
	}

	callback, err := protocol.MorphoCallbackABI.Pack("onMorphoFlashLoan", big.NewInt(100), []byte("x"))
	if err != nil {
		t.Fatalf("pack callback: %v", err)
	}
	_, err = scenario.World.Transact(context.Background(), scenario.Venues[core.ProtocolMorpho], devkit.EngineAddress, callback)
	if !core.HasTextCode(err, core.ErrorNotDelegated) {
		t.Fatalf("expected not delegated on callback, got %v", err)
	}
}

func TestEngine_CallbackFromStrangerIsUnauthorized(t *testing.T) {
	scenario := newScenario(t, nil)
	callback, err := protocol.MorphoCallbackABI.Pack("onMorphoFlashLoan", big.NewInt(100), []byte("x"))
	if err != nil {
		t.Fatalf("pack callback: %v", err)
	}

	_, err = scenario.World.Transact(context.Background(), devkit.CallerAddress, devkit.HostAddress, callback)
	if !core.HasTextCode(err, core.ErrorUnauthorizedCallback) {
		t.Fatalf("expected unauthorized callback without a request, got %v", err)
	}

	impostor := devkit.Address("impostor")
	if err := scenario.World.Deploy(impostor, &devkit.Relay{Target: devkit.HostAddress}); err != nil {
		t.Fatalf("deploy relay: %v", err)
	}
	_, err = scenario.World.Transact(context.Background(), devkit.CallerAddress, impostor, callback)
	if !core.HasTextCode(err, core.ErrorUnauthorizedCallback) {
		t.Fatalf("expected unauthorized callback from relay, got %v", err)
	}
}

func TestEngine_UnknownSelectorFromVenueIsUnsupported(t *testing.T) {
	scenario := newScenario(t, nil)
	odd := devkit.Address("venue.odd")
	if err := scenario.World.Deploy(odd, chain.ContractFunc(func(ctx context.Context, env *chain.Env, msg chain.Message) ([]byte, error) {
		return env.Call(ctx, env.Self(), msg.From, []byte{0xde, 0xad, 0xbe, 0xef})
	})); err != nil {
		t.Fatalf("deploy odd venue: %v", err)
	}
	req := scenario.Request(core.ProtocolMorpho, big.NewInt(100))
	req.Venue = odd
	err := scenario.Borrow(context.Background(), req)
	if !core.HasTextCode(err, core.ErrorUnsupportedSelector) {
		t.Fatalf("expected unsupported selector, got %v", err)
	}
	if !strings.Contains(err.Error(), "0xdeadbeef") {
		t.Fatalf("expected selector in message, got %q", err.Error())
	}
}

func TestEngine_UniswapForeignAssetStopsAfterTwoQueries(t *testing.T) {
	scenario := newScenario(t, nil)
	before := commits(t, scenario)
	req := scenario.Request(core.ProtocolUniswapV2, big.NewInt(100))
	req.Asset = devkit.Address("token.foreign")

	err := scenario.Borrow(context.Background(), req)
	if !core.HasTextCode(err, core.ErrorInvalidAsset) {
		t.Fatalf("expected invalid asset, got %v", err)
	}
	trace := scenario.World.Trace()
	if len(trace) != 3 {
		t.Fatalf("expected host call plus two queries, got %d calls", len(trace))
	}
	for _, entry := range trace[1:] {
		if !entry.Static || entry.To != scenario.Venues[core.ProtocolUniswapV2] {
			t.Fatalf("expected read-only pair queries, got %+v", entry)
		}
	}
	if after := commits(t, scenario); after != before {
		t.Fatalf("expected no state written")
	}
}

func TestEngine_ZeroFeeBorrowKeepsHostBalance(t *testing.T) {
	scenario := newScenario(t, func(opts *devkit.ScenarioOptions) {
		opts.HostFunding = big.NewInt(10)
	})
	var during *big.Int
	scenario.SetBorrower(core.BorrowerFunc(func(ctx context.Context, frame core.Frame, loan core.Loan) error {
		data, err := protocol.PackBalanceOf(frame.Self)
		if err != nil {
			return err
		}
		ret, err := frame.Executor.StaticCall(ctx, frame.Self, loan.Asset, data)
		if err != nil {
			return err
		}
		during, err = protocol.DecodeUint256(ret)
		return err
	}))

	if err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolMorpho, big.NewInt(20))); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if during == nil || during.Int64() != 30 {
		t.Fatalf("expected host logic to hold 30, got %v", during)
	}
	balance, err := scenario.Balance(context.Background(), devkit.HostAddress)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if balance.Int64() != 10 {
		t.Fatalf("expected final balance 10, got %s", balance)
	}
}

func TestEngine_RepeatedBorrowsAreIdempotent(t *testing.T) {
	scenario := newScenario(t, nil)
	amount := big.NewInt(250_000)
	first, err := scenario.RoundTrip(context.Background(), core.ProtocolAaveV3, amount)
	if err != nil {
		t.Fatalf("first borrow: %v", err)
	}
	second, err := scenario.RoundTrip(context.Background(), core.ProtocolAaveV3, amount)
	if err != nil {
		t.Fatalf("second borrow: %v", err)
	}
	if first.Delta().Cmp(second.Delta()) != 0 {
		t.Fatalf("expected identical deltas, got %s and %s", first.Delta(), second.Delta())
	}
}

func TestEngine_HostShortfallUnwindsEverything(t *testing.T) {
	scenario := newScenario(t, func(opts *devkit.ScenarioOptions) {
		opts.HostFunding = big.NewInt(0)
	})
	sink := devkit.Address("sink")
	scenario.SetBorrower(devkit.Spend(sink, big.NewInt(1)))
	venue := scenario.Venues[core.ProtocolBalancerV2]
	venueBefore, _ := scenario.Balance(context.Background(), venue)
	before := commits(t, scenario)

	err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolBalancerV2, big.NewInt(1000)))
	if !core.HasTextCode(err, core.ErrorInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}
	if after := commits(t, scenario); after != before {
		t.Fatalf("expected nothing committed")
	}
	for holder, want := range map[core.Address]*big.Int{
		devkit.HostAddress: big.NewInt(0),
		sink:               big.NewInt(0),
		venue:              venueBefore,
	} {
		got, err := scenario.Balance(context.Background(), holder)
		if err != nil {
			t.Fatalf("balance: %v", err)
		}
		if got.Cmp(want) != 0 {
			t.Fatalf("expected %s to hold %s after unwind, got %s", holder.Hex(), want, got)
		}
	}
}

func TestEngine_HostFailurePassesThroughUnchanged(t *testing.T) {
	scenario := newScenario(t, nil)
	boom := errors.New("strategy rejected")
	scenario.SetBorrower(devkit.Fail(boom))
	err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolERC3156, big.NewInt(1000)))
	if !errors.Is(err, boom) {
		t.Fatalf("expected host error unchanged, got %v", err)
	}
}

func TestEngine_VenueRevertPassesThroughUnchanged(t *testing.T) {
	scenario := newScenario(t, func(opts *devkit.ScenarioOptions) {
		opts.Liquidity = big.NewInt(100)
	})
	err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolMorpho, big.NewInt(1000)))
	var revert *chain.Revert
	if !errors.As(err, &revert) {
		t.Fatalf("expected venue revert, got %T %v", err, err)
	}
	if revert.Reason != "ASSET: insufficient balance" {
		t.Fatalf("expected token reason unchanged, got %q", revert.Reason)
	}
	if core.TextCode(err) != "" {
		t.Fatalf("expected venue failure not to be wrapped, got %q", core.TextCode(err))
	}
}

func TestEngine_ApproveRequiresZeroToken(t *testing.T) {
	scenario := newScenario(t, func(opts *devkit.ScenarioOptions) {
		opts.AssetQuirks = chain.TokenQuirks{ApproveRequiresZero: true}
	})
	pool := scenario.Venues[core.ProtocolAaveV3]
	approve, err := protocol.PackApprove(pool, big.NewInt(1))
	if err != nil {
		t.Fatalf("pack approve: %v", err)
	}
	if _, err := scenario.World.Transact(context.Background(), devkit.HostAddress, devkit.AssetAddress, approve); err != nil {
		t.Fatalf("seed allowance: %v", err)
	}

	if err := devkit.ValidateVenueConformance(context.Background(), scenario, core.ProtocolAaveV3, big.NewInt(100_000)); err != nil {
		t.Fatalf("expected resilient approve to succeed: %v", err)
	}
	allowance, err := chain.Allowance(context.Background(), scenario.World, devkit.AssetAddress, devkit.HostAddress, pool)
	if err != nil {
		t.Fatalf("allowance: %v", err)
	}
	if allowance.Sign() != 0 {
		t.Fatalf("expected allowance consumed, got %s", allowance)
	}
}

func TestEngine_NoReturnValueTokenCountsAsSuccess(t *testing.T) {
	scenario := newScenario(t, func(opts *devkit.ScenarioOptions) {
		opts.AssetQuirks = chain.TokenQuirks{NoReturnValue: true}
	})
	for _, id := range []core.ProtocolID{core.ProtocolAaveV3Simple, core.ProtocolBalancerV2, core.ProtocolBalancerV3, core.ProtocolMorpho} {
		if err := devkit.ValidateVenueConformance(context.Background(), scenario, id, big.NewInt(50_000)); err != nil {
			t.Fatalf("%s: %v", id, err)
		}
	}
}

func TestEngine_SecondCallbackIsRejected(t *testing.T) {
	scenario := newScenario(t, nil)
	scenario.Morpho.CallbackTwice = true
	err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolMorpho, big.NewInt(100)))
	if !core.HasTextCode(err, core.ErrorUnauthorizedCallback) {
		t.Fatalf("expected replayed callback rejected, got %v", err)
	}

	relaxed := newScenario(t, func(opts *devkit.ScenarioOptions) {
		opts.EngineOptions = []core.Option{core.WithConfig(core.Config{
			Hardening: core.HardeningConfig{AllowContextReuse: true},
		})}
	})
	relaxed.Morpho.CallbackTwice = true
	if err := relaxed.Borrow(context.Background(), relaxed.Request(core.ProtocolMorpho, big.NewInt(100))); err != nil {
		t.Fatalf("expected replay accepted when reuse is allowed: %v", err)
	}
}

func TestEngine_NestedInitiateIsRejected(t *testing.T) {
	scenario := newScenario(t, nil)
	nested := scenario.Request(core.ProtocolMorpho, big.NewInt(5))
	scenario.SetBorrower(devkit.Reenter(nested, engine.PackInitiate))
	err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolBalancerV2, big.NewInt(100)))
	if !core.HasTextCode(err, core.ErrorReentrantInitiate) {
		t.Fatalf("expected reentrant initiate, got %v", err)
	}
}

func TestEngine_NestedInitiateAllowedRestoresOuterContext(t *testing.T) {
	scenario := newScenario(t, func(opts *devkit.ScenarioOptions) {
		opts.EngineOptions = []core.Option{core.WithConfig(core.Config{
			Hardening: core.HardeningConfig{AllowNestedInitiate: true},
		})}
	})
	nested := scenario.Request(core.ProtocolMorpho, big.NewInt(5))
	depth := 0
	reenter := devkit.Reenter(nested, engine.PackInitiate)
	scenario.SetBorrower(core.BorrowerFunc(func(ctx context.Context, frame core.Frame, loan core.Loan) error {
		depth++
		if depth > 1 {
			return nil
		}
		return reenter.OnBorrow(ctx, frame, loan)
	}))
	if err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolBalancerV2, big.NewInt(100))); err != nil {
		t.Fatalf("expected nested borrow to succeed: %v", err)
	}
	if depth != 2 {
		t.Fatalf("expected host logic to run for both borrows, got %d", depth)
	}
}

func TestEngine_ForgedInitiatorIsRejected(t *testing.T) {
	scenario := newScenario(t, nil)
	scenario.AavePool.ForgeInitiator = devkit.Address("stranger")
	for _, id := range []core.ProtocolID{core.ProtocolAaveV3, core.ProtocolAaveV3Simple} {
		err := scenario.Borrow(context.Background(), scenario.Request(id, big.NewInt(100)))
		if !core.HasTextCode(err, core.ErrorInvalidInitiator) {
			t.Fatalf("%s: expected invalid initiator, got %v", id, err)
		}
	}
}

type countingMetrics struct {
	mu       sync.Mutex
	counters map[string]int64
}

func (m *countingMetrics) IncCounter(_ context.Context, name string, value int64, _ map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.counters == nil {
		m.counters = map[string]int64{}
	}
	m.counters[name] += value
}

func (m *countingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func TestEngine_ObservesBothEntryPoints(t *testing.T) {
	metrics := &countingMetrics{}
	scenario := newScenario(t, func(opts *devkit.ScenarioOptions) {
		opts.EngineOptions = []core.Option{core.WithMetricsRecorder(metrics)}
	})
	if err := scenario.Borrow(context.Background(), scenario.Request(core.ProtocolMorpho, big.NewInt(100))); err != nil {
		t.Fatalf("borrow: %v", err)
	}
	if metrics.counters["flashroute.initiate.total"] != 1 {
		t.Fatalf("expected one initiate observation, got %v", metrics.counters)
	}
	if metrics.counters["flashroute.callback.total"] != 1 {
		t.Fatalf("expected one callback observation, got %v", metrics.counters)
	}
}

func TestInitiateCalldataRoundTrip(t *testing.T) {
	req := core.BorrowRequest{
		Protocol: core.ProtocolUniswapV2,
		Venue:    devkit.Address("venue"),
		Asset:    devkit.Address("asset"),
		Amount:   big.NewInt(42),
		Payload:  []byte{1, 2, 3},
	}
	data, err := engine.PackInitiate(req)
	if err != nil {
		t.Fatalf("pack: %v", err)
	}
	if !engine.IsInitiate(data) {
		t.Fatalf("expected initiate selector")
	}
	decoded, err := engine.InitiateCalldata(data)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if decoded.Protocol != req.Protocol || decoded.Venue != req.Venue || decoded.Asset != req.Asset ||
		decoded.Amount.Cmp(req.Amount) != 0 || string(decoded.Payload) != string(req.Payload) {
		t.Fatalf("expected %+v, got %+v", req, decoded)
	}
	if _, err := engine.InitiateCalldata([]byte{1, 2}); !core.HasTextCode(err, core.ErrorMalformedCalldata) {
		t.Fatalf("expected malformed calldata, got %v", err)
	}
}

func TestNew_RequiresAddress(t *testing.T) {
	if _, err := engine.New(core.Address{}); !core.HasTextCode(err, core.ErrorInternal) {
		t.Fatalf("expected internal error for missing address, got %v", err)
	}
}
