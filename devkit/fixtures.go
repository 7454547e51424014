package devkit

import (
	"bytes"
	"context"
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"

	"github.com/goliatone/go-flashroute/chain"
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/engine"
	"github.com/goliatone/go-flashroute/protocol"
)

var (
	EngineAddress = Address("engine")
	HostAddress   = Address("host")
	CallerAddress = Address("caller")
	AssetAddress  = Address("token.asset")
	QuoteAddress  = Address("token.quote")
)

// VenueAddress is the fixture address of the venue serving id.
func VenueAddress(id core.ProtocolID) common.Address {
	return Address("venue." + id.String())
}

// DefaultPayload is the opaque payload fixture borrows carry.
var DefaultPayload = []byte("flashroute")

type ScenarioOptions struct {
	Backend       chain.Backend
	EngineOptions []core.Option
	AssetQuirks   chain.TokenQuirks
	Borrower      core.Borrower
	// Liquidity is minted to every venue in both fixture tokens.
	Liquidity *big.Int
	// HostFunding is minted to the host before any borrow.
	HostFunding *big.Int

	AavePremiumBps   uint64
	BalancerV2FeeBps uint64
	ERC3156FeeBps    uint64
}

func DefaultScenarioOptions() ScenarioOptions {
	return ScenarioOptions{
		Liquidity:        big.NewInt(1_000_000_000),
		HostFunding:      big.NewInt(1_000_000),
		AavePremiumBps:   5,
		BalancerV2FeeBps: 0,
		ERC3156FeeBps:    9,
	}
}

// Scenario is a world with one engine, one host, two tokens and one
// funded venue per protocol.
type Scenario struct {
	World  *chain.World
	Engine *engine.Engine
	Host   *Host
	Venues map[core.ProtocolID]common.Address

	AavePool   *AavePool
	BalancerV2 *BalancerV2Vault
	BalancerV3 *BalancerV3Vault
	Pair       *UniswapPair
	Lender     *ERC3156Lender
	Morpho     *Morpho
}

func NewScenario(ctx context.Context, opts ScenarioOptions) (*Scenario, error) {
	defaults := DefaultScenarioOptions()
	if opts.Liquidity == nil {
		opts.Liquidity = defaults.Liquidity
	}
	if opts.HostFunding == nil {
		opts.HostFunding = defaults.HostFunding
	}

	eng, err := engine.New(EngineAddress, opts.EngineOptions...)
	if err != nil {
		return nil, err
	}
	world := chain.NewWorld(opts.Backend)
	s := &Scenario{
		World:      world,
		Engine:     eng,
		Host:       NewHost(eng, opts.Borrower),
		Venues:     map[core.ProtocolID]common.Address{},
		AavePool:   &AavePool{PremiumBps: opts.AavePremiumBps},
		BalancerV2: &BalancerV2Vault{FeeBps: opts.BalancerV2FeeBps},
		BalancerV3: &BalancerV3Vault{},
		Lender:     &ERC3156Lender{FeeBps: opts.ERC3156FeeBps},
		Morpho:     &Morpho{},
	}
	token0, token1 := AssetAddress, QuoteAddress
	if bytes.Compare(token0.Bytes(), token1.Bytes()) > 0 {
		token0, token1 = token1, token0
	}
	s.Pair = &UniswapPair{Token0: token0, Token1: token1}

	venues := map[core.ProtocolID]chain.Contract{
		core.ProtocolAaveV3:       s.AavePool,
		core.ProtocolAaveV3Simple: s.AavePool,
		core.ProtocolBalancerV2:   s.BalancerV2,
		core.ProtocolBalancerV3:   s.BalancerV3,
		core.ProtocolUniswapV2:    s.Pair,
		core.ProtocolERC3156:      s.Lender,
		core.ProtocolMorpho:       s.Morpho,
	}
	deploys := []deployment{
		{AssetAddress, chain.NewToken("ASSET", opts.AssetQuirks)},
		{QuoteAddress, chain.NewToken("QUOTE", chain.TokenQuirks{})},
		{HostAddress, s.Host},
	}
	for id := core.ProtocolID(0); id < core.ProtocolCount; id++ {
		addr := VenueAddress(id)
		if id == core.ProtocolAaveV3Simple {
			addr = VenueAddress(core.ProtocolAaveV3)
		} else {
			deploys = append(deploys, deployment{addr, venues[id]})
		}
		s.Venues[id] = addr
	}
	for _, deploy := range deploys {
		if err := world.Deploy(deploy.addr, deploy.contract); err != nil {
			return nil, err
		}
	}

	for id, venue := range s.Venues {
		if id == core.ProtocolAaveV3Simple {
			continue
		}
		for _, token := range []common.Address{AssetAddress, QuoteAddress} {
			if err := chain.Mint(ctx, world, token, venue, opts.Liquidity); err != nil {
				return nil, fmt.Errorf("devkit: fund %s: %w", id, err)
			}
		}
	}
	sync, err := protocol.UniswapV2PairABI.Pack("sync")
	if err != nil {
		return nil, err
	}
	if _, err := world.Transact(ctx, CallerAddress, s.Venues[core.ProtocolUniswapV2], sync); err != nil {
		return nil, fmt.Errorf("devkit: sync pair: %w", err)
	}
	if opts.HostFunding.Sign() > 0 {
		if err := chain.Mint(ctx, world, AssetAddress, HostAddress, opts.HostFunding); err != nil {
			return nil, fmt.Errorf("devkit: fund host: %w", err)
		}
	}
	return s, nil
}

type deployment struct {
	addr     common.Address
	contract chain.Contract
}

// SetBorrower swaps the host logic. A nil borrower restores Keep.
func (s *Scenario) SetBorrower(borrower core.Borrower) {
	if borrower == nil {
		borrower = Keep()
	}
	s.Host.Borrower = borrower
}

// Request builds a borrow of amount of the fixture asset from id's venue.
func (s *Scenario) Request(id core.ProtocolID, amount *big.Int) core.BorrowRequest {
	venue, ok := s.Venues[id]
	if !ok {
		venue = VenueAddress(id)
	}
	return core.BorrowRequest{
		Protocol: id,
		Venue:    venue,
		Asset:    AssetAddress,
		Amount:   amount,
		Payload:  DefaultPayload,
	}
}

// Borrow submits req to the host as one unit of work.
func (s *Scenario) Borrow(ctx context.Context, req core.BorrowRequest) error {
	data, err := engine.PackInitiate(req)
	if err != nil {
		return err
	}
	_, err = s.World.Transact(ctx, CallerAddress, HostAddress, data)
	return err
}

func (s *Scenario) Balance(ctx context.Context, holder common.Address) (*big.Int, error) {
	return chain.BalanceOf(ctx, s.World, AssetAddress, holder)
}

// Outcome is the observable result of one borrow.
type Outcome struct {
	Protocol core.ProtocolID
	Before   *big.Int
	After    *big.Int
	Loans    []core.Loan
}

// Delta is the host's net balance change.
func (o Outcome) Delta() *big.Int {
	if o.Before == nil || o.After == nil {
		return new(big.Int)
	}
	return new(big.Int).Sub(o.After, o.Before)
}

// RoundTrip borrows amount through id's venue and reports the host balance
// around it together with the loans host logic saw.
func (s *Scenario) RoundTrip(ctx context.Context, id core.ProtocolID, amount *big.Int) (Outcome, error) {
	return s.Execute(ctx, s.Request(id, amount))
}

// Execute submits req and reports the host balance of req's asset around
// it. Balances stay nil when req's asset is not a token of this world.
func (s *Scenario) Execute(ctx context.Context, req core.BorrowRequest) (Outcome, error) {
	outcome := Outcome{Protocol: req.Protocol}
	outcome.Before = s.hostBalance(ctx, req.Asset)

	recorder := &Recorder{Next: s.Host.Borrower}
	previous := s.Host.Borrower
	s.Host.Borrower = recorder
	defer func() { s.Host.Borrower = previous }()

	err := s.Borrow(ctx, req)
	outcome.Loans = recorder.Loans()
	outcome.After = s.hostBalance(ctx, req.Asset)
	return outcome, err
}

func (s *Scenario) hostBalance(ctx context.Context, asset common.Address) *big.Int {
	if !s.World.HasCode(asset) {
		return nil
	}
	balance, err := chain.BalanceOf(ctx, s.World, asset, HostAddress)
	if err != nil {
		return nil
	}
	return balance
}

// InitiateBorrow executes req as one unit of work and returns its receipt.
func (s *Scenario) InitiateBorrow(ctx context.Context, req core.BorrowRequest) (core.BorrowReceipt, error) {
	outcome, err := s.Execute(ctx, req)
	return core.BorrowReceipt{
		Request:       req,
		Loans:         outcome.Loans,
		BalanceBefore: outcome.Before,
		BalanceAfter:  outcome.After,
	}, err
}

// ValidateVenueConformance checks that a successful borrow through id moves
// the host's balance by exactly principal minus amount owed.
func ValidateVenueConformance(ctx context.Context, s *Scenario, id core.ProtocolID, amount *big.Int) error {
	outcome, err := s.RoundTrip(ctx, id, amount)
	if err != nil {
		return fmt.Errorf("devkit: %s borrow failed: %w", id, err)
	}
	if len(outcome.Loans) != 1 {
		return fmt.Errorf("devkit: %s expected one loan, got %d", id, len(outcome.Loans))
	}
	loan := outcome.Loans[0]
	if loan.Protocol != id {
		return fmt.Errorf("devkit: expected loan protocol %s, got %s", id, loan.Protocol)
	}
	if loan.Principal.Cmp(amount) != 0 {
		return fmt.Errorf("devkit: %s expected principal %s, got %s", id, amount, loan.Principal)
	}
	want := new(big.Int).Sub(loan.Principal, loan.AmountOwed)
	if outcome.Delta().Cmp(want) != 0 {
		return fmt.Errorf("devkit: %s expected host delta %s, got %s", id, want, outcome.Delta())
	}
	return nil
}
