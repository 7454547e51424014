package flashroute

import (
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/engine"
)

type Config = core.Config

type Option = core.Option

type Engine = engine.Engine

type Dependencies = core.Dependencies

type Address = core.Address
type ProtocolID = core.ProtocolID
type BorrowRequest = core.BorrowRequest
type BorrowReceipt = core.BorrowReceipt
type Loan = core.Loan
type Frame = core.Frame
type Borrower = core.Borrower
type BorrowerFunc = core.BorrowerFunc
type Executor = core.Executor

const (
	ProtocolAaveV3       = core.ProtocolAaveV3
	ProtocolAaveV3Simple = core.ProtocolAaveV3Simple
	ProtocolBalancerV2   = core.ProtocolBalancerV2
	ProtocolBalancerV3   = core.ProtocolBalancerV3
	ProtocolUniswapV2    = core.ProtocolUniswapV2
	ProtocolERC3156      = core.ProtocolERC3156
	ProtocolMorpho       = core.ProtocolMorpho
)

var (
	WithConfig          = core.WithConfig
	WithLogger          = core.WithLogger
	WithLoggerProvider  = core.WithLoggerProvider
	WithMetricsRecorder = core.WithMetricsRecorder
	WithConfigProvider  = core.WithConfigProvider
	WithOptionsResolver = core.WithOptionsResolver
)

func DefaultConfig() Config {
	return core.DefaultConfig()
}

// New builds an engine deployed at self.
func New(self Address, opts ...Option) (*Engine, error) {
	return engine.New(self, opts...)
}

func PackInitiate(req BorrowRequest) ([]byte, error) {
	return engine.PackInitiate(req)
}
