package core

import (
	"context"

	glog "github.com/goliatone/go-logger/glog"
)

// Executor is the message-call environment the engine executes in.
type Executor interface {
	Call(ctx context.Context, from Address, to Address, data []byte) ([]byte, error)
	StaticCall(ctx context.Context, from Address, to Address, data []byte) ([]byte, error)
	TransientLoad(owner Address, key Hash) Hash
	TransientStore(owner Address, key Hash, value Hash)
}

// Borrower is the host capability invoked with the borrowed funds.
type Borrower interface {
	OnBorrow(ctx context.Context, frame Frame, loan Loan) error
}

type BorrowerFunc func(ctx context.Context, frame Frame, loan Loan) error

func (fn BorrowerFunc) OnBorrow(ctx context.Context, frame Frame, loan Loan) error {
	if fn == nil {
		return nil
	}
	return fn(ctx, frame, loan)
}

// Frame carries the identity the engine executes as. Self is the host when
// the engine is hosted and the engine's own address when called directly.
type Frame struct {
	Self     Address
	Caller   Address
	Executor Executor
	Borrower Borrower
}

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger
