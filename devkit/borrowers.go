package devkit

import (
	"context"
	"errors"
	"math/big"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/protocol"
)

// Recorder captures every loan handed to the host and optionally delegates
// to Next.
type Recorder struct {
	Next core.Borrower

	mu    sync.Mutex
	loans []core.Loan
}

func (r *Recorder) OnBorrow(ctx context.Context, frame core.Frame, loan core.Loan) error {
	r.mu.Lock()
	r.loans = append(r.loans, loan)
	r.mu.Unlock()
	if r.Next == nil {
		return nil
	}
	return r.Next.OnBorrow(ctx, frame, loan)
}

func (r *Recorder) Loans() []core.Loan {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]core.Loan, len(r.loans))
	copy(out, r.loans)
	return out
}

func (r *Recorder) Reset() {
	r.mu.Lock()
	r.loans = nil
	r.mu.Unlock()
}

// Keep accepts every loan and leaves repayment to the engine.
func Keep() core.Borrower {
	return core.BorrowerFunc(func(context.Context, core.Frame, core.Loan) error {
		return nil
	})
}

// Spend moves Amount of the borrowed asset from the host to To.
func Spend(to common.Address, amount *big.Int) core.Borrower {
	return core.BorrowerFunc(func(ctx context.Context, frame core.Frame, loan core.Loan) error {
		data, err := protocol.PackTransfer(to, amount)
		if err != nil {
			return err
		}
		_, err = frame.Executor.Call(ctx, frame.Self, loan.Asset, data)
		return err
	})
}

// MintFee mints the loan fee to the host, modelling logic that earns at
// least the fee with the borrowed funds.
func MintFee() core.Borrower {
	return core.BorrowerFunc(func(ctx context.Context, frame core.Frame, loan core.Loan) error {
		if loan.Fee == nil || loan.Fee.Sign() == 0 {
			return nil
		}
		data, err := protocol.PackMint(frame.Self, loan.Fee)
		if err != nil {
			return err
		}
		_, err = frame.Executor.Call(ctx, frame.Self, loan.Asset, data)
		return err
	})
}

// Fail aborts host logic with err.
func Fail(err error) core.Borrower {
	if err == nil {
		err = errors.New("devkit: host logic failed")
	}
	return core.BorrowerFunc(func(context.Context, core.Frame, core.Loan) error {
		return err
	})
}

// Reenter issues a nested initiate against the host from inside host logic.
func Reenter(req core.BorrowRequest, pack func(core.BorrowRequest) ([]byte, error)) core.Borrower {
	return core.BorrowerFunc(func(ctx context.Context, frame core.Frame, _ core.Loan) error {
		data, err := pack(req)
		if err != nil {
			return err
		}
		_, err = frame.Executor.Call(ctx, frame.Self, frame.Self, data)
		return err
	})
}

// Sequence runs borrowers in order, stopping at the first failure.
func Sequence(borrowers ...core.Borrower) core.Borrower {
	return core.BorrowerFunc(func(ctx context.Context, frame core.Frame, loan core.Loan) error {
		for _, borrower := range borrowers {
			if borrower == nil {
				continue
			}
			if err := borrower.OnBorrow(ctx, frame, loan); err != nil {
				return err
			}
		}
		return nil
	})
}
