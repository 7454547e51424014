package command

import (
	"context"

	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-flashroute/core"
)

// BorrowService executes one borrow as an indivisible unit of work.
type BorrowService interface {
	InitiateBorrow(ctx context.Context, req core.BorrowRequest) (core.BorrowReceipt, error)
}

type InitiateBorrowCommand struct {
	service BorrowService
}

func NewInitiateBorrowCommand(service BorrowService) *InitiateBorrowCommand {
	return &InitiateBorrowCommand{service: service}
}

// Execute stores the receipt in the context's result collector, including
// the receipt of a failed borrow.
func (c *InitiateBorrowCommand) Execute(ctx context.Context, msg InitiateBorrowMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: borrow service is required")
	}
	out, err := c.service.InitiateBorrow(ctx, msg.Request)
	storeResult(ctx, out)
	return err
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
