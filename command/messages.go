package command

import (
	"github.com/goliatone/go-flashroute/core"
)

const (
	TypeInitiateBorrow = "flashroute.command.borrow.initiate"
)

// InitiateBorrowMessage has no Validate: the engine checks the request and
// its error codes reach the caller unchanged.
type InitiateBorrowMessage struct {
	Request core.BorrowRequest
}

func (InitiateBorrowMessage) Type() string { return TypeInitiateBorrow }
