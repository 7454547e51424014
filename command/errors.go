package command

import (
	"github.com/goliatone/go-flashroute/core"
)

func commandDependencyError(message string) error {
	return core.ErrInternal(message, nil)
}
