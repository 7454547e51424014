package query

import (
	"github.com/goliatone/go-flashroute/core"
)

func queryDependencyError(message string) error {
	return core.ErrInternal(message, nil)
}
