package sqlstore

import "github.com/goliatone/go-flashroute/chain"

var _ chain.Backend = (*LedgerStore)(nil)
