package query

import (
	gocmd "github.com/goliatone/go-command"

	"github.com/goliatone/go-flashroute/protocol"
)

var (
	_ gocmd.Querier[ListProtocolsMessage, []protocol.Info]  = (*ListProtocolsQuery)(nil)
	_ gocmd.Querier[DescribeProtocolMessage, protocol.Info] = (*DescribeProtocolQuery)(nil)
)
