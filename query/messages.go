package query

import (
	"github.com/goliatone/go-flashroute/core"
)

const (
	TypeListProtocols    = "flashroute.query.protocols.list"
	TypeDescribeProtocol = "flashroute.query.protocols.describe"
)

type ListProtocolsMessage struct {
	EnabledOnly bool
}

func (ListProtocolsMessage) Type() string { return TypeListProtocols }

// DescribeProtocolMessage leaves unknown ids to the catalog, which answers
// with UNSUPPORTED_PROTOCOL.
type DescribeProtocolMessage struct {
	Protocol core.ProtocolID
}

func (DescribeProtocolMessage) Type() string { return TypeDescribeProtocol }
