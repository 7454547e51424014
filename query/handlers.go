package query

import (
	"context"

	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/protocol"
)

type ProtocolCatalog interface {
	ListProtocols(ctx context.Context) ([]protocol.Info, error)
	DescribeProtocol(ctx context.Context, id core.ProtocolID) (protocol.Info, error)
}

type ListProtocolsQuery struct {
	catalog ProtocolCatalog
}

func NewListProtocolsQuery(catalog ProtocolCatalog) *ListProtocolsQuery {
	return &ListProtocolsQuery{catalog: catalog}
}

func (q *ListProtocolsQuery) Query(ctx context.Context, msg ListProtocolsMessage) ([]protocol.Info, error) {
	if q == nil || q.catalog == nil {
		return nil, queryDependencyError("query: protocol catalog is required")
	}
	infos, err := q.catalog.ListProtocols(ctx)
	if err != nil {
		return nil, err
	}
	if !msg.EnabledOnly {
		return infos, nil
	}
	out := make([]protocol.Info, 0, len(infos))
	for _, info := range infos {
		if info.Enabled {
			out = append(out, info)
		}
	}
	return out, nil
}

type DescribeProtocolQuery struct {
	catalog ProtocolCatalog
}

func NewDescribeProtocolQuery(catalog ProtocolCatalog) *DescribeProtocolQuery {
	return &DescribeProtocolQuery{catalog: catalog}
}

func (q *DescribeProtocolQuery) Query(ctx context.Context, msg DescribeProtocolMessage) (protocol.Info, error) {
	if q == nil || q.catalog == nil {
		return protocol.Info{}, queryDependencyError("query: protocol catalog is required")
	}
	return q.catalog.DescribeProtocol(ctx, msg.Protocol)
}
