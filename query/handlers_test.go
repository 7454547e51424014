package query

import (
	"context"
	"net/http"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	goerrors "github.com/goliatone/go-errors"

	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/engine"
)

func newCatalog(t *testing.T, enabled ...string) *engine.Engine {
	t.Helper()
	cfg := core.DefaultConfig()
	cfg.Protocols.Enabled = enabled
	eng, err := engine.New(common.HexToAddress("0x00000000000000000000000000000000000000e1"), core.WithConfig(cfg))
	if err != nil {
		t.Fatalf("new engine: %v", err)
	}
	return eng
}

func TestListProtocolsQuery_ListsTableInIDOrder(t *testing.T) {
	infos, err := NewListProtocolsQuery(newCatalog(t)).Query(context.Background(), ListProtocolsMessage{})
	if err != nil {
		t.Fatalf("list protocols: %v", err)
	}
	if len(infos) != core.ProtocolCount {
		t.Fatalf("expected %d protocols, got %d", core.ProtocolCount, len(infos))
	}
	for idx, info := range infos {
		if info.ID != core.ProtocolID(idx) || !info.Enabled {
			t.Fatalf("unexpected entry %d: %+v", idx, info)
		}
		if len(info.OutboundSelector) != 10 || len(info.CallbackSelector) != 10 {
			t.Fatalf("expected 0x-prefixed 4-byte selectors, got %q %q", info.OutboundSelector, info.CallbackSelector)
		}
	}
}

func TestListProtocolsQuery_EnabledOnly(t *testing.T) {
	catalog := newCatalog(t, core.ProtocolMorpho.String(), core.ProtocolERC3156.String())
	infos, err := NewListProtocolsQuery(catalog).Query(context.Background(), ListProtocolsMessage{EnabledOnly: true})
	if err != nil {
		t.Fatalf("list protocols: %v", err)
	}
	if len(infos) != 2 || infos[0].ID != core.ProtocolERC3156 || infos[1].ID != core.ProtocolMorpho {
		t.Fatalf("expected erc3156 and morpho, got %+v", infos)
	}
}

func TestDescribeProtocolQuery(t *testing.T) {
	info, err := NewDescribeProtocolQuery(newCatalog(t)).Query(context.Background(), DescribeProtocolMessage{Protocol: core.ProtocolBalancerV3})
	if err != nil {
		t.Fatalf("describe: %v", err)
	}
	if !info.Handshake || info.Settlement != core.SettlementPushTransfer {
		t.Fatalf("expected balancer v3 handshake push settlement, got %+v", info)
	}
}

func TestDescribeProtocolQuery_UnknownIDReturnsEngineError(t *testing.T) {
	_, err := NewDescribeProtocolQuery(newCatalog(t)).Query(context.Background(), DescribeProtocolMessage{Protocol: core.ProtocolCount})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) {
		t.Fatalf("expected go-errors envelope, got %T", err)
	}
	if rich.TextCode != core.ErrorUnsupportedProtocol {
		t.Fatalf("expected %q text code, got %q", core.ErrorUnsupportedProtocol, rich.TextCode)
	}
	if rich.Code != http.StatusBadRequest {
		t.Fatalf("expected %d code, got %d", http.StatusBadRequest, rich.Code)
	}
	if rich.Metadata["protocol_id"] != uint8(core.ProtocolCount) {
		t.Fatalf("expected protocol id metadata, got %+v", rich.Metadata)
	}
}

func TestQueries_NilCatalogReturnsRichError(t *testing.T) {
	var list *ListProtocolsQuery
	_, err := list.Query(context.Background(), ListProtocolsMessage{})
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Category != goerrors.CategoryInternal {
		t.Fatalf("expected internal go-errors envelope, got %v", err)
	}
	if _, err := NewDescribeProtocolQuery(nil).Query(context.Background(), DescribeProtocolMessage{}); err == nil {
		t.Fatalf("expected missing catalog to fail")
	}
}
