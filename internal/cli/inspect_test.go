package cli

import (
	"context"
	"fmt"
	"math/big"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/protocol"
)

var (
	testPair   = common.HexToAddress("0x00000000000000000000000000000000000000a0")
	testToken0 = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	testToken1 = common.HexToAddress("0x00000000000000000000000000000000000000a2")
)

type pairExecutor struct {
	calls []string
}

func (e *pairExecutor) Call(context.Context, core.Address, core.Address, []byte) ([]byte, error) {
	return nil, fmt.Errorf("unexpected mutating call")
}

func (e *pairExecutor) StaticCall(_ context.Context, _ core.Address, to core.Address, data []byte) ([]byte, error) {
	if to != testPair {
		return nil, fmt.Errorf("unexpected target %s", to.Hex())
	}
	tag, _ := protocol.SelectorOf(data)
	switch tag {
	case protocol.Selector(protocol.UniswapV2PairABI, "token0"):
		e.calls = append(e.calls, "token0")
		return protocol.PackOutputs(protocol.UniswapV2PairABI, "token0", testToken0)
	case protocol.Selector(protocol.UniswapV2PairABI, "token1"):
		e.calls = append(e.calls, "token1")
		return protocol.PackOutputs(protocol.UniswapV2PairABI, "token1", testToken1)
	case protocol.Selector(protocol.UniswapV2PairABI, "getReserves"):
		e.calls = append(e.calls, "getReserves")
		return protocol.PackOutputs(protocol.UniswapV2PairABI, "getReserves", big.NewInt(500), big.NewInt(700), uint32(1))
	}
	return nil, fmt.Errorf("unexpected selector %x", tag)
}

func (e *pairExecutor) TransientLoad(core.Address, core.Hash) core.Hash   { return core.Hash{} }
func (e *pairExecutor) TransientStore(core.Address, core.Hash, core.Hash) {}

func TestInspectPair_ReadsTokensAndReserves(t *testing.T) {
	exec := &pairExecutor{}
	report, err := inspectPair(context.Background(), exec, testPair)
	require.NoError(t, err)
	assert.Equal(t, testToken0.Hex(), report.Token0)
	assert.Equal(t, testToken1.Hex(), report.Token1)
	assert.Equal(t, "500", report.Reserve0)
	assert.Equal(t, "700", report.Reserve1)
	assert.Equal(t, []string{"token0", "token1", "getReserves"}, exec.calls)
}

func TestResolvePairSlot_MatchesDispatchIntrospection(t *testing.T) {
	slot, err := resolvePairSlot(context.Background(), &pairExecutor{}, testPair, testToken1)
	require.NoError(t, err)
	assert.Equal(t, protocol.SlotToken1, slot)

	exec := &pairExecutor{}
	_, err = resolvePairSlot(context.Background(), exec, testPair, common.HexToAddress("0x00000000000000000000000000000000000000ff"))
	assert.True(t, core.HasTextCode(err, core.ErrorInvalidAsset), "got %v", err)
	assert.Equal(t, []string{"token0", "token1"}, exec.calls)
}
