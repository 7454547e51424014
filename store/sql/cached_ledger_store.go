package sqlstore

import (
	"context"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	repositorycache "github.com/goliatone/go-repository-cache/cache"

	"github.com/goliatone/go-flashroute/chain"
)

const ledgerSlotCacheKeyPrefix = "flashroute::ledger_slot::v1"

// CachedLedgerStore serves slot reads from a go-repository-cache service.
// Commit drops the cached entry of every written slot.
type CachedLedgerStore struct {
	base  chain.Backend
	cache repositorycache.CacheService
}

func NewCachedLedgerStore(base chain.Backend, cacheService repositorycache.CacheService) (*CachedLedgerStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base ledger backend is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: ledger cache service is required")
	}
	return &CachedLedgerStore{base: base, cache: cacheService}, nil
}

// LedgerSlotCacheKey is flashroute::ledger_slot::v1::<address>::<slot>, both
// lower-case hex.
func LedgerSlotCacheKey(addr common.Address, key common.Hash) string {
	return strings.Join([]string{ledgerSlotCacheKeyPrefix, addressKey(addr), strings.ToLower(key.Hex())}, "::")
}

func (s *CachedLedgerStore) Load(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return common.Hash{}, fmt.Errorf("sqlstore: cached ledger store is not configured")
	}
	return repositorycache.GetOrFetch(ctx, s.cache, LedgerSlotCacheKey(addr, key), func(ctx context.Context) (common.Hash, error) {
		return s.base.Load(ctx, addr, key)
	})
}

func (s *CachedLedgerStore) Commit(ctx context.Context, unitID string, writes []chain.SlotWrite) error {
	if s == nil || s.base == nil || s.cache == nil {
		return fmt.Errorf("sqlstore: cached ledger store is not configured")
	}
	if err := s.base.Commit(ctx, unitID, writes); err != nil {
		return err
	}
	for _, write := range writes {
		if err := s.cache.Delete(ctx, LedgerSlotCacheKey(write.Address, write.Key)); err != nil {
			return err
		}
	}
	return nil
}
