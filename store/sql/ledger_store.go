package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-flashroute/chain"
)

// LedgerStore is a chain.Backend that keeps committed contract storage in
// SQL. Each unit of work is written in one transaction.
type LedgerStore struct {
	db    *bun.DB
	slots repository.Repository[*ledgerSlotRecord]
	units repository.Repository[*ledgerUnitRecord]
	now   func() time.Time
}

func NewLedgerStore(db *bun.DB) (*LedgerStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	slots := repository.NewRepository[*ledgerSlotRecord](db, ledgerSlotHandlers())
	if validator, ok := slots.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid ledger slot repository wiring: %w", err)
		}
	}
	units := repository.NewRepository[*ledgerUnitRecord](db, ledgerUnitHandlers())
	if validator, ok := units.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid ledger unit repository wiring: %w", err)
		}
	}
	return &LedgerStore{
		db:    db,
		slots: slots,
		units: units,
		now:   func() time.Time { return time.Now().UTC() },
	}, nil
}

func (s *LedgerStore) Load(ctx context.Context, addr common.Address, key common.Hash) (common.Hash, error) {
	if s == nil || s.db == nil {
		return common.Hash{}, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	record := &ledgerSlotRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", slotID(addr, key)).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return common.Hash{}, nil
		}
		return common.Hash{}, err
	}
	return common.HexToHash(record.Value), nil
}

// Commit records the unit and applies its writes. A zero value deletes the
// slot's row.
func (s *LedgerStore) Commit(ctx context.Context, unitID string, writes []chain.SlotWrite) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: ledger store is not configured")
	}
	unitID = strings.TrimSpace(unitID)
	if unitID == "" {
		return fmt.Errorf("sqlstore: unit id is required")
	}
	now := s.now()

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		unit := &ledgerUnitRecord{ID: unitID, Writes: len(writes), CommittedAt: now}
		if _, err := tx.NewInsert().Model(unit).Exec(ctx); err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("sqlstore: unit %s already committed", unitID)
			}
			return err
		}
		for _, write := range writes {
			if write.Value == (common.Hash{}) {
				if _, err := tx.NewDelete().
					Model((*ledgerSlotRecord)(nil)).
					Where("id = ?", slotID(write.Address, write.Key)).
					Exec(ctx); err != nil {
					return err
				}
				continue
			}
			record := newSlotRecord(write, unitID, now)
			if _, err := tx.NewInsert().
				Model(record).
				On("CONFLICT (id) DO UPDATE").
				Set("value = EXCLUDED.value").
				Set("unit_id = EXCLUDED.unit_id").
				Set("updated_at = EXCLUDED.updated_at").
				Exec(ctx); err != nil {
				return err
			}
		}
		return nil
	})
}

// Slots lists the committed slots of addr ordered by slot.
func (s *LedgerStore) Slots(ctx context.Context, addr common.Address) ([]chain.SlotWrite, error) {
	if s == nil || s.slots == nil {
		return nil, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	records, _, err := s.slots.List(ctx,
		repository.SelectBy("address", "=", addressKey(addr)),
		repository.OrderBy("slot ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]chain.SlotWrite, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Snapshot lists every committed slot ordered by address and slot.
func (s *LedgerStore) Snapshot(ctx context.Context) ([]chain.SlotWrite, error) {
	if s == nil || s.slots == nil {
		return nil, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	records, _, err := s.slots.List(ctx,
		repository.OrderBy("address ASC"),
		repository.OrderBy("slot ASC"),
	)
	if err != nil {
		return nil, err
	}
	out := make([]chain.SlotWrite, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, nil
}

// Units lists committed units, oldest first.
func (s *LedgerStore) Units(ctx context.Context, limit int, offset int) ([]Unit, int, error) {
	if s == nil || s.units == nil {
		return nil, 0, fmt.Errorf("sqlstore: ledger store is not configured")
	}
	if limit <= 0 {
		limit = 50
	}
	if offset < 0 {
		offset = 0
	}
	records, total, err := s.units.List(ctx,
		repository.OrderBy("committed_at ASC"),
		repository.SelectPaginate(limit, offset),
	)
	if err != nil {
		return nil, 0, err
	}
	out := make([]Unit, 0, len(records))
	for _, record := range records {
		out = append(out, record.toDomain())
	}
	return out, total, nil
}

func isUniqueViolation(err error) bool {
	message := strings.ToLower(strings.TrimSpace(err.Error()))
	return strings.Contains(message, "unique constraint failed") ||
		strings.Contains(message, "duplicate key value violates unique constraint")
}
