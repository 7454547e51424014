package sqlstore

import (
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/uptrace/bun"

	"github.com/goliatone/go-flashroute/chain"
)

type ledgerUnitRecord struct {
	bun.BaseModel `bun:"table:flashroute_ledger_units,alias:flu"`

	ID          string    `bun:"id,pk"`
	Writes      int       `bun:"writes,notnull"`
	CommittedAt time.Time `bun:"committed_at,nullzero,notnull,default:current_timestamp"`
}

type ledgerSlotRecord struct {
	bun.BaseModel `bun:"table:flashroute_ledger_slots,alias:fls"`

	ID        string    `bun:"id,pk"`
	Address   string    `bun:"address,notnull"`
	Slot      string    `bun:"slot,notnull"`
	Value     string    `bun:"value,notnull"`
	UnitID    string    `bun:"unit_id,notnull"`
	CreatedAt time.Time `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt time.Time `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

// Unit is one committed unit of work.
type Unit struct {
	ID          string
	Writes      int
	CommittedAt time.Time
}

func (r *ledgerUnitRecord) toDomain() Unit {
	return Unit{ID: r.ID, Writes: r.Writes, CommittedAt: r.CommittedAt}
}

func newSlotRecord(write chain.SlotWrite, unitID string, now time.Time) *ledgerSlotRecord {
	return &ledgerSlotRecord{
		ID:        slotID(write.Address, write.Key),
		Address:   addressKey(write.Address),
		Slot:      write.Key.Hex(),
		Value:     write.Value.Hex(),
		UnitID:    unitID,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

func (r *ledgerSlotRecord) toDomain() chain.SlotWrite {
	return chain.SlotWrite{
		Address: common.HexToAddress(r.Address),
		Key:     common.HexToHash(r.Slot),
		Value:   common.HexToHash(r.Value),
	}
}
