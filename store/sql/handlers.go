package sqlstore

import (
	"strings"

	"github.com/ethereum/go-ethereum/common"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
)

// slotNamespace scopes the deterministic slot ids.
var slotNamespace = uuid.NewSHA1(uuid.NameSpaceOID, []byte("flashroute.ledger.slot"))

// slotID is stable for an (address, slot) pair so every commit of the same
// slot lands on the same row.
func slotID(addr common.Address, key common.Hash) string {
	return uuid.NewSHA1(slotNamespace, append(addr.Bytes(), key.Bytes()...)).String()
}

// addressKey is the canonical lower-case hex form stored in the address
// column.
func addressKey(addr common.Address) string {
	return strings.ToLower(addr.Hex())
}

func ledgerSlotHandlers() repository.ModelHandlers[*ledgerSlotRecord] {
	return repository.ModelHandlers[*ledgerSlotRecord]{
		NewRecord: func() *ledgerSlotRecord {
			return &ledgerSlotRecord{}
		},
		GetID: func(record *ledgerSlotRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *ledgerSlotRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *ledgerSlotRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func ledgerUnitHandlers() repository.ModelHandlers[*ledgerUnitRecord] {
	return repository.ModelHandlers[*ledgerUnitRecord]{
		NewRecord: func() *ledgerUnitRecord {
			return &ledgerUnitRecord{}
		},
		GetID: func(record *ledgerUnitRecord) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return parseUUID(record.ID)
		},
		SetID: func(record *ledgerUnitRecord, id uuid.UUID) {
			if record == nil {
				return
			}
			record.ID = id.String()
		},
		GetIdentifier: func() string {
			return "id"
		},
		GetIdentifierValue: func(record *ledgerUnitRecord) string {
			if record == nil {
				return ""
			}
			return strings.TrimSpace(record.ID)
		},
	}
}

func parseUUID(value string) uuid.UUID {
	parsed, err := uuid.Parse(strings.TrimSpace(value))
	if err != nil {
		return uuid.Nil
	}
	return parsed
}
