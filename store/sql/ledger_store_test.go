package sqlstore_test

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"math/big"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	persistence "github.com/goliatone/go-persistence-bun"
	"github.com/google/uuid"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/sqlitedialect"

	"github.com/goliatone/go-flashroute/chain"
	"github.com/goliatone/go-flashroute/core"
	"github.com/goliatone/go-flashroute/devkit"
	flashmigrations "github.com/goliatone/go-flashroute/migrations"
	sqlstore "github.com/goliatone/go-flashroute/store/sql"
)

type testPersistenceConfig struct {
	driver string
	server string
}

func (c testPersistenceConfig) GetDebug() bool {
	return false
}

func (c testPersistenceConfig) GetDriver() string {
	return c.driver
}

func (c testPersistenceConfig) GetServer() string {
	return c.server
}

func (c testPersistenceConfig) GetPingTimeout() time.Duration {
	return time.Second
}

func (c testPersistenceConfig) GetOtelIdentifier() string {
	return "go-flashroute-tests"
}

var (
	holder = common.HexToAddress("0x00000000000000000000000000000000000000a1")
	other  = common.HexToAddress("0x00000000000000000000000000000000000000b2")
)

func TestLedgerStore_CommitLoadAndDelete(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore(t)

	one := common.BigToHash(big.NewInt(1))
	two := common.BigToHash(big.NewInt(2))
	if err := store.Commit(ctx, uuid.NewString(), []chain.SlotWrite{
		{Address: holder, Key: one, Value: common.BigToHash(big.NewInt(10))},
		{Address: holder, Key: two, Value: common.BigToHash(big.NewInt(20))},
		{Address: other, Key: one, Value: common.BigToHash(big.NewInt(30))},
	}); err != nil {
		t.Fatalf("first commit: %v", err)
	}

	value, err := store.Load(ctx, holder, two)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if value.Big().Int64() != 20 {
		t.Fatalf("expected 20, got %s", value.Big())
	}
	missing, err := store.Load(ctx, other, two)
	if err != nil || missing != (common.Hash{}) {
		t.Fatalf("expected zero for an unwritten slot, got %s (%v)", missing.Hex(), err)
	}

	if err := store.Commit(ctx, uuid.NewString(), []chain.SlotWrite{
		{Address: holder, Key: one, Value: common.BigToHash(big.NewInt(11))},
		{Address: holder, Key: two, Value: common.Hash{}},
	}); err != nil {
		t.Fatalf("second commit: %v", err)
	}
	slots, err := store.Slots(ctx, holder)
	if err != nil {
		t.Fatalf("slots: %v", err)
	}
	if len(slots) != 1 || slots[0].Key != one || slots[0].Value.Big().Int64() != 11 {
		t.Fatalf("expected one updated slot, got %+v", slots)
	}

	units, total, err := store.Units(ctx, 10, 0)
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	if total != 2 || len(units) != 2 {
		t.Fatalf("expected two units, got %d (%d)", len(units), total)
	}
}

func TestLedgerStore_ReplayedUnitWritesNothing(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore(t)
	key := common.BigToHash(big.NewInt(1))
	unitID := uuid.NewString()

	if err := store.Commit(ctx, unitID, []chain.SlotWrite{{Address: holder, Key: key, Value: common.BigToHash(big.NewInt(1))}}); err != nil {
		t.Fatalf("commit: %v", err)
	}
	if err := store.Commit(ctx, unitID, []chain.SlotWrite{{Address: holder, Key: key, Value: common.BigToHash(big.NewInt(2))}}); err == nil {
		t.Fatalf("expected replayed unit to fail")
	}
	value, err := store.Load(ctx, holder, key)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if value.Big().Int64() != 1 {
		t.Fatalf("expected original value kept, got %s", value.Big())
	}
}

func TestLedgerStore_RequiresUnitID(t *testing.T) {
	store := newLedgerStore(t)
	if err := store.Commit(context.Background(), "  ", nil); err == nil {
		t.Fatalf("expected missing unit id to fail")
	}
}

func TestLedgerStore_BacksBorrowRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore(t)
	opts := devkit.DefaultScenarioOptions()
	opts.Backend = store
	scenario, err := devkit.NewScenario(ctx, opts)
	if err != nil {
		t.Fatalf("new scenario: %v", err)
	}
	_, before, err := store.Units(ctx, 1, 0)
	if err != nil {
		t.Fatalf("units: %v", err)
	}

	if err := devkit.ValidateVenueConformance(ctx, scenario, core.ProtocolAaveV3, big.NewInt(1_000_000)); err != nil {
		t.Fatalf("round trip: %v", err)
	}
	_, after, err := store.Units(ctx, 1, 0)
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	if after != before+1 {
		t.Fatalf("expected one committed unit for the borrow, got %d", after-before)
	}

	hostBalance, err := chain.BalanceOf(ctx, scenario.World, devkit.AssetAddress, devkit.HostAddress)
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	if hostBalance.Int64() != 1_000_000-500 {
		t.Fatalf("expected host balance reduced by the premium, got %s", hostBalance)
	}
}

func TestLedgerStore_FailedBorrowCommitsNothing(t *testing.T) {
	ctx := context.Background()
	store := newLedgerStore(t)
	opts := devkit.DefaultScenarioOptions()
	opts.Backend = store
	opts.HostFunding = big.NewInt(0)
	scenario, err := devkit.NewScenario(ctx, opts)
	if err != nil {
		t.Fatalf("new scenario: %v", err)
	}
	before, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	_, unitsBefore, err := store.Units(ctx, 1, 0)
	if err != nil {
		t.Fatalf("units: %v", err)
	}

	err = scenario.Borrow(ctx, scenario.Request(core.ProtocolAaveV3, big.NewInt(1_000_000)))
	if !core.HasTextCode(err, core.ErrorInsufficientBalance) {
		t.Fatalf("expected insufficient balance, got %v", err)
	}

	after, err := store.Snapshot(ctx)
	if err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	if len(after) != len(before) {
		t.Fatalf("expected ledger unchanged, got %d slots (was %d)", len(after), len(before))
	}
	for idx := range after {
		if after[idx] != before[idx] {
			t.Fatalf("expected ledger unchanged at %d", idx)
		}
	}
	_, unitsAfter, err := store.Units(ctx, 1, 0)
	if err != nil {
		t.Fatalf("units: %v", err)
	}
	if unitsAfter != unitsBefore {
		t.Fatalf("expected no unit committed, got %d new", unitsAfter-unitsBefore)
	}
}

func TestRepositoryFactory_ResolvesPersistenceClient(t *testing.T) {
	client, cleanup := newSQLiteClient(t)
	defer cleanup()
	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		t.Fatalf("new repository factory: %v", err)
	}
	if factory.LedgerStore() == nil || factory.DB() == nil {
		t.Fatalf("expected ledger store and db from factory")
	}
	if _, err := sqlstore.NewRepositoryFactoryFromDB(nil); err == nil {
		t.Fatalf("expected nil db to fail")
	}
}

func newLedgerStore(t *testing.T) *sqlstore.LedgerStore {
	t.Helper()
	client, cleanup := newSQLiteClient(t)
	t.Cleanup(cleanup)
	store, err := sqlstore.NewLedgerStore(client.DB())
	if err != nil {
		t.Fatalf("new ledger store: %v", err)
	}
	return store
}

func newSQLiteClient(t *testing.T) (*persistence.Client, func()) {
	t.Helper()

	dsn := fmt.Sprintf(
		"file:flashroute-test-%d?mode=memory&cache=shared&_foreign_keys=on",
		time.Now().UnixNano(),
	)
	sqlDB, err := sql.Open("sqlite3", dsn)
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	cfg := testPersistenceConfig{
		driver: "sqlite3",
		server: dsn,
	}
	client, err := persistence.New(cfg, sqlDB, sqlitedialect.New())
	if err != nil {
		_ = sqlDB.Close()
		t.Fatalf("new persistence client: %v", err)
	}

	ctx := context.Background()
	_, err = flashmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != flashmigrations.DialectSQLite {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, flashmigrations.WithValidationTargets(flashmigrations.DialectSQLite))
	if err != nil {
		_ = client.Close()
		t.Fatalf("register migrations: %v", err)
	}
	if err := client.Migrate(ctx); err != nil {
		_ = client.Close()
		t.Fatalf("migrate: %v", err)
	}

	return client, func() {
		_ = client.Close()
	}
}
