package cli

import (
	"context"
	"database/sql"
	"fmt"
	"io/fs"
	"strings"
	"time"

	persistence "github.com/goliatone/go-persistence-bun"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/schema"

	"github.com/goliatone/go-flashroute/chain"
	flashmigrations "github.com/goliatone/go-flashroute/migrations"
	sqlstore "github.com/goliatone/go-flashroute/store/sql"
)

const (
	StoreMemory   = "memory"
	StoreSQLite   = "sqlite"
	StorePostgres = "postgres"
)

const defaultSQLiteDSN = "file:flashroute?mode=memory&cache=shared&_foreign_keys=on"

type persistenceConfig struct {
	driver string
	server string
	debug  bool
}

func (c persistenceConfig) GetDebug() bool                { return c.debug }
func (c persistenceConfig) GetDriver() string             { return c.driver }
func (c persistenceConfig) GetServer() string             { return c.server }
func (c persistenceConfig) GetPingTimeout() time.Duration { return 5 * time.Second }
func (c persistenceConfig) GetOtelIdentifier() string     { return "flashroute-cli" }

// ledger is the committed state backing a simulated world.
type ledger struct {
	backend chain.Backend
	store   *sqlstore.LedgerStore
	close   func()
}

// openLedger returns the backend for kind. SQL ledgers are migrated on
// open and read through a slot cache.
func openLedger(ctx context.Context, kind string, dsn string, debug bool) (*ledger, error) {
	var (
		driver  string
		dialect schema.Dialect
		target  string
	)
	switch strings.ToLower(strings.TrimSpace(kind)) {
	case "", StoreMemory:
		return &ledger{backend: chain.NewMemoryBackend(), close: func() {}}, nil
	case StoreSQLite:
		driver, dialect, target = "sqlite3", sqlitedialect.New(), flashmigrations.DialectSQLite
		if strings.TrimSpace(dsn) == "" {
			dsn = defaultSQLiteDSN
		}
	case StorePostgres:
		driver, dialect, target = "postgres", pgdialect.New(), flashmigrations.DialectPostgres
		if strings.TrimSpace(dsn) == "" {
			return nil, fmt.Errorf("postgres store requires --dsn")
		}
	default:
		return nil, fmt.Errorf("unknown store %q: must be one of %s, %s, %s", kind, StoreMemory, StoreSQLite, StorePostgres)
	}

	sqlDB, err := sql.Open(driver, dsn)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", kind, err)
	}
	if driver == "sqlite3" {
		sqlDB.SetMaxOpenConns(1)
	}
	client, err := persistence.New(persistenceConfig{driver: driver, server: dsn, debug: debug}, sqlDB, dialect)
	if err != nil {
		_ = sqlDB.Close()
		return nil, fmt.Errorf("persistence client: %w", err)
	}
	closeClient := func() { _ = client.Close() }

	_, err = flashmigrations.Register(ctx, func(_ context.Context, dialect string, _ string, fsys fs.FS) error {
		if dialect != target {
			return nil
		}
		client.RegisterSQLMigrations(fsys)
		return nil
	}, flashmigrations.WithValidationTargets(target))
	if err != nil {
		closeClient()
		return nil, err
	}
	if err := client.Migrate(ctx); err != nil {
		closeClient()
		return nil, fmt.Errorf("migrate: %w", err)
	}

	factory, err := sqlstore.NewRepositoryFactoryFromPersistence(client)
	if err != nil {
		closeClient()
		return nil, err
	}
	store := factory.LedgerStore()
	cacheConfig := repositorycache.DefaultConfig()
	cacheConfig.TTL = time.Minute
	cacheService, err := repositorycache.NewCacheService(cacheConfig)
	if err != nil {
		closeClient()
		return nil, fmt.Errorf("ledger cache: %w", err)
	}
	cached, err := sqlstore.NewCachedLedgerStore(store, cacheService)
	if err != nil {
		closeClient()
		return nil, err
	}
	return &ledger{backend: cached, store: store, close: closeClient}, nil
}
