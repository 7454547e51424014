package migrations

import (
	"context"
	"database/sql"
	"io/fs"
	"path/filepath"
	"strings"
	"testing"
	"testing/fstest"

	flashroute "github.com/goliatone/go-flashroute"
	_ "github.com/mattn/go-sqlite3"
)

func TestFilesystems_ReturnsPostgresAndSQLite(t *testing.T) {
	filesystems, err := Filesystems(nil)
	if err != nil {
		t.Fatalf("filesystems: %v", err)
	}
	if len(filesystems) != 2 {
		t.Fatalf("expected 2 filesystems, got %d", len(filesystems))
	}

	var postgresFound bool
	var sqliteFound bool
	for _, entry := range filesystems {
		matches, globErr := fs.Glob(entry.FS, "*.up.sql")
		if globErr != nil {
			t.Fatalf("glob %s: %v", entry.Dialect, globErr)
		}
		if len(matches) == 0 {
			t.Fatalf("expected %s migration files, got none", entry.Dialect)
		}
		switch entry.Dialect {
		case DialectPostgres:
			postgresFound = true
		case DialectSQLite:
			sqliteFound = true
		}
	}

	if !postgresFound {
		t.Fatalf("expected postgres filesystem")
	}
	if !sqliteFound {
		t.Fatalf("expected sqlite filesystem")
	}
}

func TestRegister_UsesValidationTargets(t *testing.T) {
	var calls []string
	_, err := Register(context.Background(), func(_ context.Context, dialect string, _ string, _ fs.FS) error {
		calls = append(calls, dialect)
		return nil
	}, WithValidationTargets(DialectSQLite))
	if err != nil {
		t.Fatalf("register: %v", err)
	}

	if len(calls) != 1 {
		t.Fatalf("expected 1 registration call, got %d", len(calls))
	}
	if calls[0] != DialectSQLite {
		t.Fatalf("expected sqlite registration, got %q", calls[0])
	}
}

func TestLedgerMigrationPair_ExistsForBothDialects(t *testing.T) {
	root := flashroute.GetMigrationsFS()
	paths := []string{
		"data/sql/migrations/00001_flashroute_ledger.up.sql",
		"data/sql/migrations/00001_flashroute_ledger.down.sql",
		"data/sql/migrations/sqlite/00001_flashroute_ledger.up.sql",
		"data/sql/migrations/sqlite/00001_flashroute_ledger.down.sql",
	}
	for _, migrationPath := range paths {
		content, err := fs.ReadFile(root, migrationPath)
		if err != nil {
			t.Fatalf("read migration %s: %v", migrationPath, err)
		}
		if strings.TrimSpace(string(content)) == "" {
			t.Fatalf("expected migration %s to have SQL content", migrationPath)
		}
	}
}

func TestFilesystems_RejectsUnpairedMigration(t *testing.T) {
	root := fstest.MapFS{
		"data/sql/migrations/00001_ledger.up.sql":        {Data: []byte("CREATE TABLE a (id TEXT);")},
		"data/sql/migrations/00001_ledger.down.sql":      {Data: []byte("DROP TABLE a;")},
		"data/sql/migrations/sqlite/00001_ledger.up.sql": {Data: []byte("CREATE TABLE a (id TEXT);")},
	}
	_, err := Filesystems(root)
	if err == nil || !strings.Contains(err.Error(), "00001_ledger.down.sql") {
		t.Fatalf("expected missing sqlite down file error, got %v", err)
	}
}

func TestFilesystems_RequiresMigrationsDir(t *testing.T) {
	if _, err := Filesystems(fstest.MapFS{"README.md": {Data: []byte("x")}}); err == nil {
		t.Fatalf("expected missing migrations tree to fail")
	}
}

func TestRegister_RejectsMissingRegisterFunc(t *testing.T) {
	if _, err := Register(context.Background(), nil); err == nil {
		t.Fatalf("expected missing register function to fail")
	}
}

func TestRegister_LabelOverride(t *testing.T) {
	reg, err := Register(context.Background(), func(context.Context, string, string, fs.FS) error {
		return nil
	}, WithDialectSourceLabel("  ledger  "))
	if err != nil {
		t.Fatalf("register: %v", err)
	}
	if reg.SourceLabel != "ledger" {
		t.Fatalf("expected trimmed label, got %q", reg.SourceLabel)
	}
}

func TestSQLiteLedgerMigration_ApplyAndRollback(t *testing.T) {
	db, err := sql.Open("sqlite3", "file:migrations-ledger?mode=memory&cache=shared&_foreign_keys=on")
	if err != nil {
		t.Fatalf("open sqlite db: %v", err)
	}
	defer func() { _ = db.Close() }()

	root := flashroute.GetMigrationsFS()
	sqliteMigrations, err := fs.Sub(root, "data/sql/migrations/sqlite")
	if err != nil {
		t.Fatalf("resolve sqlite migrations: %v", err)
	}
	ctx := context.Background()
	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_flashroute_ledger.up.sql"); err != nil {
		t.Fatalf("apply ledger migration up: %v", err)
	}

	if _, err := db.ExecContext(ctx, `INSERT INTO flashroute_ledger_units (id, writes) VALUES (?, ?)`, "unit-1", 1); err != nil {
		t.Fatalf("insert unit: %v", err)
	}
	insertSlot := `INSERT INTO flashroute_ledger_slots (id, address, slot, value, unit_id) VALUES (?, ?, ?, ?, ?)`
	if _, err := db.ExecContext(ctx, insertSlot, "slot-1", "0xaa", "0x01", "0x02", "unit-1"); err != nil {
		t.Fatalf("insert slot: %v", err)
	}
	if _, err := db.ExecContext(ctx, insertSlot, "slot-2", "0xaa", "0x01", "0x03", "unit-1"); err == nil {
		t.Fatalf("expected unique address/slot constraint violation")
	}
	if _, err := db.ExecContext(ctx, insertSlot, "slot-3", "0xaa", "0x02", "0x03", "unit-missing"); err == nil {
		t.Fatalf("expected unit foreign key violation")
	}

	if err := execSQLMigration(ctx, db, sqliteMigrations, "00001_flashroute_ledger.down.sql"); err != nil {
		t.Fatalf("apply ledger migration down: %v", err)
	}
	var count int
	if err := db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM sqlite_master WHERE type = 'table' AND name LIKE 'flashroute_ledger_%'`,
	).Scan(&count); err != nil {
		t.Fatalf("count ledger tables: %v", err)
	}
	if count != 0 {
		t.Fatalf("expected ledger tables dropped, got %d", count)
	}
}

func execSQLMigration(ctx context.Context, db *sql.DB, fsys fs.FS, filename string) error {
	content, err := fs.ReadFile(fsys, filepath.Clean(filename))
	if err != nil {
		return err
	}
	_, err = db.ExecContext(ctx, string(content))
	return err
}
