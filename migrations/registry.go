// Package migrations registers the ledger schema with a migration runner,
// one filesystem per SQL dialect.
package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"slices"
	"strings"

	flashroute "github.com/goliatone/go-flashroute"
)

const (
	DialectPostgres = "postgres"
	DialectSQLite   = "sqlite"

	defaultSourceLabel = "go-flashroute"
	migrationsDir      = "data/sql/migrations"
)

// dialectDirs maps each dialect to its directory below data/sql/migrations.
var dialectDirs = map[string]string{
	DialectPostgres: ".",
	DialectSQLite:   "sqlite",
}

// FilesystemSpec is the migration tree of one dialect.
type FilesystemSpec struct {
	Dialect string
	Path    string
	FS      fs.FS
}

type Registration struct {
	SourceLabel       string
	ValidationTargets []string
	Filesystems       []FilesystemSpec
}

type RegisterFunc func(ctx context.Context, dialect string, sourceLabel string, fsys fs.FS) error

type Option func(*Registration)

func WithDialectSourceLabel(label string) Option {
	return func(r *Registration) {
		if label = strings.TrimSpace(label); label != "" {
			r.SourceLabel = label
		}
	}
}

// WithValidationTargets limits registration to the named dialects.
func WithValidationTargets(targets ...string) Option {
	return func(r *Registration) {
		if normalized := normalizeDialects(targets); len(normalized) > 0 {
			r.ValidationTargets = normalized
		}
	}
}

// Filesystems resolves the postgres and sqlite trees from root, or from the
// embedded schema when root is nil. Each tree must hold at least one
// migration and every up file needs its down file.
func Filesystems(root fs.FS) ([]FilesystemSpec, error) {
	if root == nil {
		root = flashroute.GetMigrationsFS()
	}
	base, err := fs.Sub(root, migrationsDir)
	if err != nil {
		return nil, fmt.Errorf("migrations: %s not found: %w", migrationsDir, err)
	}

	out := make([]FilesystemSpec, 0, len(dialectDirs))
	for _, dialect := range []string{DialectPostgres, DialectSQLite} {
		dir := dialectDirs[dialect]
		fsys := base
		path := migrationsDir
		if dir != "." {
			if fsys, err = fs.Sub(base, dir); err != nil {
				return nil, fmt.Errorf("migrations: resolve %s filesystem: %w", dialect, err)
			}
			path = migrationsDir + "/" + dir
		}
		if err := checkPairs(fsys, dialect); err != nil {
			return nil, err
		}
		out = append(out, FilesystemSpec{Dialect: dialect, Path: path, FS: fsys})
	}
	return out, nil
}

func checkPairs(fsys fs.FS, dialect string) error {
	ups, err := fs.Glob(fsys, "*.up.sql")
	if err != nil {
		return fmt.Errorf("migrations: glob %s: %w", dialect, err)
	}
	if len(ups) == 0 {
		return fmt.Errorf("migrations: %s has no *.up.sql files", dialect)
	}
	for _, up := range ups {
		down := strings.TrimSuffix(up, ".up.sql") + ".down.sql"
		if _, err := fs.Stat(fsys, down); err != nil {
			return fmt.Errorf("migrations: %s %s has no matching %s", dialect, up, down)
		}
	}
	return nil
}

// Register hands every targeted dialect filesystem to registerFn.
func Register(ctx context.Context, registerFn RegisterFunc, opts ...Option) (Registration, error) {
	reg := Registration{
		SourceLabel:       defaultSourceLabel,
		ValidationTargets: []string{DialectPostgres, DialectSQLite},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(&reg)
		}
	}
	if registerFn == nil {
		return reg, fmt.Errorf("migrations: register function is required")
	}

	filesystems, err := Filesystems(nil)
	if err != nil {
		return reg, err
	}
	reg.Filesystems = filesystems

	for _, spec := range reg.Filesystems {
		if !slices.Contains(reg.ValidationTargets, spec.Dialect) {
			continue
		}
		if err := registerFn(ctx, spec.Dialect, reg.SourceLabel, spec.FS); err != nil {
			return reg, fmt.Errorf("migrations: register %s (%s): %w", spec.Dialect, spec.Path, err)
		}
	}
	return reg, nil
}

func normalizeDialects(values []string) []string {
	out := make([]string, 0, len(values))
	for _, value := range values {
		value = strings.ToLower(strings.TrimSpace(value))
		if value == "" || slices.Contains(out, value) {
			continue
		}
		out = append(out, value)
	}
	return out
}
