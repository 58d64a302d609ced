package store

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"sort"
)

// VersionKey holds the schema version of a database.
const VersionKey = "db_version"

// Migration upgrades a database from the version it is registered under to
// the next one.
type Migration func(ctx context.Context, tx Tx) error

// Version reads the schema version inside tx. A database that was never
// migrated is at version 0.
func Version(ctx context.Context, tx Tx) (uint64, error) {
	raw, ok, err := tx.Get(ctx, VersionKey)
	if err != nil {
		return 0, err
	}
	if !ok {
		return 0, nil
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("corrupt schema version record (%d bytes)", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}

func putVersion(ctx context.Context, tx Tx, v uint64) error {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, v)
	return tx.Put(ctx, VersionKey, buf)
}

// Migrate runs migrations in version order, starting at the version stored in
// db. Each step commits together with its version bump, so an applied step is
// never re-run and an interrupted run resumes where it stopped. Versions must
// be contiguous from 0. It returns the final version.
func Migrate(ctx context.Context, db Database, migrations map[uint64]Migration, logger *slog.Logger) (uint64, error) {
	versions := make([]uint64, 0, len(migrations))
	for v := range migrations {
		versions = append(versions, v)
	}
	sort.Slice(versions, func(i, j int) bool { return versions[i] < versions[j] })
	for i, v := range versions {
		if v != uint64(i) {
			return 0, fmt.Errorf("migrations must be contiguous from 0, missing version %d", i)
		}
	}
	target := uint64(len(versions))

	for {
		current, done, err := migrateStep(ctx, db, migrations, target)
		if err != nil {
			return current, err
		}
		if done {
			return current, nil
		}
		if logger != nil {
			logger.Info("store_migration_applied", slog.Uint64("version", current))
		}
	}
}

func migrateStep(ctx context.Context, db Database, migrations map[uint64]Migration, target uint64) (uint64, bool, error) {
	tx, err := db.Begin(ctx)
	if err != nil {
		return 0, false, err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	current, err := Version(ctx, tx)
	if err != nil {
		return 0, false, err
	}
	if current >= target {
		return current, true, nil
	}
	if err := migrations[current](ctx, tx); err != nil {
		return current, false, fmt.Errorf("migrate from version %d: %w", current, err)
	}
	if err := putVersion(ctx, tx, current+1); err != nil {
		return current, false, err
	}
	if err := tx.Commit(ctx); err != nil {
		return current, false, err
	}
	return current + 1, false, nil
}
