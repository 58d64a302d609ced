package store

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"regexp"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var tableNamePattern = regexp.MustCompile(`^[a-z_][a-z0-9_]{0,62}$`)

// PostgresDB persists key-value entries in a single PostgreSQL table.
// Transactions serialize on a transaction-scoped advisory lock derived from
// the table name.
type PostgresDB struct {
	db     *pgxpool.Pool
	table  string
	lockID int64
}

// NewPostgres constructs a Postgres-backed database and creates its table if
// it does not exist yet.
func NewPostgres(ctx context.Context, db *pgxpool.Pool, table string) (*PostgresDB, error) {
	if db == nil {
		return nil, fmt.Errorf("postgres pool is required")
	}
	if !tableNamePattern.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	h := fnv.New64a()
	_, _ = h.Write([]byte(table))

	p := &PostgresDB{db: db, table: table, lockID: int64(h.Sum64())}
	if err := p.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *PostgresDB) ensureSchema(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `CREATE TABLE IF NOT EXISTS `+p.table+` (
        key   TEXT PRIMARY KEY,
        value BYTEA NOT NULL
    )`)
	if err != nil {
		return fmt.Errorf("create table %s: %w", p.table, err)
	}
	return nil
}

// Begin opens a transaction and blocks until it holds the table lock.
func (p *PostgresDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock($1)`, p.lockID); err != nil {
		_ = tx.Rollback(ctx)
		return nil, fmt.Errorf("acquire store lock: %w", err)
	}
	return &postgresTx{tx: tx, table: p.table}, nil
}

func (p *PostgresDB) Isolated() bool { return false }

type postgresTx struct {
	tx    pgx.Tx
	table string
}

func (t *postgresTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	var value []byte
	err := t.tx.QueryRow(ctx, `SELECT value FROM `+t.table+` WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return value, true, nil
}

func (t *postgresTx) Put(ctx context.Context, key string, value []byte) error {
	_, err := t.tx.Exec(ctx, `INSERT INTO `+t.table+` (key, value) VALUES ($1, $2)
        ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value`, key, value)
	return err
}

func (t *postgresTx) Delete(ctx context.Context, key string) error {
	_, err := t.tx.Exec(ctx, `DELETE FROM `+t.table+` WHERE key = $1`, key)
	return err
}

func (t *postgresTx) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	rows, err := t.tx.Query(ctx, `SELECT key, value FROM `+t.table+`
        WHERE starts_with(key, $1) ORDER BY key`, prefix)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Key, &e.Value); err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

func (t *postgresTx) Commit(ctx context.Context) error {
	if err := t.tx.Commit(ctx); err != nil {
		if errors.Is(err, pgx.ErrTxClosed) {
			return ErrTxDone
		}
		return err
	}
	return nil
}

func (t *postgresTx) Rollback(ctx context.Context) error {
	if err := t.tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
		return err
	}
	return nil
}

func (t *postgresTx) Isolated() bool { return false }
