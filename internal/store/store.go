// Package store provides the transactional key-value database the wallet
// persists its state in. Every backend serializes transactions on the same
// database, so a read-modify-write inside one Tx never interleaves with
// another.
package store

import (
	"context"
	"errors"
	"sort"
	"strings"
)

var (
	// ErrIsolationViolation signals a programming error: code that must only
	// touch its own namespace was handed a database that is not isolated.
	ErrIsolationViolation = errors.New("database is not isolated")

	// ErrTxDone is returned when a committed or rolled back Tx is used again.
	ErrTxDone = errors.New("transaction already finished")
)

// Entry is a key and its value as returned by Scan.
type Entry struct {
	Key   string
	Value []byte
}

// Tx is a unit of work. Writes become visible to other transactions only on
// Commit. Rollback after Commit is a no-op so callers can always defer it.
type Tx interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Put(ctx context.Context, key string, value []byte) error
	Delete(ctx context.Context, key string) error
	// Scan returns all entries whose key starts with prefix, sorted by key.
	Scan(ctx context.Context, prefix string) ([]Entry, error)
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
	Isolated() bool
}

// Database opens transactions.
type Database interface {
	Begin(ctx context.Context) (Tx, error)
	Isolated() bool
}

// EnsureIsolated returns ErrIsolationViolation unless v is an isolated
// database or transaction.
func EnsureIsolated(v interface{ Isolated() bool }) error {
	if v == nil || !v.Isolated() {
		return ErrIsolationViolation
	}
	return nil
}

// WithPrefix returns a view of db restricted to keys under prefix. The view is
// isolated: code holding it cannot read or write outside its namespace.
func WithPrefix(db Database, prefix string) Database {
	return &prefixedDB{inner: db, prefix: prefix}
}

type prefixedDB struct {
	inner  Database
	prefix string
}

func (p *prefixedDB) Begin(ctx context.Context) (Tx, error) {
	tx, err := p.inner.Begin(ctx)
	if err != nil {
		return nil, err
	}
	return &prefixedTx{inner: tx, prefix: p.prefix}, nil
}

func (p *prefixedDB) Isolated() bool { return true }

type prefixedTx struct {
	inner  Tx
	prefix string
}

func (t *prefixedTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return t.inner.Get(ctx, t.prefix+key)
}

func (t *prefixedTx) Put(ctx context.Context, key string, value []byte) error {
	return t.inner.Put(ctx, t.prefix+key, value)
}

func (t *prefixedTx) Delete(ctx context.Context, key string) error {
	return t.inner.Delete(ctx, t.prefix+key)
}

func (t *prefixedTx) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	entries, err := t.inner.Scan(ctx, t.prefix+prefix)
	if err != nil {
		return nil, err
	}
	for i := range entries {
		entries[i].Key = strings.TrimPrefix(entries[i].Key, t.prefix)
	}
	return entries, nil
}

func (t *prefixedTx) Commit(ctx context.Context) error   { return t.inner.Commit(ctx) }
func (t *prefixedTx) Rollback(ctx context.Context) error { return t.inner.Rollback(ctx) }
func (t *prefixedTx) Isolated() bool                     { return true }

// overlay buffers the writes of a transaction until commit. A nil value with
// deleted set marks a tombstone.
type overlay struct {
	changes map[string]change
}

type change struct {
	value   []byte
	deleted bool
}

func newOverlay() *overlay {
	return &overlay{changes: make(map[string]change)}
}

func (o *overlay) get(key string) (value []byte, deleted, found bool) {
	c, ok := o.changes[key]
	if !ok {
		return nil, false, false
	}
	return c.value, c.deleted, true
}

func (o *overlay) put(key string, value []byte) {
	o.changes[key] = change{value: cloneBytes(value)}
}

func (o *overlay) delete(key string) {
	o.changes[key] = change{deleted: true}
}

// merge applies buffered writes on top of committed entries under prefix.
func (o *overlay) merge(base []Entry, prefix string) []Entry {
	merged := make(map[string][]byte, len(base))
	for _, e := range base {
		merged[e.Key] = e.Value
	}
	for k, c := range o.changes {
		if !strings.HasPrefix(k, prefix) {
			continue
		}
		if c.deleted {
			delete(merged, k)
			continue
		}
		merged[k] = cloneBytes(c.value)
	}
	return sortedEntries(merged)
}

func sortedEntries(m map[string][]byte) []Entry {
	out := make([]Entry, 0, len(m))
	for k, v := range m {
		out = append(out, Entry{Key: k, Value: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}
