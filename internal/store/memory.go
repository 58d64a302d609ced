package store

import (
	"context"
	"strings"
)

type memoryDB struct {
	// sem has capacity one; holding it is holding the only open transaction.
	sem  chan struct{}
	data map[string][]byte
}

// NewMemory creates a concurrency-safe in-memory database useful for unit
// tests and local development.
func NewMemory() Database {
	return &memoryDB{
		sem:  make(chan struct{}, 1),
		data: make(map[string][]byte),
	}
}

func (m *memoryDB) Begin(ctx context.Context) (Tx, error) {
	select {
	case m.sem <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}
	return &memoryTx{db: m, writes: newOverlay()}, nil
}

func (m *memoryDB) Isolated() bool { return false }

type memoryTx struct {
	db     *memoryDB
	writes *overlay
	done   bool
}

func (t *memoryTx) Get(_ context.Context, key string) ([]byte, bool, error) {
	if t.done {
		return nil, false, ErrTxDone
	}
	if v, deleted, found := t.writes.get(key); found {
		if deleted {
			return nil, false, nil
		}
		return cloneBytes(v), true, nil
	}
	v, ok := t.db.data[key]
	if !ok {
		return nil, false, nil
	}
	return cloneBytes(v), true, nil
}

func (t *memoryTx) Put(_ context.Context, key string, value []byte) error {
	if t.done {
		return ErrTxDone
	}
	t.writes.put(key, value)
	return nil
}

func (t *memoryTx) Delete(_ context.Context, key string) error {
	if t.done {
		return ErrTxDone
	}
	t.writes.delete(key)
	return nil
}

func (t *memoryTx) Scan(_ context.Context, prefix string) ([]Entry, error) {
	if t.done {
		return nil, ErrTxDone
	}
	var base []Entry
	for k, v := range t.db.data {
		if strings.HasPrefix(k, prefix) {
			base = append(base, Entry{Key: k, Value: cloneBytes(v)})
		}
	}
	return t.writes.merge(base, prefix), nil
}

func (t *memoryTx) Commit(_ context.Context) error {
	if t.done {
		return ErrTxDone
	}
	for k, c := range t.writes.changes {
		if c.deleted {
			delete(t.db.data, k)
			continue
		}
		t.db.data[k] = c.value
	}
	t.finish()
	return nil
}

func (t *memoryTx) Rollback(_ context.Context) error {
	if t.done {
		return nil
	}
	t.finish()
	return nil
}

func (t *memoryTx) Isolated() bool { return false }

func (t *memoryTx) finish() {
	t.done = true
	<-t.db.sem
}
