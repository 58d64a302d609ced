package store

import (
	"context"
	"encoding/binary"
	"sync"
	"testing"
)

// exerciseDatabase runs the behaviours every backend must share.
func exerciseDatabase(t *testing.T, db Database) {
	t.Helper()
	ctx := context.Background()

	t.Run("commit makes writes visible", func(t *testing.T) {
		tx, err := db.Begin(ctx)
		if err != nil {
			t.Fatalf("begin: %v", err)
		}
		if err := tx.Put(ctx, "a/1", []byte("one")); err != nil {
			t.Fatalf("put: %v", err)
		}
		got, ok, err := tx.Get(ctx, "a/1")
		if err != nil || !ok || string(got) != "one" {
			t.Fatalf("expected read-your-writes, got %q ok=%v err=%v", got, ok, err)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}
		if err := tx.Rollback(ctx); err != nil {
			t.Fatalf("rollback after commit should be a no-op: %v", err)
		}

		tx2, _ := db.Begin(ctx)
		defer tx2.Rollback(ctx) // nolint:errcheck
		got, ok, err = tx2.Get(ctx, "a/1")
		if err != nil || !ok || string(got) != "one" {
			t.Fatalf("expected committed value, got %q ok=%v err=%v", got, ok, err)
		}
	})

	t.Run("rollback discards writes", func(t *testing.T) {
		tx, _ := db.Begin(ctx)
		_ = tx.Put(ctx, "a/2", []byte("two"))
		if err := tx.Rollback(ctx); err != nil {
			t.Fatalf("rollback: %v", err)
		}
		tx2, _ := db.Begin(ctx)
		defer tx2.Rollback(ctx) // nolint:errcheck
		if _, ok, _ := tx2.Get(ctx, "a/2"); ok {
			t.Fatal("rolled back write must not be visible")
		}
	})

	t.Run("scan merges pending writes in key order", func(t *testing.T) {
		tx, _ := db.Begin(ctx)
		_ = tx.Put(ctx, "scan/b", []byte("b"))
		_ = tx.Put(ctx, "scan/a", []byte("a"))
		_ = tx.Put(ctx, "other/x", []byte("x"))
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}

		tx2, _ := db.Begin(ctx)
		defer tx2.Rollback(ctx) // nolint:errcheck
		_ = tx2.Delete(ctx, "scan/a")
		_ = tx2.Put(ctx, "scan/c", []byte("c"))
		entries, err := tx2.Scan(ctx, "scan/")
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if len(entries) != 2 || entries[0].Key != "scan/b" || entries[1].Key != "scan/c" {
			t.Fatalf("unexpected scan result: %+v", entries)
		}
	})

	t.Run("prefixed view is isolated", func(t *testing.T) {
		if db.Isolated() {
			t.Fatal("root database must not report isolation")
		}
		view := WithPrefix(db, "wallet/")
		if err := EnsureIsolated(view); err != nil {
			t.Fatalf("prefixed view should be isolated: %v", err)
		}
		tx, _ := view.Begin(ctx)
		_ = tx.Put(ctx, "k", []byte("v"))
		entries, err := tx.Scan(ctx, "")
		if err != nil {
			t.Fatalf("scan: %v", err)
		}
		if len(entries) != 1 || entries[0].Key != "k" {
			t.Fatalf("expected prefix stripped from keys, got %+v", entries)
		}
		if err := tx.Commit(ctx); err != nil {
			t.Fatalf("commit: %v", err)
		}

		root, _ := db.Begin(ctx)
		defer root.Rollback(ctx) // nolint:errcheck
		if _, ok, _ := root.Get(ctx, "wallet/k"); !ok {
			t.Fatal("expected namespaced key in root database")
		}
	})

	t.Run("concurrent read-modify-write does not lose updates", func(t *testing.T) {
		const workers = 10
		var wg sync.WaitGroup
		for i := 0; i < workers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				tx, err := db.Begin(ctx)
				if err != nil {
					t.Errorf("begin: %v", err)
					return
				}
				defer tx.Rollback(ctx) // nolint:errcheck
				raw, _, err := tx.Get(ctx, "counter")
				if err != nil {
					t.Errorf("get: %v", err)
					return
				}
				var n uint64
				if len(raw) == 8 {
					n = binary.BigEndian.Uint64(raw)
				}
				buf := make([]byte, 8)
				binary.BigEndian.PutUint64(buf, n+1)
				if err := tx.Put(ctx, "counter", buf); err != nil {
					t.Errorf("put: %v", err)
					return
				}
				if err := tx.Commit(ctx); err != nil {
					t.Errorf("commit: %v", err)
				}
			}()
		}
		wg.Wait()

		tx, _ := db.Begin(ctx)
		defer tx.Rollback(ctx) // nolint:errcheck
		raw, _, _ := tx.Get(ctx, "counter")
		if got := binary.BigEndian.Uint64(raw); got != workers {
			t.Fatalf("expected counter %d, got %d", workers, got)
		}
	})
}
