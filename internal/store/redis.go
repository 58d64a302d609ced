package store

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"
)

const (
	defaultRedisLockExpiry = 30 * time.Second
	defaultRedisLockTries  = 400
	defaultRedisRetryDelay = 25 * time.Millisecond
)

// RedisDB keeps all entries of a namespace in one Redis hash. A redsync mutex
// serializes transactions and buffered writes are applied in a MULTI/EXEC
// block on commit.
type RedisDB struct {
	client  *redis.Client
	rs      *redsync.Redsync
	hashKey string
	lockKey string
	expiry  time.Duration
}

// NewRedis constructs a Redis-backed database rooted at namespace.
func NewRedis(client *redis.Client, namespace string) (*RedisDB, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	namespace = strings.TrimSpace(namespace)
	if namespace == "" {
		return nil, fmt.Errorf("redis namespace is required")
	}
	return &RedisDB{
		client:  client,
		rs:      redsync.New(goredis.NewPool(client)),
		hashKey: namespace + ":kv",
		lockKey: namespace + ":lock",
		expiry:  defaultRedisLockExpiry,
	}, nil
}

// Begin blocks until the namespace lock is held.
func (r *RedisDB) Begin(ctx context.Context) (Tx, error) {
	mutex := r.rs.NewMutex(
		r.lockKey,
		redsync.WithExpiry(r.expiry),
		redsync.WithTries(defaultRedisLockTries),
		redsync.WithRetryDelay(defaultRedisRetryDelay),
	)
	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("acquire store lock %s: %w", r.lockKey, err)
	}
	return &redisTx{db: r, mutex: mutex, writes: newOverlay()}, nil
}

func (r *RedisDB) Isolated() bool { return false }

type redisTx struct {
	db     *RedisDB
	mutex  *redsync.Mutex
	writes *overlay
	done   bool
}

func (t *redisTx) Get(ctx context.Context, key string) ([]byte, bool, error) {
	if t.done {
		return nil, false, ErrTxDone
	}
	if v, deleted, found := t.writes.get(key); found {
		if deleted {
			return nil, false, nil
		}
		return cloneBytes(v), true, nil
	}
	v, err := t.db.client.HGet(ctx, t.db.hashKey, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return v, true, nil
}

func (t *redisTx) Put(_ context.Context, key string, value []byte) error {
	if t.done {
		return ErrTxDone
	}
	t.writes.put(key, value)
	return nil
}

func (t *redisTx) Delete(_ context.Context, key string) error {
	if t.done {
		return ErrTxDone
	}
	t.writes.delete(key)
	return nil
}

func (t *redisTx) Scan(ctx context.Context, prefix string) ([]Entry, error) {
	if t.done {
		return nil, ErrTxDone
	}
	all, err := t.db.client.HGetAll(ctx, t.db.hashKey).Result()
	if err != nil {
		return nil, err
	}
	var base []Entry
	for k, v := range all {
		if strings.HasPrefix(k, prefix) {
			base = append(base, Entry{Key: k, Value: []byte(v)})
		}
	}
	return t.writes.merge(base, prefix), nil
}

func (t *redisTx) Commit(ctx context.Context) error {
	if t.done {
		return ErrTxDone
	}
	var execErr error
	if len(t.writes.changes) > 0 {
		_, execErr = t.db.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			for k, c := range t.writes.changes {
				if c.deleted {
					pipe.HDel(ctx, t.db.hashKey, k)
					continue
				}
				pipe.HSet(ctx, t.db.hashKey, k, c.value)
			}
			return nil
		})
	}
	unlockErr := t.finish(ctx)
	if execErr != nil {
		return fmt.Errorf("commit redis transaction: %w", execErr)
	}
	return unlockErr
}

func (t *redisTx) Rollback(ctx context.Context) error {
	if t.done {
		return nil
	}
	return t.finish(ctx)
}

func (t *redisTx) Isolated() bool { return false }

func (t *redisTx) finish(ctx context.Context) error {
	t.done = true
	ok, err := t.mutex.UnlockContext(context.WithoutCancel(ctx))
	if err != nil {
		return fmt.Errorf("release store lock: %w", err)
	}
	if !ok {
		return fmt.Errorf("release store lock: lock %s expired", t.db.lockKey)
	}
	return nil
}
