package statemachine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/federation"
	"github.com/congo-pay/fedwallet/internal/ledger"
	"github.com/congo-pay/fedwallet/internal/store"
)

const (
	retryBaseDelay = 100 * time.Millisecond
	retryMaxDelay  = 10 * time.Second
)

// OutcomeSource reports the federation's decision on a transaction.
type OutcomeSource interface {
	AwaitTransaction(ctx context.Context, txid domain.TxID) (federation.TxOutcome, error)
}

// Runtime owns the persisted leg states of one module and the goroutines
// waiting for their outcomes.
type Runtime struct {
	db       store.Database
	source   OutcomeSource
	notifier *Notifier
	logger   *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu       sync.Mutex
	watching map[domain.TxID]struct{}
}

// NewRuntime binds a runtime to the module's database.
func NewRuntime(db store.Database, source OutcomeSource, notifier *Notifier, logger *slog.Logger) *Runtime {
	if logger == nil {
		logger = slog.Default()
	}
	if notifier == nil {
		notifier = NewNotifier()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Runtime{
		db:       db,
		source:   source,
		notifier: notifier,
		logger:   logger.With(slog.String("component", "state_machine")),
		ctx:      ctx,
		cancel:   cancel,
		watching: make(map[domain.TxID]struct{}),
	}
}

// Notifier returns the broadcaster states are published on.
func (r *Runtime) Notifier() *Notifier { return r.notifier }

// Persist records states as active within tx. They take effect once tx
// commits and Launch is called.
func (r *Runtime) Persist(ctx context.Context, tx store.Tx, states []LegState) error {
	for _, state := range states {
		if state.Kind.Terminal() {
			return fmt.Errorf("persist %s leg: state is terminal", state.Kind)
		}
		raw, err := encodeState(state)
		if err != nil {
			return err
		}
		if err := tx.Put(ctx, activeKey(state), raw); err != nil {
			return fmt.Errorf("persist %s leg: %w", state.Kind, err)
		}
	}
	return nil
}

// Launch publishes committed initial states and starts awaiting the outcome
// of their transactions.
func (r *Runtime) Launch(states []LegState) {
	for _, state := range states {
		r.notifier.Publish(state)
	}
	for _, state := range states {
		r.watch(state.TxID)
	}
}

// Fail publishes committed initial states whose transaction never reached
// the federation and settles them as rejected.
func (r *Runtime) Fail(ctx context.Context, states []LegState, reason string) error {
	for _, state := range states {
		r.notifier.Publish(state)
	}
	seen := make(map[domain.TxID]struct{})
	for _, state := range states {
		if _, ok := seen[state.TxID]; ok {
			continue
		}
		seen[state.TxID] = struct{}{}
		if err := r.Deliver(ctx, federation.TxOutcome{TxID: state.TxID, Reason: reason}); err != nil {
			return err
		}
	}
	return nil
}

// Deliver applies an outcome to every active leg of its transaction. The
// active record is removed in the same store transaction as the balance
// effect, so delivering the same outcome again changes nothing.
func (r *Runtime) Deliver(ctx context.Context, outcome federation.TxOutcome) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx) // nolint:errcheck

	entries, err := tx.Scan(ctx, activeTxPrefix(outcome.TxID))
	if err != nil {
		return err
	}

	var published []LegState
	for _, entry := range entries {
		state, err := decodeState(entry.Value)
		if err != nil {
			return fmt.Errorf("%s: %w", entry.Key, err)
		}
		tr, ok := Next(state, outcome)
		if !ok {
			continue
		}
		if err := tx.Delete(ctx, entry.Key); err != nil {
			return err
		}
		if tr.Deposit > 0 {
			if _, err := ledger.Deposit(ctx, tx, tr.Deposit); err != nil {
				return fmt.Errorf("apply %s leg of %s: %w", state.Kind, outcome.TxID, err)
			}
		}
		if !tr.Retired {
			published = append(published, tr.To)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return err
	}

	for _, state := range published {
		r.notifier.Publish(state)
	}
	if len(entries) > 0 {
		r.logger.Info("transaction_outcome_applied",
			slog.String("txid", outcome.TxID.String()),
			slog.Bool("accepted", outcome.Accepted),
			slog.Int("legs", len(entries)),
		)
	}
	return nil
}

// Resume relaunches every leg that was active when the process stopped and
// returns how many there were.
func (r *Runtime) Resume(ctx context.Context) (int, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return 0, err
	}
	entries, err := tx.Scan(ctx, activePrefix)
	_ = tx.Rollback(ctx)
	if err != nil {
		return 0, err
	}

	states := make([]LegState, 0, len(entries))
	for _, entry := range entries {
		state, err := decodeState(entry.Value)
		if err != nil {
			return 0, fmt.Errorf("%s: %w", entry.Key, err)
		}
		states = append(states, state)
	}
	r.Launch(states)
	if len(states) > 0 {
		r.logger.Info("state_machines_resumed", slog.Int("legs", len(states)))
	}
	return len(states), nil
}

// Close stops all watchers and waits for them to return.
func (r *Runtime) Close() {
	r.cancel()
	r.wg.Wait()
}

func (r *Runtime) watch(txid domain.TxID) {
	r.mu.Lock()
	if _, ok := r.watching[txid]; ok || r.ctx.Err() != nil {
		r.mu.Unlock()
		return
	}
	r.watching[txid] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	go func() {
		defer r.wg.Done()
		defer func() {
			r.mu.Lock()
			delete(r.watching, txid)
			r.mu.Unlock()
		}()

		delay := retryBaseDelay
		for {
			err := r.awaitAndDeliver(txid)
			if err == nil || r.ctx.Err() != nil {
				return
			}
			r.logger.Warn("transaction_outcome_retry",
				slog.String("txid", txid.String()),
				slog.String("error", err.Error()),
				slog.Duration("backoff", delay),
			)
			timer := time.NewTimer(delay)
			select {
			case <-timer.C:
			case <-r.ctx.Done():
				timer.Stop()
				return
			}
			delay = min(delay*2, retryMaxDelay)
		}
	}()
}

func (r *Runtime) awaitAndDeliver(txid domain.TxID) error {
	outcome, err := r.source.AwaitTransaction(r.ctx, txid)
	if err != nil {
		return err
	}
	if outcome.TxID != txid {
		return errors.New("outcome for a different transaction")
	}
	return r.Deliver(r.ctx, outcome)
}
