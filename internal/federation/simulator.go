package federation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/store"
)

// SimulatorConfig tunes the in-process federation.
type SimulatorConfig struct {
	// IssuanceKey is the federation's own account. Inputs from it are not
	// backed by a balance, which is how money gets printed.
	IssuanceKey domain.PublicKey
	// Delay postpones every decision, simulating consensus latency.
	Delay time.Duration
	// State, when set, journals balances and transactions so a restarted
	// simulator can Restore them. Without it the federation forgets
	// everything on exit.
	State store.Database
}

// Simulator is an honest single-process federation. It validates signatures
// and balances, settles accepted transactions and reports outcomes. It is used
// in development mode and tests; it does not implement consensus.
type Simulator struct {
	cfg    SimulatorConfig
	logger *slog.Logger

	mu       sync.Mutex
	balances map[domain.PublicKey]domain.Amount
	txs      map[domain.TxID]*txRecord

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

type txRecord struct {
	submitted bool
	decided   chan struct{}
	outcome   TxOutcome
	outputs   []domain.OutputOutcome
}

// NewSimulator starts an empty federation.
func NewSimulator(cfg SimulatorConfig, logger *slog.Logger) *Simulator {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Simulator{
		cfg:      cfg,
		logger:   logger.With(slog.String("component", "federation_simulator")),
		balances: make(map[domain.PublicKey]domain.Amount),
		txs:      make(map[domain.TxID]*txRecord),
		ctx:      ctx,
		cancel:   cancel,
	}
}

// SubmitTransaction queues tx for a decision. Resubmitting a known
// transaction is a no-op.
func (s *Simulator) SubmitTransaction(ctx context.Context, tx domain.Transaction) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if s.ctx.Err() != nil {
		return errors.New("federation simulator stopped")
	}
	txid := tx.ID()

	s.mu.Lock()
	rec := s.recordLocked(txid)
	if rec.submitted {
		s.mu.Unlock()
		return nil
	}
	if err := s.journalSubmitted(ctx, txid, tx); err != nil {
		s.mu.Unlock()
		return fmt.Errorf("journal transaction %s: %w", txid, err)
	}
	rec.submitted = true
	s.mu.Unlock()

	s.logger.Debug("federation_tx_submitted", slog.String("txid", txid.String()))
	s.launch(txid, tx)
	return nil
}

func (s *Simulator) launch(txid domain.TxID, tx domain.Transaction) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if s.cfg.Delay > 0 {
			timer := time.NewTimer(s.cfg.Delay)
			defer timer.Stop()
			select {
			case <-timer.C:
			case <-s.ctx.Done():
				return
			}
		}
		s.decide(txid, tx)
	}()
}

// AwaitTransaction waits for the decision on txid, which may not have been
// submitted yet.
func (s *Simulator) AwaitTransaction(ctx context.Context, txid domain.TxID) (TxOutcome, error) {
	s.mu.Lock()
	rec := s.recordLocked(txid)
	s.mu.Unlock()

	select {
	case <-rec.decided:
		return rec.outcome, nil
	case <-ctx.Done():
		return TxOutcome{}, ctx.Err()
	}
}

// AwaitOutputOutcome waits at most timeout for the owning transaction to be
// decided.
func (s *Simulator) AwaitOutputOutcome(ctx context.Context, outpoint domain.OutPoint, timeout time.Duration) (domain.OutputOutcome, error) {
	waitCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	outcome, err := s.AwaitTransaction(waitCtx, outpoint.TxID)
	if err != nil {
		if ctx.Err() == nil && errors.Is(err, context.DeadlineExceeded) {
			return domain.OutputOutcome{}, fmt.Errorf("await outpoint %s: %w", outpoint, ErrTimeout)
		}
		return domain.OutputOutcome{}, err
	}
	if err := outcome.Err(); err != nil {
		return domain.OutputOutcome{}, err
	}

	s.mu.Lock()
	outputs := s.txs[outpoint.TxID].outputs
	s.mu.Unlock()
	if outpoint.OutIdx >= uint64(len(outputs)) {
		return domain.OutputOutcome{}, fmt.Errorf("outpoint %s: %w", outpoint, ErrNoSuchOutput)
	}
	return outputs[outpoint.OutIdx], nil
}

// Balance reports the federation's view of an account.
func (s *Simulator) Balance(account domain.PublicKey) domain.Amount {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.balances[account]
}

// Close stops pending decisions and waits for in-flight ones.
func (s *Simulator) Close() {
	s.cancel()
	s.wg.Wait()
}

func (s *Simulator) recordLocked(txid domain.TxID) *txRecord {
	rec, ok := s.txs[txid]
	if !ok {
		rec = &txRecord{decided: make(chan struct{})}
		s.txs[txid] = rec
	}
	return rec
}

func (s *Simulator) decide(txid domain.TxID, tx domain.Transaction) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec := s.txs[txid]
	if isClosed(rec.decided) {
		return
	}
	outcome := TxOutcome{TxID: txid, Accepted: true}
	outputs, balances, err := s.applyLocked(&tx)
	if err != nil {
		outcome = TxOutcome{TxID: txid, Accepted: false, Reason: err.Error()}
		outputs, balances = nil, nil
	}
	// An unjournaled decision stays pending and is retried by Restore.
	if err := s.journalDecided(context.Background(), txid, tx, outcome, outputs, balances); err != nil {
		s.logger.Error("federation_journal_failed", slog.String("txid", txid.String()), slog.Any("error", err))
		return
	}

	for account, amount := range balances {
		s.balances[account] = amount
	}
	rec.outcome = outcome
	rec.outputs = outputs
	close(rec.decided)

	if outcome.Accepted {
		s.logger.Info("federation_tx_accepted", slog.String("txid", txid.String()), slog.Int("outputs", len(outputs)))
	} else {
		s.logger.Info("federation_tx_rejected", slog.String("txid", txid.String()), slog.String("reason", outcome.Reason))
	}
}

// applyLocked validates tx against current balances and returns the outputs'
// outcomes and the balances of every touched account. It does not mutate
// the simulator.
func (s *Simulator) applyLocked(tx *domain.Transaction) ([]domain.OutputOutcome, map[domain.PublicKey]domain.Amount, error) {
	if err := tx.VerifySignatures(); err != nil {
		return nil, nil, err
	}
	in, err := tx.InputTotal()
	if err != nil {
		return nil, nil, err
	}
	out, err := tx.OutputTotal()
	if err != nil {
		return nil, nil, err
	}
	if in < out {
		return nil, nil, fmt.Errorf("inputs %s do not cover outputs %s", in, out)
	}

	spend := make(map[domain.PublicKey]domain.Amount)
	for _, input := range tx.Inputs {
		if input.Account == s.cfg.IssuanceKey {
			continue
		}
		total, ok := spend[input.Account].Add(input.Amount)
		if !ok {
			return nil, nil, domain.ErrAmountOverflow
		}
		spend[input.Account] = total
	}

	updated := make(map[domain.PublicKey]domain.Amount)
	current := func(account domain.PublicKey) domain.Amount {
		if amount, ok := updated[account]; ok {
			return amount
		}
		return s.balances[account]
	}
	for account, amount := range spend {
		left, ok := current(account).Sub(amount)
		if !ok {
			return nil, nil, fmt.Errorf("account %s has insufficient funds", account)
		}
		updated[account] = left
	}
	outcomes := make([]domain.OutputOutcome, len(tx.Outputs))
	for i, output := range tx.Outputs {
		next, ok := current(output.Account).Add(output.Amount)
		if !ok {
			return nil, nil, domain.ErrAmountOverflow
		}
		updated[output.Account] = next
		outcomes[i] = domain.OutputOutcome{NewBalance: next, Account: output.Account}
	}
	return outcomes, updated, nil
}

func isClosed(ch chan struct{}) bool {
	select {
	case <-ch:
		return true
	default:
		return false
	}
}
