// Package wallet is the money module: it owns one account, balances every
// transaction the client submits, and moves money between accounts.
package wallet

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/federation"
	"github.com/congo-pay/fedwallet/internal/ledger"
	"github.com/congo-pay/fedwallet/internal/statemachine"
	"github.com/congo-pay/fedwallet/internal/store"
	"github.com/congo-pay/fedwallet/internal/txn"
)

const (
	// DefaultReceiveTimeout bounds how long ReceiveMoney waits for the
	// federation to report an output.
	DefaultReceiveTimeout = 10 * time.Second

	accountKeyLabel = "wallet/account"
)

var (
	// ErrWrongAccount is returned when a received output pays someone else.
	ErrWrongAccount = errors.New("wrong account id")
	// ErrInvalidAmount is returned for zero amounts.
	ErrInvalidAmount = errors.New("amount must be positive")
	// ErrAmountBelowFee is returned when a print would not cover its own fee.
	ErrAmountBelowFee = errors.New("amount does not cover the transaction fee")
	// ErrNoIssuanceKey is returned when printing without a configured key.
	ErrNoIssuanceKey = errors.New("issuance key not configured")
)

// Config carries the module's secrets and tunables.
type Config struct {
	// RootSecret seeds the module's account key.
	RootSecret []byte
	// FederationKey signs inputs the federation accepts as newly issued money.
	FederationKey domain.Keypair
	// BrokenFederationKey signs inputs an honest federation must reject.
	BrokenFederationKey domain.Keypair
	// TxFee is charged per input and per output leg an operation contributes.
	TxFee          domain.Amount
	ReceiveTimeout time.Duration
}

// Module is one client's money module bound to an isolated database.
type Module struct {
	cfg     Config
	db      store.Database
	key     domain.Keypair
	funds   *ledger.Store
	fed     federation.API
	runtime *statemachine.Runtime
	txn     *txn.Context
	logger  *slog.Logger
}

// New builds a module. Call Init before use and Close when done.
func New(db store.Database, fed federation.API, cfg Config, logger *slog.Logger) (*Module, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(cfg.RootSecret) == 0 {
		return nil, fmt.Errorf("root secret is required")
	}
	if cfg.ReceiveTimeout <= 0 {
		cfg.ReceiveTimeout = DefaultReceiveTimeout
	}
	key, err := domain.DeriveKeypair(cfg.RootSecret, accountKeyLabel)
	if err != nil {
		return nil, err
	}

	logger = logger.With(slog.String("component", "wallet"))
	m := &Module{
		cfg:     cfg,
		db:      db,
		key:     key,
		funds:   ledger.NewStore(db),
		fed:     fed,
		runtime: statemachine.NewRuntime(db, fed, statemachine.NewNotifier(), logger),
		logger:  logger,
	}
	m.txn = txn.NewContext(db, fed, m.runtime, m, logger)
	return m, nil
}

// Migrations lists the module's schema upgrades by the version they start at.
func Migrations() map[uint64]store.Migration {
	return map[uint64]store.Migration{
		0: ledger.MigrateToV1,
		1: statemachine.MigrateStatesV1,
	}
}

// Init brings the database schema up to date and resumes pending legs.
func (m *Module) Init(ctx context.Context) error {
	if _, err := store.Migrate(ctx, m.db, Migrations(), m.logger); err != nil {
		return fmt.Errorf("migrate wallet database: %w", err)
	}
	if _, err := m.runtime.Resume(ctx); err != nil {
		return fmt.Errorf("resume pending legs: %w", err)
	}
	return nil
}

// Close stops awaiting outcomes. Pending legs resume on the next Init.
func (m *Module) Close() {
	m.runtime.Close()
}

// Account is the public key other clients pay to.
func (m *Module) Account() domain.PublicKey { return m.key.PublicKey() }

func (m *Module) InputFee() domain.Amount  { return m.cfg.TxFee }
func (m *Module) OutputFee() domain.Amount { return m.cfg.TxFee }

// Balance returns the locally settled balance.
func (m *Module) Balance(ctx context.Context) (domain.Amount, error) {
	return m.funds.Balance(ctx)
}

func (m *Module) SetName(ctx context.Context, name string) error {
	return m.funds.SetName(ctx, name)
}

func (m *Module) Name(ctx context.Context) (string, bool, error) {
	return m.funds.Name(ctx)
}

// Dump returns a diagnostics snapshot of the selected tables.
func (m *Module) Dump(ctx context.Context, tables []string) ([]ledger.DumpItem, error) {
	return m.funds.Dump(ctx, tables)
}

// SubscribeBalanceChanges emits a signal whenever a leg state that may change
// the balance is published. Signals carry no data and coalesce while the
// reader is busy. The channel closes when ctx is done.
func (m *Module) SubscribeBalanceChanges(ctx context.Context) <-chan struct{} {
	sub := m.runtime.Notifier().SubscribeAll()
	signals := make(chan struct{}, 1)
	go func() {
		defer close(signals)
		defer sub.Close()
		for {
			state, err := sub.Next(ctx)
			if err != nil {
				return
			}
			if !statemachine.BalanceChanged(state) {
				continue
			}
			select {
			case signals <- struct{}{}:
			default:
			}
		}
	}()
	return signals
}
