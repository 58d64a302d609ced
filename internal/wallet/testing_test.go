package wallet

import (
	"context"
	"testing"
	"time"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/federation"
	"github.com/congo-pay/fedwallet/internal/logging"
	"github.com/congo-pay/fedwallet/internal/store"
)

type harness struct {
	sim    *federation.Simulator
	issuer domain.Keypair
	broken domain.Keypair
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	issuer, err := domain.DeriveKeypair([]byte("wallet-test-federation"), "issuer")
	if err != nil {
		t.Fatalf("derive issuer: %v", err)
	}
	broken, err := domain.DeriveKeypair([]byte("wallet-test-federation"), "broken")
	if err != nil {
		t.Fatalf("derive broken key: %v", err)
	}
	sim := federation.NewSimulator(federation.SimulatorConfig{IssuanceKey: issuer.PublicKey()}, logging.Discard())
	t.Cleanup(sim.Close)
	return &harness{sim: sim, issuer: issuer, broken: broken}
}

func (h *harness) config(secret string) Config {
	return Config{
		RootSecret:          []byte(secret),
		FederationKey:       h.issuer,
		BrokenFederationKey: h.broken,
		ReceiveTimeout:      time.Second,
	}
}

func (h *harness) newModule(t *testing.T, secret string) *Module {
	t.Helper()
	return h.newModuleWith(t, store.WithPrefix(store.NewMemory(), "wallet/"), h.config(secret))
}

func (h *harness) newModuleWith(t *testing.T, db store.Database, cfg Config) *Module {
	t.Helper()
	m, err := New(db, h.sim, cfg, logging.Discard())
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init module: %v", err)
	}
	t.Cleanup(m.Close)
	return m
}

func mustBalance(t *testing.T, m *Module) domain.Amount {
	t.Helper()
	got, err := m.Balance(context.Background())
	if err != nil {
		t.Fatalf("balance: %v", err)
	}
	return got
}

// waitForBalance polls until the module's balance equals want.
func waitForBalance(t *testing.T, m *Module, want domain.Amount) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		got := mustBalance(t, m)
		if got == want {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("expected balance %d, still %d", want, got)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
