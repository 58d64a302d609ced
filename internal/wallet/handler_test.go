package wallet

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fedwallet/internal/federation"
	"github.com/congo-pay/fedwallet/internal/logging"
	"github.com/congo-pay/fedwallet/internal/store"
)

func newTestApp(t *testing.T, m *Module) *fiber.App {
	t.Helper()
	h := NewHandler(m)
	app := fiber.New()
	app.Get("/wallet/account", h.Account)
	app.Get("/wallet/balance", h.Balance)
	app.Post("/wallet/print", h.Print)
	app.Post("/wallet/print-liability", h.PrintLiability)
	app.Post("/wallet/send", h.Send)
	app.Post("/wallet/receive", h.Receive)
	app.Put("/wallet/name", h.SetName)
	app.Get("/wallet/dump", h.Dump)
	return app
}

func doJSON(t *testing.T, app *fiber.App, method, path, body string) (int, map[string]any) {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	resp, err := app.Test(req, 5000)
	if err != nil {
		t.Fatalf("app.Test: %v", err)
	}
	defer resp.Body.Close()

	var payload map[string]any
	_ = json.NewDecoder(resp.Body).Decode(&payload)
	return resp.StatusCode, payload
}

func TestHandlerPrintAndSend(t *testing.T) {
	h := newHarness(t)
	alice := h.newModule(t, "alice")
	bob := h.newModule(t, "bob")
	aliceApp := newTestApp(t, alice)
	bobApp := newTestApp(t, bob)

	status, body := doJSON(t, aliceApp, fiber.MethodPost, "/wallet/print", `{"amount":100}`)
	if status != fiber.StatusCreated {
		t.Fatalf("print: expected 201 got %d (%v)", status, body)
	}
	if body["operation_id"] == "" || body["outpoint"] == "" {
		t.Fatalf("print response missing fields: %v", body)
	}

	status, body = doJSON(t, bobApp, fiber.MethodGet, "/wallet/account", "")
	if status != fiber.StatusOK {
		t.Fatalf("account: expected 200 got %d", status)
	}
	bobAccount, _ := body["account"].(string)

	status, body = doJSON(t, aliceApp, fiber.MethodPost, "/wallet/send", `{"account":"`+bobAccount+`","amount":70}`)
	if status != fiber.StatusCreated {
		t.Fatalf("send: expected 201 got %d (%v)", status, body)
	}
	outpoint, _ := body["outpoint"].(string)

	status, body = doJSON(t, bobApp, fiber.MethodPost, "/wallet/receive", `{"outpoint":"`+outpoint+`"}`)
	if status != fiber.StatusOK {
		t.Fatalf("receive: expected 200 got %d (%v)", status, body)
	}
	if body["balance"] != float64(70) {
		t.Fatalf("expected balance 70, got %v", body["balance"])
	}

	status, body = doJSON(t, aliceApp, fiber.MethodGet, "/wallet/balance", "")
	if status != fiber.StatusOK || body["balance"] != float64(30) {
		t.Fatalf("expected alice balance 30, got %d %v", status, body)
	}
}

func TestHandlerMapsErrors(t *testing.T) {
	h := newHarness(t)
	alice := h.newModule(t, "alice")
	bob := h.newModule(t, "bob")
	app := newTestApp(t, alice)

	cases := []struct {
		name   string
		method string
		path   string
		body   string
		want   int
	}{
		{"zero amount", fiber.MethodPost, "/wallet/print", `{"amount":0}`, fiber.StatusBadRequest},
		{"bad account", fiber.MethodPost, "/wallet/send", `{"account":"nope","amount":1}`, fiber.StatusBadRequest},
		{"insufficient funds", fiber.MethodPost, "/wallet/send", `{"account":"` + bob.Account().String() + `","amount":5}`, fiber.StatusUnprocessableEntity},
		{"liability", fiber.MethodPost, "/wallet/print-liability", `{"amount":5}`, fiber.StatusBadGateway},
		{"bad outpoint", fiber.MethodPost, "/wallet/receive", `{"outpoint":"xyz"}`, fiber.StatusBadRequest},
		{"empty name", fiber.MethodPut, "/wallet/name", `{"name":" "}`, fiber.StatusBadRequest},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, body := doJSON(t, app, tc.method, tc.path, tc.body)
			if status != tc.want {
				t.Fatalf("expected %d got %d (%v)", tc.want, status, body)
			}
		})
	}
}

func TestHandlerNameAndDump(t *testing.T) {
	h := newHarness(t)
	app := newTestApp(t, h.newModule(t, "alice"))

	status, _ := doJSON(t, app, fiber.MethodPut, "/wallet/name", `{"name":"Alice"}`)
	if status != fiber.StatusNoContent {
		t.Fatalf("set name: expected 204 got %d", status)
	}

	status, body := doJSON(t, app, fiber.MethodGet, "/wallet/dump?tables=ClientName", "")
	if status != fiber.StatusOK {
		t.Fatalf("dump: expected 200 got %d", status)
	}
	items, _ := body["items"].([]any)
	if len(items) != 1 {
		t.Fatalf("expected one dump item, got %v", body)
	}
}

func TestHandlerBoundsUndecidedPrint(t *testing.T) {
	h := newHarness(t)
	stalled := federation.NewSimulator(federation.SimulatorConfig{
		IssuanceKey: h.issuer.PublicKey(),
		Delay:       time.Hour,
	}, logging.Discard())
	t.Cleanup(stalled.Close)

	m, err := New(store.WithPrefix(store.NewMemory(), "wallet/"), stalled, h.config("alice"), logging.Discard())
	if err != nil {
		t.Fatalf("new module: %v", err)
	}
	t.Cleanup(m.Close)
	if err := m.Init(context.Background()); err != nil {
		t.Fatalf("init module: %v", err)
	}

	handler := NewHandler(m)
	if handler.timeout <= m.cfg.ReceiveTimeout {
		t.Fatalf("request timeout %s must exceed the receive timeout %s", handler.timeout, m.cfg.ReceiveTimeout)
	}
	handler.timeout = 50 * time.Millisecond

	app := fiber.New()
	app.Post("/wallet/print", handler.Print)
	status, _ := doJSON(t, app, fiber.MethodPost, "/wallet/print", `{"amount":100}`)
	if status != fiber.StatusGatewayTimeout {
		t.Fatalf("expected 504 for an undecided print, got %d", status)
	}
}
