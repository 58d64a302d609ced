package wallet

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fedwallet/internal/domain"
	"github.com/congo-pay/fedwallet/internal/federation"
	"github.com/congo-pay/fedwallet/internal/ledger"
	"github.com/congo-pay/fedwallet/internal/statemachine"
)

// requestGrace is added to the receive timeout to bound a whole request. It
// stays below the server's write timeout.
const requestGrace = 15 * time.Second

// Handler exposes wallet HTTP endpoints.
type Handler struct {
	module  *Module
	timeout time.Duration
}

// NewHandler builds a wallet HTTP handler.
func NewHandler(module *Module) *Handler {
	return &Handler{module: module, timeout: module.cfg.ReceiveTimeout + requestGrace}
}

// requestContext bounds the request so a transaction the federation never
// decides cannot hold the handler.
func (h *Handler) requestContext(c *fiber.Ctx) (context.Context, context.CancelFunc) {
	return context.WithTimeout(c.UserContext(), h.timeout)
}

// Account returns the public key payments should be sent to.
func (h *Handler) Account(c *fiber.Ctx) error {
	return c.Status(http.StatusOK).JSON(fiber.Map{"account": h.module.Account().String()})
}

// Balance returns the locally settled balance.
func (h *Handler) Balance(c *fiber.Ctx) error {
	ctx, cancel := h.requestContext(c)
	defer cancel()
	amount, err := h.module.Balance(ctx)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(balanceResponse{
		Account: h.module.Account().String(),
		Balance: uint64(amount),
	})
}

func (h *Handler) Print(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()
	op, outpoint, err := h.module.PrintMoney(ctx, domain.Amount(req.Amount))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(printResponse{OperationID: op.String(), OutPoint: outpoint.String()})
}

// PrintLiability attempts to print with the key the federation rejects.
func (h *Handler) PrintLiability(c *fiber.Ctx) error {
	var req amountRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()
	op, outpoint, err := h.module.PrintLiability(ctx, domain.Amount(req.Amount))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(printResponse{OperationID: op.String(), OutPoint: outpoint.String()})
}

func (h *Handler) Send(c *fiber.Ctx) error {
	var req sendRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	account, err := domain.ParsePublicKey(req.Account)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()
	outpoint, err := h.module.SendMoney(ctx, account, domain.Amount(req.Amount))
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusCreated).JSON(fiber.Map{"outpoint": outpoint.String()})
}

func (h *Handler) Receive(c *fiber.Ctx) error {
	var req receiveRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	outpoint, err := domain.ParseOutPoint(req.OutPoint)
	if err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()
	balance, err := h.module.ReceiveMoney(ctx, outpoint)
	if err != nil {
		return toHTTPError(err)
	}
	return c.Status(http.StatusOK).JSON(balanceResponse{
		Account: h.module.Account().String(),
		Balance: uint64(balance),
	})
}

func (h *Handler) SetName(c *fiber.Ctx) error {
	var req nameRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(http.StatusBadRequest, err.Error())
	}
	if strings.TrimSpace(req.Name) == "" {
		return fiber.NewError(http.StatusBadRequest, "name is required")
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()
	if err := h.module.SetName(ctx, req.Name); err != nil {
		return toHTTPError(err)
	}
	return c.SendStatus(http.StatusNoContent)
}

// Dump returns a diagnostics snapshot, optionally limited by ?tables=a,b.
func (h *Handler) Dump(c *fiber.Ctx) error {
	var tables []string
	if raw := c.Query("tables"); raw != "" {
		for _, t := range strings.Split(raw, ",") {
			if t = strings.TrimSpace(t); t != "" {
				tables = append(tables, t)
			}
		}
	}
	ctx, cancel := h.requestContext(c)
	defer cancel()
	items, err := h.module.Dump(ctx, tables)
	if err != nil {
		return toHTTPError(err)
	}
	if items == nil {
		items = []ledger.DumpItem{}
	}
	return c.Status(http.StatusOK).JSON(dumpResponse{Items: items})
}

func toHTTPError(err error) error {
	switch {
	case errors.Is(err, ErrInvalidAmount), errors.Is(err, ErrAmountBelowFee):
		return fiber.NewError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ledger.ErrInsufficientFunds):
		return fiber.NewError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrWrongAccount):
		return fiber.NewError(http.StatusConflict, err.Error())
	case errors.Is(err, federation.ErrRejected), errors.Is(err, statemachine.ErrRefunded):
		return fiber.NewError(http.StatusBadGateway, err.Error())
	case errors.Is(err, federation.ErrTimeout), errors.Is(err, context.DeadlineExceeded):
		return fiber.NewError(http.StatusGatewayTimeout, err.Error())
	default:
		return fiber.NewError(http.StatusInternalServerError, err.Error())
	}
}
