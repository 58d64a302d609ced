package routes

import (
	"github.com/gofiber/fiber/v2"

	"github.com/congo-pay/fedwallet/internal/wallet"
)

// RegisterWalletRoutes wires wallet-related endpoints.
func RegisterWalletRoutes(r fiber.Router, h *wallet.Handler) {
	w := r.Group("/wallet")
	w.Get("/account", h.Account)
	w.Get("/balance", h.Balance)
	w.Post("/print", h.Print)
	w.Post("/print-liability", h.PrintLiability)
	w.Post("/send", h.Send)
	w.Post("/receive", h.Receive)
	w.Put("/name", h.SetName)
	w.Get("/dump", h.Dump)
}
